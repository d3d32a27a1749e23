package scanerr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindFormat
	KindNetwork
	KindBlocked
	KindInvalidRequest
	KindServiceUnavailable
	KindMalformedResponse
	KindPdfProcessing
	KindValidation
	KindNotFound
	KindConflict
	KindBusy
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindFormat:
		return "format"
	case KindNetwork:
		return "network"
	case KindBlocked:
		return "blocked"
	case KindInvalidRequest:
		return "invalid_request"
	case KindServiceUnavailable:
		return "service_unavailable"
	case KindMalformedResponse:
		return "malformed_response"
	case KindPdfProcessing:
		return "pdf_processing"
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindBusy:
		return "busy"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "unknown"
	}
}

var defaultMessages = map[Kind]string{
	KindFormat:             "The image could not be read. Please select a PNG, JPEG, WEBP, HEIC or PDF file and try again.",
	KindNetwork:            "Could not reach the analysis service. Please check your internet connection and try again.",
	KindBlocked:            "The analysis was blocked for safety reasons. This can happen with unclear, ambiguous or low-quality images. Please try a different image.",
	KindInvalidRequest:     "The request was invalid. The image may be corrupted, in an unsupported format, or not a valid ECG. Please check the file and try again.",
	KindServiceUnavailable: "The ECG analysis service is currently unavailable or overloaded. Please try again in a few moments.",
	KindMalformedResponse:  "The AI returned an invalid response format. This is often a temporary issue with the service. Please try again.",
	KindPdfProcessing:      "The PDF could not be processed. Please check the file and try again.",
	KindValidation:         "The request is missing required information.",
	KindNotFound:           "The requested item was not found.",
	KindConflict:           "The item already exists.",
	KindBusy:               "Another operation is already in progress. Please wait for it to finish.",
	KindUnauthorized:       "Authentication is required.",
}

const unexpectedMessage = "An unexpected error occurred during analysis. Please try again."

// Error is a classified failure. Message is safe to show to end users;
// the wrapped cause is for logs only.
type Error struct {
	Kind    Kind
	Message string
	cause   error
}

func New(kind Kind, message string) *Error {
	if message == "" {
		message = defaultMessages[kind]
	}
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, cause error) *Error {
	return &Error{Kind: kind, Message: defaultMessages[kind], cause: cause}
}

func Wrapf(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Is matches any *Error of the same kind, so the sentinels below work with
// errors.Is.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrFormat             = &Error{Kind: KindFormat}
	ErrNetwork            = &Error{Kind: KindNetwork}
	ErrBlocked            = &Error{Kind: KindBlocked}
	ErrInvalidRequest     = &Error{Kind: KindInvalidRequest}
	ErrServiceUnavailable = &Error{Kind: KindServiceUnavailable}
	ErrMalformedResponse  = &Error{Kind: KindMalformedResponse}
	ErrPdfProcessing      = &Error{Kind: KindPdfProcessing}
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrConflict           = &Error{Kind: KindConflict}
	ErrBusy               = &Error{Kind: KindBusy}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
)

func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// UserMessage returns the phrasing shown to end users. Unclassified errors
// get a generic message so transport details never leak.
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	return unexpectedMessage
}

// Transient reports whether a caller-side retry may help.
func Transient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServiceUnavailable:
		return true
	}
	return false
}

package analysis

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/cardioscan/backend/internal/scanerr"
)

const timeoutMessage = "Analysis timed out. The server may be busy or the request is too complex. Please try again in a moment."

// classifyStatus maps an HTTP status from the model service onto the error
// taxonomy. 429 is treated like overload.
func classifyStatus(status int, code string, err error) error {
	if isBlockedCode(code) {
		return scanerr.Wrap(scanerr.KindBlocked, err)
	}
	switch {
	case status == http.StatusTooManyRequests || status >= 500:
		return scanerr.Wrap(scanerr.KindServiceUnavailable, err)
	case status >= 400:
		return scanerr.Wrap(scanerr.KindInvalidRequest, err)
	default:
		return scanerr.Wrap(scanerr.KindNetwork, err)
	}
}

func isBlockedCode(code string) bool {
	code = strings.ToLower(code)
	return strings.Contains(code, "content_filter") ||
		strings.Contains(code, "content_policy") ||
		strings.Contains(code, "safety")
}

// classifyTransport handles failures that never produced an HTTP status.
// Cancellation is passed through untouched.
func classifyTransport(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return scanerr.Wrapf(scanerr.KindNetwork, err, timeoutMessage)
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return scanerr.Wrap(scanerr.KindMalformedResponse, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return scanerr.Wrapf(scanerr.KindNetwork, err, timeoutMessage)
	}
	return scanerr.Wrap(scanerr.KindNetwork, err)
}

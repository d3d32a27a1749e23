package datauri

import (
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
)

var ErrInvalidImage = errors.New("invalid image data URI")

var imagePattern = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+);base64,(.+)$`)

type Image struct {
	MediaType string
	Payload   string
}

// ParseImage splits "data:image/<subtype>;base64,<payload>" into its parts.
// The payload is not decoded.
func ParseImage(uri string) (Image, error) {
	m := imagePattern.FindStringSubmatch(uri)
	if m == nil {
		return Image{}, ErrInvalidImage
	}
	return Image{MediaType: m[1], Payload: m[2]}, nil
}

func (i Image) Bytes() ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(i.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to decode image payload: %w", err)
	}
	return data, nil
}

func Encode(mediaType string, data []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

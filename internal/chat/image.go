package chat

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// DefaultMaxImageBytes is the decoded size ceiling for inline images.
const DefaultMaxImageBytes = 3 << 20

// ValidateImage checks that dataURL is a base64 data URL whose decoded
// content is an image of at most maxBytes. A non-positive maxBytes selects
// DefaultMaxImageBytes.
func ValidateImage(dataURL string, maxBytes int) error {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxImageBytes
	}

	header, payload, ok := strings.Cut(dataURL, ",")
	if !ok || !strings.HasPrefix(header, "data:image/") || !strings.HasSuffix(header, ";base64") {
		return fmt.Errorf("%w: image must be a base64 data URL", ErrMalformedEvent)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > maxBytes+2 {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrMalformedEvent, maxBytes)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return fmt.Errorf("%w: image payload: %v", ErrMalformedEvent, err)
	}
	if len(data) > maxBytes {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrMalformedEvent, maxBytes)
	}

	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return fmt.Errorf("%w: payload is %s, not an image", ErrMalformedEvent, detected.String())
	}
	return nil
}

// ImageDataURL encodes raw image bytes as a data URL using the sniffed
// media type.
func ImageDataURL(data []byte) (string, error) {
	detected := mimetype.Detect(data)
	if !strings.HasPrefix(detected.String(), "image/") {
		return "", fmt.Errorf("%w: payload is %s, not an image", ErrMalformedEvent, detected.String())
	}
	return "data:" + detected.String() + ";base64," + base64.StdEncoding.EncodeToString(data), nil
}

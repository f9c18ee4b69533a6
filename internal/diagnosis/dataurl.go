package diagnosis

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fpang/sonic-diagnostic/internal/capture"
)

// ErrInvalidDataURL is returned for media strings that are not base64 data URLs.
var ErrInvalidDataURL = errors.New("invalid data URL")

// DecodeDataURL decodes "data:<mime>[;params];base64,<data>" as produced by a
// browser FileReader. The returned MIME type has its parameters removed.
func DecodeDataURL(s string) ([]byte, string, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(s), "data:")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, "", fmt.Errorf("%w: missing comma", ErrInvalidDataURL)
	}

	params := strings.Split(header, ";")
	if params[len(params)-1] != "base64" {
		return nil, "", fmt.Errorf("%w: only base64 encoding is supported", ErrInvalidDataURL)
	}
	mimeType := capture.NormalizeMIMEType(params[0])
	if mimeType == "" {
		return nil, "", fmt.Errorf("%w: missing media type", ErrInvalidDataURL)
	}

	data, err := decodeBase64(payload)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return data, mimeType, nil
}

// decodeBase64 accepts standard and URL alphabets, padded or not.
func decodeBase64(s string) ([]byte, error) {
	s = strings.TrimRight(strings.TrimSpace(s), "=")
	if strings.ContainsAny(s, "-_") {
		return base64.RawURLEncoding.DecodeString(s)
	}
	return base64.RawStdEncoding.DecodeString(s)
}

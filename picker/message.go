package picker

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"

	"github.com/aluiziolira/go-price-watch/models"
)

var (
	// ErrMalformedMessage marks a descriptor payload that is not a JSON
	// object of known string fields.
	ErrMalformedMessage = errors.New("malformed element message")
	// ErrInvalidTarget marks a picking target that is not an absolute
	// http(s) URL.
	ErrInvalidTarget = errors.New("invalid target url")
)

// DecodeDescriptor strictly decodes one message posted by the embedded page.
// Unknown keys, non-string values and trailing data are rejected.
func DecodeDescriptor(payload []byte) (models.ElementDescriptor, error) {
	var d models.ElementDescriptor

	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return d, fmt.Errorf("%w: expected a JSON object", ErrMalformedMessage)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&d); err != nil {
		return models.ElementDescriptor{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return models.ElementDescriptor{}, fmt.Errorf("%w: trailing data", ErrMalformedMessage)
	}
	return d, nil
}

// ParseDeepLink extracts the picking target from a link such as
// pricewatch://open?url=https%3A%2F%2Fshop.example%2Fitem.
func ParseDeepLink(link string) (string, error) {
	u, err := url.Parse(link)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	target := u.Query().Get("url")
	if target == "" {
		return "", fmt.Errorf("%w: link has no url parameter", ErrInvalidTarget)
	}
	return ValidateTarget(target)
}

// ValidateTarget checks that raw is an absolute http(s) URL.
func ValidateTarget(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidTarget, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}
	return u.String(), nil
}

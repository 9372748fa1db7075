// Package parser validates captured element descriptors and re-matches
// tracked elements inside fetched markup.
package parser

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/aluiziolira/go-price-watch/models"
)

var (
	digitRe       = regexp.MustCompile(`\d`)
	absoluteURLRe = regexp.MustCompile(`^https?://`)
)

// ValidationError is a user-facing rejection of a descriptor.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidatePrice requires non-empty text containing at least one digit.
func ValidatePrice(d *models.ElementDescriptor) error {
	if d == nil || d.InnerText == "" || !digitRe.MatchString(d.InnerText) {
		return &ValidationError{Field: "price", Message: "Select a valid price element (must contain a number)."}
	}
	return nil
}

// ValidateTitle requires text that is non-empty after trimming.
func ValidateTitle(d *models.ElementDescriptor) error {
	if d == nil || strings.TrimSpace(d.InnerText) == "" {
		return &ValidationError{Field: "title", Message: "Select a valid title element (must contain text)."}
	}
	return nil
}

// ValidateImage requires an absolute http(s) source.
func ValidateImage(d *models.ElementDescriptor) error {
	if d == nil || d.Src == "" || !absoluteURLRe.MatchString(d.Src) {
		return &ValidationError{Field: "image", Message: "Select a valid image element."}
	}
	return nil
}

// ValidateItem ensures a tracked item can be monitored.
func ValidateItem(item *models.TrackedItem) error {
	if item == nil {
		return fmt.Errorf("item is nil")
	}
	if strings.TrimSpace(item.URL) == "" {
		return fmt.Errorf("item missing url")
	}
	if strings.TrimSpace(item.ClassName) == "" {
		return fmt.Errorf("item missing class name for %s", item.URL)
	}
	return nil
}

// NormalizeText trims surrounding whitespace from matched text.
func NormalizeText(text string) string {
	return strings.TrimSpace(text)
}

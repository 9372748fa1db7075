package monitor

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// Category labels why a fetch was skipped.
type Category string

const (
	CategoryTimeout     Category = "timeout"
	CategoryConnection  Category = "connection"
	CategoryForbidden   Category = "forbidden"
	CategoryNotFound    Category = "not_found"
	CategoryRateLimited Category = "rate_limited"
	CategoryHTTPStatus  Category = "http_status"
	CategoryInvalidURL  Category = "invalid_url"
	CategoryOther       Category = "other"
)

// FetchError describes a skipped item fetch.
type FetchError struct {
	Category   Category
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (status %d): %v", e.Category, e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Category, e.URL, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// classifyError wraps err in a FetchError with its category.
func classifyError(url string, err error, statusCode int) *FetchError {
	if err == nil && statusCode == 0 {
		return nil
	}
	fe := &FetchError{URL: url, StatusCode: statusCode, Err: err}
	if fe.Err == nil {
		fe.Err = fmt.Errorf("http status %d", statusCode)
	}

	var netErr net.Error
	var opErr *net.OpError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		fe.Category = CategoryTimeout
	case errors.As(err, &netErr) && netErr.Timeout():
		fe.Category = CategoryTimeout
	case errors.As(err, &opErr):
		fe.Category = CategoryConnection
	case statusCode == http.StatusForbidden:
		fe.Category = CategoryForbidden
	case statusCode == http.StatusNotFound:
		fe.Category = CategoryNotFound
	case statusCode == http.StatusTooManyRequests:
		fe.Category = CategoryRateLimited
	case statusCode >= http.StatusBadRequest:
		fe.Category = CategoryHTTPStatus
	default:
		fe.Category = CategoryOther
	}
	return fe
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return string(fe.Category)
	}
	return string(CategoryOther)
}

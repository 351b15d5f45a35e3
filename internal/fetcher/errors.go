package fetcher

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrSizeLimitExceeded reports a response larger than the configured cap,
	// either declared up front or counted while reading.
	ErrSizeLimitExceeded = errors.New("response exceeds size limit")
	// ErrRedirectBoundExceeded reports a redirect chain longer than allowed.
	ErrRedirectBoundExceeded = errors.New("redirect limit exceeded")
	// ErrMissingLocation reports a redirect status without a usable Location.
	ErrMissingLocation = errors.New("redirect without location")
	// ErrRetriesExhausted wraps the last error once every attempt has failed.
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// StatusError is returned for a final response status other than 200.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d (%s) for %s", e.Code, http.StatusText(e.Code), e.URL)
}

// StatusCode extracts the HTTP status from err, or 0 when err carries none.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

// terminal reports errors that another attempt cannot fix.
func terminal(err error) bool {
	return errors.Is(err, ErrSizeLimitExceeded) ||
		errors.Is(err, ErrRedirectBoundExceeded) ||
		errors.Is(err, ErrMissingLocation)
}

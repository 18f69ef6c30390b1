package fetch

import (
	"errors"
	"fmt"
	"net/http"

	apperrors "example.com/pdf-fusion/pkg/errors"
)

// ErrTooLarge is returned when a source exceeds the configured byte cap.
var ErrTooLarge = errors.New("source exceeds maximum size")

// StatusError is an HTTP answer the retriever did not accept.
type StatusError struct {
	StatusCode int
	Status     string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %s", e.Status)
}

// retryableStatus lists the transient statuses worth another attempt.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// FetchError reports a source that could not be retrieved.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Is(target error) bool { return target == apperrors.ErrFetch }

func newFetchError(rawURL string, err error) *FetchError {
	fe := &FetchError{URL: rawURL, Err: err}
	var se *StatusError
	if errors.As(err, &se) {
		fe.StatusCode = se.StatusCode
	}
	return fe
}

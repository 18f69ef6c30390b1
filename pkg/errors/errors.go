package errors

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrValidation      = errors.New("invalid request")
	ErrFetch           = errors.New("fetch failed")
	ErrDocumentParse   = errors.New("document parse failed")
	ErrOutputIntegrity = errors.New("output integrity check failed")
	ErrTimeout         = errors.New("operation timed out")
	ErrCanceled        = errors.New("operation canceled")
	ErrInternal        = errors.New("internal error")
)

type AppError struct {
	Err        error
	Message    string
	StatusCode int
}

func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Err.Error(), e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func New(sentinel error, statusCode int, message string) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    message,
		StatusCode: statusCode,
	}
}

func Newf(sentinel error, statusCode int, format string, args ...any) *AppError {
	return &AppError{
		Err:        sentinel,
		Message:    fmt.Sprintf(format, args...),
		StatusCode: statusCode,
	}
}

// HTTPStatusCode maps an error to the status the HTTP shell answers with.
// Input-caused failures are 4xx/502, output failures are 500.
func HTTPStatusCode(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.StatusCode
	}

	switch {
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, ErrDocumentParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ErrFetch):
		return http.StatusBadGateway
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// Kind returns a short label for err, used in logs, metrics and events.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, ErrCanceled), errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, ErrDocumentParse):
		return "parse"
	case errors.Is(err, ErrFetch):
		return "fetch"
	case errors.Is(err, ErrOutputIntegrity):
		return "integrity"
	default:
		return "internal"
	}
}

package errors

import (
	"context"
	"fmt"
	"net/http"
	"testing"
)

func TestHTTPStatusCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"validation", fmt.Errorf("wrap: %w", ErrValidation), http.StatusBadRequest},
		{"fetch", fmt.Errorf("source 1: %w", ErrFetch), http.StatusBadGateway},
		{"parse", ErrDocumentParse, http.StatusUnprocessableEntity},
		{"integrity", ErrOutputIntegrity, http.StatusInternalServerError},
		{"deadline", fmt.Errorf("fetch: %w", context.DeadlineExceeded), http.StatusGatewayTimeout},
		{"app error wins", New(ErrFetch, http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKind(t *testing.T) {
	if got := Kind(nil); got != "ok" {
		t.Errorf("Kind(nil) = %q", got)
	}
	if got := Kind(fmt.Errorf("x: %w", ErrDocumentParse)); got != "parse" {
		t.Errorf("Kind(parse) = %q", got)
	}
	if got := Kind(context.Canceled); got != "canceled" {
		t.Errorf("Kind(canceled) = %q", got)
	}
}

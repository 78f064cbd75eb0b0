package errors

import (
	"context"
	"errors"
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
		{"app error wins", New(ErrInternal, http.StatusTeapot, "short and stout"), http.StatusTeapot},
		{"not found", fmt.Errorf("loading 7: %w", ErrRecordNotFound), http.StatusNotFound},
		{"invalid input", ErrInvalidInput, http.StatusBadRequest},
		{"store unavailable", Unavailable("zinterstore", errors.New("dial tcp: refused")), http.StatusServiceUnavailable},
		{"malformed record", Malformed("3", errors.New("unexpected end of JSON input")), http.StatusInternalServerError},
		{"deadline", fmt.Errorf("intersecting [ki]: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HTTPStatusCode(tt.err); got != tt.want {
				t.Errorf("HTTPStatusCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}

func TestWrappersKeepSentinel(t *testing.T) {
	err := Unavailable("hmget", errors.New("i/o timeout"))
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable in chain, got %v", err)
	}
	err = Malformed("5", errors.New("invalid character"))
	if !errors.Is(err, ErrMalformedRecord) {
		t.Fatalf("expected ErrMalformedRecord in chain, got %v", err)
	}
	appErr := Newf(ErrInvalidInput, http.StatusBadRequest, "delta %v must be positive", -1)
	if !errors.Is(appErr, ErrInvalidInput) {
		t.Fatalf("expected AppError to unwrap to ErrInvalidInput")
	}
	if appErr.Error() != "invalid input: delta -1 must be positive" {
		t.Errorf("unexpected message %q", appErr.Error())
	}
}

package view

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestMapError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode string
	}{
		{"nil error returns empty", nil, ""},
		{"unauthorized", fmt.Errorf("rows: %w", ErrUnauthorized), "AUTH001"},
		{"no session", ErrNoSession, "AUTH001"},
		{
			name:     "connection refused",
			err:      &TransportError{Op: "rows", Err: errors.New("dial tcp 127.0.0.1:5001: connect: connection refused")},
			wantCode: "NET001",
		},
		{"deadline", fmt.Errorf("count: %w", context.DeadlineExceeded), "NET002"},
		{"not found", &TransportError{Op: "rows", Status: 404, Err: errors.New("no dataset")}, "SVC001"},
		{"server error", &TransportError{Op: "rows", Status: 500, Err: errors.New("boom")}, "SVC002"},
		{"bad request", &TransportError{Op: "rows", Status: 400, Err: errors.New("bad filters")}, "SVC003"},
		{"bad request with known pattern", &TransportError{Op: "upload", Status: 400, Err: errors.New("invalid csv: bare quote")}, "FILE002"},
		{"rate limited", &TransportError{Op: "rows", Status: 429, Err: errors.New("slow down")}, "RATE001"},
		{"too many uploads", errors.New("too many concurrent uploads, please try again later"), "UPL002"},
		{"case insensitive", errors.New("FILE TOO LARGE"), "FILE001"},
		{"unknown", errors.New("something odd"), "ERR000"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MapError(tt.err)
			if got.Code != tt.wantCode {
				t.Errorf("MapError() code = %q, want %q", got.Code, tt.wantCode)
			}
		})
	}
}

func TestFormatUserError(t *testing.T) {
	if got := FormatUserError(nil); got != "" {
		t.Errorf("FormatUserError(nil) = %q, want empty", got)
	}
	got := FormatUserError(ErrUnauthorized)
	want := "Your session has expired (Code: AUTH001). Log in again"
	if got != want {
		t.Errorf("FormatUserError() = %q, want %q", got, want)
	}
}

func TestTransportError(t *testing.T) {
	inner := errors.New("boom")
	err := &TransportError{Op: "rows", Status: 502, Err: inner}
	if !errors.Is(err, inner) {
		t.Error("errors.Is(TransportError, inner) = false")
	}
	if got := err.Error(); got != "rows: service returned 502 Bad Gateway: boom" {
		t.Errorf("Error() = %q", got)
	}
}

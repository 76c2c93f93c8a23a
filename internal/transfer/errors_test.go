package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"syscall"
	"testing"
)

// TestNetworkError_Error verifies error message formatting
func TestNetworkError_Error(t *testing.T) {
	tests := []struct {
		name       string
		err        *NetworkError
		wantFormat string
	}{
		{
			name: "with HTTP status code",
			err: &NetworkError{
				Operation:  "fetch",
				StatusCode: 503,
				Message:    "service unavailable",
			},
			wantFormat: "network error during fetch (HTTP 503): service unavailable",
		},
		{
			name: "without HTTP status code",
			err: &NetworkError{
				Operation: "read_body",
				Message:   "connection reset",
			},
			wantFormat: "network error during read_body: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantFormat {
				t.Errorf("Error() = %q, want %q", got, tt.wantFormat)
			}
		})
	}
}

// TestStorageError_Error verifies error message formatting
func TestStorageError_Error(t *testing.T) {
	err := &StorageError{Op: "open", Path: "/tmp/file.bin", Err: fs.ErrPermission}

	expected := "storage error during open of '/tmp/file.bin': permission denied"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}

	bare := &StorageError{Op: "mkdir", Path: "/tmp"}
	if bare.Error() != "storage error during mkdir of '/tmp'" {
		t.Errorf("Error() = %q", bare.Error())
	}
}

// TestErrors_Unwrap verifies error chain traversal
func TestErrors_Unwrap(t *testing.T) {
	cause := errors.New("underlying cause")

	for _, err := range []error{
		&NetworkError{Operation: "fetch", Message: "boom", Err: cause},
		&StorageError{Op: "write", Path: "x", Err: cause},
	} {
		if errors.Unwrap(err) != cause {
			t.Errorf("Unwrap() of %T did not return cause", err)
		}

		wrapped := fmt.Errorf("context: %w", err)
		if !errors.Is(wrapped, cause) {
			t.Errorf("errors.Is() should find cause in wrapped %T", err)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{name: "network error", err: &NetworkError{Operation: "fetch", Err: io.ErrUnexpectedEOF}, want: ClassRetryable},
		{name: "status error", err: &NetworkError{Operation: "fetch", StatusCode: 500}, want: ClassRetryable},
		{name: "storage error", err: fmt.Errorf("write: %w", &StorageError{Op: "write", Err: syscall.ENOSPC}), want: ClassTerminal},
		{name: "cancelled", err: fmt.Errorf("stop: %w", ErrCancelled), want: ClassCancelled},
		{name: "context cancelled", err: &NetworkError{Operation: "fetch", Err: context.Canceled}, want: ClassCancelled},
		{name: "unknown error", err: errors.New("what"), want: ClassRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.want {
				t.Errorf("Classify() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReason(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{name: "nil", err: nil, want: ""},
		{name: "permission", err: &StorageError{Op: "open", Err: fs.ErrPermission}, want: "storage permission error"},
		{name: "disk full", err: &StorageError{Op: "write", Err: syscall.ENOSPC}, want: "storage full"},
		{name: "other storage", err: &StorageError{Op: "seek", Err: errors.New("bad seek")}, want: "storage error"},
		{name: "status", err: &NetworkError{Operation: "fetch", StatusCode: 503}, want: "unexpected status 503"},
		{name: "dns", err: &NetworkError{Operation: "fetch", Err: &net.DNSError{Err: "no such host", Name: "nowhere"}}, want: "target unreachable"},
		{name: "refused", err: &NetworkError{Operation: "fetch", Err: &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}}, want: "target unreachable"},
		{name: "reset", err: &NetworkError{Operation: "read_body", Err: io.ErrUnexpectedEOF}, want: "connection error"},
		{name: "plain", err: errors.New("plain"), want: "plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Reason(tt.err); got != tt.want {
				t.Errorf("Reason() = %q, want %q", got, tt.want)
			}
		})
	}
}

package transfer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"syscall"
)

// ErrCancelled is returned when a transfer is stopped on request. It is never
// reported to callers as a failure and matches context.Canceled.
var ErrCancelled = fmt.Errorf("transfer cancelled: %w", context.Canceled)

// NetworkError represents connectivity failures and unexpected HTTP responses
// including 5xx responses, connection resets, timeouts and unreachable hosts.
type NetworkError struct {
	Operation  string // The operation that failed (e.g., "probe", "fetch", "read_body")
	StatusCode int    // HTTP status code, if applicable (0 for non-HTTP errors)
	Message    string // Error message from the server or network layer
	Err        error  // Underlying error, if any
}

func (e *NetworkError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("network error during %s (HTTP %d): %s", e.Operation, e.StatusCode, e.Message)
	}

	return fmt.Sprintf("network error during %s: %s", e.Operation, e.Message)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}

// StorageError represents local filesystem failures such as permission denied,
// a full disk or an invalid destination directory. Retrying does not help.
type StorageError struct {
	Op   string // The filesystem operation (e.g., "open", "write", "mkdir")
	Path string // The path the operation was applied to
	Err  error  // Underlying error, if any
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("storage error during %s of '%s': %v", e.Op, e.Path, e.Err)
	}

	return fmt.Sprintf("storage error during %s of '%s'", e.Op, e.Path)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Class is the retry classification of a transfer error.
type Class int

const (
	ClassRetryable Class = iota
	ClassTerminal
	ClassCancelled
)

func (c Class) String() string {
	switch c {
	case ClassRetryable:
		return "retryable"
	case ClassTerminal:
		return "terminal"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify decides whether err is worth retrying. Storage failures are terminal,
// cancellation is its own class and everything else coming from the network is
// retryable.
func Classify(err error) Class {
	var storageErr *StorageError

	switch {
	case errors.Is(err, context.Canceled):
		return ClassCancelled
	case errors.As(err, &storageErr):
		return ClassTerminal
	default:
		return ClassRetryable
	}
}

// Reason turns err into the short message handed to listeners. Callers never
// see the raw network error.
func Reason(err error) string {
	var (
		storageErr *StorageError
		netErr     *NetworkError
	)

	switch {
	case err == nil:
		return ""
	case errors.As(err, &storageErr):
		switch {
		case errors.Is(err, fs.ErrPermission):
			return "storage permission error"
		case errors.Is(err, syscall.ENOSPC):
			return "storage full"
		default:
			return "storage error"
		}
	case errors.As(err, &netErr):
		if netErr.StatusCode > 0 {
			return fmt.Sprintf("unexpected status %d", netErr.StatusCode)
		}

		if isUnreachable(err) {
			return "target unreachable"
		}

		return "connection error"
	default:
		return err.Error()
	}
}

func isUnreachable(err error) bool {
	var (
		dnsErr *net.DNSError
		opErr  *net.OpError
	)

	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) || errors.Is(err, syscall.ENETUNREACH)
}

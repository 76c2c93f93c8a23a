package downloader

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/italolelis/resumable_downloader/internal/transfer"
)

var errTimedOut = errors.New("download timed out")

// RetryPolicy bounds how often a task is retried and how long it waits in between.
type RetryPolicy struct {
	// MaxRetries is the number of consecutive retryable failures after which
	// the task fails.
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

// BackOff returns a fresh delay sequence: BaseDelay, 2*BaseDelay, 4*BaseDelay,
// ... capped at MaxDelay.
func (p RetryPolicy) BackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.RandomizationFactor = 0
	b.Multiplier = 2
	b.MaxInterval = p.MaxDelay
	b.Reset()

	return b
}

// Exhausted reports whether failures has reached the retry limit.
func (p RetryPolicy) Exhausted(failures int) bool {
	return failures >= p.MaxRetries
}

// RetryLimitError is the terminal error of a task whose retries ran out. Err
// is the last retryable failure.
type RetryLimitError struct {
	Attempts int
	Err      error
}

func (e *RetryLimitError) Error() string {
	return fmt.Sprintf("retry limit exceeded after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryLimitError) Unwrap() error {
	return e.Err
}

// ResultKind classifies the outcome of one transfer attempt.
type ResultKind int

const (
	ResultCompleted ResultKind = iota
	ResultRetryable
	ResultTerminal
	ResultCancelled
)

func (k ResultKind) String() string {
	switch k {
	case ResultCompleted:
		return "completed"
	case ResultRetryable:
		return "retryable"
	case ResultTerminal:
		return "terminal"
	case ResultCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Result is what a transfer attempt hands back to the retry loop.
type Result struct {
	Kind ResultKind
	Err  error
}

func completed() Result {
	return Result{Kind: ResultCompleted}
}

func cancelled() Result {
	return Result{Kind: ResultCancelled, Err: transfer.ErrCancelled}
}

// resultOf classifies a failed attempt.
func resultOf(err error) Result {
	switch transfer.Classify(err) {
	case transfer.ClassCancelled:
		return Result{Kind: ResultCancelled, Err: err}
	case transfer.ClassTerminal:
		return Result{Kind: ResultTerminal, Err: err}
	default:
		return Result{Kind: ResultRetryable, Err: err}
	}
}

// failureReason is the short message handed to OnDownloadFailed.
func failureReason(err error) string {
	var limitErr *RetryLimitError
	if errors.As(err, &limitErr) {
		return "retry limit exceeded: " + transfer.Reason(limitErr.Err)
	}

	return transfer.Reason(err)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

package benchmark

import (
	"context"
	"errors"
	"fmt"

	"github.com/skylenet/aa-benchmark/client"
)

var (
	// ErrSetup marks failures while creating signers, accounts or clients.
	ErrSetup = errors.New("setup failed")
	// ErrSubmission marks failures while submitting to the provider.
	ErrSubmission = errors.New("submission failed")
	// ErrRunInProgress is returned when a run is triggered while one is active.
	ErrRunInProgress = errors.New("benchmark run already in progress")
)

// Kind classifies a failed result.
type Kind string

// Failure kinds.
const (
	KindSetup               Kind = "setup"
	KindSubmission          Kind = "submission"
	KindConfirmationTimeout Kind = "confirmation-timeout"
	KindNonRetryable        Kind = "non-retryable"
	KindCancelled           Kind = "cancelled"
	KindPanic               Kind = "panic"
)

// WrapSetup marks err as a setup failure.
func WrapSetup(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSetup, err)
}

// WrapSubmission marks err as a submission failure.
func WrapSubmission(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrSubmission, err)
}

// PanicError carries a value recovered from a panicking adapter.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("adapter panicked: %v", e.Value)
}

// Classify maps an adapter error onto a failure kind. Errors without a more
// specific marker are non-retryable.
func Classify(err error) Kind {
	var panicErr *PanicError

	switch {
	case err == nil:
		return ""
	case errors.As(err, &panicErr):
		return KindPanic
	case errors.Is(err, client.ErrConfirmationTimeout):
		return KindConfirmationTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	case errors.Is(err, ErrSetup):
		return KindSetup
	case errors.Is(err, ErrSubmission):
		return KindSubmission
	default:
		return KindNonRetryable
	}
}

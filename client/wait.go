package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNotFound is returned by fetch operations when the requested object
	// (receipt, user operation, relay task) is not available yet.
	ErrNotFound = errors.New("not found")

	// ErrConfirmationTimeout is returned once the poller exhausted its attempts.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

// notFoundMarkers are matched against free-text RPC errors that do not carry
// a structured not-found kind.
var notFoundMarkers = []string{
	"could not be found",
	"receipt not found",
}

// rpcMethodNotFound is the JSON-RPC code of an unsupported method.
const rpcMethodNotFound = -32601

// NonRetryableError aborts polling immediately.
type NonRetryableError struct {
	ID    string
	Cause error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable error waiting for %s: %v", e.ID, e.Cause)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Cause
}

// IsNotFound reports whether err is the transient "not yet indexed" kind.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ethereum.NotFound) {
		return true
	}

	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == rpcMethodNotFound {
		return false
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) && httpErr.StatusCode != http.StatusNotFound {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range notFoundMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}

	return false
}

// RetryPolicy bounds the confirmation poller.
type RetryPolicy struct {
	// Attempts is the total number of fetch attempts.
	Attempts int
	// MinDelay is the first and smallest delay between attempts.
	MinDelay time.Duration
	// MaxDelay caps the delay between attempts.
	MaxDelay time.Duration
}

// DefaultRetryPolicy returns sensible defaults for receipt polling on an L2.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts: 15,
		MinDelay: 500 * time.Millisecond,
		MaxDelay: 4 * time.Second,
	}
}

// Validate checks the policy is usable.
func (p RetryPolicy) Validate() error {
	if p.Attempts < 1 {
		return fmt.Errorf("retry attempts must be at least 1, got %d", p.Attempts)
	}
	if p.MinDelay <= 0 || p.MaxDelay <= 0 {
		return fmt.Errorf("retry delays must be positive")
	}
	if p.MinDelay > p.MaxDelay {
		return fmt.Errorf("min delay %v exceeds max delay %v", p.MinDelay, p.MaxDelay)
	}
	return nil
}

// minBackoff seeds the doubling when a policy has no MinDelay.
const minBackoff = 10 * time.Millisecond

// Delay returns the wait after the given 1-based failed attempt: MinDelay
// doubled per attempt, clamped to [MinDelay, MaxDelay].
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	d := p.MinDelay
	if d <= 0 {
		d = minBackoff
	}
	for i := 1; i < attempt; i++ {
		if d >= p.MaxDelay/2 {
			d = p.MaxDelay
			break
		}
		d *= 2
	}

	if d < p.MinDelay {
		d = p.MinDelay
	}
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// AttemptObserver is notified after every fetch attempt.
type AttemptObserver interface {
	ObservePollAttempt(label, outcome string)
}

// FetchFunc fetches the object identified by id.
type FetchFunc[T any] func(ctx context.Context, id string) (T, error)

// Poller holds the policy and collaborators for Poll.
type Poller struct {
	log      logrus.FieldLogger
	policy   RetryPolicy
	label    string
	sleep    Sleeper
	observer AttemptObserver
}

// PollerOption configures a Poller.
type PollerOption func(*Poller)

// WithSleeper replaces the timer based sleep.
func WithSleeper(s Sleeper) PollerOption {
	return func(p *Poller) {
		p.sleep = s
	}
}

// WithObserver registers an attempt observer.
func WithObserver(o AttemptObserver) PollerOption {
	return func(p *Poller) {
		p.observer = o
	}
}

// WithLabel names the poller in logs and metrics.
func WithLabel(label string) PollerOption {
	return func(p *Poller) {
		p.label = label
	}
}

// NewPoller creates a new confirmation poller.
func NewPoller(log logrus.FieldLogger, policy RetryPolicy, opts ...PollerOption) *Poller {
	p := &Poller{
		log:    log.WithField("component", "poller"),
		policy: policy,
		label:  "receipt",
		sleep:  sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Policy returns the poller's retry policy.
func (p *Poller) Policy() RetryPolicy {
	return p.policy
}

// With returns a copy of the poller with the options applied.
func (p *Poller) With(opts ...PollerOption) *Poller {
	cpy := *p
	for _, opt := range opts {
		opt(&cpy)
	}
	return &cpy
}

// Poll calls fetch until it succeeds, fails with a non NotFound error, or the
// policy's attempts are exhausted.
func Poll[T any](ctx context.Context, p *Poller, id string, fetch FetchFunc[T]) (T, error) {
	var zero T

	attempts := p.policy.Attempts
	if attempts < 1 {
		attempts = 1
	}

	log := p.log.WithFields(logrus.Fields{
		"label": p.label,
		"id":    id,
	})

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			p.observe("cancelled")
			return zero, &NonRetryableError{ID: id, Cause: err}
		}

		value, err := fetch(ctx, id)
		if err == nil {
			p.observe("found")
			log.WithField("attempt", attempt).Debug("Confirmation found")
			return value, nil
		}

		if !IsNotFound(err) {
			p.observe("error")
			log.WithError(err).WithField("attempt", attempt).Debug("Non-retryable fetch error")
			return zero, &NonRetryableError{ID: id, Cause: err}
		}

		p.observe("not_found")
		lastErr = err

		if attempt == attempts {
			break
		}

		delay := p.policy.Delay(attempt)
		log.WithFields(logrus.Fields{
			"attempt": attempt,
			"delay":   delay,
		}).Debug("Not confirmed yet, retrying...")

		if err := p.sleep(ctx, delay); err != nil {
			p.observe("cancelled")
			return zero, &NonRetryableError{ID: id, Cause: err}
		}
	}

	return zero, fmt.Errorf("%w: %s after %d attempts (last: %v)", ErrConfirmationTimeout, id, attempts, lastErr)
}

func (p *Poller) observe(outcome string) {
	if p.observer != nil {
		p.observer.ObservePollAttempt(p.label, outcome)
	}
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

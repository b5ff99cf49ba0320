package client

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSleeper records the delays instead of sleeping.
type recordingSleeper struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *recordingSleeper) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.delays = append(r.delays, d)
	return ctx.Err()
}

// codeError is a JSON-RPC error with a code.
type codeError struct {
	code int
	msg  string
}

func (e *codeError) Error() string  { return e.msg }
func (e *codeError) ErrorCode() int { return e.code }

type recordingObserver struct {
	outcomes []string
}

func (r *recordingObserver) ObservePollAttempt(label, outcome string) {
	r.outcomes = append(r.outcomes, label+":"+outcome)
}

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, MinDelay: 100 * time.Millisecond, MaxDelay: 400 * time.Millisecond}
}

// notFoundFor returns NotFound k times before succeeding with value.
func notFoundFor(k int, value string, calls *int) FetchFunc[string] {
	return func(_ context.Context, id string) (string, error) {
		*calls++
		if *calls <= k {
			return "", fmt.Errorf("receipt %s: %w", id, ErrNotFound)
		}
		return value, nil
	}
}

func TestPoll_SucceedsAfterNotFound(t *testing.T) {
	for _, k := range []int{0, 1, 3, 4} {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			sleeper := &recordingSleeper{}
			p := NewPoller(logrus.New(), testPolicy(5), WithSleeper(sleeper.sleep))

			calls := 0
			value, err := Poll(context.Background(), p, "0x01", notFoundFor(k, "receipt", &calls))
			require.NoError(t, err)

			assert.Equal(t, "receipt", value)
			assert.Equal(t, k+1, calls)
			assert.Len(t, sleeper.delays, k)
		})
	}
}

func TestPoll_ExhaustsAttempts(t *testing.T) {
	sleeper := &recordingSleeper{}
	observer := &recordingObserver{}
	p := NewPoller(logrus.New(), testPolicy(4), WithSleeper(sleeper.sleep), WithObserver(observer), WithLabel("user_operation"))

	calls := 0
	_, err := Poll(context.Background(), p, "0x02", notFoundFor(100, "", &calls))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrConfirmationTimeout)
	assert.Equal(t, 4, calls)
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, sleeper.delays)
	assert.Equal(t, []string{
		"user_operation:not_found",
		"user_operation:not_found",
		"user_operation:not_found",
		"user_operation:not_found",
	}, observer.outcomes)
}

func TestPoll_NonRetryableStopsImmediately(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := NewPoller(logrus.New(), testPolicy(5), WithSleeper(sleeper.sleep))

	cause := errors.New("invalid params")
	calls := 0
	_, err := Poll(context.Background(), p, "0x03", func(context.Context, string) (string, error) {
		calls++
		return "", cause
	})
	require.Error(t, err)

	var nonRetryable *NonRetryableError
	require.ErrorAs(t, err, &nonRetryable)
	assert.Equal(t, "0x03", nonRetryable.ID)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrConfirmationTimeout)
	assert.Equal(t, 1, calls)
	assert.Empty(t, sleeper.delays)
}

func TestPoll_NonRetryableAfterNotFound(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := NewPoller(logrus.New(), testPolicy(5), WithSleeper(sleeper.sleep))

	calls := 0
	_, err := Poll(context.Background(), p, "0x04", func(context.Context, string) (string, error) {
		calls++
		if calls < 3 {
			return "", ErrNotFound
		}
		return "", errors.New("connection refused")
	})
	require.Error(t, err)

	assert.Equal(t, 3, calls)
	assert.Len(t, sleeper.delays, 2)
}

func TestPoll_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	p := NewPoller(logrus.New(), testPolicy(5), WithSleeper(func(context.Context, time.Duration) error {
		cancel()
		return context.Canceled
	}))

	calls := 0
	_, err := Poll(ctx, p, "0x05", notFoundFor(100, "", &calls))
	require.Error(t, err)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)

	// An already cancelled context never fetches.
	calls = 0
	_, err = Poll(ctx, p, "0x05", notFoundFor(0, "", &calls))
	require.Error(t, err)
	assert.Zero(t, calls)
}

func TestPoll_RealSleep(t *testing.T) {
	p := NewPoller(logrus.New(), RetryPolicy{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond})

	calls := 0
	value, err := Poll(context.Background(), p, "0x06", notFoundFor(2, "ok", &calls))
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"sentinel", ErrNotFound, true},
		{"wrapped sentinel", fmt.Errorf("task 1: %w", ErrNotFound), true},
		{"go-ethereum not found", ethereum.NotFound, true},
		{"free text", errors.New("Transaction receipt with hash \"0x1\" could not be found"), true},
		{"free text receipt", errors.New("receipt not found for 0x1"), true},
		{"other", errors.New("execution reverted"), false},
		{"method not found text", errors.New("eth_getUserOperationReceipt: Method not found"), false},
		{"method not found code", fmt.Errorf("eth_getUserOperationReceipt: %w", &codeError{code: -32601, msg: "receipt not found"}), false},
		{"http unauthorized", &HTTPError{StatusCode: 401, Message: "API key not found"}, false},
		{"http unauthorized with marker", &HTTPError{StatusCode: 401, Message: "receipt not found"}, false},
		{"http not found", &HTTPError{StatusCode: 404, Message: "receipt not found"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsNotFound(tt.err))
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, 500*time.Millisecond, p.Delay(0))
	assert.Equal(t, 500*time.Millisecond, p.Delay(1))
	assert.Equal(t, time.Second, p.Delay(2))
	assert.Equal(t, 2*time.Second, p.Delay(3))
	assert.Equal(t, 4*time.Second, p.Delay(4))

	for attempt := 1; attempt <= 100; attempt++ {
		d := p.Delay(attempt)
		assert.GreaterOrEqual(t, d, p.MinDelay)
		assert.LessOrEqual(t, d, p.MaxDelay)
	}
}

func TestRetryPolicy_DelayGrowsWithoutMinDelay(t *testing.T) {
	p := RetryPolicy{Attempts: 5, MinDelay: 0, MaxDelay: time.Second}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 4; attempt++ {
		d := p.Delay(attempt)
		assert.Greater(t, d, prev, "attempt %d", attempt)
		assert.LessOrEqual(t, d, p.MaxDelay)
		prev = d
	}
}

func TestPoll_NoZeroDelaysWithoutMinDelay(t *testing.T) {
	sleeper := &recordingSleeper{}
	p := NewPoller(logrus.New(), RetryPolicy{Attempts: 5, MinDelay: 0, MaxDelay: time.Second}, WithSleeper(sleeper.sleep))

	calls := 0
	_, err := Poll(context.Background(), p, "0x1", notFoundFor(10, "", &calls))
	require.ErrorIs(t, err, ErrConfirmationTimeout)

	require.Len(t, sleeper.delays, 4)
	for _, d := range sleeper.delays {
		assert.Positive(t, d)
	}
}

func TestRetryPolicy_Validate(t *testing.T) {
	assert.NoError(t, DefaultRetryPolicy().Validate())
	assert.NoError(t, RetryPolicy{Attempts: 1, MinDelay: time.Millisecond, MaxDelay: time.Millisecond}.Validate())

	assert.Error(t, RetryPolicy{Attempts: 1}.Validate())
	assert.Error(t, RetryPolicy{Attempts: 5, MinDelay: 0, MaxDelay: time.Second}.Validate())

	assert.Error(t, RetryPolicy{Attempts: 0, MinDelay: time.Second, MaxDelay: time.Second}.Validate())
	assert.Error(t, RetryPolicy{Attempts: 1, MinDelay: -time.Second, MaxDelay: time.Second}.Validate())
	assert.Error(t, RetryPolicy{Attempts: 1, MinDelay: 2 * time.Second, MaxDelay: time.Second}.Validate())
}

func TestPoller_With(t *testing.T) {
	p := NewPoller(logrus.New(), testPolicy(3))
	q := p.With(WithLabel("relay_task"))

	assert.Equal(t, "receipt", p.label)
	assert.Equal(t, "relay_task", q.label)
	assert.Equal(t, p.Policy(), q.Policy())
}

package benchmark

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubAdapter returns a canned measurement or error.
type stubAdapter struct {
	name    string
	window  Window
	latency time.Duration
	err     error
	panic   any
	block   chan struct{}
	runs    atomic.Int32
}

func (s *stubAdapter) Name() string { return s.name }

func (s *stubAdapter) Window() Window {
	if s.window == "" {
		return WindowInclusion
	}
	return s.window
}

func (s *stubAdapter) Run(ctx context.Context, _ *Session) (*Measurement, error) {
	s.runs.Add(1)

	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.panic != nil {
		panic(s.panic)
	}
	if s.err != nil {
		return nil, s.err
	}

	return &Measurement{
		Latency: s.latency,
		TxHash:  common.HexToHash("0x01"),
		Gas: metrics.Gas{
			L1GasUsed: big.NewInt(1_600),
			L2GasUsed: 100_000,
			GasPrice:  big.NewInt(1_000_000),
			L1Fee:     big.NewInt(10),
			TotalFee:  big.NewInt(100_000_000_010),
		},
		Attempts: 1,
	}, nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func newTestOrchestrator(t *testing.T, config RunnerConfig, adapters ...Adapter) Orchestrator {
	t.Helper()
	o, err := NewOrchestrator(logrus.New(), config, nil, adapters...)
	require.NoError(t, err)
	return o
}

func TestOrchestrator_AllProvidersSucceed(t *testing.T) {
	latencies := map[string]float64{
		"Gelato SmartWallet SDK": 1.1,
		"Alchemy":                2.2,
		"ZeroDev UltraRelay":     0.9,
		"Pimlico":                3.0,
		"thirdweb":               1.5,
	}

	var adapters []Adapter
	for _, name := range []string{"Gelato SmartWallet SDK", "Alchemy", "ZeroDev UltraRelay", "Pimlico", "thirdweb"} {
		adapters = append(adapters, &stubAdapter{name: name, latency: seconds(latencies[name])})
	}

	o := newTestOrchestrator(t, DefaultRunnerConfig(), adapters...)
	assert.Equal(t, RunStateIdle, o.State())
	assert.Nil(t, o.Latest())

	run, err := o.Trigger(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunStateDone, run.State)
	assert.Equal(t, RunStateDone, o.State())
	require.Len(t, run.Results, 5)

	for name, expected := range latencies {
		result, ok := run.Results[name]
		require.True(t, ok, name)
		assert.Equal(t, StateSucceeded, result.State, name)
		assert.Equal(t, seconds(expected), result.Latency, name)
		assert.True(t, result.IsValid(), name)
	}

	succeeded, failed := run.Counts()
	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 0, failed)
	assert.Len(t, run.Samples(), 5)
}

func TestOrchestrator_FailuresAreIsolated(t *testing.T) {
	adapters := []Adapter{
		&stubAdapter{name: "ok", latency: time.Second},
		&stubAdapter{name: "setup", err: WrapSetup(errors.New("missing api key"))},
		&stubAdapter{name: "submission", err: WrapSubmission(errors.New("rejected by bundler"))},
		&stubAdapter{name: "timeout", err: fmt.Errorf("wait: %w", client.ErrConfirmationTimeout)},
		&stubAdapter{name: "panic", panic: "boom"},
	}

	run, err := newTestOrchestrator(t, DefaultRunnerConfig(), adapters...).Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStateDone, run.State)

	assert.Equal(t, StateSucceeded, run.Results["ok"].State)

	tests := map[string]Kind{
		"setup":      KindSetup,
		"submission": KindSubmission,
		"timeout":    KindConfirmationTimeout,
		"panic":      KindPanic,
	}
	for name, kind := range tests {
		result := run.Results[name]
		assert.Equal(t, StateFailed, result.State, name)
		assert.Equal(t, kind, result.Kind, name)
		assert.NotEmpty(t, result.Error, name)
		assert.Nil(t, result.Gas, name)
	}
	assert.Contains(t, run.Results["setup"].Error, "missing api key")
}

func TestOrchestrator_RejectsOverlappingRuns(t *testing.T) {
	block := make(chan struct{})
	slow := &stubAdapter{name: "slow", latency: time.Second, block: block}

	o := newTestOrchestrator(t, DefaultRunnerConfig(), slow)

	view, err := o.Start(context.Background())
	require.NoError(t, err)
	assert.Equal(t, RunStateRunning, view.State)
	assert.Equal(t, StatePending, view.Results["slow"].State)

	_, err = o.Trigger(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	_, err = o.Start(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	_, err = o.Prepare(context.Background())
	assert.ErrorIs(t, err, ErrRunInProgress)

	close(block)

	require.Eventually(t, func() bool {
		return o.State() == RunStateDone
	}, 5*time.Second, 10*time.Millisecond)

	assert.Equal(t, int32(1), slow.runs.Load(), "rejected triggers must not run adapters")

	// Once done, a new run is accepted.
	run, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), run.ID)
}

func TestOrchestrator_AdapterTimeout(t *testing.T) {
	stuck := &stubAdapter{name: "stuck", block: make(chan struct{})}

	config := DefaultRunnerConfig()
	config.AdapterTimeout = 20 * time.Millisecond

	run, err := newTestOrchestrator(t, config, stuck).Trigger(context.Background())
	require.NoError(t, err)

	result := run.Results["stuck"]
	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, KindCancelled, result.Kind)
}

func TestOrchestrator_ResultsAreOverwritten(t *testing.T) {
	adapter := &stubAdapter{name: "flaky", latency: time.Second}
	o := newTestOrchestrator(t, DefaultRunnerConfig(), adapter)

	first, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, first.Results["flaky"].State)

	adapter.err = WrapSubmission(errors.New("down"))

	second, err := o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StateFailed, second.Results["flaky"].State)
	assert.Nil(t, second.Results["flaky"].Gas)
	assert.Equal(t, StateFailed, o.Latest().Results["flaky"].State)
}

func TestOrchestrator_LatestIsACopy(t *testing.T) {
	o := newTestOrchestrator(t, DefaultRunnerConfig(), &stubAdapter{name: "a", latency: time.Second})

	_, err := o.Trigger(context.Background())
	require.NoError(t, err)

	view := o.Latest()
	view.Results["a"].State = StateFailed
	view.Results["a"].Gas.TotalFee.SetInt64(0)

	fresh := o.Latest()
	assert.Equal(t, StateSucceeded, fresh.Results["a"].State)
	assert.Equal(t, big.NewInt(100_000_000_010), fresh.Results["a"].Gas.TotalFee)
}

func TestNewOrchestrator_DuplicateNames(t *testing.T) {
	_, err := NewOrchestrator(logrus.New(), DefaultRunnerConfig(), nil,
		&stubAdapter{name: "a"}, &stubAdapter{name: "a"})
	assert.Error(t, err)
}

// sessionAdapter caches a value in its session and reports the pointer it got.
type sessionAdapter struct {
	inits atomic.Int32
	seen  []*int
	fail  atomic.Bool
}

func (s *sessionAdapter) Name() string   { return "session" }
func (s *sessionAdapter) Window() Window { return WindowInclusion }

func (s *sessionAdapter) load(ctx context.Context, sess *Session) (*int, error) {
	return Load(ctx, sess, "value", func(context.Context) (*int, error) {
		s.inits.Add(1)
		if s.fail.Load() {
			return nil, errors.New("init failed")
		}
		v := 42
		return &v, nil
	})
}

func (s *sessionAdapter) Prepare(ctx context.Context, sess *Session) error {
	_, err := s.load(ctx, sess)
	return WrapSetup(err)
}

func (s *sessionAdapter) Run(ctx context.Context, sess *Session) (*Measurement, error) {
	v, err := s.load(ctx, sess)
	if err != nil {
		return nil, WrapSetup(err)
	}
	s.seen = append(s.seen, v)
	return &Measurement{Latency: time.Second, Gas: metrics.Gas{TotalFee: big.NewInt(1)}}, nil
}

func TestOrchestrator_SessionIsReused(t *testing.T) {
	adapter := &sessionAdapter{}
	o := newTestOrchestrator(t, DefaultRunnerConfig(), adapter)

	_, err := o.Trigger(context.Background())
	require.NoError(t, err)
	_, err = o.Trigger(context.Background())
	require.NoError(t, err)

	require.Len(t, adapter.seen, 2)
	assert.Same(t, adapter.seen[0], adapter.seen[1])
	assert.Equal(t, int32(1), adapter.inits.Load())
}

func TestOrchestrator_Prepare(t *testing.T) {
	adapter := &sessionAdapter{}
	adapter.fail.Store(true)

	o := newTestOrchestrator(t, DefaultRunnerConfig(), adapter, &stubAdapter{name: "plain"})

	result, err := o.Prepare(context.Background())
	require.NoError(t, err)
	assert.False(t, result.OK())
	assert.Contains(t, result.Errors["session"], "init failed")
	assert.Equal(t, []string{"plain"}, result.Skipped)

	// A failed init is not cached.
	adapter.fail.Store(false)
	result, err = o.Prepare(context.Background())
	require.NoError(t, err)
	assert.True(t, result.OK())
	assert.Equal(t, []string{"session"}, result.Prepared)

	// The run reuses the prepared value.
	_, err = o.Trigger(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), adapter.inits.Load())
	assert.Equal(t, RunStateDone, o.State())
}

func TestLoad(t *testing.T) {
	sess := NewSession(logrus.New(), "test")
	ctx := context.Background()

	calls := 0
	init := func(context.Context) (*string, error) {
		calls++
		v := "value"
		return &v, nil
	}

	first, err := Load(ctx, sess, "key", init)
	require.NoError(t, err)
	second, err := Load(ctx, sess, "key", init)
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, 1, calls)
	assert.True(t, sess.Has("key"))

	_, err = Load(ctx, sess, "key", func(context.Context) (int, error) { return 1, nil })
	assert.Error(t, err, "type mismatch")

	sess.Reset()
	assert.False(t, sess.Has("key"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Kind
	}{
		{name: "nil", err: nil, expected: ""},
		{name: "setup", err: WrapSetup(errors.New("x")), expected: KindSetup},
		{name: "submission", err: WrapSubmission(errors.New("x")), expected: KindSubmission},
		{name: "timeout", err: fmt.Errorf("w: %w", client.ErrConfirmationTimeout), expected: KindConfirmationTimeout},
		{name: "non-retryable", err: &client.NonRetryableError{ID: "0x1", Cause: errors.New("reverted")}, expected: KindNonRetryable},
		{name: "cancelled poll", err: &client.NonRetryableError{ID: "0x1", Cause: context.Canceled}, expected: KindCancelled},
		{name: "deadline", err: context.DeadlineExceeded, expected: KindCancelled},
		{name: "panic", err: &PanicError{Value: "boom"}, expected: KindPanic},
		{name: "unknown", err: errors.New("other"), expected: KindNonRetryable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Classify(tt.err))
		})
	}
}

func TestProviderResult_MarshalJSON(t *testing.T) {
	result := &ProviderResult{
		Provider: "Pimlico",
		Window:   WindowInclusion,
		State:    StateSucceeded,
		Latency:  1100 * time.Millisecond,
		Gas: &metrics.Gas{
			L1GasUsed: big.NewInt(1_600),
			L2GasUsed: 100_000,
			GasPrice:  big.NewInt(1_500_000_000),
			L1Fee:     big.NewInt(0),
			TotalFee:  big.NewInt(150_000_000_000_000),
		},
		TxHash: common.HexToHash("0x01"),
	}

	raw, err := json.Marshal(result)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))

	assert.Equal(t, 1.1, fields["latency"])
	assert.Equal(t, "1600", fields["l1GasUsed"])
	assert.Equal(t, "100000", fields["l2GasUsed"])
	assert.Equal(t, "1.5", fields["gasPriceGwei"])
	assert.Equal(t, "0.00015", fields["totalFeeEth"])
	assert.Equal(t, "succeeded", fields["state"])
	assert.NotContains(t, fields, "error")

	failed := &ProviderResult{Provider: "Alchemy", State: StateFailed, Error: "boom", Kind: KindSetup}
	raw, err = json.Marshal(failed)
	require.NoError(t, err)

	var failedFields map[string]any
	require.NoError(t, json.Unmarshal(raw, &failedFields))
	assert.NotContains(t, failedFields, "latency")
	assert.Equal(t, "setup", failedFields["kind"])
}

// pollingAdapter confirms through the poller against a fetch that reports
// not found a fixed number of times.
type pollingAdapter struct {
	name     string
	notFound int
	poller   *client.Poller
}

func (p *pollingAdapter) Name() string   { return p.name }
func (p *pollingAdapter) Window() Window { return WindowInclusion }

func (p *pollingAdapter) Run(ctx context.Context, _ *Session) (*Measurement, error) {
	fetches := 0
	hash, err := client.Poll(ctx, p.poller, "0xop", func(context.Context, string) (common.Hash, error) {
		fetches++
		if fetches <= p.notFound {
			return common.Hash{}, client.ErrNotFound
		}
		return common.HexToHash("0x02"), nil
	})
	if err != nil {
		return &Measurement{Attempts: fetches}, err
	}

	return &Measurement{
		Latency:  time.Second,
		TxHash:   hash,
		Gas:      metrics.Gas{L1GasUsed: big.NewInt(1), GasPrice: big.NewInt(1), L1Fee: big.NewInt(1), TotalFee: big.NewInt(2), L2GasUsed: 1},
		Attempts: fetches,
	}, nil
}

func TestOrchestrator_MixedOutcomes(t *testing.T) {
	poller := client.NewPoller(logrus.New(), client.RetryPolicy{Attempts: 3, MinDelay: time.Millisecond, MaxDelay: time.Millisecond},
		client.WithSleeper(func(context.Context, time.Duration) error { return nil }))

	adapters := []Adapter{
		&stubAdapter{name: "one", latency: time.Second},
		&stubAdapter{name: "two", err: WrapSetup(errors.New("missing key"))},
		&stubAdapter{name: "three", latency: 2 * time.Second},
		&pollingAdapter{name: "four", notFound: 10, poller: poller},
		&pollingAdapter{name: "five", notFound: 2, poller: poller},
	}

	run, err := newTestOrchestrator(t, DefaultRunnerConfig(), adapters...).Trigger(context.Background())
	require.NoError(t, err)

	assert.Equal(t, RunStateDone, run.State)
	require.Len(t, run.Results, 5)

	succeeded, failed := run.Counts()
	assert.Equal(t, 3, succeeded)
	assert.Equal(t, 2, failed)

	assert.Equal(t, KindSetup, run.Results["two"].Kind)
	assert.Equal(t, KindConfirmationTimeout, run.Results["four"].Kind)
	assert.Equal(t, 3, run.Results["four"].Attempts)
	assert.Equal(t, StateSucceeded, run.Results["five"].State)
	assert.Equal(t, 3, run.Results["five"].Attempts)
}

// barrier releases its waiters once n of them have arrived.
type barrier struct {
	n       int32
	arrived atomic.Int32
	all     chan struct{}
}

func newBarrier(n int) *barrier {
	return &barrier{n: int32(n), all: make(chan struct{})}
}

// barrierAdapter only finishes once every adapter sharing its barrier is
// inside Run.
type barrierAdapter struct {
	name    string
	barrier *barrier
}

func (b *barrierAdapter) Name() string   { return b.name }
func (b *barrierAdapter) Window() Window { return WindowInclusion }

func (b *barrierAdapter) Run(ctx context.Context, _ *Session) (*Measurement, error) {
	if b.barrier.arrived.Add(1) == b.barrier.n {
		close(b.barrier.all)
	}

	select {
	case <-b.barrier.all:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return (&stubAdapter{name: b.name, latency: time.Second}).Run(ctx, nil)
}

func TestOrchestrator_RunsAdaptersConcurrently(t *testing.T) {
	const n = 5

	b := newBarrier(n)
	adapters := make([]Adapter, 0, n)
	for i := 0; i < n; i++ {
		adapters = append(adapters, &barrierAdapter{name: fmt.Sprintf("adapter-%d", i), barrier: b})
	}

	config := DefaultRunnerConfig()
	config.AdapterTimeout = 2 * time.Second

	run, err := newTestOrchestrator(t, config, adapters...).Trigger(context.Background())
	require.NoError(t, err)

	succeeded, failed := run.Counts()
	assert.Equal(t, n, succeeded)
	assert.Equal(t, 0, failed)
	assert.Equal(t, int32(n), b.arrived.Load())
}

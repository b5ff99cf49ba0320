package benchmark

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/metrics"
	"golang.org/x/sync/errgroup"
)

// Measurement is what an adapter reports for one sponsored transaction.
type Measurement struct {
	Latency  time.Duration
	TxHash   common.Hash
	Gas      metrics.Gas
	Account  common.Address
	Attempts int
}

// Adapter sends one sponsored no-op transaction through a provider.
type Adapter interface {
	// Name returns the provider's display name.
	Name() string
	// Window returns where the adapter stops its latency timer.
	Window() Window
	// Run sends the transaction and measures it. Setup state is cached in sess.
	Run(ctx context.Context, sess *Session) (*Measurement, error)
}

// Preparer is implemented by adapters that can create their signer, account
// and clients ahead of a run.
type Preparer interface {
	Prepare(ctx context.Context, sess *Session) error
}

// RunnerConfig contains configuration for the orchestrator.
type RunnerConfig struct {
	// AdapterTimeout bounds a single adapter run. Zero disables the bound.
	AdapterTimeout time.Duration
	// PrepareConfig configures the warm-up phase.
	PrepareConfig PrepareConfig
}

// DefaultRunnerConfig returns sensible defaults for the orchestrator.
func DefaultRunnerConfig() RunnerConfig {
	return RunnerConfig{
		AdapterTimeout: 2 * time.Minute,
		PrepareConfig:  DefaultPrepareConfig(),
	}
}

// Orchestrator runs all adapters concurrently, one run at a time.
type Orchestrator interface {
	// Trigger runs every adapter and blocks until all of them resolved.
	Trigger(ctx context.Context) (*Run, error)
	// Start launches a run in the background and returns its initial view.
	Start(ctx context.Context) (*Run, error)
	// Prepare warms up the adapters without sending transactions.
	Prepare(ctx context.Context) (*PrepareResult, error)
	// Latest returns a copy of the most recent run, or nil before the first.
	Latest() *Run
	// State returns the current run state.
	State() RunState
	// Adapters returns the adapter names in launch order.
	Adapters() []string
}

// orchestrator implements Orchestrator.
type orchestrator struct {
	log      logrus.FieldLogger
	config   RunnerConfig
	recorder *metrics.Recorder

	adapters []Adapter
	sessions map[string]*Session

	// busy guards against overlapping runs and prepares.
	busy   atomic.Bool
	nextID atomic.Uint64

	mu     sync.RWMutex
	state  RunState
	latest *Run
}

// NewOrchestrator creates an orchestrator over the adapters, launched in the
// given order. Adapter names must be unique.
func NewOrchestrator(log logrus.FieldLogger, config RunnerConfig, recorder *metrics.Recorder, adapters ...Adapter) (Orchestrator, error) {
	o := &orchestrator{
		log:      log.WithField("component", "orchestrator"),
		config:   config,
		recorder: recorder,
		adapters: adapters,
		sessions: make(map[string]*Session, len(adapters)),
		state:    RunStateIdle,
	}

	for _, a := range adapters {
		if _, ok := o.sessions[a.Name()]; ok {
			return nil, fmt.Errorf("duplicate adapter %q", a.Name())
		}
		o.sessions[a.Name()] = NewSession(log, a.Name())
	}

	return o, nil
}

func (o *orchestrator) Adapters() []string {
	names := make([]string, len(o.adapters))
	for i, a := range o.adapters {
		names[i] = a.Name()
	}
	return names
}

func (o *orchestrator) State() RunState {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.state
}

func (o *orchestrator) Latest() *Run {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if o.latest == nil {
		return nil
	}
	return o.latest.Copy()
}

func (o *orchestrator) Trigger(ctx context.Context) (*Run, error) {
	run, err := o.begin()
	if err != nil {
		return nil, err
	}

	return o.execute(ctx, run), nil
}

func (o *orchestrator) Start(ctx context.Context) (*Run, error) {
	run, err := o.begin()
	if err != nil {
		return nil, err
	}

	view := o.Latest()
	go o.execute(context.WithoutCancel(ctx), run)

	return view, nil
}

// begin claims the orchestrator and publishes a new run with every result
// pending. The previous run is replaced, not merged.
func (o *orchestrator) begin() (*Run, error) {
	if !o.busy.CompareAndSwap(false, true) {
		o.recorder.ObserveRun("rejected", 0)
		o.log.Warn("Run rejected, another run is in progress")
		return nil, ErrRunInProgress
	}

	run := &Run{
		ID:        o.nextID.Add(1),
		State:     RunStateRunning,
		StartedAt: time.Now(),
		Order:     o.Adapters(),
		Results:   make(map[string]*ProviderResult, len(o.adapters)),
	}
	for _, a := range o.adapters {
		run.Results[a.Name()] = &ProviderResult{
			Provider: a.Name(),
			Window:   a.Window(),
			State:    StatePending,
		}
	}

	o.mu.Lock()
	o.state = RunStateRunning
	o.latest = run
	o.mu.Unlock()

	return run, nil
}

// execute fans out the adapters and moves the run to done once all resolved.
// It returns a copy of the finished run.
func (o *orchestrator) execute(ctx context.Context, run *Run) *Run {
	o.log.WithFields(logrus.Fields{
		"run":      run.ID,
		"adapters": len(o.adapters),
		"timeout":  o.config.AdapterTimeout,
	}).Info("Starting benchmark run")

	g, gctx := errgroup.WithContext(ctx)
	for _, a := range o.adapters {
		g.Go(func() error {
			o.runAdapter(gctx, run, a)
			return nil
		})
	}
	_ = g.Wait()

	o.mu.Lock()
	run.State = RunStateDone
	run.FinishedAt = time.Now()
	o.state = RunStateDone
	final := run.Copy()
	// Released under the lock so that observers of the done state can start
	// the next run right away.
	o.busy.Store(false)
	o.mu.Unlock()

	succeeded, failed := final.Counts()
	o.recorder.ObserveRun("completed", final.Duration())

	o.log.WithFields(logrus.Fields{
		"run":       run.ID,
		"duration":  final.Duration(),
		"succeeded": succeeded,
		"failed":    failed,
	}).Info("Benchmark run completed")

	return final
}

// runAdapter runs a single adapter and folds every outcome into its result.
func (o *orchestrator) runAdapter(ctx context.Context, run *Run, a Adapter) {
	log := o.log.WithFields(logrus.Fields{
		"run":      run.ID,
		"provider": a.Name(),
	})

	startedAt := time.Now()
	log.Debug("Adapter started")

	m, err := o.safeRun(ctx, a, o.sessions[a.Name()])

	result := &ProviderResult{
		Provider:   a.Name(),
		Window:     a.Window(),
		StartedAt:  startedAt,
		FinishedAt: time.Now(),
	}

	if err != nil {
		result.State = StateFailed
		result.Error = err.Error()
		result.Kind = Classify(err)
		if m != nil {
			result.TxHash = m.TxHash
			result.Account = m.Account
			result.Attempts = m.Attempts
		}

		log.WithError(err).WithField("kind", result.Kind).Warn("Adapter failed")
		o.recorder.ObserveResult(a.Name(), string(a.Window()), string(result.State), string(result.Kind), 0, nil)
	} else {
		gas := m.Gas.Copy()
		result.State = StateSucceeded
		result.Latency = m.Latency
		result.Gas = &gas
		result.TxHash = m.TxHash
		result.Account = m.Account
		result.Attempts = m.Attempts

		log.WithFields(logrus.Fields{
			"latency":  m.Latency,
			"window":   a.Window(),
			"tx":       m.TxHash.Hex(),
			"l2Gas":    gas.L2GasUsed,
			"totalFee": metrics.FormatEther(gas.TotalFee),
		}).Info("Adapter completed")
		o.recorder.ObserveResult(a.Name(), string(a.Window()), string(result.State), "", m.Latency, &gas)
	}

	o.mu.Lock()
	run.Results[a.Name()] = result
	o.mu.Unlock()
}

// safeRun applies the adapter timeout and converts panics into errors.
func (o *orchestrator) safeRun(ctx context.Context, a Adapter, sess *Session) (m *Measurement, err error) {
	defer func() {
		if r := recover(); r != nil {
			m = nil
			err = &PanicError{Value: r}
		}
	}()

	if o.config.AdapterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.config.AdapterTimeout)
		defer cancel()
	}

	m, err = a.Run(ctx, sess)
	if err == nil && m == nil {
		err = fmt.Errorf("adapter returned no measurement")
	}
	return m, err
}

// Verify interface compliance.
var _ Orchestrator = (*orchestrator)(nil)

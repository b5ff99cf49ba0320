package benchmark

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// PrepareConfig contains configuration for the warm-up phase.
type PrepareConfig struct {
	// Enabled controls whether commands warm up before the first run.
	Enabled bool
	// Timeout is the maximum time for all adapters to prepare.
	Timeout time.Duration
}

// DefaultPrepareConfig returns sensible defaults for warm-up.
func DefaultPrepareConfig() PrepareConfig {
	return PrepareConfig{
		Enabled: true,
		Timeout: time.Minute,
	}
}

// PrepareResult contains the outcome of a warm-up.
type PrepareResult struct {
	// Prepared lists the adapters that finished their setup.
	Prepared []string
	// Skipped lists the adapters without a setup step.
	Skipped []string
	// Errors maps adapter names to their setup failure.
	Errors map[string]string
	// Duration is the wall time of the warm-up.
	Duration time.Duration
}

// OK returns true if no adapter failed to prepare.
func (r *PrepareResult) OK() bool {
	return len(r.Errors) == 0
}

// Prepare runs every Preparer concurrently so that signer, account and client
// creation is kept out of the timed run. Failures are reported per adapter
// and left uncached, so the run retries them.
func (o *orchestrator) Prepare(ctx context.Context) (*PrepareResult, error) {
	if !o.busy.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer o.busy.Store(false)

	result := &PrepareResult{
		Prepared: make([]string, 0, len(o.adapters)),
		Skipped:  make([]string, 0),
		Errors:   make(map[string]string),
	}

	cfg := o.config.PrepareConfig
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	log := o.log.WithField("phase", "prepare")
	log.WithField("adapters", len(o.adapters)).Info("Starting warm-up phase")

	startTime := time.Now()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)

	for _, a := range o.adapters {
		p, ok := a.(Preparer)
		if !ok {
			result.Skipped = append(result.Skipped, a.Name())
			continue
		}

		g.Go(func() error {
			err := o.safePrepare(gctx, p, o.sessions[a.Name()])

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				log.WithError(err).WithField("provider", a.Name()).Warn("Warm-up failed")
				result.Errors[a.Name()] = err.Error()
				return nil
			}

			log.WithField("provider", a.Name()).Debug("Warm-up completed")
			result.Prepared = append(result.Prepared, a.Name())
			return nil
		})
	}
	_ = g.Wait()

	result.Duration = time.Since(startTime)

	log.WithFields(logrus.Fields{
		"prepared": len(result.Prepared),
		"skipped":  len(result.Skipped),
		"errors":   len(result.Errors),
		"duration": result.Duration,
	}).Info("Warm-up phase completed")

	return result, nil
}

func (o *orchestrator) safePrepare(ctx context.Context, p Preparer, sess *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r}
		}
	}()
	return p.Prepare(ctx, sess)
}

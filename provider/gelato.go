package provider

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
)

type gelatoSetup struct {
	relay client.Relay
	chain client.ChainClient
}

// Gelato relays a sponsored no-op call through the Gelato relay and measures
// it up to block inclusion.
type Gelato struct {
	log     logrus.FieldLogger
	opts    Options
	baseURL string
	apiKey  string

	newRelay func(baseURL, apiKey string) (client.Relay, error)
}

// NewGelato creates the Gelato adapter.
func NewGelato(log logrus.FieldLogger, opts Options, baseURL, apiKey string) *Gelato {
	log = log.WithField("provider", NameGelato)

	return &Gelato{
		log:     log,
		opts:    opts.withDefaults(log),
		baseURL: baseURL,
		apiKey:  apiKey,
		newRelay: func(baseURL, apiKey string) (client.Relay, error) {
			return client.NewRelay(log, baseURL, apiKey)
		},
	}
}

// Name returns the provider's display name.
func (g *Gelato) Name() string {
	return NameGelato
}

// Window reports that latency runs until block inclusion.
func (g *Gelato) Window() benchmark.Window {
	return benchmark.WindowInclusion
}

// Prepare creates the relay and chain clients.
func (g *Gelato) Prepare(ctx context.Context, sess *benchmark.Session) error {
	_, err := g.setup(ctx, sess)
	return err
}

// Run relays the call, waits for the task and measures the transaction.
func (g *Gelato) Run(ctx context.Context, sess *benchmark.Session) (*benchmark.Measurement, error) {
	s, err := g.setup(ctx, sess)
	if err != nil {
		return nil, err
	}

	start := time.Now()

	taskID, err := s.relay.SponsoredCall(ctx, g.opts.ChainID, noopTarget, []byte{})
	if err != nil {
		return nil, benchmark.WrapSubmission(err)
	}

	attempts := 0
	task, err := client.Poll(ctx, g.opts.Poller.With(client.WithLabel("relay_task")), taskID,
		func(ctx context.Context, id string) (*client.TaskStatus, error) {
			attempts++
			return s.relay.TaskStatus(ctx, id)
		})
	if err != nil {
		return &benchmark.Measurement{Attempts: attempts}, err
	}

	g.log.WithFields(logrus.Fields{
		"taskId":   taskID,
		"tx":       task.TransactionHash.Hex(),
		"attempts": attempts,
	}).Debug("Relay task executed")

	m, err := measureInclusion(ctx, s.chain, g.opts.Poller, task.TransactionHash, start)
	m.Attempts += attempts

	return m, err
}

func (g *Gelato) setup(ctx context.Context, sess *benchmark.Session) (*gelatoSetup, error) {
	return benchmark.Load(ctx, sess, keySetup, func(ctx context.Context) (*gelatoSetup, error) {
		if g.apiKey == "" {
			return nil, missingSetting("GELATO_API_KEY")
		}

		relay, err := g.newRelay(g.baseURL, g.apiKey)
		if err != nil {
			return nil, benchmark.WrapSetup(err)
		}

		chain, err := g.opts.dialChain(ctx)
		if err != nil {
			return nil, benchmark.WrapSetup(err)
		}

		return &gelatoSetup{relay: relay, chain: chain}, nil
	})
}

// Verify interface compliance.
var (
	_ benchmark.Adapter  = (*Gelato)(nil)
	_ benchmark.Preparer = (*Gelato)(nil)
)

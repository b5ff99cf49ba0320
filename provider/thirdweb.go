package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/aa"
	"github.com/skylenet/aa-benchmark/account"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

type thirdwebSetup struct {
	route client.ThirdwebRoute
	chain client.ChainClient
}

// Thirdweb triggers the thirdweb route and measures the HTTP round trip.
// Gas metrics are read from the chain once the transaction is included.
type Thirdweb struct {
	log    logrus.FieldLogger
	opts   Options
	url    string
	secret []byte
}

// NewThirdweb creates the thirdweb adapter for the route at url.
func NewThirdweb(log logrus.FieldLogger, opts Options, url string, secret []byte) *Thirdweb {
	log = log.WithField("provider", NameThirdweb)

	return &Thirdweb{
		log:    log,
		opts:   opts.withDefaults(log),
		url:    url,
		secret: secret,
	}
}

// Name returns the provider's display name.
func (t *Thirdweb) Name() string {
	return NameThirdweb
}

// Window reports that latency stops at the route's HTTP response.
func (t *Thirdweb) Window() benchmark.Window {
	return benchmark.WindowSubmission
}

// Prepare creates the route client and chain client, and the account of a
// locally served route.
func (t *Thirdweb) Prepare(ctx context.Context, sess *benchmark.Session) error {
	if _, err := t.setup(ctx, sess); err != nil {
		return err
	}

	if t.opts.LocalRoute != nil {
		if err := t.opts.LocalRoute.Prepare(ctx); err != nil {
			return benchmark.WrapSetup(fmt.Errorf("thirdweb route: %w", err))
		}
	}

	return nil
}

// Run calls the route and reads gas from the included transaction.
func (t *Thirdweb) Run(ctx context.Context, sess *benchmark.Session) (*benchmark.Measurement, error) {
	s, err := t.setup(ctx, sess)
	if err != nil {
		return nil, err
	}

	resp, latency, err := s.route.Submit(ctx)
	if err != nil {
		return nil, benchmark.WrapSubmission(err)
	}

	res, err := confirm(ctx, s.chain, t.opts.Poller, resp.TransactionHash)
	m := &benchmark.Measurement{
		Latency:  latency,
		TxHash:   resp.TransactionHash,
		Account:  resp.SmartAccount,
		Attempts: res.attempts,
	}
	if err != nil {
		return m, err
	}
	m.Gas = res.gas

	return m, nil
}

func (t *Thirdweb) setup(ctx context.Context, sess *benchmark.Session) (*thirdwebSetup, error) {
	return benchmark.Load(ctx, sess, keySetup, func(ctx context.Context) (*thirdwebSetup, error) {
		if t.url == "" {
			return nil, missingSetting("THIRDWEB_TX_URL")
		}

		route, err := client.NewThirdwebRoute(t.log, t.url, t.secret)
		if err != nil {
			return nil, benchmark.WrapSetup(err)
		}

		chain, err := t.opts.dialChain(ctx)
		if err != nil {
			return nil, benchmark.WrapSetup(err)
		}

		return &thirdwebSetup{route: route, chain: chain}, nil
	})
}

// ThirdwebSubmitter is the server side of the thirdweb route. It keeps one
// smart account for the life of the process and sends a sponsored
// zero-value transfer per request.
type ThirdwebSubmitter struct {
	log        logrus.FieldLogger
	opts       Options
	secretKey  string
	bundlerURL string
	session    *benchmark.Session
}

// NewThirdwebSubmitter creates a submitter using the thirdweb bundler at
// bundlerURL, authenticated with secretKey.
func NewThirdwebSubmitter(log logrus.FieldLogger, opts Options, secretKey, bundlerURL string) *ThirdwebSubmitter {
	log = log.WithField("component", "thirdweb-submitter")

	return &ThirdwebSubmitter{
		log:        log,
		opts:       opts.withDefaults(log),
		secretKey:  secretKey,
		bundlerURL: bundlerURL,
		session:    benchmark.NewSession(log, "thirdweb-route"),
	}
}

// Prepare creates the signer, clients and smart account ahead of the first
// request.
func (t *ThirdwebSubmitter) Prepare(ctx context.Context) error {
	_, err := t.setup(ctx)
	return err
}

// Submit sends the transfer and returns once the bundler reports the
// transaction hash.
func (t *ThirdwebSubmitter) Submit(ctx context.Context) (*client.ThirdwebTxResponse, error) {
	start := time.Now()

	s, err := t.setup(ctx)
	if err != nil {
		return nil, err
	}

	hash, err := s.sender.Send(ctx, []userop.Call{userop.NoopCall(thirdwebTarget)})
	if err != nil {
		return nil, err
	}

	receipt, _, err := s.sender.Wait(ctx, hash)
	if err != nil {
		return nil, err
	}

	processing := time.Since(start)
	t.log.WithFields(logrus.Fields{
		"tx":             receipt.Receipt.TransactionHash.Hex(),
		"processingTime": processing,
	}).Info("Processed thirdweb transaction")

	return &client.ThirdwebTxResponse{
		TransactionHash: receipt.Receipt.TransactionHash,
		SmartAccount:    s.address,
		ProcessingTime:  processing.Milliseconds(),
	}, nil
}

func (t *ThirdwebSubmitter) setup(ctx context.Context) (*userOpSetup, error) {
	return benchmark.Load(ctx, t.session, keySetup, func(ctx context.Context) (*userOpSetup, error) {
		if t.secretKey == "" {
			return nil, fmt.Errorf("missing THIRDWEB_SECRET_KEY")
		}

		signer, err := t.opts.newSigner()
		if err != nil {
			return nil, err
		}

		chain, err := t.opts.dialChain(ctx)
		if err != nil {
			return nil, err
		}

		bundler, err := t.opts.dialBundler(ctx, t.bundlerURL, client.WithHeader("x-secret-key", t.secretKey))
		if err != nil {
			chain.Close()
			return nil, err
		}

		acc, err := account.NewThirdwebAccount(t.log, chain, userop.EntryPointV07, signer)
		if err != nil {
			chain.Close()
			bundler.Close()
			return nil, err
		}

		sender, err := aa.NewSender(t.log, aa.Config{
			Bundler: bundler,
			Chain:   chain,
			Account: acc,
			ChainID: t.opts.ChainID,
			Fees:    aa.FlatFees(bundler, "thirdweb_getUserOperationGasPrice"),
			Sponsor: aa.PaymasterSponsor(bundler, nil),
			Poller:  t.opts.Poller,
		})
		if err != nil {
			chain.Close()
			bundler.Close()
			return nil, err
		}

		address, err := acc.Address(ctx)
		if err != nil {
			chain.Close()
			bundler.Close()
			return nil, err
		}

		t.log.WithField("account", address.Hex()).Info("thirdweb smart account ready")

		return &userOpSetup{chain: chain, sender: sender, address: address}, nil
	})
}

// Verify interface compliance.
var (
	_ benchmark.Adapter  = (*Thirdweb)(nil)
	_ benchmark.Preparer = (*Thirdweb)(nil)
)

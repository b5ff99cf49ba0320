// Package provider implements the benchmark adapters for the five sponsored
// transaction providers and the server side of the thirdweb route.
package provider

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/account"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/config"
)

// Display names of the providers.
const (
	NameGelato   = "Gelato SmartWallet SDK"
	NameAlchemy  = "Alchemy"
	NameZeroDev  = "ZeroDev UltraRelay"
	NamePimlico  = "Pimlico"
	NameThirdweb = "thirdweb"
)

// Session keys.
const (
	keySetup = "setup"
)

var (
	// noopTarget receives the zero-value call of most providers.
	noopTarget = common.Address{}
	// thirdwebTarget receives the zero-value transfer of the thirdweb route.
	thirdwebTarget = common.HexToAddress("0xd8dA6BF26964aF9D7eEd9e03E53415D37aA96045")
)

// Options holds the collaborators shared by every adapter.
type Options struct {
	ChainID *big.Int
	RPCURL  string
	Poller  *client.Poller
	// LocalRoute is the submitter behind an in-process thirdweb route. It is
	// warmed together with the thirdweb adapter.
	LocalRoute *ThirdwebSubmitter

	dialChain   func(ctx context.Context) (client.ChainClient, error)
	dialBundler func(ctx context.Context, endpoint string, opts ...client.BundlerOption) (client.Bundler, error)
	newSigner   func() (*account.Signer, error)
}

// OptionsFromConfig derives adapter options from the application config.
func OptionsFromConfig(cfg *config.Config, poller *client.Poller) Options {
	return Options{
		ChainID: cfg.ChainIDBig(),
		RPCURL:  cfg.RPCURL,
		Poller:  poller,
	}
}

func (o Options) withDefaults(log logrus.FieldLogger) Options {
	if o.ChainID == nil {
		o.ChainID = big.NewInt(84532)
	}
	if o.Poller == nil {
		o.Poller = client.NewPoller(log, client.DefaultRetryPolicy())
	}
	if o.dialChain == nil {
		rpcURL := o.RPCURL
		o.dialChain = func(ctx context.Context) (client.ChainClient, error) {
			return client.DialChain(ctx, log, rpcURL)
		}
	}
	if o.dialBundler == nil {
		o.dialBundler = func(ctx context.Context, endpoint string, opts ...client.BundlerOption) (client.Bundler, error) {
			return client.DialBundler(ctx, log, endpoint, opts...)
		}
	}
	if o.newSigner == nil {
		o.newSigner = account.GenerateSigner
	}
	return o
}

// New creates the adapters for every enabled provider in launch order.
func New(log logrus.FieldLogger, cfg *config.Config, opts Options) ([]benchmark.Adapter, error) {
	opts = opts.withDefaults(log)

	adapters := make([]benchmark.Adapter, 0, len(cfg.Providers))
	for _, key := range cfg.Providers {
		var a benchmark.Adapter

		switch key {
		case config.ProviderGelato:
			a = NewGelato(log, opts, cfg.Gelato.RelayURL, cfg.Gelato.APIKey)
		case config.ProviderAlchemy:
			a = NewAlchemy(log, opts, cfg.AlchemyURL(), cfg.Alchemy.PolicyID)
		case config.ProviderZeroDev:
			a = NewZeroDev(log, opts, cfg.UltraRelay.URL)
		case config.ProviderPimlico:
			a = NewPimlico(log, opts, cfg.Pimlico.URL)
		case config.ProviderThirdweb:
			a = NewThirdweb(log, opts, cfg.Thirdweb.RouteURL, []byte(cfg.Thirdweb.RouteSecret))
		default:
			return nil, fmt.Errorf("unknown provider %q", key)
		}

		adapters = append(adapters, a)
	}

	return adapters, nil
}

// missingSetting is the setup error of an adapter without its endpoint or key.
func missingSetting(name string) error {
	return benchmark.WrapSetup(fmt.Errorf("%s is not configured", name))
}

package provider

import (
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/aa"
	"github.com/skylenet/aa-benchmark/account"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// NewAlchemy creates the Alchemy adapter: a Light Account v2 sponsored by a
// gas manager policy.
func NewAlchemy(log logrus.FieldLogger, opts Options, endpoint, policyID string) benchmark.Adapter {
	log = log.WithField("provider", NameAlchemy)

	return &userOpAdapter{
		log:      log,
		name:     NameAlchemy,
		setting:  "ALCHEMY_API_KEY",
		endpoint: endpoint,
		opts:     opts.withDefaults(log),
		build: func(bundler client.Bundler, chain client.ChainClient, signer *account.Signer) (*stack, error) {
			if policyID == "" {
				return nil, fmt.Errorf("ALCHEMY_POLICY_ID is not configured")
			}

			acc, err := account.NewLightAccount(log, chain, userop.EntryPointV07, signer)
			if err != nil {
				return nil, err
			}

			// The gas manager prices the operation itself.
			return &stack{
				account: acc,
				fees:    aa.ZeroFees(),
				sponsor: aa.AlchemyPolicySponsor(bundler, policyID),
			}, nil
		},
	}
}

// NewZeroDev creates the ZeroDev UltraRelay adapter: a Kernel v3.1 account
// submitted with zero fees, which UltraRelay sponsors natively.
func NewZeroDev(log logrus.FieldLogger, opts Options, endpoint string) benchmark.Adapter {
	log = log.WithField("provider", NameZeroDev)

	return &userOpAdapter{
		log:      log,
		name:     NameZeroDev,
		setting:  "ULTRA_RELAY_URL",
		endpoint: endpoint,
		opts:     opts.withDefaults(log),
		build: func(_ client.Bundler, chain client.ChainClient, signer *account.Signer) (*stack, error) {
			acc, err := account.NewKernel(log, chain, userop.EntryPointV07, signer)
			if err != nil {
				return nil, err
			}

			return &stack{
				account: acc,
				fees:    aa.ZeroFees(),
				sponsor: aa.NoSponsor(),
			}, nil
		},
	}
}

// NewPimlico creates the Pimlico adapter: a Safe 1.4.1 account sponsored by
// the Pimlico paymaster at the fast fee tier. The call targets the account.
func NewPimlico(log logrus.FieldLogger, opts Options, endpoint string) benchmark.Adapter {
	log = log.WithField("provider", NamePimlico)

	return &userOpAdapter{
		log:      log,
		name:     NamePimlico,
		setting:  "PIMLICO_URL",
		endpoint: endpoint,
		opts:     opts.withDefaults(log),
		toSelf:   true,
		build: func(bundler client.Bundler, chain client.ChainClient, signer *account.Signer) (*stack, error) {
			acc, err := account.NewSafe(log, chain, userop.EntryPointV07, signer)
			if err != nil {
				return nil, err
			}

			return &stack{
				account: acc,
				fees:    aa.TieredFees(bundler, "pimlico_getUserOperationGasPrice", aa.TierFast),
				sponsor: aa.PaymasterSponsor(bundler, nil),
			}, nil
		},
	}
}

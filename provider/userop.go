package provider

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/aa"
	"github.com/skylenet/aa-benchmark/account"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// stack is the provider specific part of a user operation flow.
type stack struct {
	account account.Account
	fees    aa.FeeSource
	sponsor aa.Sponsor
}

// stackFunc builds the account, fee source and sponsor of a provider.
type stackFunc func(bundler client.Bundler, chain client.ChainClient, signer *account.Signer) (*stack, error)

// userOpSetup is the cached state of a user operation adapter.
type userOpSetup struct {
	chain   client.ChainClient
	sender  *aa.Sender
	address common.Address
}

// userOpAdapter sends a sponsored no-op user operation through an ERC-4337
// bundler and measures it up to block inclusion.
type userOpAdapter struct {
	log      logrus.FieldLogger
	name     string
	setting  string
	endpoint string
	opts     Options
	headers  []client.BundlerOption
	build    stackFunc
	// toSelf sends the call to the account itself instead of the zero address.
	toSelf bool
}

// Name returns the provider's display name.
func (u *userOpAdapter) Name() string {
	return u.name
}

func (u *userOpAdapter) Window() benchmark.Window {
	return benchmark.WindowInclusion
}

// Prepare creates the signer, clients and account and resolves the
// counterfactual address.
func (u *userOpAdapter) Prepare(ctx context.Context, sess *benchmark.Session) error {
	_, err := u.setup(ctx, sess)
	return err
}

// Run sends a sponsored user operation and measures it up to inclusion.
func (u *userOpAdapter) Run(ctx context.Context, sess *benchmark.Session) (*benchmark.Measurement, error) {
	s, err := u.setup(ctx, sess)
	if err != nil {
		return nil, err
	}

	target := noopTarget
	if u.toSelf {
		target = s.address
	}

	start := time.Now()

	hash, err := s.sender.Send(ctx, []userop.Call{userop.NoopCall(target)})
	if err != nil {
		return &benchmark.Measurement{Account: s.address}, benchmark.WrapSubmission(err)
	}

	receipt, attempts, err := s.sender.Wait(ctx, hash)
	if err != nil {
		m := &benchmark.Measurement{Account: s.address, Attempts: attempts}
		if receipt != nil {
			m.TxHash = receipt.Receipt.TransactionHash
		}
		return m, err
	}

	u.log.WithFields(logrus.Fields{
		"userOpHash": hash.Hex(),
		"tx":         receipt.Receipt.TransactionHash.Hex(),
		"attempts":   attempts,
	}).Debug("User operation included")

	m, err := measureInclusion(ctx, s.chain, u.opts.Poller, receipt.Receipt.TransactionHash, start)
	m.Account = s.address
	m.Attempts += attempts

	return m, err
}

func (u *userOpAdapter) setup(ctx context.Context, sess *benchmark.Session) (*userOpSetup, error) {
	return benchmark.Load(ctx, sess, keySetup, func(ctx context.Context) (*userOpSetup, error) {
		if u.endpoint == "" {
			return nil, missingSetting(u.setting)
		}

		signer, err := u.opts.newSigner()
		if err != nil {
			return nil, benchmark.WrapSetup(err)
		}

		chain, err := u.opts.dialChain(ctx)
		if err != nil {
			return nil, benchmark.WrapSetup(err)
		}

		bundler, err := u.opts.dialBundler(ctx, u.endpoint, u.headers...)
		if err != nil {
			chain.Close()
			return nil, benchmark.WrapSetup(err)
		}

		st, err := u.build(bundler, chain, signer)
		if err != nil {
			chain.Close()
			bundler.Close()
			return nil, benchmark.WrapSetup(err)
		}

		sender, err := aa.NewSender(u.log, aa.Config{
			Bundler: bundler,
			Chain:   chain,
			Account: st.account,
			ChainID: u.opts.ChainID,
			Fees:    st.fees,
			Sponsor: st.sponsor,
			Poller:  u.opts.Poller,
		})
		if err != nil {
			chain.Close()
			bundler.Close()
			return nil, benchmark.WrapSetup(err)
		}

		address, err := st.account.Address(ctx)
		if err != nil {
			chain.Close()
			bundler.Close()
			return nil, benchmark.WrapSetup(err)
		}

		u.log.WithFields(logrus.Fields{
			"account": address.Hex(),
			"kind":    st.account.Kind(),
			"owner":   signer.Address().Hex(),
		}).Info("Smart account ready")

		return &userOpSetup{
			chain:   chain,
			sender:  sender,
			address: address,
		}, nil
	})
}

// Verify interface compliance.
var (
	_ benchmark.Adapter  = (*userOpAdapter)(nil)
	_ benchmark.Preparer = (*userOpAdapter)(nil)
)

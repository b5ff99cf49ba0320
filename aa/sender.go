// Package aa builds, sponsors, signs and submits ERC-4337 user operations.
package aa

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/account"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// Sender drives the sponsored user operation flow for one account.
type Sender struct {
	log        logrus.FieldLogger
	bundler    client.Bundler
	chain      client.ChainClient
	account    account.Account
	entryPoint common.Address
	chainID    *big.Int
	fees       FeeSource
	sponsor    Sponsor
	poller     *client.Poller
}

// Config holds the collaborators of a Sender.
type Config struct {
	Bundler    client.Bundler
	Chain      client.ChainClient
	Account    account.Account
	EntryPoint common.Address
	ChainID    *big.Int
	Fees       FeeSource
	Sponsor    Sponsor
	Poller     *client.Poller
}

// NewSender validates cfg and creates a Sender.
func NewSender(log logrus.FieldLogger, cfg Config) (*Sender, error) {
	switch {
	case cfg.Bundler == nil:
		return nil, fmt.Errorf("bundler is required")
	case cfg.Chain == nil:
		return nil, fmt.Errorf("chain client is required")
	case cfg.Account == nil:
		return nil, fmt.Errorf("account is required")
	case cfg.ChainID == nil:
		return nil, fmt.Errorf("chain id is required")
	case cfg.Poller == nil:
		return nil, fmt.Errorf("poller is required")
	}

	if cfg.EntryPoint == (common.Address{}) {
		cfg.EntryPoint = userop.EntryPointV07
	}
	if cfg.Fees == nil {
		cfg.Fees = ZeroFees()
	}
	if cfg.Sponsor == nil {
		cfg.Sponsor = NoSponsor()
	}

	return &Sender{
		log:        log.WithFields(logrus.Fields{"component": "aa-sender", "account": cfg.Account.Kind()}),
		bundler:    cfg.Bundler,
		chain:      cfg.Chain,
		account:    cfg.Account,
		entryPoint: cfg.EntryPoint,
		chainID:    new(big.Int).Set(cfg.ChainID),
		fees:       cfg.Fees,
		sponsor:    cfg.Sponsor,
		poller:     cfg.Poller,
	}, nil
}

// Account returns the sender's smart account.
func (s *Sender) Account() account.Account {
	return s.account
}

// Build assembles an unsigned, priced, sponsored and gas-limited operation.
func (s *Sender) Build(ctx context.Context, calls []userop.Call) (*userop.UserOperation, error) {
	sender, err := s.account.Address(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve account address: %w", err)
	}

	factory, factoryData, err := s.account.FactoryData(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve factory data: %w", err)
	}

	callData, err := s.account.EncodeCalls(calls)
	if err != nil {
		return nil, fmt.Errorf("failed to encode calls: %w", err)
	}

	nonce, err := s.Nonce(ctx, sender)
	if err != nil {
		return nil, err
	}

	op := &userop.UserOperation{
		Sender:      sender,
		Nonce:       nonce,
		Factory:     factory,
		FactoryData: factoryData,
		CallData:    callData,
		Signature:   s.account.DummySignature(),
	}

	price, err := s.fees.GasPrice(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch gas price: %w", err)
	}
	price.Apply(op)

	estimated, err := s.sponsor.Sponsor(ctx, op, s.entryPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to sponsor user operation: %w", err)
	}

	if !estimated {
		estimate, err := s.bundler.EstimateUserOperationGas(ctx, op, s.entryPoint)
		if err != nil {
			return nil, fmt.Errorf("failed to estimate user operation gas: %w", err)
		}
		estimate.Apply(op)
	}

	return op, nil
}

// Send builds, signs and submits the calls and returns the user operation hash.
func (s *Sender) Send(ctx context.Context, calls []userop.Call) (common.Hash, error) {
	op, err := s.Build(ctx, calls)
	if err != nil {
		return common.Hash{}, err
	}

	sig, err := s.account.Sign(ctx, op, s.entryPoint, s.chainID)
	if err != nil {
		return common.Hash{}, fmt.Errorf("failed to sign user operation: %w", err)
	}
	op.Signature = sig

	hash, err := s.bundler.SendUserOperation(ctx, op, s.entryPoint)
	if err != nil {
		return common.Hash{}, err
	}

	s.log.WithFields(logrus.Fields{
		"sender":     op.Sender.Hex(),
		"nonce":      op.Nonce,
		"userOpHash": hash.Hex(),
		"deploy":     op.HasFactory(),
		"sponsored":  op.HasPaymaster(),
	}).Info("User operation sent")

	return hash, nil
}

// Wait polls the bundler until the user operation is included.
func (s *Sender) Wait(ctx context.Context, hash common.Hash) (*userop.Receipt, int, error) {
	attempts := 0
	receipt, err := client.Poll(ctx, s.poller.With(client.WithLabel("user_operation")), hash.Hex(),
		func(ctx context.Context, _ string) (*userop.Receipt, error) {
			attempts++
			return s.bundler.GetUserOperationReceipt(ctx, hash)
		})
	if err != nil {
		return nil, attempts, err
	}

	if !receipt.Success {
		return receipt, attempts, fmt.Errorf("user operation %s reverted: %s", hash.Hex(), receipt.Reason)
	}

	return receipt, attempts, nil
}

// Nonce returns the EntryPoint nonce of sender for key 0.
func (s *Sender) Nonce(ctx context.Context, sender common.Address) (*big.Int, error) {
	epABI := account.EntryPointABI()

	input, err := epABI.Pack("getNonce", sender, new(big.Int))
	if err != nil {
		return nil, fmt.Errorf("failed to pack getNonce: %w", err)
	}

	out, err := s.chain.CallContract(ctx, ethereum.CallMsg{To: &s.entryPoint, Data: input})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch nonce: %w", err)
	}

	values, err := epABI.Unpack("getNonce", out)
	if err != nil {
		return nil, fmt.Errorf("failed to decode nonce: %w", err)
	}

	nonce, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected nonce type %T", values[0])
	}
	return nonce, nil
}

// Package account implements the smart-account flavours used by the
// benchmark: Kernel v3.1, Safe 1.4.1 with the 4337 module, Light Account v2
// and the thirdweb account.
package account

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/userop"
)

// Account is an ERC-4337 smart account controlled by a single ECDSA owner.
type Account interface {
	// Kind names the account implementation.
	Kind() string
	// Owner returns the address of the signing key.
	Owner() common.Address
	// Address returns the (possibly counterfactual) account address.
	Address(ctx context.Context) (common.Address, error)
	// FactoryData returns the factory and its calldata, or a nil factory
	// once the account is deployed.
	FactoryData(ctx context.Context) (*common.Address, []byte, error)
	// EncodeCalls encodes the calls as account calldata.
	EncodeCalls(calls []userop.Call) ([]byte, error)
	// DummySignature returns a signature of the right shape for estimation.
	DummySignature() []byte
	// Sign signs the operation for the given EntryPoint and chain.
	Sign(ctx context.Context, op *userop.UserOperation, entryPoint common.Address, chainID *big.Int) ([]byte, error)
}

// senderAddressResultSelector is the selector of SenderAddressResult(address),
// the revert returned by EntryPoint.getSenderAddress.
var senderAddressResultSelector = hexutil.MustDecode("0x6ca7b806")

// dummyECDSASignature is a well-formed 65 byte signature that fails recovery.
var dummyECDSASignature = hexutil.MustDecode("0xfffffffffffffffffffffffffffffff0000000000000000000000000000000007aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1c")

// Signer holds the owner key of an account.
type Signer struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewSigner wraps an existing key.
func NewSigner(key *ecdsa.PrivateKey) *Signer {
	return &Signer{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
	}
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return NewSigner(key), nil
}

// Address returns the signer's address.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignHash signs a 32 byte digest and returns r || s || v with v in {27, 28}.
func (s *Signer) SignHash(digest []byte) ([]byte, error) {
	sig, err := crypto.Sign(digest, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// SignMessage signs data with the EIP-191 personal message prefix.
func (s *Signer) SignMessage(data []byte) ([]byte, error) {
	return s.SignHash(accounts.TextHash(data))
}

// counterfactual resolves and caches the address and deployment state shared
// by all flavours.
type counterfactual struct {
	log        logrus.FieldLogger
	chain      client.ChainClient
	entryPoint common.Address
	factory    common.Address
	initData   []byte

	mu       sync.Mutex
	address  common.Address
	resolved bool
	deployed bool
}

func newCounterfactual(log logrus.FieldLogger, chain client.ChainClient, entryPoint, factory common.Address, initData []byte) *counterfactual {
	return &counterfactual{
		log:        log,
		chain:      chain,
		entryPoint: entryPoint,
		factory:    factory,
		initData:   initData,
	}
}

func (c *counterfactual) Address(ctx context.Context) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.resolved {
		return c.address, nil
	}

	initCode := append(c.factory.Bytes(), c.initData...)
	input, err := entryPointABI.Pack("getSenderAddress", initCode)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to pack getSenderAddress: %w", err)
	}

	out, err := c.chain.CallContract(ctx, ethereum.CallMsg{To: &c.entryPoint, Data: input})
	if err == nil {
		return common.Address{}, fmt.Errorf("getSenderAddress did not revert (returned %x)", out)
	}

	addr, perr := parseSenderAddressRevert(err)
	if perr != nil {
		return common.Address{}, fmt.Errorf("failed to resolve sender address: %w", perr)
	}

	c.address = addr
	c.resolved = true

	c.log.WithFields(logrus.Fields{
		"address": addr.Hex(),
		"factory": c.factory.Hex(),
	}).Debug("Resolved counterfactual address")

	return addr, nil
}

func (c *counterfactual) FactoryData(ctx context.Context) (*common.Address, []byte, error) {
	addr, err := c.Address(ctx)
	if err != nil {
		return nil, nil, err
	}

	c.mu.Lock()
	deployed := c.deployed
	c.mu.Unlock()

	if !deployed {
		code, err := c.chain.CodeAt(ctx, addr)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to fetch account code: %w", err)
		}
		if len(code) > 0 {
			c.mu.Lock()
			c.deployed = true
			c.mu.Unlock()
			deployed = true
		}
	}

	if deployed {
		return nil, nil, nil
	}

	factory := c.factory
	return &factory, common.CopyBytes(c.initData), nil
}

// parseSenderAddressRevert extracts the address from the revert data of
// EntryPoint.getSenderAddress.
func parseSenderAddressRevert(err error) (common.Address, error) {
	var dataErr rpc.DataError
	if !errors.As(err, &dataErr) {
		return common.Address{}, err
	}

	var data []byte
	switch v := dataErr.ErrorData().(type) {
	case string:
		decoded, derr := hexutil.Decode(v)
		if derr != nil {
			return common.Address{}, fmt.Errorf("invalid revert data %q: %w", v, derr)
		}
		data = decoded
	case []byte:
		data = v
	default:
		return common.Address{}, fmt.Errorf("unexpected revert data %v: %w", v, err)
	}

	return decodeSenderAddressResult(data)
}

func decodeSenderAddressResult(data []byte) (common.Address, error) {
	if len(data) != 4+32 || !bytes.Equal(data[:4], senderAddressResultSelector) {
		return common.Address{}, fmt.Errorf("unexpected revert data %x", data)
	}
	return common.BytesToAddress(data[4:]), nil
}

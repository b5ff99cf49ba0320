// Package client provides the RPC, bundler and relay clients used by the
// provider adapters, and the confirmation poller shared by all of them.
package client

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
)

// Receipt is a transaction receipt including the OP-stack L1 fee fields.
type Receipt struct {
	TxHash            common.Hash
	BlockHash         common.Hash
	BlockNumber       *big.Int
	Status            uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
	L1GasUsed         *big.Int
	L1Fee             *big.Int
}

// Succeeded returns true if the transaction did not revert.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// ChainClient defines the chain reads needed by the adapters.
type ChainClient interface {
	// ChainID returns the chain id of the endpoint.
	ChainID(ctx context.Context) (*big.Int, error)
	// TransactionReceipt returns the receipt or ErrNotFound if not yet indexed.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)
	// TransactionGasPrice returns the gas price reported for a mined transaction.
	TransactionGasPrice(ctx context.Context, hash common.Hash) (*big.Int, error)
	// BlockTime returns the timestamp of the given block.
	BlockTime(ctx context.Context, number *big.Int) (time.Time, error)
	// CallContract executes an eth_call against the latest block.
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	// CodeAt returns the code deployed at the address.
	CodeAt(ctx context.Context, account common.Address) ([]byte, error)
	// Close releases the underlying connection.
	Close()
}

// chainClient implements ChainClient.
type chainClient struct {
	log logrus.FieldLogger
	rpc *rpc.Client
	eth *ethclient.Client
}

// DialChain connects to an execution RPC endpoint.
func DialChain(ctx context.Context, log logrus.FieldLogger, endpoint string) (ChainClient, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("rpc endpoint is empty")
	}

	c, err := rpc.DialOptions(ctx, endpoint, rpc.WithHTTPClient(&http.Client{Timeout: 30 * time.Second}))
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", endpoint, err)
	}

	return NewChainClient(log, c), nil
}

// NewChainClient wraps an existing RPC client.
func NewChainClient(log logrus.FieldLogger, c *rpc.Client) ChainClient {
	return &chainClient{
		log: log.WithField("component", "chain-client"),
		rpc: c,
		eth: ethclient.NewClient(c),
	}
}

// rpcReceipt is the JSON form of eth_getTransactionReceipt.
type rpcReceipt struct {
	TransactionHash   common.Hash     `json:"transactionHash"`
	BlockHash         common.Hash     `json:"blockHash"`
	BlockNumber       *hexutil.Big    `json:"blockNumber"`
	Status            *hexutil.Uint64 `json:"status"`
	GasUsed           hexutil.Uint64  `json:"gasUsed"`
	EffectiveGasPrice *hexutil.Big    `json:"effectiveGasPrice"`
	L1GasUsed         *hexutil.Big    `json:"l1GasUsed"`
	L1Fee             *hexutil.Big    `json:"l1Fee"`
}

// rpcTransaction carries the fields of eth_getTransactionByHash we read.
type rpcTransaction struct {
	Hash        common.Hash  `json:"hash"`
	GasPrice    *hexutil.Big `json:"gasPrice"`
	BlockNumber *hexutil.Big `json:"blockNumber"`
}

func (c *chainClient) ChainID(ctx context.Context) (*big.Int, error) {
	return c.eth.ChainID(ctx)
}

// TransactionReceipt decodes the receipt directly so that the L1 fee fields
// reported by OP-stack chains are kept.
func (c *chainClient) TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error) {
	var raw *rpcReceipt
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionReceipt", hash); err != nil {
		return nil, err
	}
	if raw == nil || raw.BlockNumber == nil {
		return nil, fmt.Errorf("receipt %s: %w", hash.Hex(), ErrNotFound)
	}

	receipt := &Receipt{
		TxHash:            raw.TransactionHash,
		BlockHash:         raw.BlockHash,
		BlockNumber:       raw.BlockNumber.ToInt(),
		GasUsed:           uint64(raw.GasUsed),
		EffectiveGasPrice: bigOrZero(raw.EffectiveGasPrice),
		L1GasUsed:         bigOrZero(raw.L1GasUsed),
		L1Fee:             bigOrZero(raw.L1Fee),
	}
	if raw.Status != nil {
		receipt.Status = uint64(*raw.Status)
	}

	c.log.WithFields(logrus.Fields{
		"tx":      hash.Hex(),
		"block":   receipt.BlockNumber,
		"gasUsed": receipt.GasUsed,
	}).Debug("Fetched receipt")

	return receipt, nil
}

func (c *chainClient) TransactionGasPrice(ctx context.Context, hash common.Hash) (*big.Int, error) {
	var raw *rpcTransaction
	if err := c.rpc.CallContext(ctx, &raw, "eth_getTransactionByHash", hash); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("transaction %s: %w", hash.Hex(), ErrNotFound)
	}
	return bigOrZero(raw.GasPrice), nil
}

func (c *chainClient) BlockTime(ctx context.Context, number *big.Int) (time.Time, error) {
	header, err := c.eth.HeaderByNumber(ctx, number)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to fetch block %v: %w", number, err)
	}
	return time.Unix(int64(header.Time), 0), nil
}

func (c *chainClient) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	return c.eth.CallContract(ctx, msg, nil)
}

func (c *chainClient) CodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return c.eth.CodeAt(ctx, account, nil)
}

func (c *chainClient) Close() {
	c.rpc.Close()
}

func bigOrZero(v *hexutil.Big) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v.ToInt())
}

// Verify interface compliance.
var _ ChainClient = (*chainClient)(nil)

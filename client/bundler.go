package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/userop"
)

// Bundler defines the ERC-4337 bundler and paymaster RPC methods used by the
// adapters.
type Bundler interface {
	// SendUserOperation submits a signed operation and returns its hash.
	SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (common.Hash, error)
	// EstimateUserOperationGas estimates the gas limits of an operation.
	EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*userop.GasEstimate, error)
	// GetUserOperationReceipt returns the receipt or ErrNotFound if the
	// operation is not included yet.
	GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error)
	// Call performs an arbitrary (vendor) JSON-RPC method.
	Call(ctx context.Context, result any, method string, args ...any) error
	// Close releases the underlying connection.
	Close()
}

// BundlerOption configures a bundler client.
type BundlerOption func(*bundlerOptions)

type bundlerOptions struct {
	headers http.Header
	timeout time.Duration
}

// WithHeader adds an HTTP header to every bundler request.
func WithHeader(key, value string) BundlerOption {
	return func(o *bundlerOptions) {
		o.headers.Set(key, value)
	}
}

// WithRequestTimeout sets the HTTP client timeout.
func WithRequestTimeout(d time.Duration) BundlerOption {
	return func(o *bundlerOptions) {
		o.timeout = d
	}
}

// bundlerClient implements Bundler.
type bundlerClient struct {
	log logrus.FieldLogger
	rpc *rpc.Client
}

// DialBundler connects to a bundler endpoint.
func DialBundler(ctx context.Context, log logrus.FieldLogger, endpoint string, opts ...BundlerOption) (Bundler, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("bundler endpoint is empty")
	}

	o := &bundlerOptions{
		headers: http.Header{},
		timeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(o)
	}

	c, err := rpc.DialOptions(ctx, endpoint,
		rpc.WithHTTPClient(&http.Client{Timeout: o.timeout}),
		rpc.WithHeaders(o.headers),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to dial bundler: %w", err)
	}

	return NewBundler(log, c), nil
}

// NewBundler wraps an existing RPC client.
func NewBundler(log logrus.FieldLogger, c *rpc.Client) Bundler {
	return &bundlerClient{
		log: log.WithField("component", "bundler-client"),
		rpc: c,
	}
}

func (b *bundlerClient) SendUserOperation(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (common.Hash, error) {
	var hash common.Hash

	start := time.Now()
	if err := b.rpc.CallContext(ctx, &hash, "eth_sendUserOperation", op, entryPoint); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendUserOperation: %w", err)
	}

	b.log.WithFields(logrus.Fields{
		"sender":     op.Sender.Hex(),
		"userOpHash": hash.Hex(),
		"duration":   time.Since(start),
	}).Debug("User operation submitted")

	return hash, nil
}

func (b *bundlerClient) EstimateUserOperationGas(ctx context.Context, op *userop.UserOperation, entryPoint common.Address) (*userop.GasEstimate, error) {
	var estimate userop.GasEstimate
	if err := b.rpc.CallContext(ctx, &estimate, "eth_estimateUserOperationGas", op, entryPoint); err != nil {
		return nil, fmt.Errorf("eth_estimateUserOperationGas: %w", err)
	}
	return &estimate, nil
}

func (b *bundlerClient) GetUserOperationReceipt(ctx context.Context, hash common.Hash) (*userop.Receipt, error) {
	var raw json.RawMessage
	if err := b.rpc.CallContext(ctx, &raw, "eth_getUserOperationReceipt", hash); err != nil {
		return nil, err
	}
	if len(raw) == 0 || string(raw) == "null" {
		return nil, fmt.Errorf("user operation %s: %w", hash.Hex(), ErrNotFound)
	}

	var receipt userop.Receipt
	if err := json.Unmarshal(raw, &receipt); err != nil {
		return nil, fmt.Errorf("failed to decode user operation receipt: %w", err)
	}
	return &receipt, nil
}

func (b *bundlerClient) Call(ctx context.Context, result any, method string, args ...any) error {
	if err := b.rpc.CallContext(ctx, result, method, args...); err != nil {
		return fmt.Errorf("%s: %w", method, err)
	}
	return nil
}

func (b *bundlerClient) Close() {
	b.rpc.Close()
}

// Verify interface compliance.
var _ Bundler = (*bundlerClient)(nil)

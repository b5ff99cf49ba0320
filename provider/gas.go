package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/metrics"
)

// onchain is the outcome of a confirmed transaction.
type onchain struct {
	receipt   *client.Receipt
	gas       metrics.Gas
	blockTime time.Time
	attempts  int
}

// confirm polls the chain for the receipt of txHash and reads the gas price
// and the block timestamp that the metrics are derived from.
func confirm(ctx context.Context, chain client.ChainClient, poller *client.Poller, txHash common.Hash) (*onchain, error) {
	attempts := 0
	receipt, err := client.Poll(ctx, poller.With(client.WithLabel("receipt")), txHash.Hex(),
		func(ctx context.Context, _ string) (*client.Receipt, error) {
			attempts++
			return chain.TransactionReceipt(ctx, txHash)
		})
	if err != nil {
		return &onchain{attempts: attempts}, err
	}

	if !receipt.Succeeded() {
		return &onchain{receipt: receipt, attempts: attempts}, fmt.Errorf("transaction %s reverted in block %v", txHash.Hex(), receipt.BlockNumber)
	}

	gasPrice, err := chain.TransactionGasPrice(ctx, txHash)
	if err != nil {
		return &onchain{receipt: receipt, attempts: attempts}, fmt.Errorf("failed to fetch transaction: %w", err)
	}

	blockTime, err := chain.BlockTime(ctx, receipt.BlockNumber)
	if err != nil {
		return &onchain{receipt: receipt, attempts: attempts}, err
	}

	return &onchain{
		receipt:   receipt,
		gas:       metrics.ComputeGas(receipt, gasPrice),
		blockTime: blockTime,
		attempts:  attempts,
	}, nil
}

// inclusionLatency is the time from start to the including block. Block
// timestamps have second resolution, so a result before start clamps to zero.
func inclusionLatency(start, blockTime time.Time) time.Duration {
	latency := blockTime.Sub(start)
	if latency < 0 {
		return 0
	}
	return latency
}

// measureInclusion confirms txHash and measures up to block inclusion.
func measureInclusion(ctx context.Context, chain client.ChainClient, poller *client.Poller, txHash common.Hash, start time.Time) (*benchmark.Measurement, error) {
	m := &benchmark.Measurement{TxHash: txHash}

	res, err := confirm(ctx, chain, poller, txHash)
	m.Attempts = res.attempts
	if err != nil {
		return m, err
	}

	m.Latency = inclusionLatency(start, res.blockTime)
	m.Gas = res.gas

	return m, nil
}

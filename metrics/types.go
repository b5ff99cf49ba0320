// Package metrics provides gas and latency metrics for sponsored transactions.
package metrics

import (
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"github.com/skylenet/aa-benchmark/client"
)

// Gas contains the gas metrics of a mined transaction.
type Gas struct {
	L1GasUsed *big.Int // OP-stack data gas, zero elsewhere
	L2GasUsed uint64   // Execution gas
	GasPrice  *big.Int // Wei per L2 gas
	L1Fee     *big.Int // Wei
	TotalFee  *big.Int // L1Fee + L2GasUsed * GasPrice
}

// ComputeGas derives the gas metrics from a receipt. gasPrice is the price
// reported for the transaction; when nil or zero the receipt's effective gas
// price is used.
func ComputeGas(receipt *client.Receipt, gasPrice *big.Int) Gas {
	price := gasPrice
	if price == nil || price.Sign() == 0 {
		price = receipt.EffectiveGasPrice
	}

	g := Gas{
		L1GasUsed: orZero(receipt.L1GasUsed),
		L2GasUsed: receipt.GasUsed,
		GasPrice:  orZero(price),
		L1Fee:     orZero(receipt.L1Fee),
	}

	l2Fee := new(big.Int).Mul(new(big.Int).SetUint64(g.L2GasUsed), g.GasPrice)
	g.TotalFee = new(big.Int).Add(g.L1Fee, l2Fee)

	return g
}

// Copy returns a deep copy.
func (g Gas) Copy() Gas {
	return Gas{
		L1GasUsed: copyBig(g.L1GasUsed),
		L2GasUsed: g.L2GasUsed,
		GasPrice:  copyBig(g.GasPrice),
		L1Fee:     copyBig(g.L1Fee),
		TotalFee:  copyBig(g.TotalFee),
	}
}

// String returns a human-readable gas summary.
func (g Gas) String() string {
	return fmt.Sprintf(
		"L1 gas: %s | L2 gas: %d | Gas price: %s Gwei | Total fee: %s ETH",
		orZero(g.L1GasUsed), g.L2GasUsed, FormatGwei(g.GasPrice), FormatEther(g.TotalFee),
	)
}

// FormatGwei formats a wei amount in gwei without trailing zeros.
func FormatGwei(wei *big.Int) string {
	return formatUnits(wei, 9)
}

// FormatEther formats a wei amount in ether without trailing zeros.
func FormatEther(wei *big.Int) string {
	return formatUnits(wei, 18)
}

func formatUnits(wei *big.Int, decimals int32) string {
	if wei == nil {
		return "0"
	}
	return decimal.NewFromBigInt(wei, -decimals).String()
}

// FormatSeconds renders a latency as decimal seconds with two places.
func FormatSeconds(d time.Duration) string {
	return decimal.NewFromFloat(d.Seconds()).StringFixed(2)
}

// Sample is one provider's measurement fed into a Summary.
type Sample struct {
	Provider string
	Latency  time.Duration
	Gas      Gas
}

// Summary contains cross-provider statistics for a single run.
type Summary struct {
	Count int

	LatencyMin  time.Duration
	LatencyMax  time.Duration
	LatencyMean time.Duration
	LatencyP50  time.Duration

	// Badges name the provider that is best on a metric. Empty when no
	// sample qualifies or several tie.
	Fastest    string
	LowestL1   string
	LowestL2   string
	CheapestTx string
}

// ToDetails returns the summary formatted for terminal output.
func (s *Summary) ToDetails() string {
	return fmt.Sprintf(`
Summary
=======
Providers:     %d
Fastest:       %s
Lowest L1 gas: %s
Lowest L2 gas: %s
Cheapest:      %s

Latency Statistics
------------------
Min:           %ss
Max:           %ss
Mean:          %ss
P50:           %ss
`,
		s.Count, orDash(s.Fastest), orDash(s.LowestL1), orDash(s.LowestL2), orDash(s.CheapestTx),
		FormatSeconds(s.LatencyMin), FormatSeconds(s.LatencyMax),
		FormatSeconds(s.LatencyMean), FormatSeconds(s.LatencyP50))
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

func copyBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}

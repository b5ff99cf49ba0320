// Package benchmark runs the provider adapters concurrently and collects one
// result per provider and run.
package benchmark

import (
	"encoding/json"
	"math"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/skylenet/aa-benchmark/metrics"
)

// State is the terminal state of a provider result.
type State string

// Result states.
const (
	StatePending   State = "pending"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Window names the point at which an adapter stops its latency timer.
type Window string

// Measurement windows.
const (
	// WindowInclusion stops at the timestamp of the block including the
	// transaction.
	WindowInclusion Window = "inclusion"
	// WindowSubmission stops when the submitting HTTP call returns.
	WindowSubmission Window = "submission"
)

// ProviderResult represents the outcome of one adapter in one run.
type ProviderResult struct {
	Provider string
	Window   Window
	State    State

	Latency  time.Duration
	Gas      *metrics.Gas
	TxHash   common.Hash
	Account  common.Address
	Attempts int

	// Failure info
	Error string
	Kind  Kind

	StartedAt  time.Time
	FinishedAt time.Time
}

// IsValid returns true if the provider produced a measurement.
func (r *ProviderResult) IsValid() bool {
	return r.State == StateSucceeded && r.Error == "" && r.Gas != nil
}

// Copy returns a deep copy of the result.
func (r *ProviderResult) Copy() *ProviderResult {
	cpy := *r
	if r.Gas != nil {
		gas := r.Gas.Copy()
		cpy.Gas = &gas
	}
	return &cpy
}

// Sample converts a valid result into a metrics sample.
func (r *ProviderResult) Sample() metrics.Sample {
	s := metrics.Sample{Provider: r.Provider, Latency: r.Latency}
	if r.Gas != nil {
		s.Gas = *r.Gas
	}
	return s
}

type providerResultJSON struct {
	Provider   string     `json:"provider"`
	Window     Window     `json:"window"`
	State      State      `json:"state"`
	Latency    *float64   `json:"latency,omitempty"`
	L1GasUsed  string     `json:"l1GasUsed,omitempty"`
	L2GasUsed  string     `json:"l2GasUsed,omitempty"`
	GasPrice   string     `json:"gasPriceGwei,omitempty"`
	TotalFee   string     `json:"totalFeeEth,omitempty"`
	TxHash     string     `json:"transactionHash,omitempty"`
	Account    string     `json:"smartAccount,omitempty"`
	Attempts   int        `json:"attempts,omitempty"`
	Error      string     `json:"error,omitempty"`
	Kind       Kind       `json:"kind,omitempty"`
	StartedAt  *time.Time `json:"startedAt,omitempty"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
}

// MarshalJSON exposes latency in decimal seconds and amounts as decimal
// strings.
func (r *ProviderResult) MarshalJSON() ([]byte, error) {
	enc := providerResultJSON{
		Provider: r.Provider,
		Window:   r.Window,
		State:    r.State,
		Attempts: r.Attempts,
		Error:    r.Error,
		Kind:     r.Kind,
	}

	if r.IsValid() {
		seconds := math.Round(r.Latency.Seconds()*1000) / 1000
		enc.Latency = &seconds
		enc.L1GasUsed = r.Gas.L1GasUsed.String()
		enc.L2GasUsed = strconv.FormatUint(r.Gas.L2GasUsed, 10)
		enc.GasPrice = metrics.FormatGwei(r.Gas.GasPrice)
		enc.TotalFee = metrics.FormatEther(r.Gas.TotalFee)
	}
	if r.TxHash != (common.Hash{}) {
		enc.TxHash = r.TxHash.Hex()
	}
	if r.Account != (common.Address{}) {
		enc.Account = r.Account.Hex()
	}
	if !r.StartedAt.IsZero() {
		enc.StartedAt = &r.StartedAt
	}
	if !r.FinishedAt.IsZero() {
		enc.FinishedAt = &r.FinishedAt
	}

	return json.Marshal(&enc)
}

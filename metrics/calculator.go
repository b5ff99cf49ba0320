package metrics

import (
	"cmp"
	"sort"
	"time"
)

// Calculator computes cross-provider statistics.
type Calculator struct{}

// NewCalculator creates a new metrics calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Summarize computes latency statistics and badges over the samples.
func (c *Calculator) Summarize(samples []Sample) *Summary {
	s := &Summary{Count: len(samples)}
	if len(samples) == 0 {
		return s
	}

	c.calculateLatencyStats(s, samples)

	s.Fastest = c.best(samples, func(a, b Sample) int {
		return cmp.Compare(a.Latency, b.Latency)
	})
	s.LowestL1 = c.best(samples, func(a, b Sample) int {
		return orZero(a.Gas.L1GasUsed).Cmp(orZero(b.Gas.L1GasUsed))
	})
	s.LowestL2 = c.best(samples, func(a, b Sample) int {
		return cmp.Compare(a.Gas.L2GasUsed, b.Gas.L2GasUsed)
	})
	s.CheapestTx = c.best(samples, func(a, b Sample) int {
		return orZero(a.Gas.TotalFee).Cmp(orZero(b.Gas.TotalFee))
	})

	return s
}

func (c *Calculator) calculateLatencyStats(s *Summary, samples []Sample) {
	// Create sorted copy for percentile calculation
	sorted := make([]time.Duration, len(samples))
	for i, sample := range samples {
		sorted[i] = sample.Latency
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i] < sorted[j]
	})

	s.LatencyMin = sorted[0]
	s.LatencyMax = sorted[len(sorted)-1]

	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	s.LatencyMean = sum / time.Duration(len(sorted))

	s.LatencyP50 = c.percentile(sorted, 0.50)
}

func (c *Calculator) percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}

	idx := int(float64(len(sorted)-1) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}

	return sorted[idx]
}

// best returns the provider of the strictly smallest sample, or "" on a tie
// for first place. A badge needs at least two samples to mean anything.
func (c *Calculator) best(samples []Sample, compare func(a, b Sample) int) string {
	if len(samples) < 2 {
		return ""
	}

	winner := 0
	tied := false
	for i := 1; i < len(samples); i++ {
		switch r := compare(samples[i], samples[winner]); {
		case r < 0:
			winner = i
			tied = false
		case r == 0:
			tied = true
		}
	}

	if tied {
		return ""
	}
	return samples[winner].Provider
}

package metrics

import (
	"math/big"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "aa_benchmark"

// Recorder exports benchmark outcomes as Prometheus metrics. A nil Recorder
// is valid and records nothing.
type Recorder struct {
	latency      *prometheus.HistogramVec
	results      *prometheus.CounterVec
	l2Gas        *prometheus.GaugeVec
	totalFee     *prometheus.GaugeVec
	pollAttempts *prometheus.CounterVec
	runs         *prometheus.CounterVec
	runDuration  prometheus.Histogram
}

// NewRecorder creates a recorder and registers its collectors with reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		latency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_latency_seconds",
				Help:      "Measured latency of a sponsored transaction per provider",
				Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 8, 13, 21, 34},
			},
			[]string{"provider", "window"},
		),
		results: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "provider_results_total", Help: "Provider results by state and failure kind"},
			[]string{"provider", "state", "kind"},
		),
		l2Gas: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "provider_l2_gas_used", Help: "L2 gas used by the last successful transaction"},
			[]string{"provider"},
		),
		totalFee: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Namespace: namespace, Name: "provider_total_fee_gwei", Help: "Total fee of the last successful transaction in gwei"},
			[]string{"provider"},
		),
		pollAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "poll_attempts_total", Help: "Confirmation poll attempts by outcome"},
			[]string{"label", "outcome"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{Namespace: namespace, Name: "runs_total", Help: "Benchmark runs by trigger outcome"},
			[]string{"outcome"},
		),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Wall time of a benchmark run",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(r.latency, r.results, r.l2Gas, r.totalFee, r.pollAttempts, r.runs, r.runDuration)

	return r
}

// ObserveResult records one provider outcome. kind is empty for successes.
func (r *Recorder) ObserveResult(provider, window, state, kind string, latency time.Duration, gas *Gas) {
	if r == nil {
		return
	}

	r.results.WithLabelValues(provider, state, kind).Inc()

	if gas == nil {
		return
	}

	r.latency.WithLabelValues(provider, window).Observe(latency.Seconds())
	r.l2Gas.WithLabelValues(provider).Set(float64(gas.L2GasUsed))
	if gas.TotalFee != nil {
		gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gas.TotalFee), big.NewFloat(1e9)).Float64()
		r.totalFee.WithLabelValues(provider).Set(gwei)
	}
}

// ObservePollAttempt implements client.AttemptObserver.
func (r *Recorder) ObservePollAttempt(label, outcome string) {
	if r == nil {
		return
	}
	r.pollAttempts.WithLabelValues(label, outcome).Inc()
}

// ObserveRun records a trigger outcome ("completed", "rejected") and the
// duration of completed runs.
func (r *Recorder) ObserveRun(outcome string, duration time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(outcome).Inc()
	if duration > 0 {
		r.runDuration.Observe(duration.Seconds())
	}
}

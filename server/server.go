// Package server exposes the benchmark over HTTP: the dashboard API, the
// server side thirdweb transaction route and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/metrics"
)

// ThirdwebSubmitter sends one sponsored thirdweb transaction on behalf of the
// route caller.
type ThirdwebSubmitter interface {
	Submit(ctx context.Context) (*client.ThirdwebTxResponse, error)
}

// Config contains configuration for the HTTP server.
type Config struct {
	// Addr is the listen address.
	Addr string
	// RouteSecret enables HS256 bearer verification on the thirdweb route.
	RouteSecret []byte
	// ShutdownTimeout bounds the graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the server.
func DefaultConfig() Config {
	return Config{
		Addr:            ":3000",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Server serves the benchmark API. The orchestrator and the submitter are
// both optional; their routes are only mounted when set.
type Server struct {
	log          logrus.FieldLogger
	config       Config
	orchestrator benchmark.Orchestrator
	submitter    ThirdwebSubmitter
	gatherer     prometheus.Gatherer
	calculator   *metrics.Calculator

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
}

// New creates a server. HTTP metrics are registered with reg and /metrics
// serves everything reg gathers.
func New(log logrus.FieldLogger, config Config, orchestrator benchmark.Orchestrator, submitter ThirdwebSubmitter, reg *prometheus.Registry) *Server {
	s := &Server{
		log:          log.WithField("component", "server"),
		config:       config,
		orchestrator: orchestrator,
		submitter:    submitter,
		gatherer:     reg,
		calculator:   metrics.NewCalculator(),
		requestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total HTTP requests"},
			[]string{"method", "path", "status"},
		),
		requestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}

	reg.MustRegister(s.requestsTotal, s.requestDuration)

	return s
}

// Handler returns the instrumented route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))

	if s.submitter != nil {
		mux.HandleFunc("POST /api/thirdweb-tx", s.handleThirdwebTx)
	}

	if s.orchestrator != nil {
		mux.HandleFunc("POST /api/run", s.handleRun)
		mux.HandleFunc("POST /api/prepare", s.handlePrepare)
		mux.HandleFunc("GET /api/results", s.handleResults)
	}

	return s.instrument(mux)
}

// ListenAndServe listens on the configured address and serves until ctx is
// done.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Addr, err)
	}

	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is done, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	s.log.WithField("addr", ln.Addr().String()).Info("HTTP server listening")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultConfig().ShutdownTimeout
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down server: %w", err)
	}

	s.log.Info("HTTP server stopped")

	return nil
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Server) handleThirdwebTx(w http.ResponseWriter, r *http.Request) {
	if len(s.config.RouteSecret) > 0 {
		if err := s.authorize(r); err != nil {
			s.log.WithError(err).Warn("Rejected thirdweb route request")
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
	}

	resp, err := s.submitter.Submit(r.Context())
	if err != nil {
		s.log.WithError(err).Error("thirdweb transaction failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// authorize verifies the HS256 bearer token of the request.
func (s *Server) authorize(r *http.Request) error {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || token == "" {
		return errors.New("missing bearer token")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.config.RouteSecret, nil
	})
	if err != nil {
		return fmt.Errorf("invalid bearer token: %w", err)
	}
	if !parsed.Valid {
		return errors.New("invalid bearer token")
	}

	return nil
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))

	var (
		run *benchmark.Run
		err error
	)

	if wait {
		run, err = s.orchestrator.Trigger(r.Context())
	} else {
		run, err = s.orchestrator.Start(r.Context())
	}

	switch {
	case errors.Is(err, benchmark.ErrRunInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case wait:
		writeJSON(w, http.StatusOK, s.results(run))
	default:
		writeJSON(w, http.StatusAccepted, s.results(run))
	}
}

type prepareResponse struct {
	Prepared   []string          `json:"prepared"`
	Skipped    []string          `json:"skipped"`
	Errors     map[string]string `json:"errors,omitempty"`
	DurationMs int64             `json:"durationMs"`
}

func (s *Server) handlePrepare(w http.ResponseWriter, r *http.Request) {
	result, err := s.orchestrator.Prepare(r.Context())
	if errors.Is(err, benchmark.ErrRunInProgress) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, &prepareResponse{
		Prepared:   result.Prepared,
		Skipped:    result.Skipped,
		Errors:     result.Errors,
		DurationMs: result.Duration.Milliseconds(),
	})
}

type summaryResponse struct {
	Count         int    `json:"count"`
	LatencyMinMs  int64  `json:"latencyMinMs"`
	LatencyMaxMs  int64  `json:"latencyMaxMs"`
	LatencyMeanMs int64  `json:"latencyMeanMs"`
	LatencyP50Ms  int64  `json:"latencyP50Ms"`
	Fastest       string `json:"fastest,omitempty"`
	LowestL1      string `json:"lowestL1,omitempty"`
	LowestL2      string `json:"lowestL2,omitempty"`
	Cheapest      string `json:"cheapest,omitempty"`
}

type resultsResponse struct {
	State     benchmark.RunState `json:"state"`
	Providers []string           `json:"providers"`
	Run       *benchmark.Run     `json:"run"`
	Summary   *summaryResponse   `json:"summary,omitempty"`
}

func (s *Server) handleResults(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.results(s.orchestrator.Latest()))
}

// results builds the dashboard view. The summary only covers finished runs.
func (s *Server) results(run *benchmark.Run) *resultsResponse {
	resp := &resultsResponse{
		State:     s.orchestrator.State(),
		Providers: s.orchestrator.Adapters(),
		Run:       run,
	}

	if run == nil || run.State != benchmark.RunStateDone {
		return resp
	}

	sum := s.calculator.Summarize(run.Samples())
	resp.Summary = &summaryResponse{
		Count:         sum.Count,
		LatencyMinMs:  sum.LatencyMin.Milliseconds(),
		LatencyMaxMs:  sum.LatencyMax.Milliseconds(),
		LatencyMeanMs: sum.LatencyMean.Milliseconds(),
		LatencyP50Ms:  sum.LatencyP50.Milliseconds(),
		Fastest:       sum.Fastest,
		LowestL1:      sum.LowestL1,
		LowestL2:      sum.LowestL2,
		Cheapest:      sum.CheapestTx,
	}

	return resp
}

// instrument wraps handlers to record request count, status and duration.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(ww, r)

		// The mux records the matched pattern on the request.
		path := "unmatched"
		if r.Pattern != "" {
			path = r.Pattern
			if _, p, ok := strings.Cut(path, " "); ok {
				path = p
			}
		}

		s.requestsTotal.WithLabelValues(r.Method, path, statusLabel(ww.status)).Inc()
		s.requestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
	})
}

// responseWriter captures the status code for labeling.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (w *responseWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "unknown"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

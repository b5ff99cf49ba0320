package cmd

import (
	"context"
	"fmt"
	"net"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/skylenet/aa-benchmark/benchmark"
	"github.com/skylenet/aa-benchmark/client"
	"github.com/skylenet/aa-benchmark/config"
	"github.com/skylenet/aa-benchmark/metrics"
	"github.com/skylenet/aa-benchmark/provider"
	"github.com/skylenet/aa-benchmark/server"
)

// routePath is where the server mounts the thirdweb transaction route.
const routePath = "/api/thirdweb-tx"

// app wires configuration, logging, metrics and providers for a command.
type app struct {
	log      *logrus.Logger
	cfg      *config.Config
	registry *prometheus.Registry
	recorder *metrics.Recorder
	options  provider.Options

	routeSubmitter *provider.ThirdwebSubmitter
}

func newApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := newLogger(cfg.LogLevel, verbose)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	recorder := metrics.NewRecorder(registry)
	poller := client.NewPoller(log, cfg.RetryPolicy(), client.WithObserver(recorder))

	return &app{
		log:      log,
		cfg:      cfg,
		registry: registry,
		recorder: recorder,
		options:  provider.OptionsFromConfig(cfg, poller),
	}, nil
}

// submitter returns the process wide submitter behind the thirdweb route.
func (a *app) submitter() *provider.ThirdwebSubmitter {
	if a.routeSubmitter == nil {
		a.routeSubmitter = provider.NewThirdwebSubmitter(a.log, a.options, a.cfg.Thirdweb.SecretKey, a.cfg.ThirdwebBundlerURL())
	}
	return a.routeSubmitter
}

func (a *app) server(addr string, orchestrator benchmark.Orchestrator) *server.Server {
	cfg := server.DefaultConfig()
	cfg.Addr = addr
	cfg.RouteSecret = []byte(a.cfg.Thirdweb.RouteSecret)

	return server.New(a.log, cfg, orchestrator, a.submitter(), a.registry)
}

func (a *app) orchestrator() (benchmark.Orchestrator, error) {
	adapters, err := provider.New(a.log, a.cfg, a.options)
	if err != nil {
		return nil, fmt.Errorf("failed to create providers: %w", err)
	}

	orchestrator, err := benchmark.NewOrchestrator(a.log, a.cfg.RunnerConfig(), a.recorder, adapters...)
	if err != nil {
		return nil, fmt.Errorf("failed to create orchestrator: %w", err)
	}

	return orchestrator, nil
}

// useLocalRoute points the thirdweb adapter at the route served on ln unless
// an external route is configured. The route's account is then warmed with the
// adapter.
func (a *app) useLocalRoute(ln net.Listener) {
	if a.cfg.Thirdweb.RouteURL != "" {
		return
	}

	port := ln.Addr().(*net.TCPAddr).Port
	a.cfg.Thirdweb.RouteURL = fmt.Sprintf("http://127.0.0.1:%d%s", port, routePath)
	a.options.LocalRoute = a.submitter()

	a.log.WithField("url", a.cfg.Thirdweb.RouteURL).Debug("Using local thirdweb route")
}

// prepare warms up the adapters when enabled. Failures are logged and retried
// by the run itself.
func (a *app) prepare(ctx context.Context, orchestrator benchmark.Orchestrator) {
	if !a.cfg.Runner.Prepare {
		return
	}

	result, err := orchestrator.Prepare(ctx)
	if err != nil {
		a.log.WithError(err).Warn("Warm-up skipped")
		return
	}

	for name, msg := range result.Errors {
		a.log.WithField("provider", name).Warnf("Warm-up failed: %s", msg)
	}
}

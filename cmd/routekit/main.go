// Package main implements the routekit daemon: it loads a graph
// description, builds the topology through the processor registry, and
// runs it until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"golang.org/x/sync/errgroup"

	"github.com/c360/routekit/config"
	"github.com/c360/routekit/graph"
	"github.com/c360/routekit/metric"
	"github.com/c360/routekit/registry"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "routekit"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}
	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting routekit",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cliCfg.Validate {
		slog.Info("Configuration is valid", "graph", cfg.Graph.Name)
		return nil
	}

	deps, cleanup, err := setupDependencies(cliCfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	reg := registry.New()
	if err := registry.RegisterBuiltins(reg); err != nil {
		return fmt.Errorf("register processors: %w", err)
	}
	slog.Info("processor kinds registered", "kinds", reg.Kinds())

	g, _, err := config.BuildGraph(cfg, reg, deps)
	if err != nil {
		return fmt.Errorf("build graph: %w", err)
	}
	if err := g.Initialize(); err != nil {
		return fmt.Errorf("initialize graph: %w", err)
	}

	return runWithSignalHandling(g, deps.MetricsRegistry, cliCfg)
}

// setupDependencies creates the shared runtime dependencies. The returned
// cleanup closes whatever was opened.
func setupDependencies(cliCfg *CLIConfig, logger *slog.Logger) (registry.Deps, func(), error) {
	deps := registry.Deps{
		Logger:          logger,
		MetricsRegistry: metric.NewMetricsRegistry(),
	}

	if cliCfg.NATSURL == "" {
		return deps, func() {}, nil
	}

	slog.Info("Connecting to NATS", "url", cliCfg.NATSURL)
	nc, err := nats.Connect(cliCfg.NATSURL,
		nats.Name(appName),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return registry.Deps{}, nil, fmt.Errorf("connect to NATS: %w", err)
	}
	deps.NATSConn = nc

	return deps, func() { nc.Close() }, nil
}

// runWithSignalHandling starts the graph plus the metrics server and stops
// them on SIGINT/SIGTERM.
func runWithSignalHandling(g *graph.Graph, metricsRegistry *metric.MetricsRegistry, cliCfg *CLIConfig) error {
	signalCtx, signalCancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	group, groupCtx := errgroup.WithContext(signalCtx)

	var metricsServer *metric.Server
	if cliCfg.MetricsPort > 0 {
		metricsServer = metric.NewServer(cliCfg.MetricsPort, "/metrics", metricsRegistry)
		group.Go(metricsServer.Start)
		slog.Info("Metrics server listening", "address", metricsServer.Address())
	}

	if err := g.Start(groupCtx); err != nil {
		return fmt.Errorf("start graph: %w", err)
	}
	slog.Info("routekit started", "graph", g.Name())

	<-groupCtx.Done()
	slog.Info("Received shutdown signal")

	if err := g.Stop(cliCfg.ShutdownTimeout); err != nil {
		slog.Error("Graph stop reported an error", "error", err)
	}
	if metricsServer != nil {
		_ = metricsServer.Stop()
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		return fmt.Errorf("background server failed: %w", err)
	}

	slog.Info("routekit shutdown complete")
	return nil
}

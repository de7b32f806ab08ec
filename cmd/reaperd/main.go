package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/assetvault/reaper/internal/config"
	"github.com/assetvault/reaper/internal/logging"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "--version" || os.Args[1] == "-version") {
		fmt.Printf("reaperd version %s (built %s)\n", version, buildTime)
		os.Exit(0)
	}

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	subcommand := os.Args[1]
	switch subcommand {
	case "run":
		runServe(os.Args[2:])
	case "reap":
		runReap(os.Args[2:])
	case "pause":
		runPause(os.Args[2:], true)
	case "resume":
		runPause(os.Args[2:], false)
	case "restore":
		runRestore(os.Args[2:])
	case "version":
		fmt.Printf("reaperd version %s (built %s, commit %s)\n", version, buildTime, gitCommit)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", subcommand)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: reaperd <command> [options]

Commands:
  run         Start the scheduler, the manual trigger API and the health server
  reap        Run one soft or hard batch and print its outcome
  pause       Create the pause sentinel so scheduled ticks are skipped
  resume      Remove the pause sentinel
  restore     Clear the soft-delete mark of one or more records
  version     Print version information

Run 'reaperd <command> --help' for more information on a command.`)
}

// loadConfig loads and validates the configuration, then installs the
// configured logger globally.
func loadConfig(path string) (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	logger := logging.Configure(cfg.Observability.LogLevel, cfg.Observability.LogFormat)
	return cfg, logger, nil
}

func runServe(args []string) {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to configuration file")
	listenAddr := fs.String("listen", "", "Override API listen address (e.g., :8080)")
	healthAddr := fs.String("health-addr", "", "Override health endpoint address (e.g., :9090)")
	memoryLedger := fs.Bool("memory-ledger", false, "Allow an in-memory status ledger when ledger.dsn is unset")

	fs.Usage = func() {
		fmt.Println(`Usage: reaperd run [options]

Start the reaper: scheduled soft and hard reaps, the manual trigger API,
and the health and metrics endpoints.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}

	cfg, logger, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *listenAddr != "" {
		cfg.API.ListenAddr = *listenAddr
	}
	if *healthAddr != "" {
		cfg.Observability.HealthAddr = *healthAddr
	}
	if err := requireDurableLedger(cfg, *memoryLedger); err != nil {
		logger.Errorf("refusing to start", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registry := newRegistry()
	backends, err := openBackends(ctx, cfg, registry, logger)
	if err != nil {
		logger.Errorf("failed to open backends", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
	defer backends.Close()

	svc, err := NewService(ServiceOptions{
		Config:   cfg,
		Logger:   logger,
		Backends: backends,
		Registry: registry,
		Version:  version,
	})
	if err != nil {
		logger.Errorf("failed to create service", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := svc.Start(ctx); err != nil {
		logger.Errorf("failed to start", map[string]any{"error": err.Error()})
		os.Exit(1)
	}

	select {
	case sig := <-sigCh:
		logger.Infof("received shutdown signal", map[string]any{"signal": sig.String()})
	case err := <-svc.Errors():
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("api server error", map[string]any{"error": err.Error()})
		}
	}

	logger.Info("initiating graceful shutdown")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := svc.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("shutdown error", map[string]any{"error": err.Error()})
		os.Exit(1)
	}
}

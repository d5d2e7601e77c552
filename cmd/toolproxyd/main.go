// toolproxyd keeps a set of MCP tool proxy processes running and in
// sync with the tool configuration store, and exposes refresh/status
// over HTTP.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/amadeuslabs/toolproxyd/internal/api"
	"github.com/amadeuslabs/toolproxyd/internal/config"
	"github.com/amadeuslabs/toolproxyd/internal/manager"
	"github.com/amadeuslabs/toolproxyd/internal/scheduler"
	"github.com/amadeuslabs/toolproxyd/internal/security"
	"github.com/amadeuslabs/toolproxyd/internal/store"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("toolproxyd", flag.ExitOnError)
	configPath := fs.String("config", "toolproxyd.json", "path to config file")
	showVersion := fs.Bool("version", false, "print version and exit")
	fs.Parse(os.Args[1:])

	if *showVersion {
		fmt.Printf("toolproxyd %s (%s)\n", version, buildTime)
		return 0
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("toolproxyd starting",
		"version", version,
		"config", *configPath,
		"port_range", fmt.Sprintf("%d-%d", cfg.Ports.Min, cfg.Ports.Max),
		"store", cfg.Store.Driver,
	)

	source, closeSource, err := openSource(cfg)
	if err != nil {
		logger.Error("cannot open config store", "error", err)
		return 1
	}
	defer closeSource()

	hub := manager.NewLogHub(cfg.Logs.BufferLines)
	sup := manager.NewSupervisor(cfg.GracePeriod(), cfg.KillTimeout(), hub, logger)
	mgr := manager.New(
		source,
		manager.NewPortAllocator(cfg.Ports.Min, cfg.Ports.Max),
		manager.NewRegistry(),
		sup,
		manager.Options{
			StopTimeout: cfg.StopTimeout(),
			MaxParallel: cfg.Supervisor.MaxParallel,
		},
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Bring the process set up before serving status.
	if res, err := mgr.Refresh(ctx); err != nil {
		logger.Warn("initial refresh failed, continuing", "error", err)
	} else {
		logger.Info("initial refresh complete", "started", len(res.Started), "failed", len(res.Failed))
	}

	if cfg.Refresh.Auto {
		sched := scheduler.Schedule{
			Kind:     cfg.Refresh.Kind,
			Interval: cfg.RefreshInterval(),
			Expr:     cfg.Refresh.Cron,
		}
		if err := sched.Validate(); err != nil {
			logger.Error("invalid refresh schedule", "error", err)
			return 1
		}
		runner := scheduler.NewRunner(sched, mgr, logger)
		go runner.Start(ctx)
		defer runner.Stop()
	}

	server := api.NewServer(cfg.Server.Port, mgr, hub, security.SecretFromEnv(), logger)
	if err := server.Start(ctx); err != nil {
		logger.Error("API server failed", "error", err)
	}

	// Signal received or server failed: stop every managed process
	// before exiting so no proxies are orphaned.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.StopTimeout()+cfg.KillTimeout())
	defer cancel()
	mgr.Shutdown(shutdownCtx)

	logger.Info("toolproxyd stopped")
	return 0
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

func openSource(cfg *config.Config) (manager.ConfigSource, func(), error) {
	switch cfg.Store.Driver {
	case "sqlite":
		src, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			return nil, nil, err
		}
		return src, func() { src.Close() }, nil
	case "file":
		return store.NewFileSource(cfg.Store.Path), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/mattjoyce/deploygw/internal/api"
	"github.com/mattjoyce/deploygw/internal/config"
	"github.com/mattjoyce/deploygw/internal/dispatch"
	"github.com/mattjoyce/deploygw/internal/events"
	"github.com/mattjoyce/deploygw/internal/lock"
	"github.com/mattjoyce/deploygw/internal/log"
	"github.com/mattjoyce/deploygw/internal/notify"
	"github.com/mattjoyce/deploygw/internal/storage"
	"github.com/mattjoyce/deploygw/internal/webhook"
)

const pruneInterval = time.Hour

const systemStartHelp = `Usage: deploygw system start [--config PATH]
Start the gateway in the foreground.
`

func runSystemNoun(args []string) int {
	return dispatchNoun("system", args,
		map[string]func([]string) int{"start": runStart},
		map[string]string{"start": systemStartHelp},
	)
}

// resolveConfigPath returns configPath, or the discovered config when empty.
func resolveConfigPath(configPath string) (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	discovered, err := config.DiscoverConfigPath()
	if err != nil {
		return "", err
	}
	fmt.Fprintf(stderr, "Using discovered config: %s\n", discovered)
	return discovered, nil
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	path, err := resolveConfigPath(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to discover config: %v\n", err)
		return 1
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("deploygw starting", "version", version, "config", cfg.SourcePath)

	pidLockPath := lock.PathFor(cfg.State.Path)
	pidLock, err := lock.Acquire(pidLockPath)
	if err != nil {
		logger.Error("failed to acquire PID lock", "path", pidLockPath, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLockPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(256)
	sinks := notify.Multi{{Name: "events", Notifier: hub}}

	// Interfaces stay nil when the feature is off.
	var (
		history webhook.DeployLister
		lister  api.DeployLister
		circuit api.CircuitReporter
	)

	if cfg.State.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			logger.Error("failed to open database", "path", cfg.State.Path, "error", err)
			return 1
		}
		defer db.Close()
		logger.Info("database opened", "path", cfg.State.Path)

		deployLog := storage.NewDeployLog(db)
		history, lister = deployLog, deployLog
		sinks = append(sinks, notify.Sink{Name: "history", Notifier: deployLog})

		if cfg.State.Retention > 0 {
			go pruneLoop(ctx, deployLog, cfg.State.Retention, log.WithComponent("retention"))
		}
	}

	notifyTimeout := dispatch.DefaultNotifyTimeout
	if cfg.Notify != nil {
		alert := notify.NewHTTP(notify.FromGlobalConfig(*cfg.Notify))
		circuit = alert
		sinks = append(sinks, notify.Sink{Name: "alert", Notifier: alert})
		// Leave room for the alert request inside the dispatch timeout.
		notifyTimeout = cfg.Notify.Timeout + time.Second
		logger.Info("alert notifier enabled", "events", cfg.Notify.Events)
	}

	disp := dispatch.New(sinks, notifyTimeout)

	webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhook)
	if err != nil {
		logger.Error("failed to configure webhook", "error", err)
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 2)
	var servers sync.WaitGroup

	webhookServer := webhook.New(webhookConfig, disp, history, log.WithComponent("webhook"))
	servers.Add(1)
	go func() {
		defer servers.Done()
		if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("webhook: %w", err)
		}
	}()

	if cfg.API.Enabled {
		apiServer := api.New(api.FromGlobalConfig(cfg.API, version), hub, lister, circuit, log.WithComponent("api"))
		servers.Add(1)
		go func() {
			defer servers.Done()
			if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("api: %w", err)
			}
		}()
		logger.Info("API server enabled", "listen", cfg.API.Listen)
	}

	logger.Info("deploygw running (press Ctrl+C to stop)")

	exitCode := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		exitCode = 1
	}

	cancel()
	servers.Wait()
	// In-flight notifications still hold the history database.
	disp.Wait()

	logger.Info("deploygw stopped")
	return exitCode
}

// pruneLoop deletes history older than retention now and then hourly.
func pruneLoop(ctx context.Context, deployLog *storage.DeployLog, retention time.Duration, logger *slog.Logger) {
	prune := func() {
		n, err := deployLog.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("deploy history prune failed", "error", err)
			}
			return
		}
		if n > 0 {
			logger.Info("pruned deploy history", "deleted", n, "retention", retention.String())
		}
	}

	prune()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}

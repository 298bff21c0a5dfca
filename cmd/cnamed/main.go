// cnamed is a small authoritative DNS server that answers A/AAAA/ANY
// queries by rewriting the query name through ordered regex rules into a
// CNAME target, and answers NXDOMAIN for everything else.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cnamed/pkg/config"
	dnssrv "cnamed/pkg/dns"
	"cnamed/pkg/logging"
	"cnamed/pkg/rewrite"
	"cnamed/pkg/storage"
	"cnamed/pkg/telemetry"
)

var (
	configPath = flag.String("config", "config.json", "Path to configuration file")
	version    = "dev"
	buildTime  = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, "cnamed - regex CNAME rewriting DNS server\n\n")
	fmt.Fprintf(os.Stderr, "Usage: %s [flags]\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(&cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logging.SetGlobal(logger)

	logger.Info("cnamed starting",
		"version", version,
		"build_time", buildTime,
	)

	// A bad pattern rejects the whole configuration; a half-loaded rule
	// list would silently change match priority.
	rules, err := rewrite.CompileRules(cfg.Replacements)
	if err != nil {
		logger.Error("Failed to compile rewrite rules", "error", err)
		os.Exit(1)
	}
	engine := rewrite.NewEngine(rules)
	logger.Info("Rewrite rules compiled", "count", rules.Len())

	ctx := context.Background()
	telem, err := telemetry.New(ctx, &cfg.Telemetry, logger)
	if err != nil {
		logger.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	metrics, err := telem.InitMetrics()
	if err != nil {
		logger.Error("Failed to initialize metrics", "error", err)
		os.Exit(1)
	}
	metrics.RuleSetSize.Add(ctx, int64(rules.Len()))

	handler := dnssrv.NewHandler(engine)
	handler.SetLogger(logger)
	handler.SetMetrics(metrics)
	handler.RewriteTTL = cfg.Server.RewriteTTL

	var stor storage.Storage
	var queryLogger *dnssrv.QueryLogger
	if cfg.Storage.Enabled {
		stor, err = storage.NewSQLiteStorage(&cfg.Storage, metrics)
		if err != nil {
			logger.Error("Failed to initialize storage", "error", err)
			os.Exit(1)
		}
		queryLogger = dnssrv.NewQueryLogger(stor, logger, cfg.Storage.BufferSize, cfg.Storage.Workers)
		handler.SetQueryLogger(queryLogger)

		go retentionLoop(ctx, stor, cfg.Storage.RetentionDays, logger)
	}

	server := dnssrv.NewServer(cfg, handler, logger, metrics)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverCtx, serverCancel := context.WithCancel(ctx)
	defer serverCancel()

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(serverCtx); err != nil {
			errChan <- err
		}
	}()

	logger.Info("cnamed is running",
		"address", cfg.BindAddress,
		"rules", rules.Len(),
	)

	select {
	case sig := <-sigChan:
		logger.Info("Received shutdown signal", "signal", sig.String())
		serverCancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during server shutdown", "error", err)
		}
		if queryLogger != nil {
			if err := queryLogger.Close(); err != nil {
				logger.Error("Error during query logger shutdown", "error", err)
			}
		}
		if stor != nil {
			if err := stor.Close(); err != nil {
				logger.Error("Error during storage shutdown", "error", err)
			}
		}
		if err := telem.Shutdown(shutdownCtx); err != nil {
			logger.Error("Error during telemetry shutdown", "error", err)
		}

		logger.Info("cnamed stopped")

	case err := <-errChan:
		logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// retentionLoop prunes query logs past the retention window once a day.
func retentionLoop(ctx context.Context, stor storage.Storage, retentionDays int, logger *logging.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().AddDate(0, 0, -retentionDays)
			cleanupCtx, cancel := context.WithTimeout(ctx, time.Minute)
			if err := stor.Cleanup(cleanupCtx, cutoff); err != nil {
				logger.Error("Query log cleanup failed", "error", err)
			}
			cancel()
		}
	}
}

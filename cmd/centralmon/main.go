// Command centralmon is the Central Monitor agent binary. It loads a YAML
// configuration file, registers with the aggregator under the local host
// name, answers sample pulls, runs pushed remediation scripts, and shuts
// down cleanly on SIGTERM or SIGINT.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benkietzman/centralmon/internal/collector"
	"github.com/benkietzman/centralmon/internal/config"
	"github.com/benkietzman/centralmon/internal/uplink"
)

func main() {
	configPath := flag.String("config", "/etc/centralmon/centralmon.yaml", "path to the agent YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadAgent(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "centralmon: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	name := cfg.Hostname
	if name == "" {
		name, err = os.Hostname()
		if err != nil {
			logger.Error("failed to determine hostname", slog.Any("error", err))
			os.Exit(1)
		}
	}

	logger.Info("central monitor agent starting",
		slog.String("host", name),
		slog.String("server_addr", cfg.ServerAddr),
	)

	journal, err := uplink.OpenJournal(cfg.JournalPath)
	if err != nil {
		logger.Error("failed to open script journal", slog.Any("error", err))
		os.Exit(1)
	}
	defer journal.Close()

	dial, err := uplink.TLSDialer(cfg.ServerAddr, cfg.CAPath)
	if err != nil {
		logger.Error("failed to build dialer", slog.Any("error", err))
		os.Exit(1)
	}

	sess := uplink.NewSession(
		name,
		collector.NewHost(logger),
		uplink.NewRunner(journal, logger, uplink.DefaultScriptTimeout),
		dial,
		time.Duration(cfg.ReconnectInterval)*time.Second,
		logger,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := sess.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("session error", slog.Any("error", err))
		os.Exit(1)
	}

	logger.Info("central monitor agent exited cleanly")
}

// newLogger constructs a *slog.Logger that writes JSON-structured log records
// to stderr at the requested minimum level.
func newLogger(level string) *slog.Logger {
	var l slog.Level
	switch level {
	case "debug":
		l = slog.LevelDebug
	case "warn":
		l = slog.LevelWarn
	case "error":
		l = slog.LevelError
	default:
		l = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l}))
}

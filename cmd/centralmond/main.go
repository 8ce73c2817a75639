// Command centralmond is the Central Monitor aggregator binary. It loads a
// YAML configuration file, opens the PostgreSQL catalog, listens for agent
// and query connections on the monitor port (TLS and cleartext on the same
// socket), exposes the HTTP status API, and shuts down gracefully on SIGTERM
// or SIGINT.
package main

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benkietzman/centralmon/internal/catalog"
	"github.com/benkietzman/centralmon/internal/config"
	"github.com/benkietzman/centralmon/internal/hub"
	"github.com/benkietzman/centralmon/internal/notify"
	"github.com/benkietzman/centralmon/internal/status"
)

func main() {
	configPath := flag.String("config", "/etc/centralmon/centralmond.yaml", "path to the aggregator YAML configuration file")
	flag.Parse()

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "centralmond: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("central monitor aggregator starting",
		slog.String("listen_addr", cfg.ListenAddr),
		slog.String("status_addr", cfg.StatusAddr),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── PostgreSQL catalog ────────────────────────────────────────────────────
	store, err := catalog.New(ctx, cfg.CatalogDSN)
	if err != nil {
		logger.Error("failed to open catalog", slog.Any("error", err))
		os.Exit(1)
	}
	defer store.Close()
	logger.Info("catalog connected")

	// ── Notification gateway ──────────────────────────────────────────────────
	var dispatcher *notify.Dispatcher
	if cfg.GatewayURL != "" {
		gateway := notify.NewGateway(cfg.GatewayURL, cfg.ChatRoom)
		dispatcher = notify.NewDispatcher(gateway, store, logger)
		logger.Info("notifications enabled", slog.String("gateway", cfg.GatewayURL))
	} else {
		logger.Warn("no gateway configured; notifications disabled (dev mode)")
	}

	// ── Monitor port ──────────────────────────────────────────────────────────
	cert, err := tls.LoadX509KeyPair(cfg.TLS.CertPath, cfg.TLS.KeyPath)
	if err != nil {
		logger.Error("failed to load TLS key pair", slog.Any("error", err))
		os.Exit(1)
	}

	h := hub.New(hub.Config{
		TLS:          &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12},
		Syncer:       catalog.NewSyncer(store, logger),
		Dispatcher:   dispatcher,
		Contacts:     store,
		SyncInterval: time.Duration(cfg.SyncInterval) * time.Second,
		Logger:       logger,
	})

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to bind monitor port", slog.Any("error", err))
		os.Exit(1)
	}

	// ── Status API ────────────────────────────────────────────────────────────
	var pubKey *rsa.PublicKey
	if cfg.JWTPublicKeyPath != "" {
		pem, err := os.ReadFile(cfg.JWTPublicKeyPath)
		if err != nil {
			logger.Error("failed to read JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		pubKey, err = status.ParseRSAPublicKey(pem)
		if err != nil {
			logger.Error("failed to parse JWT public key", slog.Any("error", err))
			os.Exit(1)
		}
		logger.Info("status API authentication enabled")
	} else {
		logger.Warn("jwt_public_key_path not configured; status API authentication disabled (dev mode)")
	}

	statusServer := &http.Server{
		Addr:         cfg.StatusAddr,
		Handler:      status.NewRouter(h, pubKey, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// ── Start servers ─────────────────────────────────────────────────────────
	hubErrCh := make(chan error, 1)
	go func() {
		logger.Info("monitor port listening", slog.String("addr", cfg.ListenAddr))
		if err := h.Serve(ctx, ln); err != nil && err != context.Canceled {
			hubErrCh <- fmt.Errorf("hub: %w", err)
		}
		close(hubErrCh)
	}()

	statusErrCh := make(chan error, 1)
	go func() {
		logger.Info("status API listening", slog.String("addr", cfg.StatusAddr))
		if err := statusServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			statusErrCh <- fmt.Errorf("status server: %w", err)
		}
		close(statusErrCh)
	}()

	// ── Wait for shutdown signal or fatal error ────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
	case err := <-hubErrCh:
		if err != nil {
			logger.Error("hub error", slog.Any("error", err))
		}
	case err := <-statusErrCh:
		if err != nil {
			logger.Error("status server error", slog.Any("error", err))
		}
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	logger.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := statusServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("status server shutdown error", slog.Any("error", err))
	}

	select {
	case <-hubErrCh:
	case <-shutdownCtx.Done():
		logger.Warn("hub drain timed out")
	}

	logger.Info("central monitor aggregator exited cleanly")
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

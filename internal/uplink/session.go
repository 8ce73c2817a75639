package uplink

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/benkietzman/centralmon/internal/collector"
	"github.com/benkietzman/centralmon/internal/wire"
)

// DialFunc opens one connection to the aggregator.
type DialFunc func(ctx context.Context) (net.Conn, error)

// TLSDialer returns a DialFunc connecting to addr over TLS. When caPath is
// non-empty the server certificate is verified against that CA instead of
// the system roots.
func TLSDialer(addr, caPath string) (DialFunc, error) {
	tlsCfg := &tls.Config{MinVersion: tls.VersionTLS12}
	if caPath != "" {
		pem, err := os.ReadFile(caPath)
		if err != nil {
			return nil, fmt.Errorf("uplink: read CA %q: %w", caPath, err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("uplink: no certificates in %q", caPath)
		}
		tlsCfg.RootCAs = pool
	}
	dialer := &tls.Dialer{Config: tlsCfg}
	return func(ctx context.Context) (net.Conn, error) {
		return dialer.DialContext(ctx, "tcp", addr)
	}, nil
}

// initialReconnect is the starting interval for exponential-backoff
// reconnection after a lost server connection.
const initialReconnect = 5 * time.Second

// Session is the agent's persistent connection to the aggregator. It
// registers under the host name, then answers sample pulls and runs pushed
// remediation scripts until the connection drops. Reconnection applies
// exponential backoff from initialReconnect up to the configured maximum,
// resetting after each successful connection.
type Session struct {
	name         string
	collector    collector.Collector
	runner       *Runner
	dial         DialFunc
	maxReconnect time.Duration
	logger       *slog.Logger
}

// NewSession returns a session registering under name.
func NewSession(name string, c collector.Collector, runner *Runner, dial DialFunc, maxReconnect time.Duration, logger *slog.Logger) *Session {
	return &Session{
		name:         name,
		collector:    c,
		runner:       runner,
		dial:         dial,
		maxReconnect: maxReconnect,
		logger:       logger,
	}
}

// Run dials and serves until ctx is cancelled. Connection loss is not an
// error: the session backs off and dials again.
func (s *Session) Run(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = initialReconnect
	b.MaxInterval = s.maxReconnect
	b.MaxElapsedTime = 0 // retry indefinitely
	b.Reset()

	for {
		conn, err := s.dial(ctx)
		if err != nil {
			s.logger.Warn("dial failed", slog.Any("error", err))
		} else {
			s.logger.Info("connected", slog.String("host", s.name))
			if err := s.Serve(ctx, conn); err != nil && ctx.Err() == nil {
				s.logger.Warn("connection lost", slog.Any("error", err))
			}
			b.Reset()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := b.NextBackOff()
		s.logger.Info("will reconnect", slog.Duration("after", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// Serve registers on conn and answers requests until the connection drops
// or ctx is cancelled. It takes ownership of conn.
func (s *Session) Serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if _, err := fmt.Fprintf(conn, "server %s\n", s.name); err != nil {
		return fmt.Errorf("register: %w", err)
	}

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return err
		}
		line = strings.TrimRight(line, "\r\n")
		verb, arg, _ := strings.Cut(line, " ")

		switch verb {
		case "system":
			sample, err := s.collector.System(ctx)
			if err != nil {
				s.logger.Error("system sample failed", slog.Any("error", err))
				continue
			}
			if _, err := fmt.Fprintf(conn, "%s\n", sample.Encode()); err != nil {
				return err
			}
		case "process":
			if arg == "" {
				if _, err := fmt.Fprintf(conn, "%s\n", wire.ProcessPlaceholder); err != nil {
					return err
				}
				continue
			}
			sample, err := s.collector.Process(ctx, arg)
			if err != nil {
				s.logger.Error("process sample failed", slog.String("daemon", arg), slog.Any("error", err))
				continue
			}
			if _, err := fmt.Fprintf(conn, "%s\n", sample.Encode()); err != nil {
				return err
			}
		case "script":
			payload, err := reader.ReadString('\n')
			if err != nil {
				return err
			}
			s.runScript(ctx, arg, []byte(strings.TrimRight(payload, "\r\n")))
		default:
			s.logger.Warn("unknown request", slog.String("line", line))
		}
	}
}

// runScript launches a pushed remediation script without blocking the
// request loop. The daemon name rides inside the JSON payload.
func (s *Session) runScript(ctx context.Context, command string, payload []byte) {
	if command == "" {
		return
	}
	var meta struct {
		Daemon string `json:"daemon"`
	}
	if err := json.Unmarshal(payload, &meta); err != nil {
		s.logger.Warn("malformed script payload", slog.Any("error", err))
	}
	go func() {
		_, _ = s.runner.Run(ctx, meta.Daemon, command, payload)
	}()
}

package catalog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/benkietzman/centralmon/internal/registry"
)

// Source is the catalog surface the syncer reads. *Store implements it.
type Source interface {
	ServerThresholds(ctx context.Context, host string) (registry.SystemThresholds, bool, error)
	DaemonSpecs(ctx context.Context, host string) ([]registry.ProcessSpec, error)
}

// Syncer refreshes registry host records from the catalog.
type Syncer struct {
	src    Source
	logger *slog.Logger
}

// NewSyncer returns a syncer reading from src.
func NewSyncer(src Source, logger *slog.Logger) *Syncer {
	return &Syncer{src: src, logger: logger}
}

// SyncHost loads thresholds and daemon specs for one host and reconciles the
// record. A host missing from the catalog keeps its previous thresholds, and
// its process table reconciles against the (possibly empty) daemon list.
func (s *Syncer) SyncHost(ctx context.Context, h *registry.Host) error {
	t, ok, err := s.src.ServerThresholds(ctx, h.Name)
	if err != nil {
		return fmt.Errorf("thresholds for %s: %w", h.Name, err)
	}
	if ok {
		h.SetThresholds(t)
	} else {
		s.logger.Warn("host not in catalog", slog.String("host", h.Name))
	}

	specs, err := s.src.DaemonSpecs(ctx, h.Name)
	if err != nil {
		return fmt.Errorf("daemons for %s: %w", h.Name, err)
	}
	h.ReconcileProcesses(specs)
	return nil
}

// SyncAll refreshes every admitted host, continuing past per-host failures
// and returning the last error seen.
func (s *Syncer) SyncAll(ctx context.Context, r *registry.Registry) error {
	var lastErr error
	for _, name := range r.Names() {
		h, ok := r.Host(name)
		if !ok {
			continue
		}
		if err := s.SyncHost(ctx, h); err != nil {
			s.logger.Error("catalog sync failed", slog.String("host", name), slog.Any("error", err))
			lastErr = err
		}
	}
	return lastErr
}

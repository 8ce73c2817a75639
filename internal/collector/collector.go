// Package collector samples the local host for the centralmon agent: one
// host-level resource snapshot per pull, and per-daemon aggregates over every
// running instance of a named process.
package collector

import (
	"context"

	"github.com/benkietzman/centralmon/internal/wire"
)

// Collector produces the samples an agent reports upstream.
type Collector interface {
	// System returns a host-level resource sample.
	System(ctx context.Context) (wire.SystemSample, error)

	// Process returns an aggregate over every running instance of the named
	// daemon. A daemon with no running instances yields a zero-count sample,
	// not an error.
	Process(ctx context.Context, name string) (wire.ProcessSample, error)
}

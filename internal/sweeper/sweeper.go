// Package sweeper persists expiry and purges old gatherings. Reads never
// depend on it: effective status is always derived from the deadline.
package sweeper

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"time"

	"gathering-service/internal/clock"
	"gathering-service/internal/observability"
	"gathering-service/internal/telemetry"
)

// Store is the subset of the gathering repository the sweeper drives.
type Store interface {
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type Sweeper struct {
	store     Store
	clock     clock.Clock
	events    *telemetry.EventEmitter
	interval  time.Duration
	retention time.Duration
}

// New returns a sweeper. A zero retention disables purging.
func New(store Store, clk clock.Clock, events *telemetry.EventEmitter, interval, retention time.Duration) *Sweeper {
	if clk == nil {
		clk = clock.System{}
	}
	return &Sweeper{store: store, clock: clk, events: events, interval: interval, retention: retention}
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, _, err := s.Sweep(ctx); err != nil {
				log.Printf("sweep failed: %v", err)
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs one pass and returns how many gatherings were expired and purged.
func (s *Sweeper) Sweep(ctx context.Context) (expired, purged int64, err error) {
	now := s.clock.Now()

	expired, err = s.store.MarkExpired(ctx, now)
	if err != nil {
		return 0, 0, fmt.Errorf("mark expired: %w", err)
	}
	observability.AddSweepAffected("expired", expired)
	if expired > 0 {
		s.events.Emit(ctx, telemetry.DomainEvent{
			EventName:  telemetry.EventGatheringExpired,
			OccurredAt: now.Format(time.RFC3339Nano),
			Detail:     "count=" + strconv.FormatInt(expired, 10),
		})
	}

	if s.retention <= 0 {
		return expired, 0, nil
	}
	purged, err = s.store.PurgeCreatedBefore(ctx, now.Add(-s.retention))
	if err != nil {
		return expired, 0, fmt.Errorf("purge: %w", err)
	}
	observability.AddSweepAffected("purged", purged)
	if expired > 0 || purged > 0 {
		log.Printf("sweep: expired=%d purged=%d", expired, purged)
	}
	return expired, purged, nil
}

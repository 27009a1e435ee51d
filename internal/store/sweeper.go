package store

import (
	"context"
	"log"
	"time"

	"github.com/tenantops/lab-lifecycle/internal/audit"
)

// Sweeper periodically removes deployment records whose TTL has lapsed.
// Under DynamoDB its deletes surface on the table stream exactly like native
// TTL deletes, so reclamation still fires once per record; it exists because
// native TTL deletion can lag expiry by up to 48 hours and lab teardown
// should not.
type Sweeper struct {
	store    DeploymentStore
	recorder *audit.Recorder
	interval time.Duration
}

func NewSweeper(store DeploymentStore, recorder *audit.Recorder, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{store: store, recorder: recorder, interval: interval}
}

// Run blocks until ctx is cancelled, sweeping every interval.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Printf("[sweeper] starting (interval=%s)", s.interval)
	defer log.Printf("[sweeper] stopped")

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			deleted, err := s.store.DeleteExpired(ctx, time.Now())
			if err != nil {
				log.Printf("[sweeper] sweep failed: %v", err)
				continue
			}
			for _, rec := range deleted {
				s.recorder.Record(ctx, audit.EventSessionExpired, rec.DepID, map[string]int64{"ttl": rec.TTL})
			}
			if len(deleted) > 0 {
				log.Printf("[sweeper] removed %d expired deployment(s)", len(deleted))
			}
		}
	}
}

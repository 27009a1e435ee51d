package audit

import (
	"context"
	"log"
	"sync"
	"time"
)

// Producer is the subset of Kafka producer behavior the streamer needs.
type Producer interface {
	ProduceEvent(ctx context.Context, ev *Event) error
	Close() error
}

// StreamerConfig configures the DB-first streamer.
type StreamerConfig struct {
	BatchSize      int
	PollInterval   time.Duration
	MaxConcurrency int
}

// Streamer drains pending lifecycle events from the store, produces each to
// Kafka and archives it to S3, then settles the row. The database stays the
// source of truth: a crash mid-batch leaves rows claimable again after
// operator reset, never half-published state the pipeline forgot about.
type Streamer struct {
	store    Store
	producer Producer
	archiver Archiver
	cfg      StreamerConfig
	wg       sync.WaitGroup
}

func NewStreamer(store Store, producer Producer, archiver Archiver, cfg StreamerConfig) *Streamer {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 10
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 5
	}
	return &Streamer{store: store, producer: producer, archiver: archiver, cfg: cfg}
}

// Run blocks until ctx is cancelled, polling for pending work and processing
// batches concurrently up to MaxConcurrency.
func (s *Streamer) Run(ctx context.Context) error {
	log.Printf("[audit.streamer] starting (batch=%d, concurrency=%d)", s.cfg.BatchSize, s.cfg.MaxConcurrency)
	defer log.Printf("[audit.streamer] stopped")

	sem := make(chan struct{}, s.cfg.MaxConcurrency)

	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			if s.producer != nil {
				_ = s.producer.Close()
			}
			return ctx.Err()
		default:
		}

		events, err := s.store.FetchPendingEvents(ctx, s.cfg.BatchSize)
		if err != nil {
			log.Printf("[audit.streamer] fetch pending: %v", err)
			sleepOrDone(ctx, s.cfg.PollInterval)
			continue
		}
		if len(events) == 0 {
			sleepOrDone(ctx, s.cfg.PollInterval)
			continue
		}

		for i := range events {
			ev := events[i]
			sem <- struct{}{}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer func() { <-sem }()
				s.process(ctx, &ev)
			}()
		}
		s.wg.Wait()
	}
}

func (s *Streamer) process(ctx context.Context, ev *Event) {
	if err := s.producer.ProduceEvent(ctx, ev); err != nil {
		log.Printf("[audit.streamer] produce %s: %v", ev.ID, err)
		if err := s.store.MarkEventFailed(ctx, ev.ID); err != nil {
			log.Printf("[audit.streamer] mark failed %s: %v", ev.ID, err)
		}
		return
	}
	if s.archiver != nil {
		if err := s.archiver.ArchiveEvent(ctx, ev); err != nil {
			// Kafka already has the event; archive failure is retried by
			// re-marking the row failed for operator redrive.
			log.Printf("[audit.streamer] archive %s: %v", ev.ID, err)
			if err := s.store.MarkEventFailed(ctx, ev.ID); err != nil {
				log.Printf("[audit.streamer] mark failed %s: %v", ev.ID, err)
			}
			return
		}
	}
	if err := s.store.MarkEventStreamed(ctx, ev.ID); err != nil {
		log.Printf("[audit.streamer] mark streamed %s: %v", ev.ID, err)
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

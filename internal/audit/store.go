package audit

import (
	"context"
	"log"
)

// Store is the persistence abstraction for lifecycle audit events.
type Store interface {
	// AppendEvent persists a new event with stream_status pending.
	AppendEvent(ctx context.Context, ev *Event) error

	// FetchPendingEvents claims up to limit pending events for streaming,
	// marking them in_progress and incrementing attempts.
	FetchPendingEvents(ctx context.Context, limit int) ([]Event, error)

	// MarkEventStreamed / MarkEventFailed settle a claimed event.
	MarkEventStreamed(ctx context.Context, id string) error
	MarkEventFailed(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}

// Recorder appends lifecycle events without letting audit failures disturb
// the control path. A nil Recorder is a no-op.
type Recorder struct {
	store Store
}

func NewRecorder(store Store) *Recorder {
	return &Recorder{store: store}
}

// Record appends an event, logging (not returning) failures.
func (r *Recorder) Record(ctx context.Context, eventType, depID string, payload interface{}) {
	if r == nil || r.store == nil {
		return
	}
	ev := &Event{DepID: depID, EventType: eventType, Payload: payload}
	if err := r.store.AppendEvent(ctx, ev); err != nil {
		log.Printf("[audit] append %s for %s failed: %v", eventType, depID, err)
	}
}

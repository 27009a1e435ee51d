package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// PGStore persists lifecycle audit events into Postgres.
//
// Schema:
//
//	CREATE TABLE lifecycle_events (
//	    id            TEXT PRIMARY KEY,
//	    dep_id        TEXT NOT NULL,
//	    event_type    TEXT NOT NULL,
//	    payload       JSONB NOT NULL DEFAULT '{}',
//	    ts            TIMESTAMPTZ NOT NULL,
//	    stream_status TEXT NOT NULL DEFAULT 'pending',
//	    attempts      INT NOT NULL DEFAULT 0
//	);
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (p *PGStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PGStore) AppendEvent(ctx context.Context, ev *Event) error {
	if ev.ID == "" {
		ev.ID = NewUUID()
	}
	if ev.Ts.IsZero() {
		ev.Ts = time.Now().UTC()
	}
	if ev.StreamStatus == "" {
		ev.StreamStatus = StreamPending
	}
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	q := `
		INSERT INTO lifecycle_events (id, dep_id, event_type, payload, ts, stream_status, attempts)
		VALUES ($1, $2, $3, $4, $5, $6, 0)
	`
	_, err = p.db.ExecContext(ctx, q, ev.ID, ev.DepID, ev.EventType, payload, ev.Ts, ev.StreamStatus)
	return err
}

// FetchPendingEvents claims pending rows with SELECT ... FOR UPDATE SKIP
// LOCKED so concurrent streamers never double-claim.
func (p *PGStore) FetchPendingEvents(ctx context.Context, limit int) ([]Event, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	q := `
		SELECT id, dep_id, event_type, payload, ts, attempts
		FROM lifecycle_events
		WHERE stream_status = 'pending'
		ORDER BY ts
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`
	rows, err := tx.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	var events []Event
	for rows.Next() {
		var ev Event
		var payload []byte
		if err := rows.Scan(&ev.ID, &ev.DepID, &ev.EventType, &payload, &ev.Ts, &ev.Attempts); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan event: %w", err)
		}
		var decoded interface{}
		if len(payload) > 0 {
			_ = json.Unmarshal(payload, &decoded)
		}
		ev.Payload = decoded
		ev.StreamStatus = StreamInProgress
		events = append(events, ev)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range events {
		if _, err := tx.ExecContext(ctx,
			`UPDATE lifecycle_events SET stream_status = 'in_progress', attempts = attempts + 1 WHERE id = $1`,
			events[i].ID,
		); err != nil {
			return nil, fmt.Errorf("claim event: %w", err)
		}
		events[i].Attempts++
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit claim: %w", err)
	}
	return events, nil
}

func (p *PGStore) MarkEventStreamed(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE lifecycle_events SET stream_status = 'streamed' WHERE id = $1`, id)
	return err
}

func (p *PGStore) MarkEventFailed(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx,
		`UPDATE lifecycle_events SET stream_status = 'failed' WHERE id = $1`, id)
	return err
}

// Package audit records the lab lifecycle audit trail: events are appended
// to Postgres first, then streamed to Kafka and archived to S3 by a
// DB-driven streamer, so the database stays the source of truth for retries.
package audit

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Lifecycle event types.
const (
	EventSessionCreated     = "session.created"
	EventSessionRenewed     = "session.renewed"
	EventSessionExpired     = "session.expired"
	EventProvisionCompleted = "provision.completed"
	EventProvisionFailed    = "provision.failed"
	EventReclaimCompleted   = "reclaim.completed"
	EventUserRemovalSkipped = "reclaim.user_removal_skipped"
)

// Stream status values for an event row.
const (
	StreamPending    = "pending"
	StreamInProgress = "in_progress"
	StreamDone       = "streamed"
	StreamFailed     = "failed"
)

// Event is one lifecycle audit record.
type Event struct {
	ID           string      `json:"id"`
	DepID        string      `json:"dep_id"`
	EventType    string      `json:"eventType"`
	Payload      interface{} `json:"payload,omitempty"`
	Ts           time.Time   `json:"ts"`
	StreamStatus string      `json:"-"`
	Attempts     int         `json:"-"`
}

var ErrNotFound = errors.New("not found")

// NewUUID returns a freshly-generated UUID string.
func NewUUID() string {
	return uuid.New().String()
}

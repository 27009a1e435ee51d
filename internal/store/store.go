// Package store persists deployment records and lab configurations. The
// deployment record store is the system's single source of truth and sole
// synchronization point; all mutations are scoped field updates so that
// concurrent writers touching different fields never clobber each other.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
)

// RecordUpdate is the fixed, enumerated set of independently settable
// deployment record fields. Nil fields are left untouched. Every update also
// refreshes updated_at; setting TTL refreshes the human-readable expiration.
type RecordUpdate struct {
	DeploymentStatus *models.DeploymentStatus
	CreateNamespace  *models.StepStatus
	CreateUser       *models.StepStatus
	PreHook          *models.StepStatus
	TenantURL        *string
	StatusDetail     *string
	TTL              *int64
}

// DeploymentStore is the durable per-session record store.
type DeploymentStore interface {
	// Create inserts a new record; ErrAlreadyExists if the dep_id is taken.
	Create(ctx context.Context, rec models.DeploymentRecord) error

	Get(ctx context.Context, depID string) (models.DeploymentRecord, error)

	// Update applies a scoped field update to an existing record.
	Update(ctx context.Context, depID string, upd RecordUpdate) error

	// Delete removes a record and returns its last image.
	Delete(ctx context.Context, depID string) (models.DeploymentRecord, error)

	// ListActivePeers returns records sharing email and tenant URL with a
	// session, excluding the session itself. Used by the shared-user guard.
	ListActivePeers(ctx context.Context, email, tenantURL, excludeDepID string) ([]models.DeploymentRecord, error)

	// DeleteExpired removes every record whose TTL lapsed before now and
	// returns the deleted images.
	DeleteExpired(ctx context.Context, now time.Time) ([]models.DeploymentRecord, error)

	Ping(ctx context.Context) error
}

// LabConfigStore reads per-lab-template configuration. Lab configs are
// provisioned out of band; Put exists for seeding and tests.
type LabConfigStore interface {
	Get(ctx context.Context, labID string) (models.LabConfig, error)
	Put(ctx context.Context, cfg models.LabConfig) error
}

func StatusPtr(s models.DeploymentStatus) *models.DeploymentStatus { return &s }
func StepPtr(s models.StepStatus) *models.StepStatus               { return &s }
func StringPtr(s string) *string                                   { return &s }
func Int64Ptr(n int64) *int64                                      { return &n }

// FormatExpiration renders a TTL instant the way operators read it in the
// record's expiration attribute.
func FormatExpiration(ttl int64) string {
	return time.Unix(ttl, 0).UTC().Format("2006-01-02 15:04:05 UTC")
}

package store

import (
	"context"
	"sync"
	"time"

	"github.com/tenantops/lab-lifecycle/internal/models"
)

// MemoryStore is an in-memory DeploymentStore for tests and local runs. It
// emits change events on Create and Delete, playing the role the table
// stream plays for the DynamoDB store.
type MemoryStore struct {
	mu      sync.Mutex
	records map[string]models.DeploymentRecord
	changes chan models.ChangeEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: map[string]models.DeploymentRecord{},
		changes: make(chan models.ChangeEvent, 128),
	}
}

// Changes is the store's change feed. Events for a single dep_id are emitted
// in write order.
func (m *MemoryStore) Changes() <-chan models.ChangeEvent { return m.changes }

func (m *MemoryStore) Create(ctx context.Context, rec models.DeploymentRecord) error {
	m.mu.Lock()
	if _, ok := m.records[rec.DepID]; ok {
		m.mu.Unlock()
		return ErrAlreadyExists
	}
	m.records[rec.DepID] = rec
	m.mu.Unlock()

	img := rec
	m.changes <- models.ChangeEvent{Kind: models.ChangeCreated, DepID: rec.DepID, NewImage: &img}
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, depID string) (models.DeploymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[depID]
	if !ok {
		return models.DeploymentRecord{}, ErrNotFound
	}
	return rec, nil
}

func (m *MemoryStore) Update(ctx context.Context, depID string, upd RecordUpdate) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[depID]
	if !ok {
		return ErrNotFound
	}
	if upd.DeploymentStatus != nil {
		rec.DeploymentStatus = *upd.DeploymentStatus
	}
	if upd.CreateNamespace != nil {
		rec.CreateNamespace = *upd.CreateNamespace
	}
	if upd.CreateUser != nil {
		rec.CreateUser = *upd.CreateUser
	}
	if upd.PreHook != nil {
		rec.PreHook = *upd.PreHook
	}
	if upd.TenantURL != nil {
		rec.TenantURL = *upd.TenantURL
	}
	if upd.StatusDetail != nil {
		rec.StatusDetail = *upd.StatusDetail
	}
	if upd.TTL != nil {
		// Expiry never moves backward.
		if *upd.TTL > rec.TTL {
			rec.TTL = *upd.TTL
			rec.Expiration = FormatExpiration(rec.TTL)
		}
	}
	rec.UpdatedAt = time.Now().UTC()
	m.records[depID] = rec
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, depID string) (models.DeploymentRecord, error) {
	m.mu.Lock()
	rec, ok := m.records[depID]
	if !ok {
		m.mu.Unlock()
		return models.DeploymentRecord{}, ErrNotFound
	}
	delete(m.records, depID)
	m.mu.Unlock()

	img := rec
	m.changes <- models.ChangeEvent{Kind: models.ChangeRemoved, DepID: depID, OldImage: &img}
	return rec, nil
}

func (m *MemoryStore) ListActivePeers(ctx context.Context, email, tenantURL, excludeDepID string) ([]models.DeploymentRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var peers []models.DeploymentRecord
	for id, rec := range m.records {
		if id == excludeDepID {
			continue
		}
		if rec.Email == email && rec.TenantURL == tenantURL {
			peers = append(peers, rec)
		}
	}
	return peers, nil
}

func (m *MemoryStore) DeleteExpired(ctx context.Context, now time.Time) ([]models.DeploymentRecord, error) {
	m.mu.Lock()
	var expired []string
	for id, rec := range m.records {
		if rec.TTL > 0 && rec.TTL < now.Unix() {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	var deleted []models.DeploymentRecord
	for _, id := range expired {
		rec, err := m.Delete(ctx, id)
		if err != nil {
			continue
		}
		deleted = append(deleted, rec)
	}
	return deleted, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error { return nil }

// MemoryLabConfigStore is an in-memory LabConfigStore.
type MemoryLabConfigStore struct {
	mu   sync.RWMutex
	labs map[string]models.LabConfig
}

func NewMemoryLabConfigStore() *MemoryLabConfigStore {
	return &MemoryLabConfigStore{labs: map[string]models.LabConfig{}}
}

func (m *MemoryLabConfigStore) Get(ctx context.Context, labID string) (models.LabConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cfg, ok := m.labs[labID]
	if !ok {
		return models.LabConfig{}, ErrNotFound
	}
	return cfg, nil
}

func (m *MemoryLabConfigStore) Put(ctx context.Context, cfg models.LabConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.labs[cfg.LabID] = cfg
	return nil
}

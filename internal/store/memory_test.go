package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/store"
)

func sampleRecord(depID string) models.DeploymentRecord {
	return models.DeploymentRecord{
		DepID:            depID,
		LabID:            "lab-x",
		Email:            "a@example.com",
		Petname:          "calm-otter",
		TenantURL:        "https://tenant.example.com",
		TTL:              time.Now().Add(5 * time.Minute).Unix(),
		DeploymentStatus: models.DeploymentPending,
		CreatedAt:        time.Now().UTC(),
		UpdatedAt:        time.Now().UTC(),
	}
}

func TestMemoryStoreCreateGetDelete(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	rec := sampleRecord("d1")
	assert.NoError(t, st.Create(ctx, rec))
	assert.ErrorIs(t, st.Create(ctx, rec), store.ErrAlreadyExists)

	got, err := st.Get(ctx, "d1")
	assert.NoError(t, err)
	assert.Equal(t, rec.LabID, got.LabID)

	old, err := st.Delete(ctx, "d1")
	assert.NoError(t, err)
	assert.Equal(t, "d1", old.DepID)

	_, err = st.Get(ctx, "d1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = st.Delete(ctx, "d1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestMemoryStoreChangeFeedOrder(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	assert.NoError(t, st.Create(ctx, sampleRecord("d1")))
	_, err := st.Delete(ctx, "d1")
	assert.NoError(t, err)

	ev := <-st.Changes()
	assert.Equal(t, models.ChangeCreated, ev.Kind)
	assert.NotNil(t, ev.NewImage)

	ev = <-st.Changes()
	assert.Equal(t, models.ChangeRemoved, ev.Kind)
	assert.NotNil(t, ev.OldImage)
	assert.Equal(t, "d1", ev.OldImage.DepID)
}

func TestMemoryStoreScopedUpdate(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	assert.NoError(t, st.Create(ctx, sampleRecord("d1")))

	assert.NoError(t, st.Update(ctx, "d1", store.RecordUpdate{
		CreateUser: store.StepPtr(models.StepInProgress),
	}))
	assert.NoError(t, st.Update(ctx, "d1", store.RecordUpdate{
		DeploymentStatus: store.StatusPtr(models.DeploymentInProgress),
	}))

	// Disjoint updates do not clobber each other.
	rec, _ := st.Get(ctx, "d1")
	assert.Equal(t, models.StepInProgress, rec.CreateUser)
	assert.Equal(t, models.DeploymentInProgress, rec.DeploymentStatus)
	assert.Equal(t, "lab-x", rec.LabID)

	assert.ErrorIs(t, st.Update(ctx, "missing", store.RecordUpdate{}), store.ErrNotFound)
}

func TestMemoryStoreTTLNeverMovesBackward(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()
	rec := sampleRecord("d1")
	assert.NoError(t, st.Create(ctx, rec))

	earlier := rec.TTL - 120
	assert.NoError(t, st.Update(ctx, "d1", store.RecordUpdate{TTL: store.Int64Ptr(earlier)}))
	got, _ := st.Get(ctx, "d1")
	assert.Equal(t, rec.TTL, got.TTL)

	later := rec.TTL + 120
	assert.NoError(t, st.Update(ctx, "d1", store.RecordUpdate{TTL: store.Int64Ptr(later)}))
	got, _ = st.Get(ctx, "d1")
	assert.Equal(t, later, got.TTL)
	assert.Equal(t, store.FormatExpiration(later), got.Expiration)
}

func TestMemoryStoreListActivePeers(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	a := sampleRecord("d1")
	b := sampleRecord("d2")
	c := sampleRecord("d3")
	c.Email = "b@example.com"
	assert.NoError(t, st.Create(ctx, a))
	assert.NoError(t, st.Create(ctx, b))
	assert.NoError(t, st.Create(ctx, c))

	peers, err := st.ListActivePeers(ctx, "a@example.com", "https://tenant.example.com", "d1")
	assert.NoError(t, err)
	assert.Len(t, peers, 1)
	assert.Equal(t, "d2", peers[0].DepID)

	peers, err = st.ListActivePeers(ctx, "a@example.com", "https://elsewhere.example.com", "d1")
	assert.NoError(t, err)
	assert.Empty(t, peers)
}

func TestMemoryStoreDeleteExpired(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	live := sampleRecord("live")
	dead := sampleRecord("dead")
	dead.TTL = time.Now().Add(-time.Minute).Unix()
	assert.NoError(t, st.Create(ctx, live))
	assert.NoError(t, st.Create(ctx, dead))

	deleted, err := st.DeleteExpired(ctx, time.Now())
	assert.NoError(t, err)
	assert.Len(t, deleted, 1)
	assert.Equal(t, "dead", deleted[0].DepID)

	_, err = st.Get(ctx, "live")
	assert.NoError(t, err)
}

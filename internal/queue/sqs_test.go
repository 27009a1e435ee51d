package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tenantops/lab-lifecycle/internal/dispatcher"
	"github.com/tenantops/lab-lifecycle/internal/models"
	"github.com/tenantops/lab-lifecycle/internal/store"
)

func testConsumer(t *testing.T) (*Consumer, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	d := dispatcher.New(st, nil, 300*time.Second)
	return &Consumer{queueURL: "https://sqs.test/session-requests", dispatcher: d}, st
}

func TestHandleDispatchesValidRequest(t *testing.T) {
	c, st := testConsumer(t)

	settled := c.handle(context.Background(),
		`{"dep_id":"d-1","lab_id":"app-lab","email":"a@example.com","petname":"calm-otter"}`)
	assert.True(t, settled)

	rec, err := st.Get(context.Background(), "d-1")
	require.NoError(t, err)
	assert.Equal(t, models.DeploymentPending, rec.DeploymentStatus)
}

func TestHandleDropsMalformedMessage(t *testing.T) {
	c, st := testConsumer(t)

	assert.True(t, c.handle(context.Background(), "{not json"))

	_, err := st.Get(context.Background(), "d-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHandleDropsInvalidRequest(t *testing.T) {
	c, _ := testConsumer(t)

	// Missing required fields can never dispatch; redelivery would just loop.
	assert.True(t, c.handle(context.Background(), `{"email":"a@example.com"}`))
}

// flakyStore fails TTL extensions so the dispatcher surfaces a transient
// store error.
type flakyStore struct {
	store.DeploymentStore
}

func (f *flakyStore) Update(ctx context.Context, depID string, upd store.RecordUpdate) error {
	return errors.New("table unavailable")
}

func TestHandleLeavesTransientFailureForRedelivery(t *testing.T) {
	mem := store.NewMemoryStore()
	require.NoError(t, mem.Create(context.Background(), models.DeploymentRecord{
		DepID: "d-1", LabID: "app-lab", Email: "a@example.com", Petname: "calm-otter",
		TTL: time.Now().Add(time.Hour).Unix(),
	}))

	d := dispatcher.New(&flakyStore{DeploymentStore: mem}, nil, 300*time.Second)
	c := &Consumer{queueURL: "https://sqs.test/session-requests", dispatcher: d}

	settled := c.handle(context.Background(),
		`{"dep_id":"d-1","lab_id":"app-lab","email":"a@example.com","petname":"calm-otter"}`)
	assert.False(t, settled)
}

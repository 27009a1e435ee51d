package audit

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendEventFillsDefaults(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("INSERT INTO lifecycle_events").
		WithArgs(sqlmock.AnyArg(), "d-1", EventSessionCreated, sqlmock.AnyArg(), sqlmock.AnyArg(), StreamPending).
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	ev := &Event{DepID: "d-1", EventType: EventSessionCreated, Payload: map[string]string{"lab_id": "app-lab"}}
	require.NoError(t, store.AppendEvent(context.Background(), ev))

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.Ts.IsZero())
	assert.Equal(t, StreamPending, ev.StreamStatus)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFetchPendingEventsClaimsRows(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	ts := time.Now().UTC()
	rows := sqlmock.NewRows([]string{"id", "dep_id", "event_type", "payload", "ts", "attempts"}).
		AddRow("ev-1", "d-1", EventProvisionCompleted, []byte(`{"petname":"calm-otter"}`), ts, 0).
		AddRow("ev-2", "d-2", EventReclaimCompleted, []byte(`{}`), ts, 1)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, dep_id, event_type, payload, ts, attempts").
		WithArgs(10).
		WillReturnRows(rows)
	mock.ExpectExec("UPDATE lifecycle_events SET stream_status = 'in_progress'").
		WithArgs("ev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE lifecycle_events SET stream_status = 'in_progress'").
		WithArgs("ev-2").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	store := NewPGStore(db)
	events, err := store.FetchPendingEvents(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, "ev-1", events[0].ID)
	assert.Equal(t, StreamInProgress, events[0].StreamStatus)
	assert.Equal(t, 1, events[0].Attempts)
	assert.Equal(t, 2, events[1].Attempts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEventStreamed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE lifecycle_events SET stream_status = 'streamed'").
		WithArgs("ev-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	require.NoError(t, store.MarkEventStreamed(context.Background(), "ev-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEventFailed(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE lifecycle_events SET stream_status = 'failed'").
		WithArgs("ev-2").
		WillReturnResult(sqlmock.NewResult(0, 1))

	store := NewPGStore(db)
	require.NoError(t, store.MarkEventFailed(context.Background(), "ev-2"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

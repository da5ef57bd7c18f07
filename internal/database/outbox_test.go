package database

import (
	"context"
	"testing"
	"time"

	"manito/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutboxLifecycle(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	clock := time.Date(2030, 1, 1, 12, 0, 0, 0, time.UTC)
	db.now = func() time.Time { return clock }

	task := &models.OutboxTask{
		EventType:   "booking.created",
		AggregateID: "b-1",
		Payload:     `{"booking_id":"b-1"}`,
	}
	require.NoError(t, db.CreateOutboxTask(ctx, task))
	assert.NotZero(t, task.ID)
	assert.Equal(t, models.OutboxPending, task.Status)

	tasks, err := db.GetPendingOutboxTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "b-1", tasks[0].AggregateID)

	next := clock.Add(time.Minute)
	require.NoError(t, db.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxRetry, "broker down", &next))

	tasks, err = db.GetPendingOutboxTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks, "retry is not due yet")

	clock = clock.Add(2 * time.Minute)
	tasks, err = db.GetPendingOutboxTasks(ctx, 10)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, 1, tasks[0].RetryCount)
	require.NotNil(t, tasks[0].LastError)
	assert.Equal(t, "broker down", *tasks[0].LastError)

	require.NoError(t, db.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxCompleted, "", nil))
	tasks, err = db.GetPendingOutboxTasks(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestFailedOutboxTasks(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	task := &models.OutboxTask{EventType: "booking.confirmed", AggregateID: "b-2", Payload: "{}"}
	require.NoError(t, db.CreateOutboxTask(ctx, task))
	require.NoError(t, db.UpdateOutboxTaskStatus(ctx, task.ID, models.OutboxFailed, "max retries", nil))

	failed, err := db.GetFailedOutboxTasks(ctx)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.NotNil(t, failed[0].ProcessedAt)

	err = db.UpdateOutboxTaskStatus(ctx, 9999, models.OutboxCompleted, "", nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

package test

import (
	"context"
	"testing"
	"time"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// TestQueueOperations exercises the Worker Queue broker's claim/complete/
// release-stale-claim semantics (SELECT ... FOR UPDATE SKIP LOCKED).
func TestQueueOperations(t *testing.T) {
	t.Run("Enqueue and ClaimNextTaskPayload", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testEnqueueAndClaim(t, ctx, tx)
		})
	})

	t.Run("ClaimNextTaskPayload is FIFO", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testClaimIsFIFO(t, ctx, tx)
		})
	})

	t.Run("Claimed entries are not reclaimed", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testClaimedEntriesSkipped(t, ctx, tx)
		})
	})

	t.Run("CompleteTaskPayload removes the entry", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testCompleteTaskPayload(t, ctx, tx)
		})
	})

	t.Run("ReleaseStaleClaim requeues old claims", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testReleaseStaleClaim(t, ctx, tx)
		})
	})

	t.Run("ClaimNextTaskPayload on empty queue returns nil", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testClaimEmptyQueue(t, ctx, tx)
		})
	})
}

func testEnqueueAndClaim(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	task, err := dataUtils.CreateTask(DataSetup{})
	require.NoError(t, err)

	err = store.AppStore.EnqueueTaskPayload(ctx, task.TaskID, models.JSONB{"task_id": float64(task.TaskID)})
	require.NoError(t, err)

	entry, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, task.TaskID, entry.TaskID)
	require.NotNil(t, entry.ClaimedBy)
	assert.Equal(t, "worker-1", *entry.ClaimedBy)
	assert.NotNil(t, entry.ClaimedAt)
}

func testClaimIsFIFO(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	first, err := dataUtils.CreateTask(DataSetup{})
	require.NoError(t, err)
	second, err := dataUtils.CreateTask(DataSetup{})
	require.NoError(t, err)

	require.NoError(t, store.AppStore.EnqueueTaskPayload(ctx, first.TaskID, models.JSONB{"task_id": float64(first.TaskID)}))
	require.NoError(t, store.AppStore.EnqueueTaskPayload(ctx, second.TaskID, models.JSONB{"task_id": float64(second.TaskID)}))

	entry, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, first.TaskID, entry.TaskID, "the older enqueued entry must be claimed first")
}

func testClaimedEntriesSkipped(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	task, err := dataUtils.CreateTask(DataSetup{})
	require.NoError(t, err)
	require.NoError(t, store.AppStore.EnqueueTaskPayload(ctx, task.TaskID, models.JSONB{"task_id": float64(task.TaskID)}))

	entry, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	again, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, again, "an already-claimed entry must not be handed to a second worker")
}

func testCompleteTaskPayload(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	task, err := dataUtils.CreateTask(DataSetup{})
	require.NoError(t, err)
	require.NoError(t, store.AppStore.EnqueueTaskPayload(ctx, task.TaskID, models.JSONB{"task_id": float64(task.TaskID)}))

	entry, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-1")
	require.NoError(t, err)
	require.NotNil(t, entry)

	require.NoError(t, store.AppStore.CompleteTaskPayload(ctx, entry.EntryID))

	again, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, again, "a completed entry must be gone, not reclaimable")
}

func testReleaseStaleClaim(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	task, err := dataUtils.CreateTask(DataSetup{})
	require.NoError(t, err)
	require.NoError(t, store.AppStore.EnqueueTaskPayload(ctx, task.TaskID, models.JSONB{"task_id": float64(task.TaskID)}))

	entry, err := store.AppStore.ClaimNextTaskPayload(ctx, "dead-worker")
	require.NoError(t, err)
	require.NotNil(t, entry)

	// Backdate the claim so it looks stale without needing to sleep.
	require.NoError(t, tx.Model(&models.QueueEntry{}).Where("entry_id = ?", entry.EntryID).
		Update("claimed_at", time.Now().UTC().Add(-time.Hour)).Error)

	released, err := store.AppStore.ReleaseStaleClaim(ctx, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, released)

	again, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-2")
	require.NoError(t, err)
	require.NotNil(t, again, "a released stale claim must become claimable again")
	assert.Equal(t, task.TaskID, again.TaskID)
}

func testClaimEmptyQueue(t *testing.T, ctx context.Context, tx *gorm.DB) {
	entry, err := store.AppStore.ClaimNextTaskPayload(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, entry)
}

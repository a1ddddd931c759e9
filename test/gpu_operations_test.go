package test

import (
	"context"
	"testing"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// TestGPUOperations exercises the Resource Registry's admission/release
// invariants directly against Postgres, including the FIFO ordering
// guarantee across a failed re-admission.
func TestGPUOperations(t *testing.T) {
	t.Run("TryAcquire respects total capacity", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testTryAcquireRespectsCapacity(t, ctx, tx)
		})
	})

	t.Run("Release wakes queue head when a slice frees up", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testReleaseWakesQueueHead(t, ctx, tx)
		})
	})

	t.Run("Release preserves FIFO order when re-admission fails", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testReleaseRequeuePreservesFIFOOrder(t, ctx, tx)
		})
	})

	t.Run("Release on unknown task is a no-op", func(t *testing.T) {
		RunTransactionalTest(t, func(ctx context.Context, tx *gorm.DB) {
			testReleaseUnknownTaskIsNoop(t, ctx, tx)
		})
	})
}

func testTryAcquireRespectsCapacity(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	task, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)

	ok, err := store.AppStore.TryAcquireGPUSlice(ctx, task.TaskID, 2048, 4096)
	require.NoError(t, err)
	assert.True(t, ok, "first slice of a 2-slice budget should be admitted")

	task2, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)
	ok, err = store.AppStore.TryAcquireGPUSlice(ctx, task2.TaskID, 2048, 4096)
	require.NoError(t, err)
	assert.True(t, ok, "second slice of a 2-slice budget should be admitted")

	task3, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)
	ok, err = store.AppStore.TryAcquireGPUSlice(ctx, task3.TaskID, 2048, 4096)
	require.NoError(t, err)
	assert.False(t, ok, "third slice should be rejected: budget exhausted")

	usedMB, _, err := store.AppStore.GetGPUStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4096, usedMB)
}

func testReleaseWakesQueueHead(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	holder, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)
	ok, err := store.AppStore.TryAcquireGPUSlice(ctx, holder.TaskID, 2048, 2048)
	require.NoError(t, err)
	require.True(t, ok)

	waiting, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)
	err = store.AppStore.EnqueueGPUTask(ctx, waiting.TaskID, models.JSONB{"task_id": float64(waiting.TaskID)})
	require.NoError(t, err)

	nextTaskID, payload, dispatched, err := store.AppStore.ReleaseGPUSlice(ctx, holder.TaskID, 2048, 2048)
	require.NoError(t, err)
	assert.True(t, dispatched)
	assert.Equal(t, waiting.TaskID, nextTaskID)
	assert.EqualValues(t, waiting.TaskID, payload["task_id"])

	usedMB, queueDepth, err := store.AppStore.GetGPUStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2048, usedMB, "the woken task's slice should now be the registry's usage")
	assert.Equal(t, 0, queueDepth)
}

// testReleaseRequeuePreservesFIFOOrder reproduces the scenario spec.md §4.1
// calls out explicitly: a downward TOTAL_VRAM_MB reconfiguration makes the
// queue head un-admittable on release, and the entry must be re-pushed to
// the *head* of the queue, not appended to the tail behind entries that
// arrived after it.
func testReleaseRequeuePreservesFIFOOrder(t *testing.T, ctx context.Context, tx *gorm.DB) {
	dataUtils := &DataUtils{db: tx}
	holder, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)
	ok, err := store.AppStore.TryAcquireGPUSlice(ctx, holder.TaskID, 2048, 2048)
	require.NoError(t, err)
	require.True(t, ok)

	first, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)
	require.NoError(t, store.AppStore.EnqueueGPUTask(ctx, first.TaskID, models.JSONB{"task_id": float64(first.TaskID)}))

	second, err := dataUtils.CreateTask(DataSetup{"GPU": true})
	require.NoError(t, err)
	require.NoError(t, store.AppStore.EnqueueGPUTask(ctx, second.TaskID, models.JSONB{"task_id": float64(second.TaskID)}))

	// Budget shrinks below a single slice: release can free holder's usage,
	// but nothing can be re-admitted, so "first" must be re-pushed to the
	// head of the queue ahead of "second".
	nextTaskID, _, dispatched, err := store.AppStore.ReleaseGPUSlice(ctx, holder.TaskID, 2048, 0)
	require.NoError(t, err)
	assert.False(t, dispatched)
	assert.Zero(t, nextTaskID)

	// Re-admit with room for exactly one slice: FIFO order demands "first"
	// is the one admitted, not "second".
	woken, _, dispatched, err := store.AppStore.ReleaseGPUSlice(ctx, 0, 0, 2048)
	require.NoError(t, err)
	require.True(t, dispatched)
	assert.Equal(t, first.TaskID, woken, "queue order must survive a failed re-admission")
}

func testReleaseUnknownTaskIsNoop(t *testing.T, ctx context.Context, tx *gorm.DB) {
	_, _, dispatched, err := store.AppStore.ReleaseGPUSlice(ctx, 999999, 2048, 8192)
	require.NoError(t, err)
	assert.False(t, dispatched)
}

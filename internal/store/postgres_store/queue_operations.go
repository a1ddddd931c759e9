package postgres_store

import (
	"context"
	"fmt"
	"time"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"gorm.io/gorm"
)

// EnqueueTaskPayload submits a Job Payload to the Worker Queue. This is the
// "submit to the Worker Queue" step of the Dispatcher (§4.2 steps 5/6); any
// worker process polling ClaimNextTaskPayload may pick it up.
func (ps PostgresDbStore) EnqueueTaskPayload(ctx context.Context, taskID uint64, payload models.JSONB) error {
	entry := models.QueueEntry{TaskID: taskID, Payload: payload}
	if err := ps.getDB(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("enqueuing task payload for task %d: %w", taskID, err)
	}
	return nil
}

// ClaimNextTaskPayload atomically claims the oldest unclaimed entry using
// SELECT ... FOR UPDATE SKIP LOCKED, so concurrent workers never claim the
// same row twice. Returns (nil, nil) when the queue is empty.
func (ps PostgresDbStore) ClaimNextTaskPayload(ctx context.Context, workerID string) (*models.QueueEntry, error) {
	var claimed *models.QueueEntry

	err := ps.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		var entry models.QueueEntry
		err := tx.Raw(`SELECT * FROM task_queue WHERE claimed_by IS NULL ORDER BY entry_id ASC LIMIT 1 FOR UPDATE SKIP LOCKED`).
			Scan(&entry).Error
		if err != nil {
			return fmt.Errorf("scanning for claimable task payload: %w", err)
		}
		if entry.EntryID == 0 {
			return nil
		}
		now := time.Now().UTC()
		if err := tx.Model(&models.QueueEntry{}).Where("entry_id = ?", entry.EntryID).
			Updates(map[string]interface{}{"claimed_by": workerID, "claimed_at": now}).Error; err != nil {
			return fmt.Errorf("claiming task payload %d: %w", entry.EntryID, err)
		}
		entry.ClaimedBy = &workerID
		entry.ClaimedAt = &now
		claimed = &entry
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

// CompleteTaskPayload removes a claimed entry once the Worker has finalized
// its task, so it can never be redelivered.
func (ps PostgresDbStore) CompleteTaskPayload(ctx context.Context, entryID uint64) error {
	if err := ps.getDB(ctx).Where("entry_id = ?", entryID).Delete(&models.QueueEntry{}).Error; err != nil {
		return fmt.Errorf("completing task payload %d: %w", entryID, err)
	}
	return nil
}

// ReleaseStaleClaim requeues entries claimed longer than olderThan ago,
// covering a worker process that crashed mid-payload (§5/§9 at-least-once
// delivery: the lifecycle sweep is what re-surfaces the row for another
// worker to pick up).
func (ps PostgresDbStore) ReleaseStaleClaim(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	result := ps.getDB(ctx).Model(&models.QueueEntry{}).
		Where("claimed_by IS NOT NULL AND claimed_at < ?", cutoff).
		Updates(map[string]interface{}{"claimed_by": nil, "claimed_at": nil})
	if result.Error != nil {
		return 0, fmt.Errorf("releasing stale task payload claims: %w", result.Error)
	}
	return result.RowsAffected, nil
}

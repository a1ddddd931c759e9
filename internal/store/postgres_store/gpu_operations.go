package postgres_store

import (
	"context"
	"fmt"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"gorm.io/gorm"
)

// TryAcquireGPUSlice implements the Admission Controller's atomic try_acquire:
// within a single transaction, lock the singleton usage row, check
// used_mb+sliceMB<=totalMB, and if so increment it and record the
// allocation. The row lock is what prevents two concurrent acquires (from
// the front end and/or multiple workers) from both observing room for one
// more slice than actually exists.
func (ps PostgresDbStore) TryAcquireGPUSlice(ctx context.Context, taskID uint64, sliceMB, totalMB int) (bool, error) {
	var acquired bool

	err := ps.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		var usage models.GPUUsage
		if err := tx.Raw(`SELECT * FROM gpu_usage WHERE id = 1 FOR UPDATE`).Scan(&usage).Error; err != nil {
			return fmt.Errorf("locking gpu usage row: %w", err)
		}
		if usage.ID == 0 {
			usage = models.GPUUsage{ID: 1, UsedMB: 0}
			if err := tx.Create(&usage).Error; err != nil {
				return fmt.Errorf("initializing gpu usage row: %w", err)
			}
		}

		if usage.UsedMB+sliceMB > totalMB {
			acquired = false
			return nil
		}

		if err := tx.Model(&models.GPUUsage{}).Where("id = 1").
			Update("used_mb", usage.UsedMB+sliceMB).Error; err != nil {
			return fmt.Errorf("incrementing gpu usage: %w", err)
		}
		if err := tx.Create(&models.GPUAllocation{TaskID: taskID, SliceMB: sliceMB}).Error; err != nil {
			return fmt.Errorf("recording gpu allocation: %w", err)
		}
		acquired = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return acquired, nil
}

// EnqueueGPUTask appends a parked payload to the tail of the FIFO queue.
func (ps PostgresDbStore) EnqueueGPUTask(ctx context.Context, taskID uint64, payload models.JSONB) error {
	entry := models.GPUQueueEntry{TaskID: taskID, Payload: payload}
	if err := ps.getDB(ctx).Create(&entry).Error; err != nil {
		return fmt.Errorf("enqueuing gpu task %d: %w", taskID, err)
	}
	return nil
}

// ReleaseGPUSlice implements release-and-wake: release the caller's
// allocation (a no-op if the task_id is unknown, tolerating store wipes per
// §4.1), then pop the head of the queue and attempt to admit it. If
// admission fails (TOTAL_VRAM_MB reconfigured downward mid-flight), the
// entry is re-pushed to the head so FIFO order is preserved.
func (ps PostgresDbStore) ReleaseGPUSlice(ctx context.Context, taskID uint64, sliceMB, totalMB int) (uint64, models.JSONB, bool, error) {
	var nextTaskID uint64
	var nextPayload models.JSONB
	var dispatched bool

	err := ps.getDB(ctx).Transaction(func(tx *gorm.DB) error {
		var alloc models.GPUAllocation
		err := tx.Where("task_id = ?", taskID).First(&alloc).Error
		if err == nil {
			var usage models.GPUUsage
			if err := tx.Raw(`SELECT * FROM gpu_usage WHERE id = 1 FOR UPDATE`).Scan(&usage).Error; err != nil {
				return fmt.Errorf("locking gpu usage row: %w", err)
			}
			newUsed := usage.UsedMB - alloc.SliceMB
			if newUsed < 0 {
				newUsed = 0
			}
			if err := tx.Model(&models.GPUUsage{}).Where("id = 1").Update("used_mb", newUsed).Error; err != nil {
				return fmt.Errorf("decrementing gpu usage: %w", err)
			}
			if err := tx.Delete(&alloc).Error; err != nil {
				return fmt.Errorf("clearing gpu allocation: %w", err)
			}
		} else if err != gorm.ErrRecordNotFound {
			return fmt.Errorf("looking up gpu allocation for task %d: %w", taskID, err)
		}

		var head models.GPUQueueEntry
		err = tx.Order("seq_id ASC").First(&head).Error
		if err == gorm.ErrRecordNotFound {
			return nil
		}
		if err != nil {
			return fmt.Errorf("reading gpu queue head: %w", err)
		}
		if err := tx.Delete(&head).Error; err != nil {
			return fmt.Errorf("popping gpu queue head: %w", err)
		}

		var usage models.GPUUsage
		if err := tx.Raw(`SELECT * FROM gpu_usage WHERE id = 1 FOR UPDATE`).Scan(&usage).Error; err != nil {
			return fmt.Errorf("locking gpu usage row: %w", err)
		}
		if usage.UsedMB+sliceMB > totalMB {
			// Could not re-admit (e.g. TOTAL_VRAM_MB reconfigured down); re-push to
			// head, preserving its exact FIFO position. Reusing the popped entry's
			// own seq_id does that; a fresh autoincrement row would always sort to
			// the tail behind every other parked entry instead.
			requeued := models.GPUQueueEntry{SeqID: head.SeqID, TaskID: head.TaskID, Payload: head.Payload, EnqueuedAt: head.EnqueuedAt}
			if err := tx.Create(&requeued).Error; err != nil {
				return fmt.Errorf("re-pushing gpu queue head: %w", err)
			}
			return nil
		}
		if err := tx.Model(&models.GPUUsage{}).Where("id = 1").
			Update("used_mb", usage.UsedMB+sliceMB).Error; err != nil {
			return fmt.Errorf("admitting queued gpu task: %w", err)
		}
		if err := tx.Create(&models.GPUAllocation{TaskID: head.TaskID, SliceMB: sliceMB}).Error; err != nil {
			return fmt.Errorf("recording admitted gpu allocation: %w", err)
		}
		nextTaskID = head.TaskID
		nextPayload = head.Payload
		dispatched = true
		return nil
	})
	if err != nil {
		return 0, nil, false, err
	}
	return nextTaskID, nextPayload, dispatched, nil
}

// GetGPUStatus reports the Registry's current used_mb and the number of
// payloads parked awaiting a slice, for the resource-status reporting
// endpoints. Read-only: never mutates the Registry.
func (ps PostgresDbStore) GetGPUStatus(ctx context.Context) (int, int, error) {
	var usage models.GPUUsage
	if err := ps.getDB(ctx).Where("id = 1").First(&usage).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return 0, 0, nil
		}
		return 0, 0, fmt.Errorf("reading gpu usage: %w", err)
	}

	var queueDepth int64
	if err := ps.getDB(ctx).Model(&models.GPUQueueEntry{}).Count(&queueDepth).Error; err != nil {
		return 0, 0, fmt.Errorf("counting gpu queue: %w", err)
	}

	return usage.UsedMB, int(queueDepth), nil
}

package postgres_store

import (
	"context"
	"fmt"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"gorm.io/gorm"
)

// CreateTask creates the Task row. The Dispatcher assigns status=pending
// before calling this; the id is assigned by the database.
func (ps PostgresDbStore) CreateTask(ctx context.Context, task *models.Task) error {
	if err := ps.getDB(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

// GetTaskByID retrieves a task by its id.
func (ps PostgresDbStore) GetTaskByID(ctx context.Context, taskID uint64) (*models.Task, error) {
	var task models.Task

	if err := ps.getDB(ctx).Where("task_id = ?", taskID).First(&task).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get task %d: %w", taskID, err)
	}

	return &task, nil
}

// UpdateTask persists changes to an existing task row.
func (ps PostgresDbStore) UpdateTask(ctx context.Context, task *models.Task) error {
	result := ps.getDB(ctx).Save(task)
	if result.Error != nil {
		return fmt.Errorf("failed to update task %d: %w", task.TaskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListTasksForUser lists tasks owned by ownerID, optionally filtered by task type.
func (ps PostgresDbStore) ListTasksForUser(ctx context.Context, ownerID string, taskType models.TaskType) ([]models.Task, error) {
	var tasks []models.Task

	query := ps.getDB(ctx).Where("owner_id = ?", ownerID).Order("created_at DESC")
	if taskType != "" {
		query = query.Where("task_type = ?", taskType)
	}

	if err := query.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list tasks for user %s: %w", ownerID, err)
	}

	return tasks, nil
}

// DeleteTask removes a task row. Callers MUST have already verified the task
// is terminal and its workspace/container are gone; this layer trusts them.
func (ps PostgresDbStore) DeleteTask(ctx context.Context, taskID uint64) error {
	result := ps.getDB(ctx).Where("task_id = ?", taskID).Delete(&models.Task{})
	if result.Error != nil {
		return fmt.Errorf("failed to delete task %d: %w", taskID, result.Error)
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

package store

import (
	"context"
	"time"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"gorm.io/gorm"
)

var AppStore Store

// GetDB returns the database connection
func GetDB() *gorm.DB {
	// This is a convenience function to access the DB from other packages
	// It's used by the transaction middleware
	if store, ok := AppStore.(interface{ GetDB() *gorm.DB }); ok {
		return store.GetDB()
	}
	return nil
}

type Store interface {
	Initialize() (deferredFunc func(), err error)

	// Task operations
	CreateTask(ctx context.Context, task *models.Task) error
	GetTaskByID(ctx context.Context, taskID uint64) (*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error
	ListTasksForUser(ctx context.Context, ownerID string, taskType models.TaskType) ([]models.Task, error)
	DeleteTask(ctx context.Context, taskID uint64) error

	// Queue operations (Worker Queue broker, §6)
	EnqueueTaskPayload(ctx context.Context, taskID uint64, payload models.JSONB) error
	ClaimNextTaskPayload(ctx context.Context, workerID string) (*models.QueueEntry, error)
	CompleteTaskPayload(ctx context.Context, entryID uint64) error
	ReleaseStaleClaim(ctx context.Context, olderThan time.Duration) (int64, error)

	// GPU Resource Registry operations (§4.1)
	TryAcquireGPUSlice(ctx context.Context, taskID uint64, sliceMB, totalMB int) (bool, error)
	EnqueueGPUTask(ctx context.Context, taskID uint64, payload models.JSONB) error
	ReleaseGPUSlice(ctx context.Context, taskID uint64, sliceMB, totalMB int) (nextTaskID uint64, nextPayload models.JSONB, ok bool, err error)
	GetGPUStatus(ctx context.Context) (usedMB int, queueDepth int, err error)

	// API Token operations
	ValidateAPIToken(ctx context.Context, token string) (*models.APIToken, *models.User, error)
	CreateAPIToken(ctx context.Context, apiToken *models.APIToken) error
	UpdateTokenLastUsed(ctx context.Context, tokenID string, lastUsed time.Time) error

	// User operations
	GetUserByID(ctx context.Context, userID string) (*models.User, error)
	CreateUser(ctx context.Context, user *models.User) error
	EnsureDefaultUser() error
}

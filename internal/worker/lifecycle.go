package worker

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
)

// LifecycleManager tracks in-flight tasks for graceful shutdown and recovers
// claims left behind by a worker that crashed mid-payload. Unlike a CI job's
// work directory, a task's workspace is never deleted here: it must survive
// termination so the files/download/tree endpoints can keep serving it.
type LifecycleManager struct {
	store           store.Store
	shutdownTimeout time.Duration
	staleClaimAfter time.Duration
	activeTasks     map[uint64]*TaskContext
	mu              sync.RWMutex
	shutdownCh      chan struct{}
}

// TaskContext tracks one task's in-flight processing state.
type TaskContext struct {
	TaskID    uint64
	StartTime time.Time
	Cancel    context.CancelFunc
}

// NewLifecycleManager creates a new lifecycle manager.
func NewLifecycleManager(s store.Store) *LifecycleManager {
	return &LifecycleManager{
		store:           s,
		shutdownTimeout: 60 * time.Second,
		staleClaimAfter: 5 * time.Minute,
		activeTasks:     make(map[uint64]*TaskContext),
		shutdownCh:      make(chan struct{}),
	}
}

// RegisterTask registers a task as actively being processed by this worker.
func (lm *LifecycleManager) RegisterTask(taskID uint64, cancel context.CancelFunc) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	lm.activeTasks[taskID] = &TaskContext{
		TaskID:    taskID,
		StartTime: time.Now(),
		Cancel:    cancel,
	}

	logging.Log.WithField("task_id", taskID).
		WithField("active_tasks", len(lm.activeTasks)).
		Info("task registered with lifecycle manager")
}

// UnregisterTask removes a task from active tracking. No filesystem cleanup
// happens here: the workspace outlives the task.
func (lm *LifecycleManager) UnregisterTask(taskID uint64) {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	if _, exists := lm.activeTasks[taskID]; exists {
		delete(lm.activeTasks, taskID)
		logging.Log.WithField("task_id", taskID).
			WithField("active_tasks", len(lm.activeTasks)).
			Info("task unregistered from lifecycle manager")
	}
}

// GetActiveTasks returns the task IDs currently being processed by this
// worker process.
func (lm *LifecycleManager) GetActiveTasks() []uint64 {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	ids := make([]uint64, 0, len(lm.activeTasks))
	for id := range lm.activeTasks {
		ids = append(ids, id)
	}
	return ids
}

// RecoverClaims requeues task_queue entries claimed longer than staleClaimAfter
// ago - the at-least-once delivery guard for a worker that crashed mid-payload,
// per §6's "lifecycle-manager sweep" requirement.
func (lm *LifecycleManager) RecoverClaims(ctx context.Context) error {
	logging.Log.Info("sweeping for stale task_queue claims")

	n, err := lm.store.ReleaseStaleClaim(ctx, lm.staleClaimAfter)
	if err != nil {
		return fmt.Errorf("release stale claims: %w", err)
	}
	if n > 0 {
		logging.Log.WithField("count", n).Info("released stale task_queue claims for redelivery")
	} else {
		logging.Log.Info("no stale claims found")
	}
	return nil
}

// GracefulShutdown cancels in-flight tasks' contexts and waits up to
// shutdownTimeout for them to unregister; tasks still active past the
// deadline are marked failed so no task is left silently stuck in "running".
func (lm *LifecycleManager) GracefulShutdown(ctx context.Context) error {
	logging.Log.Info("initiating graceful worker shutdown")
	close(lm.shutdownCh)

	shutdownCtx, cancel := context.WithTimeout(ctx, lm.shutdownTimeout)
	defer cancel()

	lm.cancelActiveTasks()

	done := make(chan struct{})
	go func() {
		lm.waitForActiveTasks()
		close(done)
	}()

	select {
	case <-done:
		logging.Log.Info("all active tasks completed")
	case <-shutdownCtx.Done():
		logging.Log.Warn("shutdown timeout reached, forcing termination")
		lm.forceFailActiveTasks()
	}

	logging.Log.Info("graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) cancelActiveTasks() {
	lm.mu.RLock()
	defer lm.mu.RUnlock()

	for taskID, taskCtx := range lm.activeTasks {
		logging.Log.WithField("task_id", taskID).Info("cancelling active task")
		if taskCtx.Cancel != nil {
			taskCtx.Cancel()
		}
	}
}

func (lm *LifecycleManager) waitForActiveTasks() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()

	for {
		lm.mu.RLock()
		active := len(lm.activeTasks)
		lm.mu.RUnlock()

		if active == 0 {
			return
		}
		logging.Log.WithField("active_tasks", active).Info("waiting for active tasks to complete")
		<-ticker.C
	}
}

// forceFailActiveTasks marks any task still active past the shutdown
// deadline as failed, leaving its container and workspace untouched. No
// worker code removes a container left running this way: RecoverClaims only
// releases stale task_queue claims, and a redelivered payload for a task
// that is already failed is skipped.
func (lm *LifecycleManager) forceFailActiveTasks() {
	lm.mu.Lock()
	defer lm.mu.Unlock()

	for taskID := range lm.activeTasks {
		logging.Log.WithField("task_id", taskID).Warn("force-failing task due to worker shutdown")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		task, err := lm.store.GetTaskByID(ctx, taskID)
		if err == nil && !task.IsTerminal() {
			task.Status = models.TaskStatusFailed
			task.Logs += "\nWorker error: task terminated due to worker shutdown"
			if err := lm.store.UpdateTask(ctx, task); err != nil {
				logging.Log.WithField("task_id", taskID).WithError(err).
					Error("failed to mark task failed during shutdown")
			}
		}
		cancel()
	}

	lm.activeTasks = make(map[uint64]*TaskContext)
}

// IsShuttingDown reports whether GracefulShutdown has been invoked.
func (lm *LifecycleManager) IsShuttingDown() bool {
	select {
	case <-lm.shutdownCh:
		return true
	default:
		return false
	}
}

// SetupSignalHandlers wires SIGINT/SIGTERM to GracefulShutdown.
func (lm *LifecycleManager) SetupSignalHandlers(ctx context.Context, cancel context.CancelFunc) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		select {
		case sig := <-sigCh:
			logging.Log.WithField("signal", sig).Info("received shutdown signal")
			if err := lm.GracefulShutdown(ctx); err != nil {
				logging.Log.WithError(err).Error("error during graceful shutdown")
			}
			cancel()
		case <-ctx.Done():
		}
	}()
}

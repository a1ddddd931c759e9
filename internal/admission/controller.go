// Package admission implements the GPU Admission Controller: pure
// operations over the process-external Resource Registry that enforce the
// slice invariant while giving FIFO fairness among GPU-requesting tasks.
package admission

import (
	"context"
	"fmt"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/config"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
)

// Controller is a thin, stateless wrapper around the Registry's atomic store
// operations. It carries no in-process state of its own: the Registry lives
// in Postgres so the front end and every worker process see the same truth,
// which is the "process-external by necessity" requirement the design notes
// call out.
type Controller struct {
	Store    store.Store
	TotalMB  int
	SliceMB  int
}

// NewController builds a Controller from the package-level GPU config.
func NewController(s store.Store) *Controller {
	return &Controller{
		Store:   s,
		TotalMB: config.TotalVRAMMB,
		SliceMB: config.SliceMB,
	}
}

// TryAcquire attempts to reserve exactly one slice for taskID. Returns true
// on success, having already recorded the allocation; false leaves the
// Registry untouched.
func (c *Controller) TryAcquire(ctx context.Context, taskID uint64) (bool, error) {
	ok, err := c.Store.TryAcquireGPUSlice(ctx, taskID, c.SliceMB, c.TotalMB)
	if err != nil {
		return false, fmt.Errorf("try_acquire task %d: %w", taskID, err)
	}
	logging.Log.WithField("task_id", taskID).WithField("acquired", ok).Debug("gpu try_acquire")
	return ok, nil
}

// Enqueue parks payload at the tail of the FIFO queue. Callers must not
// enqueue the same task twice.
func (c *Controller) Enqueue(ctx context.Context, taskID uint64, payload models.JSONB) error {
	if err := c.Store.EnqueueGPUTask(ctx, taskID, payload); err != nil {
		return fmt.Errorf("enqueue task %d: %w", taskID, err)
	}
	logging.Log.WithField("task_id", taskID).Info("gpu task parked pending slice")
	return nil
}

// ReleaseResult carries the outcome of Release: whether the queue's head
// was admitted and dispatched as a result.
type ReleaseResult struct {
	Dispatched bool
	TaskID     uint64
	Payload    models.JSONB
}

// Release frees taskID's allocation (a no-op if unknown, tolerating a
// Registry wipe) and attempts to wake the head of the FIFO queue. Tolerates
// being called on a task that never held a slice.
func (c *Controller) Release(ctx context.Context, taskID uint64) (*ReleaseResult, error) {
	nextTaskID, payload, dispatched, err := c.Store.ReleaseGPUSlice(ctx, taskID, c.SliceMB, c.TotalMB)
	if err != nil {
		return nil, fmt.Errorf("release task %d: %w", taskID, err)
	}
	if dispatched {
		logging.Log.WithField("released_task_id", taskID).
			WithField("admitted_task_id", nextTaskID).
			Info("gpu slice released, queued task admitted")
	} else {
		logging.Log.WithField("released_task_id", taskID).Debug("gpu slice released, queue empty or unadmittable")
	}
	return &ReleaseResult{Dispatched: dispatched, TaskID: nextTaskID, Payload: payload}, nil
}

package dispatch

import (
	"context"
	"fmt"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/admission"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/config"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/metrics"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/workspace"
)

// JobRequest is the validated input to StartCompute: image, optional command
// and args, env, and resource requests.
type JobRequest struct {
	Image   string
	Command []string
	Args    []string
	Env     map[string]string
	CPU     int
	GPU     bool
}

// Principal is the already-authenticated identity attached to a request by
// the surrounding auth layer.
type Principal struct {
	ID   string
	Name string
}

// Dispatcher creates the Task row, materializes the workspace, consults the
// GPU Admission Controller, and hands the resulting payload either straight
// to the Worker Queue or parks it in the Registry.
type Dispatcher struct {
	Store      store.Store
	Admission  *admission.Controller
}

// New builds a Dispatcher.
func New(s store.Store, a *admission.Controller) *Dispatcher {
	return &Dispatcher{Store: s, Admission: a}
}

// StartCompute implements §4.2 step by step. Image reference empty is
// rejected before any Task row is created. A workspace creation failure is
// recorded as a failed task rather than returned to the caller; store and
// admission errors after row creation are returned as errors.
func (d *Dispatcher) StartCompute(ctx context.Context, req *JobRequest, principal *Principal) (*models.Task, error) {
	if req.Image == "" {
		return nil, store.ErrInvalidInput
	}

	cpuCores := req.CPU
	if cpuCores > config.MaxCPU {
		cpuCores = config.MaxCPU
	}
	if cpuCores < 1 {
		cpuCores = 1
	}

	task := &models.Task{
		OwnerID:  principal.ID,
		TaskType: models.TaskTypeCompute,
		Status:   models.TaskStatusPending,
		Image:    req.Image,
		Command:  req.Command,
		Args:     req.Args,
		CPUCores: cpuCores,
		GPU:      req.GPU,
	}
	if err := d.Store.CreateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("create task row: %w", err)
	}

	logger := logging.Log.WithField("task_id", task.TaskID).WithField("owner_id", principal.ID)
	metrics.RecordTaskSubmission(string(task.TaskType))

	workspacePath := workspace.For(config.WorkspaceRoot, principal.Name, task.TaskID)
	if err := workspace.Ensure(workspacePath); err != nil {
		task.Status = models.TaskStatusFailed
		task.Logs = fmt.Sprintf("Worker error: failed to create workspace: %s", err)
		_ = d.Store.UpdateTask(ctx, task)
		logger.WithError(err).Error("workspace creation failed, task marked failed")
		return task, nil
	}
	task.Path = workspacePath
	if err := d.Store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("persist workspace path: %w", err)
	}

	env := make(map[string]string, len(req.Env)+2)
	for k, v := range req.Env {
		env[k] = v
	}
	env["TASK_OUTPUT_DIR"] = "/workspaces"
	if len(req.Command) == 0 {
		env["OUTPUT_DIR"] = "/workspaces"
	}

	payload := &JobPayload{
		TaskID:    task.TaskID,
		OwnerID:   principal.ID,
		OwnerName: principal.Name,
		Image:     req.Image,
		Command:   req.Command,
		Args:      req.Args,
		Workspace: workspacePath,
		CPUCores:  cpuCores,
		GPU:       req.GPU,
		Env:       env,
	}

	if req.GPU {
		// GPU-gated tasks surface the distinct "queued" status (see DESIGN.md
		// resolution of Open Question #1) until the Worker actually starts the
		// container and transitions queued -> running itself.
		task.Status = models.TaskStatusQueued
		if err := d.Store.UpdateTask(ctx, task); err != nil {
			return nil, fmt.Errorf("transition task to queued: %w", err)
		}

		acquired, err := d.Admission.TryAcquire(ctx, task.TaskID)
		if err != nil {
			return nil, fmt.Errorf("gpu try_acquire: %w", err)
		}
		if acquired {
			if err := d.Store.EnqueueTaskPayload(ctx, task.TaskID, payload.ToJSONB()); err != nil {
				return nil, fmt.Errorf("enqueue task payload: %w", err)
			}
			logger.Info("gpu slice acquired, task dispatched")
		} else {
			if err := d.Admission.Enqueue(ctx, task.TaskID, payload.ToJSONB()); err != nil {
				return nil, fmt.Errorf("park gpu payload: %w", err)
			}
			logger.Info("gpu slice unavailable, task parked in gpu queue")
		}
		return task, nil
	}

	task.Status = models.TaskStatusRunning
	if err := d.Store.UpdateTask(ctx, task); err != nil {
		return nil, fmt.Errorf("transition task to running: %w", err)
	}
	if err := d.Store.EnqueueTaskPayload(ctx, task.TaskID, payload.ToJSONB()); err != nil {
		return nil, fmt.Errorf("enqueue task payload: %w", err)
	}
	logger.Info("task dispatched (no gpu requested)")
	return task, nil
}

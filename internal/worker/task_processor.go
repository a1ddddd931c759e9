package worker

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/admission"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/dispatch"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/metrics"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/workspace"
	"github.com/sirupsen/logrus"
)

// TaskPayload is the Worker's view of the Job Payload built by the
// Dispatcher and handed across the broker.
type TaskPayload = dispatch.JobPayload

// TaskResult carries the outcome of one ProcessTask call, used by the
// polling loop for metrics and logging; the Task row is the only contract
// actually observed by clients.
type TaskResult struct {
	TaskID   uint64
	Status   models.TaskStatus
	ExitCode int
	Err      error
	Duration time.Duration
}

// OnLogLine, when set, receives each chunk of container output as it is read
// (up to 4096 bytes; a chunk may hold part of a line or several lines) so a
// live subscriber (the Log Streaming Bridge) can tee off it.
// Optional: the Task Store remains the durable sink regardless.
type OnLogLine func(taskID uint64, line string)

// TaskProcessorConfig configures a TaskProcessor.
type TaskProcessorConfig struct {
	Store     store.Store
	Runner    JobRunner
	Admission *admission.Controller
	WorkerID  string
	OnLogLine OnLogLine
}

// TaskProcessor runs one Job Payload to completion: received -> starting ->
// streaming -> waited -> finalized. Only `finalized` is ever observable by
// clients, via the Task row.
type TaskProcessor struct {
	store     store.Store
	runner    JobRunner
	admission *admission.Controller
	workerID  string
	onLogLine OnLogLine
}

// NewTaskProcessor builds a TaskProcessor.
func NewTaskProcessor(cfg TaskProcessorConfig) *TaskProcessor {
	return &TaskProcessor{
		store:     cfg.Store,
		runner:    cfg.Runner,
		admission: cfg.Admission,
		workerID:  cfg.WorkerID,
		onLogLine: cfg.OnLogLine,
	}
}

// ProcessTask implements §4.3's per-payload algorithm. Cleanup (GPU release
// and container removal) always runs, even if an earlier step failed -
// callers rely on this for the "cleanup error never blocks terminal status"
// guarantee in §7.
func (p *TaskProcessor) ProcessTask(ctx context.Context, payload *TaskPayload) *TaskResult {
	start := time.Now()
	logger := logging.Log.WithField("task_id", payload.TaskID).WithField("worker_id", p.workerID)

	task, err := p.store.GetTaskByID(ctx, payload.TaskID)
	if err != nil {
		logger.WithError(err).Error("could not reload task before processing")
		return &TaskResult{TaskID: payload.TaskID, Err: err}
	}

	// At-least-once delivery guard: a redelivered payload whose task already
	// reached a terminal status is a no-op.
	if task.IsTerminal() {
		logger.WithField("status", task.Status).Info("task already terminal, skipping redelivered payload")
		return &TaskResult{TaskID: task.TaskID, Status: task.Status, Duration: time.Since(start)}
	}

	if err := workspace.Ensure(payload.Workspace); err != nil {
		return p.finalize(ctx, payload, task, "", -1, fmt.Errorf("ensure workspace: %w", err), logger)
	}

	if task.Status == models.TaskStatusQueued || task.Status == models.TaskStatusPending {
		task.Status = models.TaskStatusRunning
		if err := p.store.UpdateTask(ctx, task); err != nil {
			logger.WithError(err).Warn("failed to transition task to running, continuing anyway")
		}
	}

	containerName := dispatch.ContainerName(payload.OwnerID, payload.TaskID)
	command := append(append([]string{}, payload.Command...), payload.Args...)
	env := make(map[string]string, len(payload.Env)+1)
	for k, v := range payload.Env {
		env[k] = v
	}
	env["TASK_OUTPUT_DIR"] = "/workspaces"

	cfg := &JobConfig{
		ContainerName: containerName,
		Image:         payload.Image,
		Command:       command,
		Env:           env,
		WorkspaceDir:  payload.Workspace,
		WorkingDir:    "/workspaces",
		CPUCores:      payload.CPUCores,
		GPU:           payload.GPU,
		TaskID:        payload.TaskID,
		OwnerID:       payload.OwnerID,
	}

	logger.Info("starting container")
	containerID, err := p.runner.SpawnJob(ctx, cfg)
	if err != nil {
		return p.finalize(ctx, payload, task, "", -1, fmt.Errorf("spawn container: %w", err), logger)
	}

	logger.WithField("container_id", containerID).Info("streaming container logs")
	var logs bytes.Buffer
	var logsMu sync.Mutex
	if err := p.streamLogs(ctx, containerID, payload.TaskID, &logs, &logsMu); err != nil {
		logger.WithError(err).Warn("log stream ended with error, continuing to wait for exit")
	}

	logger.Info("waiting for container exit")
	exitCode, err := p.runner.WaitForCompletion(ctx, containerID)
	if err != nil {
		return p.finalize(ctx, payload, task, containerID, exitCode, fmt.Errorf("wait for completion: %w", err), logger)
	}

	logsMu.Lock()
	blob := logs.String()
	logsMu.Unlock()

	task.Logs = blob
	if exitCode == 0 {
		task.Status = models.TaskStatusCompleted
	} else {
		task.Status = models.TaskStatusFailed
	}
	if err := p.store.UpdateTask(ctx, task); err != nil {
		logger.WithError(err).Error("failed to persist terminal status")
	}

	result := p.cleanup(ctx, payload, containerID, logger)
	result.TaskID = task.TaskID
	result.Status = task.Status
	result.ExitCode = exitCode
	result.Duration = time.Since(start)
	metrics.RecordTaskProcessed(string(task.TaskType), string(task.Status), p.workerID, result.Duration.Seconds())
	return result
}

// streamLogs tees the container's combined stdout/stderr into the
// accumulator and, if configured, a live subscriber callback. Returns once
// both streams are drained (container exited or log stream dropped).
func (p *TaskProcessor) streamLogs(ctx context.Context, containerID string, taskID uint64, logs *bytes.Buffer, logsMu *sync.Mutex) error {
	stdout, stderr, err := p.runner.StreamLogs(ctx, containerID)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	wg.Add(2)
	copyStream := func(r io.ReadCloser) {
		defer wg.Done()
		defer r.Close()
		buf := make([]byte, 4096)
		for {
			n, readErr := r.Read(buf)
			if n > 0 {
				chunk := string(buf[:n])
				logsMu.Lock()
				logs.WriteString(chunk)
				logsMu.Unlock()
				if p.onLogLine != nil {
					p.onLogLine(taskID, chunk)
				}
			}
			if readErr != nil {
				return
			}
		}
	}
	go copyStream(stdout)
	go copyStream(stderr)
	wg.Wait()
	return nil
}

// finalize handles the exception path of §4.3: any failure between steps 1
// and 7 yields status=failed with a "Worker error: <message>" log, then
// falls through to the same guaranteed cleanup as the success path.
func (p *TaskProcessor) finalize(ctx context.Context, payload *TaskPayload, task *models.Task, containerID string, exitCode int, procErr error, logger *logrus.Entry) *TaskResult {
	logger.WithError(procErr).Error("task failed")
	task.Status = models.TaskStatusFailed
	task.Logs = fmt.Sprintf("Worker error: %s", procErr)
	if err := p.store.UpdateTask(ctx, task); err != nil {
		logger.WithError(err).Error("failed to persist failed status")
	}

	result := p.cleanup(ctx, payload, containerID, logger)
	result.TaskID = task.TaskID
	result.Status = task.Status
	result.ExitCode = exitCode
	result.Err = procErr
	metrics.RecordTaskError(string(task.TaskType), "worker_error")
	return result
}

// cleanup is the guaranteed-cleanup phase of §4.3 step 9: GPU release (and
// wake of the next parked payload) and force container removal. Both run
// even though neither error is allowed to mask the terminal status already
// written by the caller - failures are swallowed with a log, per §7's
// "cleanup error" policy.
func (p *TaskProcessor) cleanup(ctx context.Context, payload *TaskPayload, containerID string, logger *logrus.Entry) *TaskResult {
	if payload.GPU {
		release, err := p.admission.Release(ctx, payload.TaskID)
		if err != nil {
			logger.WithError(err).Error("gpu release failed")
		} else if release.Dispatched {
			if err := p.store.EnqueueTaskPayload(ctx, release.TaskID, release.Payload); err != nil {
				logger.WithField("admitted_task_id", release.TaskID).WithError(err).
					Error("failed to enqueue gpu-admitted task's payload")
			} else {
				logger.WithField("admitted_task_id", release.TaskID).Info("admitted queued gpu task dispatched")
			}
		}
	}

	if containerID != "" {
		if err := p.runner.Cleanup(ctx, containerID); err != nil {
			logger.WithError(err).Error("container cleanup failed")
		}
	}

	return &TaskResult{}
}

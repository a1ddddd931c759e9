package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/admission"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/dispatch"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/metrics"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
)

// Config holds the configuration for a worker process.
type Config struct {
	PollInterval time.Duration
	Concurrency  int
	Store        store.Store
	Admission    *admission.Controller
	Runner       JobRunner
	WorkerID     string
}

// Worker claims Job Payloads off the Postgres-backed task_queue and runs
// them to completion via a TaskProcessor. The request-handling front end and
// this worker communicate exclusively through the Task Store and GPU
// Registry, never a shared in-process map, per §5.
type Worker struct {
	config *Config

	payloadChan chan *models.QueueEntry
	processor   *TaskProcessor

	wg         sync.WaitGroup
	workerPool chan struct{}

	lifecycle *LifecycleManager
	monitor   *ResourceMonitor
}

// New creates a new worker instance.
func New(config *Config) *Worker {
	if config.WorkerID == "" {
		config.WorkerID = fmt.Sprintf("worker-%d", time.Now().Unix())
	}

	monitor, err := NewResourceMonitor(config.WorkerID, config.Concurrency)
	if err != nil {
		logging.Log.WithError(err).Warn("failed to create resource monitor, continuing without monitoring")
		monitor = nil
	}

	return &Worker{
		config:      config,
		payloadChan: make(chan *models.QueueEntry, config.Concurrency*2),
		processor: NewTaskProcessor(TaskProcessorConfig{
			Store:     config.Store,
			Runner:    config.Runner,
			Admission: config.Admission,
			WorkerID:  config.WorkerID,
		}),
		workerPool: make(chan struct{}, config.Concurrency),
		lifecycle:  NewLifecycleManager(config.Store),
		monitor:    monitor,
	}
}

// Start begins the worker's claim-and-process loop; blocks until every
// in-flight task finishes or the shutdown timeout elapses.
func (w *Worker) Start(ctx context.Context) error {
	logging.Log.WithField("worker_id", w.config.WorkerID).Info("worker starting")

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	w.lifecycle.SetupSignalHandlers(workerCtx, cancel)

	if w.monitor != nil {
		w.monitor.Start(workerCtx)
		defer w.monitor.Stop()
		go w.logMetricsPeriodically(workerCtx)
	}

	if err := w.lifecycle.RecoverClaims(workerCtx); err != nil {
		logging.Log.WithError(err).Warn("failed to recover stale task_queue claims")
	}

	metrics.SetWorkersActive(1)
	defer metrics.SetWorkersActive(0)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.taskWorker(workerCtx, i)
	}

	w.wg.Add(1)
	go w.poller(workerCtx)

	w.wg.Wait()

	if err := w.lifecycle.GracefulShutdown(workerCtx); err != nil {
		logging.Log.WithError(err).Error("error during final cleanup")
	}

	logging.Log.WithField("worker_id", w.config.WorkerID).Info("worker stopped")
	return nil
}

// poller repeatedly attempts to claim the next available task_queue entry
// via `SELECT ... FOR UPDATE SKIP LOCKED`, backing off when the queue is
// empty.
func (w *Worker) poller(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	logging.Log.WithField("interval", w.config.PollInterval).Info("task poller started")

	for {
		select {
		case <-ctx.Done():
			logging.Log.Info("task poller stopping due to context cancellation")
			close(w.payloadChan)
			return
		case <-ticker.C:
			w.pollOnce(ctx)
		}
	}
}

func (w *Worker) pollOnce(ctx context.Context) {
	if w.lifecycle.IsShuttingDown() {
		return
	}

	for {
		entry, err := w.config.Store.ClaimNextTaskPayload(ctx, w.config.WorkerID)
		if err != nil {
			logging.Log.WithError(err).Error("failed to claim task payload")
			return
		}
		if entry == nil {
			return // queue empty
		}

		select {
		case w.payloadChan <- entry:
		case <-ctx.Done():
			return
		}
	}
}

// taskWorker pulls claimed entries off payloadChan and runs them.
func (w *Worker) taskWorker(ctx context.Context, id int) {
	defer w.wg.Done()

	logging.Log.WithField("slot", id).Info("task worker slot started")

	for {
		select {
		case <-ctx.Done():
			return
		case entry, ok := <-w.payloadChan:
			if !ok {
				return
			}

			w.workerPool <- struct{}{}
			w.processEntry(ctx, entry)
			<-w.workerPool
		}
	}
}

func (w *Worker) processEntry(ctx context.Context, entry *models.QueueEntry) {
	payload := dispatch.PayloadFromJSONB(entry.Payload)
	logger := logging.Log.WithField("task_id", payload.TaskID).WithField("entry_id", entry.EntryID)
	logger.Info("processing claimed task payload")

	taskCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	w.lifecycle.RegisterTask(payload.TaskID, cancel)
	defer w.lifecycle.UnregisterTask(payload.TaskID)

	if w.monitor != nil {
		w.monitor.RecordJobStart(fmt.Sprintf("%d", payload.TaskID))
	}

	result := w.processor.ProcessTask(taskCtx, payload)

	if w.monitor != nil {
		w.monitor.RecordJobComplete(fmt.Sprintf("%d", payload.TaskID), result.Status == models.TaskStatusCompleted)
	}

	if err := w.config.Store.CompleteTaskPayload(ctx, entry.EntryID); err != nil {
		logger.WithError(err).Error("failed to mark task_queue entry complete")
	}

	logger.WithField("status", result.Status).WithField("exit_code", result.ExitCode).
		Info("task processing completed")
}

func (w *Worker) logMetricsPeriodically(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.monitor != nil {
				w.monitor.LogMetricsSummary()
			}
		}
	}
}

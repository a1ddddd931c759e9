package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/checkauth"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/config"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/streaming"
	"github.com/gorilla/websocket"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

var statusUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// StatusHandler serves the /status/* surface: per-task status and log
// retrieval, plus the live WebSocket feeds.
type StatusHandler struct {
	BaseHandler
	store  store.Store
	bridge *streaming.Bridge
}

// NewStatusHandler builds a StatusHandler.
func NewStatusHandler(s store.Store, b *streaming.Bridge) *StatusHandler {
	return &StatusHandler{store: s, bridge: b}
}

func (h *StatusHandler) loadOwnedTask(w http.ResponseWriter, r *http.Request) *models.Task {
	user := checkauth.GetUserFromContext(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, store.ErrUnauthorized)
		return nil
	}

	taskID, err := strconv.ParseUint(h.getID(r, "task_id"), 10, 64)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return nil
	}

	task, err := h.store.GetTaskByID(r.Context(), taskID)
	if err != nil || task.OwnerID != user.UserID {
		h.respondWithError(w, http.StatusNotFound, store.ErrNotFound)
		return nil
	}
	return task
}

// GetTaskStatus handles GET /status/task/{task_id}.
func (h *StatusHandler) GetTaskStatus(w http.ResponseWriter, r *http.Request) {
	task := h.loadOwnedTask(w, r)
	if task == nil {
		return
	}
	h.respondWithJSON(w, http.StatusOK, task)
}

// GetTaskLogs handles GET /status/logs/{task_id}: the persisted log sink,
// not the live stream (that's the WS endpoint below).
func (h *StatusHandler) GetTaskLogs(w http.ResponseWriter, r *http.Request) {
	task := h.loadOwnedTask(w, r)
	if task == nil {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(task.Logs))
}

// StreamLogs handles WS /status/ws/logs/{task_id} by delegating to the
// streaming Bridge, which owns the websocket upgrade and Docker log read.
func (h *StatusHandler) StreamLogs(w http.ResponseWriter, r *http.Request) {
	user := checkauth.GetUserFromContext(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, store.ErrUnauthorized)
		return
	}
	taskID, err := strconv.ParseUint(h.getID(r, "task_id"), 10, 64)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return
	}
	h.bridge.ServeLogs(w, r, taskID, user.UserID)
}

// ListComputeTasks handles the SUPPLEMENT route GET /status/tasks/compute.
func (h *StatusHandler) ListComputeTasks(w http.ResponseWriter, r *http.Request) {
	user := checkauth.GetUserFromContext(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, store.ErrUnauthorized)
		return
	}
	tasks, err := h.store.ListTasksForUser(r.Context(), user.UserID, models.TaskTypeCompute)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tasks)
}

// ListStaticTasks handles the SUPPLEMENT route GET /status/tasks/static.
func (h *StatusHandler) ListStaticTasks(w http.ResponseWriter, r *http.Request) {
	user := checkauth.GetUserFromContext(r.Context())
	if user == nil {
		h.respondWithError(w, http.StatusUnauthorized, store.ErrUnauthorized)
		return
	}
	tasks, err := h.store.ListTasksForUser(r.Context(), user.UserID, models.TaskTypeStaticPage)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tasks)
}

// resourceStatusFrame is one broadcast tick of /status/ws/resource_status.
type resourceStatusFrame struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	GPUUsedMB     int     `json:"gpu_used_mb"`
	GPUTotalMB    int     `json:"gpu_total_mb"`
	GPUQueueDepth int     `json:"gpu_queue_depth"`
}

// ResourceStatus handles WS /status/ws/resource_status: a periodic broadcast
// of host CPU/memory and GPU Registry occupancy, paced by
// RESOURCE_STATUS_INTERVAL_SECONDS.
func (h *StatusHandler) ResourceStatus(w http.ResponseWriter, r *http.Request) {
	h.streamResourceFrames(w, r)
}

// GPUVRAM handles the SUPPLEMENT route WS /status/ws/gpu_vram: the same
// broadcast loop, reused for a front end panel dedicated to GPU occupancy.
func (h *StatusHandler) GPUVRAM(w http.ResponseWriter, r *http.Request) {
	h.streamResourceFrames(w, r)
}

func (h *StatusHandler) streamResourceFrames(w http.ResponseWriter, r *http.Request) {
	conn, err := statusUpgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Log.WithError(err).Warn("failed to upgrade resource status stream")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	interval := time.Duration(config.ResourceStatusIntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		frame := h.collectResourceFrame(ctx)
		if err := conn.WriteJSON(frame); err != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *StatusHandler) collectResourceFrame(ctx context.Context) resourceStatusFrame {
	frame := resourceStatusFrame{GPUTotalMB: config.TotalVRAMMB}

	if pct, err := cpu.Percent(0, false); err == nil && len(pct) > 0 {
		frame.CPUPercent = pct[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		frame.MemoryPercent = vm.UsedPercent
	}
	if usedMB, queueDepth, err := h.store.GetGPUStatus(ctx); err == nil {
		frame.GPUUsedMB = usedMB
		frame.GPUQueueDepth = queueDepth
	} else {
		logging.Log.WithError(err).Warn("failed to read gpu status for resource broadcast")
	}
	return frame
}

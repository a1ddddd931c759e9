package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/checkauth"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/dispatch"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/workspace"
)

// ComputeTaskRequest is the request body for POST /compute/start.
type ComputeTaskRequest struct {
	Image     string            `json:"image"`
	Command   []string          `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env"`
	Resources struct {
		CPU int  `json:"cpu"`
		GPU bool `json:"gpu"`
	} `json:"resources"`
}

// TaskHandler serves the /compute/* surface: submitting compute tasks and
// reading back their workspace files.
type TaskHandler struct {
	BaseHandler
	store      store.Store
	dispatcher *dispatch.Dispatcher
}

// NewTaskHandler builds a TaskHandler.
func NewTaskHandler(s store.Store, d *dispatch.Dispatcher) *TaskHandler {
	return &TaskHandler{store: s, dispatcher: d}
}

func principalFromRequest(r *http.Request) *dispatch.Principal {
	user := checkauth.GetUserFromContext(r.Context())
	if user == nil {
		return nil
	}
	return &dispatch.Principal{ID: user.UserID, Name: user.Username}
}

// StartCompute handles POST /compute/start.
func (h *TaskHandler) StartCompute(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	if principal == nil {
		h.respondWithError(w, http.StatusUnauthorized, store.ErrUnauthorized)
		return
	}

	var req ComputeTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return
	}
	if req.Image == "" {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return
	}

	task, err := h.dispatcher.StartCompute(r.Context(), &dispatch.JobRequest{
		Image:   req.Image,
		Command: req.Command,
		Args:    req.Args,
		Env:     req.Env,
		CPU:     req.Resources.CPU,
		GPU:     req.Resources.GPU,
	}, principal)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, task)
}

// ListTasks handles GET /compute/tasks.
func (h *TaskHandler) ListTasks(w http.ResponseWriter, r *http.Request) {
	principal := principalFromRequest(r)
	if principal == nil {
		h.respondWithError(w, http.StatusUnauthorized, store.ErrUnauthorized)
		return
	}

	tasks, err := h.store.ListTasksForUser(r.Context(), principal.ID, models.TaskTypeCompute)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, tasks)
}

// loadOwnedTask resolves the task_id path param and enforces ownership;
// a cross-owner lookup is reported as not-found, per §8 S6.
func (h *TaskHandler) loadOwnedTask(w http.ResponseWriter, r *http.Request) *models.Task {
	principal := principalFromRequest(r)
	if principal == nil {
		h.respondWithError(w, http.StatusUnauthorized, store.ErrUnauthorized)
		return nil
	}

	taskID, err := strconv.ParseUint(h.getID(r, "task_id"), 10, 64)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return nil
	}

	task, err := h.store.GetTaskByID(r.Context(), taskID)
	if err != nil || task.OwnerID != principal.ID {
		h.respondWithError(w, http.StatusNotFound, store.ErrNotFound)
		return nil
	}
	return task
}

// ListFiles handles GET /compute/{task_id}/files?path=.
func (h *TaskHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	task := h.loadOwnedTask(w, r)
	if task == nil {
		return
	}

	target, err := workspace.EnsureIsSubpath(task.Path, r.URL.Query().Get("path"))
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return
	}

	nodes, err := workspace.ListDir(target)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, nodes)
}

// Download handles GET /compute/{task_id}/download?path=.
func (h *TaskHandler) Download(w http.ResponseWriter, r *http.Request) {
	task := h.loadOwnedTask(w, r)
	if task == nil {
		return
	}

	rel := r.URL.Query().Get("path")
	if rel == "" {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return
	}

	target, err := workspace.EnsureIsSubpath(task.Path, rel)
	if err != nil {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return
	}

	f, err := os.Open(target)
	if err != nil {
		h.respondWithError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		h.respondWithError(w, http.StatusNotFound, store.ErrNotFound)
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=\""+filepath.Base(target)+"\"")
	w.Header().Set("Content-Type", "application/octet-stream")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, f)
}

// Tree handles GET /compute/{task_id}/tree.
func (h *TaskHandler) Tree(w http.ResponseWriter, r *http.Request) {
	task := h.loadOwnedTask(w, r)
	if task == nil {
		return
	}

	nodes, err := workspace.Tree(task.Path, 2)
	if err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	h.respondWithJSON(w, http.StatusOK, nodes)
}

// DeleteTask handles the terminal-task deletion rule of §5: a non-terminal
// task's delete is rejected; a terminal one's workspace and row are removed.
func (h *TaskHandler) DeleteTask(w http.ResponseWriter, r *http.Request) {
	task := h.loadOwnedTask(w, r)
	if task == nil {
		return
	}
	if !task.IsTerminal() {
		h.respondWithError(w, http.StatusBadRequest, store.ErrInvalidInput)
		return
	}

	if task.Path != "" {
		_ = os.RemoveAll(task.Path)
	}
	if err := h.store.DeleteTask(r.Context(), task.TaskID); err != nil {
		h.respondWithError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/admission"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/checkauth"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/dispatch"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/metrics"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/middleware"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/store"
	"github.com/catalystcommunity/gpucloud/coordinator/internal/streaming"

	"github.com/rs/cors"
)

// Singleton instance of the app's ServeMux, mirroring the established
// GetAppMux/ResetAppMux pattern so tests share the exact routing the server
// runs with.
var appMux *http.ServeMux

// GetAppMux returns the application's HTTP ServeMux for both API and tests.
func GetAppMux() *http.ServeMux {
	if appMux == nil {
		appMux = createAppMux()
	}
	return appMux
}

// ResetAppMux resets the app mux singleton (useful for testing).
func ResetAppMux() {
	appMux = nil
}

// createAppMux creates and configures the application ServeMux with all routes.
func createAppMux() *http.ServeMux {
	mux := http.NewServeMux()

	admissionController := admission.NewController(store.AppStore)
	dispatcher := dispatch.New(store.AppStore, admissionController)
	bridge, err := streaming.New(store.AppStore)
	if err != nil {
		// Log streaming is unavailable without a Docker daemon; everything
		// else still serves, so this is not fatal.
		bridge = nil
	}

	taskHandler := NewTaskHandler(store.AppStore, dispatcher)
	statusHandler := NewStatusHandler(store.AppStore, bridge)

	transactionMiddleware := middleware.TransactionMiddleware
	authMiddleware := middleware.APITokenMiddleware(store.AppStore)
	authed := func(h http.HandlerFunc) http.Handler {
		return transactionMiddleware(authMiddleware(h))
	}

	// Health and metrics endpoints require no auth.
	health := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		transactionMiddleware(http.HandlerFunc(healthHandler)).ServeHTTP(w, r)
	}
	mux.HandleFunc("/api/health", health)
	mux.HandleFunc("/api/v1/health", health)
	mux.Handle("/api/v1/metrics", metrics.Handler())

	// POST /compute/start, GET /compute/tasks
	mux.Handle("/compute/start", methodRouter{http.MethodPost: authed(taskHandler.StartCompute)})
	mux.Handle("/compute/tasks", methodRouter{http.MethodGet: authed(taskHandler.ListTasks)})

	// /compute/{task_id}/{files,download,tree}
	mux.HandleFunc("/compute/", func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(r.URL.Path, "/compute/")
		var taskID, action string
		switch {
		case hasSuffixAction(path, "files"):
			taskID, action = strings.TrimSuffix(path, "/files"), "files"
		case hasSuffixAction(path, "download"):
			taskID, action = strings.TrimSuffix(path, "/download"), "download"
		case hasSuffixAction(path, "tree"):
			taskID, action = strings.TrimSuffix(path, "/tree"), "tree"
		default:
			taskID, action = path, ""
		}
		if taskID == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		r = r.WithContext(setIDContext(r.Context(), "task_id", taskID))

		handler := authed(func(w http.ResponseWriter, r *http.Request) {
			switch {
			case action == "files" && r.Method == http.MethodGet:
				taskHandler.ListFiles(w, r)
			case action == "download" && r.Method == http.MethodGet:
				taskHandler.Download(w, r)
			case action == "tree" && r.Method == http.MethodGet:
				taskHandler.Tree(w, r)
			case action == "" && r.Method == http.MethodDelete:
				taskHandler.DeleteTask(w, r)
			default:
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			}
		})
		handler.ServeHTTP(w, r)
	})

	// GET /status/tasks/compute, GET /status/tasks/static (SUPPLEMENT)
	mux.Handle("/status/tasks/compute", methodRouter{http.MethodGet: authed(statusHandler.ListComputeTasks)})
	mux.Handle("/status/tasks/static", methodRouter{http.MethodGet: authed(statusHandler.ListStaticTasks)})

	// GET /status/task/{task_id}
	mux.HandleFunc("/status/task/", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/status/task/")
		if taskID == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		r = r.WithContext(setIDContext(r.Context(), "task_id", taskID))
		authed(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			statusHandler.GetTaskStatus(w, r)
		}).ServeHTTP(w, r)
	})

	// GET /status/logs/{task_id}
	mux.HandleFunc("/status/logs/", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/status/logs/")
		if taskID == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		r = r.WithContext(setIDContext(r.Context(), "task_id", taskID))
		authed(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodGet {
				http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
				return
			}
			statusHandler.GetTaskLogs(w, r)
		}).ServeHTTP(w, r)
	})

	// WS /status/ws/logs/{task_id}
	mux.HandleFunc("/status/ws/logs/", func(w http.ResponseWriter, r *http.Request) {
		taskID := strings.TrimPrefix(r.URL.Path, "/status/ws/logs/")
		if taskID == "" {
			http.Error(w, "Invalid path", http.StatusBadRequest)
			return
		}
		r = r.WithContext(setIDContext(r.Context(), "task_id", taskID))
		authed(statusHandler.StreamLogs).ServeHTTP(w, r)
	})

	// WS /status/ws/resource_status, WS /status/ws/gpu_vram (SUPPLEMENT)
	mux.Handle("/status/ws/resource_status", authed(statusHandler.ResourceStatus))
	mux.Handle("/status/ws/gpu_vram", authed(statusHandler.GPUVRAM))

	return mux
}

// methodRouter dispatches to a single handler for an exact method, 405
// otherwise. Used for routes with no path parameters.
type methodRouter map[string]http.Handler

func (m methodRouter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h, ok := m[r.Method]; ok {
		h.ServeHTTP(w, r)
		return
	}
	http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
}

func hasSuffixAction(path, action string) bool {
	return strings.HasSuffix(path, "/"+action)
}

// setIDContext adds an ID to the context for handlers to use.
// This replaces the mux.Vars functionality from gorilla/mux.
type contextKey string

func setIDContext(ctx context.Context, key, value string) context.Context {
	return context.WithValue(ctx, contextKey(key), value)
}

// GetIDFromContext gets an ID from the context.
func GetIDFromContext(r *http.Request, key string) string {
	if value, ok := r.Context().Value(contextKey(key)).(string); ok {
		return value
	}
	return ""
}

// GetContextKey returns a context key of the same type used internally.
func GetContextKey(key string) contextKey {
	return contextKey(key)
}

// NewRouter creates the API's HTTP handler with CORS applied.
func NewRouter() http.Handler {
	mux := GetAppMux()

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})

	return c.Handler(mux)
}

// healthHandler reports process health along with the verification info
// found on the request context. The health routes are not wrapped in the
// auth middleware, so a bearer token sent to them is not checked and
// user_authenticated reports false.
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	verified := checkauth.GetVerifiedFromContext(r.Context())
	user := checkauth.GetUserFromContext(r.Context())

	response := map[string]interface{}{
		"status": "OK",
		"verification": map[string]interface{}{
			"verified":           verified,
			"user_authenticated": user != nil,
		},
	}
	if user != nil {
		response["verification"].(map[string]interface{})["user_id"] = user.UserID
	}

	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(response)
}

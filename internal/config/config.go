package config

import (
	"github.com/catalystcommunity/app-utils-go/env"
)

var (
	// DbUri is the database connection string
	DbUri string

	// Port is the HTTP server port
	Port int

	// CommitOnSuccess determines if transactions should be committed on successful responses (2xx status)
	// Default is true, but can be set to false for testing environments
	CommitOnSuccess = env.GetEnvAsBoolOrDefault("COMMIT_ON_SUCCESS", "true")

	// WorkspaceRoot is the directory under which every user's task workspaces live
	WorkspaceRoot = env.GetEnvOrDefault("WORKSPACE_ROOT", "./workspaces")

	// TotalVRAMMB is the GPU Resource Registry's total slice-allocatable budget
	TotalVRAMMB = env.GetEnvAsIntOrDefault("TOTAL_VRAM_MB", "8192")

	// SliceMB is the size of a single GPU allocation unit
	SliceMB = env.GetEnvAsIntOrDefault("SLICE_MB", "2048")

	// MaxCPU is the per-task CPU core ceiling the Dispatcher clamps requests to
	MaxCPU = env.GetEnvAsIntOrDefault("MAX_CPU", "4")

	// ContainerRuntime selects the backend the Container Worker dispatches to
	ContainerRuntime = env.GetEnvOrDefault("CONTAINER_RUNTIME", "docker")

	// WorkerConcurrency is the number of payloads a single worker process runs at once
	WorkerConcurrency = env.GetEnvAsIntOrDefault("WORKER_CONCURRENCY", "4")

	// WorkerPollIntervalSeconds is the wait, in seconds, between claim attempts when the queue is empty
	WorkerPollIntervalSeconds = env.GetEnvAsIntOrDefault("WORKER_POLL_INTERVAL_SECONDS", "2")

	// ResourceStatusIntervalSeconds paces the /status/ws/resource_status broadcast loop
	ResourceStatusIntervalSeconds = env.GetEnvAsIntOrDefault("RESOURCE_STATUS_INTERVAL_SECONDS", "10")

	// Default user for API token auth, mirrors upstream convenience bootstrap behavior.
	DefaultUserID = env.GetEnvOrDefault("DEFAULT_USER_ID", "") // UUID of default user
)

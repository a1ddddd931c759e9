package worker

import (
	"context"
	"io"
)

// TaskProcessorInterface defines the interface for task processing
type TaskProcessorInterface interface {
	ProcessTask(ctx context.Context, payload *TaskPayload) *TaskResult
}

// Ensure TaskProcessor implements TaskProcessorInterface
var _ TaskProcessorInterface = (*TaskProcessor)(nil)

// JobRunner defines the interface for container runtime backends. Only a
// Docker backend is implemented: multi-node scheduling across runtimes is
// out of scope.
type JobRunner interface {
	// SpawnJob creates and starts a task container with the specified configuration.
	// Returns a unique container ID/handle and any error encountered.
	SpawnJob(ctx context.Context, config *JobConfig) (string, error)

	// StreamLogs streams stdout/stderr from a running task container.
	// Returns separate readers for stdout and stderr.
	StreamLogs(ctx context.Context, containerID string) (stdout io.ReadCloser, stderr io.ReadCloser, err error)

	// WaitForCompletion blocks until the task container exits.
	// Returns the exit code and any error encountered.
	WaitForCompletion(ctx context.Context, containerID string) (int, error)

	// Cleanup removes the task container and associated resources.
	// Must be safe to call even if the container was never started.
	Cleanup(ctx context.Context, containerID string) error
}

// JobConfig contains all the configuration needed to spawn a task container.
// If Command is non-empty it replaces the image's entrypoint; an empty
// Command leaves the image's own entrypoint to run, so an image with a
// baked-in default command still works.
type JobConfig struct {
	// ContainerName is the deterministic name (user<owner_id>_task<task_id>)
	// the container is created under. The Log Streaming Bridge looks
	// containers up by this same name, so it must not change after creation.
	ContainerName string

	// Image is the container image to use.
	Image string

	// Command to execute in the container: the task's image command followed
	// by its args. Empty means run the image's own entrypoint.
	Command []string

	// Env variables to inject into the container.
	Env map[string]string

	// WorkspaceDir is the host directory bind-mounted into the container at
	// /workspaces.
	WorkspaceDir string

	// WorkingDir is the working directory inside the container.
	WorkingDir string

	// CPUCores is the number of CPU cores to grant the container, converted
	// to Docker's NanoCPUs (cores * 1e9).
	CPUCores int

	// GPU requests exactly one GPU device via a Docker DeviceRequest.
	GPU bool

	// TaskID and OwnerID are carried for labeling/logging only.
	TaskID  uint64
	OwnerID string
}

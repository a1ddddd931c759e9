package worker

import (
	"context"
	"fmt"
	"io"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/catalystcommunity/app-utils-go/logging"
)

// DockerRunner implements JobRunner using the Docker daemon
type DockerRunner struct {
	client *client.Client
}

// NewDockerRunner creates a new Docker-based job runner
// Uses the default Docker socket (unix:///var/run/docker.sock or npipe on Windows)
func NewDockerRunner() (*DockerRunner, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	return &DockerRunner{
		client: cli,
	}, nil
}

// NewDockerRunnerWithClient creates a DockerRunner with a custom Docker client
// Useful for testing or custom configurations
func NewDockerRunnerWithClient(cli *client.Client) *DockerRunner {
	return &DockerRunner{
		client: cli,
	}
}

// SpawnJob creates and starts a Docker container for the task
func (dr *DockerRunner) SpawnJob(ctx context.Context, config *JobConfig) (string, error) {
	logger := logging.Log.WithField("task_id", config.TaskID).WithField("container_name", config.ContainerName)

	if err := dr.validateConfig(config); err != nil {
		return "", fmt.Errorf("invalid task configuration: %w", err)
	}

	logger.WithField("image", config.Image).Info("Ensuring Docker image is available")
	if err := dr.ensureImage(ctx, config.Image); err != nil {
		return "", fmt.Errorf("failed to ensure image: %w", err)
	}

	containerConfig := &container.Config{
		Image:        config.Image,
		Cmd:          config.Command,
		Env:          dr.envMapToSlice(config.Env),
		WorkingDir:   config.WorkingDir,
		AttachStdout: true,
		AttachStderr: true,
		Tty:          false,
		Labels: map[string]string{
			"gpucloud.task_id":  fmt.Sprintf("%d", config.TaskID),
			"gpucloud.owner_id": config.OwnerID,
			"gpucloud.component": "task-container",
		},
	}

	// Only override the entrypoint when a command was actually supplied; an
	// empty Command means the image's own entrypoint should run.
	if len(config.Command) > 0 {
		containerConfig.Entrypoint = []string{}
	}

	binds := []string{
		fmt.Sprintf("%s:/workspaces", config.WorkspaceDir),
	}

	hostConfig := &container.HostConfig{
		Binds:      binds,
		AutoRemove: false, // removed explicitly in Cleanup
	}

	if config.CPUCores > 0 {
		hostConfig.NanoCPUs = int64(config.CPUCores) * 1_000_000_000
	}

	if config.GPU {
		hostConfig.Resources.DeviceRequests = []container.DeviceRequest{
			{
				Count:        1,
				Capabilities: [][]string{{"gpu"}},
			},
		}
		logger.Info("Requesting one GPU device for container")
	}

	logger.WithFields(map[string]interface{}{
		"image":   config.Image,
		"command": config.Command,
	}).Info("Creating Docker container")

	resp, err := dr.client.ContainerCreate(ctx, containerConfig, hostConfig, nil, nil, config.ContainerName)
	if err != nil {
		return "", fmt.Errorf("failed to create container: %w", err)
	}

	if len(resp.Warnings) > 0 {
		logger.WithField("warnings", resp.Warnings).Warn("Container creation warnings")
	}

	logger.WithField("container_id", resp.ID).Info("Starting Docker container")
	if err := dr.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		dr.client.ContainerRemove(ctx, resp.ID, container.RemoveOptions{Force: true})
		return "", fmt.Errorf("failed to start container: %w", err)
	}

	logger.WithField("container_id", resp.ID).Info("Docker container started successfully")
	return resp.ID, nil
}

// StreamLogs streams stdout and stderr from the container
func (dr *DockerRunner) StreamLogs(ctx context.Context, containerID string) (stdout io.ReadCloser, stderr io.ReadCloser, err error) {
	logger := logging.Log.WithField("container_id", containerID)

	logOptions := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Follow:     true,
		Timestamps: false,
	}

	logs, err := dr.client.ContainerLogs(ctx, containerID, logOptions)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get container logs: %w", err)
	}

	// Docker multiplexes stdout and stderr into a single stream with headers;
	// demultiplex them with stdcopy.
	stdoutReader, stdoutWriter := io.Pipe()
	stderrReader, stderrWriter := io.Pipe()

	go func() {
		defer logs.Close()
		defer stdoutWriter.Close()
		defer stderrWriter.Close()

		_, err := stdcopy.StdCopy(stdoutWriter, stderrWriter, logs)
		if err != nil && err != io.EOF {
			logger.WithError(err).Error("Error demultiplexing container logs")
		}
	}()

	return stdoutReader, stderrReader, nil
}

// WaitForCompletion waits for the container to exit and returns the exit code
func (dr *DockerRunner) WaitForCompletion(ctx context.Context, containerID string) (int, error) {
	logger := logging.Log.WithField("container_id", containerID)

	statusCh, errCh := dr.client.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

	select {
	case err := <-errCh:
		if err != nil {
			return -1, fmt.Errorf("error waiting for container: %w", err)
		}
	case status := <-statusCh:
		logger.WithField("exit_code", status.StatusCode).Info("Container exited")
		return int(status.StatusCode), nil
	}

	return -1, fmt.Errorf("unexpected error waiting for container")
}

// Cleanup removes the container and associated resources. Safe to call on a
// container ID that never started.
func (dr *DockerRunner) Cleanup(ctx context.Context, containerID string) error {
	if containerID == "" {
		return nil
	}

	logger := logging.Log.WithField("container_id", containerID)
	logger.Info("Cleaning up Docker container")

	removeOptions := container.RemoveOptions{
		RemoveVolumes: true,
		Force:         true,
	}

	if err := dr.client.ContainerRemove(ctx, containerID, removeOptions); err != nil {
		return fmt.Errorf("failed to remove container: %w", err)
	}

	logger.Info("Docker container cleaned up successfully")
	return nil
}

// validateConfig validates the task configuration
func (dr *DockerRunner) validateConfig(config *JobConfig) error {
	if config.Image == "" {
		return fmt.Errorf("container image is required")
	}
	if config.WorkspaceDir == "" {
		return fmt.Errorf("workspace directory is required")
	}
	if config.ContainerName == "" {
		return fmt.Errorf("container name is required")
	}
	return nil
}

// ensureImage pulls the image if it doesn't exist locally
func (dr *DockerRunner) ensureImage(ctx context.Context, imageName string) error {
	logger := logging.Log.WithField("image", imageName)

	_, _, err := dr.client.ImageInspectWithRaw(ctx, imageName)
	if err == nil {
		logger.Debug("Image found locally")
		return nil
	}

	logger.Info("Pulling Docker image")
	pullResp, err := dr.client.ImagePull(ctx, imageName, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image: %w", err)
	}
	defer pullResp.Close()

	_, err = io.Copy(io.Discard, pullResp)
	if err != nil {
		return fmt.Errorf("error reading pull response: %w", err)
	}

	logger.Info("Image pulled successfully")
	return nil
}

// envMapToSlice converts an environment variable map to a slice of "KEY=VALUE" strings
func (dr *DockerRunner) envMapToSlice(envMap map[string]string) []string {
	if envMap == nil {
		return nil
	}

	envSlice := make([]string, 0, len(envMap))
	for key, value := range envMap {
		envSlice = append(envSlice, fmt.Sprintf("%s=%s", key, value))
	}
	return envSlice
}

// Ensure DockerRunner implements JobRunner interface
var _ JobRunner = (*DockerRunner)(nil)

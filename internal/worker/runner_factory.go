package worker

import (
	"fmt"
	"strings"
)

// RunnerBackend represents the container runtime backend to use. Only
// Docker is implemented: multi-node scheduling across other runtimes is out
// of scope.
type RunnerBackend string

// BackendDocker is the only supported backend.
const BackendDocker RunnerBackend = "docker"

// NewJobRunner creates a new JobRunner for the given backend name.
func NewJobRunner(backend string) (JobRunner, error) {
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = string(BackendDocker)
	}

	switch RunnerBackend(backend) {
	case BackendDocker:
		return NewDockerRunner()
	default:
		return nil, fmt.Errorf("unsupported job runner backend: %s (supported: docker)", backend)
	}
}

// GetSupportedBackends returns every backend this build knows how to run.
func GetSupportedBackends() []RunnerBackend {
	return []RunnerBackend{BackendDocker}
}

// IsBackendSupported reports whether backend names a known runner.
func IsBackendSupported(backend string) bool {
	backend = strings.ToLower(strings.TrimSpace(backend))
	return backend == string(BackendDocker)
}

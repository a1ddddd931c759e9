package worker

import "testing"

// TestDockerRunner_validateConfig tests the configuration validation. A
// missing Command is deliberately NOT an error case: an empty Command means
// the image's own entrypoint should run (spec'd dispatch behavior), so
// validateConfig must accept it.
func TestDockerRunner_validateConfig(t *testing.T) {
	runner := &DockerRunner{}

	tests := []struct {
		name        string
		config      *JobConfig
		expectError bool
	}{
		{
			name: "valid config with command",
			config: &JobConfig{
				Image:         "alpine:latest",
				Command:       []string{"echo", "hello"},
				WorkspaceDir:  "/tmp/test",
				ContainerName: "user1_task1",
			},
			expectError: false,
		},
		{
			name: "valid config with no command runs image entrypoint",
			config: &JobConfig{
				Image:         "alpine:latest",
				Command:       nil,
				WorkspaceDir:  "/tmp/test",
				ContainerName: "user1_task1",
			},
			expectError: false,
		},
		{
			name: "missing image",
			config: &JobConfig{
				Command:       []string{"echo", "hello"},
				WorkspaceDir:  "/tmp/test",
				ContainerName: "user1_task1",
			},
			expectError: true,
		},
		{
			name: "missing workspace",
			config: &JobConfig{
				Image:         "alpine:latest",
				Command:       []string{"echo", "hello"},
				ContainerName: "user1_task1",
			},
			expectError: true,
		},
		{
			name: "missing container name",
			config: &JobConfig{
				Image:        "alpine:latest",
				Command:      []string{"echo", "hello"},
				WorkspaceDir: "/tmp/test",
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := runner.validateConfig(tt.config)
			if tt.expectError && err == nil {
				t.Errorf("expected error but got none")
			}
			if !tt.expectError && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// TestDockerRunner_envMapToSlice tests environment map to slice conversion
func TestDockerRunner_envMapToSlice(t *testing.T) {
	runner := &DockerRunner{}

	tests := []struct {
		name     string
		envMap   map[string]string
		expected int
	}{
		{name: "nil map", envMap: nil, expected: 0},
		{name: "empty map", envMap: map[string]string{}, expected: 0},
		{name: "single entry", envMap: map[string]string{"KEY": "value"}, expected: 1},
		{
			name: "multiple entries",
			envMap: map[string]string{
				"KEY1": "value1",
				"KEY2": "value2",
				"KEY3": "value3",
			},
			expected: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := runner.envMapToSlice(tt.envMap)
			if len(result) != tt.expected {
				t.Errorf("expected %d entries, got %d", tt.expected, len(result))
			}
			for _, entry := range result {
				if len(entry) == 0 {
					t.Errorf("empty environment entry")
				}
			}
		})
	}
}

// TestNewJobRunner_Docker tests creating a Docker runner via the factory
func TestNewJobRunner_Docker(t *testing.T) {
	runner, err := NewJobRunner("docker")
	if err != nil {
		t.Skipf("Docker not available: %v", err)
	}

	if runner == nil {
		t.Fatal("expected non-nil runner")
	}
	if _, ok := runner.(*DockerRunner); !ok {
		t.Errorf("expected *DockerRunner, got %T", runner)
	}
}

// TestNewJobRunner_InvalidBackend tests factory with an unsupported backend
func TestNewJobRunner_InvalidBackend(t *testing.T) {
	runner, err := NewJobRunner("kubernetes")
	if err == nil {
		t.Error("expected error for unsupported backend")
	}
	if runner != nil {
		t.Error("expected nil runner for unsupported backend")
	}
}

// TestNewJobRunner_CaseInsensitive tests factory is case-insensitive and
// defaults an empty string to Docker
func TestNewJobRunner_CaseInsensitive(t *testing.T) {
	testCases := []string{"DOCKER", "Docker", "docker", "  docker  ", ""}
	for _, backend := range testCases {
		t.Run(backend, func(t *testing.T) {
			runner, err := NewJobRunner(backend)
			if err != nil {
				t.Skipf("Docker not available: %v", err)
			}
			if runner == nil {
				t.Fatal("expected non-nil runner")
			}
		})
	}
}

// TestIsBackendSupported tests backend support checking
func TestIsBackendSupported(t *testing.T) {
	tests := []struct {
		backend  string
		expected bool
	}{
		{"docker", true},
		{"containerd", false},
		{"kubernetes", false},
		{"invalid", false},
		{"DOCKER", true},
		{"  docker  ", true},
	}

	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			result := IsBackendSupported(tt.backend)
			if result != tt.expected {
				t.Errorf("IsBackendSupported(%q) = %v, expected %v", tt.backend, result, tt.expected)
			}
		})
	}
}

// TestGetSupportedBackends tests getting the list of supported backends
func TestGetSupportedBackends(t *testing.T) {
	backends := GetSupportedBackends()
	if len(backends) != 1 {
		t.Errorf("expected 1 supported backend, got %d", len(backends))
	}
	if backends[0] != BackendDocker {
		t.Errorf("expected %s, got %s", BackendDocker, backends[0])
	}
}

// Package dispatch implements the Dispatcher: given a validated job request
// and an authenticated principal, it creates the Task row, materializes the
// workspace, consults the GPU Admission Controller, and hands the resulting
// payload either straight to the Worker Queue or parks it in the Registry.
package dispatch

import (
	"fmt"

	"github.com/catalystcommunity/gpucloud/coordinator/internal/store/models"
)

// JobPayload is the transport object handed from the Dispatcher to the
// Container Worker across the broker, or parked in the GPU Registry's FIFO
// queue while waiting for a slice. Field names double as the broker's
// `run_container_task` argument names.
type JobPayload struct {
	TaskID    uint64            `json:"task_id"`
	OwnerID   string            `json:"owner_id"`
	OwnerName string            `json:"owner_name"`
	Image     string            `json:"image"`
	Command   []string          `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Workspace string            `json:"workspace"`
	CPUCores  int               `json:"cpu_cores"`
	GPU       bool              `json:"gpu"`
	Env       map[string]string `json:"env"`
}

// ToJSONB converts the payload to the JSONB shape the store persists it as,
// either in the task_queue table or the gpu_queue table.
func (p *JobPayload) ToJSONB() models.JSONB {
	env := make(map[string]interface{}, len(p.Env))
	for k, v := range p.Env {
		env[k] = v
	}
	command := make([]interface{}, len(p.Command))
	for i, c := range p.Command {
		command[i] = c
	}
	args := make([]interface{}, len(p.Args))
	for i, a := range p.Args {
		args[i] = a
	}
	return models.JSONB{
		"task_id":    p.TaskID,
		"owner_id":   p.OwnerID,
		"owner_name": p.OwnerName,
		"image":      p.Image,
		"command":    command,
		"args":       args,
		"workspace":  p.Workspace,
		"cpu_cores":  p.CPUCores,
		"gpu":        p.GPU,
		"env":        env,
	}
}

// PayloadFromJSONB reconstructs a JobPayload from its JSONB form, as read
// back off the task_queue or gpu_queue tables by a worker.
func PayloadFromJSONB(raw models.JSONB) *JobPayload {
	p := &JobPayload{
		Env: map[string]string{},
	}
	if v, ok := raw["task_id"].(float64); ok {
		p.TaskID = uint64(v)
	}
	if v, ok := raw["owner_id"].(string); ok {
		p.OwnerID = v
	}
	if v, ok := raw["owner_name"].(string); ok {
		p.OwnerName = v
	}
	if v, ok := raw["image"].(string); ok {
		p.Image = v
	}
	if v, ok := raw["workspace"].(string); ok {
		p.Workspace = v
	}
	if v, ok := raw["cpu_cores"].(float64); ok {
		p.CPUCores = int(v)
	}
	if v, ok := raw["gpu"].(bool); ok {
		p.GPU = v
	}
	if v, ok := raw["command"].([]interface{}); ok {
		p.Command = toStringSlice(v)
	}
	if v, ok := raw["args"].([]interface{}); ok {
		p.Args = toStringSlice(v)
	}
	if v, ok := raw["env"].(map[string]interface{}); ok {
		for k, val := range v {
			if s, ok := val.(string); ok {
				p.Env[k] = s
			}
		}
	}
	return p
}

func toStringSlice(raw []interface{}) []string {
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ContainerName derives the deterministic container name used both as the
// Worker's redelivery guard and the Log Streaming Bridge's lookup key.
func ContainerName(ownerID string, taskID uint64) string {
	return fmt.Sprintf("user%s_task%d", ownerID, taskID)
}

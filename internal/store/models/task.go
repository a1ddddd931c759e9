package models

import (
	"time"

	"github.com/lib/pq"
)

// TaskType distinguishes a compute job from a static-site deployment.
type TaskType string

const (
	TaskTypeCompute    TaskType = "compute"
	TaskTypeStaticPage TaskType = "staticpage"
)

// TaskStatus is the task's position in the lifecycle DAG described in the data model:
// pending -> {queued, running}; queued -> running; running -> {completed, failed};
// terminal once completed/failed.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
)

// Task represents a single user-submitted unit of work, the only externally
// observable lifecycle record in the system.
type Task struct {
	TaskID    uint64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time  `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime:false;default:timezone('utc', now())" json:"updated_at"`
	OwnerID   string     `gorm:"type:uuid;not null;index" json:"user_id"`
	TaskType  TaskType   `gorm:"type:text;not null;check:task_type IN ('compute','staticpage')" json:"task_type"`
	Status    TaskStatus `gorm:"type:text;not null;default:'pending';check:status IN ('pending','queued','running','completed','failed')" json:"status"`
	Logs      string     `gorm:"type:text" json:"logs,omitempty"`
	Path      string     `gorm:"type:text" json:"path,omitempty"`

	// Request echo, kept for worker redelivery / idempotence checks and for the
	// listing endpoints that need the original image/command without a join.
	Image    string         `gorm:"type:text;not null" json:"-"`
	Command  pq.StringArray `gorm:"type:text[]" json:"-"`
	Args     pq.StringArray `gorm:"type:text[]" json:"-"`
	Env      JSONB          `gorm:"type:jsonb" json:"-"`
	CPUCores int            `gorm:"not null;default:2" json:"-"`
	GPU      bool           `gorm:"not null;default:false" json:"-"`

	User User `gorm:"foreignKey:OwnerID;references:UserID" json:"-"`
}

// TableName specifies the table name for the model
func (Task) TableName() string {
	return "tasks"
}

// IsTerminal returns true once the task has reached completed or failed.
func (t *Task) IsTerminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}

// CanTransitionTo reports whether moving to next is legal under the DAG in §3:
// pending -> {queued, running}; queued -> running; running -> {completed, failed}.
func (t *Task) CanTransitionTo(next TaskStatus) bool {
	switch t.Status {
	case TaskStatusPending:
		return next == TaskStatusQueued || next == TaskStatusRunning
	case TaskStatusQueued:
		return next == TaskStatusRunning
	case TaskStatusRunning:
		return next == TaskStatusCompleted || next == TaskStatusFailed
	default:
		return false // terminal states never transition
	}
}

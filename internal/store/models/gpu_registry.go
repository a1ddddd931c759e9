package models

import "time"

// GPUUsage is a singleton row (id=1) holding the Registry's used_mb counter.
// Row-level locking (`SELECT ... FOR UPDATE`) on this single row is what makes
// try_acquire/release atomic across the front-end and worker processes.
type GPUUsage struct {
	ID     int `gorm:"primaryKey" json:"-"`
	UsedMB int `gorm:"not null;default:0" json:"used_mb"`
}

func (GPUUsage) TableName() string { return "gpu_usage" }

// GPUAllocation records a task's outstanding slice. sum(SliceMB) over all rows
// must always equal GPUUsage.UsedMB.
type GPUAllocation struct {
	TaskID   uint64 `gorm:"primaryKey" json:"task_id"`
	SliceMB  int    `gorm:"not null" json:"slice_mb"`
	AcquiredAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"acquired_at"`
}

func (GPUAllocation) TableName() string { return "gpu_allocations" }

// GPUQueueEntry is a FIFO-ordered parked payload awaiting a free slice.
type GPUQueueEntry struct {
	SeqID     uint64 `gorm:"primaryKey;autoIncrement" json:"seq_id"`
	TaskID    uint64 `gorm:"not null;index" json:"task_id"`
	Payload   JSONB  `gorm:"type:jsonb;not null" json:"payload"`
	EnqueuedAt time.Time `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"enqueued_at"`
}

func (GPUQueueEntry) TableName() string { return "gpu_queue" }

package models

import "time"

// QueueEntry is one unit of work handed from the Dispatcher to the Container
// Worker fleet across process boundaries. The broker is Postgres itself:
// workers claim a row with `SELECT ... FOR UPDATE SKIP LOCKED`, which gives
// at-least-once delivery (a worker that dies mid-claim leaves the row visible
// to the lifecycle sweep) without requiring an external message broker.
type QueueEntry struct {
	EntryID   uint64     `gorm:"primaryKey;autoIncrement" json:"entry_id"`
	TaskID    uint64     `gorm:"not null;index" json:"task_id"`
	Payload   JSONB      `gorm:"type:jsonb;not null" json:"payload"`
	CreatedAt time.Time  `gorm:"autoCreateTime:false;default:timezone('utc', now())" json:"created_at"`
	ClaimedBy *string    `gorm:"type:text" json:"claimed_by,omitempty"`
	ClaimedAt *time.Time `json:"claimed_at,omitempty"`
}

func (QueueEntry) TableName() string { return "task_queue" }

package model

import (
	"time"
)

// Tier is a named queue lane with its own concurrency and retry defaults.
type Tier string

const (
	TierImmediate Tier = "immediate"
	TierBulk      Tier = "bulk"
	TierScheduled Tier = "scheduled"
)

func (t Tier) Valid() bool {
	switch t {
	case TierImmediate, TierBulk, TierScheduled:
		return true
	}
	return false
}

type JobStatus string

const (
	JobStatusWaiting   JobStatus = "waiting"
	JobStatusActive    JobStatus = "active"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusDelayed   JobStatus = "delayed"
	JobStatusNotFound  JobStatus = "not_found"
)

// JobPayload holds either a single notification or a batch of them.
type JobPayload struct {
	Single *QueuedNotification  `json:"single,omitempty"`
	Batch  []QueuedNotification `json:"batch,omitempty"`
}

// Job is owned exclusively by the queue dispatcher and mutated only by
// the worker processing it.
type Job struct {
	ID           string      `json:"id"`
	Tier         Tier        `json:"tier"`
	Payload      JobPayload  `json:"payload"`
	Priority     int         `json:"priority"`
	AttemptsMade int         `json:"attempts_made"`
	MaxAttempts  int         `json:"max_attempts"`
	Status       JobStatus    `json:"status"`
	LastError    string       `json:"last_error,omitempty"`
	Progress     *JobProgress `json:"progress,omitempty"`
	Result       *JobResult   `json:"result,omitempty"`
	ScheduledAt  *time.Time   `json:"scheduled_at,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
}

// JobProgress tracks how far a claimed job has come. For bulk jobs it
// advances at chunk boundaries; for single jobs it flips 0 -> 1.
type JobProgress struct {
	Processed int `json:"processed"`
	Total     int `json:"total"`
}

// JobResult summarizes a finished job. For bulk jobs, Succeeded and
// Failed count individual items; Items carries per-item outcomes.
type JobResult struct {
	Succeeded int             `json:"succeeded"`
	Failed    int             `json:"failed"`
	Items     []BulkItemError `json:"items,omitempty"`
}

// BulkItemError records a single failed item inside a bulk job.
type BulkItemError struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

// JobView is the read-only status surface returned to callers.
type JobView struct {
	ID           string       `json:"id"`
	Tier         Tier         `json:"tier"`
	Status       JobStatus    `json:"status"`
	AttemptsMade int          `json:"attempts_made"`
	MaxAttempts  int          `json:"max_attempts"`
	LastError    string       `json:"last_error,omitempty"`
	Progress     *JobProgress `json:"progress,omitempty"`
	Result       *JobResult   `json:"result,omitempty"`
}

// QueueStats reports per-tier queue depth for observability.
type QueueStats struct {
	Tier      Tier  `json:"tier"`
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Delayed   int64 `json:"delayed"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Total     int64 `json:"total"`
}

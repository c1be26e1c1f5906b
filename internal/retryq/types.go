// Package retryq implements the durable retry queue for failed embedding
// operations. Items live in the engine database, are rescheduled with
// exponential backoff, and park in a dead-letter state once attempts are
// exhausted.
package retryq

import (
	"context"
	"time"
)

// Operation identifies which embedding operation failed and should be
// replayed by the sweep.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is a known operation type.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Status is the lifecycle state of a queue item.
type Status string

const (
	// StatusPending means the item is waiting for its next retry time.
	StatusPending Status = "pending"

	// StatusRetrying means a sweep has claimed the item and is replaying it.
	StatusRetrying Status = "retrying"

	// StatusDeadLetter means attempts are exhausted; the item is parked
	// for operator inspection and manual retry.
	StatusDeadLetter Status = "dead_letter"
)

// Item is one queued embedding failure.
type Item struct {
	ID           string     `json:"id"`
	WorkID       string     `json:"work_id"`
	Operation    Operation  `json:"operation_type"`
	AttemptCount int        `json:"attempt_count"`
	MaxAttempts  int        `json:"max_attempts"`
	NextRetryAt  *time.Time `json:"next_retry_at,omitempty"`
	Status       Status     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	ErrorDetails string     `json:"error_details,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeadLetterAt *time.Time `json:"dead_letter_at,omitempty"`
}

// Active reports whether the item still participates in sweeps.
func (it *Item) Active() bool {
	return it.Status == StatusPending || it.Status == StatusRetrying
}

// Runner replays embedding operations for the sweep. The index processor
// implements it; the indirection keeps the queue free of index imports.
type Runner interface {
	// Embed re-derives and indexes the record's embedding state.
	// Used for create and update operations.
	Embed(ctx context.Context, workID string) error

	// Remove deletes the record's derived index state.
	// Used for delete operations.
	Remove(ctx context.Context, workID string) error
}

// SweepReport summarizes one ProcessDue invocation.
type SweepReport struct {
	Claimed      int `json:"claimed"`
	Succeeded    int `json:"succeeded"`
	Rescheduled  int `json:"rescheduled"`
	DeadLettered int `json:"dead_lettered"`
	Dropped      int `json:"dropped"`
}

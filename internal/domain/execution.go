package domain

import (
	"time"

	"github.com/google/uuid"
)

type ExecutionStatus string

const (
	ExecutionStatusPending   ExecutionStatus = "pending"
	ExecutionStatusQueued    ExecutionStatus = "queued"
	ExecutionStatusCompleted ExecutionStatus = "completed"
	ExecutionStatusFailed    ExecutionStatus = "failed"
)

// IsTerminal reports whether the status may never change again.
func (s ExecutionStatus) IsTerminal() bool {
	return s == ExecutionStatusCompleted || s == ExecutionStatusFailed
}

type ExecutionSource string

const (
	SourceManual   ExecutionSource = "manual"
	SourceSchedule ExecutionSource = "schedule"
	SourceWebhook  ExecutionSource = "webhook"
)

// Execution records that a trigger fired at a specific time. It is
// append-only: only Status and ErrorMessage change, and never after a
// terminal state is reached.
type Execution struct {
	ID uuid.UUID

	TriggerID uuid.UUID
	ProjectID uuid.UUID

	ScheduledAt  time.Time
	FiredAt      time.Time
	Source       ExecutionSource
	Status       ExecutionStatus
	ErrorMessage string

	CreatedAt time.Time
}

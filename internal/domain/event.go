package domain

import (
	"time"

	"github.com/google/uuid"
)

// TriggerEvent is emitted on the bus when a trigger fires.
type TriggerEvent struct {
	ExecutionID uuid.UUID
	TriggerID   uuid.UUID
	ProjectID   uuid.UUID

	ScheduledAt    time.Time // intended fire time (UTC)
	FiredAt        time.Time // actual emission time
	Source         ExecutionSource
	IdempotencyKey string

	CreatedAt time.Time
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// InvocationAttempt records one call to the function gateway for an
// execution.
type InvocationAttempt struct {
	ID          uuid.UUID
	ExecutionID uuid.UUID
	Attempt     int

	StatusCode int
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}

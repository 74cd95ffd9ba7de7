package domain

import (
	"time"

	"github.com/google/uuid"
)

type RecurrenceKind string

const (
	RecurrenceHourly RecurrenceKind = "hourly"
	RecurrenceDaily  RecurrenceKind = "daily"
	RecurrenceWeekly RecurrenceKind = "weekly"
	RecurrenceCron   RecurrenceKind = "cron"
)

// Recurrence describes when a trigger fires. Hour and Minute are wall-clock
// values interpreted in Timezone. DayOfWeek (0=Sunday..6=Saturday) is
// meaningful only for weekly recurrences. CronExpression is used only when
// Kind is RecurrenceCron.
type Recurrence struct {
	Kind           RecurrenceKind
	Hour           int
	Minute         int
	DayOfWeek      int
	Timezone       string // IANA timezone, defaults to UTC
	CronExpression string
}

// Trigger is a stored rule describing when to automatically run a test plan.
type Trigger struct {
	ID        uuid.UUID
	ProjectID uuid.UUID

	Name   string
	PlanID uuid.UUID

	Recurrence Recurrence
	Function   FunctionConfig
	IsActive   bool

	// NextRunAt is the persisted next occurrence, recomputed whenever the
	// trigger is created, edited, toggled, or has just fired. Nil for
	// inactive triggers.
	NextRunAt *time.Time

	Analytics AnalyticsConfig

	CreatedAt time.Time
	UpdatedAt time.Time
}

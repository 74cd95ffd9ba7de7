// Package schedule computes trigger occurrences.
//
// NextOccurrence is a pure function: it reads no ambient clock and keeps no
// state. Callers capture "now" once and pass it in, so the "is it past now"
// comparisons stay consistent across the whole computation.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/testdeck/testdeck/internal/domain"
)

// ErrInvalidRecurrence is returned when recurrence fields are missing,
// unknown, or out of range.
var ErrInvalidRecurrence = errors.New("invalid recurrence")

// NextOccurrence returns the first instant strictly after now at which the
// recurrence fires, interpreted in the recurrence's timezone. An occurrence
// landing exactly on now counts as already elapsed and rolls forward, so a
// trigger never re-fires on the instant it was recomputed.
//
// Only hourly, daily, and weekly kinds are handled here; cron-expression
// recurrences go through the cron parser instead.
func NextOccurrence(r domain.Recurrence, now time.Time) (time.Time, error) {
	if err := validate(r); err != nil {
		return time.Time{}, err
	}

	tz := r.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: timezone %q: %v", ErrInvalidRecurrence, tz, err)
	}

	local := now.In(loc)
	year, month, day := local.Date()

	var next time.Time
	switch r.Kind {
	case domain.RecurrenceHourly:
		// Keep the current hour, set the minute.
		next = time.Date(year, month, day, local.Hour(), r.Minute, 0, 0, loc)
		if !next.After(now) {
			next = next.Add(time.Hour)
		}

	case domain.RecurrenceDaily:
		next = time.Date(year, month, day, r.Hour, r.Minute, 0, 0, loc)
		if !next.After(now) {
			next = next.AddDate(0, 0, 1)
		}

	case domain.RecurrenceWeekly:
		next = time.Date(year, month, day, r.Hour, r.Minute, 0, 0, loc)
		delta := (r.DayOfWeek - int(local.Weekday())) % 7
		if delta < 0 || (delta == 0 && !next.After(now)) {
			delta += 7
		}
		next = next.AddDate(0, 0, delta)

	default:
		return time.Time{}, fmt.Errorf("%w: unknown kind %q", ErrInvalidRecurrence, r.Kind)
	}

	return next, nil
}

func validate(r domain.Recurrence) error {
	if r.Hour < 0 || r.Hour > 23 {
		return fmt.Errorf("%w: hour %d out of range [0,23]", ErrInvalidRecurrence, r.Hour)
	}
	if r.Minute < 0 || r.Minute > 59 {
		return fmt.Errorf("%w: minute %d out of range [0,59]", ErrInvalidRecurrence, r.Minute)
	}
	if r.Kind == domain.RecurrenceWeekly && (r.DayOfWeek < 0 || r.DayOfWeek > 6) {
		return fmt.Errorf("%w: day_of_week %d out of range [0,6]", ErrInvalidRecurrence, r.DayOfWeek)
	}
	return nil
}

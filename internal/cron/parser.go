// Package cron compiles cron-expression recurrences for advanced triggers.
// The three fixed recurrence kinds (hourly/daily/weekly) are computed in
// internal/schedule; this package only serves triggers configured with a
// raw cron expression.
package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

type Parser struct {
	parser cron.Parser
}

// NewParser returns a five-field parser (minute hour dom month dow).
func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// Parse compiles expression into a Schedule evaluated in timezone.
// An empty timezone means UTC.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	sched, err := p.parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("parse cron: %w", err)
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone: %w", err)
	}

	return &schedule{sched: sched, loc: loc}, nil
}

type Schedule interface {
	// Next returns the first activation strictly after the given instant.
	Next(after time.Time) time.Time
}

type schedule struct {
	sched cron.Schedule
	loc   *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	return s.sched.Next(after.In(s.loc))
}

// Validate reports whether expression parses as a five-field cron
// expression. Used by request validation before a trigger is stored.
func Validate(expression string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(expression)
	return err
}

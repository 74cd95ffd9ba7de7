package config

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	// DATABASE_URL is required
	if cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required",
		})
	}

	// PROJECT_ID must be a UUID when set
	if cfg.ProjectID != "" {
		if _, err := uuid.Parse(cfg.ProjectID); err != nil {
			errs = append(errs, ValidationError{
				Field:   "PROJECT_ID",
				Message: fmt.Sprintf("invalid uuid: %v", err),
			})
		}
	}

	// TICK_INTERVAL must be a valid duration
	if cfg.TickIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TickIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	// Reconciler must not re-emit executions still inside the retry window.
	if cfg.ReconcileEnabled && cfg.ReconcileThreshold > 0 && cfg.ReconcileThreshold < 13*time.Minute {
		errs = append(errs, ValidationError{
			Field:   "RECONCILE_THRESHOLD",
			Message: "must be at least 13m to exceed the dispatcher retry window",
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

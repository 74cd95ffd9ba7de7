package api

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/testdeck/testdeck/internal/cron"
	"github.com/testdeck/testdeck/internal/domain"
)

func validateCreateTrigger(req CreateTriggerRequest) error {
	if req.Name == "" {
		return fmt.Errorf("name is required")
	}

	if req.PlanID == "" {
		return fmt.Errorf("plan_id is required")
	}
	if _, err := uuid.Parse(req.PlanID); err != nil {
		return fmt.Errorf("invalid plan_id: %w", err)
	}

	if err := validateRecurrence(req.Recurrence); err != nil {
		return err
	}

	if req.FunctionURL == "" {
		return fmt.Errorf("function_url is required")
	}
	if err := validateFunctionURL(req.FunctionURL); err != nil {
		return fmt.Errorf("invalid function_url: %w", err)
	}

	return nil
}

func validateUpdateTrigger(req UpdateTriggerRequest) error {
	if req.Name != nil && *req.Name == "" {
		return fmt.Errorf("name must not be empty")
	}

	if req.Recurrence != nil {
		if err := validateRecurrence(*req.Recurrence); err != nil {
			return err
		}
	}

	if req.FunctionURL != nil {
		if err := validateFunctionURL(*req.FunctionURL); err != nil {
			return fmt.Errorf("invalid function_url: %w", err)
		}
	}

	return nil
}

func validateRecurrence(r RecurrenceRequest) error {
	switch domain.RecurrenceKind(r.Kind) {
	case domain.RecurrenceHourly:
		if r.Minute < 0 || r.Minute > 59 {
			return fmt.Errorf("minute must be between 0 and 59")
		}

	case domain.RecurrenceDaily:
		if r.Hour < 0 || r.Hour > 23 {
			return fmt.Errorf("hour must be between 0 and 23")
		}
		if r.Minute < 0 || r.Minute > 59 {
			return fmt.Errorf("minute must be between 0 and 59")
		}

	case domain.RecurrenceWeekly:
		if r.DayOfWeek == nil {
			return fmt.Errorf("day_of_week is required for weekly triggers")
		}
		if *r.DayOfWeek < 0 || *r.DayOfWeek > 6 {
			return fmt.Errorf("day_of_week must be between 0 and 6")
		}
		if r.Hour < 0 || r.Hour > 23 {
			return fmt.Errorf("hour must be between 0 and 23")
		}
		if r.Minute < 0 || r.Minute > 59 {
			return fmt.Errorf("minute must be between 0 and 59")
		}

	case domain.RecurrenceCron:
		if r.CronExpression == "" {
			return fmt.Errorf("cron_expression is required for cron triggers")
		}
		if err := cron.Validate(r.CronExpression); err != nil {
			return fmt.Errorf("invalid cron_expression: %w", err)
		}

	default:
		return fmt.Errorf("kind must be one of hourly, daily, weekly, cron")
	}

	if r.Timezone != "" {
		if err := validateTimezone(r.Timezone); err != nil {
			return fmt.Errorf("invalid timezone: %w", err)
		}
	}

	return nil
}

func validateTimezone(tz string) error {
	_, err := time.LoadLocation(tz)
	return err
}

func validateFunctionURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

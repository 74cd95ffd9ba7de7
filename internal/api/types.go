package api

import "time"

// RecurrenceRequest describes when a trigger fires. DayOfWeek is required
// for weekly triggers (0=Sunday..6=Saturday) and ignored otherwise.
// CronExpression is required for cron triggers and ignored otherwise.
type RecurrenceRequest struct {
	Kind           string `json:"kind"`
	Hour           int    `json:"hour,omitempty"`
	Minute         int    `json:"minute,omitempty"`
	DayOfWeek      *int   `json:"day_of_week,omitempty"`
	Timezone       string `json:"timezone,omitempty"` // default UTC
	CronExpression string `json:"cron_expression,omitempty"`
}

type CreateTriggerRequest struct {
	Name            string            `json:"name"`
	PlanID          string            `json:"plan_id"`
	Recurrence      RecurrenceRequest `json:"recurrence"`
	FunctionURL     string            `json:"function_url"`
	FunctionSecret  string            `json:"function_secret,omitempty"`
	FunctionTimeout int               `json:"function_timeout_seconds,omitempty"` // default 30

	Analytics *AnalyticsRequest `json:"analytics,omitempty"`
}

// UpdateTriggerRequest carries partial updates. Nil fields are left
// unchanged. Changing recurrence or is_active recomputes next_run_at.
type UpdateTriggerRequest struct {
	Name            *string            `json:"name,omitempty"`
	Recurrence      *RecurrenceRequest `json:"recurrence,omitempty"`
	FunctionURL     *string            `json:"function_url,omitempty"`
	FunctionSecret  *string            `json:"function_secret,omitempty"`
	FunctionTimeout *int               `json:"function_timeout_seconds,omitempty"`
	IsActive        *bool              `json:"is_active,omitempty"`
}

// AnalyticsRequest enables per-trigger analytics.
// Presence of this object enables analytics; omit to disable.
type AnalyticsRequest struct {
	RetentionSeconds int `json:"retention_seconds,omitempty"` // default 86400 (24h)
}

type RecurrenceResponse struct {
	Kind           string `json:"kind"`
	Hour           int    `json:"hour"`
	Minute         int    `json:"minute"`
	DayOfWeek      int    `json:"day_of_week"`
	Timezone       string `json:"timezone"`
	CronExpression string `json:"cron_expression,omitempty"`
}

type TriggerResponse struct {
	ID          string             `json:"id"`
	ProjectID   string             `json:"project_id"`
	Name        string             `json:"name"`
	PlanID      string             `json:"plan_id"`
	Recurrence  RecurrenceResponse `json:"recurrence"`
	FunctionURL string             `json:"function_url"`
	IsActive    bool               `json:"is_active"`
	NextRunAt   string             `json:"next_run_at,omitempty"`
	CreatedAt   string             `json:"created_at"`
}

type ExecutionResponse struct {
	ID          string `json:"id"`
	TriggerID   string `json:"trigger_id"`
	ScheduledAt string `json:"scheduled_at"`
	FiredAt     string `json:"fired_at"`
	Source      string `json:"source"`
	Status      string `json:"status"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type ListExecutionsResponse struct {
	Executions []ExecutionResponse `json:"executions"`
}

// ComparisonEntryResponse is the verdict for one test case. baseline_status
// or compare_status is omitted when the case is absent from that run.
type ComparisonEntryResponse struct {
	TestCaseID     string `json:"test_case_id"`
	Title          string `json:"title,omitempty"`
	ReadableID     string `json:"readable_id,omitempty"`
	BaselineStatus string `json:"baseline_status,omitempty"`
	CompareStatus  string `json:"compare_status,omitempty"`
	Classification string `json:"classification"`
}

type ComparisonStatsResponse struct {
	Regressed        int     `json:"regressed"`
	Improved         int     `json:"improved"`
	New              int     `json:"new"`
	Removed          int     `json:"removed"`
	Same             int     `json:"same"`
	BaselinePassRate float64 `json:"baseline_pass_rate"`
	ComparePassRate  float64 `json:"compare_pass_rate"`
	PassRateDelta    float64 `json:"pass_rate_delta"`
}

type ComparisonResponse struct {
	BaselineRunID string                    `json:"baseline_run_id"`
	CompareRunID  string                    `json:"compare_run_id"`
	Entries       []ComparisonEntryResponse `json:"entries"`
	Stats         ComparisonStatsResponse   `json:"stats"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

package api

import "testing"

func intPtr(n int) *int { return &n }

func validCreateRequest() CreateTriggerRequest {
	return CreateTriggerRequest{
		Name:   "nightly-regression",
		PlanID: "6d1c4a7e-8f2b-4c3d-9e0f-1a2b3c4d5e6f",
		Recurrence: RecurrenceRequest{
			Kind:   "daily",
			Hour:   3,
			Minute: 30,
		},
		FunctionURL: "https://runner.example.com/run",
	}
}

func TestValidateCreateTrigger_Valid(t *testing.T) {
	if err := validateCreateTrigger(validCreateRequest()); err != nil {
		t.Errorf("expected valid request, got %v", err)
	}
}

func TestValidateCreateTrigger_Invalid(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*CreateTriggerRequest)
	}{
		{"missing name", func(r *CreateTriggerRequest) { r.Name = "" }},
		{"missing plan", func(r *CreateTriggerRequest) { r.PlanID = "" }},
		{"bad plan id", func(r *CreateTriggerRequest) { r.PlanID = "not-a-uuid" }},
		{"missing url", func(r *CreateTriggerRequest) { r.FunctionURL = "" }},
		{"ftp url", func(r *CreateTriggerRequest) { r.FunctionURL = "ftp://example.com" }},
		{"no host", func(r *CreateTriggerRequest) { r.FunctionURL = "https://" }},
		{"unknown kind", func(r *CreateTriggerRequest) { r.Recurrence.Kind = "monthly" }},
		{"empty kind", func(r *CreateTriggerRequest) { r.Recurrence.Kind = "" }},
		{"hour too large", func(r *CreateTriggerRequest) { r.Recurrence.Hour = 24 }},
		{"hour negative", func(r *CreateTriggerRequest) { r.Recurrence.Hour = -1 }},
		{"minute too large", func(r *CreateTriggerRequest) { r.Recurrence.Minute = 60 }},
		{"bad timezone", func(r *CreateTriggerRequest) { r.Recurrence.Timezone = "Mars/Olympus" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validCreateRequest()
			tc.mutate(&req)
			if err := validateCreateTrigger(req); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestValidateRecurrence_Hourly(t *testing.T) {
	if err := validateRecurrence(RecurrenceRequest{Kind: "hourly", Minute: 45}); err != nil {
		t.Errorf("expected valid hourly recurrence, got %v", err)
	}
	if err := validateRecurrence(RecurrenceRequest{Kind: "hourly", Minute: 60}); err == nil {
		t.Error("expected error for minute 60")
	}
}

func TestValidateRecurrence_Weekly(t *testing.T) {
	valid := RecurrenceRequest{Kind: "weekly", Hour: 9, Minute: 0, DayOfWeek: intPtr(1)}
	if err := validateRecurrence(valid); err != nil {
		t.Errorf("expected valid weekly recurrence, got %v", err)
	}

	missing := RecurrenceRequest{Kind: "weekly", Hour: 9, Minute: 0}
	if err := validateRecurrence(missing); err == nil {
		t.Error("expected error for missing day_of_week")
	}

	outOfRange := RecurrenceRequest{Kind: "weekly", Hour: 9, Minute: 0, DayOfWeek: intPtr(7)}
	if err := validateRecurrence(outOfRange); err == nil {
		t.Error("expected error for day_of_week 7")
	}
}

func TestValidateRecurrence_Cron(t *testing.T) {
	if err := validateRecurrence(RecurrenceRequest{Kind: "cron", CronExpression: "*/15 * * * *"}); err != nil {
		t.Errorf("expected valid cron recurrence, got %v", err)
	}
	if err := validateRecurrence(RecurrenceRequest{Kind: "cron"}); err == nil {
		t.Error("expected error for missing expression")
	}
	if err := validateRecurrence(RecurrenceRequest{Kind: "cron", CronExpression: "bad"}); err == nil {
		t.Error("expected error for invalid expression")
	}
}

func TestValidateUpdateTrigger(t *testing.T) {
	empty := ""
	if err := validateUpdateTrigger(UpdateTriggerRequest{Name: &empty}); err == nil {
		t.Error("expected error for empty name")
	}

	badURL := "ftp://example.com"
	if err := validateUpdateTrigger(UpdateTriggerRequest{FunctionURL: &badURL}); err == nil {
		t.Error("expected error for ftp url")
	}

	if err := validateUpdateTrigger(UpdateTriggerRequest{}); err != nil {
		t.Errorf("expected empty patch to validate, got %v", err)
	}

	bad := RecurrenceRequest{Kind: "weekly", Hour: 9}
	if err := validateUpdateTrigger(UpdateTriggerRequest{Recurrence: &bad}); err == nil {
		t.Error("expected error for weekly recurrence without day_of_week")
	}
}

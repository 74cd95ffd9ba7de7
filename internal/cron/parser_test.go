package cron

import (
	"testing"
	"time"
)

func TestParse_NextActivation(t *testing.T) {
	parser := NewParser()

	sched, err := parser.Parse("30 3 * * *", "UTC")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	after := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	next := sched.Next(after)

	want := time.Date(2024, 1, 16, 3, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next)
	}
}

func TestParse_Timezone(t *testing.T) {
	parser := NewParser()

	sched, err := parser.Parse("0 9 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	// 2024-01-15 10:00 UTC is 05:00 in New York; next 09:00 NY is 14:00 UTC.
	after := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	next := sched.Next(after)

	want := time.Date(2024, 1, 15, 14, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next.UTC())
	}
}

func TestParse_EmptyTimezoneDefaultsUTC(t *testing.T) {
	parser := NewParser()

	sched, err := parser.Parse("0 12 * * *", "")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	after := time.Date(2024, 1, 15, 11, 0, 0, 0, time.UTC)
	next := sched.Next(after)

	want := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("expected %s, got %s", want, next.UTC())
	}
}

func TestParse_Invalid(t *testing.T) {
	parser := NewParser()

	cases := []struct {
		name       string
		expression string
		timezone   string
	}{
		{"empty", "", "UTC"},
		{"too few fields", "0 12 *", "UTC"},
		{"six fields", "0 0 12 * * *", "UTC"},
		{"bad minute", "61 * * * *", "UTC"},
		{"bad timezone", "0 12 * * *", "Mars/Olympus"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parser.Parse(tc.expression, tc.timezone); err == nil {
				t.Errorf("expected error for %q in %q", tc.expression, tc.timezone)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	if err := Validate("*/5 * * * *"); err != nil {
		t.Errorf("expected valid expression, got %v", err)
	}
	if err := Validate("not a cron"); err == nil {
		t.Error("expected error for invalid expression")
	}
}

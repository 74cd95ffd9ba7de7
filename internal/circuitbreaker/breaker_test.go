package circuitbreaker

import (
	"errors"
	"testing"
	"time"
)

const endpoint = "https://runner.example.com/run"

func TestBreaker_ClosedUntilThreshold(t *testing.T) {
	cb := New(3, time.Minute)

	cb.RecordFailure(endpoint)
	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("expected closed below threshold, got %v", err)
	}

	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen at threshold, got %v", err)
	}
}

func TestBreaker_SuccessResetsFailures(t *testing.T) {
	cb := New(3, time.Minute)

	cb.RecordFailure(endpoint)
	cb.RecordFailure(endpoint)
	cb.RecordSuccess(endpoint)
	cb.RecordFailure(endpoint)
	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("expected closed after success reset, got %v", err)
	}
}

func TestBreaker_HalfOpenAfterCooldown(t *testing.T) {
	cb := New(1, time.Minute)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	cb.clock = func() time.Time { return now }

	cb.RecordFailure(endpoint)

	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("expected open, got %v", err)
	}

	// After cooldown a single probe is admitted.
	now = now.Add(time.Minute)
	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("expected half-open probe to be admitted, got %v", err)
	}

	// Second call during half-open is still rejected.
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected second half-open call rejected, got %v", err)
	}
}

func TestBreaker_ProbeOutcomeDecidesState(t *testing.T) {
	cb := New(1, time.Minute)
	now := time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC)
	cb.clock = func() time.Time { return now }

	cb.RecordFailure(endpoint)
	now = now.Add(time.Minute)

	if err := cb.Allow(endpoint); err != nil {
		t.Fatalf("expected probe admitted, got %v", err)
	}
	cb.RecordSuccess(endpoint)

	if err := cb.Allow(endpoint); err != nil {
		t.Errorf("expected closed after successful probe, got %v", err)
	}

	// Failed probe reopens immediately.
	cb.RecordFailure(endpoint)
	if err := cb.Allow(endpoint); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected reopened after failed probe, got %v", err)
	}
}

func TestBreaker_EndpointsAreIndependent(t *testing.T) {
	cb := New(1, time.Minute)

	cb.RecordFailure(endpoint)

	if err := cb.Allow("https://other.example.com/run"); err != nil {
		t.Errorf("expected other endpoint unaffected, got %v", err)
	}
}

package testutil

import (
	"sync"
	"testing"
	"time"
)

func TestFakeClock_Now(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	got := clock.Now()
	if !got.Equal(fixed) {
		t.Errorf("Now() = %v, want %v", got, fixed)
	}
}

func TestFakeClock_Advance(t *testing.T) {
	fixed := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	clock := NewFakeClock(fixed)

	clock.Advance(90 * time.Second)

	want := fixed.Add(90 * time.Second)
	if got := clock.Now(); !got.Equal(want) {
		t.Errorf("after Advance(90s), Now() = %v, want %v", got, want)
	}
}

func TestFakeClock_ConcurrentAccess(t *testing.T) {
	clock := NewFakeClock(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			clock.Advance(time.Second)
		}()
		go func() {
			defer wg.Done()
			_ = clock.Now()
		}()
	}
	wg.Wait()

	want := time.Date(2024, 3, 1, 0, 0, 10, 0, time.UTC)
	if got := clock.Now(); !got.Equal(want) {
		t.Errorf("after 10 concurrent advances, Now() = %v, want %v", got, want)
	}
}

func TestTestContext_HasDeadline(t *testing.T) {
	ctx := TestContext(t)

	deadline, ok := ctx.Deadline()
	if !ok {
		t.Fatal("TestContext should have a deadline")
	}

	remaining := time.Until(deadline)
	if remaining <= 0 || remaining > 6*time.Second {
		t.Errorf("deadline should be ~5s from now, got %v", remaining)
	}
}

func TestMustParseUUID_Valid(t *testing.T) {
	id := MustParseUUID("6d1c4a7e-8f2b-4c3d-9e0f-1a2b3c4d5e6f")
	if id.String() != "6d1c4a7e-8f2b-4c3d-9e0f-1a2b3c4d5e6f" {
		t.Errorf("unexpected UUID: %s", id)
	}
}

func TestMustParseUUID_Invalid(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("MustParseUUID should panic on invalid UUID")
		}
	}()
	MustParseUUID("not-a-uuid")
}

package testfixtures

import (
	"testing"
	"time"
)

func TestClock(t *testing.T) {
	t.Parallel()

	if got := NewClock(time.Time{}).Now(); !got.Equal(ReferenceTime()) {
		t.Fatalf("expected ReferenceTime, got %v", got)
	}

	start := time.Date(2024, time.March, 30, 12, 0, 0, 0, time.UTC)
	clock := NewClock(start)
	now := clock.NowFunc()

	if got := clock.Advance(90 * time.Minute); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("expected %v, got %v", start.Add(90*time.Minute), got)
	}
	if got := now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("expected NowFunc to follow the clock, got %v", got)
	}

	clock.Set(start)
	if got := clock.AdvanceDays(3); !got.Equal(time.Date(2024, time.April, 2, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("expected 2024-04-02 12:00, got %v", got)
	}
}

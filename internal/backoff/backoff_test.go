package backoff

import (
	"testing"
	"time"
)

func TestExponentialSchedule(t *testing.T) {
	s := Default()

	want := []time.Duration{
		1 * time.Minute,
		2 * time.Minute,
		4 * time.Minute,
		8 * time.Minute,
		16 * time.Minute,
		32 * time.Minute,
		60 * time.Minute,
		60 * time.Minute,
	}
	for i, w := range want {
		attempt := i + 1
		if got := s.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, w)
		}
	}
}

func TestExponentialCapHolds(t *testing.T) {
	s := Default()
	for attempt := 7; attempt <= 40; attempt++ {
		if got := s.Delay(attempt); got != 60*time.Minute {
			t.Fatalf("Delay(%d) = %v, want cap 60m", attempt, got)
		}
	}
}

func TestExponentialAttemptFloor(t *testing.T) {
	s := NewExponential(time.Minute, time.Hour)
	if got := s.Delay(0); got != time.Minute {
		t.Errorf("Delay(0) = %v, want 1m", got)
	}
	if got := s.Delay(-3); got != time.Minute {
		t.Errorf("Delay(-3) = %v, want 1m", got)
	}
}

func TestConstant(t *testing.T) {
	s := &Constant{Interval: 5 * time.Second}
	for _, attempt := range []int{1, 2, 100} {
		if got := s.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want 5s", attempt, got)
		}
	}
}

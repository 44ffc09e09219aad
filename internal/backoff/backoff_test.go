package backoff

import (
	"testing"
	"time"
)

func TestDelayGeometric(t *testing.T) {
	base := 100 * time.Millisecond
	max := 10 * time.Second

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
	}
	for i, w := range want {
		if got := Delay(i, base, max, 2.0); got != w {
			t.Errorf("Delay(%d): expected %v, got %v", i, w, got)
		}
	}
}

func TestDelayCapped(t *testing.T) {
	if got := Delay(10, 100*time.Millisecond, time.Second, 2.0); got != time.Second {
		t.Errorf("Expected cap at 1s, got %v", got)
	}
}

func TestDelayNegativeAttempt(t *testing.T) {
	if got := Delay(-3, 100*time.Millisecond, time.Second, 2.0); got != 100*time.Millisecond {
		t.Errorf("Expected base delay for negative attempt, got %v", got)
	}
}

func TestDelayOverflowClamped(t *testing.T) {
	got := Delay(1000, time.Second, time.Minute, 5.0)
	if got != time.Minute {
		t.Errorf("Expected overflow clamped to max, got %v", got)
	}
}

func TestTotal(t *testing.T) {
	// 3 attempts: two sleeps of 100ms and 200ms.
	got := Total(3, 100*time.Millisecond, 10*time.Second, 2.0)
	if got != 300*time.Millisecond {
		t.Errorf("Expected 300ms, got %v", got)
	}

	if Total(1, 100*time.Millisecond, 10*time.Second, 2.0) != 0 {
		t.Error("Expected zero sleeps for a single attempt")
	}
}

func TestPow(t *testing.T) {
	if Pow(2.0, 10) != 1024.0 {
		t.Errorf("Expected 1024, got %g", Pow(2.0, 10))
	}
	if Pow(3.0, 0) != 1.0 {
		t.Errorf("Expected 1, got %g", Pow(3.0, 0))
	}
}

package metrics

import (
	"testing"
	"time"
)

func TestNewTimer(t *testing.T) {
	timer := NewTimer()

	if timer == nil {
		t.Fatal("NewTimer() returned nil")
	}

	if timer.Start().IsZero() {
		t.Error("NewTimer() start time is zero")
	}

	if time.Since(timer.Start()) > time.Second {
		t.Error("NewTimer() start time is not recent")
	}
}

func TestTimerDuration(t *testing.T) {
	timer := NewTimer()
	time.Sleep(10 * time.Millisecond)

	d := timer.Duration()
	if d < 10*time.Millisecond {
		t.Errorf("Duration() = %v, want at least 10ms", d)
	}
	if d > time.Second {
		t.Errorf("Duration() = %v, unreasonably long", d)
	}
}

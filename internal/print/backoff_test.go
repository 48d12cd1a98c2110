package print

import (
	"testing"
	"time"
)

func TestReconnectDelay_ExponentialWithCap(t *testing.T) {
	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second, // 32s capped
		30 * time.Second,
	}
	for attempt, w := range want {
		if got := ReconnectDelay(attempt); got != w {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, w)
		}
	}
}

func TestReconnectDelay_DefensiveBounds(t *testing.T) {
	if got := ReconnectDelay(-3); got != time.Second {
		t.Fatalf("negative attempt should behave as zero, got %v", got)
	}
	if got := ReconnectDelay(64); got != 30*time.Second {
		t.Fatalf("huge attempt must stay at the cap, got %v", got)
	}
}

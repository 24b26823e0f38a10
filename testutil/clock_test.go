package testutil

import (
	"testing"
	"time"
)

func TestClockAdvance(t *testing.T) {
	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	c := NewClock(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected start time")
	}
	c.Advance(29*time.Minute + 59*time.Second)
	if got := c.Now().Sub(start); got != 29*time.Minute+59*time.Second {
		t.Fatalf("unexpected elapsed %v", got)
	}
	c.Set(start)
	if !c.Now().Equal(start) {
		t.Fatalf("expected reset")
	}
}

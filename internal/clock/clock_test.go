package clock

import (
	"testing"
	"time"
)

func TestFrozenClockDoesNotAdvanceOnItsOwn(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFrozen(start)
	if c.Now() != start {
		t.Fatalf("expected Now() to equal the pinned instant, got %v", c.Now())
	}
	if c.Now() != start {
		t.Fatal("expected a second Now() call to return the same instant")
	}
}

func TestFrozenClockAdvance(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFrozen(start)
	c.Advance(24 * time.Hour)
	if !c.Now().Equal(start.Add(24 * time.Hour)) {
		t.Fatalf("expected Advance to move the clock forward by the given duration, got %v", c.Now())
	}
}

func TestFrozenClockSet(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	next := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	c := NewFrozen(start)
	c.Set(next)
	if !c.Now().Equal(next) {
		t.Fatalf("expected Set to pin the clock to the given instant, got %v", c.Now())
	}
}

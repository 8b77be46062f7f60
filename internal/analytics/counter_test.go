package analytics

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/hammamikhairi/wisprd/internal/settings"
)

func newTestCounter(t *testing.T, now func() time.Time) *Counter {
	t.Helper()
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := settings.Open(path)
	if err != nil {
		t.Fatalf("settings.Open: %v", err)
	}
	return NewCounter(store, WithClock(now))
}

func TestRecordAccumulatesSecondsAndWords(t *testing.T) {
	c := newTestCounter(t, time.Now)
	c.Record(2.5, 4)
	stats := c.Record(1.5, 2)

	if stats.CumulativeSeconds != 4.0 {
		t.Fatalf("expected 4.0 cumulative seconds, got %v", stats.CumulativeSeconds)
	}
	if stats.CumulativeWords != 6 {
		t.Fatalf("expected 6 cumulative words, got %v", stats.CumulativeWords)
	}
	if stats.SessionCount != 2 {
		t.Fatalf("expected session count 2, got %v", stats.SessionCount)
	}
}

func TestTimeSavedUsesConfigurableMultiplier(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	store, err := settings.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	c := NewCounter(store, WithTimeSavedMultiplier(5.0))
	stats := c.Record(10, 20)
	if stats.TimeSavedSeconds != 50 {
		t.Fatalf("expected 50s time saved at 5x multiplier, got %v", stats.TimeSavedSeconds)
	}
}

func TestStreakIncrementsOnConsecutiveDays(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	day2 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	cur := day1
	c := newTestCounter(t, func() time.Time { return cur })

	s1 := c.Record(1, 1)
	if s1.CurrentStreakDays != 1 {
		t.Fatalf("expected streak 1 on first day, got %d", s1.CurrentStreakDays)
	}

	cur = day2
	s2 := c.Record(1, 1)
	if s2.CurrentStreakDays != 2 {
		t.Fatalf("expected streak 2 on consecutive day, got %d", s2.CurrentStreakDays)
	}
}

func TestStreakResetsAfterGap(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	dayAfterGap := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	cur := day1
	c := newTestCounter(t, func() time.Time { return cur })

	c.Record(1, 1)
	cur = dayAfterGap
	s2 := c.Record(1, 1)
	if s2.CurrentStreakDays != 1 {
		t.Fatalf("expected streak reset to 1 after a gap, got %d", s2.CurrentStreakDays)
	}
}

func TestStreakUnchangedWithinSameDay(t *testing.T) {
	day1 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	c := newTestCounter(t, func() time.Time { return day1 })

	c.Record(1, 1)
	s2 := c.Record(1, 1)
	if s2.CurrentStreakDays != 1 {
		t.Fatalf("expected streak unchanged within same day, got %d", s2.CurrentStreakDays)
	}
}

// Package analytics implements the cumulative usage counters fed by one
// (duration_seconds, word_count) tuple per completed dictation session
// (§3, §6). The core only ever calls Record; everything else here is
// external-collaborator bookkeeping the core treats as opaque.
package analytics

import (
	"sync"
	"time"

	"github.com/hammamikhairi/wisprd/internal/settings"
)

// DefaultTimeSavedMultiplier is the factor the original implementation
// applied to captured duration when reporting "time saved" versus
// typing by hand. The source's choice of 3x had no documented
// rationale, so it is exposed as a configurable factor rather than
// hardcoded (Design Note §9).
const DefaultTimeSavedMultiplier = 3.0

// Stats is a point-in-time read of the counters, including the derived
// time-saved figure.
type Stats struct {
	CumulativeSeconds   float64
	CumulativeWords     int64
	SessionCount        int64
	CurrentStreakDays   int
	TimeSavedSeconds    float64
}

// Counter accumulates session stats into a settings.Store-backed
// Analytics document.
type Counter struct {
	store      *settings.Store
	multiplier float64
	now        func() time.Time

	mu sync.Mutex
}

// Option configures a Counter.
type Option func(*Counter)

// WithTimeSavedMultiplier overrides DefaultTimeSavedMultiplier.
func WithTimeSavedMultiplier(m float64) Option {
	return func(c *Counter) { c.multiplier = m }
}

// WithClock overrides the clock used for streak-day comparisons
// (tests inject a fixed clock).
func WithClock(now func() time.Time) Option {
	return func(c *Counter) { c.now = now }
}

// NewCounter builds a Counter persisting through store.
func NewCounter(store *settings.Store, opts ...Option) *Counter {
	c := &Counter{store: store, multiplier: DefaultTimeSavedMultiplier, now: time.Now}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Record folds one completed session's (duration, word_count) into the
// persisted counters and updates the daily streak.
func (c *Counter) Record(durationSeconds float64, wordCount int) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	a := c.store.AnalyticsSnapshot()
	a.CumulativeSeconds += durationSeconds
	a.CumulativeWords += int64(wordCount)
	a.SessionCount++
	a.CurrentStreakDays, a.LastSessionDate = advanceStreak(a.CurrentStreakDays, a.LastSessionDate, c.now())

	_ = c.store.SetAnalytics(a)

	return Stats{
		CumulativeSeconds: a.CumulativeSeconds,
		CumulativeWords:   a.CumulativeWords,
		SessionCount:      a.SessionCount,
		CurrentStreakDays: a.CurrentStreakDays,
		TimeSavedSeconds:  a.CumulativeSeconds * c.multiplier,
	}
}

// Snapshot reads the current counters without recording a session.
func (c *Counter) Snapshot() Stats {
	a := c.store.AnalyticsSnapshot()
	return Stats{
		CumulativeSeconds: a.CumulativeSeconds,
		CumulativeWords:   a.CumulativeWords,
		SessionCount:      a.SessionCount,
		CurrentStreakDays: a.CurrentStreakDays,
		TimeSavedSeconds:  a.CumulativeSeconds * c.multiplier,
	}
}

const dayLayout = "2006-01-02"

// advanceStreak compares lastDate to today: same day keeps the streak
// unchanged, yesterday increments it, anything else (including a first
// ever session) resets it to 1.
func advanceStreak(current int, lastDate string, now time.Time) (int, string) {
	today := now.Format(dayLayout)
	if lastDate == today {
		if current == 0 {
			return 1, today
		}
		return current, today
	}
	if lastDate == "" {
		return 1, today
	}
	last, err := time.ParseInLocation(dayLayout, lastDate, now.Location())
	if err != nil {
		return 1, today
	}
	if now.Format(dayLayout) == last.AddDate(0, 0, 1).Format(dayLayout) {
		return current + 1, today
	}
	return 1, today
}

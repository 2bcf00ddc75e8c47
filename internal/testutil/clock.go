package testutil

import (
	"sync"
	"time"
)

// Epoch is the instant FixedClock starts at. Audit lines written against it
// carry the 2024-01-15T10:30:00.000Z timestamp.
var Epoch = time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC)

// StubClock satisfies safebox.Clock and only moves when a test moves it,
// so audit timestamps and retention cutoffs are predictable.
type StubClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewStubClock(t time.Time) *StubClock {
	return &StubClock{now: t.UTC()}
}

// FixedClock returns a StubClock set to Epoch.
func FixedClock() *StubClock {
	return NewStubClock(Epoch)
}

func (c *StubClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *StubClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// AdvanceDays steps past whole retention days.
func (c *StubClock) AdvanceDays(days int) {
	c.Advance(time.Duration(days) * 24 * time.Hour)
}

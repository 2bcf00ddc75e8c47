package safebox

import "time"

// Clock abstracts time retrieval so audit timestamps and retention cutoffs
// are deterministic in tests.
type Clock interface {
	Now() time.Time
}

// RealClock returns the actual current time.
type RealClock struct{}

func (RealClock) Now() time.Time { return time.Now() }

// sleepFunc blocks for d. Swapped out in tests so retry backoff does not slow them down.
type sleepFunc func(d time.Duration)

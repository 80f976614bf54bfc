package pairing

import (
	"sync"
	"time"
)

// Failure-lockout defaults. A source that fails validation
// FailureThreshold times inside FailureWindow is locked out for
// LockoutDuration; the lock lifts lazily on the next inquiry after the
// duration elapses, never via a background timer.
const (
	DefaultFailureWindow    = 600 * time.Second
	DefaultFailureThreshold = 5
	DefaultLockoutDuration  = 1800 * time.Second
)

type sourceState struct {
	failures []time.Time
	lockedAt time.Time // zero when unlocked
}

// FailureLimiter tracks validation failures per source address and locks
// out brute-force sources. Successful validations never reset the
// failure counter early; only the sliding window ages failures out.
type FailureLimiter struct {
	mu        sync.Mutex
	window    time.Duration
	threshold int
	lockout   time.Duration
	clock     Clock
	sources   map[string]*sourceState
}

// NewFailureLimiter creates a limiter; zero values select the defaults.
func NewFailureLimiter(window time.Duration, threshold int, lockout time.Duration, clock Clock) *FailureLimiter {
	if window <= 0 {
		window = DefaultFailureWindow
	}
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}
	if lockout <= 0 {
		lockout = DefaultLockoutDuration
	}
	if clock == nil {
		clock = wallClock{}
	}
	return &FailureLimiter{
		window:    window,
		threshold: threshold,
		lockout:   lockout,
		clock:     clock,
		sources:   make(map[string]*sourceState),
	}
}

// Blocked reports whether the source is currently locked out. An expired
// lock is cleared here, on inquiry.
func (l *FailureLimiter) Blocked(source string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	st, ok := l.sources[source]
	if !ok {
		return false
	}
	now := l.clock.Now()
	if !st.lockedAt.IsZero() {
		if now.Sub(st.lockedAt) > l.lockout {
			// Lock expired: the source starts over with a clean slate.
			delete(l.sources, source)
			return false
		}
		return true
	}
	return false
}

// RecordFailure notes one failed validation for the source. Crossing the
// threshold inside the window engages the lock.
func (l *FailureLimiter) RecordFailure(source string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	st, ok := l.sources[source]
	if !ok {
		st = &sourceState{}
		l.sources[source] = st
	}

	st.failures = append(st.failures, now)
	st.failures = pruneOlderThan(st.failures, now.Add(-l.window))

	if len(st.failures) >= l.threshold && st.lockedAt.IsZero() {
		st.lockedAt = now
	}
}

// FailureCount returns the in-window failure count for the source.
func (l *FailureLimiter) FailureCount(source string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	st, ok := l.sources[source]
	if !ok {
		return 0
	}
	st.failures = pruneOlderThan(st.failures, l.clock.Now().Add(-l.window))
	return len(st.failures)
}

func pruneOlderThan(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		ts = ts[i:]
	}
	return ts
}

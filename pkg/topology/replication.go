package topology

import (
	"sync"
	"time"
)

// DefaultReplicationInterval is how long a STORAGE node waits between
// replication passes.
const DefaultReplicationInterval = 60 * time.Second

// ReplicationTracker is the pull-based trigger a STORAGE-role node polls
// to decide when to replicate. The trigger is idempotent: asking twice
// without marking completion gives the same answer, and replication
// execution itself lives elsewhere.
type ReplicationTracker struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
}

// NewReplicationTracker creates a tracker with the given interval;
// interval <= 0 selects the default.
func NewReplicationTracker(interval time.Duration) *ReplicationTracker {
	if interval <= 0 {
		interval = DefaultReplicationInterval
	}
	return &ReplicationTracker{interval: interval}
}

// ShouldReplicate reports whether more than the configured interval has
// elapsed since the last recorded replication. A tracker that never
// replicated reports true.
func (rt *ReplicationTracker) ShouldReplicate(now time.Time) bool {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.last.IsZero() {
		return true
	}
	return now.Sub(rt.last) > rt.interval
}

// MarkReplicated records a completed replication pass.
func (rt *ReplicationTracker) MarkReplicated(now time.Time) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	rt.last = now
}

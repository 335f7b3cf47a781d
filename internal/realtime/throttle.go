package realtime

import (
	"sync"
	"time"
)

// JobUpdate is one buffered job-progress change for a pending order.
type JobUpdate struct {
	JobID      string
	Progress   int
	JobOrderID string
}

// ProgressThrottle collapses JOB_PROGRESS bursts into one store write per
// order per interval. New updates for the same order overwrite the buffered
// one; a single timer is armed only when idle, never reset while pending.
type ProgressThrottle struct {
	mu       sync.Mutex
	interval time.Duration
	buf      map[string]JobUpdate
	timer    *time.Timer
	flush    func(map[string]JobUpdate)
}

func NewProgressThrottle(interval time.Duration, flush func(map[string]JobUpdate)) *ProgressThrottle {
	return &ProgressThrottle{
		interval: interval,
		buf:      map[string]JobUpdate{},
		flush:    flush,
	}
}

func (t *ProgressThrottle) Add(pendingOrderID string, u JobUpdate) {
	t.mu.Lock()
	t.buf[pendingOrderID] = u
	if t.timer == nil {
		t.timer = time.AfterFunc(t.interval, t.fire)
	}
	t.mu.Unlock()
}

func (t *ProgressThrottle) fire() {
	t.mu.Lock()
	buf := t.buf
	t.buf = map[string]JobUpdate{}
	t.timer = nil
	t.mu.Unlock()
	if len(buf) > 0 {
		t.flush(buf)
	}
}

// Stop cancels a pending flush; buffered updates are dropped.
func (t *ProgressThrottle) Stop() {
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.buf = map[string]JobUpdate{}
	t.mu.Unlock()
}

package validate

import (
	"sync"
	"time"
)

// SlidingWindow is a rate limiter keyed by arbitrary string identifiers
// (connection ids, client IPs). Each key may record at most `limit` events
// inside the trailing `window`; older events fall out as time advances.
type SlidingWindow struct {
	limit  int
	window time.Duration

	mu      sync.Mutex
	events  map[string][]time.Time
	nowFunc func() time.Time
}

func NewSlidingWindow(limit int, window time.Duration) *SlidingWindow {
	return &SlidingWindow{
		limit:   limit,
		window:  window,
		events:  make(map[string][]time.Time),
		nowFunc: time.Now,
	}
}

// Allow records an event for key and reports whether it fit in the window.
// A disallowed event is not recorded, so a flooding client recovers as soon
// as its earlier events age out.
func (sw *SlidingWindow) Allow(key string) bool {
	if sw.limit <= 0 {
		return true
	}
	sw.mu.Lock()
	defer sw.mu.Unlock()

	now := sw.nowFunc()
	cutoff := now.Add(-sw.window)

	kept := sw.events[key][:0]
	for _, t := range sw.events[key] {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	if len(kept) >= sw.limit {
		sw.events[key] = kept
		return false
	}
	sw.events[key] = append(kept, now)
	return true
}

// Forget drops all recorded events for key. Called when a connection closes
// so the table does not accumulate dead keys.
func (sw *SlidingWindow) Forget(key string) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	delete(sw.events, key)
}

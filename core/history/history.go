// Package history is a bounded, time-bucketed cache used to suppress
// replayed intents and transactions: each message hash is tagged with its
// first-observed time, and re-observing it before that tag expires reports
// a duplicate.
package history

import (
	"sync"
	"time"

	"intent-chain/core"
)

type bucket struct {
	at      time.Time
	members map[string]struct{}
}

// History tracks every observed hash by the time it first arrived, grouped
// into per-instant buckets so Prune can evict everything older than its
// lifespan in one forward sweep rather than scanning every hash.
type History struct {
	mu       sync.Mutex
	lifespan time.Duration
	byHash   map[string]time.Time
	byTime   map[time.Time]*bucket
	order    []*bucket // ascending by time; time.Now() is non-decreasing so appends stay sorted
}

// New builds an empty History that considers an entry expired once it is
// older than lifespan.
func New(lifespan time.Duration) *History {
	return &History{
		lifespan: lifespan,
		byHash:   make(map[string]time.Time),
		byTime:   make(map[time.Time]*bucket),
	}
}

// Insert records hash as observed now and reports whether it was already
// present and not yet expired (a duplicate). An expired entry is treated
// as new: it is moved into a fresh time bucket and Insert returns false.
func (h *History) Insert(hash core.Multihash) bool {
	key := string(hash)
	now := time.Now()

	h.mu.Lock()
	defer h.mu.Unlock()

	if ts, ok := h.byHash[key]; ok {
		if now.Sub(ts) > h.lifespan {
			h.removeFromBucket(ts, key)
			h.addToBucket(now, key)
			h.byHash[key] = now
			return false
		}
		return true
	}

	h.addToBucket(now, key)
	h.byHash[key] = now
	return false
}

// Prune walks buckets oldest-first, evicting every hash in a bucket older
// than now-lifespan, and stops at the first bucket that isn't expired yet.
func (h *History) Prune() {
	now := time.Now()
	cutoff := now.Add(-h.lifespan)

	h.mu.Lock()
	defer h.mu.Unlock()

	i := 0
	for i < len(h.order) && h.order[i].at.Before(cutoff) {
		b := h.order[i]
		for key := range b.members {
			delete(h.byHash, key)
		}
		delete(h.byTime, b.at)
		i++
	}
	h.order = h.order[i:]
}

func (h *History) addToBucket(at time.Time, key string) {
	b, ok := h.byTime[at]
	if !ok {
		b = &bucket{at: at, members: make(map[string]struct{})}
		h.byTime[at] = b
		h.order = append(h.order, b)
	}
	b.members[key] = struct{}{}
}

func (h *History) removeFromBucket(at time.Time, key string) {
	b, ok := h.byTime[at]
	if !ok {
		return
	}
	delete(b.members, key)
	if len(b.members) == 0 {
		delete(h.byTime, at)
		for i, candidate := range h.order {
			if candidate == b {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
}

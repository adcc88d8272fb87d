package bus

import (
	"sync"
	"time"
)

// DedupeCache remembers recently seen inbound message keys so webhook retries
// and double taps do not dispatch twice. Safe for concurrent use.
type DedupeCache struct {
	ttl     time.Duration
	maxSize int
	now     func() time.Time

	mu      sync.Mutex
	entries map[string]time.Time
}

// NewDedupeCache creates a cache that forgets keys after ttl and never tracks more than maxSize keys.
func NewDedupeCache(ttl time.Duration, maxSize int) *DedupeCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &DedupeCache{
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
		entries: make(map[string]time.Time),
	}
}

// Seen records key and reports whether it was already present and unexpired.
func (d *DedupeCache) Seen(key string) bool {
	if key == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if at, ok := d.entries[key]; ok && now.Sub(at) < d.ttl {
		return true
	}

	if len(d.entries) >= d.maxSize {
		d.pruneLocked(now)
	}
	d.entries[key] = now
	return false
}

func (d *DedupeCache) pruneLocked(now time.Time) {
	for k, at := range d.entries {
		if now.Sub(at) >= d.ttl {
			delete(d.entries, k)
		}
	}
	// Hard eviction if still at cap.
	for len(d.entries) >= d.maxSize {
		var oldestKey string
		var oldest time.Time
		for k, at := range d.entries {
			if oldestKey == "" || at.Before(oldest) {
				oldestKey, oldest = k, at
			}
		}
		delete(d.entries, oldestKey)
	}
}

// DedupeKey builds the cache key for an inbound message.
func DedupeKey(msg InboundMessage) string {
	if msg.ID == "" {
		return ""
	}
	return msg.Channel + ":" + msg.ChatID + ":" + msg.ID
}

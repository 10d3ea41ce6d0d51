// Package cache provides the TTL entry store shared by aggregation
// services. Entries carry their own storage timestamp; freshness policy
// belongs to the caller.
package cache

import "time"

// Entry is one cached payload with the time it was stored.
type Entry struct {
	Payload  []byte    `json:"payload"`
	StoredAt time.Time `json:"storedAt"`
}

// Age returns how old the entry is relative to now.
func (e Entry) Age(now time.Time) time.Duration {
	return now.Sub(e.StoredAt)
}

// Store is the injected cache service. Implementations must be safe for
// concurrent use; concurrent misses on the same key may race to Put and
// the last write wins.
type Store interface {
	Get(key string) (Entry, bool)
	Put(key string, entry Entry)
}

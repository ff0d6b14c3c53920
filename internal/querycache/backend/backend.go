// Package backend persists successful query payloads outside the process so
// a restarted gateway can serve them before the first network round-trip.
// Entries are indexed by tag; invalidation deletes by tag.
package backend

import (
	"context"
	"encoding/json"
	"time"
)

// Entry is one persisted payload. Raw holds the exact envelope bytes.
type Entry struct {
	Endpoint  string          `json:"endpoint"`
	Raw       json.RawMessage `json:"raw,omitempty"`
	Tags      []string        `json:"tags,omitempty"`
	StoredAt  time.Time       `json:"storedAt"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Store is a persisted payload store.
type Store interface {
	Lookup(ctx context.Context, key string) (Entry, bool, error)
	Store(ctx context.Context, key string, entry Entry) error
	// DeleteTags removes every entry indexed under any of tags and reports
	// how many keys were removed.
	DeleteTags(ctx context.Context, tags ...string) (int, error)
	Size(ctx context.Context) (int64, error)
	Close(ctx context.Context) error
}

func stamp(entry Entry, ttl time.Duration) Entry {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now().UTC()
	}
	if entry.ExpiresAt.IsZero() || entry.ExpiresAt.Before(entry.StoredAt) {
		entry.ExpiresAt = entry.StoredAt.Add(ttl)
	}
	return entry
}

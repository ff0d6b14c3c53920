package backend

import (
	"context"
	"slices"
	"sync"
	"time"
)

type memoryStore struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]Entry
	byTag   map[string]map[string]struct{}
}

// NewMemory returns an in-process store. A non-positive ttl defaults to five minutes.
func NewMemory(ttl time.Duration) Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &memoryStore{
		ttl:     ttl,
		entries: make(map[string]Entry),
		byTag:   make(map[string]map[string]struct{}),
	}
}

func (m *memoryStore) Lookup(_ context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[key]
	if !ok {
		return Entry{}, false, nil
	}
	if time.Now().After(entry.ExpiresAt) {
		m.removeLocked(key)
		return Entry{}, false, nil
	}
	return cloneEntry(entry), true, nil
}

func (m *memoryStore) Store(_ context.Context, key string, entry Entry) error {
	entry = stamp(entry, m.ttl)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeLocked(key)
	m.entries[key] = cloneEntry(entry)
	for _, tag := range entry.Tags {
		keys, ok := m.byTag[tag]
		if !ok {
			keys = make(map[string]struct{})
			m.byTag[tag] = keys
		}
		keys[key] = struct{}{}
	}
	return nil
}

func (m *memoryStore) DeleteTags(_ context.Context, tags ...string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	removed := 0
	for _, tag := range tags {
		for key := range m.byTag[tag] {
			if _, ok := m.entries[key]; ok {
				m.removeLocked(key)
				removed++
			}
		}
		delete(m.byTag, tag)
	}
	return removed, nil
}

func (m *memoryStore) Size(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries)), nil
}

func (m *memoryStore) Close(context.Context) error {
	return nil
}

func (m *memoryStore) removeLocked(key string) {
	entry, ok := m.entries[key]
	if !ok {
		return
	}
	delete(m.entries, key)
	for _, tag := range entry.Tags {
		if keys, ok := m.byTag[tag]; ok {
			delete(keys, key)
			if len(keys) == 0 {
				delete(m.byTag, tag)
			}
		}
	}
}

func cloneEntry(in Entry) Entry {
	out := in
	out.Raw = slices.Clone(in.Raw)
	out.Tags = slices.Clone(in.Tags)
	return out
}

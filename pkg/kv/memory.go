package kv

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-memory Store for tests and local development. It honors
// TTLs lazily: expired entries are dropped when read or listed, so no
// background sweeper is needed.
type Memory struct {
	mu    sync.RWMutex
	items map[string]memoryItem
}

type memoryItem struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{items: make(map[string]memoryItem)}
}

func (m *Memory) Get(ctx context.Context, key string) ([]byte, bool, error) {
	m.mu.RLock()
	item, ok := m.items[key]
	m.mu.RUnlock()

	if !ok {
		return nil, false, nil
	}
	if item.expired(time.Now()) {
		m.mu.Lock()
		delete(m.items, key)
		m.mu.Unlock()
		return nil, false, nil
	}

	// Copy so callers cannot mutate stored bytes.
	value := make([]byte, len(item.value))
	copy(value, item.value)
	return value, true, nil
}

func (m *Memory) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	item := memoryItem{value: make([]byte, len(value))}
	copy(item.value, value)
	if ttl > 0 {
		item.expiresAt = time.Now().Add(ttl)
	}

	m.mu.Lock()
	m.items[key] = item
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) List(ctx context.Context, prefix, cursor string, limit int) (Page, error) {
	if limit <= 0 {
		return Page{}, nil
	}
	if cursor != "" && !strings.HasPrefix(cursor, prefix) {
		return Page{}, ErrInvalidCursor
	}

	now := time.Now()

	m.mu.RLock()
	keys := make([]string, 0, len(m.items))
	for key, item := range m.items {
		if !strings.HasPrefix(key, prefix) || item.expired(now) {
			continue
		}
		// Resume strictly after the cursor position.
		if cursor != "" && key <= cursor {
			continue
		}
		keys = append(keys, key)
	}
	m.mu.RUnlock()

	sort.Strings(keys)

	page := Page{}
	for _, key := range keys {
		if len(page.Entries) == limit {
			page.Cursor = page.Entries[limit-1].Key
			break
		}

		m.mu.RLock()
		item, ok := m.items[key]
		m.mu.RUnlock()
		if !ok || item.expired(now) {
			continue
		}

		value := make([]byte, len(item.value))
		copy(value, item.value)
		page.Entries = append(page.Entries, Entry{Key: key, Value: value})
	}

	return page, nil
}

func (i memoryItem) expired(now time.Time) bool {
	return !i.expiresAt.IsZero() && i.expiresAt.Before(now)
}

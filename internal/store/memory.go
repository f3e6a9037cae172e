package store

import (
	"sync"
	"time"

	"github.com/ferg-cod3s/tableside/kiosk/internal/clock"
	"github.com/ferg-cod3s/tableside/kiosk/pkg/types"
)

type memoryEntry struct {
	value   string
	expires time.Time
}

// MemoryStore implements Store in process memory
type MemoryStore struct {
	codec     Codec
	retention time.Duration
	clock     clock.Clock
	entries   map[string]memoryEntry
	mu        sync.Mutex
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore(codec Codec, retention time.Duration, clk clock.Clock) *MemoryStore {
	if clk == nil {
		clk = clock.Real()
	}
	return &MemoryStore{
		codec:     codec,
		retention: retention,
		clock:     clk,
		entries:   make(map[string]memoryEntry),
	}
}

func (ms *MemoryStore) Save(id string, data *types.Session) error {
	value, err := encodeEntry(ms.codec, id, data)
	if err != nil {
		return err
	}

	expires := ms.clock.Now().Add(ms.retention)

	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[SessionIDKey] = memoryEntry{value: id, expires: expires}
	ms.entries[SessionDataKey] = memoryEntry{value: value, expires: expires}
	return nil
}

func (ms *MemoryStore) Load() (string, *types.Session, error) {
	now := ms.clock.Now()

	ms.mu.Lock()
	id := ms.live(SessionIDKey, now)
	value := ms.live(SessionDataKey, now)
	ms.mu.Unlock()

	return decodeEntries(ms.codec, id, value)
}

func (ms *MemoryStore) Clear() error {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries = make(map[string]memoryEntry)
	return nil
}

func (ms *MemoryStore) Close() error {
	return nil
}

// Put stores a raw entry. Used to simulate partial or tampered state.
func (ms *MemoryStore) Put(key, value string) {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	ms.entries[key] = memoryEntry{value: value, expires: ms.clock.Now().Add(ms.retention)}
}

func (ms *MemoryStore) live(key string, now time.Time) string {
	e, ok := ms.entries[key]
	if !ok || !now.Before(e.expires) {
		delete(ms.entries, key)
		return ""
	}
	return e.value
}

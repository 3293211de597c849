package objstore

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is a map-backed Store for tests, the e2e suite, and offline
// experiments. It honors the same contract as the S3 adapter: full listings,
// unconditional overwrites, idempotent deletes.
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]memoryObject
	now     func() time.Time
}

type memoryObject struct {
	payload     []byte
	contentType string
	meta        map[string]string
	modified    time.Time
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		objects: make(map[string]memoryObject),
		now:     time.Now,
	}
}

// List returns all objects under prefix, sorted by key. Sorting is a
// convenience for debugging; the engine never relies on listing order.
func (m *MemoryStore) List(_ context.Context, prefix string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	records := make([]Record, 0, len(m.objects))

	for key, obj := range m.objects {
		if !strings.HasPrefix(key, prefix) {
			continue
		}

		records = append(records, m.record(key, obj))
	}

	sort.Slice(records, func(i, j int) bool { return records[i].Key < records[j].Key })

	return records, nil
}

// Put stores payload under key, overwriting any previous object.
func (m *MemoryStore) Put(_ context.Context, key string, payload []byte, contentType string, meta map[string]string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := make([]byte, len(payload))
	copy(stored, payload)

	metaCopy := make(map[string]string, len(meta))
	for k, v := range meta {
		metaCopy[k] = v
	}

	m.objects[key] = memoryObject{
		payload:     stored,
		contentType: contentType,
		meta:        metaCopy,
		modified:    m.now(),
	}

	return nil
}

// Get returns the payload and record for key, or ErrNotFound.
func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	obj, ok := m.objects[key]
	if !ok {
		return nil, Record{}, ErrNotFound
	}

	payload := make([]byte, len(obj.payload))
	copy(payload, obj.payload)

	return payload, m.record(key, obj), nil
}

// Delete removes key. Deleting an absent key is success.
func (m *MemoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.objects, key)

	return nil
}

// Len reports the number of stored objects.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.objects)
}

// Keys returns all stored keys, sorted. Test helper.
func (m *MemoryStore) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func (m *MemoryStore) record(key string, obj memoryObject) Record {
	return Record{
		Key:          key,
		DisplayName:  obj.meta[MetaDisplayName],
		ContentType:  obj.contentType,
		Size:         int64(len(obj.payload)),
		LastModified: obj.modified,
		ContentHash:  obj.meta[MetaContentHash],
	}
}

// Compile-time interface check.
var _ Store = (*MemoryStore)(nil)

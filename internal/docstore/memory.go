package docstore

import (
	"context"
	"maps"
	"sync"
)

// Memory is an in-process Writer and Reader with merge semantics.
type Memory struct {
	mu     sync.Mutex
	docs   map[string]map[string]map[string]any // collection -> id -> doc
	err    error
	writes int
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]map[string]map[string]any)}
}

// SetMerge implements Writer.
func (m *Memory) SetMerge(ctx context.Context, collection, id string, doc map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	coll, ok := m.docs[collection]
	if !ok {
		coll = make(map[string]map[string]any)
		m.docs[collection] = coll
	}
	cur, ok := coll[id]
	if !ok {
		cur = make(map[string]any, len(doc))
		coll[id] = cur
	}
	maps.Copy(cur, doc)
	m.writes++
	return nil
}

// Get implements Reader. The returned map is a copy.
func (m *Memory) Get(_ context.Context, collection, id string) (map[string]any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(doc), nil
}

// SetErr makes subsequent writes fail with err, or succeed again when err is nil.
func (m *Memory) SetErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Len returns the number of documents in collection.
func (m *Memory) Len(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs[collection])
}

// Writes returns the number of successful SetMerge calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

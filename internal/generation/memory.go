package generation

import (
	"context"
	"sort"
	"sync"
)

// Compile-time checks that MemoryStore implements both stores.
var (
	_ JobStore     = (*MemoryStore)(nil)
	_ SegmentStore = (*MemoryStore)(nil)
)

// MemoryStore is an in-memory implementation of JobStore and SegmentStore.
// It uses maps guarded by an RWMutex and stores clones.
type MemoryStore struct {
	mu          sync.RWMutex
	generations map[string]*Generation
	segments    map[string]*Segment
	byJob       map[string][]string
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		generations: make(map[string]*Generation),
		segments:    make(map[string]*Segment),
		byJob:       make(map[string][]string),
	}
}

// Save persists a generation.
// Creates a clone to avoid external mutations.
func (m *MemoryStore) Save(_ context.Context, g *Generation) error {
	c := g.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.generations[c.ID] = c
	return nil
}

// FindByID retrieves a generation by its ID.
// Returns a clone to prevent external mutations.
func (m *MemoryStore) FindByID(_ context.Context, id string) (*Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.generations[id]
	if !ok {
		return nil, ErrGenerationNotFound
	}
	return g.Clone(), nil
}

// ListByUser returns a user's generations, newest first.
func (m *MemoryStore) ListByUser(_ context.Context, userID string) ([]*Generation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Generation, 0)
	for _, g := range m.generations {
		if g.UserID == userID {
			result = append(result, g.Clone())
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

// SaveSegments stores new segments.
func (m *MemoryStore) SaveSegments(_ context.Context, segments []*Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range segments {
		if _, exists := m.segments[s.ID]; !exists {
			m.byJob[s.GenerationID] = append(m.byJob[s.GenerationID], s.ID)
		}
		m.segments[s.ID] = s.Clone()
	}
	return nil
}

// UpdateSegment replaces a stored segment.
func (m *MemoryStore) UpdateSegment(_ context.Context, s *Segment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.segments[s.ID]; !ok {
		return ErrSegmentNotFound
	}
	m.segments[s.ID] = s.Clone()
	return nil
}

// ListSegments returns a generation's segments ordered by index.
func (m *MemoryStore) ListSegments(_ context.Context, generationID string) ([]*Segment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byJob[generationID]
	result := make([]*Segment, 0, len(ids))
	for _, sid := range ids {
		result = append(result, m.segments[sid].Clone())
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Index < result[j].Index
	})
	return result, nil
}

package cases

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrNotFound is returned by Update when no case exists for the id.
var ErrNotFound = errors.New("case not found")

// Mutator applies an in-place change to a case inside an atomic update.
type Mutator func(*Case) error

// Store is durable keyed persistence for cases. Create is idempotent and
// Update is an atomic read-modify-write; both bump LastUpdated. Mutating
// operations for the same id are serialized by the implementation.
type Store interface {
	Get(ctx context.Context, id string) (Case, bool, error)
	Create(ctx context.Context, id string) (Case, error)
	Update(ctx context.Context, id string, fn Mutator) (Case, error)
	ListAll(ctx context.Context) ([]Case, error)
}

// MemoryStore is an in-process Store used in tests and as the zero-config
// fallback.
type MemoryStore struct {
	factory Factory

	mu    sync.Mutex
	cases map[string]Case
}

func NewMemoryStore(factory Factory) *MemoryStore {
	return &MemoryStore{
		factory: factory,
		cases:   make(map[string]Case),
	}
}

func (s *MemoryStore) Get(_ context.Context, id string) (Case, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, false, nil
	}
	return c.Clone(), true, nil
}

func (s *MemoryStore) Create(_ context.Context, id string) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cases[id]; ok {
		return c.Clone(), nil
	}
	c := s.factory(id)
	s.cases[id] = c
	return c.Clone(), nil
}

func (s *MemoryStore) Update(_ context.Context, id string, fn Mutator) (Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return Case{}, ErrNotFound
	}
	next := c.Clone()
	if err := fn(&next); err != nil {
		return Case{}, err
	}
	next.LastUpdated = time.Now().UTC()
	s.cases[id] = next
	return next.Clone(), nil
}

func (s *MemoryStore) ListAll(_ context.Context) ([]Case, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Case, 0, len(s.cases))
	for _, c := range s.cases {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

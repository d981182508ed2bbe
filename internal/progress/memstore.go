package progress

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemStore keeps records in memory. It backs tests and dry runs.
type MemStore struct {
	mu      sync.Mutex
	records map[string]Record
	commits int
}

func NewMemStore() *MemStore {
	return &MemStore{records: make(map[string]Record)}
}

func (s *MemStore) Load(ctx context.Context, name string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[name]
	if !ok {
		return Record{}, false, nil
	}
	return rec.Clone(), true, nil
}

func (s *MemStore) Commit(ctx context.Context, name string, mut Mutation) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next, err := apply(s.records[name], name, mut, time.Now().UTC())
	if err != nil {
		return Record{}, err
	}
	s.records[name] = next
	s.commits++
	return next.Clone(), nil
}

func (s *MemStore) All(ctx context.Context) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Record, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Commits reports how many mutations were applied, for tests.
func (s *MemStore) Commits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *MemStore) Close(ctx context.Context) error { return nil }

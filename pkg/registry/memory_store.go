package registry

import (
	"context"
	"sync"

	"github.com/shouni/go-comic-kit/pkg/domain"
)

// MemoryStore はプロセス内だけで完結する Store です。
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.PanelRecord
}

// NewMemoryStore は空の MemoryStore を返します。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]domain.PanelRecord)}
}

func (s *MemoryStore) Load(_ context.Context) (map[string]domain.PanelRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.PanelRecord, len(s.records))
	for k, v := range s.records {
		out[k] = v
	}
	return out, nil
}

func (s *MemoryStore) Get(_ context.Context, key string) (domain.PanelRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok, nil
}

func (s *MemoryStore) Modify(_ context.Context, key string, fn ModifyFunc) (domain.PanelRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.records[key]
	next, write := fn(cur, ok)
	if !write {
		return cur, nil
	}
	s.records[key] = next
	return next, nil
}

func (s *MemoryStore) Reset(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = make(map[string]domain.PanelRecord)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

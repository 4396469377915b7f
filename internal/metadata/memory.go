package metadata

import (
	"context"
	"sync"
	"time"

	"github.com/soltixdb/gridcat/internal/models"
)

// MemoryStore keeps state for the lifetime of the process
type MemoryStore struct {
	mu         sync.RWMutex
	defs       []models.DatasetDefinition
	saved      bool
	lastUpdate time.Time
}

// NewMemoryStore creates an empty memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) LoadDefinitions(ctx context.Context) ([]models.DatasetDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.saved {
		return nil, ErrNoDefinitions
	}
	return cloneDefinitions(s.defs), nil
}

func (s *MemoryStore) SaveDefinitions(ctx context.Context, defs []models.DatasetDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs = cloneDefinitions(defs)
	s.saved = true
	return nil
}

func (s *MemoryStore) LastUpdateTime(ctx context.Context) (time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdate, nil
}

func (s *MemoryStore) SetLastUpdateTime(ctx context.Context, t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastUpdate = t
	return nil
}

func (s *MemoryStore) Close() error { return nil }

package grantstore

import (
	"context"
	"sync"

	"github.com/wasmcmd-dev/wasmcmd/domain/entities"
	"github.com/wasmcmd-dev/wasmcmd/domain/ports"
)

// MemoryStore keeps decisions in memory. Used for ephemeral runs and
// in tests.
type MemoryStore struct {
	mu        sync.RWMutex
	decisions map[entities.DecisionKey]entities.Decision
	hashes    map[string]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		decisions: map[entities.DecisionKey]entities.Decision{},
		hashes:    map[string]string{},
	}
}

var _ ports.GrantStore = (*MemoryStore)(nil)

func (s *MemoryStore) Get(_ context.Context, key entities.DecisionKey) (entities.Decision, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.decisions[key]
	return d, ok, nil
}

func (s *MemoryStore) Put(_ context.Context, decision entities.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decisions[decision.Key()] = decision
	return nil
}

func (s *MemoryStore) SubjectHash(_ context.Context, subject string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.hashes[subject]
	return h, ok, nil
}

func (s *MemoryStore) SetSubjectHash(_ context.Context, subject, hash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hashes[subject] = hash
	return nil
}

func (s *MemoryStore) DropSubject(_ context.Context, subject string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.decisions {
		if key.Subject == subject {
			delete(s.decisions, key)
		}
	}
	delete(s.hashes, subject)
	return nil
}

func (s *MemoryStore) List(_ context.Context) ([]entities.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]entities.Decision, 0, len(s.decisions))
	for _, d := range s.decisions {
		out = append(out, d)
	}
	return out, nil
}

package memory

import (
	"context"
	"sort"
	"sync"

	"quiz-progress-service/internal/domain"
)

// StateStore is an in-memory implementation of app.StateRepository.
type StateStore struct {
	mu     sync.RWMutex
	states map[string]domain.UserProgressState
}

func NewStateStore() *StateStore {
	return &StateStore{
		states: make(map[string]domain.UserProgressState),
	}
}

func (s *StateStore) Load(_ context.Context, userID string) (domain.UserProgressState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.states[userID]
	if !ok {
		return domain.UserProgressState{}, domain.ErrStateNotFound
	}
	return state.Clone(), nil
}

func (s *StateStore) Save(_ context.Context, state domain.UserProgressState, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored int64
	if current, ok := s.states[state.UserID]; ok {
		stored = current.Version
	}
	if stored != expectedVersion {
		return domain.ErrConcurrentUpdate
	}
	s.states[state.UserID] = state.Clone()
	return nil
}

func (s *StateStore) Delete(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, userID)
	return nil
}

func (s *StateStore) UserIDs(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

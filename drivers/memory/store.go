package memory

import (
	"context"
	"sync"
	"time"

	"github.com/rediwo/redi-migrate/schema"
	"github.com/rediwo/redi-migrate/state"
	"github.com/rediwo/redi-migrate/types"
)

// StateStore keeps engine state in memory.
type StateStore struct {
	mu       sync.Mutex
	schema   schema.State
	progress *state.Progress
	history  []state.AppliedRecord
	seq      int64
	owner    string
	until    time.Time
	now      func() time.Time
}

// NewStateStore creates an empty state store.
func NewStateStore() *StateStore {
	return &StateStore{schema: schema.State{}, now: time.Now}
}

var _ state.Store = (*StateStore)(nil)

func (s *StateStore) LoadSchema(context.Context) (schema.State, *state.Progress, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var p *state.Progress
	if s.progress != nil {
		cp := *s.progress
		p = &cp
	}
	return s.schema.Clone(), p, nil
}

func (s *StateStore) SaveSchema(_ context.Context, st schema.State, p *state.Progress) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.schema = st.Clone()
	s.progress = nil
	if p != nil {
		cp := *p
		s.progress = &cp
	}
	return nil
}

func (s *StateStore) AppliedMigrations(context.Context) ([]state.AppliedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]state.AppliedRecord(nil), s.history...), nil
}

func (s *StateStore) MarkApplied(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if state.IsApplied(s.history, name) {
		return types.GraphErrorf("migration %s is already applied", name)
	}
	s.seq++
	s.history = append(s.history, state.AppliedRecord{Name: name, AppliedAt: s.now().UTC(), Seq: s.seq})
	return nil
}

func (s *StateStore) MarkUnapplied(_ context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, r := range s.history {
		if r.Name == name {
			s.history = append(s.history[:i], s.history[i+1:]...)
			return nil
		}
	}
	return types.GraphErrorf("migration %s is not applied", name)
}

func (s *StateStore) AcquireLock(_ context.Context, owner string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if s.owner != "" && s.owner != owner && now.Before(s.until) {
		return state.LockHeldError(s.owner, s.until)
	}
	s.owner, s.until = owner, now.Add(ttl)
	return nil
}

func (s *StateStore) ReleaseLock(_ context.Context, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.owner == owner {
		s.owner, s.until = "", time.Time{}
	}
	return nil
}

func (s *StateStore) Close(context.Context) error { return nil }

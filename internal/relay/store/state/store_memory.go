package state

import (
	"context"
	"sync"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
)

// InMemory tracks each principal's interaction mode. Modes are transient and
// are not expected to survive a restart.
type InMemory struct {
	mu      sync.Mutex
	entries map[id.Principal]*entry
}

// entry is a per-principal slot. lock is a 1-buffered channel so waiting for
// it can be abandoned when the caller's context ends.
type entry struct {
	lock  chan struct{}
	state models.InteractionState
}

// NewInMemory constructs an empty state store.
func NewInMemory() *InMemory {
	return &InMemory{entries: make(map[id.Principal]*entry)}
}

func (s *InMemory) entry(principal id.Principal) *entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[principal]
	if !ok {
		e = &entry{lock: make(chan struct{}, 1), state: models.Idle()}
		s.entries[principal] = e
	}
	return e
}

// Transition runs fn with the principal's current state while holding that
// principal's lock, then stores the state fn returns. Events for one principal
// are therefore handled one at a time. When fn fails the state is left as it was.
func (s *InMemory) Transition(ctx context.Context, principal id.Principal, fn func(current models.InteractionState) (models.InteractionState, error)) error {
	e := s.entry(principal)
	select {
	case e.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-e.lock }()

	next, err := fn(e.state)
	if err != nil {
		return err
	}
	e.state = next
	return nil
}

// Get returns the principal's current state (Idle if never set).
func (s *InMemory) Get(ctx context.Context, principal id.Principal) (models.InteractionState, error) {
	var current models.InteractionState
	err := s.Transition(ctx, principal, func(st models.InteractionState) (models.InteractionState, error) {
		current = st
		return st, nil
	})
	return current, err
}

// Reset puts the principal back to Idle.
func (s *InMemory) Reset(ctx context.Context, principal id.Principal) error {
	return s.Transition(ctx, principal, func(models.InteractionState) (models.InteractionState, error) {
		return models.Idle(), nil
	})
}

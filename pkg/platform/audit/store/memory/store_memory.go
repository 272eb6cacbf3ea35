package memory

import (
	"context"
	"sort"
	"sync"

	id "relay/pkg/domain"
	audit "relay/pkg/platform/audit"
)

type InMemoryStore struct {
	mu     sync.RWMutex
	events map[id.IdentityID][]audit.Event
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{events: make(map[id.IdentityID][]audit.Event)}
}

func (s *InMemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = make(map[id.IdentityID][]audit.Event)
}

// Append records an event. System events (purges) are keyed by the nil identity.
func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.Identity] = append(s.events[event.Identity], event)
	return nil
}

func (s *InMemoryStore) ListByIdentity(_ context.Context, identity id.IdentityID) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.events[identity]...), nil
}

// ListAll returns every event ordered by timestamp, oldest first.
func (s *InMemoryStore) ListAll(_ context.Context) ([]audit.Event, error) {
	s.mu.RLock()
	var all []audit.Event
	for _, events := range s.events {
		all = append(all, events...)
	}
	s.mu.RUnlock()

	sort.SliceStable(all, func(i, j int) bool {
		return all[i].Timestamp.Before(all[j].Timestamp)
	})
	return all, nil
}

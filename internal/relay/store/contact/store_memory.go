package contact

import (
	"context"
	"slices"
	"sync"

	id "relay/pkg/domain"
)

// InMemory holds each owner's contacts behind that owner's own lock, so adds
// from one owner never serialize behind another owner's.
type InMemory struct {
	mu    sync.RWMutex
	lists map[id.IdentityID]*contactList
}

type contactList struct {
	mu      sync.Mutex
	ordered []id.IdentityID
	members map[id.IdentityID]struct{}
}

// NewInMemory constructs an empty directory.
func NewInMemory() *InMemory {
	return &InMemory{lists: make(map[id.IdentityID]*contactList)}
}

func (s *InMemory) list(owner id.IdentityID, create bool) *contactList {
	s.mu.RLock()
	l := s.lists[owner]
	s.mu.RUnlock()
	if l != nil || !create {
		return l
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if l = s.lists[owner]; l == nil {
		l = &contactList{members: make(map[id.IdentityID]struct{})}
		s.lists[owner] = l
	}
	return l
}

// Add appends target to owner's contacts. Returns false when it was already present.
// Self and existence checks belong to the caller.
func (s *InMemory) Add(_ context.Context, owner, target id.IdentityID) (bool, error) {
	l := s.list(owner, true)
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.members[target]; ok {
		return false, nil
	}
	l.members[target] = struct{}{}
	l.ordered = append(l.ordered, target)
	return true, nil
}

// List returns owner's contacts in insertion order.
func (s *InMemory) List(_ context.Context, owner id.IdentityID) ([]id.IdentityID, error) {
	l := s.list(owner, false)
	if l == nil {
		return []id.IdentityID{}, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.ordered), nil
}

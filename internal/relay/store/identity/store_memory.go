package identity

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

// Error Contract:
// - Resolve returns ErrNotFound when the identity is unknown
// - Identify never returns ErrNotFound; it creates on first contact
// - ErrInvalidState means the principal/identity bijection is broken
//
// InMemory keeps the forward (identity→record) and reverse (principal→identity)
// indexes under one lock so they can never disagree.
type InMemory struct {
	mu          sync.RWMutex
	byIdentity  map[id.IdentityID]*models.UserRecord
	byPrincipal map[id.Principal]id.IdentityID
	// sorted canonical identity strings for prefix lookup
	sorted []string
	newID  func() (id.IdentityID, error)
	now    func() time.Time
}

// Option configures an InMemory registry.
type Option func(*InMemory)

// WithIDGenerator overrides identity generation (tests use it to force prefix collisions).
func WithIDGenerator(gen func() (id.IdentityID, error)) Option {
	return func(s *InMemory) {
		s.newID = gen
	}
}

// WithClock overrides the creation timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *InMemory) {
		s.now = now
	}
}

// NewInMemory constructs an empty registry.
func NewInMemory(opts ...Option) *InMemory {
	s := &InMemory{
		byIdentity:  make(map[id.IdentityID]*models.UserRecord),
		byPrincipal: make(map[id.Principal]id.IdentityID),
		newID:       id.NewIdentityID,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identify returns the identity bound to principal, creating one on first contact.
// The bool reports whether this call created it.
func (s *InMemory) Identify(_ context.Context, principal id.Principal) (*models.UserRecord, bool, error) {
	s.mu.RLock()
	if identity, ok := s.byPrincipal[principal]; ok {
		record := s.byIdentity[identity]
		s.mu.RUnlock()
		if record == nil {
			return nil, false, fmt.Errorf("principal indexed without record: %w", sentinel.ErrInvalidState)
		}
		return copyRecord(record), false, nil
	}
	s.mu.RUnlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	// re-check: another goroutine may have won the race while we waited
	if identity, ok := s.byPrincipal[principal]; ok {
		return copyRecord(s.byIdentity[identity]), false, nil
	}

	var identity id.IdentityID
	for {
		candidate, err := s.newID()
		if err != nil {
			return nil, false, fmt.Errorf("generate identity: %w", err)
		}
		if _, taken := s.byIdentity[candidate]; !taken {
			identity = candidate
			break
		}
	}

	record := &models.UserRecord{
		Identity:  identity,
		Principal: principal,
		CreatedAt: s.now(),
	}
	s.byIdentity[identity] = record
	s.byPrincipal[principal] = identity

	key := identity.String()
	i := sort.SearchStrings(s.sorted, key)
	s.sorted = slices.Insert(s.sorted, i, key)

	return copyRecord(record), true, nil
}

// Lookup returns the identity bound to principal without creating one.
func (s *InMemory) Lookup(_ context.Context, principal id.Principal) (id.IdentityID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	identity, ok := s.byPrincipal[principal]
	if !ok {
		return id.IdentityID{}, fmt.Errorf("principal not registered: %w", sentinel.ErrNotFound)
	}
	return identity, nil
}

// Resolve returns the record for identity.
func (s *InMemory) Resolve(_ context.Context, identity id.IdentityID) (*models.UserRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.byIdentity[identity]
	if !ok {
		return nil, fmt.Errorf("identity not found: %w", sentinel.ErrNotFound)
	}
	return copyRecord(record), nil
}

// ResolvePrefix returns up to limit identities whose canonical form starts with prefix,
// in lexicographic order. An empty prefix matches nothing.
func (s *InMemory) ResolvePrefix(_ context.Context, prefix string, limit int) ([]id.IdentityID, error) {
	prefix = strings.ToLower(prefix)
	if prefix == "" || limit <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []id.IdentityID
	for i := sort.SearchStrings(s.sorted, prefix); i < len(s.sorted) && len(out) < limit; i++ {
		if !strings.HasPrefix(s.sorted[i], prefix) {
			break
		}
		parsed, err := id.ParseIdentityID(s.sorted[i])
		if err != nil {
			return nil, fmt.Errorf("corrupt prefix index entry %q: %w", s.sorted[i], sentinel.ErrInvalidState)
		}
		out = append(out, parsed)
	}
	return out, nil
}

// Count returns the number of registered identities.
func (s *InMemory) Count(_ context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byIdentity), nil
}

// CheckConsistency verifies the principal/identity bijection. Tests call it
// after concurrent workloads; a failure means the store is corrupt.
func (s *InMemory) CheckConsistency() error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.byIdentity) != len(s.byPrincipal) || len(s.byIdentity) != len(s.sorted) {
		return fmt.Errorf("index sizes differ: identities=%d principals=%d sorted=%d: %w",
			len(s.byIdentity), len(s.byPrincipal), len(s.sorted), sentinel.ErrInvalidState)
	}
	for principal, identity := range s.byPrincipal {
		record, ok := s.byIdentity[identity]
		if !ok || record.Principal != principal {
			return fmt.Errorf("principal %q not mirrored by identity %s: %w", principal, identity, sentinel.ErrInvalidState)
		}
	}
	return nil
}

func copyRecord(r *models.UserRecord) *models.UserRecord {
	c := *r
	c.Contacts = nil
	return &c
}

package service

import (
	"context"
	"errors"
	"strings"

	id "relay/pkg/domain"
	"relay/pkg/platform/sentinel"
)

// Identity resolution policy:
//   - a well-formed identity must match exactly; it is never treated as a prefix
//   - otherwise, when prefix matching is on, a prefix of at least prefixMinLen
//     characters resolves only if exactly one identity starts with it
//   - empty, short and ambiguous inputs resolve to nothing
//
// Resolution never guesses between candidates.

// resolveTarget maps free-text input to a registered identity. The nil
// identity means nothing matched.
func (s *Service) resolveTarget(ctx context.Context, input string) (id.IdentityID, error) {
	input = normalizeInput(input)
	if input == "" {
		return id.IdentityID{}, nil
	}

	if exact, err := id.ParseIdentityID(input); err == nil {
		if _, err := s.identities.Resolve(ctx, exact); err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return id.IdentityID{}, nil
			}
			return id.IdentityID{}, storeError(err, "failed to resolve identity")
		}
		return exact, nil
	}

	if !s.prefixAllowed(input) {
		return id.IdentityID{}, nil
	}
	// two is enough to tell unique from ambiguous
	candidates, err := s.identities.ResolvePrefix(ctx, input, 2)
	if err != nil {
		return id.IdentityID{}, storeError(err, "failed to resolve identity prefix")
	}
	if len(candidates) != 1 {
		return id.IdentityID{}, nil
	}
	return candidates[0], nil
}

// matchContact applies the same policy against the caller's contact list.
func (s *Service) matchContact(contacts []id.IdentityID, input string) (id.IdentityID, bool) {
	input = normalizeInput(input)
	if input == "" {
		return id.IdentityID{}, false
	}

	if exact, err := id.ParseIdentityID(input); err == nil {
		for _, c := range contacts {
			if c == exact {
				return c, true
			}
		}
		return id.IdentityID{}, false
	}

	if !s.prefixAllowed(input) {
		return id.IdentityID{}, false
	}
	var match id.IdentityID
	found := 0
	for _, c := range contacts {
		if strings.HasPrefix(c.String(), input) {
			match = c
			found++
		}
	}
	return match, found == 1
}

func (s *Service) prefixAllowed(input string) bool {
	return s.prefixMatch && len(input) >= s.prefixMinLen
}

func normalizeInput(input string) string {
	return strings.ToLower(strings.TrimSpace(input))
}

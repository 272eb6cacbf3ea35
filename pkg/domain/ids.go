package domain

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/google/uuid"

	dErrors "relay/pkg/domain-errors"
)

// IdentityID is the opaque token the relay hands out in place of a principal.
// Invariant: a non-nil random (v4) UUID rendered in canonical lowercase form.
type IdentityID uuid.UUID

// NewIdentityID draws a fresh identity from crypto/rand (122 random bits).
func NewIdentityID() (IdentityID, error) {
	u, err := uuid.NewRandom()
	if err != nil {
		return IdentityID{}, err
	}
	return IdentityID(u), nil
}

// ParseIdentityID parses the canonical string form of an identity.
//
// Errors: returns CodeInvalidInput for empty, malformed or nil UUIDs.
func ParseIdentityID(s string) (IdentityID, error) {
	if s == "" {
		return IdentityID{}, dErrors.New(dErrors.CodeInvalidInput, "identity ID cannot be empty")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return IdentityID{}, dErrors.New(dErrors.CodeInvalidInput, "invalid identity ID")
	}
	if u == uuid.Nil {
		return IdentityID{}, dErrors.New(dErrors.CodeInvalidInput, "identity ID cannot be nil")
	}
	return IdentityID(u), nil
}

// String returns the canonical lowercase representation used for prefix matching.
func (id IdentityID) String() string {
	return uuid.UUID(id).String()
}

// IsNil reports whether the identity is the zero value.
func (id IdentityID) IsNil() bool {
	return uuid.UUID(id) == uuid.Nil
}

// MarshalText lets identities appear as strings in JSON bodies and map keys.
func (id IdentityID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses the canonical string form.
func (id *IdentityID) UnmarshalText(b []byte) error {
	parsed, err := ParseIdentityID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// MaxPrincipalLength bounds transport-supplied principal references.
const MaxPrincipalLength = 256

// Principal is the transport's reference to a real account. The relay stores it
// only to route notifications and never exposes it to other users.
type Principal string

// ParsePrincipal validates a principal reference at the transport boundary.
//
// Errors: returns CodeInvalidInput when the value is blank, too long, not UTF-8,
// or contains control characters.
func ParsePrincipal(s string) (Principal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal cannot be empty")
	}
	if len(s) > MaxPrincipalLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal too long")
	}
	if !utf8.ValidString(s) {
		return "", dErrors.New(dErrors.CodeInvalidInput, "principal must be valid UTF-8")
	}
	for _, r := range s {
		if unicode.IsControl(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "principal contains control characters")
		}
	}
	return Principal(s), nil
}

func (p Principal) String() string {
	return string(p)
}

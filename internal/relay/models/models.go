package models

import (
	"time"
	"unicode/utf8"

	"github.com/oklog/ulid/v2"

	id "relay/pkg/domain"
)

const (
	// MaxMessageRunes is the longest body, in code points, a send may carry.
	MaxMessageRunes = 4000

	// DefaultRetention is how long an undelivered message is held.
	DefaultRetention = 30 * 24 * time.Hour
)

// UserRecord binds an identity to the principal that owns it.
// Contacts are held by the contact directory and attached on read.
type UserRecord struct {
	Identity  id.IdentityID
	Principal id.Principal
	CreatedAt time.Time
	Contacts  []id.IdentityID
}

// PendingMessage is a deposited message waiting for its recipient's next interaction.
type PendingMessage struct {
	ID        string        `json:"id"`
	Sender    id.IdentityID `json:"sender"`
	Recipient id.IdentityID `json:"recipient"`
	Body      string        `json:"body"`
	CreatedAt time.Time     `json:"created_at"`
}

// NewPendingMessage stamps a message with a sortable ID and its creation time.
// Length is not checked here; see ValidateBody.
func NewPendingMessage(sender, recipient id.IdentityID, body string, now time.Time) PendingMessage {
	return PendingMessage{
		ID:        ulid.MustNew(ulid.Timestamp(now), ulid.DefaultEntropy()).String(),
		Sender:    sender,
		Recipient: recipient,
		Body:      body,
		CreatedAt: now,
	}
}

// ExpiredAt reports whether the message is older than retention at now.
// A message exactly retention old is still deliverable.
func (m PendingMessage) ExpiredAt(now time.Time, retention time.Duration) bool {
	return now.Sub(m.CreatedAt) > retention
}

// ValidateBody enforces the send-side body rules.
func ValidateBody(body string) error {
	if body == "" || isBlank(body) {
		return ErrEmptyMessage
	}
	if utf8.RuneCountInString(body) > MaxMessageRunes {
		return ErrMessageTooLong
	}
	return nil
}

func isBlank(s string) bool {
	for _, r := range s {
		switch r {
		case ' ', '\t', '\n', '\r':
		default:
			return false
		}
	}
	return true
}

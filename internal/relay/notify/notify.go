// Package notify delivers "you have mail" pings to a recipient's transport.
// Every sink here is best-effort: a failed notification never undoes the
// deposit that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"time"

	id "relay/pkg/domain"
)

// Notifier pushes a short text to the transport session of principal.
type Notifier interface {
	Notify(ctx context.Context, principal id.Principal, text string) error
}

// Notification is the wire payload published by the Redis and Kafka sinks.
type Notification struct {
	Principal string    `json:"principal"`
	Text      string    `json:"text"`
	SentAt    time.Time `json:"sent_at"`
}

func encode(principal id.Principal, text string, now time.Time) ([]byte, error) {
	return json.Marshal(Notification{Principal: string(principal), Text: text, SentAt: now.UTC()})
}

// NewMessageText is the ping sent to a recipient after a deposit.
func NewMessageText(sender id.IdentityID) string {
	return "New message from " + sender.String()
}

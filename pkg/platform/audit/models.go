package audit

import (
	"context"
	"time"

	id "relay/pkg/domain"
)

// EventCategory classifies audit events by their primary purpose so sinks can
// apply different retention and routing.
type EventCategory string

const (
	// CategoryCompliance covers events that change who can reach whom.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers rejected or failed actions worth alerting on.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine traffic. It can be sampled.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from the relay to capture key actions. It never carries a
// message body or a transport principal; identities are opaque already.
type Event struct {
	Category  EventCategory
	Timestamp time.Time
	Identity  id.IdentityID
	// Counterpart is the other identity involved (contact target or recipient), if any.
	Counterpart id.IdentityID
	Action      string
	Reason      string
	RequestID   string
	// Count is set for batch events such as drains and purges.
	Count int
}

type AuditEvent string

const (
	EventIdentityCreated    AuditEvent = "identity_created"
	EventContactAdded       AuditEvent = "contact_added"
	EventContactAddRejected AuditEvent = "contact_add_rejected"
	EventMessageDeposited   AuditEvent = "message_deposited"
	EventMessageRejected    AuditEvent = "message_rejected"
	EventInboxDrained       AuditEvent = "inbox_drained"
	EventMessagesPurged     AuditEvent = "messages_purged"
	EventNotifyFailed       AuditEvent = "notify_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventIdentityCreated: CategoryCompliance,
	EventContactAdded:    CategoryCompliance,
	EventMessagesPurged:  CategoryCompliance,

	EventContactAddRejected: CategorySecurity,
	EventMessageRejected:    CategorySecurity,
	EventNotifyFailed:       CategorySecurity,

	EventMessageDeposited: CategoryOperations,
	EventInboxDrained:     CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}

// Store persists audit events.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListByIdentity(ctx context.Context, identity id.IdentityID) ([]Event, error)
	ListAll(ctx context.Context) ([]Event, error)
}

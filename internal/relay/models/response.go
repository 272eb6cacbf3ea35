package models

import (
	"fmt"

	id "relay/pkg/domain"
)

// CommandKind enumerates the menu actions a transport can trigger.
type CommandKind string

const (
	CommandAddContactStart CommandKind = "add_contact_start"
	CommandShowContacts    CommandKind = "show_contacts"
	CommandShowID          CommandKind = "show_id"
	CommandWriteTo         CommandKind = "write_to"
	CommandCancel          CommandKind = "cancel"
)

// Command is a structured (button) event. Target carries the contact ID or
// prefix for CommandWriteTo and is ignored otherwise.
type Command struct {
	Kind   CommandKind
	Target string
}

// ParseCommandKind validates a transport-supplied command name.
func ParseCommandKind(s string) (CommandKind, error) {
	switch k := CommandKind(s); k {
	case CommandAddContactStart, CommandShowContacts, CommandShowID, CommandWriteTo, CommandCancel:
		return k, nil
	default:
		return "", fmt.Errorf("unknown command %q", s)
	}
}

// ResponseKind tags a Response variant.
type ResponseKind string

const (
	ResponseDelivered         ResponseKind = "delivered"
	ResponseContactAdded      ResponseKind = "contact_added"
	ResponseContactAddFailed  ResponseKind = "contact_add_failed"
	ResponseMessageSent       ResponseKind = "message_sent"
	ResponseMessageRejected   ResponseKind = "message_rejected"
	ResponseIdle              ResponseKind = "idle"
	ResponseAwaitingContactID ResponseKind = "awaiting_contact_id"
	ResponseContacts          ResponseKind = "contacts"
	ResponseIdentity          ResponseKind = "identity"
	ResponseComposing         ResponseKind = "composing"
	ResponseCommandRejected   ResponseKind = "command_rejected"
	ResponseCancelled         ResponseKind = "cancelled"
)

// Response is the outcome of one inbound event. Only the fields relevant to
// Kind are populated. Delivered may accompany any kind when delivery does not
// preempt the turn.
type Response struct {
	Kind      ResponseKind
	Delivered []PendingMessage
	Reason    error
	Identity  id.IdentityID
	Target    id.IdentityID
	Contacts  []id.IdentityID
	MessageID string
}

// IdentifyResult is returned on every session start.
type IdentifyResult struct {
	Identity  id.IdentityID
	Created   bool
	Delivered []PendingMessage
}

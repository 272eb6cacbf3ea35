package models

import "errors"

// Outcome reasons surfaced to the transport as response variants. They are
// compared with errors.Is and never abort the process.
var (
	ErrUnknownPrincipal     = errors.New("unknown principal: identify first")
	ErrSelfReference        = errors.New("cannot add yourself as a contact")
	ErrTargetUnknown        = errors.New("target identity unknown")
	ErrContactNotFound      = errors.New("contact not found")
	ErrAlreadyContact       = errors.New("already a contact")
	ErrMessageTooLong       = errors.New("message too long")
	ErrEmptyMessage         = errors.New("message is empty")
	ErrDeliveryNotifyFailed = errors.New("delivery notification failed")
)

// ReasonCode maps an outcome error to a stable machine-readable code.
func ReasonCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnknownPrincipal):
		return "unknown_principal"
	case errors.Is(err, ErrSelfReference):
		return "self_reference_rejected"
	case errors.Is(err, ErrTargetUnknown):
		return "target_unknown"
	case errors.Is(err, ErrContactNotFound):
		return "contact_not_found"
	case errors.Is(err, ErrAlreadyContact):
		return "already_contact"
	case errors.Is(err, ErrMessageTooLong):
		return "message_too_long"
	case errors.Is(err, ErrEmptyMessage):
		return "message_empty"
	case errors.Is(err, ErrDeliveryNotifyFailed):
		return "delivery_notify_failed"
	default:
		return "internal"
	}
}

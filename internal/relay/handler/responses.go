package handler

import (
	"time"

	"relay/internal/relay/models"
	id "relay/pkg/domain"
)

// MessageResponse is one delivered message.
type MessageResponse struct {
	ID        string    `json:"id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
}

// SessionResponse is returned by POST /v1/session.
type SessionResponse struct {
	Identity  string            `json:"identity"`
	Created   bool              `json:"created"`
	Delivered []MessageResponse `json:"delivered"`
}

// TurnResponse is returned by the command and message endpoints.
type TurnResponse struct {
	Kind      string            `json:"kind"`
	Reason    string            `json:"reason,omitempty"`
	Identity  string            `json:"identity,omitempty"`
	Target    string            `json:"target,omitempty"`
	Contacts  []string          `json:"contacts,omitempty"`
	MessageID string            `json:"message_id,omitempty"`
	Delivered []MessageResponse `json:"delivered,omitempty"`
}

func toSessionResponse(result models.IdentifyResult) SessionResponse {
	return SessionResponse{
		Identity:  result.Identity.String(),
		Created:   result.Created,
		Delivered: toMessageResponses(result.Delivered),
	}
}

func toTurnResponse(resp models.Response) TurnResponse {
	out := TurnResponse{
		Kind:      string(resp.Kind),
		Reason:    models.ReasonCode(resp.Reason),
		MessageID: resp.MessageID,
		Identity:  optionalID(resp.Identity),
		Target:    optionalID(resp.Target),
	}
	if len(resp.Delivered) > 0 {
		out.Delivered = toMessageResponses(resp.Delivered)
	}
	for _, c := range resp.Contacts {
		out.Contacts = append(out.Contacts, c.String())
	}
	return out
}

func toMessageResponses(msgs []models.PendingMessage) []MessageResponse {
	out := make([]MessageResponse, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageResponse{
			ID:        m.ID,
			Sender:    m.Sender.String(),
			Body:      m.Body,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}

func optionalID(v id.IdentityID) string {
	if v.IsNil() {
		return ""
	}
	return v.String()
}

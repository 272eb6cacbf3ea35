package handler

import (
	"strings"

	"relay/internal/relay/models"
	dErrors "relay/pkg/domain-errors"
)

// maxTargetLen bounds a contact ID or prefix; a canonical UUID is 36 characters.
const maxTargetLen = 64

// CommandRequest is the HTTP request body for POST /v1/commands.
type CommandRequest struct {
	Command string `json:"command"`
	Target  string `json:"target,omitempty"`

	parsed models.CommandKind
}

// Validate parses the command name and bounds the target.
func (r *CommandRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Target) > maxTargetLen {
		return dErrors.New(dErrors.CodeValidation, "target must be at most 64 characters")
	}
	r.Command = strings.TrimSpace(r.Command)
	if r.Command == "" {
		return dErrors.New(dErrors.CodeValidation, "command is required")
	}
	kind, err := models.ParseCommandKind(r.Command)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, "unknown command")
	}
	r.parsed = kind
	return nil
}

// ToCommand returns the parsed command. Call Validate first.
func (r *CommandRequest) ToCommand() models.Command {
	return models.Command{Kind: r.parsed, Target: r.Target}
}

// TextRequest is the HTTP request body for POST /v1/messages.
// Body rules (empty, length) are enforced by the relay and reported as outcomes.
type TextRequest struct {
	Text string `json:"text"`
}

func (r *TextRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return nil
}

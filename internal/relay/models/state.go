package models

import (
	"fmt"

	id "relay/pkg/domain"
)

// Mode is the tag of an interaction state.
type Mode int

const (
	ModeIdle Mode = iota
	ModeAwaitingContactID
	ModeComposing
)

func (m Mode) String() string {
	switch m {
	case ModeIdle:
		return "idle"
	case ModeAwaitingContactID:
		return "awaiting_contact_id"
	case ModeComposing:
		return "composing"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// InteractionState governs how a principal's next free-text input is read.
// Target is set only in ModeComposing.
type InteractionState struct {
	Mode   Mode
	Target id.IdentityID
}

// Idle is the zero state every principal starts in.
func Idle() InteractionState {
	return InteractionState{Mode: ModeIdle}
}

// AwaitingContactID waits for the next text to be read as a contact ID.
func AwaitingContactID() InteractionState {
	return InteractionState{Mode: ModeAwaitingContactID}
}

// ComposingTo reads the next text as a message body for target.
func ComposingTo(target id.IdentityID) InteractionState {
	return InteractionState{Mode: ModeComposing, Target: target}
}

func (s InteractionState) String() string {
	if s.Mode == ModeComposing {
		return fmt.Sprintf("%s(%s)", s.Mode, s.Target)
	}
	return s.Mode.String()
}

package session

import (
	"time"

	"voicelink/internal/identity"
)

// State is the call session lifecycle state.
//
// Transitions are owned exclusively by the call engine (signaling-origin
// sessions) and the PSTN reconciler (provider-origin sessions). Terminal
// states are final.
type State string

const (
	StateInitiated  State = "INITIATED"
	StateRinging    State = "RINGING"
	StateConnecting State = "CONNECTING"
	StateConnected  State = "CONNECTED"
	StateRejected   State = "REJECTED"
	StateMissed     State = "MISSED"
	StateEnded      State = "ENDED"
	StateFailed     State = "FAILED"
)

func (s State) Terminal() bool {
	switch s {
	case StateRejected, StateMissed, StateEnded, StateFailed:
		return true
	default:
		return false
	}
}

// Origin records which ingress created the session. PSTN sessions are keyed
// by the provider's external reference and never participate in presence BUSY
// tracking.
type Origin string

const (
	OriginSignaling Origin = "signaling"
	OriginPSTN      Origin = "pstn"
)

// Session is one call attempt, from initiation to a terminal outcome.
//
// Invariants:
// - Caller and Callee share the session's WorkspaceID (no cross-tenant calls).
// - RoomName is unique for the lifetime of the system (reserved at creation).
// - Media tokens are ephemeral and are never part of this record.
type Session struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Caller identity.Participant `json:"caller"`
	Callee identity.Participant `json:"callee"`

	CallerName string `json:"caller_name,omitempty" db:"caller_name"`
	CalleeName string `json:"callee_name,omitempty" db:"callee_name"`

	RoomName string `json:"room_name" db:"room_name"`
	State    State  `json:"state" db:"state"`
	Origin   Origin `json:"origin" db:"origin"`

	// ExternalRef is the telephony provider's call reference for PSTN-origin
	// sessions; empty for signaling-origin sessions.
	ExternalRef string `json:"external_ref,omitempty" db:"external_ref"`

	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
	AnsweredAt *time.Time `json:"answered_at,omitempty" db:"answered_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty" db:"ended_at"`

	EndReason string `json:"end_reason,omitempty" db:"end_reason"`
	EndedBy   string `json:"ended_by,omitempty" db:"ended_by"`

	DurationSeconds int `json:"duration,omitempty" db:"duration_seconds"`
}

// Party reports whether p is the caller or callee of this session.
func (s Session) Party(p identity.Participant) bool {
	return s.Caller == p || s.Callee == p
}

// Counterpart returns the other participant of the session.
func (s Session) Counterpart(p identity.Participant) identity.Participant {
	if s.Caller == p {
		return s.Callee
	}
	return s.Caller
}

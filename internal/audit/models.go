package audit

import "time"

// Event is an immutable, append-only record of a call session transition.
//
// Invariants:
// - Events are never updated or deleted.
// - workspace_id is required for tenancy isolation.
// - Recording is best-effort; call flows never block on audit failures.
type Event struct {
	ID          string `json:"id" db:"id"`
	WorkspaceID string `json:"workspace_id" db:"workspace_id"`

	Type EventType `json:"type" db:"type"`

	SessionID string `json:"session_id" db:"session_id"`

	// FromState/ToState capture the transition for session events.
	FromState string `json:"from_state,omitempty" db:"from_state"`
	ToState   string `json:"to_state,omitempty" db:"to_state"`

	// ActorUserID is the participant that caused the transition, when one did
	// (timeouts and webhooks have no actor).
	ActorUserID string `json:"actor_user_id,omitempty" db:"actor_user_id"`

	// Message is a short human-readable description for internal ops.
	Message string `json:"message,omitempty" db:"message"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type EventType string

const (
	EventTypeTransition EventType = "session_transition"
	EventTypeReconcile  EventType = "pstn_reconcile"
)

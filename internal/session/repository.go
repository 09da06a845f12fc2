package session

import (
	"context"
	"errors"

	"voicelink/internal/identity"
)

var ErrNotFound = errors.New("session: not found")

// Repository is the persistence contract for call sessions.
//
// Sessions are archived, never deleted; terminal rows remain for history.
// All writes for a given session id go through the engine's (or the PSTN
// reconciler's) serialized path; the repository does not arbitrate races.
type Repository interface {
	// Save upserts the session by id.
	Save(ctx context.Context, s Session) error

	// FindByID returns the session or ErrNotFound.
	FindByID(ctx context.Context, id string) (Session, error)

	// FindActiveByParticipant returns the participant's non-terminal session,
	// or ErrNotFound when there is none.
	FindActiveByParticipant(ctx context.Context, p identity.Participant) (Session, error)

	// FindByExternalRef resolves a PSTN session by provider reference.
	FindByExternalRef(ctx context.Context, ref string) (Session, error)

	// ListByParticipant returns the participant's call history, newest first.
	ListByParticipant(ctx context.Context, p identity.Participant, limit int) ([]Session, error)
}

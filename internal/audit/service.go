package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only. No Update/Delete methods are provided by design.
type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service records session lifecycle audit information.
//
// Audit is internal-only; records are not exposed to tenant users. Callers
// treat appends as best-effort and ignore returned errors on hot paths.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s == nil || s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.WorkspaceID == "" || e.Type == "" || e.SessionID == "" {
		return ErrInvalidEvent
	}

	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.clock().UTC()
	}
	return s.repo.Append(ctx, e)
}

// RecordTransition logs one session state transition.
func (s *Service) RecordTransition(ctx context.Context, workspaceID, sessionID, fromState, toState, actorUserID, message string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeTransition,
		SessionID:   sessionID,
		FromState:   fromState,
		ToState:     toState,
		ActorUserID: actorUserID,
		Message:     message,
	})
}

// RecordReconcile logs a PSTN webhook reconciliation outcome.
func (s *Service) RecordReconcile(ctx context.Context, workspaceID, sessionID, fromState, toState, message string) error {
	return s.Append(ctx, Event{
		WorkspaceID: workspaceID,
		Type:        EventTypeReconcile,
		SessionID:   sessionID,
		FromState:   fromState,
		ToState:     toState,
		Message:     message,
	})
}

// Package pstn reconciles telephony provider status callbacks into call
// sessions. Provider-origin sessions are keyed by the provider's call
// reference and progress independently of the signaling engine: no presence,
// no media rooms, no websocket delivery.
package pstn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"voicelink/internal/audit"
	"voicelink/internal/session"
)

// ErrMalformedCallback covers callbacks missing their call reference or
// otherwise unusable. They are acknowledged to the provider but recorded
// nowhere.
var ErrMalformedCallback = errors.New("pstn: malformed status callback")

// Reconciler applies provider callbacks to sessions, idempotently and
// monotonically: replays and out-of-order deliveries never move a session
// backwards, and a terminal session never changes again.
type Reconciler struct {
	log   *slog.Logger
	repo  session.Repository
	audit *audit.Service
	clock func() time.Time
}

func NewReconciler(log *slog.Logger, repo session.Repository, auditor *audit.Service) *Reconciler {
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{log: log, repo: repo, audit: auditor, clock: time.Now}
}

// Reconcile applies one status callback within a workspace. The first
// callback observed for an unknown reference creates the session in whatever
// state the callback maps to; providers do not guarantee the "initiated"
// callback arrives first, or at all.
func (r *Reconciler) Reconcile(ctx context.Context, workspaceID string, cb StatusCallback) (session.Session, error) {
	if cb.CallSID == "" {
		return session.Session{}, fmt.Errorf("%w: CallSid required", ErrMalformedCallback)
	}
	if workspaceID == "" {
		return session.Session{}, fmt.Errorf("%w: unresolvable workspace", ErrMalformedCallback)
	}

	target, known := mapProviderStatus(cb.CallStatus)
	if !known {
		r.log.Warn("unknown provider call status, treating as failure",
			"call_sid", cb.CallSID, "status", cb.CallStatus)
	}

	now := r.clock().UTC()

	s, err := r.repo.FindByExternalRef(ctx, cb.CallSID)
	switch {
	case errors.Is(err, session.ErrNotFound):
		s = session.Session{
			ID:          uuid.NewString(),
			WorkspaceID: workspaceID,
			CallerName:  cb.From,
			CalleeName:  cb.To,
			State:       target,
			Origin:      session.OriginPSTN,
			ExternalRef: cb.CallSID,
			CreatedAt:   now,
		}
		r.applyTimestamps(&s, target, cb, now)
		if err := r.repo.Save(ctx, s); err != nil {
			return session.Session{}, fmt.Errorf("pstn: save session: %w", err)
		}
		r.record(ctx, s, "", target, cb.CallStatus)
		r.log.Info("pstn session created",
			"session_id", s.ID, "call_sid", cb.CallSID, "state", string(target))
		return s, nil

	case err != nil:
		return session.Session{}, fmt.Errorf("pstn: find session: %w", err)
	}

	if s.WorkspaceID != workspaceID {
		// A reference can only belong to one tenant; a mismatch is a provider
		// misconfiguration, never a transition.
		return session.Session{}, fmt.Errorf("%w: reference belongs to another workspace", ErrMalformedCallback)
	}

	// Monotonic guard: terminal sessions are settled, and a callback must
	// strictly advance the progression to apply.
	if s.State.Terminal() || stateRank(target) <= stateRank(s.State) {
		return s, nil
	}

	prev := s.State
	s.State = target
	r.applyTimestamps(&s, target, cb, now)

	if err := r.repo.Save(ctx, s); err != nil {
		return session.Session{}, fmt.Errorf("pstn: save session: %w", err)
	}
	r.record(ctx, s, prev, target, cb.CallStatus)
	r.log.Info("pstn session reconciled",
		"session_id", s.ID, "call_sid", cb.CallSID,
		"from", string(prev), "to", string(target))
	return s, nil
}

func (r *Reconciler) applyTimestamps(s *session.Session, target session.State, cb StatusCallback, now time.Time) {
	if target == session.StateConnected && s.AnsweredAt == nil {
		s.AnsweredAt = &now
	}
	if target.Terminal() {
		if s.EndedAt == nil {
			s.EndedAt = &now
		}
		s.EndReason = "provider " + cb.CallStatus
		if d, err := strconv.Atoi(cb.CallDuration); err == nil && d >= 0 {
			s.DurationSeconds = d
		}
	}
}

func (r *Reconciler) record(ctx context.Context, s session.Session, from, to session.State, providerStatus string) {
	if r.audit == nil {
		return
	}
	if err := r.audit.RecordReconcile(ctx, s.WorkspaceID, s.ID, string(from), string(to), "provider status "+providerStatus); err != nil {
		r.log.Warn("audit append failed", "session_id", s.ID, "error", err)
	}
}

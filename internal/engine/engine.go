// Package engine owns the call session lifecycle: creation, ringing, answer,
// rejection, timeout, hangup, and disconnect cleanup. All state transitions
// for signaling-origin sessions happen here and nowhere else.
//
// Concurrency model: Engine.mu guards only the live-session and active-call
// maps. Each live session carries its own mutex serializing every transition
// on that session. A session lock may acquire Engine.mu (map cleanup on
// finalize); Engine.mu never acquires a session lock.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"voicelink/internal/audit"
	"voicelink/internal/directory"
	"voicelink/internal/event"
	"voicelink/internal/identity"
	"voicelink/internal/media"
	"voicelink/internal/presence"
	"voicelink/internal/session"
)

// Sender delivers envelopes to connected participants. Send reports whether
// the envelope was handed to a live channel; the engine treats a failed send
// as advisory and relies on the presence cascade for cleanup.
type Sender interface {
	Send(p identity.Participant, env event.Envelope) bool
	Connected(p identity.Participant) bool
}

// Config carries the engine's tunables.
type Config struct {
	// RingTimeout bounds how long a callee may ring before the session is
	// closed as MISSED.
	RingTimeout time.Duration
}

// Engine is the call session orchestrator.
type Engine struct {
	log    *slog.Logger
	cfg    Config
	clock  func() time.Time
	sender Sender

	repo     session.Repository
	rooms    session.RoomReserver
	issuer   media.TokenIssuer
	roomMgr  media.RoomManager
	presence *presence.Registry
	dir      directory.Directory
	audit    *audit.Service

	mu sync.Mutex
	// live holds every non-terminal signaling-origin session.
	live map[string]*liveSession
	// active maps each participant to its one live session id.
	active map[identity.Participant]string
}

// liveSession pairs a session record with its serialization lock and ring
// timer. The record inside is the authoritative in-memory copy; the repository
// trails it.
type liveSession struct {
	mu sync.Mutex
	s  session.Session

	ringTimer *time.Timer
}

func New(log *slog.Logger, cfg Config, repo session.Repository, rooms session.RoomReserver,
	issuer media.TokenIssuer, roomMgr media.RoomManager, reg *presence.Registry,
	dir directory.Directory, auditor *audit.Service) *Engine {

	if log == nil {
		log = slog.Default()
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = 45 * time.Second
	}
	if roomMgr == nil {
		roomMgr = media.NoopRooms{}
	}
	return &Engine{
		log:      log,
		cfg:      cfg,
		clock:    time.Now,
		repo:     repo,
		rooms:    rooms,
		issuer:   issuer,
		roomMgr:  roomMgr,
		presence: reg,
		dir:      dir,
		audit:    auditor,
		live:     make(map[string]*liveSession),
		active:   make(map[identity.Participant]string),
	}
}

// SetSender wires the delivery layer. Must be called during startup, before
// any signaling channel connects; the signaling manager depends on the engine,
// so the reference cannot be passed at construction.
func (e *Engine) SetSender(s Sender) { e.sender = s }

/* ===================== EVENT DISPATCH ===================== */

// HandleEvent processes one inbound envelope from an authenticated channel.
// Validation failures and call flow errors are reported back to the sender
// only; they never affect other participants or existing sessions.
func (e *Engine) HandleEvent(ctx context.Context, from identity.Participant, env event.Envelope) {
	payload, err := event.DecodeInbound(env)
	if err != nil {
		e.sender.Send(from, event.Error(CodeMalformedEvent, err.Error()))
		return
	}

	switch p := payload.(type) {
	case nil: // heartbeat
		e.presence.RecordHeartbeat(from)
	case event.InitiatePayload:
		if _, err := e.InitiateCall(ctx, from, p.CalleeID, p.CallerDisplayName); err != nil {
			e.replyError(from, err)
		}
	case event.AcceptPayload:
		if err := e.AcceptCall(ctx, from, p.SessionID); err != nil {
			e.replyError(from, err)
		}
	case event.RejectPayload:
		if err := e.RejectCall(ctx, from, p.SessionID, p.Reason); err != nil {
			e.replyError(from, err)
		}
	case event.EndPayload:
		if err := e.EndCall(ctx, from, p.SessionID); err != nil {
			e.replyError(from, err)
		}
	}
}

func (e *Engine) replyError(to identity.Participant, err error) {
	code := CodeInternal
	switch {
	case errors.Is(err, ErrAlreadyInCall):
		code = CodeAlreadyInCall
	case errors.Is(err, ErrCalleeUnavailable):
		code = CodeCalleeUnavailable
	case errors.Is(err, ErrInvalidState):
		code = CodeInvalidState
	case errors.Is(err, ErrUnauthorizedParticipant):
		code = CodeUnauthorized
	case errors.Is(err, event.ErrMalformed):
		code = CodeMalformedEvent
	}
	// Flow errors are expected races, not faults.
	e.log.Debug("call operation rejected", "participant", to.String(), "code", code)
	e.sender.Send(to, event.Error(code, err.Error()))
}

/* ===================== INITIATE ===================== */

// InitiateCall creates a session for caller → calleeID and starts ringing.
//
// The availability check is deliberately synchronous: a callee that is offline
// (or busy) at this moment yields ErrCalleeUnavailable and no session. A
// callee that drops between this check and delivery simply never answers, and
// the ring timer closes the session as MISSED.
func (e *Engine) InitiateCall(ctx context.Context, caller identity.Participant, calleeID, callerDisplayName string) (session.Session, error) {
	if !caller.Valid() {
		return session.Session{}, ErrUnauthorizedParticipant
	}

	member, err := e.dir.Resolve(ctx, caller.WorkspaceID, calleeID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return session.Session{}, fmt.Errorf("%w: no such callee", ErrCalleeUnavailable)
		}
		return session.Session{}, fmt.Errorf("resolve callee: %w", err)
	}
	callee := member.Participant
	if callee == caller {
		return session.Session{}, fmt.Errorf("%w: cannot call self", ErrCalleeUnavailable)
	}

	switch e.presence.StatusOf(callee) {
	case presence.StatusOffline:
		return session.Session{}, fmt.Errorf("%w: callee offline", ErrCalleeUnavailable)
	case presence.StatusBusy:
		return session.Session{}, fmt.Errorf("%w: callee busy", ErrCalleeUnavailable)
	}

	now := e.clock().UTC()
	s := session.Session{
		ID:          uuid.NewString(),
		WorkspaceID: caller.WorkspaceID,
		Caller:      caller,
		Callee:      callee,
		CallerName:  callerDisplayName,
		CalleeName:  member.DisplayName,
		State:       session.StateInitiated,
		Origin:      session.OriginSignaling,
		CreatedAt:   now,
	}

	st := &liveSession{s: s}

	// The session lock is held across publication and the initial transitions
	// so the disconnect cascade cannot interleave with a half-initialized
	// session: a cascade fired mid-initiate blocks here until the session is
	// fully ringing, then closes it normally.
	st.mu.Lock()
	defer st.mu.Unlock()

	// Claim both participants atomically; either may have raced into another
	// call since the presence check.
	e.mu.Lock()
	if _, busy := e.active[caller]; busy {
		e.mu.Unlock()
		return session.Session{}, ErrAlreadyInCall
	}
	if _, busy := e.active[callee]; busy {
		e.mu.Unlock()
		return session.Session{}, fmt.Errorf("%w: callee busy", ErrCalleeUnavailable)
	}
	e.live[s.ID] = st
	e.active[caller] = s.ID
	e.active[callee] = s.ID
	e.mu.Unlock()

	e.presence.MarkBusy(caller)
	e.presence.MarkBusy(callee)

	// Reserved only after the participant claim so a losing initiate cannot
	// leak a permanent room name reservation.
	roomName, err := e.reserveRoom(ctx)
	if err != nil {
		e.finalizeLocked(st)
		return session.Session{}, err
	}
	st.s.RoomName = roomName

	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on initiate", "session_id", s.ID, "error", err)
		e.finalizeLocked(st)
		return session.Session{}, fmt.Errorf("save session: %w", err)
	}
	e.recordTransition(ctx, st.s, "", session.StateInitiated, caller.UserID, "call initiated")

	// If the callee dropped since the presence check, nobody answers and the
	// ring timer resolves the session as MISSED. That is deliberate: only
	// offline-at-initiation fails fast.
	if !e.sender.Send(callee, event.Incoming(s.ID, caller.UserID, callerDisplayName, roomName)) {
		e.log.Debug("incoming event not delivered, ring timer will resolve", "session_id", s.ID)
	}

	prev := st.s.State
	st.s.State = session.StateRinging
	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on ringing", "session_id", s.ID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, session.StateRinging, "", "ringing callee")

	sessionID := s.ID
	st.ringTimer = time.AfterFunc(e.cfg.RingTimeout, func() { e.ringTimeout(sessionID) })

	e.sender.Send(caller, event.Ringing(s.ID, roomName))

	e.log.Info("call initiated",
		"session_id", s.ID, "workspace_id", s.WorkspaceID,
		"caller", caller.String(), "callee", callee.String())
	return st.s, nil
}

func (e *Engine) reserveRoom(ctx context.Context) (string, error) {
	// Names are UUID-based; collisions are theoretical, but the reservation is
	// still the source of truth for uniqueness.
	for attempt := 0; attempt < 3; attempt++ {
		name := "call-" + uuid.NewString()
		err := e.rooms.Reserve(ctx, name)
		if err == nil {
			return name, nil
		}
		if !errors.Is(err, session.ErrRoomTaken) {
			return "", fmt.Errorf("reserve room: %w", err)
		}
	}
	return "", errors.New("engine: could not reserve a room name")
}

/* ===================== ACCEPT ===================== */

// AcceptCall answers a ringing session. The transition to CONNECTING happens
// synchronously; media room setup and token issuance run in the background so
// a slow media service never blocks the signaling loop.
func (e *Engine) AcceptCall(ctx context.Context, from identity.Participant, sessionID string) error {
	st := e.lookup(sessionID)
	if st == nil {
		return fmt.Errorf("%w: unknown session", ErrInvalidState)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.s.Party(from) {
		return ErrUnauthorizedParticipant
	}
	if from != st.s.Callee {
		return fmt.Errorf("%w: only the callee can accept", ErrInvalidState)
	}
	if st.s.State != session.StateRinging {
		return fmt.Errorf("%w: cannot accept from %s", ErrInvalidState, st.s.State)
	}

	if st.ringTimer != nil {
		st.ringTimer.Stop()
		st.ringTimer = nil
	}

	prev := st.s.State
	st.s.State = session.StateConnecting
	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on accept", "session_id", sessionID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, session.StateConnecting, from.UserID, "call accepted")

	go e.connectSession(st)
	return nil
}

// connectSession provisions the media room and delivers tokens. Any failure
// here is fatal to the call: both participants get call:failed and the session
// closes as FAILED.
func (e *Engine) connectSession(st *liveSession) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st.mu.Lock()
	s := st.s
	st.mu.Unlock()

	if err := e.roomMgr.CreateRoom(ctx, s.RoomName); err != nil {
		e.log.Warn("media room create failed, relying on auto-create",
			"session_id", s.ID, "room", s.RoomName, "error", err)
	}

	callerToken, err := e.issuer.IssueToken(ctx, s.RoomName, s.Caller, s.CallerName)
	if err == nil {
		var calleeToken string
		calleeToken, err = e.issuer.IssueToken(ctx, s.RoomName, s.Callee, s.CalleeName)
		if err == nil {
			e.completeConnect(st, callerToken, calleeToken)
			return
		}
	}

	e.log.Error("media token issuance failed", "session_id", s.ID, "error", err)
	e.failSession(st, "media token issuance failed")
}

func (e *Engine) completeConnect(st *liveSession, callerToken, calleeToken string) {
	ctx := context.Background()

	st.mu.Lock()
	defer st.mu.Unlock()

	// The session may have been ended or failed while tokens were minted.
	if st.s.State != session.StateConnecting {
		return
	}

	now := e.clock().UTC()
	prev := st.s.State
	st.s.State = session.StateConnected
	st.s.AnsweredAt = &now
	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on connect", "session_id", st.s.ID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, session.StateConnected, "", "media tokens issued")

	e.sender.Send(st.s.Caller, event.Accepted(st.s.ID, st.s.RoomName, callerToken))
	e.sender.Send(st.s.Callee, event.Accepted(st.s.ID, st.s.RoomName, calleeToken))

	e.log.Info("call connected", "session_id", st.s.ID, "room", st.s.RoomName)
}

// failSession closes a session as FAILED and tells both parties.
func (e *Engine) failSession(st *liveSession, reason string) {
	ctx := context.Background()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.s.State.Terminal() {
		return
	}

	prev := st.s.State
	st.s.State = session.StateFailed
	now := e.clock().UTC()
	st.s.EndedAt = &now
	st.s.EndReason = reason
	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on failure", "session_id", st.s.ID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, session.StateFailed, "", reason)

	e.sender.Send(st.s.Caller, event.Failed(st.s.ID, reason))
	e.sender.Send(st.s.Callee, event.Failed(st.s.ID, reason))

	e.finalizeLocked(st)
}

/* ===================== REJECT ===================== */

// RejectCall declines a ringing session. Only the callee may reject; the
// caller's path out of an unanswered call is call:end.
func (e *Engine) RejectCall(ctx context.Context, from identity.Participant, sessionID, reason string) error {
	st := e.lookup(sessionID)
	if st == nil {
		return fmt.Errorf("%w: unknown session", ErrInvalidState)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.s.Party(from) {
		return ErrUnauthorizedParticipant
	}
	if from != st.s.Callee {
		return fmt.Errorf("%w: only the callee can reject", ErrInvalidState)
	}
	if st.s.State != session.StateRinging && st.s.State != session.StateInitiated {
		return fmt.Errorf("%w: cannot reject from %s", ErrInvalidState, st.s.State)
	}

	if st.ringTimer != nil {
		st.ringTimer.Stop()
		st.ringTimer = nil
	}

	prev := st.s.State
	st.s.State = session.StateRejected
	now := e.clock().UTC()
	st.s.EndedAt = &now
	st.s.EndReason = reason
	st.s.EndedBy = from.UserID
	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on reject", "session_id", sessionID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, session.StateRejected, from.UserID, "call rejected")

	e.sender.Send(st.s.Caller, event.Rejected(sessionID, reason))

	e.finalizeLocked(st)
	e.log.Info("call rejected", "session_id", sessionID, "by", from.String())
	return nil
}

/* ===================== RING TIMEOUT ===================== */

// ringTimeout fires when the callee never answered. It races with accept,
// reject, and end under the session lock; whichever transition wins, the
// losers observe a non-RINGING state and do nothing.
func (e *Engine) ringTimeout(sessionID string) {
	st := e.lookup(sessionID)
	if st == nil {
		return
	}
	ctx := context.Background()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.s.State != session.StateRinging {
		return
	}

	prev := st.s.State
	st.s.State = session.StateMissed
	now := e.clock().UTC()
	st.s.EndedAt = &now
	st.s.EndReason = "ring timeout"
	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on ring timeout", "session_id", sessionID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, session.StateMissed, "", "ring timeout")

	// Both sides learn about the miss: the caller to stop waiting, the callee
	// so a connected-but-unresponsive client can surface a missed call.
	e.sender.Send(st.s.Caller, event.Missed(sessionID))
	e.sender.Send(st.s.Callee, event.Missed(sessionID))

	e.finalizeLocked(st)
	e.log.Info("call missed", "session_id", sessionID)
}

/* ===================== END ===================== */

// EndCall hangs up. Either party may end from any non-terminal state: ending
// while ringing is the caller canceling, ending while connected is a normal
// hangup with a computed duration.
func (e *Engine) EndCall(ctx context.Context, from identity.Participant, sessionID string) error {
	st := e.lookup(sessionID)
	if st == nil {
		return fmt.Errorf("%w: unknown session", ErrInvalidState)
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.s.Party(from) {
		return ErrUnauthorizedParticipant
	}
	if st.s.State.Terminal() {
		return fmt.Errorf("%w: session already %s", ErrInvalidState, st.s.State)
	}

	if st.ringTimer != nil {
		st.ringTimer.Stop()
		st.ringTimer = nil
	}

	now := e.clock().UTC()
	prev := st.s.State
	st.s.State = session.StateEnded
	st.s.EndedAt = &now
	st.s.EndedBy = from.UserID
	st.s.EndReason = "hangup"

	var duration *int
	if st.s.AnsweredAt != nil {
		d := int(now.Sub(*st.s.AnsweredAt).Round(time.Second).Seconds())
		if d < 0 {
			d = 0
		}
		st.s.DurationSeconds = d
		duration = &d
	}

	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on end", "session_id", sessionID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, session.StateEnded, from.UserID, "call ended")

	env := event.Ended(sessionID, from.UserID, duration)
	e.sender.Send(st.s.Caller, env)
	e.sender.Send(st.s.Callee, env)

	e.finalizeLocked(st)
	e.log.Info("call ended", "session_id", sessionID, "by", from.String(), "duration", st.s.DurationSeconds)
	return nil
}

/* ===================== DISCONNECT CASCADE ===================== */

// OnParticipantDisconnected closes the participant's live session, if any.
// Wired into the presence registry's offline hook, so both explicit channel
// closes and heartbeat expiry land here.
func (e *Engine) OnParticipantDisconnected(p identity.Participant) {
	e.mu.Lock()
	id, ok := e.active[p]
	var st *liveSession
	if ok {
		st = e.live[id]
	}
	e.mu.Unlock()
	if st == nil {
		return
	}
	ctx := context.Background()

	st.mu.Lock()
	defer st.mu.Unlock()

	if st.s.State.Terminal() {
		return
	}

	if st.ringTimer != nil {
		st.ringTimer.Stop()
		st.ringTimer = nil
	}

	now := e.clock().UTC()
	prev := st.s.State

	var env event.Envelope
	switch prev {
	case session.StateConnecting, session.StateConnected:
		// An answered call that loses a leg is a completed call, not a failure.
		st.s.State = session.StateEnded
		st.s.EndReason = "peer disconnected"
		st.s.EndedBy = p.UserID
		var duration *int
		if st.s.AnsweredAt != nil {
			d := int(now.Sub(*st.s.AnsweredAt).Round(time.Second).Seconds())
			if d < 0 {
				d = 0
			}
			st.s.DurationSeconds = d
			duration = &d
		}
		env = event.Ended(st.s.ID, p.UserID, duration)
	default:
		st.s.State = session.StateFailed
		st.s.EndReason = "peer disconnected"
		env = event.Failed(st.s.ID, "peer disconnected")
	}
	st.s.EndedAt = &now

	if err := e.repo.Save(ctx, st.s); err != nil {
		e.log.Error("session save failed on disconnect", "session_id", st.s.ID, "error", err)
	}
	e.recordTransition(ctx, st.s, prev, st.s.State, "", "participant disconnected")

	e.sender.Send(st.s.Counterpart(p), env)

	e.finalizeLocked(st)
	e.log.Info("call closed on disconnect",
		"session_id", st.s.ID, "participant", p.String(), "state", string(st.s.State))
}

/* ===================== INTERNALS ===================== */

// lookup returns the live session or nil. Takes only Engine.mu; callers lock
// the session afterwards.
func (e *Engine) lookup(sessionID string) *liveSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.live[sessionID]
}

// finalizeLocked removes a terminal session from the live maps and releases
// both participants. Caller holds st.mu.
func (e *Engine) finalizeLocked(st *liveSession) {
	if st.ringTimer != nil {
		st.ringTimer.Stop()
		st.ringTimer = nil
	}

	e.mu.Lock()
	delete(e.live, st.s.ID)
	if e.active[st.s.Caller] == st.s.ID {
		delete(e.active, st.s.Caller)
	}
	if e.active[st.s.Callee] == st.s.ID {
		delete(e.active, st.s.Callee)
	}
	e.mu.Unlock()

	e.presence.ClearBusy(st.s.Caller)
	e.presence.ClearBusy(st.s.Callee)

	// A session torn down before room reservation has no room to delete.
	if roomName := st.s.RoomName; roomName != "" {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := e.roomMgr.DeleteRoom(ctx, roomName); err != nil {
				e.log.Warn("media room delete failed", "room", roomName, "error", err)
			}
		}()
	}
}

// recordTransition appends to the audit trail. Best-effort: audit failures are
// logged and never surface to participants.
func (e *Engine) recordTransition(ctx context.Context, s session.Session, from, to session.State, actorUserID, msg string) {
	if e.audit == nil {
		return
	}
	if err := e.audit.RecordTransition(ctx, s.WorkspaceID, s.ID, string(from), string(to), actorUserID, msg); err != nil {
		e.log.Warn("audit append failed", "session_id", s.ID, "error", err)
	}
}

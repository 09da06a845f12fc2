package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"voicelink/internal/directory"
	"voicelink/internal/event"
	"voicelink/internal/identity"
	"voicelink/internal/media"
	"voicelink/internal/presence"
	"voicelink/internal/session"
)

var (
	alice = identity.Participant{WorkspaceID: "ws-1", UserID: "alice", Kind: identity.KindMember}
	bob   = identity.Participant{WorkspaceID: "ws-1", UserID: "bob", Kind: identity.KindPortalCustomer}
	carol = identity.Participant{WorkspaceID: "ws-1", UserID: "carol", Kind: identity.KindMember}
)

type stubSender struct {
	mu        sync.Mutex
	envelopes map[identity.Participant][]event.Envelope

	// undeliverable simulates a channel that dropped between the presence
	// check and delivery.
	undeliverable map[identity.Participant]bool
}

func newStubSender() *stubSender {
	return &stubSender{envelopes: make(map[identity.Participant][]event.Envelope)}
}

func (s *stubSender) Send(p identity.Participant, env event.Envelope) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undeliverable[p] {
		return false
	}
	s.envelopes[p] = append(s.envelopes[p], env)
	return true
}

func (s *stubSender) dropDeliveriesTo(p identity.Participant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.undeliverable == nil {
		s.undeliverable = make(map[identity.Participant]bool)
	}
	s.undeliverable[p] = true
}

func (s *stubSender) Connected(p identity.Participant) bool { return true }

func (s *stubSender) received(p identity.Participant, t event.Type) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, env := range s.envelopes[p] {
		if env.Type == t {
			return true
		}
	}
	return false
}

type staticIssuer struct{}

func (staticIssuer) IssueToken(ctx context.Context, roomName string, p identity.Participant, displayName string) (string, error) {
	return "tok-" + p.UserID, nil
}

type failingIssuer struct{}

func (failingIssuer) IssueToken(ctx context.Context, roomName string, p identity.Participant, displayName string) (string, error) {
	return "", fmt.Errorf("%w: provider down", media.ErrTokenIssuance)
}

// countingReserver wraps the in-memory reserver so tests can assert how many
// names were actually claimed.
type countingReserver struct {
	inner *session.MemoryRoomReserver

	mu sync.Mutex
	n  int
}

func (r *countingReserver) Reserve(ctx context.Context, roomName string) error {
	if err := r.inner.Reserve(ctx, roomName); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.n++
	return nil
}

func (r *countingReserver) Reserved() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

type fixture struct {
	engine *Engine
	sender *stubSender
	repo   *session.MemoryRepo
	reg    *presence.Registry
	rooms  *countingReserver
}

func newFixture(t *testing.T, ringTimeout time.Duration, issuer media.TokenIssuer) *fixture {
	t.Helper()

	dir := directory.NewMemoryDirectory()
	dir.Add(directory.Member{Participant: alice, DisplayName: "Alice"})
	dir.Add(directory.Member{Participant: bob, DisplayName: "Bob"})
	dir.Add(directory.Member{Participant: carol, DisplayName: "Carol"})

	repo := session.NewMemoryRepo()
	reg := presence.NewRegistry(nil, time.Minute)
	sender := newStubSender()
	rooms := &countingReserver{inner: session.NewMemoryRoomReserver()}

	e := New(nil, Config{RingTimeout: ringTimeout}, repo, rooms,
		issuer, media.NoopRooms{}, reg, dir, nil)
	e.SetSender(sender)
	reg.SetOnOffline(e.OnParticipantDisconnected)

	reg.SetOnline(alice)
	reg.SetOnline(bob)
	reg.SetOnline(carol)

	return &fixture{engine: e, sender: sender, repo: repo, reg: reg, rooms: rooms}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition never met")
}

func (f *fixture) mustState(t *testing.T, sessionID string, want session.State) {
	t.Helper()
	s, err := f.repo.FindByID(context.Background(), sessionID)
	if err != nil {
		t.Fatalf("find session: %v", err)
	}
	if s.State != want {
		t.Fatalf("session state = %s, want %s", s.State, want)
	}
}

func TestAcceptedCallConnectsAndEnds(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if s.State != session.StateRinging {
		t.Fatalf("state after initiate = %s, want RINGING", s.State)
	}
	if !f.sender.received(bob, event.TypeCallIncoming) {
		t.Fatal("callee never got call:incoming")
	}
	if !f.sender.received(alice, event.TypeCallRinging) {
		t.Fatal("caller never got call:ringing")
	}
	if f.reg.StatusOf(alice) != presence.StatusBusy || f.reg.StatusOf(bob) != presence.StatusBusy {
		t.Fatal("both parties should be BUSY while the call is live")
	}

	if err := f.engine.AcceptCall(ctx, bob, s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitFor(t, func() bool {
		return f.sender.received(alice, event.TypeCallAccepted) &&
			f.sender.received(bob, event.TypeCallAccepted)
	})
	f.mustState(t, s.ID, session.StateConnected)

	if err := f.engine.EndCall(ctx, alice, s.ID); err != nil {
		t.Fatalf("end: %v", err)
	}
	f.mustState(t, s.ID, session.StateEnded)
	if !f.sender.received(bob, event.TypeCallEnded) {
		t.Fatal("callee never got call:ended")
	}

	stored, _ := f.repo.FindByID(ctx, s.ID)
	if stored.AnsweredAt == nil || stored.EndedAt == nil {
		t.Fatal("answered/ended timestamps missing on a completed call")
	}
	if f.reg.StatusOf(alice) != presence.StatusOnline || f.reg.StatusOf(bob) != presence.StatusOnline {
		t.Fatal("busy flags should clear after the call ends")
	}

	// Both are free again.
	if _, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice"); err != nil {
		t.Fatalf("second call after hangup: %v", err)
	}
}

func TestRejectNotifiesCallerOnce(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.RejectCall(ctx, bob, s.ID, "busy right now"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	f.mustState(t, s.ID, session.StateRejected)
	if !f.sender.received(alice, event.TypeCallRejected) {
		t.Fatal("caller never got call:rejected")
	}

	// The session is terminal and gone from the live set.
	if err := f.engine.RejectCall(ctx, bob, s.ID, ""); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("second reject: got %v, want ErrInvalidState", err)
	}
}

func TestOnlyCalleeMayAcceptOrReject(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if err := f.engine.AcceptCall(ctx, alice, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("caller accept: got %v, want ErrInvalidState", err)
	}
	if err := f.engine.RejectCall(ctx, carol, s.ID, ""); !errors.Is(err, ErrUnauthorizedParticipant) {
		t.Fatalf("stranger reject: got %v, want ErrUnauthorizedParticipant", err)
	}
	if err := f.engine.EndCall(ctx, carol, s.ID); !errors.Is(err, ErrUnauthorizedParticipant) {
		t.Fatalf("stranger end: got %v, want ErrUnauthorizedParticipant", err)
	}
}

func TestRingTimeoutClosesAsMissed(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, staticIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	waitFor(t, func() bool {
		return f.sender.received(alice, event.TypeCallMissed) &&
			f.sender.received(bob, event.TypeCallMissed)
	})
	f.mustState(t, s.ID, session.StateMissed)

	// The timer fired; a late accept must lose cleanly.
	if err := f.engine.AcceptCall(ctx, bob, s.ID); !errors.Is(err, ErrInvalidState) {
		t.Fatalf("late accept: got %v, want ErrInvalidState", err)
	}
}

func TestAcceptCancelsRingTimer(t *testing.T) {
	f := newFixture(t, 50*time.Millisecond, staticIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.AcceptCall(ctx, bob, s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitFor(t, func() bool { return f.sender.received(alice, event.TypeCallAccepted) })

	time.Sleep(120 * time.Millisecond)
	f.mustState(t, s.ID, session.StateConnected)
	if f.sender.received(alice, event.TypeCallMissed) {
		t.Fatal("ring timer fired after the call was accepted")
	}
}

func TestOneActiveCallPerParticipant(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	if _, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice"); err != nil {
		t.Fatalf("initiate: %v", err)
	}

	if _, err := f.engine.InitiateCall(ctx, alice, carol.UserID, "Alice"); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("caller double-dial: got %v, want ErrAlreadyInCall", err)
	}
	if _, err := f.engine.InitiateCall(ctx, carol, bob.UserID, "Carol"); !errors.Is(err, ErrCalleeUnavailable) {
		t.Fatalf("dialing a busy callee: got %v, want ErrCalleeUnavailable", err)
	}
}

func TestOfflineCalleeFailsFast(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	f.reg.SetOffline(bob)

	if _, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice"); !errors.Is(err, ErrCalleeUnavailable) {
		t.Fatalf("offline callee: got %v, want ErrCalleeUnavailable", err)
	}
	if _, err := f.engine.InitiateCall(ctx, alice, "nobody", "Alice"); !errors.Is(err, ErrCalleeUnavailable) {
		t.Fatalf("unknown callee: got %v, want ErrCalleeUnavailable", err)
	}

	// Nothing was persisted and the caller stays free.
	if _, err := f.repo.FindActiveByParticipant(ctx, alice); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected no active session, got %v", err)
	}
}

func TestTokenIssuanceFailureFailsTheCall(t *testing.T) {
	f := newFixture(t, time.Minute, failingIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.AcceptCall(ctx, bob, s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}

	waitFor(t, func() bool {
		return f.sender.received(alice, event.TypeCallFailed) &&
			f.sender.received(bob, event.TypeCallFailed)
	})
	f.mustState(t, s.ID, session.StateFailed)
	if f.reg.StatusOf(alice) != presence.StatusOnline {
		t.Fatal("busy flag should clear after a failed call")
	}
}

func TestDisconnectDuringConnectedEndsCall(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if err := f.engine.AcceptCall(ctx, bob, s.ID); err != nil {
		t.Fatalf("accept: %v", err)
	}
	waitFor(t, func() bool { return f.sender.received(bob, event.TypeCallAccepted) })

	// Heartbeat expiry and explicit close both land here via the registry.
	f.reg.SetOffline(bob)

	f.mustState(t, s.ID, session.StateEnded)
	if !f.sender.received(alice, event.TypeCallEnded) {
		t.Fatal("surviving party never got call:ended")
	}
	stored, _ := f.repo.FindByID(ctx, s.ID)
	if stored.EndReason != "peer disconnected" {
		t.Fatalf("end reason = %q, want peer disconnected", stored.EndReason)
	}
}

func TestDisconnectWhileRingingFailsCall(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}

	f.reg.SetOffline(bob)

	f.mustState(t, s.ID, session.StateFailed)
	if !f.sender.received(alice, event.TypeCallFailed) {
		t.Fatal("caller never got call:failed")
	}
}

func TestDeliveryRaceRingsToMissed(t *testing.T) {
	f := newFixture(t, 30*time.Millisecond, staticIssuer{})
	ctx := context.Background()

	// Bob reads ONLINE in the registry but his channel is already gone.
	f.sender.dropDeliveriesTo(bob)

	s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
	if err != nil {
		t.Fatalf("initiate against a dropping channel must still ring: %v", err)
	}
	if s.State != session.StateRinging {
		t.Fatalf("state after initiate = %s, want RINGING", s.State)
	}
	if !f.sender.received(alice, event.TypeCallRinging) {
		t.Fatal("caller never got call:ringing")
	}

	waitFor(t, func() bool { return f.sender.received(alice, event.TypeCallMissed) })
	f.mustState(t, s.ID, session.StateMissed)
}

func TestConcurrentAcceptAndEndHaveOneWinner(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	for i := 0; i < 50; i++ {
		s, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
		if err != nil {
			t.Fatalf("iteration %d: initiate: %v", i, err)
		}

		var acceptErr, endErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			acceptErr = f.engine.AcceptCall(ctx, bob, s.ID)
		}()
		go func() {
			defer wg.Done()
			endErr = f.engine.EndCall(ctx, alice, s.ID)
		}()
		wg.Wait()

		// End always lands: either it beat the accept, or it hung up the
		// connecting call. Accept loses cleanly when end got there first.
		if endErr != nil {
			t.Fatalf("iteration %d: end: %v", i, endErr)
		}
		if acceptErr != nil && !errors.Is(acceptErr, ErrInvalidState) {
			t.Fatalf("iteration %d: losing accept: got %v, want ErrInvalidState", i, acceptErr)
		}
		f.mustState(t, s.ID, session.StateEnded)

		// Both participants must be fully released for the next round.
		waitFor(t, func() bool {
			return f.reg.StatusOf(alice) == presence.StatusOnline &&
				f.reg.StatusOf(bob) == presence.StatusOnline
		})
	}
}

func TestInitiateDisconnectRaceNeverStrandsSession(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	for i := 0; i < 200; i++ {
		f.reg.SetOnline(bob)

		var s session.Session
		var initErr error
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			s, initErr = f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice")
		}()
		go func() {
			defer wg.Done()
			f.reg.SetOffline(bob)
		}()
		wg.Wait()

		if initErr != nil {
			// The disconnect won; nothing may linger for either participant.
			if _, err := f.repo.FindActiveByParticipant(ctx, alice); !errors.Is(err, session.ErrNotFound) {
				t.Fatalf("iteration %d: failed initiate left an active session (%v)", i, err)
			}
			continue
		}

		// The initiate won. Whatever the cascade did afterwards, the session
		// must either still be endable or already closed terminally; a
		// non-terminal session the engine no longer tracks is stranded.
		if err := f.engine.EndCall(ctx, alice, s.ID); err != nil {
			stored, ferr := f.repo.FindByID(ctx, s.ID)
			if ferr != nil {
				t.Fatalf("iteration %d: find session: %v", i, ferr)
			}
			if !stored.State.Terminal() {
				t.Fatalf("iteration %d: session %s stranded in %s", i, s.ID, stored.State)
			}
		}
	}
}

func TestFailedInitiateDoesNotBurnRoomNames(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	if _, err := f.engine.InitiateCall(ctx, alice, bob.UserID, "Alice"); err != nil {
		t.Fatalf("initiate: %v", err)
	}
	// Rejected initiates must not reserve anything. Dialing while already in a
	// call fails at the claim, which happens before any reservation.
	if _, err := f.engine.InitiateCall(ctx, alice, carol.UserID, "Alice"); !errors.Is(err, ErrAlreadyInCall) {
		t.Fatalf("double dial: got %v, want ErrAlreadyInCall", err)
	}
	if _, err := f.engine.InitiateCall(ctx, carol, bob.UserID, "Carol"); !errors.Is(err, ErrCalleeUnavailable) {
		t.Fatalf("busy callee: got %v, want ErrCalleeUnavailable", err)
	}

	if got := f.rooms.Reserved(); got != 1 {
		t.Fatalf("room reservations = %d, want 1", got)
	}
}

func TestHandleEventRepliesWithErrorEnvelopes(t *testing.T) {
	f := newFixture(t, time.Minute, staticIssuer{})
	ctx := context.Background()

	f.engine.HandleEvent(ctx, alice, event.Envelope{Type: "call:dance"})
	if !f.sender.received(alice, event.TypeError) {
		t.Fatal("malformed event should produce an error envelope")
	}

	f.reg.SetOffline(bob)
	env := event.Envelope{Type: event.TypeCallInitiate, Payload: []byte(`{"callee_id":"bob"}`)}
	f.engine.HandleEvent(ctx, alice, env)

	f.sender.mu.Lock()
	defer f.sender.mu.Unlock()
	var sawUnavailable bool
	for _, got := range f.sender.envelopes[alice] {
		if got.Type == event.TypeError && strings.Contains(string(got.Payload), CodeCalleeUnavailable) {
			sawUnavailable = true
		}
	}
	if !sawUnavailable {
		t.Fatal("unavailable callee should produce a CALLEE_UNAVAILABLE error envelope")
	}
}

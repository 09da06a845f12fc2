package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"voicelink/internal/identity"
)

func TestMemoryRepo_FindActiveSkipsTerminal(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()

	caller := identity.Participant{WorkspaceID: "w", UserID: "a", Kind: identity.KindMember}
	callee := identity.Participant{WorkspaceID: "w", UserID: "b", Kind: identity.KindPortalCustomer}

	ended := Session{ID: "s1", WorkspaceID: "w", Caller: caller, Callee: callee, State: StateEnded, CreatedAt: time.Now()}
	if err := repo.Save(ctx, ended); err != nil {
		t.Fatalf("save: %v", err)
	}

	if _, err := repo.FindActiveByParticipant(ctx, caller); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for terminal-only history, got %v", err)
	}

	live := Session{ID: "s2", WorkspaceID: "w", Caller: caller, Callee: callee, State: StateRinging, CreatedAt: time.Now()}
	if err := repo.Save(ctx, live); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.FindActiveByParticipant(ctx, callee)
	if err != nil {
		t.Fatalf("find active: %v", err)
	}
	if got.ID != "s2" {
		t.Fatalf("expected s2, got %q", got.ID)
	}
}

func TestMemoryRepo_ListByParticipantNewestFirst(t *testing.T) {
	repo := NewMemoryRepo()
	ctx := context.Background()
	p := identity.Participant{WorkspaceID: "w", UserID: "a", Kind: identity.KindMember}
	other := identity.Participant{WorkspaceID: "w", UserID: "b", Kind: identity.KindMember}

	base := time.Unix(1700000000, 0)
	for i, id := range []string{"old", "mid", "new"} {
		s := Session{ID: id, WorkspaceID: "w", Caller: p, Callee: other, State: StateEnded, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		if err := repo.Save(ctx, s); err != nil {
			t.Fatalf("save: %v", err)
		}
	}

	got, err := repo.ListByParticipant(ctx, p, 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[0].ID != "new" || got[1].ID != "mid" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestMemoryRoomReserver_RejectsDuplicates(t *testing.T) {
	r := NewMemoryRoomReserver()
	ctx := context.Background()

	if err := r.Reserve(ctx, "call-1"); err != nil {
		t.Fatalf("first reserve: %v", err)
	}
	if err := r.Reserve(ctx, "call-1"); !errors.Is(err, ErrRoomTaken) {
		t.Fatalf("expected ErrRoomTaken, got %v", err)
	}
	if err := r.Reserve(ctx, "call-2"); err != nil {
		t.Fatalf("second name reserve: %v", err)
	}
}

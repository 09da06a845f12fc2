package presence

import (
	"testing"
	"time"

	"voicelink/internal/identity"
)

func member(ws, id string) identity.Participant {
	return identity.Participant{WorkspaceID: ws, UserID: id, Kind: identity.KindMember}
}

func TestRegistry_MissingEntryReadsOffline(t *testing.T) {
	r := NewRegistry(nil, time.Minute)
	if got := r.StatusOf(member("w", "u")); got != StatusOffline {
		t.Fatalf("expected OFFLINE, got %q", got)
	}
	// Presence ops on unknown participants never fail.
	r.ClearBusy(member("w", "u"))
	r.MarkBusy(member("w", "u"))
	r.SetOffline(member("w", "u"))
}

func TestRegistry_OnlineBusyLifecycle(t *testing.T) {
	r := NewRegistry(nil, time.Minute)
	p := member("w", "u1")

	r.SetOnline(p)
	if got := r.StatusOf(p); got != StatusOnline {
		t.Fatalf("expected ONLINE, got %q", got)
	}

	r.MarkBusy(p)
	if got := r.StatusOf(p); got != StatusBusy {
		t.Fatalf("expected BUSY, got %q", got)
	}

	r.ClearBusy(p)
	if got := r.StatusOf(p); got != StatusOnline {
		t.Fatalf("expected ONLINE after clear, got %q", got)
	}
}

func TestRegistry_ListAvailableFiltersTenantBusyAndSelf(t *testing.T) {
	r := NewRegistry(nil, time.Minute)
	self := member("w", "self")
	free := member("w", "free")
	busy := member("w", "busy")
	other := member("w2", "other")

	for _, p := range []identity.Participant{self, free, busy, other} {
		r.SetOnline(p)
	}
	r.MarkBusy(busy)

	got := r.ListAvailable("w", self)
	if len(got) != 1 {
		t.Fatalf("expected 1 available, got %d", len(got))
	}
	if got[0].Participant != free {
		t.Fatalf("expected %v, got %v", free, got[0].Participant)
	}
}

func TestRegistry_SetOfflineCascadesOnce(t *testing.T) {
	r := NewRegistry(nil, time.Minute)
	p := member("w", "u1")

	var cascaded []identity.Participant
	r.SetOnOffline(func(gone identity.Participant) {
		cascaded = append(cascaded, gone)
	})

	r.SetOnline(p)
	r.SetOffline(p)
	r.SetOffline(p) // unknown now, must not cascade again

	if len(cascaded) != 1 || cascaded[0] != p {
		t.Fatalf("expected a single cascade for %v, got %v", p, cascaded)
	}
}

func TestRegistry_SweepExpiredCascades(t *testing.T) {
	r := NewRegistry(nil, 30*time.Second)

	now := time.Unix(1700000000, 0)
	r.clock = func() time.Time { return now }

	stale := member("w", "stale")
	fresh := member("w", "fresh")
	r.SetOnline(stale)

	now = now.Add(31 * time.Second)
	r.SetOnline(fresh)

	var cascaded []identity.Participant
	r.SetOnOffline(func(gone identity.Participant) {
		cascaded = append(cascaded, gone)
	})

	r.SweepExpired()

	if len(cascaded) != 1 || cascaded[0] != stale {
		t.Fatalf("expected only stale participant to expire, got %v", cascaded)
	}
	if got := r.StatusOf(fresh); got != StatusOnline {
		t.Fatalf("expected fresh participant to stay ONLINE, got %q", got)
	}
}

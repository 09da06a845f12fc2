package presence

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"voicelink/internal/identity"
)

// Registry tracks which participants are currently reachable for calls.
//
// It is owned by the signaling layer and the call engine; nothing else mutates
// it. Presence operations never fail the caller: a missing entry simply reads
// as OFFLINE.
type Registry struct {
	log          *slog.Logger
	heartbeatTTL time.Duration
	clock        func() time.Time

	mu      sync.Mutex
	records map[identity.Participant]*entry

	// onOffline is invoked (outside the registry lock) whenever a participant
	// transitions to OFFLINE, whether by explicit disconnect or heartbeat
	// expiry. The call engine hooks this to fail the participant's live call.
	onOffline func(identity.Participant)
}

type entry struct {
	busy            bool
	lastHeartbeatAt time.Time
}

func NewRegistry(log *slog.Logger, heartbeatTTL time.Duration) *Registry {
	if log == nil {
		log = slog.Default()
	}
	if heartbeatTTL <= 0 {
		heartbeatTTL = 30 * time.Second
	}
	return &Registry{
		log:          log,
		heartbeatTTL: heartbeatTTL,
		clock:        time.Now,
		records:      make(map[identity.Participant]*entry),
	}
}

// SetOnOffline registers the disconnect cascade. Must be called during wiring,
// before any channel connects.
func (r *Registry) SetOnOffline(fn func(identity.Participant)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onOffline = fn
}

// SetOnline marks a participant reachable. Idempotent.
func (r *Registry) SetOnline(p identity.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.records[p]
	if e == nil {
		e = &entry{}
		r.records[p] = e
	}
	e.lastHeartbeatAt = r.clock()
}

// SetOffline removes a participant and triggers the offline cascade if the
// participant was known. Idempotent; unknown participants are a no-op.
func (r *Registry) SetOffline(p identity.Participant) {
	r.mu.Lock()
	_, known := r.records[p]
	delete(r.records, p)
	fn := r.onOffline
	r.mu.Unlock()

	if known && fn != nil {
		fn(p)
	}
}

// MarkBusy flags a participant as party to a live call.
func (r *Registry) MarkBusy(p identity.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.records[p]; e != nil {
		e.busy = true
	}
}

// ClearBusy releases the busy flag. Safe to call after disconnect.
func (r *Registry) ClearBusy(p identity.Participant) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e := r.records[p]; e != nil {
		e.busy = false
	}
}

// StatusOf reports the participant's current status.
func (r *Registry) StatusOf(p identity.Participant) Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := r.records[p]
	switch {
	case e == nil:
		return StatusOffline
	case e.busy:
		return StatusBusy
	default:
		return StatusOnline
	}
}

// RecordHeartbeat refreshes the participant's liveness window. A heartbeat
// from an unknown participant re-registers it; the channel is authenticated,
// so this is safe.
func (r *Registry) RecordHeartbeat(p identity.Participant) {
	r.SetOnline(p)
}

// ListAvailable returns all ONLINE, non-busy participants in a tenant except
// the excluded one. Used to populate "who can I call" listings.
func (r *Registry) ListAvailable(workspaceID string, excluding identity.Participant) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Record
	for p, e := range r.records {
		if p.WorkspaceID != workspaceID || p == excluding || e.busy {
			continue
		}
		out = append(out, Record{Participant: p, Status: StatusOnline, LastHeartbeatAt: e.lastHeartbeatAt})
	}
	return out
}

// SweepExpired marks participants OFFLINE when no heartbeat arrived within the
// TTL, cascading exactly like an explicit disconnect.
func (r *Registry) SweepExpired() {
	now := r.clock()

	r.mu.Lock()
	var expired []identity.Participant
	for p, e := range r.records {
		if now.Sub(e.lastHeartbeatAt) > r.heartbeatTTL {
			expired = append(expired, p)
			delete(r.records, p)
		}
	}
	fn := r.onOffline
	r.mu.Unlock()

	for _, p := range expired {
		r.log.Info("presence heartbeat expired", "participant", p.String())
		if fn != nil {
			fn(p)
		}
	}
}

// Run sweeps heartbeats until the context is canceled.
func (r *Registry) Run(ctx context.Context) {
	interval := r.heartbeatTTL / 3
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.SweepExpired()
		}
	}
}

package session

import (
	"context"
	"sort"
	"sync"

	"voicelink/internal/identity"
)

// MemoryRepo is an in-memory repository useful for tests and local runs.
type MemoryRepo struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{sessions: make(map[string]Session)}
}

func (r *MemoryRepo) Save(ctx context.Context, s Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.ID] = s
	return nil
}

func (r *MemoryRepo) FindByID(ctx context.Context, id string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (r *MemoryRepo) FindActiveByParticipant(ctx context.Context, p identity.Participant) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if !s.State.Terminal() && s.Party(p) {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (r *MemoryRepo) FindByExternalRef(ctx context.Context, ref string) (Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.sessions {
		if s.ExternalRef != "" && s.ExternalRef == ref {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (r *MemoryRepo) ListByParticipant(ctx context.Context, p identity.Participant, limit int) ([]Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []Session
	for _, s := range r.sessions {
		if s.Party(p) {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

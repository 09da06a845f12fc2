package directory

import (
	"context"
	"sync"
)

// MemoryDirectory is an in-memory directory for tests and local runs.
type MemoryDirectory struct {
	mu      sync.Mutex
	members map[string]Member // key: workspaceID + "/" + userID
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{members: make(map[string]Member)}
}

func (d *MemoryDirectory) Add(m Member) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.members[key(m.Participant.WorkspaceID, m.Participant.UserID)] = m
}

func (d *MemoryDirectory) Resolve(ctx context.Context, workspaceID, userID string) (Member, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.members[key(workspaceID, userID)]
	if !ok {
		return Member{}, ErrNotFound
	}
	return m, nil
}

func key(workspaceID, userID string) string {
	return workspaceID + "/" + userID
}

// Package directory is the narrow interface to the surrounding CRM's
// identity data. The engine uses it to resolve callees within a tenant and to
// label participants; everything else about users and contacts stays external.
package directory

import (
	"context"
	"errors"

	"voicelink/internal/identity"
)

var ErrNotFound = errors.New("directory: member not found")

// Member is a resolvable call target inside a tenant.
type Member struct {
	Participant identity.Participant
	DisplayName string
}

type Directory interface {
	// Resolve looks up a user or portal customer within a workspace.
	// Returns ErrNotFound for unknown ids and for ids from other workspaces;
	// cross-tenant resolution is impossible by construction.
	Resolve(ctx context.Context, workspaceID, userID string) (Member, error)
}

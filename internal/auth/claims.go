package auth

import (
	"github.com/golang-jwt/jwt/v5"

	"voicelink/internal/identity"
)

type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Claims are the only supported JWT claims shape for this service.
//
// Multi-tenant invariant: WorkspaceID must be present on every token.
// Kind distinguishes tenant members from portal customers; it is resolved
// server-side at login and never trusted from a request body.
type Claims struct {
	jwt.RegisteredClaims

	UserID      string        `json:"user_id"`
	WorkspaceID string        `json:"workspace_id"`
	Kind        identity.Kind `json:"kind"`
	DisplayName string        `json:"display_name,omitempty"`
	TokenType   TokenType     `json:"token_type"`
}

// Participant converts verified claims into the call identity used everywhere
// downstream. Only valid after Verify.
func (c Claims) Participant() identity.Participant {
	return identity.Participant{
		WorkspaceID: c.WorkspaceID,
		UserID:      c.UserID,
		Kind:        c.Kind,
	}
}

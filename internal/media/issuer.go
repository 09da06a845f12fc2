// Package media adapts the external real-time media room service. The engine
// only mints join tokens and manages room lifecycle here; audio transport is
// entirely outside this process.
package media

import (
	"context"
	"errors"

	"voicelink/internal/identity"
)

// ErrTokenIssuance wraps every issuer failure. The call engine treats any
// error from IssueToken as fatal to the call attempt.
var ErrTokenIssuance = errors.New("media: token issuance failed")

// TokenIssuer mints short-lived per-participant room tokens. Tokens are
// opaque bearer credentials scoped to exactly one room and one identity; the
// engine never inspects them.
type TokenIssuer interface {
	IssueToken(ctx context.Context, roomName string, p identity.Participant, displayName string) (string, error)
}

// RoomManager controls room lifecycle at the media service. All operations
// are best-effort from the engine's point of view; the media service also
// garbage-collects empty rooms on its own.
type RoomManager interface {
	CreateRoom(ctx context.Context, roomName string) error
	DeleteRoom(ctx context.Context, roomName string) error
}

// NoopRooms is used when no media service is configured (tests, local runs).
type NoopRooms struct{}

func (NoopRooms) CreateRoom(ctx context.Context, roomName string) error { return nil }
func (NoopRooms) DeleteRoom(ctx context.Context, roomName string) error { return nil }

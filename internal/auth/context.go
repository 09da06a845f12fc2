package auth

import (
	"context"
	"errors"

	"voicelink/internal/identity"
)

type ctxKey int

const (
	ctxParticipant ctxKey = iota
	ctxDisplayName
)

func WithParticipant(ctx context.Context, p identity.Participant, displayName string) context.Context {
	ctx = context.WithValue(ctx, ctxParticipant, p)
	ctx = context.WithValue(ctx, ctxDisplayName, displayName)
	return ctx
}

func ParticipantFrom(ctx context.Context) (identity.Participant, error) {
	if p, ok := ctx.Value(ctxParticipant).(identity.Participant); ok && p.Valid() {
		return p, nil
	}
	return identity.Participant{}, errors.New("participant not in context")
}

func DisplayNameFrom(ctx context.Context) string {
	if s, ok := ctx.Value(ctxDisplayName).(string); ok {
		return s
	}
	return ""
}

package media

import (
	"context"
	"fmt"

	lkauth "github.com/livekit/protocol/auth"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"

	"voicelink/internal/config"
	"voicelink/internal/identity"
)

// LiveKitIssuer mints LiveKit room join tokens.
type LiveKitIssuer struct {
	cfg config.LiveKitConfig
}

func NewLiveKitIssuer(cfg config.LiveKitConfig) *LiveKitIssuer {
	return &LiveKitIssuer{cfg: cfg}
}

func (i *LiveKitIssuer) IssueToken(ctx context.Context, roomName string, p identity.Participant, displayName string) (string, error) {
	if i.cfg.APIKey == "" || i.cfg.APISecret == "" {
		return "", fmt.Errorf("%w: credentials not configured", ErrTokenIssuance)
	}
	if roomName == "" || !p.Valid() {
		return "", fmt.Errorf("%w: room and participant required", ErrTokenIssuance)
	}

	at := lkauth.NewAccessToken(i.cfg.APIKey, i.cfg.APISecret)
	grant := &lkauth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.AddGrant(grant).
		SetIdentity(p.String()).
		SetName(displayName).
		SetValidFor(i.cfg.TokenTTL)

	tok, err := at.ToJWT()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenIssuance, err)
	}
	return tok, nil
}

// LiveKitRooms manages room lifecycle through the LiveKit server API.
// A nil client (no host configured) degrades to a no-op; LiveKit creates
// rooms implicitly on first join and times out empty ones.
type LiveKitRooms struct {
	client *lksdk.RoomServiceClient
}

func NewLiveKitRooms(cfg config.LiveKitConfig) *LiveKitRooms {
	var client *lksdk.RoomServiceClient
	if cfg.Host != "" && cfg.APIKey != "" && cfg.APISecret != "" {
		client = lksdk.NewRoomServiceClient(cfg.Host, cfg.APIKey, cfg.APISecret)
	}
	return &LiveKitRooms{client: client}
}

func (r *LiveKitRooms) CreateRoom(ctx context.Context, roomName string) error {
	if r.client == nil {
		return nil
	}
	_, err := r.client.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            roomName,
		EmptyTimeout:    300, // seconds; media service reaps abandoned rooms
		MaxParticipants: 2,
	})
	return err
}

func (r *LiveKitRooms) DeleteRoom(ctx context.Context, roomName string) error {
	if r.client == nil {
		return nil
	}
	_, err := r.client.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: roomName})
	return err
}

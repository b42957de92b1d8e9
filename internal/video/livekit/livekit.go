package livekit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/doctordirect/consult-relay/internal/video"
)

// Engine implements video.Engine using LiveKit as the media backend.
// LiveKit creates rooms on demand when the first participant joins.
type Engine struct {
	apiKey    string
	apiSecret string
	wsURL     string
	validFor  time.Duration
}

// New creates a new Engine.
func New(apiKey, apiSecret, wsURL string) (*Engine, error) {
	if apiKey == "" || apiSecret == "" || wsURL == "" {
		return nil, errors.New("livekit: url, api key and api secret are required")
	}
	return &Engine{
		apiKey:    apiKey,
		apiSecret: apiSecret,
		wsURL:     wsURL,
		validFor:  time.Hour,
	}, nil
}

// JoinInfo signs a room-join grant for participant.
func (e *Engine) JoinInfo(_ context.Context, roomID string, p video.Participant) (*video.JoinInfo, error) {
	if roomID == "" || p.UserID == "" {
		return nil, errors.New("livekit: room and participant are required")
	}

	roomName := video.RoomName(roomID)
	metadata, err := json.Marshal(map[string]string{"role": p.Role})
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	at := auth.NewAccessToken(e.apiKey, e.apiSecret)
	grant := &auth.VideoGrant{
		RoomJoin: true,
		Room:     roomName,
	}
	at.AddGrant(grant).
		SetIdentity(p.UserID).
		SetName(p.DisplayName).
		SetMetadata(string(metadata)).
		SetValidFor(e.validFor)

	token, err := at.ToJWT()
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	return &video.JoinInfo{
		URL:      e.wsURL,
		Token:    token,
		RoomName: roomName,
		Identity: p.UserID,
	}, nil
}

var _ video.Engine = (*Engine)(nil)

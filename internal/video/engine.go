package video

import (
	"context"
	"errors"
	"fmt"
)

// ErrDisabled is returned when no video backend is configured.
var ErrDisabled = errors.New("video is not configured")

// JoinInfo contains information needed to join a video consultation.
type JoinInfo struct {
	URL      string `json:"url"`      // WebSocket URL of the media server
	Token    string `json:"token"`    // Access token for the media server
	RoomName string `json:"roomName"` // Media room name
	Identity string `json:"identity"` // Participant identity in the media room
}

// Participant identifies who is joining the media room.
type Participant struct {
	UserID      string
	DisplayName string
	Role        string
}

// Engine abstracts the media backend for video consultations.
type Engine interface {
	// JoinInfo creates join credentials for participant in the media room of roomID.
	JoinInfo(ctx context.Context, roomID string, participant Participant) (*JoinInfo, error)
}

// RoomName maps a consultation room id to its media room name.
func RoomName(roomID string) string {
	return fmt.Sprintf("consult-%s", roomID)
}

// Disabled is an Engine that always fails with ErrDisabled.
type Disabled struct{}

func (Disabled) JoinInfo(context.Context, string, Participant) (*JoinInfo, error) {
	return nil, ErrDisabled
}

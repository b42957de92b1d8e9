package client

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/doctordirect/consult-relay/internal/proto"
)

// SmokeOptions configures a one-shot end-to-end check.
type SmokeOptions struct {
	URL    string
	UserID string
	Role   string
	Token  string
	RoomID string
	Text   string
}

// Smoke authenticates, joins a room, sends one message and waits for it to
// come back persisted. It returns the delivered message.
func Smoke(ctx context.Context, opts SmokeOptions) (*proto.EventMessage, error) {
	c, err := Dial(ctx, opts.URL)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	if _, err := c.Authenticate(ctx, proto.AuthenticateData{UserID: opts.UserID, Role: opts.Role, Token: opts.Token}); err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}
	if _, err := c.Join(ctx, opts.RoomID); err != nil {
		return nil, fmt.Errorf("join: %w", err)
	}

	clientID := uuid.NewString()
	if err := c.Send(ctx, proto.InboundTypeSendMessage, proto.SendMessageData{
		RoomID:          opts.RoomID,
		Content:         opts.Text,
		ClientMessageID: clientID,
	}); err != nil {
		return nil, err
	}

	for {
		var msg proto.EventMessage
		if err := c.WaitFor(ctx, proto.EventMessageReceived, &msg); err != nil {
			return nil, fmt.Errorf("wait for delivery: %w", err)
		}
		if msg.ClientMessageID == clientID {
			return &msg, nil
		}
	}
}

// Package client is a small websocket client for the relay protocol, used by
// the chat and smoke commands.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/doctordirect/consult-relay/internal/proto"
)

// Frame is an outbound relay frame with its data left raw.
type Frame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *proto.Error    `json:"error,omitempty"`
}

// ProtocolError is an error frame returned by the relay.
type ProtocolError struct {
	Code            string
	Message         string
	RoomID          string
	ClientMessageID string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Client is one websocket connection to the relay.
type Client struct {
	conn *websocket.Conn
}

// Dial connects to the relay websocket endpoint at url.
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	return &Client{conn: conn}, nil
}

// Close closes the connection normally.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

// Send writes one inbound frame.
func (c *Client) Send(ctx context.Context, typ string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", typ, err)
	}
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		return fmt.Errorf("send %s: %w", typ, err)
	}
	return nil
}

// Next reads the next outbound frame.
func (c *Client) Next(ctx context.Context) (Frame, error) {
	var f Frame
	if err := wsjson.Read(ctx, c.conn, &f); err != nil {
		return f, err
	}
	return f, nil
}

// WaitFor reads frames until event arrives and decodes its data into out.
// An error frame ends the wait with a *ProtocolError.
func (c *Client) WaitFor(ctx context.Context, event string, out any) error {
	for {
		f, err := c.Next(ctx)
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if f.Type == proto.OutboundTypeError && f.Error != nil {
			return &ProtocolError{
				Code:            f.Error.Code,
				Message:         f.Error.Message,
				RoomID:          f.Error.RoomID,
				ClientMessageID: f.Error.ClientMessageID,
			}
		}
		if f.Event != event {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(f.Data, out); err != nil {
				return fmt.Errorf("decode %s: %w", event, err)
			}
		}
		return nil
	}
}

// Authenticate binds an identity and waits for the ack.
func (c *Client) Authenticate(ctx context.Context, data proto.AuthenticateData) (proto.User, error) {
	if data.Protocol == 0 {
		data.Protocol = proto.ProtocolVersion
	}
	if err := c.Send(ctx, proto.InboundTypeAuthenticate, data); err != nil {
		return proto.User{}, err
	}
	var ack proto.EventAuthenticatedData
	if err := c.WaitFor(ctx, proto.EventAuthenticated, &ack); err != nil {
		return proto.User{}, err
	}
	return ack.User, nil
}

// Join joins roomID and waits for the ack.
func (c *Client) Join(ctx context.Context, roomID string) (proto.EventJoinedData, error) {
	var joined proto.EventJoinedData
	if err := c.Send(ctx, proto.InboundTypeJoin, proto.RoomData{RoomID: roomID}); err != nil {
		return joined, err
	}
	err := c.WaitFor(ctx, proto.EventJoined, &joined)
	return joined, err
}

// Format renders a frame as one human-readable line.
func Format(f Frame) string {
	if f.Type == proto.OutboundTypeError && f.Error != nil {
		return fmt.Sprintf("! %s: %s", f.Error.Code, f.Error.Message)
	}

	switch f.Event {
	case proto.EventMessageReceived:
		var m proto.EventMessage
		if err := json.Unmarshal(f.Data, &m); err == nil {
			return fmt.Sprintf("[%s] %s (%s): %s", m.RoomID, m.SenderName, m.SenderRole, m.Content)
		}
	case proto.EventHistory:
		var h proto.EventHistoryData
		if err := json.Unmarshal(f.Data, &h); err == nil {
			lines := make([]string, 0, len(h.Messages)+1)
			lines = append(lines, fmt.Sprintf("[%s] history: %d messages", h.RoomID, len(h.Messages)))
			for _, m := range h.Messages {
				lines = append(lines, fmt.Sprintf("  %s: %s", m.SenderName, m.Content))
			}
			return strings.Join(lines, "\n")
		}
	case proto.EventUserJoined, proto.EventUserLeft, proto.EventUserTyping, proto.EventUserStoppedTyping:
		var u proto.EventUserData
		if err := json.Unmarshal(f.Data, &u); err == nil {
			return fmt.Sprintf("[%s] %s %s", u.RoomID, u.User.DisplayName, strings.TrimPrefix(f.Event, "user-"))
		}
	case proto.EventStatusUpdate:
		var s proto.EventStatusData
		if err := json.Unmarshal(f.Data, &s); err == nil {
			return fmt.Sprintf("[%s] status %s by %s", s.RoomID, s.Status, s.ChangedBy)
		}
	}
	return fmt.Sprintf("event=%s data=%s", f.Event, string(f.Data))
}

package proto

import "encoding/json"

// Inbound is the envelope for messages coming from the client.
type Inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	ProtocolVersion = 1

	InboundTypeAuthenticate = "authenticate"
	InboundTypeJoin         = "join-consultation"
	InboundTypeLeave        = "leave-consultation"
	InboundTypeSendMessage  = "send-message"
	InboundTypeTypingStart  = "typing-start"
	InboundTypeTypingStop   = "typing-stop"
	InboundTypeMarkRead     = "mark-read"
	InboundTypeUpdateStatus = "update-status"

	OutboundTypeEvent = "event"
	OutboundTypeError = "error"

	EventAuthenticated     = "authenticated"
	EventJoined            = "joined-consultation"
	EventUserJoined        = "user-joined"
	EventUserLeft          = "user-left"
	EventMessageReceived   = "message-received"
	EventUserTyping        = "user-typing"
	EventUserStoppedTyping = "user-stopped-typing"
	EventHistory           = "history"
	EventMessageRead       = "message-read"
	EventStatusUpdate      = "status-update"
)

// AuthenticateData binds an identity to the connection. Token, when present,
// is validated and takes precedence over the claimed fields.
type AuthenticateData struct {
	UserID      string `json:"userId" validate:"required_without=Token,max=128"`
	DisplayName string `json:"displayName,omitempty" validate:"max=128"`
	Role        string `json:"role,omitempty" validate:"omitempty,oneof=patient doctor admin"`
	Token       string `json:"token,omitempty"`
	Protocol    int    `json:"protocol,omitempty" validate:"gte=0"`
}

// RoomData addresses a consultation room.
type RoomData struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
}

// Attachment references a file uploaded out of band.
type Attachment struct {
	URL      string `json:"url" validate:"required,url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty" validate:"gte=0"`
}

// SendMessageData is a chat message from the client.
type SendMessageData struct {
	RoomID          string       `json:"roomId" validate:"required,max=128"`
	Content         string       `json:"content" validate:"max=8000"`
	MessageType     string       `json:"messageType,omitempty" validate:"omitempty,oneof=text image file prescription system"`
	Attachments     []Attachment `json:"attachments,omitempty" validate:"max=10,dive"`
	ClientMessageID string       `json:"clientMessageId,omitempty" validate:"max=128"`
}

// MarkReadData acknowledges a message.
type MarkReadData struct {
	RoomID    string `json:"roomId" validate:"required,max=128"`
	MessageID string `json:"messageId" validate:"required,max=128"`
}

// UpdateStatusData changes the consultation status.
type UpdateStatusData struct {
	RoomID string `json:"roomId" validate:"required,max=128"`
	Status string `json:"status" validate:"required,oneof=waiting in_progress completed cancelled"`
}

// Outbound is the envelope for messages sent to the client.
type Outbound struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error *Error `json:"error,omitempty"`
}

// User is an identity as presented to clients.
type User struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
	Role        string `json:"role"`
}

// EventAuthenticatedData confirms the bound identity.
type EventAuthenticatedData struct {
	User     User `json:"user"`
	Protocol int  `json:"protocol"`
}

// EventJoinedData confirms a join and lists who is in the room.
type EventJoinedData struct {
	RoomID       string `json:"roomId"`
	Participants []User `json:"participants"`
}

// EventUserData notifies that a user joined, left or changed typing state.
type EventUserData struct {
	RoomID string `json:"roomId"`
	User   User   `json:"user"`
}

// EventMessage is a persisted message.
type EventMessage struct {
	ID              string       `json:"id"`
	RoomID          string       `json:"roomId"`
	SenderID        string       `json:"senderId"`
	SenderName      string       `json:"senderName"`
	SenderRole      string       `json:"senderRole"`
	Content         string       `json:"content"`
	Type            string       `json:"type"`
	Attachments     []Attachment `json:"attachments,omitempty"`
	Timestamp       string       `json:"timestamp"`
	ClientMessageID string       `json:"clientMessageId,omitempty"`
}

// EventHistoryData delivers recent messages on join, oldest first.
type EventHistoryData struct {
	RoomID   string         `json:"roomId"`
	Messages []EventMessage `json:"messages"`
}

// EventMessageReadData notifies that a user read a message.
type EventMessageReadData struct {
	RoomID    string `json:"roomId"`
	MessageID string `json:"messageId"`
	UserID    string `json:"userId"`
	ReadAt    string `json:"readAt"`
}

// EventStatusData notifies about a consultation status change.
type EventStatusData struct {
	RoomID    string `json:"roomId"`
	Status    string `json:"status"`
	ChangedBy string `json:"changedBy"`
	ChangedAt string `json:"changedAt"`
}

// Error describes a protocol-level error response.
type Error struct {
	Code            string `json:"code"`
	Message         string `json:"message"`
	RoomID          string `json:"roomId,omitempty"`
	ClientMessageID string `json:"clientMessageId,omitempty"`
}

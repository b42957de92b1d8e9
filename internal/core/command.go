package core

import "github.com/doctordirect/consult-relay/internal/store"

// CommandKind describes what the client wants to do.
type CommandKind int

const (
	// CommandAuthenticate binds an identity to the connection.
	CommandAuthenticate CommandKind = iota
	// CommandJoinRoom subscribes the connection to a consultation room.
	CommandJoinRoom
	// CommandLeaveRoom unsubscribes the connection from a room.
	CommandLeaveRoom
	// CommandSendRoomMessage persists a message and delivers it to room members.
	CommandSendRoomMessage
	// CommandTypingStart tells other members the user started typing.
	CommandTypingStart
	// CommandTypingStop tells other members the user stopped typing.
	CommandTypingStop
	// CommandMarkRead records a read receipt for a message.
	CommandMarkRead
	// CommandUpdateStatus changes the consultation status.
	CommandUpdateStatus
	// CommandReject reports a frame the transport could not decode. It is
	// answered with Reject once the connection is authenticated.
	CommandReject
)

// MessageDraft is a message as submitted by a client, before persistence.
type MessageDraft struct {
	Content     string
	Type        store.MessageType
	Attachments []store.Attachment
	// ClientMessageID is an opaque client token echoed back on delivery or failure.
	ClientMessageID string
}

// Command represents an action requested by a connection.
type Command struct {
	Kind      CommandKind
	Room      string
	Identity  Identity
	Message   MessageDraft
	MessageID string
	Status    store.ConsultationStatus
	Reject    *CoreError
}

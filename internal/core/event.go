package core

import "github.com/doctordirect/consult-relay/internal/store"

// EventKind is a notification the relay emits to connections.
type EventKind int

const (
	// EventAuthenticated confirms the identity bound to the connection.
	EventAuthenticated EventKind = iota
	// EventJoined confirms a join to the joiner and lists current participants.
	EventJoined
	// EventUserJoined notifies members about a user joining the room.
	EventUserJoined
	// EventUserLeft notifies members about a user leaving the room.
	EventUserLeft
	// EventRoomMessage delivers a persisted message to room members.
	EventRoomMessage
	// EventTyping notifies members that a user started typing.
	EventTyping
	// EventStoppedTyping notifies members that a user stopped typing.
	EventStoppedTyping
	// EventHistory delivers recent messages to a connection upon joining.
	EventHistory
	// EventReceipt notifies members that a user read a message.
	EventReceipt
	// EventStatus notifies members about a consultation status change.
	EventStatus
	// EventError reports a failed operation to the originating connection.
	EventError
)

var eventKindNames = [...]string{
	EventAuthenticated: "authenticated",
	EventJoined:        "joined",
	EventUserJoined:    "user_joined",
	EventUserLeft:      "user_left",
	EventRoomMessage:   "message",
	EventTyping:        "typing",
	EventStoppedTyping: "stopped_typing",
	EventHistory:       "history",
	EventReceipt:       "receipt",
	EventStatus:        "status",
	EventError:         "error",
}

func (k EventKind) String() string {
	if int(k) < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// Event is sent to connections to describe what happened in a room.
// Events are shared between recipients and must be treated as read-only.
type Event struct {
	Kind         EventKind
	Room         string
	User         *Identity
	Message      *store.Message
	Messages     []*store.Message // For EventHistory
	Participants []Identity       // For EventJoined
	Receipt      *store.Receipt
	Status       *store.StatusChange
	// ClientMessageID echoes MessageDraft.ClientMessageID on EventRoomMessage and EventError.
	ClientMessageID string
	Error           *CoreError
}

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/core"
	"github.com/doctordirect/consult-relay/internal/proto"
	"github.com/doctordirect/consult-relay/internal/store"
)

// mapper turns inbound frames into relay commands.
type mapper struct {
	validate *validator.Validate
	resolver *auth.Resolver
}

func newMapper(resolver *auth.Resolver) *mapper {
	return &mapper{validate: validator.New(validator.WithRequiredStructEnabled()), resolver: resolver}
}

// inboundToCommand decodes and validates inbound. A non-nil proto.Error is
// reported to the client and the connection stays open.
func (m *mapper) inboundToCommand(inbound proto.Inbound) (*core.Command, *proto.Error) {
	switch inbound.Type {
	case proto.InboundTypeAuthenticate:
		var data proto.AuthenticateData
		if perr := m.decode(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		if data.Protocol > proto.ProtocolVersion {
			return nil, &proto.Error{
				Code:    core.ErrCodeUnsupportedProtocol,
				Message: fmt.Sprintf("protocol %d is not supported, server speaks %d", data.Protocol, proto.ProtocolVersion),
			}
		}
		identity, err := m.resolver.Resolve(data.Token, core.Identity{
			UserID:      data.UserID,
			DisplayName: data.DisplayName,
			Role:        core.Role(data.Role),
		})
		if err != nil {
			msg := "invalid token"
			if errors.Is(err, auth.ErrTokenRequired) {
				msg = "token required"
			}
			return nil, &proto.Error{Code: core.ErrCodeUnauthenticated, Message: msg}
		}
		return &core.Command{Kind: core.CommandAuthenticate, Identity: identity}, nil

	case proto.InboundTypeJoin, proto.InboundTypeLeave, proto.InboundTypeTypingStart, proto.InboundTypeTypingStop:
		var data proto.RoomData
		if perr := m.decode(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		kinds := map[string]core.CommandKind{
			proto.InboundTypeJoin:        core.CommandJoinRoom,
			proto.InboundTypeLeave:       core.CommandLeaveRoom,
			proto.InboundTypeTypingStart: core.CommandTypingStart,
			proto.InboundTypeTypingStop:  core.CommandTypingStop,
		}
		return &core.Command{Kind: kinds[inbound.Type], Room: data.RoomID}, nil

	case proto.InboundTypeSendMessage:
		var data proto.SendMessageData
		if perr := m.decode(inbound.Data, &data); perr != nil {
			perr.RoomID = data.RoomID
			perr.ClientMessageID = data.ClientMessageID
			return nil, perr
		}
		attachments := make([]store.Attachment, 0, len(data.Attachments))
		for _, a := range data.Attachments {
			attachments = append(attachments, store.Attachment{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size})
		}
		return &core.Command{
			Kind: core.CommandSendRoomMessage,
			Room: data.RoomID,
			Message: core.MessageDraft{
				Content:         data.Content,
				Type:            store.MessageType(data.MessageType),
				Attachments:     attachments,
				ClientMessageID: data.ClientMessageID,
			},
		}, nil

	case proto.InboundTypeMarkRead:
		var data proto.MarkReadData
		if perr := m.decode(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandMarkRead, Room: data.RoomID, MessageID: data.MessageID}, nil

	case proto.InboundTypeUpdateStatus:
		var data proto.UpdateStatusData
		if perr := m.decode(inbound.Data, &data); perr != nil {
			return nil, perr
		}
		return &core.Command{Kind: core.CommandUpdateStatus, Room: data.RoomID, Status: store.ConsultationStatus(data.Status)}, nil

	default:
		return nil, &proto.Error{Code: core.ErrCodeMalformedEvent, Message: fmt.Sprintf("unknown message type %q", inbound.Type)}
	}
}

// rejectCommand defers a decode failure to the relay so that unauthenticated
// connections get unauthenticated before any payload error.
func rejectCommand(perr *proto.Error) *core.Command {
	return &core.Command{
		Kind:    core.CommandReject,
		Room:    perr.RoomID,
		Message: core.MessageDraft{ClientMessageID: perr.ClientMessageID},
		Reject:  &core.CoreError{Code: perr.Code, Message: perr.Message},
	}
}

func (m *mapper) decode(raw json.RawMessage, dst any) *proto.Error {
	if len(raw) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return &proto.Error{Code: core.ErrCodeMalformedEvent, Message: "invalid payload"}
	}
	if err := m.validate.Struct(dst); err != nil {
		return &proto.Error{Code: core.ErrCodeMalformedEvent, Message: validationMessage(err)}
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid payload"
	}
	fe := verrs[0]
	field := fe.Field()
	if len(field) > 0 {
		field = strings.ToLower(field[:1]) + field[1:]
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

func outboundFromEvent(event *core.Event) proto.Outbound {
	switch event.Kind {
	case core.EventAuthenticated:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventAuthenticated,
			Data:  proto.EventAuthenticatedData{User: userFromIdentity(derefIdentity(event.User)), Protocol: proto.ProtocolVersion},
		}
	case core.EventJoined:
		participants := make([]proto.User, 0, len(event.Participants))
		for _, p := range event.Participants {
			participants = append(participants, userFromIdentity(p))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventJoined,
			Data:  proto.EventJoinedData{RoomID: event.Room, Participants: participants},
		}
	case core.EventUserJoined, core.EventUserLeft, core.EventTyping, core.EventStoppedTyping:
		names := map[core.EventKind]string{
			core.EventUserJoined:    proto.EventUserJoined,
			core.EventUserLeft:      proto.EventUserLeft,
			core.EventTyping:        proto.EventUserTyping,
			core.EventStoppedTyping: proto.EventUserStoppedTyping,
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: names[event.Kind],
			Data:  proto.EventUserData{RoomID: event.Room, User: userFromIdentity(derefIdentity(event.User))},
		}
	case core.EventRoomMessage:
		msg := messageFromStore(event.Message)
		msg.ClientMessageID = event.ClientMessageID
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageReceived,
			Data:  msg,
		}
	case core.EventHistory:
		messages := make([]proto.EventMessage, 0, len(event.Messages))
		for _, m := range event.Messages {
			messages = append(messages, messageFromStore(m))
		}
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventHistory,
			Data:  proto.EventHistoryData{RoomID: event.Room, Messages: messages},
		}
	case core.EventReceipt:
		r := event.Receipt
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventMessageRead,
			Data: proto.EventMessageReadData{
				RoomID:    r.RoomID,
				MessageID: r.MessageID,
				UserID:    r.UserID,
				ReadAt:    formatTime(r.ReadAt),
			},
		}
	case core.EventStatus:
		return proto.Outbound{
			Type:  proto.OutboundTypeEvent,
			Event: proto.EventStatusUpdate,
			Data:  statusFromStore(event.Status),
		}
	case core.EventError:
		if event.Error == nil {
			return proto.Outbound{Type: proto.OutboundTypeError, Error: &proto.Error{Code: "unknown", Message: "unknown error"}}
		}
		return proto.Outbound{
			Type: proto.OutboundTypeError,
			Error: &proto.Error{
				Code:            event.Error.Code,
				Message:         event.Error.Message,
				RoomID:          event.Room,
				ClientMessageID: event.ClientMessageID,
			},
		}
	default:
		return proto.Outbound{Type: proto.OutboundTypeEvent}
	}
}

func derefIdentity(id *core.Identity) core.Identity {
	if id == nil {
		return core.Identity{}
	}
	return *id
}

func userFromIdentity(id core.Identity) proto.User {
	return proto.User{UserID: id.UserID, DisplayName: id.DisplayName, Role: string(id.Role)}
}

func messageFromStore(m *store.Message) proto.EventMessage {
	out := proto.EventMessage{
		ID:         m.ID,
		RoomID:     m.RoomID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		SenderRole: m.SenderRole,
		Content:    m.Content,
		Type:       string(m.Type),
		Timestamp:  formatTime(m.CreatedAt),
	}
	for _, a := range m.Attachments {
		out.Attachments = append(out.Attachments, proto.Attachment{URL: a.URL, Name: a.Name, MimeType: a.MimeType, Size: a.Size})
	}
	return out
}

func statusFromStore(s *store.StatusChange) proto.EventStatusData {
	return proto.EventStatusData{
		RoomID:    s.RoomID,
		Status:    string(s.Status),
		ChangedBy: s.ChangedBy,
		ChangedAt: formatTime(s.ChangedAt),
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/doctordirect/consult-relay/internal/core"
	"github.com/doctordirect/consult-relay/internal/proto"
	"github.com/doctordirect/consult-relay/internal/store"
	"github.com/doctordirect/consult-relay/internal/video"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ConsultationHandlers serves read endpoints for consultation rooms.
type ConsultationHandlers struct {
	relay *core.Relay
	store store.Store
	video video.Engine
	log   *zerolog.Logger
}

// NewConsultationHandlers creates a new consultation handlers instance.
func NewConsultationHandlers(relay *core.Relay, st store.Store, engine video.Engine, logger *zerolog.Logger) *ConsultationHandlers {
	return &ConsultationHandlers{
		relay: relay,
		store: st,
		video: engine,
		log:   logger,
	}
}

// MessagesResponse lists persisted messages, oldest first.
type MessagesResponse struct {
	RoomID   string               `json:"roomId"`
	Messages []proto.EventMessage `json:"messages"`
}

// ParticipantsResponse lists users currently connected to a room.
type ParticipantsResponse struct {
	RoomID       string       `json:"roomId"`
	Participants []proto.User `json:"participants"`
}

// canRead reports whether the caller may read a consultation's records:
// admins always, others only while they are live participants.
// It writes the error response when access is denied.
func (h *ConsultationHandlers) canRead(c *gin.Context, roomID string) bool {
	identity := identityFrom(c)
	if identity.Role == core.RoleAdmin {
		return true
	}

	ok, err := h.relay.IsParticipant(c.Request.Context(), roomID, identity.UserID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to check participant")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "relay unavailable"})
		return false
	}
	if !ok {
		h.log.Warn().Str("room_id", roomID).Str("user_id", identity.UserID).Msg("record access denied")
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "join the consultation first"})
		return false
	}
	return true
}

// ListMessages returns persisted history of a consultation.
// GET /api/consultations/:id/messages?limit=N
func (h *ConsultationHandlers) ListMessages(c *gin.Context) {
	roomID := c.Param("id")
	if !h.canRead(c, roomID) {
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	msgs, err := h.store.ListMessages(c.Request.Context(), roomID, limit)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	resp := MessagesResponse{RoomID: roomID, Messages: make([]proto.EventMessage, 0, len(msgs))}
	for _, m := range msgs {
		resp.Messages = append(resp.Messages, messageFromStore(m))
	}
	c.JSON(http.StatusOK, resp)
}

// GetStatus returns the last persisted status of a consultation.
// GET /api/consultations/:id/status
func (h *ConsultationHandlers) GetStatus(c *gin.Context) {
	roomID := c.Param("id")
	if !h.canRead(c, roomID) {
		return
	}

	status, err := h.store.GetStatus(c.Request.Context(), roomID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "no status recorded"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to get status")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	c.JSON(http.StatusOK, statusFromStore(status))
}

// ListParticipants returns the users currently joined to a consultation.
// GET /api/consultations/:id/participants
func (h *ConsultationHandlers) ListParticipants(c *gin.Context) {
	roomID := c.Param("id")

	members, _, err := h.relay.Members(c.Request.Context(), roomID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to list participants")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "relay unavailable"})
		return
	}

	resp := ParticipantsResponse{RoomID: roomID, Participants: make([]proto.User, 0, len(members))}
	for _, m := range members {
		resp.Participants = append(resp.Participants, userFromIdentity(m))
	}
	c.JSON(http.StatusOK, resp)
}

// JoinVideo returns media credentials for a live participant.
// POST /api/consultations/:id/video
func (h *ConsultationHandlers) JoinVideo(c *gin.Context) {
	roomID := c.Param("id")
	identity := identityFrom(c)

	ok, err := h.relay.IsParticipant(c.Request.Context(), roomID, identity.UserID)
	if err != nil {
		h.log.Error().Err(err).Str("room_id", roomID).Msg("failed to check participant")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "relay unavailable"})
		return
	}
	if !ok {
		c.JSON(http.StatusForbidden, ErrorResponse{Error: "join the consultation first"})
		return
	}

	info, err := h.video.JoinInfo(c.Request.Context(), roomID, video.Participant{
		UserID:      identity.UserID,
		DisplayName: identity.DisplayName,
		Role:        string(identity.Role),
	})
	if err != nil {
		if errors.Is(err, video.ErrDisabled) {
			c.JSON(http.StatusServiceUnavailable, ErrorResponse{Error: "video is not configured"})
			return
		}
		h.log.Error().Err(err).Str("room_id", roomID).Str("user_id", identity.UserID).Msg("failed to create video credentials")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	h.log.Info().Str("room_id", roomID).Str("user_id", identity.UserID).Str("media_room", info.RoomName).Msg("video credentials issued")
	c.JSON(http.StatusOK, info)
}

package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/core"
	"github.com/doctordirect/consult-relay/internal/proto"
)

const writeTimeout = 10 * time.Second

// WSOptions limits what a single websocket client may do.
type WSOptions struct {
	MessageRate     float64
	MessageBurst    int
	MaxMessageBytes int64
	AllowedOrigins  []string
}

// WSHandler upgrades HTTP connections and bridges them to the relay.
type WSHandler struct {
	relay  *core.Relay
	mapper *mapper
	opts   WSOptions
	log    *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(relay *core.Relay, resolver *auth.Resolver, opts WSOptions, logger *zerolog.Logger) stdhttp.Handler {
	return &WSHandler{relay: relay, mapper: newMapper(resolver), opts: opts, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	ctx := r.Context()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: len(h.opts.AllowedOrigins) == 0,
		OriginPatterns:     h.opts.AllowedOrigins,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "internal error")

	if h.opts.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.opts.MaxMessageBytes)
	}

	client := h.relay.NewConnection()
	if err := h.relay.Register(client); err != nil {
		h.log.Warn().Err(err).Msg("relay unavailable")
		conn.Close(websocket.StatusTryAgainLater, "relay unavailable")
		return
	}
	defer func() {
		if err := h.relay.Disconnect(client); err != nil && !errors.Is(err, core.ErrRelayStopped) {
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("disconnect")
		}
	}()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 2)
	go func() {
		errCh <- h.readLoop(ctx, conn, client)
	}()
	go func() {
		errCh <- h.writeLoop(ctx, conn, client)
	}()

	err = <-errCh
	cancel() // stop the other goroutine
	<-errCh

	status := websocket.StatusNormalClosure
	reason := "closing"
	if err != nil && !errors.Is(err, context.Canceled) {
		if errors.Is(err, io.EOF) {
			err = nil
		}
		if s := websocket.CloseStatus(err); s != -1 {
			status = s
		}
		if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
			err = nil
		}
		if err != nil {
			if status == websocket.StatusNormalClosure {
				status = websocket.StatusInternalError
			}
			reason = err.Error()
			h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
		}
	}

	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	limiter := newMessageLimiter(h.opts.MessageRate, h.opts.MessageBurst)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}

		var inbound proto.Inbound
		if err := json.Unmarshal(data, &inbound); err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("malformed ws frame")
			if err := h.writeError(ctx, conn, &proto.Error{Code: core.ErrCodeMalformedEvent, Message: "invalid json"}); err != nil {
				return err
			}
			continue
		}

		if rateLimited(inbound.Type) && !limiter.Allow() {
			if err := h.writeError(ctx, conn, &proto.Error{Code: core.ErrCodeRateLimited, Message: "slow down"}); err != nil {
				return err
			}
			continue
		}

		cmd, protoErr := h.mapper.inboundToCommand(inbound)
		if protoErr != nil {
			h.log.Debug().Str("conn_id", client.ID).Str("type", inbound.Type).Str("code", protoErr.Code).Msg(protoErr.Message)
			if inbound.Type == proto.InboundTypeAuthenticate {
				if err := h.writeError(ctx, conn, protoErr); err != nil {
					return err
				}
				continue
			}
			cmd = rejectCommand(protoErr)
		}

		if err := h.relay.Submit(client, cmd); err != nil {
			return err
		}
	}
}

func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	for {
		select {
		case event, ok := <-client.Events:
			if !ok {
				// The relay evicted the connection or is shutting down.
				return nil
			}
			if err := h.write(ctx, conn, outboundFromEvent(event)); err != nil {
				h.log.Error().Err(err).Str("conn_id", client.ID).Msg("write ws event")
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (h *WSHandler) writeError(ctx context.Context, conn *websocket.Conn, perr *proto.Error) error {
	return h.write(ctx, conn, proto.Outbound{Type: proto.OutboundTypeError, Error: perr})
}

func (h *WSHandler) write(ctx context.Context, conn *websocket.Conn, out proto.Outbound) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, out)
}

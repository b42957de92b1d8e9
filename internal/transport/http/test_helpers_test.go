package http

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/config"
	"github.com/doctordirect/consult-relay/internal/core"
	"github.com/doctordirect/consult-relay/internal/metrics"
	"github.com/doctordirect/consult-relay/internal/proto"
	"github.com/doctordirect/consult-relay/internal/store"
	"github.com/doctordirect/consult-relay/internal/store/sqlite"
	"github.com/doctordirect/consult-relay/internal/video"
)

const testSecret = "test-secret-change-me"

type testEnv struct {
	ts    *httptest.Server
	relay *core.Relay
	store store.Store
	jwt   *auth.JWTConfig
}

type envOption func(*config.Config, *Deps)

func withVideo(engine video.Engine) envOption {
	return func(_ *config.Config, d *Deps) { d.Video = engine }
}

func withRate(perSecond float64, burst int) envOption {
	return func(c *config.Config, _ *Deps) {
		c.WS.MessageRate = perSecond
		c.WS.MessageBurst = burst
	}
}

// startTestServer runs a relay over an in-memory sqlite store behind a test HTTP server.
func startTestServer(t *testing.T, mode auth.Mode, opts ...envOption) *testEnv {
	t.Helper()

	st, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	jwtCfg := &auth.JWTConfig{Secret: []byte(testSecret), Issuer: "ddrelay", TTL: time.Hour}
	resolver, err := auth.NewResolver(mode, jwtCfg)
	if err != nil {
		t.Fatalf("resolver: %v", err)
	}

	disabledLogger := zerolog.New(nil)
	reg := prometheus.NewRegistry()

	relay := core.NewRelay(st, &disabledLogger, core.Options{
		HistoryLimit: 20,
		Observer:     metrics.NewRelayMetrics(reg),
	})
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		_ = relay.Run(ctx)
		close(stopped)
	}()

	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.WS.MessageRate = 0
	deps := Deps{
		Relay:    relay,
		Store:    st,
		Resolver: resolver,
		Metrics:  metrics.NewHTTPMetrics(reg),
		Gatherer: reg,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	server := NewServer(deps, &cfg, &disabledLogger)
	ts := httptest.NewServer(server.Handler)
	t.Cleanup(func() {
		ts.Close()
		cancel()
		<-stopped
	})

	return &testEnv{ts: ts, relay: relay, store: st, jwt: jwtCfg}
}

func (e *testEnv) token(t *testing.T, userID, name, role string) string {
	t.Helper()
	tok, err := auth.GenerateToken(e.jwt, userID, name, role)
	if err != nil {
		t.Fatalf("token: %v", err)
	}
	return tok
}

// do sends an HTTP request with an optional bearer token and decodes a JSON response into out.
func (e *testEnv) do(t *testing.T, method, path, token string, out any) int {
	t.Helper()

	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.ts.Config.Handler.ServeHTTP(resp, req)

	if out != nil && resp.Code < 300 {
		if err := json.Unmarshal(resp.Body.Bytes(), out); err != nil {
			t.Fatalf("decode %s %s: %v (%s)", method, path, err, resp.Body.String())
		}
	}
	return resp.Code
}

// wsClient is a test websocket client speaking the relay protocol.
type wsClient struct {
	t    *testing.T
	conn *websocket.Conn
}

func (e *testEnv) dial(t *testing.T) *wsClient {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	wsURL := strings.Replace(e.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "done") })

	return &wsClient{t: t, conn: conn}
}

func (c *wsClient) send(typ string, data any) {
	c.t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		c.t.Fatalf("marshal: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := wsjson.Write(ctx, c.conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		c.t.Fatalf("send %s: %v", typ, err)
	}
}

func (c *wsClient) sendRaw(text string) {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(text)); err != nil {
		c.t.Fatalf("send raw: %v", err)
	}
}

// received is an outbound frame with its data left raw.
type received struct {
	Type  string          `json:"type"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
	Error *proto.Error    `json:"error"`
}

func (c *wsClient) read() received {
	c.t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	var out received
	if err := wsjson.Read(ctx, c.conn, &out); err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return out
}

// expectEvent reads frames until event arrives and decodes its data into out.
func (c *wsClient) expectEvent(event string, out any) {
	c.t.Helper()

	for attempt := 0; attempt < 50; attempt++ {
		frame := c.read()
		if frame.Type != proto.OutboundTypeEvent || frame.Event != event {
			continue
		}
		if out != nil {
			if err := json.Unmarshal(frame.Data, out); err != nil {
				c.t.Fatalf("decode %s: %v", event, err)
			}
		}
		return
	}
	c.t.Fatalf("event %s not received", event)
}

// expectError reads frames until an error frame arrives.
func (c *wsClient) expectError() *proto.Error {
	c.t.Helper()

	for attempt := 0; attempt < 50; attempt++ {
		frame := c.read()
		if frame.Type == proto.OutboundTypeError {
			if frame.Error == nil {
				c.t.Fatalf("error frame without error body")
			}
			return frame.Error
		}
	}
	c.t.Fatalf("error frame not received")
	return nil
}

func (c *wsClient) authenticate(userID, role string) {
	c.t.Helper()
	c.send(proto.InboundTypeAuthenticate, proto.AuthenticateData{UserID: userID, DisplayName: userID, Role: role})
	c.expectEvent(proto.EventAuthenticated, nil)
}

func (c *wsClient) join(roomID string) proto.EventJoinedData {
	c.t.Helper()
	c.send(proto.InboundTypeJoin, proto.RoomData{RoomID: roomID})
	var joined proto.EventJoinedData
	c.expectEvent(proto.EventJoined, &joined)
	return joined
}

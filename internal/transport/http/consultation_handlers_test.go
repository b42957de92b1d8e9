package http

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/proto"
	"github.com/doctordirect/consult-relay/internal/store"
	"github.com/doctordirect/consult-relay/internal/video"
	"github.com/doctordirect/consult-relay/internal/video/livekit"
)

func TestAPIRequiresBearerToken(t *testing.T) {
	env := startTestServer(t, auth.ModeTrust)

	if code := env.do(t, http.MethodGet, "/api/consultations/1/messages", "", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", code)
	}
	if code := env.do(t, http.MethodGet, "/api/consultations/1/messages", "garbage", nil); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", code)
	}

	var me proto.User
	token := env.token(t, "pat-1", "Pat", "patient")
	if code := env.do(t, http.MethodGet, "/api/me", token, &me); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if me.UserID != "pat-1" || me.Role != "patient" {
		t.Fatalf("unexpected identity: %+v", me)
	}
}

func TestListMessages(t *testing.T) {
	env := startTestServer(t, auth.ModeTrust)
	ctx := context.Background()

	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, text := range []string{"a", "b", "c"} {
		err := env.store.RecordMessage(ctx, &store.Message{
			RoomID:    "consult-5",
			SenderID:  "doc",
			Content:   text,
			Type:      store.MessageTypeText,
			CreatedAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("record: %v", err)
		}
	}
	token := env.token(t, "ops", "", "admin")

	var resp MessagesResponse
	if code := env.do(t, http.MethodGet, "/api/consultations/consult-5/messages?limit=2", token, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(resp.Messages) != 2 || resp.Messages[0].Content != "b" || resp.Messages[1].Content != "c" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}

	if code := env.do(t, http.MethodGet, "/api/consultations/consult-5/messages?limit=zero", token, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", code)
	}

	resp = MessagesResponse{}
	if code := env.do(t, http.MethodGet, "/api/consultations/empty/messages", token, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Messages == nil || len(resp.Messages) != 0 {
		t.Fatalf("expected empty list, got %+v", resp.Messages)
	}
}

func TestGetStatus(t *testing.T) {
	env := startTestServer(t, auth.ModeTrust)
	token := env.token(t, "ops", "", "admin")

	if code := env.do(t, http.MethodGet, "/api/consultations/consult-3/status", token, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}

	err := env.store.UpdateStatus(context.Background(), &store.StatusChange{
		RoomID:    "consult-3",
		Status:    store.StatusCompleted,
		ChangedBy: "doc",
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}

	var status proto.EventStatusData
	if code := env.do(t, http.MethodGet, "/api/consultations/consult-3/status", token, &status); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if status.Status != "completed" || status.ChangedBy != "doc" {
		t.Fatalf("unexpected status: %+v", status)
	}
}

func TestRecordsRequireParticipation(t *testing.T) {
	env := startTestServer(t, auth.ModeTrust)
	ctx := context.Background()

	err := env.store.RecordMessage(ctx, &store.Message{
		RoomID:     "consult-42",
		SenderID:   "dr-house",
		SenderRole: "doctor",
		Content:    "Rx: amoxicillin 500mg",
		Type:       store.MessageTypePrescription,
		CreatedAt:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	err = env.store.UpdateStatus(ctx, &store.StatusChange{
		RoomID:    "consult-42",
		Status:    store.StatusInProgress,
		ChangedBy: "dr-house",
		ChangedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("update status: %v", err)
	}

	outsider := env.token(t, "mallory", "", "patient")
	for _, path := range []string{"/api/consultations/consult-42/messages", "/api/consultations/consult-42/status"} {
		if code := env.do(t, http.MethodGet, path, outsider, nil); code != http.StatusForbidden {
			t.Fatalf("%s: expected 403 for outsider, got %d", path, code)
		}
	}

	c := env.dial(t)
	c.authenticate("pat-42", "patient")
	c.join("consult-42")

	member := env.token(t, "pat-42", "", "patient")
	var resp MessagesResponse
	if code := env.do(t, http.MethodGet, "/api/consultations/consult-42/messages", member, &resp); code != http.StatusOK {
		t.Fatalf("expected 200 for participant, got %d", code)
	}
	if len(resp.Messages) != 1 || resp.Messages[0].Type != "prescription" {
		t.Fatalf("unexpected messages: %+v", resp.Messages)
	}
	if code := env.do(t, http.MethodGet, "/api/consultations/consult-42/status", member, nil); code != http.StatusOK {
		t.Fatalf("expected 200 status for participant, got %d", code)
	}
}

func TestListParticipants(t *testing.T) {
	env := startTestServer(t, auth.ModeTrust)
	token := env.token(t, "admin", "", "admin")

	c := env.dial(t)
	c.authenticate("pat-1", "patient")
	c.join("consult-8")

	var resp ParticipantsResponse
	if code := env.do(t, http.MethodGet, "/api/consultations/consult-8/participants", token, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(resp.Participants) != 1 || resp.Participants[0].UserID != "pat-1" {
		t.Fatalf("unexpected participants: %+v", resp.Participants)
	}

	resp = ParticipantsResponse{}
	if code := env.do(t, http.MethodGet, "/api/consultations/nobody/participants", token, &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if len(resp.Participants) != 0 {
		t.Fatalf("expected no participants, got %+v", resp.Participants)
	}
}

func TestJoinVideo(t *testing.T) {
	engine, err := livekit.New("devkey", "devsecret-devsecret-devsecret-32", "ws://localhost:7880")
	if err != nil {
		t.Fatalf("livekit: %v", err)
	}
	env := startTestServer(t, auth.ModeTrust, withVideo(engine))
	token := env.token(t, "doc-1", "Dr. One", "doctor")

	if code := env.do(t, http.MethodPost, "/api/consultations/consult-2/video", token, nil); code != http.StatusForbidden {
		t.Fatalf("expected 403 for non-participant, got %d", code)
	}

	c := env.dial(t)
	c.authenticate("doc-1", "doctor")
	c.join("consult-2")

	var info video.JoinInfo
	if code := env.do(t, http.MethodPost, "/api/consultations/consult-2/video", token, &info); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if info.RoomName != "consult-consult-2" || info.Identity != "doc-1" || !strings.HasPrefix(info.URL, "ws://") || info.Token == "" {
		t.Fatalf("unexpected join info: %+v", info)
	}
}

func TestJoinVideoDisabled(t *testing.T) {
	env := startTestServer(t, auth.ModeTrust)
	token := env.token(t, "doc-1", "", "doctor")

	c := env.dial(t)
	c.authenticate("doc-1", "doctor")
	c.join("consult-2")

	if code := env.do(t, http.MethodPost, "/api/consultations/consult-2/video", token, nil); code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	env := startTestServer(t, auth.ModeTrust)

	c := env.dial(t)
	c.authenticate("m", "patient")

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	for _, name := range []string{"ddrelay_relay_connections", "ddrelay_relay_events_total"} {
		if !strings.Contains(string(body), name) {
			t.Fatalf("metric %s missing from output", name)
		}
	}
}

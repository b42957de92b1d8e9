package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/doctordirect/consult-relay/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestRecordAndListMessages(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	for i, text := range []string{"one", "two", "three"} {
		msg := &store.Message{
			RoomID:     "consult-42",
			SenderID:   "u1",
			SenderName: "Dr. Who",
			SenderRole: "doctor",
			Content:    text,
			Type:       store.MessageTypeText,
			CreatedAt:  base.Add(time.Duration(i) * time.Second),
		}
		if err := s.RecordMessage(ctx, msg); err != nil {
			t.Fatalf("RecordMessage(%s): %v", text, err)
		}
		if msg.ID == "" {
			t.Fatalf("expected ID to be assigned for %s", text)
		}
	}

	// Message in another room must not leak.
	if err := s.RecordMessage(ctx, &store.Message{RoomID: "consult-7", SenderID: "u2", Content: "x", Type: store.MessageTypeText, CreatedAt: base}); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}

	tests := []struct {
		name     string
		limit    int
		expected []string
	}{
		{name: "all", limit: 10, expected: []string{"one", "two", "three"}},
		{name: "latest two", limit: 2, expected: []string{"two", "three"}},
		{name: "zero limit", limit: 0, expected: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msgs, err := s.ListMessages(ctx, "consult-42", tt.limit)
			if err != nil {
				t.Fatalf("ListMessages: %v", err)
			}
			if len(msgs) != len(tt.expected) {
				t.Fatalf("expected %d messages, got %d", len(tt.expected), len(msgs))
			}
			for i, msg := range msgs {
				if msg.Content != tt.expected[i] {
					t.Errorf("expected %q at %d, got %q", tt.expected[i], i, msg.Content)
				}
			}
		})
	}
}

func TestRecordMessageKeepsAttachmentsAndTimestamp(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 9, 30, 15, 0, time.UTC)

	msg := &store.Message{
		RoomID:   "consult-1",
		SenderID: "patient-1",
		Type:     store.MessageTypeFile,
		Attachments: []store.Attachment{
			{URL: "https://files.example/scan.pdf", Name: "scan.pdf", MimeType: "application/pdf", Size: 2048},
		},
		CreatedAt: ts,
	}
	if err := s.RecordMessage(ctx, msg); err != nil {
		t.Fatalf("RecordMessage: %v", err)
	}

	msgs, err := s.ListMessages(ctx, "consult-1", 1)
	if err != nil {
		t.Fatalf("ListMessages: %v", err)
	}
	if len(msgs) != 1 {
		t.Fatalf("expected 1 message, got %d", len(msgs))
	}
	got := msgs[0]
	if got.ID != msg.ID {
		t.Errorf("expected id %s, got %s", msg.ID, got.ID)
	}
	if !got.CreatedAt.Equal(ts) {
		t.Errorf("expected created_at %v, got %v", ts, got.CreatedAt)
	}
	if len(got.Attachments) != 1 || got.Attachments[0].Name != "scan.pdf" || got.Attachments[0].Size != 2048 {
		t.Errorf("unexpected attachments: %+v", got.Attachments)
	}
}

func TestMarkReadKeepsFirstReadAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	first := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	r1 := &store.Receipt{RoomID: "consult-1", MessageID: "5", UserID: "u1", ReadAt: first}
	if err := s.MarkRead(ctx, r1); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}

	r2 := &store.Receipt{RoomID: "consult-1", MessageID: "5", UserID: "u1", ReadAt: first.Add(time.Minute)}
	if err := s.MarkRead(ctx, r2); err != nil {
		t.Fatalf("MarkRead again: %v", err)
	}
	if !r2.ReadAt.Equal(first) {
		t.Fatalf("expected first read_at %v, got %v", first, r2.ReadAt)
	}
}

func TestStatusUpsert(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.GetStatus(ctx, "consult-9"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	now := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	for _, st := range []store.ConsultationStatus{store.StatusInProgress, store.StatusCompleted} {
		if err := s.UpdateStatus(ctx, &store.StatusChange{RoomID: "consult-9", Status: st, ChangedBy: "doc-1", ChangedAt: now}); err != nil {
			t.Fatalf("UpdateStatus(%s): %v", st, err)
		}
	}

	got, err := s.GetStatus(ctx, "consult-9")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != store.StatusCompleted || got.ChangedBy != "doc-1" {
		t.Fatalf("unexpected status: %+v", got)
	}
}

package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	goredis "github.com/redis/go-redis/v9"

	"github.com/doctordirect/consult-relay/internal/store"
)

// RedisStore implements store.Store on top of Redis.
// Messages live in one sorted set per room scored by a per-room sequence, so
// history keeps acceptance order even if the wall clock steps back.
type RedisStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// New connects to redisURL and verifies the connection.
// A positive ttl expires room keys after the last write.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*RedisStore, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	return &RedisStore{client: client, ttl: ttl}, nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client *goredis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// Close closes the Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func messagesKey(roomID string) string {
	return fmt.Sprintf("consult:%s:messages", roomID)
}

func sequenceKey(roomID string) string {
	return fmt.Sprintf("consult:%s:seq", roomID)
}

func receiptsKey(roomID, messageID string) string {
	return fmt.Sprintf("consult:%s:receipts:%s", roomID, messageID)
}

func statusKey(roomID string) string {
	return fmt.Sprintf("consult:%s:status", roomID)
}

// record is the JSON form stored in the sorted set.
type record struct {
	ID          string             `json:"id"`
	RoomID      string             `json:"roomId"`
	SenderID    string             `json:"senderId"`
	SenderName  string             `json:"senderName,omitempty"`
	SenderRole  string             `json:"senderRole,omitempty"`
	Content     string             `json:"content"`
	Type        string             `json:"type"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
	CreatedAt   int64              `json:"createdAt"`
}

// RecordMessage stores a message and sets a ULID as its ID.
func (s *RedisStore) RecordMessage(ctx context.Context, msg *store.Message) error {
	id := ulid.Make().String()

	data, err := json.Marshal(record{
		ID:          id,
		RoomID:      msg.RoomID,
		SenderID:    msg.SenderID,
		SenderName:  msg.SenderName,
		SenderRole:  msg.SenderRole,
		Content:     msg.Content,
		Type:        string(msg.Type),
		Attachments: msg.Attachments,
		CreatedAt:   msg.CreatedAt.UnixNano(),
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	seqKey := sequenceKey(msg.RoomID)
	seq, err := s.client.Incr(ctx, seqKey).Result()
	if err != nil {
		return fmt.Errorf("next sequence: %w", err)
	}

	key := messagesKey(msg.RoomID)
	pipe := s.client.TxPipeline()
	pipe.ZAdd(ctx, key, goredis.Z{
		Score:  float64(seq),
		Member: string(data),
	})
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
		pipe.Expire(ctx, seqKey, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store message: %w", err)
	}

	msg.ID = id
	return nil
}

// ListMessages returns up to limit most recent messages of a room, oldest first.
func (s *RedisStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		return []*store.Message{}, nil
	}

	raw, err := s.client.ZRevRange(ctx, messagesKey(roomID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("read messages: %w", err)
	}

	messages := make([]*store.Message, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var rec record
		if err := json.Unmarshal([]byte(raw[i]), &rec); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, &store.Message{
			ID:          rec.ID,
			RoomID:      rec.RoomID,
			SenderID:    rec.SenderID,
			SenderName:  rec.SenderName,
			SenderRole:  rec.SenderRole,
			Content:     rec.Content,
			Type:        store.MessageType(rec.Type),
			Attachments: rec.Attachments,
			CreatedAt:   time.Unix(0, rec.CreatedAt).UTC(),
		})
	}

	return messages, nil
}

// MarkRead records a receipt once per user and loads the stored ReadAt back into r.
func (s *RedisStore) MarkRead(ctx context.Context, r *store.Receipt) error {
	key := receiptsKey(r.RoomID, r.MessageID)

	if err := s.client.HSetNX(ctx, key, r.UserID, r.ReadAt.UTC().Format(time.RFC3339Nano)).Err(); err != nil {
		return fmt.Errorf("store receipt: %w", err)
	}
	if s.ttl > 0 {
		if err := s.client.Expire(ctx, key, s.ttl).Err(); err != nil {
			return fmt.Errorf("expire receipt: %w", err)
		}
	}

	stored, err := s.client.HGet(ctx, key, r.UserID).Result()
	if err != nil {
		return fmt.Errorf("read receipt: %w", err)
	}
	readAt, err := time.Parse(time.RFC3339Nano, stored)
	if err != nil {
		return fmt.Errorf("parse receipt time: %w", err)
	}
	r.ReadAt = readAt

	return nil
}

// UpdateStatus stores the latest status of a consultation.
func (s *RedisStore) UpdateStatus(ctx context.Context, change *store.StatusChange) error {
	key := statusKey(change.RoomID)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key,
		"status", string(change.Status),
		"changed_by", change.ChangedBy,
		"changed_at", change.ChangedAt.UTC().Format(time.RFC3339Nano),
	)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store status: %w", err)
	}
	return nil
}

// GetStatus returns the latest status, or store.ErrNotFound.
func (s *RedisStore) GetStatus(ctx context.Context, roomID string) (*store.StatusChange, error) {
	fields, err := s.client.HGetAll(ctx, statusKey(roomID)).Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return nil, fmt.Errorf("status of %s: %w", roomID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("read status: %w", err)
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("status of %s: %w", roomID, store.ErrNotFound)
	}

	changedAt, err := time.Parse(time.RFC3339Nano, fields["changed_at"])
	if err != nil {
		return nil, fmt.Errorf("parse status time: %w", err)
	}

	return &store.StatusChange{
		RoomID:    roomID,
		Status:    store.ConsultationStatus(fields["status"]),
		ChangedBy: fields["changed_by"],
		ChangedAt: changedAt,
	}, nil
}

// Ensure RedisStore implements store.Store.
var _ store.Store = (*RedisStore)(nil)

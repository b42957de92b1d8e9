package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/doctordirect/consult-relay/internal/store"
)

// Schema creates the tables used by the relay. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS consult_messages (
	id          UUID PRIMARY KEY,
	room_id     TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	sender_role TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT 'text',
	attachments JSONB NOT NULL DEFAULT '[]',
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_consult_messages_room ON consult_messages(room_id, created_at DESC);

CREATE TABLE IF NOT EXISTS consult_receipts (
	room_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	read_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS consult_status (
	room_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	changed_by TEXT NOT NULL,
	changed_at TIMESTAMPTZ NOT NULL
);
`

// Pool is the subset of *pgxpool.Pool used by the store.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements store.Store for PostgreSQL.
type PostgresStore struct {
	pool Pool
}

// New connects to dsn and applies Schema.
func New(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

// NewWithPool wraps an existing pool without touching the schema.
func NewWithPool(pool Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// RecordMessage persists a message and sets a UUID as its ID.
func (s *PostgresStore) RecordMessage(ctx context.Context, msg *store.Message) error {
	attachments := msg.Attachments
	if attachments == nil {
		attachments = []store.Attachment{}
	}
	data, err := json.Marshal(attachments)
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	id := uuid.NewString()
	_, err = s.pool.Exec(ctx, `
		INSERT INTO consult_messages (id, room_id, sender_id, sender_name, sender_role, content, type, attachments, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		id, msg.RoomID, msg.SenderID, msg.SenderName, msg.SenderRole, msg.Content, string(msg.Type), data, msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	msg.ID = id
	return nil
}

// ListMessages returns up to limit most recent messages of a room, oldest first.
func (s *PostgresStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		return []*store.Message{}, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, sender_id, sender_name, sender_role, content, type, attachments, created_at
		FROM consult_messages
		WHERE room_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2`,
		roomID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg         store.Message
			msgType     string
			attachments []byte
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.RoomID,
			&msg.SenderID,
			&msg.SenderName,
			&msg.SenderRole,
			&msg.Content,
			&msgType,
			&attachments,
			&msg.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		msg.Type = store.MessageType(msgType)
		if len(attachments) > 0 {
			if err := json.Unmarshal(attachments, &msg.Attachments); err != nil {
				return nil, fmt.Errorf("unmarshal attachments: %w", err)
			}
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// MarkRead records a receipt once per user and loads the stored ReadAt back into r.
func (s *PostgresStore) MarkRead(ctx context.Context, r *store.Receipt) error {
	err := s.pool.QueryRow(ctx, `
		INSERT INTO consult_receipts (room_id, message_id, user_id, read_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (message_id, user_id) DO UPDATE SET read_at = consult_receipts.read_at
		RETURNING read_at`,
		r.RoomID, r.MessageID, r.UserID, r.ReadAt.UTC(),
	).Scan(&r.ReadAt)
	if err != nil {
		return fmt.Errorf("upsert receipt: %w", err)
	}
	return nil
}

// UpdateStatus stores the latest status of a consultation.
func (s *PostgresStore) UpdateStatus(ctx context.Context, change *store.StatusChange) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO consult_status (room_id, status, changed_by, changed_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (room_id) DO UPDATE SET
			status = EXCLUDED.status,
			changed_by = EXCLUDED.changed_by,
			changed_at = EXCLUDED.changed_at`,
		change.RoomID, string(change.Status), change.ChangedBy, change.ChangedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

// GetStatus returns the latest status, or store.ErrNotFound.
func (s *PostgresStore) GetStatus(ctx context.Context, roomID string) (*store.StatusChange, error) {
	var (
		change store.StatusChange
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT room_id, status, changed_by, changed_at
		FROM consult_status
		WHERE room_id = $1`,
		roomID,
	).Scan(&change.RoomID, &status, &change.ChangedBy, &change.ChangedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("status of %s: %w", roomID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query status: %w", err)
	}
	change.Status = store.ConsultationStatus(status)
	return &change, nil
}

// Ensure PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

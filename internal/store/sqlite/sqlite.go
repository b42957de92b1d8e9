package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/mattn/go-sqlite3"

	"github.com/doctordirect/consult-relay/internal/store"
)

// Schema creates the tables used by the relay. It is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS messages (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id     TEXT NOT NULL,
	sender_id   TEXT NOT NULL,
	sender_name TEXT NOT NULL DEFAULT '',
	sender_role TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	type        TEXT NOT NULL DEFAULT 'text',
	attachments TEXT NOT NULL DEFAULT '[]',
	created_at  DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_messages_room ON messages(room_id, id DESC);

CREATE TABLE IF NOT EXISTS message_receipts (
	room_id    TEXT NOT NULL,
	message_id TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	read_at    DATETIME NOT NULL,
	PRIMARY KEY (message_id, user_id)
);

CREATE TABLE IF NOT EXISTS consultation_status (
	room_id    TEXT PRIMARY KEY,
	status     TEXT NOT NULL,
	changed_by TEXT NOT NULL,
	changed_at DATETIME NOT NULL
);
`

// SQLiteStore implements store.Store for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// New opens the database at dbPath and applies Schema.
func New(dbPath string) (*SQLiteStore, error) {
	return NewWithSetup(dbPath, func(db *sql.DB) error {
		_, err := db.Exec(Schema)
		return err
	})
}

// NewWithSetup creates a new SQLite store and runs a setup function.
// Useful for tests that need a custom schema or fixtures.
func NewWithSetup(dbPath string, setup func(*sql.DB) error) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite works best with a single connection; it also keeps :memory: databases shared.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if setup != nil {
		if err := setup(db); err != nil {
			db.Close()
			return nil, fmt.Errorf("setup: %w", err)
		}
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// ==== MessageStore implementation ====

// RecordMessage persists a message and sets its ID.
func (s *SQLiteStore) RecordMessage(ctx context.Context, msg *store.Message) error {
	attachments, err := json.Marshal(nonNilAttachments(msg.Attachments))
	if err != nil {
		return fmt.Errorf("marshal attachments: %w", err)
	}

	query := `
		INSERT INTO messages (room_id, sender_id, sender_name, sender_role, content, type, attachments, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		msg.RoomID,
		msg.SenderID,
		msg.SenderName,
		msg.SenderRole,
		msg.Content,
		string(msg.Type),
		string(attachments),
		msg.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("get last insert id: %w", err)
	}

	msg.ID = strconv.FormatInt(id, 10)
	return nil
}

// ListMessages returns up to limit most recent messages of a room, oldest first.
func (s *SQLiteStore) ListMessages(ctx context.Context, roomID string, limit int) ([]*store.Message, error) {
	if limit <= 0 {
		return []*store.Message{}, nil
	}

	query := `
		SELECT id, room_id, sender_id, sender_name, sender_role, content, type, attachments, created_at
		FROM messages
		WHERE room_id = ?
		ORDER BY id DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("query messages: %w", err)
	}
	defer rows.Close()

	var messages []*store.Message
	for rows.Next() {
		var (
			msg         store.Message
			id          int64
			msgType     string
			attachments string
		)
		if err := rows.Scan(
			&id,
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
		msg.ID = strconv.FormatInt(id, 10)
		msg.Type = store.MessageType(msgType)
		if err := json.Unmarshal([]byte(attachments), &msg.Attachments); err != nil {
			return nil, fmt.Errorf("unmarshal attachments: %w", err)
		}
		messages = append(messages, &msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}

	return messages, nil
}

// ==== ReceiptStore implementation ====

// MarkRead records a read receipt and loads the stored ReadAt back into r.
func (s *SQLiteStore) MarkRead(ctx context.Context, r *store.Receipt) error {
	query := `
		INSERT OR IGNORE INTO message_receipts (room_id, message_id, user_id, read_at)
		VALUES (?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query, r.RoomID, r.MessageID, r.UserID, r.ReadAt.UTC()); err != nil {
		return fmt.Errorf("insert receipt: %w", err)
	}

	err := s.db.QueryRowContext(ctx,
		`SELECT read_at FROM message_receipts WHERE message_id = ? AND user_id = ?`,
		r.MessageID, r.UserID,
	).Scan(&r.ReadAt)
	if err != nil {
		return fmt.Errorf("query receipt: %w", err)
	}

	return nil
}

// ==== ConsultationStore implementation ====

// UpdateStatus stores the latest status of a consultation.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, change *store.StatusChange) error {
	query := `
		INSERT INTO consultation_status (room_id, status, changed_by, changed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(room_id) DO UPDATE SET
			status = excluded.status,
			changed_by = excluded.changed_by,
			changed_at = excluded.changed_at
	`
	_, err := s.db.ExecContext(ctx, query, change.RoomID, string(change.Status), change.ChangedBy, change.ChangedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert status: %w", err)
	}
	return nil
}

// GetStatus returns the latest status of a consultation.
func (s *SQLiteStore) GetStatus(ctx context.Context, roomID string) (*store.StatusChange, error) {
	query := `
		SELECT room_id, status, changed_by, changed_at
		FROM consultation_status
		WHERE room_id = ?
	`
	var (
		change store.StatusChange
		status string
	)
	err := s.db.QueryRowContext(ctx, query, roomID).Scan(
		&change.RoomID,
		&status,
		&change.ChangedBy,
		&change.ChangedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("status of %s: %w", roomID, store.ErrNotFound)
		}
		return nil, fmt.Errorf("query status: %w", err)
	}
	change.Status = store.ConsultationStatus(status)

	return &change, nil
}

func nonNilAttachments(a []store.Attachment) []store.Attachment {
	if a == nil {
		return []store.Attachment{}
	}
	return a
}

// Ensure SQLiteStore implements store.Store.
var _ store.Store = (*SQLiteStore)(nil)

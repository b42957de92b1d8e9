package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// MessageType classifies the content of a consultation message.
type MessageType string

const (
	MessageTypeText         MessageType = "text"
	MessageTypeImage        MessageType = "image"
	MessageTypeFile         MessageType = "file"
	MessageTypePrescription MessageType = "prescription"
	MessageTypeSystem       MessageType = "system"
)

// Valid reports whether t is a known message type.
func (t MessageType) Valid() bool {
	switch t {
	case MessageTypeText, MessageTypeImage, MessageTypeFile, MessageTypePrescription, MessageTypeSystem:
		return true
	}
	return false
}

// ConsultationStatus is the lifecycle state of a consultation room.
type ConsultationStatus string

const (
	StatusWaiting    ConsultationStatus = "waiting"
	StatusInProgress ConsultationStatus = "in_progress"
	StatusCompleted  ConsultationStatus = "completed"
	StatusCancelled  ConsultationStatus = "cancelled"
)

// Valid reports whether s is a known consultation status.
func (s ConsultationStatus) Valid() bool {
	switch s {
	case StatusWaiting, StatusInProgress, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Attachment references a file shared in a consultation.
type Attachment struct {
	URL      string `json:"url"`
	Name     string `json:"name,omitempty"`
	MimeType string `json:"mimeType,omitempty"`
	Size     int64  `json:"size,omitempty"`
}

// Message represents a persisted consultation message.
type Message struct {
	ID          string
	RoomID      string
	SenderID    string
	SenderName  string
	SenderRole  string
	Content     string
	Type        MessageType
	Attachments []Attachment
	CreatedAt   time.Time
}

// Receipt records that a user has read a message.
type Receipt struct {
	RoomID    string
	MessageID string
	UserID    string
	ReadAt    time.Time
}

// StatusChange records a consultation status transition.
type StatusChange struct {
	RoomID    string
	Status    ConsultationStatus
	ChangedBy string
	ChangedAt time.Time
}

// MessageStore handles message persistence.
type MessageStore interface {
	// RecordMessage persists a message and sets msg.ID.
	// CreatedAt is assigned by the caller and stored as-is.
	RecordMessage(ctx context.Context, msg *Message) error

	// ListMessages returns up to limit most recent messages of a room, oldest first.
	ListMessages(ctx context.Context, roomID string, limit int) ([]*Message, error)
}

// ReceiptStore handles read receipt persistence.
type ReceiptStore interface {
	// MarkRead records a receipt. Marking the same message twice keeps the first ReadAt.
	MarkRead(ctx context.Context, r *Receipt) error
}

// ConsultationStore handles consultation status persistence.
type ConsultationStore interface {
	// UpdateStatus stores the latest status of a consultation.
	UpdateStatus(ctx context.Context, change *StatusChange) error

	// GetStatus returns the latest status, or ErrNotFound.
	GetStatus(ctx context.Context, roomID string) (*StatusChange, error)
}

// Store aggregates all storage interfaces.
type Store interface {
	MessageStore
	ReceiptStore
	ConsultationStore

	// Close closes the underlying connection.
	Close() error
}

package store

import (
	"time"

	"github.com/google/uuid"
)

// MessageType is the semantic classification assigned by a source's rules.
type MessageType string

const (
	TypeVacancy MessageType = "vacancy"
	TypeResume  MessageType = "resume"
)

// SessionAccount is one credentialed Telegram identity. Quota fields
// (request_count, last_request_at, is_used) are owned by the session pool;
// nothing else mutates them.
type SessionAccount struct {
	ID            int64
	FirstName     string
	Phone         string
	SessionName   string
	Password      string // AES-256-CBC ciphertext, hex
	PasswordIV    string // hex
	IsActive      bool
	IsUsed        bool
	RequestCount  int
	LastRequestAt time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Source is a tracked channel or group. Created by onboarding, never
// deleted here; is_seeded flips once a full backfill pass completes.
type Source struct {
	ID        int64
	Title     string
	Username  string
	Type      string
	PhotoID   int64
	IsActive  bool
	IsSeeded  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Message is one ingested channel message. A near-duplicate carries a nil
// Text and a DuplicateID pointing at its origin; origins never chain.
type Message struct {
	ID          uuid.UUID
	SourceID    int64
	MessageID   int64
	FromID      *int64
	DuplicateID *uuid.UUID
	Text        *string
	PreType     *MessageType
	MessageAt   time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// User is a resolved sender identity. Usernames are stored lower-cased.
type User struct {
	ID        int64
	Premium   bool
	FirstName string
	LastName  string
	Username  string
	Phone     string
	PhotoID   *int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

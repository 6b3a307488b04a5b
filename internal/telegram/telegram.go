// Package telegram defines the capability surface consumed from the
// Telegram client library. Connection handshake and wire encoding live
// behind this boundary; an MTProto adapter is provided in the mtproto
// subpackage under its own build tag.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound marks entity lookups that resolved to nothing (unknown
// username, deleted account, channel the session cannot see).
var ErrNotFound = errors.New("telegram: entity not found")

// FloodWaitError is the platform's rate-limit signal. RetryAfter is the
// suggested wait; callers rotate accounts instead of honoring it verbatim.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("telegram: flood wait %s", e.RetryAfter)
}

// AsFloodWait unwraps a rate-limit signal from an error chain.
func AsFloodWait(err error) (*FloodWaitError, bool) {
	var fw *FloodWaitError
	if errors.As(err, &fw) {
		return fw, true
	}
	return nil, false
}

// EntityKind discriminates what an identifier resolved to.
type EntityKind string

const (
	KindUser    EntityKind = "user"
	KindChannel EntityKind = "channel"
	KindChat    EntityKind = "chat"
)

// Entity is a resolved peer: a user, channel or basic group.
type Entity struct {
	ID        int64
	Kind      EntityKind
	Username  string
	FirstName string
	LastName  string
	Phone     string
	Premium   bool
	PhotoID   int64
}

// RawMessage is one inbound message as delivered by the platform, before
// any classification.
type RawMessage struct {
	ID       int64
	ChatID   int64
	SenderID int64 // 0 when the platform reports no explicit sender
	Text     string
	Date     time.Time
	Private  bool
	Channel  bool // channel or group chat, as opposed to a direct message
}

// HistoryOptions controls a historical pagination stream. Streams are
// forward-ordered (oldest first) starting at Since; PerPageDelay is the
// politeness pause between page fetches.
type HistoryOptions struct {
	Since        time.Time
	PerPageDelay time.Duration
}

// HistoryIter yields one raw message at a time. The second return is
// false once the stream is exhausted. Page fetches happen implicitly and
// may block.
type HistoryIter interface {
	Next(ctx context.Context) (RawMessage, bool, error)
}

type (
	PasswordFunc func(ctx context.Context) (string, error)
	CodeFunc     func(ctx context.Context) (string, error)
)

// Client is one live connection bound to a claimed account.
type Client interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	IsAuthenticated(ctx context.Context) (bool, error)
	Authenticate(ctx context.Context, phone string, password PasswordFunc, code CodeFunc) error

	// Entity resolves a numeric id or username to a peer.
	Entity(ctx context.Context, identifier string) (*Entity, error)
	JoinChannel(ctx context.Context, username string) error
	History(ctx context.Context, chatID int64, opts HistoryOptions) (HistoryIter, error)

	// OnNewMessage registers a persistent live-event handler. Handlers
	// are invoked one event at a time.
	OnNewMessage(handler func(msg RawMessage))
}

// Factory builds a client for a claimed account's session file.
type Factory interface {
	NewClient(ctx context.Context, sessionName string) (Client, error)
}

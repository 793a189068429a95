// Package forum defines the forum-platform collaborators the sync engines
// depend on, and a gorm-backed implementation of them.
package forum

import (
	"context"
	"errors"

	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

// ErrNotFound is returned when a thread, message or user does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicate is returned when a message field value is already linked to
// another message. Each (name, value) pair identifies at most one message.
var ErrDuplicate = errors.New("duplicate")

// NewMessage describes a message to insert. Fields are written in the same
// transaction as the message itself.
type NewMessage struct {
	ThreadID int64
	UserID   int64
	Raw      string
	Fields   map[string]string
}

// Store reads and writes threads, messages and users.
type Store interface {
	Thread(ctx context.Context, id int64) (*models.Thread, error)
	Message(ctx context.Context, id int64) (*models.Message, error)
	User(ctx context.Context, id int64) (*models.User, error)
	UserByEmail(ctx context.Context, email string) (*models.User, error)
	// Messages returns the thread's messages ordered by post number.
	Messages(ctx context.Context, threadID int64) ([]models.Message, error)
	CreateMessage(ctx context.Context, m NewMessage) (*models.Message, error)
	SetThreadCategory(ctx context.Context, threadID, categoryID int64) error
}

// MetadataStore is the string key/value store attached to threads and
// messages. A missing field reads as "" with a nil error.
type MetadataStore interface {
	ThreadField(ctx context.Context, threadID int64, name string) (string, error)
	SetThreadField(ctx context.Context, threadID int64, name, value string) error
	MessageField(ctx context.Context, messageID int64, name string) (string, error)
	SetMessageField(ctx context.Context, messageID int64, name, value string) error
	// MessageByField finds any message carrying name=value, or ErrNotFound.
	MessageByField(ctx context.Context, name, value string) (*models.Message, error)
}

// MessageCreated is emitted after a message insert commits.
type MessageCreated struct {
	MessageID int64 `json:"message_id"`
	ThreadID  int64 `json:"thread_id"`
	UserID    int64 `json:"user_id"`
}

// ThreadUpdated is emitted after a thread's category change commits.
type ThreadUpdated struct {
	ThreadID      int64 `json:"thread_id"`
	OldCategoryID int64 `json:"old_category_id"`
	NewCategoryID int64 `json:"new_category_id"`
}

type MessageCreatedHandler func(ctx context.Context, e MessageCreated) error

type ThreadUpdatedHandler func(ctx context.Context, e ThreadUpdated) error

// Events is the registration point for lifecycle handlers.
type Events interface {
	OnMessageCreated(h MessageCreatedHandler)
	OnThreadUpdated(h ThreadUpdatedHandler)
}

// Publisher emits lifecycle events.
type Publisher interface {
	PublishMessageCreated(ctx context.Context, e MessageCreated) error
	PublishThreadUpdated(ctx context.Context, e ThreadUpdated) error
}

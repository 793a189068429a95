// Package refstore records which remote ticket and comment a forum thread or
// message is linked to.
package refstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/tuannvm/zendesk-forum-sync/internal/forum"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

// Custom field names on threads and messages.
const (
	FieldRemoteID  = "discourse_zendesk_plugin_zendesk_id"
	FieldRemoteURL = "discourse_zendesk_plugin_zendesk_api_url"
)

// Store is a facade over forum metadata. Presence of the ticket id on a
// thread is the only signal that a ticket exists.
type Store struct {
	meta forum.MetadataStore
}

// New creates a new Store
func New(meta forum.MetadataStore) *Store {
	return &Store{meta: meta}
}

// TicketID returns the linked ticket id, or 0 when the thread has none.
func (s *Store) TicketID(ctx context.Context, threadID int64) (int64, error) {
	v, err := s.meta.ThreadField(ctx, threadID, FieldRemoteID)
	if err != nil {
		return 0, err
	}
	return parseRef(v, "ticket id", threadID)
}

// TicketURL returns the linked ticket's API URL, or "".
func (s *Store) TicketURL(ctx context.Context, threadID int64) (string, error) {
	return s.meta.ThreadField(ctx, threadID, FieldRemoteURL)
}

// SetTicket links a thread to a ticket.
func (s *Store) SetTicket(ctx context.Context, threadID int64, ticket *models.RemoteTicket) error {
	if err := s.meta.SetThreadField(ctx, threadID, FieldRemoteID, strconv.FormatInt(ticket.ID, 10)); err != nil {
		return err
	}
	return s.meta.SetThreadField(ctx, threadID, FieldRemoteURL, ticket.URL)
}

// CommentID returns the linked comment id, or 0 when the message has none.
func (s *Store) CommentID(ctx context.Context, messageID int64) (int64, error) {
	v, err := s.meta.MessageField(ctx, messageID, FieldRemoteID)
	if err != nil {
		return 0, err
	}
	return parseRef(v, "comment id", messageID)
}

// SetCommentID links a message to a remote comment.
func (s *Store) SetCommentID(ctx context.Context, messageID, commentID int64) error {
	return s.meta.SetMessageField(ctx, messageID, FieldRemoteID, strconv.FormatInt(commentID, 10))
}

// MessageForComment returns the message already linked to commentID, or nil.
func (s *Store) MessageForComment(ctx context.Context, commentID int64) (*models.Message, error) {
	m, err := s.meta.MessageByField(ctx, FieldRemoteID, strconv.FormatInt(commentID, 10))
	if errors.Is(err, forum.ErrNotFound) {
		return nil, nil
	}
	return m, err
}

// CommentFields returns the fields that link a new message to commentID,
// for writing together with the message.
func CommentFields(commentID int64) map[string]string {
	return map[string]string{FieldRemoteID: strconv.FormatInt(commentID, 10)}
}

func parseRef(v, what string, owner int64) (int64, error) {
	if v == "" {
		return 0, nil
	}
	id, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s %q on %d: %w", what, v, owner, err)
	}
	return id, nil
}

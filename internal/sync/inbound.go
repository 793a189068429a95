package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/forum"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/metrics"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	"github.com/tuannvm/zendesk-forum-sync/internal/refstore"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk"
)

// Outcome is what an applied webhook delivery did.
type Outcome string

const (
	OutcomeCreated          Outcome = "created"
	OutcomeDuplicate        Outcome = "duplicate"
	OutcomeNoComment        Outcome = "no_comment"
	OutcomeCategoryDisabled Outcome = "category_disabled"
)

// Inbound turns ticket comments delivered by webhook into forum messages.
type Inbound struct {
	Deps
}

// NewInbound creates a new Inbound engine
func NewInbound(d Deps) *Inbound {
	return &Inbound{Deps: d}
}

// CheckEnabled returns a policy-disabled error unless both sync and inbound
// sync are switched on.
func (in *Inbound) CheckEnabled() error {
	s := in.Settings.Settings()
	if !s.Enabled || !s.SyncCommentsFromRemote {
		return common.NewPolicyDisabledError("comment sync is disabled")
	}
	return nil
}

// Apply creates at most one forum message for a delivery. Only errors are
// meant for the caller; every outcome is a successful delivery.
func (in *Inbound) Apply(ctx context.Context, d *zendesk.WebhookDelivery) (Outcome, error) {
	if err := in.CheckEnabled(); err != nil {
		return "", err
	}
	s := in.Settings.Settings()

	thread, err := in.loadThread(ctx, d.TopicID)
	if common.IsKind(err, common.KindNotFound) {
		return "", common.NewValidationError("unknown topic_id %d", d.TopicID)
	}
	if err != nil {
		return "", err
	}
	if !in.Policy.IsEnabled(thread.CategoryID) {
		logging.Debugw("delivery ignored, category disabled", "thread_id", thread.ID, "category_id", thread.CategoryID)
		return OutcomeCategoryDisabled, nil
	}

	comments, err := in.Remote.ListComments(ctx, d.TicketID)
	if err != nil {
		return "", err
	}
	comment := SelectComment(comments, d.CommentID)
	if comment == nil {
		logging.Debugw("delivery ignored, no public comment selected", "ticket_id", d.TicketID, "comment_id", d.CommentID)
		return OutcomeNoComment, nil
	}

	existing, err := in.Refs.MessageForComment(ctx, comment.ID)
	if err != nil {
		return "", fmt.Errorf("failed to look up comment %d: %w", comment.ID, err)
	}
	if existing != nil {
		logging.Debugw("delivery ignored, comment already posted", "comment_id", comment.ID, "message_id", existing.ID)
		return OutcomeDuplicate, nil
	}

	userID, err := in.postingUser(ctx, d.Email)
	if err != nil {
		return "", err
	}

	m, err := in.Forum.CreateMessage(ctx, forum.NewMessage{
		ThreadID: thread.ID,
		UserID:   userID,
		Raw:      BuildPostBody(comment, s, in.Renderer),
		Fields:   refstore.CommentFields(comment.ID),
	})
	if errors.Is(err, forum.ErrDuplicate) {
		logging.Debugw("delivery ignored, comment posted concurrently", "comment_id", comment.ID)
		return OutcomeDuplicate, nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to create message for comment %d: %w", comment.ID, err)
	}

	logging.Infow("comment posted", "thread_id", thread.ID, "ticket_id", d.TicketID,
		"comment_id", comment.ID, "message_id", m.ID, "user_id", userID)
	return OutcomeCreated, nil
}

// postingUser maps the reporter email to a forum user, falling back to the
// system account.
func (in *Inbound) postingUser(ctx context.Context, email string) (int64, error) {
	if email == "" {
		return models.SystemUserID, nil
	}
	u, err := in.Forum.UserByEmail(ctx, email)
	if errors.Is(err, forum.ErrNotFound) {
		return models.SystemUserID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up user by email: %w", err)
	}
	return u.ID, nil
}

// Record counts a delivery outcome, or its failure.
func Record(outcome Outcome, err error) {
	switch {
	case err == nil:
		metrics.InboundDeliveries.WithLabelValues(string(outcome)).Inc()
	case common.IsKind(err, common.KindValidation), common.IsKind(err, common.KindAuth),
		common.IsKind(err, common.KindPolicyDisabled):
		metrics.InboundDeliveries.WithLabelValues("rejected").Inc()
	default:
		metrics.InboundDeliveries.WithLabelValues("failed").Inc()
	}
}

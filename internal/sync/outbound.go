package sync

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/forum"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/metrics"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	"github.com/tuannvm/zendesk-forum-sync/internal/queue"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk"
)

// TaskPush is the queue task name of outbound pushes.
const TaskPush = "zendesk_job"

const (
	// MessageDelay lets the transaction that created a message settle
	// before the push reads it.
	MessageDelay = 5 * time.Second
	// ThreadDelay is the wait before pushing a thread whose category
	// changed.
	ThreadDelay = 5 * time.Second

	// TicketPriority is the priority of tickets opened by pushes.
	TicketPriority = "normal"
	// IssuePriority is the default priority of tickets opened by hand.
	IssuePriority = "urgent"
)

// TicketInfo describes the ticket linked to a thread.
type TicketInfo struct {
	ThreadID  int64  `json:"topic_id"`
	TicketID  int64  `json:"ticket_id,omitempty"`
	TicketURL string `json:"ticket_url,omitempty"`
	Created   bool   `json:"created"`
}

// Outbound pushes forum messages to the ticketing service.
type Outbound struct {
	Deps
	sched queue.Scheduler
	retry queue.RetryPolicy
}

// NewOutbound creates a new Outbound engine
func NewOutbound(d Deps, sched queue.Scheduler, retry queue.RetryPolicy) *Outbound {
	return &Outbound{Deps: d, sched: sched, retry: retry}
}

// Register subscribes the engine to forum events and binds its job handler
// to TaskPush.
func (o *Outbound) Register(events forum.Events, jobs queue.Registry) {
	events.OnMessageCreated(o.OnMessageCreated)
	events.OnThreadUpdated(o.OnThreadUpdated)
	jobs.Register(TaskPush, o.Handler())
}

// Handler returns the job handler for TaskPush, wrapped in the retry policy.
func (o *Outbound) Handler() queue.Handler {
	return queue.Retrying(o.sched, o.retry, o.HandleJob)
}

// OnMessageCreated schedules a push for a new message in an enabled category.
func (o *Outbound) OnMessageCreated(ctx context.Context, e forum.MessageCreated) error {
	if !o.Settings.Settings().Enabled {
		return nil
	}
	if e.UserID <= 0 {
		logging.Debugw("not scheduling push for system message", "message_id", e.MessageID)
		return nil
	}
	thread, err := o.loadThread(ctx, e.ThreadID)
	if err != nil {
		return err
	}
	if !o.Policy.IsEnabled(thread.CategoryID) {
		logging.Debugw("not scheduling push, category disabled", "message_id", e.MessageID, "category_id", thread.CategoryID)
		return nil
	}
	return o.sched.Schedule(ctx, TaskPush, models.PushTask{MessageID: e.MessageID}, MessageDelay)
}

// OnThreadUpdated schedules a thread push when a category change moves the
// thread into or out of the enabled set.
func (o *Outbound) OnThreadUpdated(ctx context.Context, e forum.ThreadUpdated) error {
	if !o.Policy.Changed(e.OldCategoryID, e.NewCategoryID) {
		return nil
	}
	logging.Infow("thread moved across sync boundary", "thread_id", e.ThreadID,
		"old_category_id", e.OldCategoryID, "new_category_id", e.NewCategoryID)
	return o.sched.Schedule(ctx, TaskPush, models.PushTask{ThreadID: e.ThreadID}, ThreadDelay)
}

// HandleJob runs one TaskPush job.
func (o *Outbound) HandleJob(ctx context.Context, job queue.Job) error {
	var task models.PushTask
	if err := job.Decode(&task); err != nil {
		return err
	}

	s := o.Settings.Settings()
	if !s.Enabled || !s.JobsConfigured() {
		logging.Debugw("push skipped, sync disabled or jobs account not configured", "job_id", job.ID)
		return nil
	}

	switch {
	case task.MessageID != 0:
		return o.PushMessage(ctx, task.MessageID, job.Attempt)
	case task.ThreadID != 0:
		return o.PushThread(ctx, task.ThreadID, job.Attempt)
	}
	return common.NewValidationError("job %s carries neither post_id nor topic_id", job.ID)
}

// PushMessage sends one message to the ticketing service: the first pushed
// message of a thread opens a ticket, later ones become comments on it. A
// message that already carries a comment reference is left alone.
func (o *Outbound) PushMessage(ctx context.Context, messageID int64, attempt uint) error {
	if attempt > o.retry.MaxAttempts {
		logging.Warnw("push abandoned", "message_id", messageID, "attempt", attempt)
		metrics.OutboundPushes.WithLabelValues("abandoned").Inc()
		return nil
	}
	s := o.Settings.Settings()

	m, err := o.Forum.Message(ctx, messageID)
	if errors.Is(err, forum.ErrNotFound) {
		return skipped("message not found", "message_id", messageID)
	}
	if err != nil {
		return fmt.Errorf("failed to load message %d: %w", messageID, err)
	}

	commentID, err := o.Refs.CommentID(ctx, m.ID)
	if err != nil {
		return err
	}
	if commentID != 0 {
		return skipped("already synced", "message_id", m.ID, "comment_id", commentID)
	}
	if m.UserID <= 0 {
		return skipped("system author", "message_id", m.ID)
	}

	thread, err := o.loadThread(ctx, m.ThreadID)
	if err != nil {
		return err
	}
	if !o.Policy.IsEnabled(thread.CategoryID) {
		return skipped("category disabled", "message_id", m.ID, "category_id", thread.CategoryID)
	}
	if !s.PushAllPosts && m.PostNumber > 1 {
		return skipped("only first posts are pushed", "message_id", m.ID, "post_number", m.PostNumber)
	}
	if s.PushOnlyAuthorPosts && m.UserID != thread.UserID {
		return skipped("not the thread author", "message_id", m.ID, "user_id", m.UserID)
	}

	author, err := o.loadUser(ctx, m.UserID)
	if err != nil {
		return err
	}
	body, err := o.Renderer.MessageBody(m)
	if err != nil {
		return err
	}

	ticketID, err := o.Refs.TicketID(ctx, thread.ID)
	if err != nil {
		return err
	}

	submitter, err := ResolveSubmitter(ctx, o.Remote, author)
	if err != nil {
		o.failed("resolve submitter", m.ID, attempt, err)
		return submitterError(m.ID, err)
	}

	if ticketID == 0 {
		_, err = o.createTicket(ctx, s, thread, m, body, submitter.ID, TicketPriority, attempt)
		return err
	}
	return o.addComment(ctx, ticketID, m, body, submitter.ID, attempt)
}

// PushThread reconciles a thread after a category change. Moving into an
// enabled category pushes every message in post order; moving out of one
// leaves a private notice on the existing ticket.
func (o *Outbound) PushThread(ctx context.Context, threadID int64, attempt uint) error {
	thread, err := o.loadThread(ctx, threadID)
	if common.IsKind(err, common.KindNotFound) {
		return skipped("thread not found", "thread_id", threadID)
	}
	if err != nil {
		return err
	}

	if o.Policy.IsEnabled(thread.CategoryID) {
		messages, err := o.Forum.Messages(ctx, thread.ID)
		if err != nil {
			return fmt.Errorf("failed to list messages of thread %d: %w", thread.ID, err)
		}
		for _, m := range messages {
			if err := o.PushMessage(ctx, m.ID, attempt); err != nil {
				return err
			}
		}
		return nil
	}

	ticketID, err := o.Refs.TicketID(ctx, thread.ID)
	if err != nil {
		return err
	}
	if ticketID == 0 {
		return skipped("thread has no ticket", "thread_id", thread.ID)
	}
	return o.notifyMiscategorized(ctx, o.Settings.Settings(), thread.ID, ticketID, attempt)
}

// TicketInfo returns the ticket linked to a thread, if any.
func (o *Outbound) TicketInfo(ctx context.Context, threadID int64) (*TicketInfo, error) {
	if _, err := o.loadThread(ctx, threadID); err != nil {
		return nil, err
	}
	ticketID, err := o.Refs.TicketID(ctx, threadID)
	if err != nil {
		return nil, err
	}
	info := &TicketInfo{ThreadID: threadID, TicketID: ticketID}
	if ticketID != 0 {
		info.TicketURL = zendesk.AgentTicketURL(o.Settings.Settings().RemoteURL, ticketID)
	}
	return info, nil
}

// CreateTicketNow opens the ticket for a thread from its first message
// without going through the queue. A thread that already has a ticket is
// returned unchanged. An empty priority means IssuePriority.
func (o *Outbound) CreateTicketNow(ctx context.Context, threadID int64, priority string) (*TicketInfo, error) {
	s := o.Settings.Settings()
	if !s.Enabled {
		return nil, common.NewPolicyDisabledError("sync is disabled")
	}
	if !s.JobsConfigured() {
		return nil, common.NewPolicyDisabledError("jobs account is not configured")
	}

	info, err := o.TicketInfo(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if info.TicketID != 0 {
		logging.Debugw("thread already has a ticket", "thread_id", threadID, "ticket_id", info.TicketID)
		return info, nil
	}
	if priority == "" {
		priority = IssuePriority
	}

	thread, err := o.loadThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	messages, err := o.Forum.Messages(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages of thread %d: %w", threadID, err)
	}
	if len(messages) == 0 {
		return nil, common.NewValidationError("thread %d has no messages", threadID)
	}
	first := &messages[0]

	author, err := o.loadUser(ctx, first.UserID)
	if err != nil {
		return nil, err
	}
	var submitter *models.RemoteUser
	if author.IsSystem() {
		submitter, err = serviceAccount(ctx, o.Remote, s.JobsEmail)
	} else {
		submitter, err = ResolveSubmitter(ctx, o.Remote, author)
	}
	if err != nil {
		return nil, submitterError(first.ID, err)
	}

	body, err := o.Renderer.MessageBody(first)
	if err != nil {
		return nil, err
	}
	ticket, err := o.createTicket(ctx, s, thread, first, body, submitter.ID, priority, 1)
	if err != nil {
		return nil, err
	}
	return &TicketInfo{
		ThreadID:  threadID,
		TicketID:  ticket.ID,
		TicketURL: zendesk.AgentTicketURL(s.RemoteURL, ticket.ID),
		Created:   true,
	}, nil
}

func (o *Outbound) createTicket(ctx context.Context, s config.SyncSettings, thread *models.Thread, m *models.Message,
	body string, submitterID int64, priority string, attempt uint) (*models.RemoteTicket, error) {
	externalID := strconv.FormatInt(thread.ID, 10)
	ticket, err := o.Remote.CreateTicket(ctx, models.NewTicket{
		Subject:     thread.Title,
		Body:        body,
		SubmitterID: submitterID,
		Priority:    priority,
		Tags:        s.TagList(),
		ExternalID:  externalID,
		CustomFields: map[string]string{
			"imported_from": s.Hostname,
			"external_id":   externalID,
			"imported_by":   s.SyncTag,
		},
	})
	if err != nil {
		o.failed("create ticket", m.ID, attempt, err)
		return nil, err
	}

	if err := o.Refs.SetTicket(ctx, thread.ID, ticket); err != nil {
		return nil, fmt.Errorf("failed to record ticket %d on thread %d: %w", ticket.ID, thread.ID, err)
	}

	firstComment := ticket.FirstCommentID
	if firstComment == 0 {
		comments, err := o.Remote.ListComments(ctx, ticket.ID)
		switch {
		case err != nil:
			logging.Warnw("ticket created but its first comment is unknown", "ticket_id", ticket.ID, "error", err)
		case len(comments) > 0:
			firstComment = comments[0].ID
		}
	}
	if firstComment != 0 {
		if err := o.Refs.SetCommentID(ctx, m.ID, firstComment); err != nil {
			return nil, fmt.Errorf("failed to record comment %d on message %d: %w", firstComment, m.ID, err)
		}
	}

	metrics.OutboundPushes.WithLabelValues("ticket_created").Inc()
	logging.Infow("ticket created", "thread_id", thread.ID, "message_id", m.ID, "ticket_id", ticket.ID, "attempt", attempt)
	return ticket, nil
}

func (o *Outbound) addComment(ctx context.Context, ticketID int64, m *models.Message, body string, authorID int64, attempt uint) error {
	comment, err := o.Remote.AddComment(ctx, models.NewComment{
		TicketID: ticketID,
		Body:     body,
		AuthorID: authorID,
		Public:   true,
	})
	if err != nil {
		o.failed("add comment", m.ID, attempt, err)
		return err
	}
	if err := o.Refs.SetCommentID(ctx, m.ID, comment.ID); err != nil {
		return fmt.Errorf("failed to record comment %d on message %d: %w", comment.ID, m.ID, err)
	}

	metrics.OutboundPushes.WithLabelValues("comment_added").Inc()
	logging.Infow("comment added", "message_id", m.ID, "ticket_id", ticketID, "comment_id", comment.ID, "attempt", attempt)
	return nil
}

func (o *Outbound) notifyMiscategorized(ctx context.Context, s config.SyncSettings, threadID, ticketID int64, attempt uint) error {
	if s.MiscategorizationNotice == "" {
		return skipped("no miscategorization notice configured", "thread_id", threadID)
	}
	account, err := serviceAccount(ctx, o.Remote, s.JobsEmail)
	if err != nil {
		return fmt.Errorf("failed to resolve jobs account: %w", err)
	}
	body, err := o.Renderer.ToHTML(s.MiscategorizationNotice)
	if err != nil {
		return err
	}

	if _, err := o.Remote.AddComment(ctx, models.NewComment{
		TicketID: ticketID,
		Body:     body,
		AuthorID: account.ID,
		Public:   false,
	}); err != nil {
		logging.Errorw("failed to add miscategorization notice", "thread_id", threadID, "ticket_id", ticketID,
			"attempt", attempt, "error", err)
		metrics.OutboundPushes.WithLabelValues("failed").Inc()
		return err
	}
	logging.Infow("miscategorization notice added", "thread_id", threadID, "ticket_id", ticketID)
	return nil
}

func (o *Outbound) failed(op string, messageID int64, attempt uint, err error) {
	logging.Errorw("push failed: "+op, "message_id", messageID, "attempt", attempt, "error", err)
	metrics.OutboundPushes.WithLabelValues("failed").Inc()
}

func skipped(reason string, kv ...interface{}) error {
	logging.Debugw("push skipped: "+reason, kv...)
	metrics.OutboundPushes.WithLabelValues("skipped").Inc()
	return nil
}

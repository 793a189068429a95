package sync

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/metrics"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	"github.com/tuannvm/zendesk-forum-sync/internal/queue"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk/zendesktest"
)

func TestNewThreadOpensTicket(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	created := testutil.ToFloat64(metrics.OutboundPushes.WithLabelValues("ticket_created"))

	thread, first := f.thread(t, enabledCategory, alice.ID)

	pending := f.jobs.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, TaskPush, pending[0].Job.Name)
	assert.Equal(t, MessageDelay, pending[0].Delay)
	var task models.PushTask
	require.NoError(t, pending[0].Job.Decode(&task))
	assert.Equal(t, first.ID, task.MessageID)

	assert.Equal(t, 1, f.drain(t))

	tickets := f.remote.Tickets()
	require.Len(t, tickets, 1)
	nt := tickets[0]
	threadID := strconv.FormatInt(thread.ID, 10)
	assert.Equal(t, "Printer on fire", nt.Subject)
	assert.Equal(t, threadID, nt.ExternalID)
	assert.Equal(t, TicketPriority, nt.Priority)
	assert.Equal(t, []string{"forum", "support"}, nt.Tags)
	assert.Equal(t, map[string]string{
		"imported_from": "forum.example.com",
		"external_id":   threadID,
		"imported_by":   "discourse_zendesk_plugin",
	}, nt.CustomFields)
	assert.Contains(t, nt.Body, "<strong>on fire</strong>")
	assert.Contains(t, nt.Body, first.URL)

	ticketID := f.ticketID(t, thread.ID)
	require.NotZero(t, ticketID)
	comments := f.remote.Comments(ticketID)
	require.Len(t, comments, 1)
	assert.Equal(t, comments[0].ID, f.commentID(t, first.ID))

	ticketURL, err := f.refs.TicketURL(context.Background(), thread.ID)
	require.NoError(t, err)
	assert.NotEmpty(t, ticketURL)

	users := f.remote.Users()
	require.Len(t, users, 1)
	assert.Equal(t, "alice@example.com", users[0].Email)
	assert.Equal(t, "alice Example", users[0].Name)
	assert.Equal(t, "end-user", users[0].Role)
	assert.True(t, users[0].Verified)
	assert.Equal(t, users[0].ID, nt.SubmitterID)

	assert.Equal(t, created+1, testutil.ToFloat64(metrics.OutboundPushes.WithLabelValues("ticket_created")))
}

func TestReplyAppendsCommentToExistingTicket(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")
	remoteBob := f.remote.AddUser(models.RemoteUser{Name: "Bob", Email: "bob@example.com"})

	thread, _ := f.thread(t, enabledCategory, alice.ID)
	f.drain(t)
	ticketID := f.ticketID(t, thread.ID)

	reply := f.reply(t, thread.ID, bob.ID, "Have you tried water?")
	assert.Equal(t, 1, f.drain(t))

	assert.Len(t, f.remote.Tickets(), 1)
	comments := f.remote.Comments(ticketID)
	require.Len(t, comments, 2)
	assert.Equal(t, comments[1].ID, f.commentID(t, reply.ID))
	assert.True(t, comments[1].Public)
	assert.Equal(t, remoteBob.ID, comments[1].AuthorID)
	assert.Equal(t, 1, f.remote.Calls(zendesktest.OpCreateUser), "bob is reused, only alice is created")
}

func TestPushMessageIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	_, first := f.thread(t, enabledCategory, alice.ID)
	ctx := context.Background()

	require.NoError(t, f.out.PushMessage(ctx, first.ID, 1))
	require.NoError(t, f.out.PushMessage(ctx, first.ID, 1))

	assert.Len(t, f.remote.Tickets(), 1)
	assert.Equal(t, 1, f.remote.Calls(zendesktest.OpCreateTicket))
	assert.Equal(t, 1, f.remote.Calls(zendesktest.OpSearchUsers))
}

func TestResolveSubmitter(t *testing.T) {
	ctx := context.Background()
	local := &models.User{ID: 4, Username: "carol", Email: "carol@example.com"}

	t.Run("single match is reused", func(t *testing.T) {
		remote := zendesktest.New()
		existing := remote.AddUser(models.RemoteUser{Name: "Carol", Email: "carol@example.com"})

		got, err := ResolveSubmitter(ctx, remote, local)
		require.NoError(t, err)
		assert.Equal(t, existing.ID, got.ID)
		assert.Zero(t, remote.Calls(zendesktest.OpCreateUser))
	})

	t.Run("several matches create a new user", func(t *testing.T) {
		remote := zendesktest.New()
		remote.AddUser(models.RemoteUser{Email: "carol@example.com"})
		remote.AddUser(models.RemoteUser{Email: "carol@example.com"})

		got, err := ResolveSubmitter(ctx, remote, local)
		require.NoError(t, err)
		assert.Equal(t, "carol", got.Name, "falls back to the username")
		assert.Equal(t, 1, remote.Calls(zendesktest.OpCreateUser))
	})

	t.Run("creation failure is returned", func(t *testing.T) {
		remote := zendesktest.New()
		remote.FailNext(zendesktest.OpCreateUser, 1, errors.New("boom"))

		_, err := ResolveSubmitter(ctx, remote, local)
		assert.True(t, common.IsRetryable(err))
	})
}

func TestPushSkipsIneligibleMessages(t *testing.T) {
	ctx := context.Background()

	t.Run("system author", func(t *testing.T) {
		f := newFixture(t)
		_, first := f.thread(t, enabledCategory, models.SystemUserID)
		assert.Empty(t, f.jobs.Pending())

		require.NoError(t, f.out.PushMessage(ctx, first.ID, 1))
		assert.Empty(t, f.remote.Tickets())
	})

	t.Run("disabled category", func(t *testing.T) {
		f := newFixture(t)
		alice := f.user(t, "alice")
		_, first := f.thread(t, disabledCategory, alice.ID)
		assert.Empty(t, f.jobs.Pending())

		require.NoError(t, f.out.PushMessage(ctx, first.ID, 1))
		assert.Empty(t, f.remote.Tickets())
	})

	t.Run("sync disabled", func(t *testing.T) {
		f := newFixture(t)
		f.settings.Enabled = false
		alice := f.user(t, "alice")
		f.thread(t, enabledCategory, alice.ID)
		assert.Empty(t, f.jobs.Pending())
	})

	t.Run("unknown message", func(t *testing.T) {
		f := newFixture(t)
		require.NoError(t, f.out.PushMessage(ctx, 404, 1))
		assert.Zero(t, f.remote.Calls(zendesktest.OpSearchUsers))
	})

	t.Run("past the last attempt", func(t *testing.T) {
		f := newFixture(t)
		alice := f.user(t, "alice")
		_, first := f.thread(t, enabledCategory, alice.ID)

		require.NoError(t, f.out.PushMessage(ctx, first.ID, 11))
		assert.Empty(t, f.remote.Tickets())
	})
}

func TestJobPreconditionsAreCheckedAtRunTime(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice")
	f.thread(t, enabledCategory, alice.ID)
	require.Len(t, f.jobs.Pending(), 1)

	f.settings.JobsAPIToken = ""
	assert.Equal(t, 1, f.drain(t))
	assert.Empty(t, f.remote.Tickets())
}

func TestPushOnlyAuthorPosts(t *testing.T) {
	f := newFixture(t)
	f.settings.PushOnlyAuthorPosts = true
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	thread, _ := f.thread(t, enabledCategory, alice.ID)
	fromBob := f.reply(t, thread.ID, bob.ID, "me too")
	fromAlice := f.reply(t, thread.ID, alice.ID, "still burning")
	assert.Equal(t, 3, f.drain(t))

	ticketID := f.ticketID(t, thread.ID)
	assert.Len(t, f.remote.Comments(ticketID), 2)
	assert.Zero(t, f.commentID(t, fromBob.ID))
	assert.NotZero(t, f.commentID(t, fromAlice.ID))
}

func TestPushAllPostsDisabledPushesOnlyFirstPost(t *testing.T) {
	f := newFixture(t)
	f.settings.PushAllPosts = false
	alice := f.user(t, "alice")

	thread, first := f.thread(t, enabledCategory, alice.ID)
	reply := f.reply(t, thread.ID, alice.ID, "update")
	assert.Equal(t, 2, f.drain(t))

	assert.NotZero(t, f.commentID(t, first.ID))
	assert.Zero(t, f.commentID(t, reply.ID))
	assert.Len(t, f.remote.Comments(f.ticketID(t, thread.ID)), 1)
}

func TestPushGivesUpAfterTenAttempts(t *testing.T) {
	f := newFixture(t)
	f.remote.FailNext(zendesktest.OpCreateTicket, 11, errors.New("service unavailable"))
	alice := f.user(t, "alice")
	thread, _ := f.thread(t, enabledCategory, alice.ID)

	assert.Equal(t, 10, f.drain(t))
	assert.Equal(t, 10, f.remote.Calls(zendesktest.OpCreateTicket))
	assert.Empty(t, f.jobs.Pending())
	assert.Zero(t, f.ticketID(t, thread.ID))

	history := f.jobs.History()
	require.Len(t, history, 10)
	for i, s := range history {
		assert.Equal(t, uint(i+1), s.Job.Attempt)
		if i > 0 {
			assert.Equal(t, time.Duration(i)*time.Minute, s.Delay, "attempt %d", i+1)
		}
	}
}

func TestPushRecoversAfterTransientFailures(t *testing.T) {
	f := newFixture(t)
	f.remote.FailNext(zendesktest.OpSearchUsers, 1, errors.New("timeout"))
	f.remote.FailNext(zendesktest.OpCreateTicket, 1, errors.New("timeout"))
	alice := f.user(t, "alice")
	thread, first := f.thread(t, enabledCategory, alice.ID)

	assert.Equal(t, 3, f.drain(t))
	assert.Len(t, f.remote.Tickets(), 1)
	assert.NotZero(t, f.ticketID(t, thread.ID))
	assert.NotZero(t, f.commentID(t, first.ID))
}

func TestFirstCommentIDFallsBackToCommentList(t *testing.T) {
	f := newFixture(t)
	f.remote.HideFirstCommentID = true
	alice := f.user(t, "alice")
	thread, first := f.thread(t, enabledCategory, alice.ID)
	f.drain(t)

	comments := f.remote.Comments(f.ticketID(t, thread.ID))
	require.Len(t, comments, 1)
	assert.Equal(t, comments[0].ID, f.commentID(t, first.ID))
	assert.Equal(t, 1, f.remote.Calls(zendesktest.OpListComments))
}

func TestMovingThreadIntoEnabledCategoryPushesAllMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	bob := f.user(t, "bob")

	thread, first := f.thread(t, disabledCategory, alice.ID)
	reply := f.reply(t, thread.ID, bob.ID, "bump")
	require.Empty(t, f.jobs.Pending())

	require.NoError(t, f.store.SetThreadCategory(ctx, thread.ID, enabledCategory))
	pending := f.jobs.Pending()
	require.Len(t, pending, 1)
	assert.Equal(t, ThreadDelay, pending[0].Delay)
	var task models.PushTask
	require.NoError(t, json.Unmarshal(pending[0].Job.Payload, &task))
	assert.Equal(t, thread.ID, task.ThreadID)

	assert.Equal(t, 1, f.drain(t))
	ticketID := f.ticketID(t, thread.ID)
	comments := f.remote.Comments(ticketID)
	require.Len(t, comments, 2)
	assert.Equal(t, comments[0].ID, f.commentID(t, first.ID))
	assert.Equal(t, comments[1].ID, f.commentID(t, reply.ID))
}

func TestMovingThreadOutOfEnabledCategoryPostsPrivateNotice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	bot := f.remote.AddUser(models.RemoteUser{Name: "Forum Bot", Email: "bot@example.com"})
	alice := f.user(t, "alice")

	thread, first := f.thread(t, enabledCategory, alice.ID)
	f.drain(t)
	ticketID := f.ticketID(t, thread.ID)
	firstComment := f.commentID(t, first.ID)

	require.NoError(t, f.store.SetThreadCategory(ctx, thread.ID, disabledCategory))
	assert.Equal(t, 1, f.drain(t))

	comments := f.remote.Comments(ticketID)
	require.Len(t, comments, 2)
	notice := comments[1]
	assert.False(t, notice.Public)
	assert.Equal(t, bot.ID, notice.AuthorID)
	assert.Contains(t, notice.Body, "This topic was moved out of support.")

	assert.Equal(t, ticketID, f.ticketID(t, thread.ID))
	assert.Equal(t, firstComment, f.commentID(t, first.ID))
}

func TestCategoryChangeWithinSameSideSchedulesNothing(t *testing.T) {
	f := newFixture(t)
	f.settings.EnabledCategories = "3|4"
	ctx := context.Background()
	alice := f.user(t, "alice")

	thread, _ := f.thread(t, enabledCategory, alice.ID)
	f.drain(t)

	require.NoError(t, f.store.SetThreadCategory(ctx, thread.ID, 4))
	assert.Empty(t, f.jobs.Pending())

	other, _ := f.thread(t, disabledCategory, alice.ID)
	require.NoError(t, f.store.SetThreadCategory(ctx, other.ID, 10))
	assert.Empty(t, f.jobs.Pending())
}

func TestMovingThreadWithoutTicketOutOfSyncDoesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")

	thread, _ := f.thread(t, enabledCategory, alice.ID)
	require.NoError(t, f.store.SetThreadCategory(ctx, thread.ID, disabledCategory))

	// The pending message push runs after the move and finds the category
	// disabled; the thread push finds no ticket.
	assert.Equal(t, 2, f.drain(t))
	assert.Empty(t, f.remote.Tickets())
	assert.Zero(t, f.remote.Calls(zendesktest.OpAddComment))
}

func TestHandleJobRejectsEmptyTask(t *testing.T) {
	f := newFixture(t)
	err := f.out.HandleJob(context.Background(), queue.Job{ID: "job-x", Name: TaskPush, Payload: json.RawMessage(`{}`), Attempt: 1})
	assert.True(t, common.IsKind(err, common.KindValidation))
}

func TestCreateTicketNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	thread, first := f.thread(t, disabledCategory, alice.ID)

	info, err := f.out.CreateTicketNow(ctx, thread.ID, "")
	require.NoError(t, err)
	assert.True(t, info.Created)
	assert.Equal(t, thread.ID, info.ThreadID)
	assert.Equal(t, "https://acme.zendesk.com/agent/tickets/"+strconv.FormatInt(info.TicketID, 10), info.TicketURL)

	tickets := f.remote.Tickets()
	require.Len(t, tickets, 1)
	assert.Equal(t, IssuePriority, tickets[0].Priority)
	assert.NotZero(t, f.commentID(t, first.ID))

	again, err := f.out.CreateTicketNow(ctx, thread.ID, "high")
	require.NoError(t, err)
	assert.False(t, again.Created)
	assert.Equal(t, info.TicketID, again.TicketID)
	assert.Equal(t, 1, f.remote.Calls(zendesktest.OpCreateTicket))
}

func TestCreateTicketNowErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown thread", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.out.CreateTicketNow(ctx, 404, "")
		assert.True(t, common.IsKind(err, common.KindNotFound))
	})

	t.Run("sync disabled", func(t *testing.T) {
		f := newFixture(t)
		f.settings.Enabled = false
		_, err := f.out.CreateTicketNow(ctx, 1, "")
		assert.True(t, common.IsKind(err, common.KindPolicyDisabled))
	})

	t.Run("remote failure", func(t *testing.T) {
		f := newFixture(t)
		alice := f.user(t, "alice")
		thread, _ := f.thread(t, enabledCategory, alice.ID)
		f.remote.FailNext(zendesktest.OpCreateTicket, 1, errors.New("boom"))

		_, err := f.out.CreateTicketNow(ctx, thread.ID, "")
		assert.True(t, common.IsKind(err, common.KindRemoteService))
		assert.Zero(t, f.ticketID(t, thread.ID))
	})
}

func TestTicketInfo(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.user(t, "alice")
	thread, _ := f.thread(t, enabledCategory, alice.ID)

	info, err := f.out.TicketInfo(ctx, thread.ID)
	require.NoError(t, err)
	assert.Zero(t, info.TicketID)
	assert.Empty(t, info.TicketURL)

	f.drain(t)
	info, err = f.out.TicketInfo(ctx, thread.ID)
	require.NoError(t, err)
	assert.NotZero(t, info.TicketID)
	assert.Contains(t, info.TicketURL, "/agent/tickets/")
}

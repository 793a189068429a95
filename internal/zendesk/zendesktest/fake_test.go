package zendesktest

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

func TestFakeTicketLifecycle(t *testing.T) {
	f := New()
	ctx := context.Background()

	ticket, err := f.CreateTicket(ctx, models.NewTicket{Subject: "s", Body: "first", SubmitterID: 5})
	require.NoError(t, err)
	assert.NotZero(t, ticket.FirstCommentID)

	_, err = f.AddComment(ctx, models.NewComment{TicketID: ticket.ID, Body: "second", AuthorID: 5, Public: true})
	require.NoError(t, err)

	comments, err := f.ListComments(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 2)
	assert.Equal(t, ticket.FirstCommentID, comments[0].ID)
	assert.Equal(t, "second", comments[1].Body)

	_, err = f.AddComment(ctx, models.NewComment{TicketID: 1, Body: "x"})
	assert.Error(t, err)
}

func TestFakeFailureInjection(t *testing.T) {
	f := New()
	f.FailNext(OpCreateUser, 2, errors.New("down"))

	for i := 0; i < 2; i++ {
		_, err := f.CreateUser(context.Background(), models.NewUser{Email: "a@example.com"})
		assert.True(t, common.IsRetryable(err))
	}
	_, err := f.CreateUser(context.Background(), models.NewUser{Email: "a@example.com"})
	require.NoError(t, err)
	assert.Equal(t, 3, f.Calls(OpCreateUser))
}

func TestFakeSearchUsers(t *testing.T) {
	f := New()
	f.AddUser(models.RemoteUser{Email: "Alice@example.com"})
	f.AddUser(models.RemoteUser{Email: "bob@example.com"})

	users, err := f.SearchUsers(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Len(t, users, 1)
}

package sync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/forum"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	"github.com/tuannvm/zendesk-forum-sync/internal/policy"
	"github.com/tuannvm/zendesk-forum-sync/internal/queue"
	"github.com/tuannvm/zendesk-forum-sync/internal/queue/queuetest"
	"github.com/tuannvm/zendesk-forum-sync/internal/refstore"
	"github.com/tuannvm/zendesk-forum-sync/internal/render"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk/zendesktest"
)

const (
	enabledCategory  int64 = 3
	disabledCategory int64 = 9
)

// directEvents delivers published events to handlers on the calling
// goroutine.
type directEvents struct {
	created []forum.MessageCreatedHandler
	updated []forum.ThreadUpdatedHandler
}

func (e *directEvents) OnMessageCreated(h forum.MessageCreatedHandler) { e.created = append(e.created, h) }
func (e *directEvents) OnThreadUpdated(h forum.ThreadUpdatedHandler)   { e.updated = append(e.updated, h) }

func (e *directEvents) PublishMessageCreated(ctx context.Context, ev forum.MessageCreated) error {
	for _, h := range e.created {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

func (e *directEvents) PublishThreadUpdated(ctx context.Context, ev forum.ThreadUpdated) error {
	for _, h := range e.updated {
		if err := h(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

type fixture struct {
	settings *config.SyncSettings
	store    *forum.GormStore
	refs     *refstore.Store
	remote   *zendesktest.Fake
	jobs     *queuetest.Recorder
	out      *Outbound
	in       *Inbound
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := forum.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, forum.Migrate(db))

	f := &fixture{
		settings: &config.SyncSettings{
			Enabled:                 true,
			SyncCommentsFromRemote:  true,
			EnabledCategories:       "3",
			Tags:                    "forum|support",
			WebhookToken:            "secret",
			PushAllPosts:            true,
			MiscategorizationNotice: "This topic was moved out of support.",
			JobsEmail:               "bot@example.com",
			JobsAPIToken:            "api-token",
			RemoteURL:               "https://acme.zendesk.com/api/v2",
			Hostname:                "forum.example.com",
			SyncTag:                 "discourse_zendesk_plugin",
		},
		remote: zendesktest.New(),
		jobs:   queuetest.New(),
	}
	provider := config.StaticProvider(func() config.SyncSettings { return *f.settings })

	events := &directEvents{}
	f.store = forum.NewGormStore(db, events, "https://forum.example.com")
	f.refs = refstore.New(f.store)

	deps := Deps{
		Settings: provider,
		Policy:   policy.NewCategoryPolicy(provider),
		Forum:    f.store,
		Refs:     f.refs,
		Remote:   f.remote,
		Renderer: render.New(),
	}
	f.out = NewOutbound(deps, f.jobs, queue.DefaultRetryPolicy())
	f.out.Register(events, f.jobs)
	f.in = NewInbound(deps)
	return f
}

func (f *fixture) user(t *testing.T, username string) *models.User {
	t.Helper()
	u, err := f.store.CreateUser(context.Background(), models.User{
		Username: username,
		Name:     username + " Example",
		Email:    username + "@example.com",
	})
	require.NoError(t, err)
	return u
}

func (f *fixture) thread(t *testing.T, categoryID, userID int64) (*models.Thread, *models.Message) {
	t.Helper()
	thread, first, err := f.store.CreateThread(context.Background(), "Printer on fire", categoryID, userID, "It is **on fire**")
	require.NoError(t, err)
	return thread, first
}

func (f *fixture) reply(t *testing.T, threadID, userID int64, raw string) *models.Message {
	t.Helper()
	m, err := f.store.CreateMessage(context.Background(), forum.NewMessage{ThreadID: threadID, UserID: userID, Raw: raw})
	require.NoError(t, err)
	return m
}

func (f *fixture) drain(t *testing.T) int {
	t.Helper()
	n, err := f.jobs.Drain(context.Background(), 100)
	require.NoError(t, err)
	return n
}

func (f *fixture) ticketID(t *testing.T, threadID int64) int64 {
	t.Helper()
	id, err := f.refs.TicketID(context.Background(), threadID)
	require.NoError(t, err)
	return id
}

func (f *fixture) commentID(t *testing.T, messageID int64) int64 {
	t.Helper()
	id, err := f.refs.CommentID(context.Background(), messageID)
	require.NoError(t, err)
	return id
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/forum"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	"github.com/tuannvm/zendesk-forum-sync/internal/policy"
	"github.com/tuannvm/zendesk-forum-sync/internal/queue"
	"github.com/tuannvm/zendesk-forum-sync/internal/queue/queuetest"
	"github.com/tuannvm/zendesk-forum-sync/internal/refstore"
	"github.com/tuannvm/zendesk-forum-sync/internal/render"
	forumsync "github.com/tuannvm/zendesk-forum-sync/internal/sync"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk/zendesktest"
)

const testAPIKey = "staff-key"

type testEnv struct {
	settings *config.SyncSettings
	store    *forum.GormStore
	remote   *zendesktest.Fake
	handler  http.Handler
	thread   *models.Thread
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := forum.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, forum.Migrate(db))

	env := &testEnv{
		settings: &config.SyncSettings{
			Enabled:                true,
			SyncCommentsFromRemote: true,
			EnabledCategories:      "3",
			WebhookToken:           "secret",
			PushAllPosts:           true,
			JobsEmail:              "bot@example.com",
			JobsAPIToken:           "api-token",
			RemoteURL:              "https://acme.zendesk.com/api/v2",
			Hostname:               "forum.example.com",
			SyncTag:                "discourse_zendesk_plugin",
		},
		remote: zendesktest.New(),
	}
	provider := config.StaticProvider(func() config.SyncSettings { return *env.settings })
	env.store = forum.NewGormStore(db, nil, "https://forum.example.com")

	deps := forumsync.Deps{
		Settings: provider,
		Policy:   policy.NewCategoryPolicy(provider),
		Forum:    env.store,
		Refs:     refstore.New(env.store),
		Remote:   env.remote,
		Renderer: render.New(),
	}
	out := forumsync.NewOutbound(deps, queuetest.New(), queue.DefaultRetryPolicy())
	srv := New(config.ServerConfig{Mode: gin.TestMode, APIKey: testAPIKey}, provider, forumsync.NewInbound(deps), out)
	env.handler = srv.Handler()

	ctx := context.Background()
	alice, err := env.store.CreateUser(ctx, models.User{Username: "alice", Email: "alice@example.com"})
	require.NoError(t, err)
	env.thread, _, err = env.store.CreateThread(ctx, "Printer on fire", 3, alice.ID, "It is on fire")
	require.NoError(t, err)

	env.remote.SetComments(12,
		models.RemoteComment{ID: 566, Body: "internal", Public: false},
		models.RemoteComment{ID: 567, Body: "latest reply", Public: true},
	)
	return env
}

func (env *testEnv) do(method, target, body string, header map[string]string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	return w
}

func (env *testEnv) messageCount(t *testing.T) int {
	t.Helper()
	ms, err := env.store.Messages(context.Background(), env.thread.ID)
	require.NoError(t, err)
	return len(ms)
}

func webhookQuery(params map[string]string) string {
	q := url.Values{}
	for k, v := range params {
		q.Set(k, v)
	}
	return "/zendesk-plugin/sync.json?" + q.Encode()
}

func TestWebhookStatusCodes(t *testing.T) {
	tests := []struct {
		name    string
		params  map[string]string
		setup   func(env *testEnv)
		want    int
		created bool
	}{
		{
			name:   "missing token",
			params: map[string]string{"topic_id": "1", "ticket_id": "12"},
			want:   http.StatusBadRequest,
		},
		{
			name:   "wrong token",
			params: map[string]string{"token": "nope", "topic_id": "1", "ticket_id": "12"},
			want:   http.StatusForbidden,
		},
		{
			name:   "sync disabled",
			params: map[string]string{"token": "secret"},
			setup:  func(env *testEnv) { env.settings.Enabled = false },
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "inbound sync disabled",
			params: map[string]string{"token": "secret", "topic_id": "1", "ticket_id": "12"},
			setup:  func(env *testEnv) { env.settings.SyncCommentsFromRemote = false },
			want:   http.StatusUnprocessableEntity,
		},
		{
			name:   "missing ticket_id",
			params: map[string]string{"token": "secret", "topic_id": "1"},
			want:   http.StatusBadRequest,
		},
		{
			name:   "unknown topic",
			params: map[string]string{"token": "secret", "topic_id": "999", "ticket_id": "12"},
			want:   http.StatusBadRequest,
		},
		{
			name:   "category disabled",
			params: map[string]string{"token": "secret", "topic_id": "1", "ticket_id": "12"},
			setup:  func(env *testEnv) { env.settings.EnabledCategories = "4" },
			want:   http.StatusNoContent,
		},
		{
			name:   "remote failure",
			params: map[string]string{"token": "secret", "topic_id": "1", "ticket_id": "12"},
			setup: func(env *testEnv) {
				env.remote.FailNext(zendesktest.OpListComments, 1, errors.New("bad gateway"))
			},
			want: http.StatusBadGateway,
		},
		{
			name:    "comment posted",
			params:  map[string]string{"token": "secret", "topic_id": "1", "ticket_id": "12"},
			want:    http.StatusNoContent,
			created: true,
		},
		{
			name:   "private comment requested",
			params: map[string]string{"token": "secret", "topic_id": "1", "ticket_id": "12", "comment_id": "566"},
			want:   http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			require.Equal(t, int64(1), env.thread.ID)
			if tt.setup != nil {
				tt.setup(env)
			}

			w := env.do(http.MethodPut, webhookQuery(tt.params), "", nil)
			assert.Equal(t, tt.want, w.Code, w.Body.String())

			want := 1
			if tt.created {
				want = 2
			}
			assert.Equal(t, want, env.messageCount(t))
		})
	}
}

func TestWebhookErrorEnvelope(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(http.MethodPost, webhookQuery(map[string]string{"token": "nope"}), "", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	var body struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusForbidden, body.Error.Code)
	assert.NotEmpty(t, body.Error.Message)
}

func TestWebhookAcceptsFormAndJSONBodies(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{"token": {"secret"}, "topic_id": {"1"}, "ticket_id": {"12"}}
	w := env.do(http.MethodPost, "/zendesk-plugin/sync", form.Encode(),
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"})
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, 2, env.messageCount(t))

	w = env.do(http.MethodPost, "/zendesk-plugin/sync.json?token=secret",
		`{"topic_id":"1","ticket_id":"12","comment_id":"567"}`,
		map[string]string{"Content-Type": "application/json"})
	assert.Equal(t, http.StatusNoContent, w.Code, w.Body.String())
	assert.Equal(t, 2, env.messageCount(t), "second delivery of the same comment is ignored")
}

func TestCreateIssue(t *testing.T) {
	env := newTestEnv(t)
	body := `{"topic_id":1}`
	jsonHeader := map[string]string{"Content-Type": "application/json"}

	w := env.do(http.MethodPost, "/zendesk-plugin/issues", body, jsonHeader)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	header := map[string]string{"Content-Type": "application/json", APIKeyHeader: testAPIKey}
	w = env.do(http.MethodPost, "/zendesk-plugin/issues", body, header)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var info forumsync.TicketInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.True(t, info.Created)
	assert.Equal(t, "https://acme.zendesk.com/agent/tickets/"+strconv.FormatInt(info.TicketID, 10), info.TicketURL)
	require.Len(t, env.remote.Tickets(), 1)
	assert.Equal(t, forumsync.IssuePriority, env.remote.Tickets()[0].Priority)

	w = env.do(http.MethodPost, "/zendesk-plugin/issues", body, header)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, env.remote.Tickets(), 1)

	w = env.do(http.MethodPost, "/zendesk-plugin/issues", `{"topic_id":1,"priority":"whenever"}`, header)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodPost, "/zendesk-plugin/issues", `{"topic_id":999}`, header)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestTopicTicket(t *testing.T) {
	env := newTestEnv(t)
	header := map[string]string{APIKeyHeader: testAPIKey}

	w := env.do(http.MethodGet, "/zendesk-plugin/topics/1", "", header)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"topic_id":1,"created":false}`, w.Body.String())

	w = env.do(http.MethodGet, "/zendesk-plugin/topics/abc", "", header)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(http.MethodGet, "/zendesk-plugin/topics/1", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = env.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

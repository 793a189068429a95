package zendesk

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	gozendesk "github.com/nukosuke/go-zendesk/zendesk"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/metrics"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

const (
	// maxCommentPages bounds cursor traversal in ListComments.
	maxCommentPages = 100
	commentPageSize = 100
)

// Client adapts go-zendesk to Service. The API root and the jobs
// credentials are read from settings on every request.
type Client struct {
	settings   config.Provider
	httpClient *http.Client
}

// NewClient creates a new Zendesk client
func NewClient(settings config.Provider, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		settings: settings,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// api returns a go-zendesk client bound to the current API root and
// authenticated as the jobs account.
func (c *Client) api() (*gozendesk.Client, error) {
	s := c.settings.Settings()
	api, err := gozendesk.NewClient(c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("failed to create zendesk client: %w", err)
	}
	if err := api.SetEndpointURL(strings.TrimRight(s.RemoteURL, "/")); err != nil {
		return nil, fmt.Errorf("invalid remote url %q: %w", s.RemoteURL, err)
	}
	api.SetCredential(gozendesk.NewAPITokenCredential(s.JobsEmail, s.JobsAPIToken))
	return api, nil
}

// call runs fn against a fresh API client, records metrics for op and wraps
// any failure as a RemoteServiceError.
func (c *Client) call(op, action string, fn func(api *gozendesk.Client) error) error {
	api, err := c.api()
	if err != nil {
		return common.NewRemoteServiceError(action, err)
	}

	start := time.Now()
	err = fn(api)
	metrics.RemoteRequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.RemoteRequests.WithLabelValues(op, "error").Inc()
		return common.NewRemoteServiceError(action, err)
	}
	metrics.RemoteRequests.WithLabelValues(op, "ok").Inc()
	return nil
}

// customField is keyed by field name rather than the numeric id the SDK
// models.
type customField struct {
	ID    string `json:"id"`
	Value string `json:"value"`
}

type ticketPayload struct {
	gozendesk.Ticket
	CustomFields []customField `json:"custom_fields,omitempty"`
}

type ticketEnvelope struct {
	Ticket ticketPayload `json:"ticket"`
}

type auditEvent struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"`
	Body     string `json:"body"`
	HTMLBody string `json:"html_body"`
	Public   bool   `json:"public"`
	AuthorID int64  `json:"author_id"`
}

// ticketResponse is the create/update reply. go-zendesk drops the audit,
// which is the only place the new comment id appears.
type ticketResponse struct {
	Ticket models.RemoteTicket `json:"ticket"`
	Audit  struct {
		Events []auditEvent `json:"events"`
	} `json:"audit"`
}

func (r *ticketResponse) commentEvent() *auditEvent {
	for i := range r.Audit.Events {
		if r.Audit.Events[i].Type == "Comment" {
			return &r.Audit.Events[i]
		}
	}
	return nil
}

// CreateTicket opens a ticket whose first comment is t.Body.
func (c *Client) CreateTicket(ctx context.Context, t models.NewTicket) (*models.RemoteTicket, error) {
	payload := ticketEnvelope{Ticket: ticketPayload{Ticket: gozendesk.Ticket{
		Subject:     t.Subject,
		Comment:     &gozendesk.TicketComment{HTMLBody: t.Body},
		SubmitterID: t.SubmitterID,
		RequesterID: t.SubmitterID,
		Priority:    t.Priority,
		Tags:        t.Tags,
		ExternalID:  t.ExternalID,
	}}}
	for _, name := range sortedKeys(t.CustomFields) {
		payload.Ticket.CustomFields = append(payload.Ticket.CustomFields, customField{ID: name, Value: t.CustomFields[name]})
	}

	var resp ticketResponse
	err := c.call("create_ticket", "create ticket", func(api *gozendesk.Client) error {
		body, err := api.Post(ctx, "/tickets.json", payload)
		if err != nil {
			return err
		}
		return decode(body, &resp)
	})
	if err != nil {
		return nil, err
	}
	if resp.Ticket.ID == 0 {
		return nil, common.NewRemoteServiceError("create ticket", fmt.Errorf("response carried no ticket"))
	}

	ticket := resp.Ticket
	if ev := resp.commentEvent(); ev != nil {
		ticket.FirstCommentID = ev.ID
	}
	return &ticket, nil
}

// AddComment appends a comment to an existing ticket.
func (c *Client) AddComment(ctx context.Context, nc models.NewComment) (*models.RemoteComment, error) {
	public := nc.Public
	payload := map[string]interface{}{"ticket": map[string]interface{}{
		"comment": gozendesk.TicketComment{HTMLBody: nc.Body, AuthorID: nc.AuthorID, Public: &public},
	}}

	var resp ticketResponse
	err := c.call("add_comment", "add comment", func(api *gozendesk.Client) error {
		body, err := api.Put(ctx, fmt.Sprintf("/tickets/%d.json", nc.TicketID), payload)
		if err != nil {
			return err
		}
		return decode(body, &resp)
	})
	if err != nil {
		return nil, err
	}

	ev := resp.commentEvent()
	if ev == nil {
		return nil, common.NewRemoteServiceError("add comment", fmt.Errorf("ticket %d audit carried no comment", nc.TicketID))
	}
	return &models.RemoteComment{
		ID:       ev.ID,
		Body:     ev.Body,
		HTMLBody: ev.HTMLBody,
		AuthorID: ev.AuthorID,
		Public:   ev.Public,
		TicketID: nc.TicketID,
	}, nil
}

// SearchUsers runs a user search, typically by email address.
func (c *Client) SearchUsers(ctx context.Context, query string) ([]models.RemoteUser, error) {
	var found []gozendesk.User
	err := c.call("search_users", "search users", func(api *gozendesk.Client) error {
		users, _, err := api.SearchUsers(ctx, &gozendesk.SearchUsersOptions{Query: query})
		found = users
		return err
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.RemoteUser, 0, len(found))
	for _, u := range found {
		out = append(out, remoteUser(u))
	}
	return out, nil
}

// CreateUser creates an end user.
func (c *Client) CreateUser(ctx context.Context, u models.NewUser) (*models.RemoteUser, error) {
	var created gozendesk.User
	err := c.call("create_user", "create user", func(api *gozendesk.Client) error {
		var err error
		created, err = api.CreateUser(ctx, gozendesk.User{
			Name:     u.Name,
			Email:    u.Email,
			Verified: u.Verified,
			Role:     u.Role,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	if created.ID == 0 {
		return nil, common.NewRemoteServiceError("create user", fmt.Errorf("response carried no user"))
	}
	ru := remoteUser(created)
	return &ru, nil
}

// ListComments fetches all comments of a ticket with cursor pagination.
// Pages are requested relative to the configured API root only.
func (c *Client) ListComments(ctx context.Context, ticketID int64) ([]models.RemoteComment, error) {
	var all []models.RemoteComment
	cursor := ""
	for page := 0; page < maxCommentPages; page++ {
		q := url.Values{}
		q.Set("page[size]", strconv.Itoa(commentPageSize))
		if cursor != "" {
			q.Set("page[after]", cursor)
		}
		path := fmt.Sprintf("/tickets/%d/comments.json?%s", ticketID, q.Encode())

		// Decoded into models.RemoteComment: the SDK attachment type has no
		// mapped_content_url.
		var resp struct {
			Comments []models.RemoteComment        `json:"comments"`
			Meta     gozendesk.CursorPaginationMeta `json:"meta"`
		}
		err := c.call("list_comments", "list comments", func(api *gozendesk.Client) error {
			body, err := api.Get(ctx, path)
			if err != nil {
				return err
			}
			return decode(body, &resp)
		})
		if err != nil {
			return nil, err
		}

		for _, cm := range resp.Comments {
			cm.TicketID = ticketID
			all = append(all, cm)
		}
		if !resp.Meta.HasMore || resp.Meta.AfterCursor == "" {
			break
		}
		cursor = resp.Meta.AfterCursor
	}
	return all, nil
}

func decode(body []byte, out interface{}) error {
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func remoteUser(u gozendesk.User) models.RemoteUser {
	return models.RemoteUser{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		Verified: u.Verified,
		Role:     u.Role,
	}
}

// AgentTicketURL turns the configured API root into the agent-facing URL of
// a ticket, e.g. https://acme.zendesk.com/agent/tickets/12.
func AgentTicketURL(remoteURL string, ticketID int64) string {
	u, err := url.Parse(remoteURL)
	if err != nil || u.Host == "" {
		return ""
	}
	return fmt.Sprintf("%s://%s/agent/tickets/%d", u.Scheme, u.Host, ticketID)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

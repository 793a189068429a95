// Package zendesktest provides an in-memory ticketing service for tests.
package zendesktest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

// Operation names accepted by FailNext and Calls.
const (
	OpCreateTicket = "create_ticket"
	OpAddComment   = "add_comment"
	OpSearchUsers  = "search_users"
	OpCreateUser   = "create_user"
	OpListComments = "list_comments"
)

type failure struct {
	remaining int
	err       error
}

// Fake is a goroutine-safe in-memory ticketing service.
type Fake struct {
	mu       sync.Mutex
	nextID   int64
	tickets  map[int64]*models.RemoteTicket
	comments map[int64][]models.RemoteComment
	users    []models.RemoteUser
	created  []models.NewTicket
	calls    map[string]int
	failures map[string]*failure

	// HideFirstCommentID leaves FirstCommentID unset on created tickets, as
	// when the remote omits the creation audit.
	HideFirstCommentID bool
}

// New creates an empty Fake. Ids are assigned from 1000 upwards.
func New() *Fake {
	return &Fake{
		nextID:   1000,
		tickets:  make(map[int64]*models.RemoteTicket),
		comments: make(map[int64][]models.RemoteComment),
		calls:    make(map[string]int),
		failures: make(map[string]*failure),
	}
}

// FailNext makes the next n calls of op fail with err wrapped as a remote
// service error.
func (f *Fake) FailNext(op string, n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[op] = &failure{remaining: n, err: err}
}

// Calls returns how many times op was invoked, failed calls included.
func (f *Fake) Calls(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[op]
}

// AddUser seeds a remote user and returns it with its id.
func (f *Fake) AddUser(u models.RemoteUser) models.RemoteUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u.ID == 0 {
		u.ID = f.id()
	}
	f.users = append(f.users, u)
	return u
}

// SetComments replaces the comment list of a ticket, creating the ticket if
// needed.
func (f *Fake) SetComments(ticketID int64, comments ...models.RemoteComment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tickets[ticketID]; !ok {
		f.tickets[ticketID] = &models.RemoteTicket{ID: ticketID}
	}
	for i := range comments {
		comments[i].TicketID = ticketID
	}
	f.comments[ticketID] = comments
}

// Tickets returns the NewTicket requests that succeeded, in order.
func (f *Fake) Tickets() []models.NewTicket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.NewTicket(nil), f.created...)
}

// Comments returns the comments currently on a ticket.
func (f *Fake) Comments(ticketID int64) []models.RemoteComment {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RemoteComment(nil), f.comments[ticketID]...)
}

// Users returns all remote users.
func (f *Fake) Users() []models.RemoteUser {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.RemoteUser(nil), f.users...)
}

func (f *Fake) id() int64 {
	f.nextID++
	return f.nextID
}

// begin records a call and returns the injected failure, if any. Callers
// hold f.mu.
func (f *Fake) begin(op string) error {
	f.calls[op]++
	if fl, ok := f.failures[op]; ok && fl.remaining > 0 {
		fl.remaining--
		return common.NewRemoteServiceError(strings.ReplaceAll(op, "_", " "), fl.err)
	}
	return nil
}

func (f *Fake) CreateTicket(_ context.Context, t models.NewTicket) (*models.RemoteTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateTicket); err != nil {
		return nil, err
	}

	ticket := &models.RemoteTicket{
		ID:          f.id(),
		SubmitterID: t.SubmitterID,
		RequesterID: t.SubmitterID,
		Priority:    t.Priority,
		ExternalID:  t.ExternalID,
	}
	ticket.URL = fmt.Sprintf("https://fake.zendesk.test/api/v2/tickets/%d.json", ticket.ID)
	first := models.RemoteComment{ID: f.id(), Body: t.Body, HTMLBody: t.Body, AuthorID: t.SubmitterID, Public: true, TicketID: ticket.ID}
	f.tickets[ticket.ID] = ticket
	f.comments[ticket.ID] = []models.RemoteComment{first}
	f.created = append(f.created, t)

	out := *ticket
	if !f.HideFirstCommentID {
		out.FirstCommentID = first.ID
	}
	return &out, nil
}

func (f *Fake) AddComment(_ context.Context, c models.NewComment) (*models.RemoteComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpAddComment); err != nil {
		return nil, err
	}
	if _, ok := f.tickets[c.TicketID]; !ok {
		return nil, common.NewRemoteServiceError("add comment", fmt.Errorf("ticket %d not found", c.TicketID))
	}

	cm := models.RemoteComment{ID: f.id(), Body: c.Body, HTMLBody: c.Body, AuthorID: c.AuthorID, Public: c.Public, TicketID: c.TicketID}
	f.comments[c.TicketID] = append(f.comments[c.TicketID], cm)
	return &cm, nil
}

func (f *Fake) SearchUsers(_ context.Context, query string) ([]models.RemoteUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpSearchUsers); err != nil {
		return nil, err
	}
	var out []models.RemoteUser
	for _, u := range f.users {
		if strings.EqualFold(u.Email, query) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *Fake) CreateUser(_ context.Context, u models.NewUser) (*models.RemoteUser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpCreateUser); err != nil {
		return nil, err
	}
	ru := models.RemoteUser{ID: f.id(), Name: u.Name, Email: u.Email, Verified: u.Verified, Role: u.Role}
	f.users = append(f.users, ru)
	return &ru, nil
}

func (f *Fake) ListComments(_ context.Context, ticketID int64) ([]models.RemoteComment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.begin(OpListComments); err != nil {
		return nil, err
	}
	return append([]models.RemoteComment(nil), f.comments[ticketID]...), nil
}

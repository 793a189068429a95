package zendesk

import (
	"context"

	"github.com/tuannvm/zendesk-forum-sync/internal/models"
)

// Service defines the ticketing-service operations the sync engines use.
type Service interface {
	CreateTicket(ctx context.Context, t models.NewTicket) (*models.RemoteTicket, error)
	AddComment(ctx context.Context, c models.NewComment) (*models.RemoteComment, error)
	SearchUsers(ctx context.Context, query string) ([]models.RemoteUser, error)
	CreateUser(ctx context.Context, u models.NewUser) (*models.RemoteUser, error)
	// ListComments returns every comment on the ticket in creation order.
	ListComments(ctx context.Context, ticketID int64) ([]models.RemoteComment, error)
}

var (
	_ Service = (*Client)(nil)
	_ Service = (*BreakerService)(nil)
)

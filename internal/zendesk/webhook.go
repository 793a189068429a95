package zendesk

import (
	"crypto/subtle"
	"strconv"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
)

// WebhookRequest is the raw parameter set of a Zendesk trigger calling the
// sync endpoint. Values arrive as query, form or JSON fields.
type WebhookRequest struct {
	Token     string `form:"token" json:"token"`
	TopicID   string `form:"topic_id" json:"topic_id"`
	TicketID  string `form:"ticket_id" json:"ticket_id"`
	CommentID string `form:"comment_id" json:"comment_id"`
	Email     string `form:"email" json:"email"`
}

// WebhookDelivery is a validated WebhookRequest.
type WebhookDelivery struct {
	TopicID   int64
	TicketID  int64
	CommentID int64 // 0 selects the latest public comment
	Email     string
}

// Authenticate compares the request token with the configured one. A
// missing token is a validation error; a wrong one an auth error.
func (r *WebhookRequest) Authenticate(expected string) error {
	if r.Token == "" {
		return common.NewValidationError("missing token")
	}
	if expected == "" || subtle.ConstantTimeCompare([]byte(r.Token), []byte(expected)) != 1 {
		return common.NewAuthError("invalid token")
	}
	return nil
}

// Delivery validates the identifiers and converts them.
func (r *WebhookRequest) Delivery() (*WebhookDelivery, error) {
	if r.TopicID == "" {
		return nil, common.NewValidationError("missing topic_id")
	}
	if r.TicketID == "" {
		return nil, common.NewValidationError("missing ticket_id")
	}
	topicID, err := common.ParseID("topic_id", r.TopicID)
	if err != nil {
		return nil, err
	}
	ticketID, err := common.ParseID("ticket_id", r.TicketID)
	if err != nil {
		return nil, err
	}

	d := &WebhookDelivery{TopicID: topicID, TicketID: ticketID, Email: r.Email}
	if r.CommentID != "" {
		if d.CommentID, err = strconv.ParseInt(r.CommentID, 10, 64); err != nil || d.CommentID <= 0 {
			return nil, common.NewValidationError("invalid comment_id: %q", r.CommentID)
		}
	}
	return d, nil
}

package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	forumsync "github.com/tuannvm/zendesk-forum-sync/internal/sync"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk"
)

// webhook applies a ticket comment delivered by a Zendesk trigger. Checks
// run in a fixed order: token present, token valid, sync enabled, then
// parameters.
func (s *Server) webhook(c *gin.Context) {
	fail := func(err error) {
		forumsync.Record("", err)
		logging.Warnw("webhook rejected", "path", c.Request.URL.Path, "error", err)
		common.AbortWithError(c, err)
	}

	var req zendesk.WebhookRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		fail(common.NewValidationError("invalid parameters: %v", err))
		return
	}
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBind(&req); err != nil {
			fail(common.NewValidationError("invalid parameters: %v", err))
			return
		}
	}

	if err := req.Authenticate(s.settings.Settings().WebhookToken); err != nil {
		fail(err)
		return
	}
	if err := s.inbound.CheckEnabled(); err != nil {
		fail(err)
		return
	}
	delivery, err := req.Delivery()
	if err != nil {
		fail(err)
		return
	}

	outcome, err := s.inbound.Apply(c.Request.Context(), delivery)
	if err != nil {
		fail(err)
		return
	}
	forumsync.Record(outcome, nil)
	c.Status(http.StatusNoContent)
}

type issueRequest struct {
	TopicID  int64  `json:"topic_id" form:"topic_id" binding:"required,gt=0"`
	Priority string `json:"priority" form:"priority" binding:"omitempty,oneof=low normal high urgent"`
}

// createIssue opens the ticket for a thread right away.
func (s *Server) createIssue(c *gin.Context) {
	var req issueRequest
	if err := c.ShouldBind(&req); err != nil {
		common.AbortWithError(c, common.NewValidationError("invalid parameters: %v", err))
		return
	}

	info, err := s.outbound.CreateTicketNow(c.Request.Context(), req.TopicID, req.Priority)
	if err != nil {
		logging.Errorw("failed to create ticket", "topic_id", req.TopicID, "error", err)
		common.AbortWithError(c, err)
		return
	}

	status := http.StatusOK
	if info.Created {
		status = http.StatusCreated
	}
	c.JSON(status, info)
}

// topicTicket returns the ticket linked to a thread.
func (s *Server) topicTicket(c *gin.Context) {
	topicID, err := common.ParseID("topic_id", c.Param("topic_id"))
	if err != nil {
		common.AbortWithError(c, err)
		return
	}

	info, err := s.outbound.TicketInfo(c.Request.Context(), topicID)
	if err != nil {
		common.AbortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, info)
}

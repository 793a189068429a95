// Package sync moves forum messages to ticket comments and ticket comments
// back to forum messages.
package sync

import "github.com/tuannvm/zendesk-forum-sync/internal/models"

// SelectComment picks the comment a webhook delivery refers to: the public
// comment with commentID when one is given, otherwise the latest public one.
func SelectComment(comments []models.RemoteComment, commentID int64) *models.RemoteComment {
	if commentID != 0 {
		return PublicByID(comments, commentID)
	}
	return LatestPublic(comments)
}

// PublicByID returns the first public comment with id, or nil.
func PublicByID(comments []models.RemoteComment, id int64) *models.RemoteComment {
	for i := range comments {
		if comments[i].Public && comments[i].ID == id {
			return &comments[i]
		}
	}
	return nil
}

// LatestPublic returns the last public comment in list order, or nil.
func LatestPublic(comments []models.RemoteComment) *models.RemoteComment {
	for i := len(comments) - 1; i >= 0; i-- {
		if comments[i].Public {
			return &comments[i]
		}
	}
	return nil
}

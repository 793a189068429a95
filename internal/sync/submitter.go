package sync

import (
	"context"
	"fmt"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/logging"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk"
)

// ResolveSubmitter finds the remote user standing in for a forum author. A
// single match on email is reused; zero or several matches create a new
// verified end user.
func ResolveSubmitter(ctx context.Context, remote zendesk.Service, u *models.User) (*models.RemoteUser, error) {
	users, err := remote.SearchUsers(ctx, u.Email)
	if err != nil {
		return nil, err
	}
	if len(users) == 1 {
		return &users[0], nil
	}

	logging.Debugw("creating remote user", "user_id", u.ID, "matches", len(users))
	created, err := remote.CreateUser(ctx, models.NewUser{
		Name:     u.DisplayName(),
		Email:    u.Email,
		Verified: true,
		Role:     "end-user",
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// serviceAccount returns the remote user behind the jobs credentials.
func serviceAccount(ctx context.Context, remote zendesk.Service, email string) (*models.RemoteUser, error) {
	users, err := remote.SearchUsers(ctx, email)
	if err != nil {
		return nil, err
	}
	if len(users) == 0 {
		return nil, common.NewNotFoundError("no remote user for jobs account %s", email)
	}
	return &users[0], nil
}

func submitterError(messageID int64, err error) error {
	return fmt.Errorf("failed to resolve submitter for message %d: %w", messageID, err)
}

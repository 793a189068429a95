package sync

import (
	"context"
	"errors"
	"fmt"

	"github.com/tuannvm/zendesk-forum-sync/internal/common"
	"github.com/tuannvm/zendesk-forum-sync/internal/config"
	"github.com/tuannvm/zendesk-forum-sync/internal/forum"
	"github.com/tuannvm/zendesk-forum-sync/internal/models"
	"github.com/tuannvm/zendesk-forum-sync/internal/policy"
	"github.com/tuannvm/zendesk-forum-sync/internal/refstore"
	"github.com/tuannvm/zendesk-forum-sync/internal/render"
	"github.com/tuannvm/zendesk-forum-sync/internal/zendesk"
)

// Deps are the collaborators shared by both sync directions.
type Deps struct {
	Settings config.Provider
	Policy   *policy.CategoryPolicy
	Forum    forum.Store
	Refs     *refstore.Store
	Remote   zendesk.Service
	Renderer *render.Renderer
}

func (d Deps) loadThread(ctx context.Context, id int64) (*models.Thread, error) {
	t, err := d.Forum.Thread(ctx, id)
	if errors.Is(err, forum.ErrNotFound) {
		return nil, common.NewNotFoundError("thread %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %d: %w", id, err)
	}
	return t, nil
}

func (d Deps) loadUser(ctx context.Context, id int64) (*models.User, error) {
	u, err := d.Forum.User(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load user %d: %w", id, err)
	}
	return u, nil
}

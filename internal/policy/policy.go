// Package policy decides which forum categories take part in ticket sync.
package policy

import (
	"strconv"

	"github.com/tuannvm/zendesk-forum-sync/internal/config"
)

// CategoryPolicy answers whether a category is sync-enabled. It holds no
// state of its own and consults the provider on every call.
type CategoryPolicy struct {
	settings config.Provider
}

// NewCategoryPolicy creates a new CategoryPolicy
func NewCategoryPolicy(settings config.Provider) *CategoryPolicy {
	return &CategoryPolicy{settings: settings}
}

// IsEnabled reports whether categoryID is eligible for sync. A zero id means
// the thread has no category and is never eligible.
func (p *CategoryPolicy) IsEnabled(categoryID int64) bool {
	if categoryID == 0 {
		return false
	}
	s := p.settings.Settings()
	if s.AllCategories {
		return true
	}
	want := strconv.FormatInt(categoryID, 10)
	for _, id := range config.SplitPipeList(s.EnabledCategories) {
		if id == want {
			return true
		}
	}
	return false
}

// Changed reports whether moving a thread from oldID to newID crosses the
// enabled boundary in either direction.
func (p *CategoryPolicy) Changed(oldID, newID int64) bool {
	return p.IsEnabled(oldID) != p.IsEnabled(newID)
}

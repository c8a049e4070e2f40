package moderation

import (
	"context"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
	"go.uber.org/zap"
)

// FlagStore is the single read path for moderation state.
type FlagStore interface {
	GetModerationFlags(ctx context.Context, userID uuid.UUID) (models.ModerationFlags, error)
	GetUserRoles(ctx context.Context, userID uuid.UUID) ([]models.Role, error)
}

// CanCreatePost reports whether an author with flags may create a post.
func CanCreatePost(flags models.ModerationFlags) bool {
	return !flags.IsSuspended
}

// FilterFeed returns the posts visible to viewerID, in their original order.
// A post is visible unless its author is shadowbanned and is not the viewer.
// uuid.Nil is an anonymous viewer. The input slice is not modified.
func FilterFeed(posts []models.Post, viewerID uuid.UUID) []models.Post {
	visible := make([]models.Post, 0, len(posts))
	for _, p := range posts {
		if isVisible(p.Author, viewerID) {
			visible = append(visible, p)
		}
	}
	return visible
}

func isVisible(author models.Author, viewerID uuid.UUID) bool {
	if !author.Flags.IsShadowbanned {
		return true
	}
	return viewerID != uuid.Nil && author.ID == viewerID
}

// Policy applies the post gate and the feed filter against a FlagStore.
type Policy struct {
	store   FlagStore
	log     *zap.Logger
	metrics *metrics.Metrics
}

// NewPolicy creates a Policy. log and m may be nil.
func NewPolicy(store FlagStore, log *zap.Logger, m *metrics.Metrics) *Policy {
	if log == nil {
		log = zap.NewNop()
	}
	return &Policy{store: store, log: log, metrics: m}
}

// FlagsFor reads userID's current flags. A failed read yields the zero value
// (not suspended, not shadowbanned) and is logged rather than returned.
func (p *Policy) FlagsFor(ctx context.Context, userID uuid.UUID) models.ModerationFlags {
	flags, err := p.store.GetModerationFlags(ctx, userID)
	if err != nil {
		p.log.Warn("Failed to read moderation flags, using defaults",
			zap.String("userId", userID.String()),
			zap.Error(err),
		)
		p.metrics.FlagReadFailed()
		return models.ModerationFlags{}
	}
	return flags
}

// CheckCanPost reads the author's flags at call time and returns
// ErrAccountSuspended if the author may not post.
func (p *Policy) CheckCanPost(ctx context.Context, authorID uuid.UUID) error {
	if CanCreatePost(p.FlagsFor(ctx, authorID)) {
		return nil
	}
	p.metrics.GateBlocked()
	p.log.Info("Blocked post from suspended account",
		zap.String("userId", authorID.String()),
	)
	return ErrAccountSuspended
}

// RolesFor returns userID's roles, or nil if they cannot be read.
func (p *Policy) RolesFor(ctx context.Context, userID uuid.UUID) []models.Role {
	roles, err := p.store.GetUserRoles(ctx, userID)
	if err != nil {
		p.log.Warn("Failed to read user roles",
			zap.String("userId", userID.String()),
			zap.Error(err),
		)
		return nil
	}
	return roles
}

// PrepareFeed filters posts for viewerID and attaches each remaining
// author's roles. Roles are looked up once per distinct author.
func (p *Policy) PrepareFeed(ctx context.Context, posts []models.Post, viewerID uuid.UUID) []models.Post {
	visible := FilterFeed(posts, viewerID)
	p.metrics.PostsHidden(len(posts) - len(visible))

	roles := make(map[uuid.UUID][]models.Role)
	for i := range visible {
		authorID := visible[i].Author.ID
		r, ok := roles[authorID]
		if !ok {
			r = p.RolesFor(ctx, authorID)
			roles[authorID] = r
		}
		visible[i].Author.Roles = r
	}
	return visible
}

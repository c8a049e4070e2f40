package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

// UserStore is the user persistence used by UserService and SocialService.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	UsernameExists(ctx context.Context, username string) (bool, error)
	UpdateProfile(ctx context.Context, u *models.User) error
	SearchUsers(ctx context.Context, query string, limit int) ([]models.User, error)
	GetProfileCounts(ctx context.Context, userID uuid.UUID) (models.ProfileCounts, error)
}

// PostStore is the post and like persistence used by PostService.
type PostStore interface {
	CreatePost(ctx context.Context, p *models.Post) error
	GetPost(ctx context.Context, id, viewerID uuid.UUID) (*models.Post, error)
	DeletePost(ctx context.Context, id, authorID uuid.UUID) error
	ListFeed(ctx context.Context, viewerID uuid.UUID, before *uuid.UUID, limit int) ([]models.Post, error)
	ListUserPosts(ctx context.Context, authorID, viewerID uuid.UUID, before *uuid.UUID, limit int) ([]models.Post, error)
	ListReplies(ctx context.Context, parentID, viewerID uuid.UUID, limit int) ([]models.Post, error)
	LikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error)
	UnlikePost(ctx context.Context, userID, postID uuid.UUID) (bool, error)
	CountLikes(ctx context.Context, postID uuid.UUID) (int, error)
}

// FollowStore is the follow graph persistence.
type FollowStore interface {
	Follow(ctx context.Context, followerID, followingID uuid.UUID) (bool, error)
	Unfollow(ctx context.Context, followerID, followingID uuid.UUID) (bool, error)
	IsFollowing(ctx context.Context, followerID, followingID uuid.UUID) (bool, error)
}

// AdminStore is the persistence behind the admin panel.
type AdminStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	ListUsers(ctx context.Context, limit, offset int) ([]models.AdminUserView, error)
	// UpdateModerationFlags applies update to the user's current flags while
	// holding a lock on them, records an audit row, and returns the flags
	// before and after.
	UpdateModerationFlags(
		ctx context.Context,
		userID uuid.UUID,
		update func(models.ModerationFlags) models.ModerationFlags,
		actor string,
	) (before, after models.ModerationFlags, err error)
	ListModerationActions(ctx context.Context, userID uuid.UUID, limit int) ([]models.ModerationAction, error)
	GrantRole(ctx context.Context, userID uuid.UUID, role models.Role) error
	RevokeRole(ctx context.Context, userID uuid.UUID, role models.Role) error
}

// RoleInvalidator drops cached roles after an admin change.
type RoleInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID) error
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, uuid.UUID) error { return nil }

// storeError maps repository errors onto service errors.
func storeError(err error, resource, op string) error {
	switch {
	case db.IsNotFound(err):
		return &NotFoundError{Resource: resource}
	case db.IsDuplicateKey(err):
		return &ConflictError{Message: resource + " already exists"}
	default:
		logger.Log.Error("Store operation failed", zap.String("operation", op), zap.Error(err))
		return &ProcessingError{Message: op, Cause: err}
	}
}

// checkContent classifies text and records the outcome.
func checkContent(c *moderation.Classifier, m *metrics.Metrics, field, text string) error {
	err := c.Validate(field, text)
	m.ObserveClassification(field, err == nil)
	if err != nil {
		var rule string
		if cre, ok := err.(*moderation.ContentRejectedError); ok {
			rule = cre.Rule
		}
		logger.Log.Info("Content rejected",
			zap.String("field", field),
			zap.String("rule", rule),
		)
	}
	return err
}

// publish sends an event and logs failures. Events are best effort and never
// fail the request that produced them.
func publish(ctx context.Context, p EventPublisher, m *metrics.Metrics, eventType string, payload interface{}) {
	err := p.Publish(ctx, eventType, payload)
	m.EventPublished(eventType, err)
	if err != nil {
		logger.Log.Error("Failed to publish event",
			zap.String("type", eventType),
			zap.Error(err),
		)
	}
}

package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
)

// SocialService manages the follow graph.
type SocialService struct {
	users   UserStore
	follows FollowStore
	metrics *metrics.Metrics
}

// NewSocialService creates a new SocialService instance.
func NewSocialService(users UserStore, follows FollowStore, m *metrics.Metrics) *SocialService {
	return &SocialService{users: users, follows: follows, metrics: m}
}

func (s *SocialService) target(ctx context.Context, username string) (*models.User, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, storeError(err, "user", "get user")
	}
	return u, nil
}

// Follow makes followerID follow username. Following twice is not an error.
func (s *SocialService) Follow(ctx context.Context, followerID uuid.UUID, username string) error {
	t, err := s.target(ctx, username)
	if err != nil {
		return err
	}
	if t.ID == followerID {
		return &ValidationError{Message: "you cannot follow yourself"}
	}

	created, err := s.follows.Follow(ctx, followerID, t.ID)
	if err != nil {
		if db.IsCheckViolation(err) {
			return &ValidationError{Message: "you cannot follow yourself"}
		}
		return storeError(err, "follow", "follow")
	}
	if created {
		s.metrics.Followed()
	}
	return nil
}

// Unfollow removes followerID's follow of username.
func (s *SocialService) Unfollow(ctx context.Context, followerID uuid.UUID, username string) error {
	t, err := s.target(ctx, username)
	if err != nil {
		return err
	}
	if _, err := s.follows.Unfollow(ctx, followerID, t.ID); err != nil {
		return storeError(err, "follow", "unfollow")
	}
	return nil
}

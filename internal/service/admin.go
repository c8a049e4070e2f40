package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

// ModerationUpdatedPayload is the body of a moderation.updated event.
type ModerationUpdatedPayload struct {
	UserID uuid.UUID              `json:"user_id"`
	Actor  string                 `json:"actor"`
	Before models.ModerationFlags `json:"before"`
	After  models.ModerationFlags `json:"after"`
}

// RoleChangedPayload is the body of role.granted and role.revoked events.
type RoleChangedPayload struct {
	UserID uuid.UUID   `json:"user_id"`
	Role   models.Role `json:"role"`
	Actor  string      `json:"actor"`
}

// ClassifyResult is the admin view of a classification, including the
// internal rule name and normalized text.
type ClassifyResult struct {
	Valid      bool   `json:"valid"`
	Reason     string `json:"reason,omitempty"`
	Rule       string `json:"rule,omitempty"`
	Normalized string `json:"normalized"`
}

// AdminService backs the moderation panel.
type AdminService struct {
	store       AdminStore
	classifier  *moderation.Classifier
	publisher   EventPublisher
	invalidator RoleInvalidator
	metrics     *metrics.Metrics
}

// NewAdminService creates a new AdminService instance. publisher and
// invalidator may be nil.
func NewAdminService(
	store AdminStore,
	classifier *moderation.Classifier,
	publisher EventPublisher,
	invalidator RoleInvalidator,
	m *metrics.Metrics,
) *AdminService {
	if publisher == nil {
		publisher = NoopPublisher{}
	}
	if invalidator == nil {
		invalidator = noopInvalidator{}
	}
	return &AdminService{
		store:       store,
		classifier:  classifier,
		publisher:   publisher,
		invalidator: invalidator,
		metrics:     m,
	}
}

// ListUsers returns a page of users with their flags and roles.
func (s *AdminService) ListUsers(ctx context.Context, limit, offset int) ([]models.AdminUserView, error) {
	users, err := s.store.ListUsers(ctx, limit, offset)
	if err != nil {
		return nil, storeError(err, "user", "list users")
	}
	if users == nil {
		users = []models.AdminUserView{}
	}
	return users, nil
}

// UpdateModeration applies the non-nil fields of req to userID's flags.
func (s *AdminService) UpdateModeration(ctx context.Context, userID uuid.UUID, req *models.UpdateModerationRequest, actor string) (*models.ModerationFlags, error) {
	// The merge runs against the locked row, so concurrent updates to
	// different flags do not overwrite each other. Unlike the post gate, a
	// failed read is an error here, never a default.
	before, after, err := s.store.UpdateModerationFlags(ctx, userID, req.Apply, actor)
	if err != nil {
		return nil, storeError(err, "user", "update moderation flags")
	}

	for _, action := range flagActions(before, after) {
		s.metrics.ModerationAction(action)
	}

	logger.Log.Info("Moderation flags updated",
		zap.String("userId", userID.String()),
		zap.String("actor", actor),
		zap.Bool("verified", after.IsVerified),
		zap.Bool("suspended", after.IsSuspended),
		zap.Bool("shadowbanned", after.IsShadowbanned),
	)

	publish(ctx, s.publisher, s.metrics, EventModerationUpdated, ModerationUpdatedPayload{
		UserID: userID,
		Actor:  actor,
		Before: before,
		After:  after,
	})

	return &after, nil
}

// flagActions names each flag transition between before and after.
func flagActions(before, after models.ModerationFlags) []string {
	var actions []string
	add := func(was, is bool, on, off string) {
		switch {
		case !was && is:
			actions = append(actions, on)
		case was && !is:
			actions = append(actions, off)
		}
	}
	add(before.IsVerified, after.IsVerified, "verify", "unverify")
	add(before.IsSuspended, after.IsSuspended, "suspend", "unsuspend")
	add(before.IsShadowbanned, after.IsShadowbanned, "shadowban", "unshadowban")
	return actions
}

// GrantRole gives userID a role badge.
func (s *AdminService) GrantRole(ctx context.Context, userID uuid.UUID, role models.Role, actor string) error {
	return s.changeRole(ctx, userID, role, actor, true)
}

// RevokeRole removes a role badge from userID.
func (s *AdminService) RevokeRole(ctx context.Context, userID uuid.UUID, role models.Role, actor string) error {
	return s.changeRole(ctx, userID, role, actor, false)
}

func (s *AdminService) changeRole(ctx context.Context, userID uuid.UUID, role models.Role, actor string, grant bool) error {
	if !role.IsValid() {
		return &ValidationError{Message: fmt.Sprintf("unknown role %q", role)}
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return storeError(err, "user", "get user")
	}

	eventType, action := EventRoleGranted, "grant_role"
	var err error
	if grant {
		err = s.store.GrantRole(ctx, userID, role)
	} else {
		eventType, action = EventRoleRevoked, "revoke_role"
		err = s.store.RevokeRole(ctx, userID, role)
	}
	if err != nil {
		return storeError(err, "user", action)
	}

	if err := s.invalidator.Invalidate(ctx, userID); err != nil {
		logger.Log.Warn("Failed to invalidate role cache", zap.String("userId", userID.String()), zap.Error(err))
	}
	s.metrics.ModerationAction(action)

	publish(ctx, s.publisher, s.metrics, eventType, RoleChangedPayload{UserID: userID, Role: role, Actor: actor})
	return nil
}

// History returns the moderation audit trail for userID.
func (s *AdminService) History(ctx context.Context, userID uuid.UUID, limit int) ([]models.ModerationAction, error) {
	actions, err := s.store.ListModerationActions(ctx, userID, limit)
	if err != nil {
		return nil, storeError(err, "user", "list moderation actions")
	}
	if actions == nil {
		actions = []models.ModerationAction{}
	}
	return actions, nil
}

// Classify runs the classifier and exposes which rule matched.
func (s *AdminService) Classify(text string) ClassifyResult {
	res := s.classifier.Classify(text)
	return ClassifyResult{
		Valid:      res.Valid,
		Reason:     res.Reason,
		Rule:       res.Rule,
		Normalized: s.classifier.Normalize(text),
	}
}

package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/internal/validation"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

// UsernameTakenMessage is returned when a username is already in use.
const UsernameTakenMessage = "Username is already taken"

// UserService manages profiles.
type UserService struct {
	users      UserStore
	follows    FollowStore
	policy     *moderation.Policy
	classifier *moderation.Classifier
	validator  *validation.Validator
	metrics    *metrics.Metrics
}

// NewUserService creates a new UserService instance.
func NewUserService(
	users UserStore,
	follows FollowStore,
	policy *moderation.Policy,
	classifier *moderation.Classifier,
	validator *validation.Validator,
	m *metrics.Metrics,
) *UserService {
	return &UserService{
		users:      users,
		follows:    follows,
		policy:     policy,
		classifier: classifier,
		validator:  validator,
		metrics:    m,
	}
}

func asValidation(err error) error {
	var fe *validation.FieldError
	if errors.As(err, &fe) {
		return &ValidationError{Message: fe.Error()}
	}
	return err
}

// CheckUsername reports whether raw is a valid, acceptable and free username.
func (s *UserService) CheckUsername(ctx context.Context, raw string) (*models.UsernameAvailability, error) {
	name, err := s.validator.Username(raw)
	if err != nil {
		return nil, asValidation(err)
	}
	if err := checkContent(s.classifier, s.metrics, "username", name); err != nil {
		return nil, err
	}

	exists, err := s.users.UsernameExists(ctx, name)
	if err != nil {
		return nil, storeError(err, "user", "check username")
	}

	res := &models.UsernameAvailability{Username: name, Available: !exists}
	if exists {
		res.Reason = UsernameTakenMessage
	}
	return res, nil
}

// Viewer resolves an auth subject to its profile.
func (s *UserService) Viewer(ctx context.Context, subject string) (*models.User, error) {
	if subject == "" {
		return nil, &NotFoundError{Resource: "profile"}
	}
	u, err := s.users.GetUserByExternalID(ctx, subject)
	if err != nil {
		return nil, storeError(err, "profile", "get viewer")
	}
	return u, nil
}

// ViewerID resolves an optional auth subject to a user id. Anonymous callers,
// and callers without a profile yet, get uuid.Nil.
func (s *UserService) ViewerID(ctx context.Context, subject string) uuid.UUID {
	if subject == "" {
		return uuid.Nil
	}
	u, err := s.users.GetUserByExternalID(ctx, subject)
	if err != nil {
		return uuid.Nil
	}
	return u.ID
}

// RolesForSubject returns the roles of the profile behind subject.
func (s *UserService) RolesForSubject(ctx context.Context, subject string) ([]models.Role, error) {
	u, err := s.Viewer(ctx, subject)
	if err != nil {
		return nil, err
	}
	return s.policy.RolesFor(ctx, u.ID), nil
}

// CreateProfile creates the profile for an authenticated subject.
func (s *UserService) CreateProfile(ctx context.Context, subject string, req *models.CreateUserRequest) (*models.User, error) {
	if _, err := s.users.GetUserByExternalID(ctx, subject); err == nil {
		return nil, &ConflictError{Message: "profile already exists"}
	} else if !db.IsNotFound(err) {
		return nil, storeError(err, "profile", "get viewer")
	}

	name, err := s.validator.Username(req.Username)
	if err != nil {
		return nil, asValidation(err)
	}
	if err := checkContent(s.classifier, s.metrics, "username", name); err != nil {
		return nil, err
	}

	displayName, err := s.validator.DisplayName(req.DisplayName)
	if err != nil {
		return nil, asValidation(err)
	}
	if displayName == "" {
		displayName = s.validator.Sanitize(req.Username)
	} else if err := checkContent(s.classifier, s.metrics, "display_name", displayName); err != nil {
		return nil, err
	}

	bio, err := s.validator.Bio(req.Bio)
	if err != nil {
		return nil, asValidation(err)
	}
	if bio != "" {
		if err := checkContent(s.classifier, s.metrics, "bio", bio); err != nil {
			return nil, err
		}
	}

	exists, err := s.users.UsernameExists(ctx, name)
	if err != nil {
		return nil, storeError(err, "user", "check username")
	}
	if exists {
		return nil, &ConflictError{Message: UsernameTakenMessage}
	}

	u := &models.User{
		ExternalID:  subject,
		Username:    name,
		DisplayName: displayName,
		Bio:         bio,
	}
	if err := s.users.CreateUser(ctx, u); err != nil {
		mapped := storeError(err, "user", "create user")
		if isConflict(mapped) {
			return nil, &ConflictError{Message: UsernameTakenMessage}
		}
		return nil, mapped
	}

	logger.Log.Info("Profile created",
		zap.String("userId", u.ID.String()),
		zap.String("username", u.Username),
	)
	return u, nil
}

func isConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}

// UpdateProfile applies the non-nil fields of req to the subject's profile.
func (s *UserService) UpdateProfile(ctx context.Context, subject string, req *models.UpdateProfileRequest) (*models.User, error) {
	u, err := s.Viewer(ctx, subject)
	if err != nil {
		return nil, err
	}

	if req.Username != nil {
		name, err := s.validator.Username(*req.Username)
		if err != nil {
			return nil, asValidation(err)
		}
		if err := checkContent(s.classifier, s.metrics, "username", name); err != nil {
			return nil, err
		}
		if name != u.Username {
			exists, err := s.users.UsernameExists(ctx, name)
			if err != nil {
				return nil, storeError(err, "user", "check username")
			}
			if exists {
				return nil, &ConflictError{Message: UsernameTakenMessage}
			}
		}
		u.Username = name
	}

	if req.DisplayName != nil {
		dn, err := s.validator.DisplayName(*req.DisplayName)
		if err != nil {
			return nil, asValidation(err)
		}
		if dn != "" {
			if err := checkContent(s.classifier, s.metrics, "display_name", dn); err != nil {
				return nil, err
			}
		}
		u.DisplayName = dn
	}

	if req.Bio != nil {
		bio, err := s.validator.Bio(*req.Bio)
		if err != nil {
			return nil, asValidation(err)
		}
		if bio != "" {
			if err := checkContent(s.classifier, s.metrics, "bio", bio); err != nil {
				return nil, err
			}
		}
		u.Bio = bio
	}

	if req.AvatarURL != nil {
		avatar, err := s.validator.ImageURL("avatar_url", *req.AvatarURL)
		if err != nil {
			return nil, asValidation(err)
		}
		u.AvatarURL = avatar
	}

	if req.BannerURL != nil {
		banner, err := s.validator.ImageURL("banner_url", *req.BannerURL)
		if err != nil {
			return nil, asValidation(err)
		}
		u.BannerURL = banner
	}

	if err := s.users.UpdateProfile(ctx, u); err != nil {
		mapped := storeError(err, "user", "update profile")
		if isConflict(mapped) {
			return nil, &ConflictError{Message: UsernameTakenMessage}
		}
		return nil, mapped
	}
	return u, nil
}

// GetProfile returns the public profile for username as seen by viewerID.
func (s *UserService) GetProfile(ctx context.Context, username string, viewerID uuid.UUID) (*models.Profile, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, storeError(err, "user", "get user")
	}
	return s.profile(ctx, u, viewerID)
}

// GetProfileByID is GetProfile keyed by user id.
func (s *UserService) GetProfileByID(ctx context.Context, id, viewerID uuid.UUID) (*models.Profile, error) {
	u, err := s.users.GetUserByID(ctx, id)
	if err != nil {
		return nil, storeError(err, "user", "get user")
	}
	return s.profile(ctx, u, viewerID)
}

func (s *UserService) profile(ctx context.Context, u *models.User, viewerID uuid.UUID) (*models.Profile, error) {
	counts, err := s.users.GetProfileCounts(ctx, u.ID)
	if err != nil {
		return nil, storeError(err, "user", "get profile counts")
	}

	p := s.toProfile(ctx, u)
	p.FollowerCount = counts.Followers
	p.FollowingCount = counts.Following
	p.PostCount = counts.Posts

	if viewerID != uuid.Nil && viewerID != u.ID {
		following, err := s.follows.IsFollowing(ctx, viewerID, u.ID)
		if err != nil {
			return nil, storeError(err, "user", "is following")
		}
		p.IsFollowing = following
	}
	return p, nil
}

// Lookup returns the user with username.
func (s *UserService) Lookup(ctx context.Context, username string) (*models.User, error) {
	u, err := s.users.GetUserByUsername(ctx, strings.ToLower(username))
	if err != nil {
		return nil, storeError(err, "user", "get user")
	}
	return u, nil
}

// Search finds users by username or display name.
func (s *UserService) Search(ctx context.Context, query string, limit int) ([]models.Profile, error) {
	q := s.validator.Sanitize(query)
	if q == "" {
		return []models.Profile{}, nil
	}

	users, err := s.users.SearchUsers(ctx, q, limit)
	if err != nil {
		return nil, storeError(err, "user", "search users")
	}

	out := make([]models.Profile, 0, len(users))
	for i := range users {
		out = append(out, *s.toProfile(ctx, &users[i]))
	}
	return out, nil
}

// Me returns the subject's own profile.
func (s *UserService) Me(ctx context.Context, subject string) (*models.Profile, error) {
	u, err := s.Viewer(ctx, subject)
	if err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, u.Username, u.ID)
}

func (s *UserService) toProfile(ctx context.Context, u *models.User) *models.Profile {
	return &models.Profile{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Bio:         u.Bio,
		AvatarURL:   u.AvatarURL,
		BannerURL:   u.BannerURL,
		IsVerified:  u.Flags.IsVerified,
		Roles:       s.policy.RolesFor(ctx, u.ID),
		CreatedAt:   u.CreatedAt,
	}
}

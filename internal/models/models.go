// Package models contains the data models and DTOs for the Sunder API.
package models

import (
	"time"

	"github.com/google/uuid"
)

// Role is a presentational badge granted to a user by an administrator.
type Role string

// Role constants define the badges the admin panel can grant.
const (
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleStaff     Role = "staff"
	RoleDeveloper Role = "developer"
	RolePartner   Role = "partner"
)

// ValidRoles lists every grantable role.
var ValidRoles = []Role{RoleAdmin, RoleModerator, RoleStaff, RoleDeveloper, RolePartner}

// IsValid reports whether r is one of ValidRoles.
func (r Role) IsValid() bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// ModerationFlags are the per-user moderation attributes. The flags are
// independent; a suspended user may also be shadowbanned.
type ModerationFlags struct {
	IsVerified     bool `json:"is_verified"`
	IsSuspended    bool `json:"is_suspended"`
	IsShadowbanned bool `json:"is_shadowbanned"`
}

// User is the stored user profile.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type User struct {
	ID          uuid.UUID       `json:"id"`
	ExternalID  string          `json:"-"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Bio         string          `json:"bio"`
	AvatarURL   string          `json:"avatar_url"`
	BannerURL   string          `json:"banner_url"`
	Flags       ModerationFlags `json:"-"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Author is the embedded post author. Flags travel with the author so the
// feed filter can decide visibility, but are never serialized.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Author struct {
	ID          uuid.UUID       `json:"id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	AvatarURL   string          `json:"avatar_url"`
	IsVerified  bool            `json:"is_verified"`
	Roles       []Role          `json:"roles"`
	Flags       ModerationFlags `json:"-"`
}

// Post is a post or reply as returned to callers.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Post struct {
	ID            uuid.UUID  `json:"id"`
	AuthorID      uuid.UUID  `json:"author_id"`
	ParentID      *uuid.UUID `json:"parent_id,omitempty"`
	Content       string     `json:"content"`
	CreatedAt     time.Time  `json:"created_at"`
	Author        Author     `json:"author"`
	LikeCount     int        `json:"like_count"`
	ReplyCount    int        `json:"reply_count"`
	LikedByViewer bool       `json:"liked_by_viewer"`
}

// Profile is the public view of a user.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Profile struct {
	ID             uuid.UUID `json:"id"`
	Username       string    `json:"username"`
	DisplayName    string    `json:"display_name"`
	Bio            string    `json:"bio"`
	AvatarURL      string    `json:"avatar_url"`
	BannerURL      string    `json:"banner_url"`
	IsVerified     bool      `json:"is_verified"`
	Roles          []Role    `json:"roles"`
	FollowerCount  int       `json:"follower_count"`
	FollowingCount int       `json:"following_count"`
	PostCount      int       `json:"post_count"`
	IsFollowing    bool      `json:"is_following"`
	CreatedAt      time.Time `json:"created_at"`
}

// ProfileCounts holds the aggregate numbers shown on a profile.
type ProfileCounts struct {
	Followers int
	Following int
	Posts     int
}

// AdminUserView is the admin panel view, which includes moderation flags.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type AdminUserView struct {
	ID          uuid.UUID       `json:"id"`
	Username    string          `json:"username"`
	DisplayName string          `json:"display_name"`
	Flags       ModerationFlags `json:"flags"`
	Roles       []Role          `json:"roles"`
	CreatedAt   time.Time       `json:"created_at"`
}

// ModerationAction is an audit row written whenever an admin changes flags.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ModerationAction struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"user_id"`
	Actor     string          `json:"actor"`
	Flags     ModerationFlags `json:"flags"`
	CreatedAt time.Time       `json:"created_at"`
}

// Event is the envelope published to the message broker.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type Event struct {
	ID         uuid.UUID   `json:"id"`
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}

// CreateUserRequest is the body of POST /api/v1/users.
type CreateUserRequest struct {
	Username    string `json:"username" binding:"required"`
	DisplayName string `json:"display_name"`
	Bio         string `json:"bio"`
}

// UpdateProfileRequest is the body of PATCH /api/v1/users/me. Nil fields are
// left unchanged.
type UpdateProfileRequest struct {
	Username    *string `json:"username"`
	DisplayName *string `json:"display_name"`
	Bio         *string `json:"bio"`
	AvatarURL   *string `json:"avatar_url"`
	BannerURL   *string `json:"banner_url"`
}

// CreatePostRequest is the body for posts and replies.
type CreatePostRequest struct {
	Content string `json:"content" binding:"required"`
}

// UpdateModerationRequest is the admin flag update. Nil fields are left
// unchanged.
type UpdateModerationRequest struct {
	IsVerified     *bool `json:"is_verified"`
	IsSuspended    *bool `json:"is_suspended"`
	IsShadowbanned *bool `json:"is_shadowbanned"`
}

// Apply returns f with the request's non-nil fields set.
func (r *UpdateModerationRequest) Apply(f ModerationFlags) ModerationFlags {
	if r.IsVerified != nil {
		f.IsVerified = *r.IsVerified
	}
	if r.IsSuspended != nil {
		f.IsSuspended = *r.IsSuspended
	}
	if r.IsShadowbanned != nil {
		f.IsShadowbanned = *r.IsShadowbanned
	}
	return f
}

// ClassifyRequest is the body of POST /api/v1/admin/classify.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// UsernameAvailability is returned by the username check.
type UsernameAvailability struct {
	Username  string `json:"username"`
	Available bool   `json:"available"`
	Reason    string `json:"reason,omitempty"`
}

// ErrorResponse represents an error response.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type ErrorResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Status    int       `json:"status"`
	Error     string    `json:"error"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/middleware"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/service"
)

// UserHandler serves profiles and the follow graph.
type UserHandler struct {
	users  *service.UserService
	posts  *service.PostService
	social *service.SocialService
}

// NewUserHandler creates a new UserHandler instance.
func NewUserHandler(users *service.UserService, posts *service.PostService, social *service.SocialService) *UserHandler {
	return &UserHandler{users: users, posts: posts, social: social}
}

// viewer resolves the authenticated caller to a profile or writes an error.
func viewer(c *gin.Context, users *service.UserService) (*models.User, bool) {
	u, err := users.Viewer(c.Request.Context(), middleware.Subject(c))
	if err != nil {
		handleError(c, err)
		return nil, false
	}
	return u, true
}

// viewerID is the caller's user id, or uuid.Nil when anonymous.
func viewerID(c *gin.Context, users *service.UserService) uuid.UUID {
	return users.ViewerID(c.Request.Context(), middleware.Subject(c))
}

// CheckUsername handles GET /api/v1/users/check-username.
func (h *UserHandler) CheckUsername(c *gin.Context) {
	res, err := h.users.CheckUsername(c.Request.Context(), c.Query("username"))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

// Search handles GET /api/v1/users/search.
func (h *UserHandler) Search(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	res, err := h.users.Search(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": res})
}

// Create handles POST /api/v1/users.
func (h *UserHandler) Create(c *gin.Context) {
	var req models.CreateUserRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.CreateProfile(c.Request.Context(), middleware.Subject(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, u)
}

// Me handles GET /api/v1/users/me.
func (h *UserHandler) Me(c *gin.Context) {
	p, err := h.users.Me(c.Request.Context(), middleware.Subject(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// UpdateMe handles PATCH /api/v1/users/me.
func (h *UserHandler) UpdateMe(c *gin.Context) {
	var req models.UpdateProfileRequest
	if !bindJSON(c, &req) {
		return
	}
	u, err := h.users.UpdateProfile(c.Request.Context(), middleware.Subject(c), &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}

// Get handles GET /api/v1/users/:username.
func (h *UserHandler) Get(c *gin.Context) {
	p, err := h.users.GetProfile(c.Request.Context(), c.Param("username"), viewerID(c, h.users))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// GetByID handles GET /api/v1/users/by-id/:id.
func (h *UserHandler) GetByID(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	p, err := h.users.GetProfileByID(c.Request.Context(), id, viewerID(c, h.users))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Posts handles GET /api/v1/users/:username/posts.
func (h *UserHandler) Posts(c *gin.Context) {
	before, limit, ok := page(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()

	author, err := h.users.Lookup(ctx, c.Param("username"))
	if err != nil {
		handleError(c, err)
		return
	}
	feed, err := h.posts.UserPosts(ctx, author.ID, viewerID(c, h.users), before, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// Follow handles POST /api/v1/users/:username/follow.
func (h *UserHandler) Follow(c *gin.Context) {
	u, ok := viewer(c, h.users)
	if !ok {
		return
	}
	if err := h.social.Follow(c.Request.Context(), u.ID, c.Param("username")); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": true})
}

// Unfollow handles DELETE /api/v1/users/:username/follow.
func (h *UserHandler) Unfollow(c *gin.Context) {
	u, ok := viewer(c, h.users)
	if !ok {
		return
	}
	if err := h.social.Unfollow(c.Request.Context(), u.ID, c.Param("username")); err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"following": false})
}

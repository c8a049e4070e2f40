package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/service"
)

// PostHandler serves posts, replies, feeds and likes.
type PostHandler struct {
	posts *service.PostService
	users *service.UserService
}

// NewPostHandler creates a new PostHandler instance.
func NewPostHandler(posts *service.PostService, users *service.UserService) *PostHandler {
	return &PostHandler{posts: posts, users: users}
}

// Feed handles GET /api/v1/posts.
func (h *PostHandler) Feed(c *gin.Context) {
	before, limit, ok := page(c)
	if !ok {
		return
	}
	feed, err := h.posts.Feed(c.Request.Context(), viewerID(c, h.users), before, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, feed)
}

// Create handles POST /api/v1/posts.
func (h *PostHandler) Create(c *gin.Context) {
	u, ok := viewer(c, h.users)
	if !ok {
		return
	}
	var req models.CreatePostRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.posts.Create(c.Request.Context(), u.ID, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Get handles GET /api/v1/posts/:id.
func (h *PostHandler) Get(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	p, err := h.posts.Get(c.Request.Context(), id, viewerID(c, h.users))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// Delete handles DELETE /api/v1/posts/:id.
func (h *PostHandler) Delete(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	u, ok := viewer(c, h.users)
	if !ok {
		return
	}
	if err := h.posts.Delete(c.Request.Context(), id, u.ID); err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Replies handles GET /api/v1/posts/:id/replies.
func (h *PostHandler) Replies(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	posts, err := h.posts.Replies(c.Request.Context(), id, viewerID(c, h.users), limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"replies": posts})
}

// Reply handles POST /api/v1/posts/:id/replies.
func (h *PostHandler) Reply(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	u, ok := viewer(c, h.users)
	if !ok {
		return
	}
	var req models.CreatePostRequest
	if !bindJSON(c, &req) {
		return
	}
	p, err := h.posts.Reply(c.Request.Context(), u.ID, id, &req)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusCreated, p)
}

// Like handles POST /api/v1/posts/:id/like.
func (h *PostHandler) Like(c *gin.Context) {
	h.like(c, true)
}

// Unlike handles DELETE /api/v1/posts/:id/like.
func (h *PostHandler) Unlike(c *gin.Context) {
	h.like(c, false)
}

// ToggleLike handles POST /api/v1/posts/:id/like/toggle.
func (h *PostHandler) ToggleLike(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	u, ok := viewer(c, h.users)
	if !ok {
		return
	}
	state, err := h.posts.ToggleLike(c.Request.Context(), u.ID, id)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

func (h *PostHandler) like(c *gin.Context, like bool) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	u, ok := viewer(c, h.users)
	if !ok {
		return
	}

	var (
		state *service.LikeState
		err   error
	)
	if like {
		state, err = h.posts.Like(c.Request.Context(), u.ID, id)
	} else {
		state, err = h.posts.Unlike(c.Request.Context(), u.ID, id)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, state)
}

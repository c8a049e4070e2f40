package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sunder-social/sunder-api/internal/middleware"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/service"
)

// AdminHandler serves the moderation panel. Every route sits behind
// middleware.RequireAdmin.
type AdminHandler struct {
	admin *service.AdminService
}

// NewAdminHandler creates a new AdminHandler instance.
func NewAdminHandler(admin *service.AdminService) *AdminHandler {
	return &AdminHandler{admin: admin}
}

// ListUsers handles GET /api/v1/admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	offset, ok := intQuery(c, "offset")
	if !ok {
		return
	}
	users, err := h.admin.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

// UpdateModeration handles PATCH /api/v1/admin/users/:id/moderation.
func (h *AdminHandler) UpdateModeration(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	var req models.UpdateModerationRequest
	if !bindJSON(c, &req) {
		return
	}
	flags, err := h.admin.UpdateModeration(c.Request.Context(), id, &req, middleware.AdminActor(c))
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, flags)
}

// History handles GET /api/v1/admin/users/:id/moderation.
func (h *AdminHandler) History(c *gin.Context) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	limit, ok := intQuery(c, "limit")
	if !ok {
		return
	}
	actions, err := h.admin.History(c.Request.Context(), id, limit)
	if err != nil {
		handleError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

// GrantRole handles POST /api/v1/admin/users/:id/roles/:role.
func (h *AdminHandler) GrantRole(c *gin.Context) {
	h.changeRole(c, true)
}

// RevokeRole handles DELETE /api/v1/admin/users/:id/roles/:role.
func (h *AdminHandler) RevokeRole(c *gin.Context) {
	h.changeRole(c, false)
}

func (h *AdminHandler) changeRole(c *gin.Context, grant bool) {
	id, ok := uuidParam(c, "id")
	if !ok {
		return
	}
	role := models.Role(c.Param("role"))
	actor := middleware.AdminActor(c)

	var err error
	if grant {
		err = h.admin.GrantRole(c.Request.Context(), id, role, actor)
	} else {
		err = h.admin.RevokeRole(c.Request.Context(), id, role, actor)
	}
	if err != nil {
		handleError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// Classify handles POST /api/v1/admin/classify.
func (h *AdminHandler) Classify(c *gin.Context) {
	var req models.ClassifyRequest
	if !bindJSON(c, &req) {
		return
	}
	c.JSON(http.StatusOK, h.admin.Classify(req.Text))
}

package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sunder-social/sunder-api/internal/models"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/internal/service"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

func respondError(c *gin.Context, status int, message string) {
	c.JSON(status, models.ErrorResponse{
		Status:    status,
		Error:     http.StatusText(status),
		Message:   message,
		Timestamp: time.Now(),
		Path:      c.Request.URL.Path,
	})
}

// handleError maps service errors to responses. Classifier rejections carry
// only the fixed user-facing reason; the matched rule is logged, not returned.
func handleError(c *gin.Context, err error) {
	var (
		validationErr *service.ValidationError
		rejectedErr   *moderation.ContentRejectedError
		notFoundErr   *service.NotFoundError
		forbiddenErr  *service.ForbiddenError
		conflictErr   *service.ConflictError
	)

	switch {
	case errors.As(err, &validationErr):
		logger.Log.Warn("Validation error",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		respondError(c, http.StatusBadRequest, validationErr.Message)
	case errors.As(err, &rejectedErr):
		respondError(c, http.StatusBadRequest, rejectedErr.Reason)
	case errors.Is(err, moderation.ErrAccountSuspended):
		respondError(c, http.StatusForbidden, moderation.SuspendedMessage)
	case errors.As(err, &notFoundErr):
		respondError(c, http.StatusNotFound, notFoundErr.Error())
	case errors.As(err, &forbiddenErr):
		respondError(c, http.StatusForbidden, forbiddenErr.Message)
	case errors.As(err, &conflictErr):
		respondError(c, http.StatusConflict, conflictErr.Message)
	default:
		logger.Log.Error("Unexpected error",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		respondError(c, http.StatusInternalServerError, "An unexpected error occurred")
	}
}

func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		logger.Log.Warn("Invalid request payload",
			zap.Error(err),
			zap.String("path", c.Request.URL.Path),
		)
		respondError(c, http.StatusBadRequest, "Invalid request payload: "+err.Error())
		return false
	}
	return true
}

func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		respondError(c, http.StatusBadRequest, "Invalid "+name)
		return 0, false
	}
	return n, true
}

// page reads the "before" cursor and "limit" query parameters.
func page(c *gin.Context) (*uuid.UUID, int, bool) {
	limit, ok := intQuery(c, "limit")
	if !ok {
		return nil, 0, false
	}
	raw := c.Query("before")
	if raw == "" {
		return nil, limit, true
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(c, http.StatusBadRequest, "Invalid before")
		return nil, 0, false
	}
	return &id, limit, true
}

package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/middleware"
)

// RouterConfig holds everything the router wires together.
//
//nolint:govet // fieldalignment: Accept minor memory overhead for better readability
type RouterConfig struct {
	Health *HealthHandler
	Users  *UserHandler
	Posts  *PostHandler
	Admin  *AdminHandler

	APIKeys  *middleware.APIKeyAuth
	Verifier *middleware.TokenVerifier
	Roles    middleware.RoleLookup

	Metrics        *metrics.Metrics
	MetricsHandler http.Handler
	AllowedOrigins []string
}

// NewRouter builds the gin engine with all routes registered.
func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(
		gin.Recovery(),
		middleware.RequestLogger(),
		middleware.Metrics(cfg.Metrics),
		middleware.CORS(cfg.AllowedOrigins),
	)

	r.GET("/health/live", cfg.Health.LivenessProbe)
	r.GET("/health/ready", cfg.Health.ReadinessProbe)
	if cfg.MetricsHandler != nil {
		r.GET("/metrics", gin.WrapH(cfg.MetricsHandler))
	}

	v1 := r.Group("/api/v1")

	// Reads work anonymously; a bearer token personalizes them.
	public := v1.Group("", cfg.Verifier.OptionalSubject())
	{
		public.GET("/users/check-username", cfg.Users.CheckUsername)
		public.GET("/users/search", cfg.Users.Search)
		public.GET("/users/by-id/:id", cfg.Users.GetByID)
		public.GET("/users/:username", cfg.Users.Get)
		public.GET("/users/:username/posts", cfg.Users.Posts)

		public.GET("/posts", cfg.Posts.Feed)
		public.GET("/posts/:id", cfg.Posts.Get)
		public.GET("/posts/:id/replies", cfg.Posts.Replies)
	}

	authed := v1.Group("", cfg.Verifier.RequireSubject())
	{
		authed.POST("/users", cfg.Users.Create)
		authed.GET("/users/me", cfg.Users.Me)
		authed.PATCH("/users/me", cfg.Users.UpdateMe)
		authed.POST("/users/:username/follow", cfg.Users.Follow)
		authed.DELETE("/users/:username/follow", cfg.Users.Unfollow)

		authed.POST("/posts", cfg.Posts.Create)
		authed.DELETE("/posts/:id", cfg.Posts.Delete)
		authed.POST("/posts/:id/replies", cfg.Posts.Reply)
		authed.POST("/posts/:id/like", cfg.Posts.Like)
		authed.DELETE("/posts/:id/like", cfg.Posts.Unlike)
		authed.POST("/posts/:id/like/toggle", cfg.Posts.ToggleLike)
	}

	admin := v1.Group("/admin", middleware.RequireAdmin(cfg.APIKeys, cfg.Verifier, cfg.Roles))
	{
		admin.GET("/users", cfg.Admin.ListUsers)
		admin.PATCH("/users/:id/moderation", cfg.Admin.UpdateModeration)
		admin.GET("/users/:id/moderation", cfg.Admin.History)
		admin.POST("/users/:id/roles/:role", cfg.Admin.GrantRole)
		admin.DELETE("/users/:id/roles/:role", cfg.Admin.RevokeRole)
		admin.POST("/classify", cfg.Admin.Classify)
	}

	return r
}

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sunder-social/sunder-api/internal/cache"
	"github.com/sunder-social/sunder-api/internal/config"
	"github.com/sunder-social/sunder-api/internal/db"
	"github.com/sunder-social/sunder-api/internal/handler"
	"github.com/sunder-social/sunder-api/internal/metrics"
	"github.com/sunder-social/sunder-api/internal/middleware"
	"github.com/sunder-social/sunder-api/internal/moderation"
	"github.com/sunder-social/sunder-api/internal/repository"
	"github.com/sunder-social/sunder-api/internal/service"
	"github.com/sunder-social/sunder-api/internal/validation"
	"github.com/sunder-social/sunder-api/pkg/logger"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Logging.Level, cfg.Logging.File); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(cfg); err != nil {
		logger.Log.Error("Server exited with error", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer db.Close(pool)

	logger.Log.Info("Database connection established",
		zap.Int32("max_conns", pool.Config().MaxConns),
	)

	repo := repository.New(pool)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	// Roles are cached when Redis is configured; flags always come from the
	// database.
	var (
		flagStore   moderation.FlagStore = repo
		invalidator service.RoleInvalidator
	)
	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			logger.Log.Warn("Redis unavailable, role cache disabled", zap.Error(err))
		} else {
			defer func() { _ = client.Close() }()
			roleCache := cache.NewRoleCache(repo, client, cfg.Redis.RoleCacheTTL, m)
			flagStore = roleCache
			invalidator = roleCache
			logger.Log.Info("Role cache enabled",
				zap.String("addr", cfg.Redis.Addr),
				zap.Duration("ttl", cfg.Redis.RoleCacheTTL),
			)
		}
	}

	ruleset := moderation.DefaultRuleset()
	if cfg.Moderation.RulesetFile != "" {
		ruleset, err = moderation.LoadRuleset(cfg.Moderation.RulesetFile)
		if err != nil {
			return fmt.Errorf("load ruleset: %w", err)
		}
		logger.Log.Info("Loaded moderation ruleset", zap.String("file", cfg.Moderation.RulesetFile))
	}
	classifier, err := moderation.NewClassifier(ruleset)
	if err != nil {
		return fmt.Errorf("compile ruleset: %w", err)
	}

	policy := moderation.NewPolicy(flagStore, logger.Log, m)
	validator := validation.New(cfg.Moderation)

	var publisher service.EventPublisher = service.NoopPublisher{}
	if cfg.RabbitMQ.Enabled {
		mp, err := service.NewMessagePublisher(&cfg.RabbitMQ)
		if err != nil {
			return fmt.Errorf("initialize publisher: %w", err)
		}
		publisher = mp
	} else {
		logger.Log.Info("RabbitMQ disabled, domain events will not be published")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Log.Warn("Failed to close publisher", zap.Error(err))
		}
	}()

	users := service.NewUserService(repo, repo, policy, classifier, validator, m)
	posts := service.NewPostService(repo, policy, classifier, validator, publisher, m)
	social := service.NewSocialService(repo, repo, m)
	admin := service.NewAdminService(repo, classifier, publisher, invalidator, m)

	if len(cfg.Auth.AdminAPIKeys) == 0 {
		logger.Log.Warn("No admin API keys configured, admin routes require an admin bearer token")
	}

	gin.SetMode(cfg.Server.Mode)
	router := handler.NewRouter(handler.RouterConfig{
		Health:         handler.NewHealthHandler(repo, publisher),
		Users:          handler.NewUserHandler(users, posts, social),
		Posts:          handler.NewPostHandler(posts, users),
		Admin:          handler.NewAdminHandler(admin),
		APIKeys:        middleware.NewAPIKeyAuth(cfg.Auth.AdminAPIKeys),
		Verifier:       middleware.NewTokenVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer),
		Roles:          users,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		AllowedOrigins: cfg.Server.AllowedOrigins,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Log.Info("Server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("mode", cfg.Server.Mode),
		)
		serverErrors <- server.ListenAndServe()
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Log.Info("Shutdown signal received", zap.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			if cerr := server.Close(); cerr != nil {
				logger.Log.Error("Failed to close server", zap.Error(cerr))
			}
			return fmt.Errorf("graceful shutdown: %w", err)
		}

		logger.Log.Info("Server stopped gracefully")
	}
	return nil
}

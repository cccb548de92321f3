// Package api wires together all HTTP routes for the API management portal.
//
// Route grouping philosophy:
//   - Liveness, readiness and version endpoints are unauthenticated so load
//     balancers and orchestrators can probe them without credentials.
//   - Everything under /api/v1/ requires authentication (JWT session or
//     personal access token) and runs inside an organization/environment
//     scope resolved by the tenancy middleware.
//   - State-changing lifecycle endpoints carry a stricter rate limit than the
//     read endpoints; a runaway client script renewing keys in a loop should
//     hit the limiter before it floods the audit trail.
package api

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/api/management"
	"github.com/apim-portal/apim-portal/internal/audit"
	"github.com/apim-portal/apim-portal/internal/config"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/jobs"
	"github.com/apim-portal/apim-portal/internal/middleware"
	"github.com/apim-portal/apim-portal/internal/notification"
	"github.com/apim-portal/apim-portal/internal/safego"
	"github.com/apim-portal/apim-portal/internal/services"
)

// BackgroundServices holds references to background jobs and resources that must
// be stopped during graceful shutdown. The caller (cmd/server) is responsible for
// calling Shutdown() when the process receives a termination signal.
type BackgroundServices struct {
	expirySweeper *jobs.APIKeyExpirySweeper
	auditShipper  *audit.MultiShipper
	rateLimiters  []*middleware.RateLimiter
}

// Shutdown stops all background goroutines and flushes the audit shippers. It
// should be called after the HTTP server has been shut down so that in-flight
// requests are drained first.
func (bg *BackgroundServices) Shutdown() {
	slog.Info("stopping background services")
	if bg.expirySweeper != nil {
		bg.expirySweeper.Stop()
	}
	for _, rl := range bg.rateLimiters {
		rl.Stop()
	}
	if bg.auditShipper != nil {
		if err := bg.auditShipper.Close(); err != nil {
			slog.Warn("failed to close audit shippers", "error", err)
		}
	}
	slog.Info("all background services stopped")
}

// NewRouter creates and configures the Gin router
func NewRouter(cfg *config.Config, db *sql.DB) (*gin.Engine, *BackgroundServices) {
	router := gin.New()

	// Initialize repositories
	planRepo := repositories.NewPlanRepository(db)
	appRepo := repositories.NewApplicationRepository(db)
	pageRepo := repositories.NewPageRepository(db)
	membershipRepo := repositories.NewMembershipRepository(db)
	subscriptionRepo := repositories.NewSubscriptionRepository(db)
	apiKeyRepo := repositories.NewAPIKeyRepository(db)
	auditRepo := repositories.NewAuditRepository(db)
	accessTokenRepo := repositories.NewAccessTokenRepository(db)

	// Initialize the audit sink. Shipping to external destinations is optional;
	// persistence to the audit_logs table always happens when audit is enabled.
	var recorder services.AuditRecorder = audit.NopRecorder{}
	var auditShipper *audit.MultiShipper
	if cfg.Audit.Enabled {
		shipper, err := audit.NewMultiShipper(auditShipperConfigs(cfg.Audit.Shippers))
		if err != nil {
			log.Fatalf("Failed to initialize audit shippers: %v", err)
		}
		auditShipper = shipper
		recorder = audit.NewRecorder(auditRepo, shipper, nil)
	}

	// Initialize the notification dispatcher (no-op unless SMTP is configured)
	notifier := notification.NewDispatcher(&cfg.Notifications, nil)

	// Initialize the lifecycle services
	policy := services.NewPlanPolicyResolver(subscriptionRepo, membershipRepo)
	keyService := services.NewAPIKeyService(
		apiKeyRepo, subscriptionRepo, services.RandomKeyGenerator{},
		notifier, recorder, cfg.Subscriptions.RenewalGrace, nil,
	)
	subscriptionService := services.NewSubscriptionService(
		subscriptionRepo, planRepo, appRepo, pageRepo, policy,
		keyService, notifier, recorder, nil,
	)

	// Start the key expiry sweeper. Expiry events carry the default tenancy
	// scope; key rows do not record which organization issued them.
	expirySweeper := jobs.NewAPIKeyExpirySweeper(
		apiKeyRepo, notifier, recorder,
		services.ExecutionContext{
			OrganizationID: cfg.Subscriptions.DefaultOrganization,
			EnvironmentID:  cfg.Subscriptions.DefaultEnvironment,
		},
		cfg.Subscriptions.ExpirySweepEnabled,
		cfg.Subscriptions.ExpirySweepInterval,
	)
	safego.Go(func() {
		expirySweeper.Start(context.Background())
	})

	// Initialize handlers
	subscriptionHandlers := management.NewSubscriptionHandlers(subscriptionService, keyService)
	apiKeyHandlers := management.NewAPIKeyHandlers(keyService)
	auditHandlers := management.NewAuditHandlers(auditRepo)

	// Initialize rate limiters
	generalRateLimiter := middleware.NewRateLimiter(middleware.DefaultRateLimitConfig())
	mutationRateLimiter := middleware.NewRateLimiter(middleware.MutationRateLimitConfig())

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.MetricsMiddleware())
	router.Use(LoggerMiddleware(cfg))
	router.Use(CORSMiddleware(cfg))
	router.Use(middleware.SecurityHeadersMiddleware(middleware.APISecurityHeadersConfig()))

	// Health check endpoint
	router.GET("/health", healthCheckHandler(db))

	// Readiness check endpoint
	router.GET("/ready", readinessHandler(db))

	// API version
	router.GET("/version", versionHandler())

	// Management API endpoints
	apiV1 := router.Group("/api/v1")
	{
		authenticatedGroup := apiV1.Group("")
		authenticatedGroup.Use(middleware.AuthMiddleware(cfg, accessTokenRepo))
		authenticatedGroup.Use(middleware.TenancyMiddleware(&cfg.Subscriptions))
		authenticatedGroup.Use(middleware.RateLimitMiddleware(generalRateLimiter))
		{
			// Subscription lifecycle
			subscriptionsGroup := authenticatedGroup.Group("/subscriptions")
			{
				subscriptionsGroup.GET("", subscriptionHandlers.SearchHandler())
				subscriptionsGroup.GET("/_export", subscriptionHandlers.ExportHandler())
				subscriptionsGroup.GET("/:id", subscriptionHandlers.GetHandler())
				subscriptionsGroup.GET("/:id/keys", subscriptionHandlers.ListKeysHandler())

				// State-changing endpoints get the stricter limiter
				subscriptionsGroup.POST("",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.CreateHandler())
				subscriptionsGroup.PATCH("/:id",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.UpdateHandler())
				subscriptionsGroup.POST("/:id/_process",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.ProcessHandler())
				subscriptionsGroup.POST("/:id/_pause",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.PauseHandler())
				subscriptionsGroup.POST("/:id/_resume",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.ResumeHandler())
				subscriptionsGroup.POST("/:id/_close",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.CloseHandler())
				subscriptionsGroup.POST("/:id/_transfer",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.TransferHandler())
				subscriptionsGroup.POST("/:id/keys",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.GenerateKeyHandler())
				subscriptionsGroup.POST("/:id/keys/_renew",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					subscriptionHandlers.RenewKeysHandler())
			}

			// Key-centric endpoints, addressed by (key value, api)
			keysGroup := authenticatedGroup.Group("/apis/:api/keys")
			{
				keysGroup.GET("/_verify", apiKeyHandlers.VerifyHandler())
				keysGroup.GET("/:key", apiKeyHandlers.GetHandler())
				keysGroup.PUT("/:key",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					apiKeyHandlers.UpdateHandler())
				keysGroup.POST("/:key/_revoke",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					apiKeyHandlers.RevokeHandler())
				keysGroup.POST("/:key/_reactivate",
					middleware.RateLimitMiddleware(mutationRateLimiter),
					apiKeyHandlers.ReactivateHandler())
			}

			// Audit trail (read-only)
			authenticatedGroup.GET("/audit", auditHandlers.ListHandler())
		}
	}

	bg := &BackgroundServices{
		expirySweeper: expirySweeper,
		auditShipper:  auditShipper,
		rateLimiters:  []*middleware.RateLimiter{generalRateLimiter, mutationRateLimiter},
	}

	return router, bg
}

// auditShipperConfigs converts the viper-loaded shipper settings into the
// audit package's own config type.
func auditShipperConfigs(configs []config.AuditShipperConfig) []audit.ShipperConfig {
	out := make([]audit.ShipperConfig, 0, len(configs))
	for _, c := range configs {
		sc := audit.ShipperConfig{
			Enabled: c.Enabled,
			Type:    c.Type,
		}
		if c.Webhook != nil {
			sc.Webhook = &audit.WebhookConfig{
				URL:           c.Webhook.URL,
				Headers:       c.Webhook.Headers,
				Timeout:       time.Duration(c.Webhook.TimeoutSecs) * time.Second,
				BatchSize:     c.Webhook.BatchSize,
				FlushInterval: time.Duration(c.Webhook.FlushInterval) * time.Second,
			}
		}
		if c.File != nil {
			sc.File = &audit.FileConfig{
				Path:       c.File.Path,
				MaxSizeMB:  c.File.MaxSizeMB,
				MaxBackups: c.File.MaxBackups,
			}
		}
		out = append(out, sc)
	}
	return out
}

// @Summary      Health check
// @Description  Returns the health status of the service, including database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status: healthy, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "status: unhealthy, error: database connection failed"
// @Router       /health [get]
// healthCheckHandler returns the health status of the service
func healthCheckHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check database connection
		if err := db.Ping(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database connection failed",
			})
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      Readiness check
// @Description  Returns whether the service is ready to accept traffic. Checks database connectivity.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "ready: true, time: RFC3339 timestamp"
// @Failure      503  {object}  map[string]interface{}  "ready: false, error: database not ready"
// @Router       /ready [get]
// readinessHandler returns the readiness status of the service. The portal has
// no external storage dependency; readiness is database readiness.
func readinessHandler(db *sql.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}

		if err := db.Ping(); err != nil {
			checks["database"] = "unhealthy"
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ready":  false,
				"checks": checks,
				"error":  "database not ready",
			})
			return
		}
		checks["database"] = "healthy"

		c.JSON(http.StatusOK, gin.H{
			"ready":  true,
			"checks": checks,
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// @Summary      API version
// @Description  Returns the current API version.
// @Tags         System
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "version, api_version"
// @Router       /version [get]
// versionHandler returns the API version
func versionHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":     "0.1.0",
			"api_version": "v1",
		})
	}
}

// LoggerMiddleware provides structured logging
func LoggerMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		requestID, _ := c.Get(middleware.RequestIDKey)
		slog.LogAttrs(
			c.Request.Context(),
			slog.LevelInfo,
			"http request",
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.Int("status", c.Writer.Status()),
			slog.Int("size", c.Writer.Size()),
			slog.Duration("latency", latency),
			slog.String("ip", c.ClientIP()),
			slog.String("request_id", fmt.Sprintf("%v", requestID)),
			slog.String("user_agent", c.Request.UserAgent()),
		)
	}
}

// CORSMiddleware handles CORS
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		// Check if origin is allowed
		allowed := false
		for _, allowedOrigin := range cfg.Security.CORS.AllowedOrigins {
			if allowedOrigin == "*" || allowedOrigin == origin {
				allowed = true
				break
			}
		}

		if allowed {
			if origin == "" {
				c.Header("Access-Control-Allow-Origin", "*")
			} else {
				c.Header("Access-Control-Allow-Origin", origin)
			}
			c.Header("Access-Control-Allow-Credentials", "true")
			c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization, X-Requested-With, X-Organization, X-Environment")
			c.Header("Access-Control-Max-Age", "3600")
		}

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

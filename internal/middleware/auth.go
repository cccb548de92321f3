// Package middleware provides Gin HTTP middleware for authentication, tenancy
// resolution, rate limiting, security headers, and request metrics.
//
// Middleware ordering matters and is enforced in router.go:
//
//	Security → RequestID → Metrics → RateLimit → Auth → Tenancy → Handler
//
// Security headers run first so they appear on all responses including errors.
// Rate limiting runs before auth to block brute-force attacks before any DB work.
// Auth populates the caller identity; Tenancy resolves the organization and
// environment scope every lifecycle operation executes under.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/auth"
	"github.com/apim-portal/apim-portal/internal/config"
	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/services"
)

// Context keys populated by AuthMiddleware and TenancyMiddleware.
const (
	UserIDKey     = "user_id"
	AuthMethodKey = "auth_method"
	AdminKey      = "admin"
	ExecCtxKey    = "execution_context"
)

// AuthMiddleware validates authentication (JWT session token or personal
// access token) and stores the caller identity in the request context.
func AuthMiddleware(cfg *config.Config, tokenRepo *repositories.AccessTokenRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Missing authorization header",
			})
			return
		}

		if !strings.HasPrefix(authHeader, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization header must start with 'Bearer '",
			})
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		token = strings.TrimSpace(token)

		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authorization token is empty",
			})
			return
		}

		// JWT validation is attempted first because it is entirely stateless — it
		// requires only a cryptographic check against the JWT secret with no database
		// round-trip. Access token validation always requires a DB query (prefix
		// lookup + bcrypt comparison), so JWT is the lower-latency path for browser
		// sessions.
		if claims, err := auth.ValidateJWT(token); err == nil {
			c.Set(UserIDKey, claims.UserID)
			c.Set(AuthMethodKey, "jwt")
			c.Next()
			return
		}

		// Try personal access token.
		// We never store the raw token — only its bcrypt hash. The 10-character
		// prefix is stored plaintext alongside the hash so we can do a fast indexed
		// DB query to narrow the candidate set, then run the expensive bcrypt
		// comparison only on those few rows. Without the prefix, every request would
		// require scanning the entire access_tokens table and running bcrypt on each
		// row — O(n) bcrypt calls per request, which is catastrophically slow at scale.
		accessToken, err := authenticateAccessToken(c.Request.Context(), token, tokenRepo)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"error": "Authentication failed",
			})
			return
		}

		if accessToken != nil {
			if accessToken.ExpiresAt != nil && time.Now().After(*accessToken.ExpiresAt) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
					"error": "Access token expired",
				})
				return
			}

			// Update last-used timestamp asynchronously. This is intentionally
			// fire-and-forget: last-used tracking is best-effort — a failed update is
			// not a correctness problem. Making it synchronous would add a DB write to
			// every authenticated request, increasing P99 latency across all
			// endpoints. The 5-second timeout prevents leaked goroutines if the DB is
			// temporarily unreachable.
			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = tokenRepo.UpdateLastUsed(ctx, accessToken.ID)
			}()

			c.Set(UserIDKey, accessToken.UserID)
			c.Set(AuthMethodKey, "access_token")
			c.Set(AdminKey, accessToken.Admin)
			c.Next()
			return
		}

		// Neither JWT nor access token worked
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid credentials",
		})
	}
}

// TenancyMiddleware resolves the organization and environment the request
// operates in. Clients may scope a request explicitly with the
// X-Organization and X-Environment headers; absent headers fall back to the
// configured defaults so single-tenant deployments need no headers at all.
func TenancyMiddleware(cfg *config.SubscriptionsConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		org := c.GetHeader("X-Organization")
		if org == "" {
			org = cfg.DefaultOrganization
		}
		env := c.GetHeader("X-Environment")
		if env == "" {
			env = cfg.DefaultEnvironment
		}

		c.Set(ExecCtxKey, services.ExecutionContext{
			OrganizationID: org,
			EnvironmentID:  env,
		})

		c.Next()
	}
}

// ExecutionContext extracts the tenancy scope stored by TenancyMiddleware.
// Returns the zero value when the middleware did not run.
func ExecutionContext(c *gin.Context) services.ExecutionContext {
	if v, ok := c.Get(ExecCtxKey); ok {
		if execCtx, ok := v.(services.ExecutionContext); ok {
			return execCtx
		}
	}
	return services.ExecutionContext{}
}

// authenticateAccessToken attempts to authenticate a personal access token by
// prefix lookup and bcrypt validation.
func authenticateAccessToken(ctx context.Context, providedToken string, tokenRepo *repositories.AccessTokenRepository) (*models.AccessToken, error) {
	candidates, err := tokenRepo.ListByPrefix(ctx, auth.DisplayPrefix(providedToken))
	if err != nil {
		return nil, err
	}

	for _, candidate := range candidates {
		if auth.ValidateAccessToken(providedToken, candidate.TokenHash) {
			return candidate, nil
		}
	}

	return nil, nil
}

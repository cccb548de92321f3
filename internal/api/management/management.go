// Package management implements the authenticated HTTP handlers of the
// portal's management API: subscription lifecycle, API key lifecycle, and the
// reporting endpoints built on top of them. All routes in this package sit
// behind AuthMiddleware and TenancyMiddleware (see internal/middleware); the
// handlers read the caller identity and the organization/environment scope
// from the gin context rather than resolving them again.
package management

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/middleware"
	"github.com/apim-portal/apim-portal/internal/services"
)

// SubscriptionLifecycle is the slice of the subscription service the handlers
// depend on. Declared here so handler tests can substitute a fake.
type SubscriptionLifecycle interface {
	Create(ctx context.Context, execCtx services.ExecutionContext, input services.NewSubscriptionInput, requester services.Requester) (*models.Subscription, error)
	Process(ctx context.Context, execCtx services.ExecutionContext, input services.ProcessSubscriptionInput) (*models.Subscription, error)
	Pause(ctx context.Context, execCtx services.ExecutionContext, subscriptionID string) (*models.Subscription, error)
	Resume(ctx context.Context, execCtx services.ExecutionContext, subscriptionID string) (*models.Subscription, error)
	Close(ctx context.Context, execCtx services.ExecutionContext, subscriptionID, closedBy string) (*models.Subscription, error)
	Transfer(ctx context.Context, execCtx services.ExecutionContext, subscriptionID, targetPlanID string) (*models.Subscription, error)
	UpdateEndingDate(ctx context.Context, execCtx services.ExecutionContext, subscriptionID string, endingAt *time.Time) (*models.Subscription, error)
	FindByID(ctx context.Context, subscriptionID string) (*models.Subscription, error)
	Search(ctx context.Context, filters repositories.SubscriptionFilters) ([]*models.Subscription, error)
	ExportCSV(ctx context.Context, filters repositories.SubscriptionFilters) (string, error)
}

// KeyLifecycle is the slice of the API key service the handlers depend on.
type KeyLifecycle interface {
	FindBySubscription(ctx context.Context, subscriptionID string) ([]*models.APIKey, error)
	FindByKeyAndAPI(ctx context.Context, keyValue, apiID string) (*models.APIKey, error)
	GenerateForSubscription(ctx context.Context, execCtx services.ExecutionContext, subscriptionID, customKey string) (*models.APIKey, error)
	Renew(ctx context.Context, execCtx services.ExecutionContext, subscriptionID, customKey string) (*models.APIKey, error)
	RevokeByKey(ctx context.Context, execCtx services.ExecutionContext, keyValue, apiID string, notify bool) (*models.APIKey, error)
	Reactivate(ctx context.Context, execCtx services.ExecutionContext, keyValue, apiID string) (*models.APIKey, error)
	Update(ctx context.Context, execCtx services.ExecutionContext, incoming *models.APIKey) (*models.APIKey, error)
	CanCreate(ctx context.Context, keyValue, apiID, applicationID string) (bool, error)
}

// requester builds the service-level caller identity from the auth middleware
// context values.
func requester(c *gin.Context) services.Requester {
	r := services.Requester{}
	if v, ok := c.Get(middleware.UserIDKey); ok {
		r.UserID, _ = v.(string)
	}
	if v, ok := c.Get(middleware.AdminKey); ok {
		r.AdminOverride, _ = v.(bool)
	}
	return r
}

// writeError maps a domain error to its HTTP status. Not-found lookups are
// 404, illegal transitions and uniqueness conflicts are 409, plan policy
// denials are 400. Anything else is a technical fault and reported as a bare
// 500 without leaking internals.
func writeError(c *gin.Context, err error) {
	switch {
	case services.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case services.IsInvalidState(err), services.IsConflict(err):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case services.IsPolicyViolation(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

// subscriptionResponse is the JSON shape of a subscription.
type subscriptionResponse struct {
	ID                        string     `json:"id"`
	Plan                      string     `json:"plan"`
	Application               string     `json:"application"`
	API                       string     `json:"api"`
	Status                    string     `json:"status"`
	Request                   *string    `json:"request,omitempty"`
	Reason                    *string    `json:"reason,omitempty"`
	SubscribedBy              string     `json:"subscribed_by"`
	ProcessedBy               *string    `json:"processed_by,omitempty"`
	ProcessedAt               *time.Time `json:"processed_at,omitempty"`
	StartingAt                *time.Time `json:"starting_at,omitempty"`
	EndingAt                  *time.Time `json:"ending_at,omitempty"`
	PausedAt                  *time.Time `json:"paused_at,omitempty"`
	ClosedAt                  *time.Time `json:"closed_at,omitempty"`
	GeneralConditionsAccepted bool       `json:"general_conditions_accepted"`
	CreatedAt                 time.Time  `json:"created_at"`
	UpdatedAt                 time.Time  `json:"updated_at"`
}

func toSubscriptionResponse(sub *models.Subscription) subscriptionResponse {
	return subscriptionResponse{
		ID:                        sub.ID,
		Plan:                      sub.PlanID,
		Application:               sub.ApplicationID,
		API:                       sub.APIID,
		Status:                    string(sub.Status),
		Request:                   sub.Request,
		Reason:                    sub.Reason,
		SubscribedBy:              sub.SubscribedBy,
		ProcessedBy:               sub.ProcessedBy,
		ProcessedAt:               sub.ProcessedAt,
		StartingAt:                sub.StartingAt,
		EndingAt:                  sub.EndingAt,
		PausedAt:                  sub.PausedAt,
		ClosedAt:                  sub.ClosedAt,
		GeneralConditionsAccepted: sub.GeneralConditionsAccepted,
		CreatedAt:                 sub.CreatedAt,
		UpdatedAt:                 sub.UpdatedAt,
	}
}

// apiKeyResponse is the JSON shape of an API key. The opaque key value is
// included: the management API is the only place a consumer can read it back.
// Active is the enforcement-time view of the flags: not revoked, not paused,
// and not past its expiry date at the time of the response.
type apiKeyResponse struct {
	ID           string     `json:"id"`
	Key          string     `json:"key"`
	Application  string     `json:"application"`
	API          string     `json:"api"`
	Plan         string     `json:"plan"`
	Subscription string     `json:"subscription"`
	Revoked      bool       `json:"revoked"`
	Paused       bool       `json:"paused"`
	Active       bool       `json:"active"`
	ExpireAt     *time.Time `json:"expire_at,omitempty"`
	RevokedAt    *time.Time `json:"revoked_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func toAPIKeyResponse(key *models.APIKey) apiKeyResponse {
	return apiKeyResponse{
		ID:           key.ID,
		Key:          key.Key,
		Application:  key.ApplicationID,
		API:          key.APIID,
		Plan:         key.PlanID,
		Subscription: key.SubscriptionID,
		Revoked:      key.Revoked,
		Paused:       key.Paused,
		Active:       key.ActiveAt(time.Now()),
		ExpireAt:     key.ExpireAt,
		RevokedAt:    key.RevokedAt,
		CreatedAt:    key.CreatedAt,
		UpdatedAt:    key.UpdatedAt,
	}
}

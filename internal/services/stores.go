// stores.go declares the persistence contracts the engine consumes. The
// concrete implementations live in internal/db/repositories; tests substitute
// in-memory fakes.
package services

import (
	"context"
	"time"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
)

// PlanReader resolves plans by id.
type PlanReader interface {
	GetPlanByID(ctx context.Context, planID string) (*models.Plan, error)
}

// ApplicationReader resolves applications by id.
type ApplicationReader interface {
	GetApplicationByID(ctx context.Context, appID string) (*models.Application, error)
}

// PageReader resolves general-conditions pages by id.
type PageReader interface {
	GetPageByID(ctx context.Context, pageID string) (*models.Page, error)
}

// GroupMembership resolves the groups a user belongs to.
type GroupMembership interface {
	GroupsOf(ctx context.Context, userID string) ([]string, error)
}

// SubscriptionStore persists subscriptions.
type SubscriptionStore interface {
	CreateSubscription(ctx context.Context, sub *models.Subscription) error
	UpdateSubscription(ctx context.Context, sub *models.Subscription) error
	GetSubscriptionByID(ctx context.Context, subID string) (*models.Subscription, error)
	ListByApplicationAndAPI(ctx context.Context, appID, apiID string) ([]*models.Subscription, error)
	Search(ctx context.Context, filters repositories.SubscriptionFilters) ([]*models.Subscription, error)
}

// APIKeyStore persists API keys.
type APIKeyStore interface {
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
	UpdateAPIKey(ctx context.Context, key *models.APIKey) error
	GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error)
	GetAPIKeyByKeyAndAPI(ctx context.Context, keyValue, apiID string) (*models.APIKey, error)
	ListAPIKeysByKey(ctx context.Context, keyValue string) ([]*models.APIKey, error)
	ListAPIKeysBySubscription(ctx context.Context, subscriptionID string) ([]*models.APIKey, error)
}

// Clock supplies the current time. Injected so tests can pin it.
type Clock func() time.Time

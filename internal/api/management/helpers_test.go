package management

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/middleware"
	"github.com/apim-portal/apim-portal/internal/services"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// identity injects the context values the auth and tenancy middleware would
// set in production, so handlers can be tested without a real token.
func identity(c *gin.Context) {
	c.Set(middleware.UserIDKey, "admin-user")
	c.Set(middleware.AdminKey, true)
	c.Set(middleware.ExecCtxKey, services.ExecutionContext{OrganizationID: "acme", EnvironmentID: "prod"})
}

// ---------------------------------------------------------------------------
// scripted service fakes
// ---------------------------------------------------------------------------

// fakeSubService returns the preset subscription/error from every method and
// records the arguments of the last call.
type fakeSubService struct {
	sub  *models.Subscription
	subs []*models.Subscription
	csv  string
	err  error

	lastCreate   services.NewSubscriptionInput
	lastReq      services.Requester
	lastProcess  services.ProcessSubscriptionInput
	lastFilters  repositories.SubscriptionFilters
	lastExecCtx  services.ExecutionContext
	lastSubID    string
	lastClosedBy string
	lastTargetID string
	lastEndingAt *time.Time
}

func (f *fakeSubService) Create(_ context.Context, execCtx services.ExecutionContext, input services.NewSubscriptionInput, req services.Requester) (*models.Subscription, error) {
	f.lastExecCtx, f.lastCreate, f.lastReq = execCtx, input, req
	return f.sub, f.err
}

func (f *fakeSubService) Process(_ context.Context, execCtx services.ExecutionContext, input services.ProcessSubscriptionInput) (*models.Subscription, error) {
	f.lastExecCtx, f.lastProcess = execCtx, input
	return f.sub, f.err
}

func (f *fakeSubService) Pause(_ context.Context, execCtx services.ExecutionContext, id string) (*models.Subscription, error) {
	f.lastExecCtx, f.lastSubID = execCtx, id
	return f.sub, f.err
}

func (f *fakeSubService) Resume(_ context.Context, execCtx services.ExecutionContext, id string) (*models.Subscription, error) {
	f.lastExecCtx, f.lastSubID = execCtx, id
	return f.sub, f.err
}

func (f *fakeSubService) Close(_ context.Context, execCtx services.ExecutionContext, id, closedBy string) (*models.Subscription, error) {
	f.lastExecCtx, f.lastSubID, f.lastClosedBy = execCtx, id, closedBy
	return f.sub, f.err
}

func (f *fakeSubService) Transfer(_ context.Context, execCtx services.ExecutionContext, id, targetPlanID string) (*models.Subscription, error) {
	f.lastExecCtx, f.lastSubID, f.lastTargetID = execCtx, id, targetPlanID
	return f.sub, f.err
}

func (f *fakeSubService) UpdateEndingDate(_ context.Context, execCtx services.ExecutionContext, id string, endingAt *time.Time) (*models.Subscription, error) {
	f.lastExecCtx, f.lastSubID, f.lastEndingAt = execCtx, id, endingAt
	return f.sub, f.err
}

func (f *fakeSubService) FindByID(_ context.Context, id string) (*models.Subscription, error) {
	f.lastSubID = id
	return f.sub, f.err
}

func (f *fakeSubService) Search(_ context.Context, filters repositories.SubscriptionFilters) ([]*models.Subscription, error) {
	f.lastFilters = filters
	return f.subs, f.err
}

func (f *fakeSubService) ExportCSV(_ context.Context, filters repositories.SubscriptionFilters) (string, error) {
	f.lastFilters = filters
	return f.csv, f.err
}

// fakeKeyService mirrors fakeSubService for the key lifecycle.
type fakeKeyService struct {
	key       *models.APIKey
	keys      []*models.APIKey
	available bool
	err       error

	lastExecCtx   services.ExecutionContext
	lastSubID     string
	lastKeyValue  string
	lastAPIID     string
	lastAppID     string
	lastCustomKey string
	lastNotify    bool
	lastIncoming  *models.APIKey
}

func (f *fakeKeyService) FindBySubscription(_ context.Context, subID string) ([]*models.APIKey, error) {
	f.lastSubID = subID
	return f.keys, f.err
}

func (f *fakeKeyService) FindByKeyAndAPI(_ context.Context, keyValue, apiID string) (*models.APIKey, error) {
	f.lastKeyValue, f.lastAPIID = keyValue, apiID
	return f.key, f.err
}

func (f *fakeKeyService) GenerateForSubscription(_ context.Context, execCtx services.ExecutionContext, subID, customKey string) (*models.APIKey, error) {
	f.lastExecCtx, f.lastSubID, f.lastCustomKey = execCtx, subID, customKey
	return f.key, f.err
}

func (f *fakeKeyService) Renew(_ context.Context, execCtx services.ExecutionContext, subID, customKey string) (*models.APIKey, error) {
	f.lastExecCtx, f.lastSubID, f.lastCustomKey = execCtx, subID, customKey
	return f.key, f.err
}

func (f *fakeKeyService) RevokeByKey(_ context.Context, execCtx services.ExecutionContext, keyValue, apiID string, notify bool) (*models.APIKey, error) {
	f.lastExecCtx, f.lastKeyValue, f.lastAPIID, f.lastNotify = execCtx, keyValue, apiID, notify
	return f.key, f.err
}

func (f *fakeKeyService) Reactivate(_ context.Context, execCtx services.ExecutionContext, keyValue, apiID string) (*models.APIKey, error) {
	f.lastExecCtx, f.lastKeyValue, f.lastAPIID = execCtx, keyValue, apiID
	return f.key, f.err
}

func (f *fakeKeyService) Update(_ context.Context, execCtx services.ExecutionContext, incoming *models.APIKey) (*models.APIKey, error) {
	f.lastExecCtx, f.lastIncoming = execCtx, incoming
	return f.key, f.err
}

func (f *fakeKeyService) CanCreate(_ context.Context, keyValue, apiID, applicationID string) (bool, error) {
	f.lastKeyValue, f.lastAPIID, f.lastAppID = keyValue, apiID, applicationID
	return f.available, f.err
}

// ---------------------------------------------------------------------------
// model fixtures
// ---------------------------------------------------------------------------

func acceptedSubscription() *models.Subscription {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	processedBy := "admin-user"
	return &models.Subscription{
		ID:            "sub-1",
		PlanID:        "plan-1",
		ApplicationID: "app-1",
		APIID:         "api-1",
		Status:        models.SubscriptionStatusAccepted,
		SubscribedBy:  "u1",
		ProcessedBy:   &processedBy,
		ProcessedAt:   &now,
		StartingAt:    &now,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func liveKey() *models.APIKey {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return &models.APIKey{
		ID:             "key-1",
		Key:            "gw_testvalue",
		ApplicationID:  "app-1",
		APIID:          "api-1",
		PlanID:         "plan-1",
		SubscriptionID: "sub-1",
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

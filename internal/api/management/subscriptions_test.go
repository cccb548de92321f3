package management

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/services"
)

func newSubscriptionRouter(subs *fakeSubService, keys *fakeKeyService) *gin.Engine {
	h := NewSubscriptionHandlers(subs, keys)
	r := gin.New()
	r.Use(identity)
	r.POST("/subscriptions", h.CreateHandler())
	r.GET("/subscriptions", h.SearchHandler())
	r.GET("/subscriptions/_export", h.ExportHandler())
	r.GET("/subscriptions/:id", h.GetHandler())
	r.PATCH("/subscriptions/:id", h.UpdateHandler())
	r.POST("/subscriptions/:id/_process", h.ProcessHandler())
	r.POST("/subscriptions/:id/_pause", h.PauseHandler())
	r.POST("/subscriptions/:id/_resume", h.ResumeHandler())
	r.POST("/subscriptions/:id/_close", h.CloseHandler())
	r.POST("/subscriptions/:id/_transfer", h.TransferHandler())
	r.GET("/subscriptions/:id/keys", h.ListKeysHandler())
	r.POST("/subscriptions/:id/keys", h.GenerateKeyHandler())
	r.POST("/subscriptions/:id/keys/_renew", h.RenewKeysHandler())
	return r
}

// ---------------------------------------------------------------------------
// CreateHandler
// ---------------------------------------------------------------------------

func TestCreateHandler_Success(t *testing.T) {
	subs := &fakeSubService{sub: acceptedSubscription()}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	body := `{"plan":"plan-1","application":"app-1","request":"need access","custom_api_key":"gw_custom"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	if subs.lastCreate.PlanID != "plan-1" || subs.lastCreate.ApplicationID != "app-1" {
		t.Errorf("input = %+v, want plan-1/app-1", subs.lastCreate)
	}
	if subs.lastCreate.CustomAPIKey != "gw_custom" {
		t.Errorf("CustomAPIKey = %q, want gw_custom", subs.lastCreate.CustomAPIKey)
	}
	if subs.lastReq.UserID != "admin-user" || !subs.lastReq.AdminOverride {
		t.Errorf("requester = %+v, want admin-user with override", subs.lastReq)
	}
	if subs.lastExecCtx.OrganizationID != "acme" || subs.lastExecCtx.EnvironmentID != "prod" {
		t.Errorf("execCtx = %+v, want acme/prod", subs.lastExecCtx)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp["id"] != "sub-1" || resp["status"] != "ACCEPTED" {
		t.Errorf("resp = %v, want sub-1 ACCEPTED", resp)
	}
}

func TestCreateHandler_MissingPlan(t *testing.T) {
	r := newSubscriptionRouter(&fakeSubService{}, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(`{"application":"app-1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing plan", w.Code)
	}
}

func TestCreateHandler_PlanNotFound(t *testing.T) {
	subs := &fakeSubService{err: &services.PlanNotFoundError{PlanID: "missing"}}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(`{"plan":"missing","application":"app-1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestCreateHandler_PolicyDenied(t *testing.T) {
	subs := &fakeSubService{err: &services.PlanNotYetPublishedError{PlanID: "plan-1"}}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(`{"plan":"plan-1","application":"app-1"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for policy denial", w.Code)
	}
}

func TestCreateHandler_CustomKeyConflict(t *testing.T) {
	subs := &fakeSubService{err: &services.APIKeyAlreadyExistingError{APIID: "api-1"}}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions", strings.NewReader(`{"plan":"plan-1","application":"app-1","custom_api_key":"gw_taken"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for key conflict", w.Code)
	}
}

// ---------------------------------------------------------------------------
// GetHandler
// ---------------------------------------------------------------------------

func TestGetHandler_Success(t *testing.T) {
	subs := &fakeSubService{sub: acceptedSubscription()}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions/sub-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if subs.lastSubID != "sub-1" {
		t.Errorf("looked up %q, want sub-1", subs.lastSubID)
	}
}

func TestGetHandler_NotFound(t *testing.T) {
	subs := &fakeSubService{err: &services.SubscriptionNotFoundError{SubscriptionID: "nope"}}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions/nope", nil))

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

// ---------------------------------------------------------------------------
// SearchHandler / ExportHandler
// ---------------------------------------------------------------------------

func TestSearchHandler_Filters(t *testing.T) {
	subs := &fakeSubService{subs: []*models.Subscription{acceptedSubscription()}}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet,
		"/subscriptions?api=api-1,api-2&plan=plan-1&status=accepted,paused&from=2024-01-01T00:00:00Z", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body %s", w.Code, w.Body.String())
	}
	if len(subs.lastFilters.APIIDs) != 2 || subs.lastFilters.APIIDs[1] != "api-2" {
		t.Errorf("APIIDs = %v, want [api-1 api-2]", subs.lastFilters.APIIDs)
	}
	if len(subs.lastFilters.Statuses) != 2 || subs.lastFilters.Statuses[0] != models.SubscriptionStatusAccepted {
		t.Errorf("Statuses = %v, want uppercased [ACCEPTED PAUSED]", subs.lastFilters.Statuses)
	}
	if subs.lastFilters.From == nil || !subs.lastFilters.From.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("From = %v, want 2024-01-01", subs.lastFilters.From)
	}

	var resp map[string]json.RawMessage
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, ok := resp["subscriptions"]; !ok {
		t.Error("response missing 'subscriptions'")
	}
}

func TestSearchHandler_InvalidTimeBound(t *testing.T) {
	r := newSubscriptionRouter(&fakeSubService{}, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions?from=yesterday", nil))

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for bad time bound", w.Code)
	}
}

func TestExportHandler_ReturnsCSV(t *testing.T) {
	subs := &fakeSubService{csv: "id,plan\nsub-1,plan-1\n"}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions/_export?plan=plan-1", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}
	if !strings.Contains(w.Header().Get("Content-Disposition"), "subscriptions.csv") {
		t.Errorf("Content-Disposition = %q, want attachment filename", w.Header().Get("Content-Disposition"))
	}
	if !strings.Contains(w.Body.String(), "sub-1,plan-1") {
		t.Errorf("body = %q, want CSV rows", w.Body.String())
	}
	if len(subs.lastFilters.PlanIDs) != 1 {
		t.Errorf("PlanIDs = %v, want [plan-1]", subs.lastFilters.PlanIDs)
	}
}

// ---------------------------------------------------------------------------
// ProcessHandler
// ---------------------------------------------------------------------------

func TestProcessHandler_AcceptCarriesCallerIdentity(t *testing.T) {
	subs := &fakeSubService{sub: acceptedSubscription()}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	body := `{"accepted":true,"ending_at":"2025-01-01T00:00:00Z"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/_process", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !subs.lastProcess.Accepted {
		t.Error("Accepted = false, want true")
	}
	if subs.lastProcess.ProcessedBy != "admin-user" {
		t.Errorf("ProcessedBy = %q, want admin-user", subs.lastProcess.ProcessedBy)
	}
	if subs.lastProcess.EndingAt == nil {
		t.Error("EndingAt = nil, want parsed timestamp")
	}
}

func TestProcessHandler_NotPending(t *testing.T) {
	subs := &fakeSubService{err: &services.SubscriptionNotUpdatableError{SubscriptionID: "sub-1", Status: "ACCEPTED"}}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/_process", strings.NewReader(`{"accepted":true}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for non-pending subscription", w.Code)
	}
}

// ---------------------------------------------------------------------------
// lifecycle transitions
// ---------------------------------------------------------------------------

func TestPauseHandler(t *testing.T) {
	subs := &fakeSubService{sub: acceptedSubscription()}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/_pause", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if subs.lastSubID != "sub-1" {
		t.Errorf("paused %q, want sub-1", subs.lastSubID)
	}
}

func TestResumeHandler_InvalidState(t *testing.T) {
	subs := &fakeSubService{err: &services.SubscriptionNotUpdatableError{SubscriptionID: "sub-1", Status: "ACCEPTED"}}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/_resume", nil))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", w.Code)
	}
}

func TestCloseHandler_CarriesCallerIdentity(t *testing.T) {
	subs := &fakeSubService{sub: acceptedSubscription()}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/_close", nil))

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if subs.lastClosedBy != "admin-user" {
		t.Errorf("closedBy = %q, want admin-user", subs.lastClosedBy)
	}
}

func TestTransferHandler(t *testing.T) {
	subs := &fakeSubService{sub: acceptedSubscription()}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/_transfer", strings.NewReader(`{"plan":"plan-2"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
	if subs.lastTargetID != "plan-2" {
		t.Errorf("target plan = %q, want plan-2", subs.lastTargetID)
	}
}

func TestTransferHandler_MissingPlan(t *testing.T) {
	r := newSubscriptionRouter(&fakeSubService{}, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/_transfer", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400 for missing target plan", w.Code)
	}
}

func TestUpdateHandler_EndingDate(t *testing.T) {
	subs := &fakeSubService{sub: acceptedSubscription()}
	r := newSubscriptionRouter(subs, &fakeKeyService{})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPatch, "/subscriptions/sub-1", strings.NewReader(`{"ending_at":"2025-06-01T00:00:00Z"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if subs.lastEndingAt == nil || !subs.lastEndingAt.Equal(time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("endingAt = %v, want 2025-06-01", subs.lastEndingAt)
	}
}

// ---------------------------------------------------------------------------
// key subresource
// ---------------------------------------------------------------------------

func TestListKeysHandler(t *testing.T) {
	keys := &fakeKeyService{keys: []*models.APIKey{liveKey()}}
	r := newSubscriptionRouter(&fakeSubService{}, keys)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/subscriptions/sub-1/keys", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if keys.lastSubID != "sub-1" {
		t.Errorf("listed keys of %q, want sub-1", keys.lastSubID)
	}
	var resp map[string][]map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp["keys"]) != 1 || resp["keys"][0]["key"] != "gw_testvalue" {
		t.Errorf("keys = %v, want one entry with the key value", resp["keys"])
	}
}

func TestGenerateKeyHandler_NoBody(t *testing.T) {
	keys := &fakeKeyService{key: liveKey()}
	r := newSubscriptionRouter(&fakeSubService{}, keys)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/keys", nil))

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201, body %s", w.Code, w.Body.String())
	}
	if keys.lastSubID != "sub-1" || keys.lastCustomKey != "" {
		t.Errorf("generate args = %q/%q, want sub-1 with no custom key", keys.lastSubID, keys.lastCustomKey)
	}
}

func TestGenerateKeyHandler_InactiveSubscription(t *testing.T) {
	keys := &fakeKeyService{err: &services.SubscriptionNotActiveError{SubscriptionID: "sub-1", Status: "CLOSED"}}
	r := newSubscriptionRouter(&fakeSubService{}, keys)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/keys", nil))

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409 for closed subscription", w.Code)
	}
}

func TestRenewKeysHandler_CustomKey(t *testing.T) {
	keys := &fakeKeyService{key: liveKey()}
	r := newSubscriptionRouter(&fakeSubService{}, keys)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/subscriptions/sub-1/keys/_renew", strings.NewReader(`{"custom_api_key":"gw_handpicked"}`))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", w.Code)
	}
	if keys.lastCustomKey != "gw_handpicked" {
		t.Errorf("customKey = %q, want gw_handpicked", keys.lastCustomKey)
	}
}

package management

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/middleware"
	"github.com/apim-portal/apim-portal/internal/services"
)

// SubscriptionHandlers handles subscription lifecycle endpoints
type SubscriptionHandlers struct {
	subs SubscriptionLifecycle
	keys KeyLifecycle
}

// NewSubscriptionHandlers creates a new SubscriptionHandlers instance
func NewSubscriptionHandlers(subs SubscriptionLifecycle, keys KeyLifecycle) *SubscriptionHandlers {
	return &SubscriptionHandlers{subs: subs, keys: keys}
}

// CreateSubscriptionRequest represents the request to subscribe an application to a plan
type CreateSubscriptionRequest struct {
	Plan                      string  `json:"plan" binding:"required"`
	Application               string  `json:"application" binding:"required"`
	Request                   string  `json:"request"`
	GeneralConditionsAccepted bool    `json:"general_conditions_accepted"`
	GeneralConditionsPageID   *string `json:"general_conditions_page_id"`
	GeneralConditionsRevision *int    `json:"general_conditions_revision"`
	CustomAPIKey              string  `json:"custom_api_key"`
}

// ProcessSubscriptionRequest represents an accept or reject decision
type ProcessSubscriptionRequest struct {
	Accepted     bool       `json:"accepted"`
	Reason       string     `json:"reason"`
	StartingAt   *time.Time `json:"starting_at"`
	EndingAt     *time.Time `json:"ending_at"`
	CustomAPIKey string     `json:"custom_api_key"`
}

// TransferSubscriptionRequest names the target plan of a transfer
type TransferSubscriptionRequest struct {
	Plan string `json:"plan" binding:"required"`
}

// UpdateSubscriptionRequest carries the mutable subscription fields
type UpdateSubscriptionRequest struct {
	EndingAt *time.Time `json:"ending_at"`
}

// GenerateKeyRequest optionally carries a caller-chosen key value
type GenerateKeyRequest struct {
	CustomAPIKey string `json:"custom_api_key"`
}

// @Summary      Create subscription
// @Description  Subscribes an application to a plan. Manual-validation plans leave the subscription PENDING; auto-validation plans accept it immediately and provision an API key when the plan security requires one.
// @Tags         Subscriptions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        request  body  CreateSubscriptionRequest  true  "Subscription request"
// @Success      201  {object}  subscriptionResponse
// @Failure      400  {object}  map[string]interface{}  "Invalid request or plan policy denial"
// @Failure      404  {object}  map[string]interface{}  "Plan or application not found"
// @Failure      409  {object}  map[string]interface{}  "Custom key already in use"
// @Router       /api/v1/subscriptions [post]
// CreateHandler creates a new subscription
// POST /api/v1/subscriptions
func (h *SubscriptionHandlers) CreateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req CreateSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		sub, err := h.subs.Create(c.Request.Context(), middleware.ExecutionContext(c), services.NewSubscriptionInput{
			PlanID:                    req.Plan,
			ApplicationID:             req.Application,
			Request:                   req.Request,
			GeneralConditionsAccepted: req.GeneralConditionsAccepted,
			GeneralConditionsPageID:   req.GeneralConditionsPageID,
			GeneralConditionsRevision: req.GeneralConditionsRevision,
			CustomAPIKey:              req.CustomAPIKey,
		}, requester(c))
		if err != nil {
			writeError(c, err)
			return
		}

		c.JSON(http.StatusCreated, toSubscriptionResponse(sub))
	}
}

// @Summary      Get subscription
// @Description  Returns a single subscription by id.
// @Tags         Subscriptions
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Subscription ID"
// @Success      200  {object}  subscriptionResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Router       /api/v1/subscriptions/{id} [get]
// GetHandler returns one subscription
// GET /api/v1/subscriptions/:id
func (h *SubscriptionHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.subs.FindByID(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSubscriptionResponse(sub))
	}
}

// @Summary      Search subscriptions
// @Description  Returns subscriptions matching the query filters, most recent first. List filters accept comma-separated values.
// @Tags         Subscriptions
// @Security     Bearer
// @Produce      json
// @Param        api          query  string  false  "Filter by API ids (comma-separated)"
// @Param        plan         query  string  false  "Filter by plan ids (comma-separated)"
// @Param        application  query  string  false  "Filter by application ids (comma-separated)"
// @Param        status       query  string  false  "Filter by statuses (comma-separated)"
// @Param        from         query  string  false  "Created-at lower bound (RFC3339)"
// @Param        to           query  string  false  "Created-at upper bound (RFC3339)"
// @Success      200  {object}  map[string]interface{}  "subscriptions: list"
// @Failure      400  {object}  map[string]interface{}  "Invalid time bound"
// @Router       /api/v1/subscriptions [get]
// SearchHandler searches subscriptions
// GET /api/v1/subscriptions
func (h *SubscriptionHandlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := parseSubscriptionFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		subs, err := h.subs.Search(c.Request.Context(), filters)
		if err != nil {
			writeError(c, err)
			return
		}

		resp := make([]subscriptionResponse, 0, len(subs))
		for _, sub := range subs {
			resp = append(resp, toSubscriptionResponse(sub))
		}
		c.JSON(http.StatusOK, gin.H{"subscriptions": resp})
	}
}

// @Summary      Export subscriptions
// @Description  Exports subscriptions matching the query filters as CSV. Accepts the same filters as the search endpoint.
// @Tags         Subscriptions
// @Security     Bearer
// @Produce      text/csv
// @Success      200  {string}  string  "CSV document"
// @Failure      400  {object}  map[string]interface{}  "Invalid time bound"
// @Router       /api/v1/subscriptions/_export [get]
// ExportHandler exports subscriptions as CSV
// GET /api/v1/subscriptions/_export
func (h *SubscriptionHandlers) ExportHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters, err := parseSubscriptionFilters(c)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		csvDoc, err := h.subs.ExportCSV(c.Request.Context(), filters)
		if err != nil {
			writeError(c, err)
			return
		}

		c.Header("Content-Disposition", `attachment; filename="subscriptions.csv"`)
		c.Data(http.StatusOK, "text/csv; charset=utf-8", []byte(csvDoc))
	}
}

// @Summary      Process subscription
// @Description  Accepts or rejects a pending subscription. Accepting a subscription on a plan whose security requires a key provisions one after the status change is committed.
// @Tags         Subscriptions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id       path  string                      true  "Subscription ID"
// @Param        request  body  ProcessSubscriptionRequest  true  "Decision"
// @Success      200  {object}  subscriptionResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Failure      409  {object}  map[string]interface{}  "Subscription is not pending"
// @Router       /api/v1/subscriptions/{id}/_process [post]
// ProcessHandler accepts or rejects a pending subscription
// POST /api/v1/subscriptions/:id/_process
func (h *SubscriptionHandlers) ProcessHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ProcessSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		sub, err := h.subs.Process(c.Request.Context(), middleware.ExecutionContext(c), services.ProcessSubscriptionInput{
			SubscriptionID: c.Param("id"),
			Accepted:       req.Accepted,
			ProcessedBy:    requester(c).UserID,
			Reason:         req.Reason,
			StartingAt:     req.StartingAt,
			EndingAt:       req.EndingAt,
			CustomAPIKey:   req.CustomAPIKey,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSubscriptionResponse(sub))
	}
}

// @Summary      Pause subscription
// @Description  Suspends an accepted subscription and marks its live keys paused.
// @Tags         Subscriptions
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Subscription ID"
// @Success      200  {object}  subscriptionResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Failure      409  {object}  map[string]interface{}  "Subscription is not accepted"
// @Router       /api/v1/subscriptions/{id}/_pause [post]
// PauseHandler pauses a subscription
// POST /api/v1/subscriptions/:id/_pause
func (h *SubscriptionHandlers) PauseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.subs.Pause(c.Request.Context(), middleware.ExecutionContext(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSubscriptionResponse(sub))
	}
}

// @Summary      Resume subscription
// @Description  Reactivates a paused subscription and unpauses its live keys.
// @Tags         Subscriptions
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Subscription ID"
// @Success      200  {object}  subscriptionResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Failure      409  {object}  map[string]interface{}  "Subscription is not paused"
// @Router       /api/v1/subscriptions/{id}/_resume [post]
// ResumeHandler resumes a paused subscription
// POST /api/v1/subscriptions/:id/_resume
func (h *SubscriptionHandlers) ResumeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.subs.Resume(c.Request.Context(), middleware.ExecutionContext(c), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSubscriptionResponse(sub))
	}
}

// @Summary      Close subscription
// @Description  Terminates an accepted or paused subscription and revokes its live keys. Closing a pending subscription rejects it instead.
// @Tags         Subscriptions
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Subscription ID"
// @Success      200  {object}  subscriptionResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Failure      409  {object}  map[string]interface{}  "Subscription already terminal"
// @Router       /api/v1/subscriptions/{id}/_close [post]
// CloseHandler closes a subscription
// POST /api/v1/subscriptions/:id/_close
func (h *SubscriptionHandlers) CloseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		sub, err := h.subs.Close(c.Request.Context(), middleware.ExecutionContext(c), c.Param("id"), requester(c).UserID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSubscriptionResponse(sub))
	}
}

// @Summary      Transfer subscription
// @Description  Rebinds an accepted subscription, and its keys, to another plan of the same API. The target plan must be published, share the security type, and carry no general conditions.
// @Tags         Subscriptions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id       path  string                       true  "Subscription ID"
// @Param        request  body  TransferSubscriptionRequest  true  "Target plan"
// @Success      200  {object}  subscriptionResponse
// @Failure      400  {object}  map[string]interface{}  "Target plan not eligible"
// @Failure      404  {object}  map[string]interface{}  "Subscription or plan not found"
// @Failure      409  {object}  map[string]interface{}  "Subscription is not accepted"
// @Router       /api/v1/subscriptions/{id}/_transfer [post]
// TransferHandler transfers a subscription to another plan
// POST /api/v1/subscriptions/:id/_transfer
func (h *SubscriptionHandlers) TransferHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req TransferSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		sub, err := h.subs.Transfer(c.Request.Context(), middleware.ExecutionContext(c), c.Param("id"), req.Plan)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSubscriptionResponse(sub))
	}
}

// @Summary      Update subscription
// @Description  Changes the ending date of an accepted or paused subscription. Live key expiry is capped to the new date; a later date never extends a key past what it already had.
// @Tags         Subscriptions
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id       path  string                     true  "Subscription ID"
// @Param        request  body  UpdateSubscriptionRequest  true  "Fields to update"
// @Success      200  {object}  subscriptionResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Failure      409  {object}  map[string]interface{}  "Subscription not updatable"
// @Router       /api/v1/subscriptions/{id} [patch]
// UpdateHandler updates the ending date of a subscription
// PATCH /api/v1/subscriptions/:id
func (h *SubscriptionHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateSubscriptionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		sub, err := h.subs.UpdateEndingDate(c.Request.Context(), middleware.ExecutionContext(c), c.Param("id"), req.EndingAt)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toSubscriptionResponse(sub))
	}
}

// @Summary      List subscription keys
// @Description  Returns every key of the subscription, most recent first, revoked and expired ones included.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        id  path  string  true  "Subscription ID"
// @Success      200  {object}  map[string]interface{}  "keys: list"
// @Router       /api/v1/subscriptions/{id}/keys [get]
// ListKeysHandler lists a subscription's API keys
// GET /api/v1/subscriptions/:id/keys
func (h *SubscriptionHandlers) ListKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keys, err := h.keys.FindBySubscription(c.Request.Context(), c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}

		resp := make([]apiKeyResponse, 0, len(keys))
		for _, key := range keys {
			resp = append(resp, toAPIKeyResponse(key))
		}
		c.JSON(http.StatusOK, gin.H{"keys": resp})
	}
}

// @Summary      Generate API key
// @Description  Issues an additional key for the subscription without touching its existing keys. A custom key value must be unique for the API across other applications.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id       path  string              true   "Subscription ID"
// @Param        request  body  GenerateKeyRequest  false  "Optional custom key value"
// @Success      201  {object}  apiKeyResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Failure      409  {object}  map[string]interface{}  "Subscription inactive or key value in use"
// @Router       /api/v1/subscriptions/{id}/keys [post]
// GenerateKeyHandler issues an additional key for a subscription
// POST /api/v1/subscriptions/:id/keys
func (h *SubscriptionHandlers) GenerateKeyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateKeyRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
				return
			}
		}

		key, err := h.keys.GenerateForSubscription(c.Request.Context(), middleware.ExecutionContext(c), c.Param("id"), req.CustomAPIKey)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, toAPIKeyResponse(key))
	}
}

// @Summary      Renew API keys
// @Description  Issues a replacement key for the subscription and schedules every other still-valid key to expire after the renewal grace period, so consumers can roll over without an outage.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        id       path  string              true   "Subscription ID"
// @Param        request  body  GenerateKeyRequest  false  "Optional custom key value"
// @Success      201  {object}  apiKeyResponse
// @Failure      404  {object}  map[string]interface{}  "Subscription not found"
// @Failure      409  {object}  map[string]interface{}  "Key value in use"
// @Router       /api/v1/subscriptions/{id}/keys/_renew [post]
// RenewKeysHandler renews the keys of a subscription
// POST /api/v1/subscriptions/:id/keys/_renew
func (h *SubscriptionHandlers) RenewKeysHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req GenerateKeyRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
				return
			}
		}

		key, err := h.keys.Renew(c.Request.Context(), middleware.ExecutionContext(c), c.Param("id"), req.CustomAPIKey)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, toAPIKeyResponse(key))
	}
}

// parseSubscriptionFilters reads the search query parameters shared by the
// search and export endpoints. List parameters are comma-separated; time
// bounds are RFC3339.
func parseSubscriptionFilters(c *gin.Context) (repositories.SubscriptionFilters, error) {
	filters := repositories.SubscriptionFilters{
		APIIDs:         splitList(c.Query("api")),
		PlanIDs:        splitList(c.Query("plan")),
		ApplicationIDs: splitList(c.Query("application")),
	}
	for _, status := range splitList(c.Query("status")) {
		filters.Statuses = append(filters.Statuses, models.SubscriptionStatus(strings.ToUpper(status)))
	}

	if raw := c.Query("from"); raw != "" {
		from, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, &invalidFilterError{param: "from", value: raw}
		}
		filters.From = &from
	}
	if raw := c.Query("to"); raw != "" {
		to, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filters, &invalidFilterError{param: "to", value: raw}
		}
		filters.To = &to
	}

	return filters, nil
}

type invalidFilterError struct {
	param string
	value string
}

func (e *invalidFilterError) Error() string {
	return "invalid " + e.param + " filter: " + e.value + " is not an RFC3339 timestamp"
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

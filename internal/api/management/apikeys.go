package management

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/middleware"
)

// APIKeyHandlers handles the key-centric endpoints, addressed by the natural
// (key value, api) pair the gateway uses at enforcement time.
type APIKeyHandlers struct {
	keys KeyLifecycle
}

// NewAPIKeyHandlers creates a new APIKeyHandlers instance
func NewAPIKeyHandlers(keys KeyLifecycle) *APIKeyHandlers {
	return &APIKeyHandlers{keys: keys}
}

// UpdateAPIKeyRequest carries the mutable key fields. The revoked flag is not
// among them; revocation has its own endpoint.
type UpdateAPIKeyRequest struct {
	Paused   bool       `json:"paused"`
	ExpireAt *time.Time `json:"expire_at"`
}

// @Summary      Get API key
// @Description  Resolves a key by its value and the API it is bound to.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        api  path  string  true  "API ID"
// @Param        key  path  string  true  "Key value"
// @Success      200  {object}  apiKeyResponse
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Router       /api/v1/apis/{api}/keys/{key} [get]
// GetHandler resolves an API key by (key value, api)
// GET /api/v1/apis/:api/keys/:key
func (h *APIKeyHandlers) GetHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := h.keys.FindByKeyAndAPI(c.Request.Context(), c.Param("key"), c.Param("api"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toAPIKeyResponse(key))
	}
}

// @Summary      Update API key
// @Description  Updates the paused flag and expiry date of a key. Setting an expiry in the past emits the key expiry event without revoking the key.
// @Tags         API Keys
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Param        api      path  string               true  "API ID"
// @Param        key      path  string               true  "Key value"
// @Param        request  body  UpdateAPIKeyRequest  true  "Fields to update"
// @Success      200  {object}  apiKeyResponse
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Router       /api/v1/apis/{api}/keys/{key} [put]
// UpdateHandler updates the mutable fields of an API key
// PUT /api/v1/apis/:api/keys/:key
func (h *APIKeyHandlers) UpdateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req UpdateAPIKeyRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body: " + err.Error()})
			return
		}

		key, err := h.keys.Update(c.Request.Context(), middleware.ExecutionContext(c), &models.APIKey{
			Key:      c.Param("key"),
			APIID:    c.Param("api"),
			Paused:   req.Paused,
			ExpireAt: req.ExpireAt,
		})
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toAPIKeyResponse(key))
	}
}

// @Summary      Revoke API key
// @Description  Revokes a key. Revocation is permanent until an explicit reactivation; an already revoked or expired key cannot be revoked again.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        api  path  string  true  "API ID"
// @Param        key  path  string  true  "Key value"
// @Success      200  {object}  apiKeyResponse
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      409  {object}  map[string]interface{}  "Key already revoked or expired"
// @Router       /api/v1/apis/{api}/keys/{key}/_revoke [post]
// RevokeHandler revokes an API key
// POST /api/v1/apis/:api/keys/:key/_revoke
func (h *APIKeyHandlers) RevokeHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := h.keys.RevokeByKey(c.Request.Context(), middleware.ExecutionContext(c), c.Param("key"), c.Param("api"), true)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toAPIKeyResponse(key))
	}
}

// @Summary      Reactivate API key
// @Description  Brings a revoked or expired key back into service. The owning subscription must be accepted or paused; the key expiry realigns to the subscription's current ending date.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        api  path  string  true  "API ID"
// @Param        key  path  string  true  "Key value"
// @Success      200  {object}  apiKeyResponse
// @Failure      404  {object}  map[string]interface{}  "Key not found"
// @Failure      409  {object}  map[string]interface{}  "Key already active or subscription inactive"
// @Router       /api/v1/apis/{api}/keys/{key}/_reactivate [post]
// ReactivateHandler reactivates a revoked or expired API key
// POST /api/v1/apis/:api/keys/:key/_reactivate
func (h *APIKeyHandlers) ReactivateHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := h.keys.Reactivate(c.Request.Context(), middleware.ExecutionContext(c), c.Param("key"), c.Param("api"))
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, toAPIKeyResponse(key))
	}
}

// @Summary      Verify API key availability
// @Description  Reports whether a key value may be bound to the API by the given application. The same value on the same API under a different application is a conflict; the same application reusing its value across APIs is allowed.
// @Tags         API Keys
// @Security     Bearer
// @Produce      json
// @Param        api          path   string  true  "API ID"
// @Param        key          query  string  true  "Key value to check"
// @Param        application  query  string  true  "Application that would own the key"
// @Success      200  {object}  map[string]interface{}  "available: bool"
// @Failure      400  {object}  map[string]interface{}  "Missing key or application parameter"
// @Router       /api/v1/apis/{api}/keys/_verify [get]
// VerifyHandler checks whether a custom key value is available
// GET /api/v1/apis/:api/keys/_verify
func (h *APIKeyHandlers) VerifyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		keyValue := c.Query("key")
		applicationID := c.Query("application")
		if keyValue == "" || applicationID == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "key and application query parameters are required"})
			return
		}

		ok, err := h.keys.CanCreate(c.Request.Context(), keyValue, c.Param("api"), applicationID)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"available": ok})
	}
}

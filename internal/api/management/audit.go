package management

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
)

// AuditReader is the slice of the audit repository the listing endpoint uses.
type AuditReader interface {
	ListAuditLogs(ctx context.Context, filters repositories.AuditFilters, limit, offset int) ([]*models.AuditLog, int, error)
}

// AuditHandlers exposes the audit trail for read-only inspection.
type AuditHandlers struct {
	logs AuditReader
}

// NewAuditHandlers creates a new AuditHandlers instance
func NewAuditHandlers(logs AuditReader) *AuditHandlers {
	return &AuditHandlers{logs: logs}
}

type auditLogResponse struct {
	ID            string            `json:"id"`
	Organization  string            `json:"organization"`
	Environment   string            `json:"environment"`
	API           *string           `json:"api,omitempty"`
	Application   *string           `json:"application,omitempty"`
	Event         string            `json:"event"`
	Properties    map[string]string `json:"properties,omitempty"`
	PreviousState json.RawMessage   `json:"previous_state,omitempty"`
	NewState      json.RawMessage   `json:"new_state,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// @Summary      List audit records
// @Description  Returns audit records, most recent first, with optional filtering by API, application, event kind, and time range.
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        api          query  string  false  "Filter by API id"
// @Param        application  query  string  false  "Filter by application id"
// @Param        event        query  string  false  "Filter by event kind (e.g. APIKEY_REVOKED)"
// @Param        from         query  string  false  "Created-at lower bound (RFC3339)"
// @Param        to           query  string  false  "Created-at upper bound (RFC3339)"
// @Param        limit        query  int     false  "Page size (default 50, max 500)"
// @Param        offset       query  int     false  "Page offset"
// @Success      200  {object}  map[string]interface{}  "logs: list, total: count"
// @Failure      400  {object}  map[string]interface{}  "Invalid time bound"
// @Router       /api/v1/audit [get]
// ListHandler lists audit records
// GET /api/v1/audit
func (h *AuditHandlers) ListHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := repositories.AuditFilters{}
		if v := c.Query("api"); v != "" {
			filters.APIID = &v
		}
		if v := c.Query("application"); v != "" {
			filters.ApplicationID = &v
		}
		if v := c.Query("event"); v != "" {
			filters.Event = &v
		}
		if raw := c.Query("from"); raw != "" {
			from, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": (&invalidFilterError{param: "from", value: raw}).Error()})
				return
			}
			filters.StartDate = &from
		}
		if raw := c.Query("to"); raw != "" {
			to, err := time.Parse(time.RFC3339, raw)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": (&invalidFilterError{param: "to", value: raw}).Error()})
				return
			}
			filters.EndDate = &to
		}

		limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
		if limit < 1 || limit > 500 {
			limit = 50
		}
		offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
		if offset < 0 {
			offset = 0
		}

		logs, total, err := h.logs.ListAuditLogs(c.Request.Context(), filters, limit, offset)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list audit records"})
			return
		}

		resp := make([]auditLogResponse, 0, len(logs))
		for _, log := range logs {
			resp = append(resp, auditLogResponse{
				ID:            log.ID,
				Organization:  log.OrganizationID,
				Environment:   log.EnvironmentID,
				API:           log.APIID,
				Application:   log.ApplicationID,
				Event:         log.Event,
				Properties:    log.Properties,
				PreviousState: log.PreviousState,
				NewState:      log.NewState,
				CreatedAt:     log.CreatedAt,
			})
		}

		c.JSON(http.StatusOK, gin.H{
			"logs":  resp,
			"total": total,
		})
	}
}

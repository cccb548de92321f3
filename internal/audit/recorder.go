// recorder.go implements Recorder, the engine's audit sink. Every record is
// written to the database and forwarded to the configured shippers. Both
// paths are best effort: failures are logged and swallowed so an audit outage
// can never roll back the domain mutation that produced the record.
package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/services"
)

// Recorder persists audit entries and ships them to external destinations.
type Recorder struct {
	repo    *repositories.AuditRepository
	shipper Shipper
	logger  *slog.Logger
}

// NewRecorder creates a new Recorder. shipper may be nil when no external
// destination is configured.
func NewRecorder(repo *repositories.AuditRepository, shipper Shipper, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{repo: repo, shipper: shipper, logger: logger}
}

// Record appends one audit fact. Implements services.AuditRecorder.
func (r *Recorder) Record(ctx context.Context, execCtx services.ExecutionContext, entry services.AuditEntry) {
	previous := marshalState(r.logger, entry.Event, entry.PreviousState)
	next := marshalState(r.logger, entry.Event, entry.NewState)

	log := &models.AuditLog{
		OrganizationID: execCtx.OrganizationID,
		EnvironmentID:  execCtx.EnvironmentID,
		APIID:          entry.APIID,
		ApplicationID:  entry.ApplicationID,
		Event:          entry.Event,
		Properties:     entry.Properties,
		PreviousState:  previous,
		NewState:       next,
	}

	if err := r.repo.CreateAuditLog(ctx, log); err != nil {
		r.logger.Warn("failed to persist audit record", "event", entry.Event, "error", err)
	}

	if r.shipper == nil {
		return
	}

	shipped := &Entry{
		Timestamp:      time.Now(),
		OrganizationID: execCtx.OrganizationID,
		EnvironmentID:  execCtx.EnvironmentID,
		Event:          entry.Event,
		Properties:     entry.Properties,
		PreviousState:  previous,
		NewState:       next,
	}
	if entry.APIID != nil {
		shipped.APIID = *entry.APIID
	}
	if entry.ApplicationID != nil {
		shipped.ApplicationID = *entry.ApplicationID
	}

	if err := r.shipper.Ship(ctx, shipped); err != nil {
		r.logger.Warn("failed to ship audit record", "event", entry.Event, "error", err)
	}
}

// NopRecorder discards every entry. Wired in when audit recording is disabled
// so the services always have a non-nil sink.
type NopRecorder struct{}

// Record implements services.AuditRecorder.
func (NopRecorder) Record(context.Context, services.ExecutionContext, services.AuditEntry) {}

func marshalState(logger *slog.Logger, event string, state interface{}) json.RawMessage {
	if state == nil {
		return nil
	}
	data, err := json.Marshal(state)
	if err != nil {
		logger.Warn("failed to marshal audit state", "event", event, "error", err)
		return nil
	}
	return data
}

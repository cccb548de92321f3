// api_key_expiry_sweeper.go implements the background job that detects API
// keys whose expiry date has passed and emits the expiry event for each one.
// Emission state is persisted in the database (expiry_notified_at column) so
// the event fires exactly once per key even across server restarts. Expiry is
// observational: the sweeper never revokes a key, it only records and
// announces that the expiry date has passed.
package jobs

import (
	"context"
	"log/slog"
	"time"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/services"
	"github.com/apim-portal/apim-portal/internal/telemetry"
)

// ExpiredKeyStore is the slice of the key repository the sweeper needs.
type ExpiredKeyStore interface {
	FindExpiredUnnotified(ctx context.Context, now time.Time) ([]*models.APIKey, error)
	MarkExpiryNotified(ctx context.Context, keyID string) error
}

// APIKeyExpirySweeper periodically scans for expired keys and emits the
// APIKEY_EXPIRED audit record and notification for each.
type APIKeyExpirySweeper struct {
	keys     ExpiredKeyStore
	notifier services.Notifier
	audit    services.AuditRecorder
	execCtx  services.ExecutionContext
	enabled  bool
	interval time.Duration
	now      func() time.Time
	stopChan chan struct{}
}

// NewAPIKeyExpirySweeper creates a sweeper. interval controls how often the
// scan runs (default 1h).
func NewAPIKeyExpirySweeper(
	keys ExpiredKeyStore,
	notifier services.Notifier,
	audit services.AuditRecorder,
	execCtx services.ExecutionContext,
	enabled bool,
	interval time.Duration,
) *APIKeyExpirySweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	return &APIKeyExpirySweeper{
		keys:     keys,
		notifier: notifier,
		audit:    audit,
		execCtx:  execCtx,
		enabled:  enabled,
		interval: interval,
		now:      time.Now,
		stopChan: make(chan struct{}),
	}
}

// Start begins the background sweep loop. It runs an initial sweep
// immediately, then repeats on the configured interval. The loop exits when
// ctx is cancelled or Stop() is called.
func (s *APIKeyExpirySweeper) Start(ctx context.Context) {
	if !s.enabled {
		slog.Info("api key expiry sweeper disabled")
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	slog.Info("api key expiry sweeper started", "interval", s.interval)

	s.Sweep(ctx)

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-s.stopChan:
			slog.Info("api key expiry sweeper stopped")
			return
		case <-ctx.Done():
			slog.Info("api key expiry sweeper context cancelled")
			return
		}
	}
}

// Stop signals the background loop to exit.
func (s *APIKeyExpirySweeper) Stop() {
	close(s.stopChan)
}

// Sweep performs one scan. Each expired key gets an audit record and a
// notification, then is marked so subsequent sweeps skip it. The key itself is
// not revoked; expiry and revocation are independent.
func (s *APIKeyExpirySweeper) Sweep(ctx context.Context) {
	now := s.now()

	keys, err := s.keys.FindExpiredUnnotified(ctx, now)
	if err != nil {
		slog.Error("api key expiry sweep failed", "error", err)
		return
	}
	if len(keys) == 0 {
		return
	}

	slog.Info("api key expiry sweep found expired keys", "count", len(keys))

	for _, key := range keys {
		if s.audit != nil {
			s.audit.Record(ctx, s.execCtx, services.AuditEntry{
				Event:         services.AuditAPIKeyExpired,
				APIID:         &key.APIID,
				ApplicationID: &key.ApplicationID,
				Properties:    map[string]string{"api_key": key.ID},
				NewState:      key,
			})
		}
		if s.notifier != nil {
			s.notifier.Trigger(ctx, s.execCtx, services.HookAPIKeyExpired, key.ID, map[string]string{
				"api":          key.APIID,
				"application":  key.ApplicationID,
				"subscription": key.SubscriptionID,
			})
		}

		telemetry.APIKeysExpiredTotal.Inc()

		if err := s.keys.MarkExpiryNotified(ctx, key.ID); err != nil {
			slog.Error("failed to mark key expiry as notified", "key_id", key.ID, "error", err)
		}
	}
}

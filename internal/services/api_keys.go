// api_keys.go implements APIKeyService, which owns the full key lifecycle:
// generation, revocation, reactivation, renewal with grace overlap, and the
// pause/expiry bookkeeping driven by subscription state changes. Keys are
// never deleted; revocation and expiry are independent flags.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/telemetry"
)

// DefaultRenewalGrace is how long a superseded key keeps working after a
// renewal, so consumers can roll over without an outage.
const DefaultRenewalGrace = 2 * time.Hour

// APIKeyService handles API key lifecycle operations.
type APIKeyService struct {
	keys      APIKeyStore
	subs      SubscriptionStore
	generator KeyGenerator
	notifier  Notifier
	audit     AuditRecorder
	grace     time.Duration
	now       Clock
}

// NewAPIKeyService creates a new APIKeyService. A zero grace falls back to
// DefaultRenewalGrace; a nil clock falls back to time.Now.
func NewAPIKeyService(keys APIKeyStore, subs SubscriptionStore, generator KeyGenerator, notifier Notifier, audit AuditRecorder, grace time.Duration, now Clock) *APIKeyService {
	if grace <= 0 {
		grace = DefaultRenewalGrace
	}
	if now == nil {
		now = time.Now
	}
	return &APIKeyService{
		keys:      keys,
		subs:      subs,
		generator: generator,
		notifier:  notifier,
		audit:     audit,
		grace:     grace,
		now:       now,
	}
}

// Generate creates a key for the subscription. A non-empty customKey must
// pass the uniqueness check; a generated value is trusted without a re-check.
// The key inherits the subscription's ending date as its initial expiry; a
// subscription already past its ending date cannot be issued a new key.
func (s *APIKeyService) Generate(ctx context.Context, execCtx ExecutionContext, sub *models.Subscription, customKey string) (*models.APIKey, error) {
	if sub.EndingAt != nil && sub.EndingAt.Before(s.now()) {
		return nil, &SubscriptionNotActiveError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	value := customKey
	if value != "" {
		ok, err := s.CanCreate(ctx, value, sub.APIID, sub.ApplicationID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, &APIKeyAlreadyExistingError{APIID: sub.APIID}
		}
	} else {
		value = s.generator.Generate()
	}

	key := &models.APIKey{
		Key:            value,
		ApplicationID:  sub.ApplicationID,
		APIID:          sub.APIID,
		PlanID:         sub.PlanID,
		SubscriptionID: sub.ID,
		ExpireAt:       sub.EndingAt,
	}

	if err := s.keys.CreateAPIKey(ctx, key); err != nil {
		// The partial unique index is the authoritative guard; the check
		// above is only a fast fail for the common case.
		if errors.Is(err, repositories.ErrDuplicateKey) {
			return nil, &APIKeyAlreadyExistingError{APIID: sub.APIID}
		}
		return nil, technical("create api key", err)
	}

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditAPIKeyCreated,
		APIID:         &key.APIID,
		ApplicationID: &key.ApplicationID,
		Properties:    map[string]string{"api_key": key.ID, "subscription": sub.ID},
		NewState:      key,
	})

	return key, nil
}

// GenerateForSubscription issues an additional key for the subscription
// without touching its existing keys. Unlike Renew, nothing is scheduled to
// expire; the subscription simply carries one more live key.
func (s *APIKeyService) GenerateForSubscription(ctx context.Context, execCtx ExecutionContext, subscriptionID, customKey string) (*models.APIKey, error) {
	sub, err := s.subs.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, technical("get subscription", err)
	}
	if sub == nil {
		return nil, &SubscriptionNotFoundError{SubscriptionID: subscriptionID}
	}
	if sub.Status != models.SubscriptionStatusAccepted && sub.Status != models.SubscriptionStatusPaused {
		return nil, &SubscriptionNotActiveError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	key, err := s.Generate(ctx, execCtx, sub, customKey)
	if err != nil {
		return nil, err
	}
	telemetry.APIKeysIssuedTotal.WithLabelValues("generate").Inc()
	return key, nil
}

// RevokeByID revokes a key by surrogate id.
func (s *APIKeyService) RevokeByID(ctx context.Context, execCtx ExecutionContext, keyID string, notify bool) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByID(ctx, keyID)
	if err != nil {
		return nil, technical("get api key", err)
	}
	if key == nil {
		return nil, &APIKeyNotFoundError{Key: keyID}
	}
	if err := s.revokeKey(ctx, execCtx, key, notify); err != nil {
		return nil, err
	}
	return key, nil
}

// RevokeByKey revokes a key by its natural (key value, api) pair.
func (s *APIKeyService) RevokeByKey(ctx context.Context, execCtx ExecutionContext, keyValue, apiID string, notify bool) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByKeyAndAPI(ctx, keyValue, apiID)
	if err != nil {
		return nil, technical("get api key", err)
	}
	if key == nil {
		return nil, &APIKeyNotFoundError{Key: keyValue, APIID: apiID}
	}
	if err := s.revokeKey(ctx, execCtx, key, notify); err != nil {
		return nil, err
	}
	return key, nil
}

func (s *APIKeyService) revokeKey(ctx context.Context, execCtx ExecutionContext, key *models.APIKey, notify bool) error {
	now := s.now()
	if key.Revoked || key.ExpiredAt(now) {
		return &APIKeyAlreadyExpiredError{KeyID: key.ID}
	}

	previous := *key
	key.Revoked = true
	key.RevokedAt = &now

	if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
		return technical("update api key", err)
	}
	telemetry.APIKeysRevokedTotal.Inc()

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditAPIKeyRevoked,
		APIID:         &key.APIID,
		ApplicationID: &key.ApplicationID,
		Properties:    map[string]string{"api_key": key.ID},
		PreviousState: &previous,
		NewState:      key,
	})

	if notify {
		s.notifier.Trigger(ctx, execCtx, HookAPIKeyRevoked, key.SubscriptionID, map[string]string{
			"api":         key.APIID,
			"application": key.ApplicationID,
			"plan":        key.PlanID,
		})
	}

	return nil
}

// Reactivate brings a revoked or expired key back into service. The owning
// subscription must itself be in an active status; expiry realigns to the
// subscription's current ending date.
func (s *APIKeyService) Reactivate(ctx context.Context, execCtx ExecutionContext, keyValue, apiID string) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByKeyAndAPI(ctx, keyValue, apiID)
	if err != nil {
		return nil, technical("get api key", err)
	}
	if key == nil {
		return nil, &APIKeyNotFoundError{Key: keyValue, APIID: apiID}
	}

	now := s.now()
	if !key.Revoked && !key.ExpiredAt(now) {
		return nil, &APIKeyAlreadyActivatedError{KeyID: key.ID}
	}

	sub, err := s.subs.GetSubscriptionByID(ctx, key.SubscriptionID)
	if err != nil {
		return nil, technical("get subscription", err)
	}
	if sub == nil {
		return nil, &SubscriptionNotFoundError{SubscriptionID: key.SubscriptionID}
	}
	if sub.Status != models.SubscriptionStatusAccepted && sub.Status != models.SubscriptionStatusPaused {
		return nil, &SubscriptionNotActiveError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	previous := *key
	key.Revoked = false
	key.RevokedAt = nil
	key.ExpireAt = sub.EndingAt

	if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
		return nil, technical("update api key", err)
	}
	telemetry.APIKeysReactivatedTotal.Inc()

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditAPIKeyReactivated,
		APIID:         &key.APIID,
		ApplicationID: &key.ApplicationID,
		Properties:    map[string]string{"api_key": key.ID},
		PreviousState: &previous,
		NewState:      key,
	})

	return key, nil
}

// Renew issues a new key for the subscription and schedules every other
// still-valid key to expire after the grace period. Keys already expired are
// left untouched. The key set is re-read after the insert so a concurrent
// renewal's key is included in the grace pass.
func (s *APIKeyService) Renew(ctx context.Context, execCtx ExecutionContext, subscriptionID, customKey string) (*models.APIKey, error) {
	sub, err := s.subs.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, technical("get subscription", err)
	}
	if sub == nil {
		return nil, &SubscriptionNotFoundError{SubscriptionID: subscriptionID}
	}

	newKey, err := s.Generate(ctx, execCtx, sub, customKey)
	if err != nil {
		return nil, err
	}

	existing, err := s.keys.ListAPIKeysBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, technical("list subscription keys", err)
	}

	now := s.now()
	graceEnd := now.Add(s.grace)
	for _, key := range existing {
		if key.ID == newKey.ID || key.Revoked || key.ExpiredAt(now) {
			continue
		}
		key.ExpireAt = &graceEnd
		if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
			return nil, technical("update superseded key", err)
		}
	}

	telemetry.APIKeysIssuedTotal.WithLabelValues("renew").Inc()
	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditAPIKeyRenewed,
		APIID:         &newKey.APIID,
		ApplicationID: &newKey.ApplicationID,
		Properties:    map[string]string{"api_key": newKey.ID, "subscription": subscriptionID},
		NewState:      newKey,
	})
	s.notifier.Trigger(ctx, execCtx, HookAPIKeyRenewed, subscriptionID, map[string]string{
		"api":         newKey.APIID,
		"application": newKey.ApplicationID,
		"plan":        newKey.PlanID,
	})

	return newKey, nil
}

// Update applies the mutable fields of incoming to the stored key resolved by
// (key value, api). The incoming revoked flag is ignored; revocation has its
// own operation. When the resulting expiry is already past and the key is not
// revoked, an expiry event fires without setting revoked.
func (s *APIKeyService) Update(ctx context.Context, execCtx ExecutionContext, incoming *models.APIKey) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByKeyAndAPI(ctx, incoming.Key, incoming.APIID)
	if err != nil {
		return nil, technical("get api key", err)
	}
	if key == nil {
		return nil, &APIKeyNotFoundError{Key: incoming.Key, APIID: incoming.APIID}
	}

	previous := *key
	key.Paused = incoming.Paused
	key.ExpireAt = incoming.ExpireAt
	if incoming.PlanID != "" {
		key.PlanID = incoming.PlanID
	}

	if err := s.keys.UpdateAPIKey(ctx, key); err != nil {
		return nil, technical("update api key", err)
	}

	if !key.Revoked && key.ExpiredAt(s.now()) {
		telemetry.APIKeysExpiredTotal.Inc()
		s.audit.Record(ctx, execCtx, AuditEntry{
			Event:         AuditAPIKeyExpired,
			APIID:         &key.APIID,
			ApplicationID: &key.ApplicationID,
			Properties:    map[string]string{"api_key": key.ID},
			PreviousState: &previous,
			NewState:      key,
		})
		s.notifier.Trigger(ctx, execCtx, HookAPIKeyExpired, key.SubscriptionID, map[string]string{
			"api":         key.APIID,
			"application": key.ApplicationID,
			"plan":        key.PlanID,
		})
	}

	return key, nil
}

// CanCreate reports whether the key value may be bound to the api by the
// application. The same value on the same api under a different application
// is a conflict; the same application reusing the value across its other apis
// is the supported cross-api reuse case.
func (s *APIKeyService) CanCreate(ctx context.Context, keyValue, apiID, applicationID string) (bool, error) {
	existing, err := s.keys.ListAPIKeysByKey(ctx, keyValue)
	if err != nil {
		return false, technical("list keys by value", err)
	}
	for _, key := range existing {
		if key.Revoked {
			continue
		}
		if key.APIID == apiID && key.ApplicationID != applicationID {
			return false, nil
		}
	}
	return true, nil
}

// FindBySubscription returns the subscription's keys, most recent first.
func (s *APIKeyService) FindBySubscription(ctx context.Context, subscriptionID string) ([]*models.APIKey, error) {
	keys, err := s.keys.ListAPIKeysBySubscription(ctx, subscriptionID)
	if err != nil {
		return nil, technical("list subscription keys", err)
	}
	return keys, nil
}

// FindByKeyAndAPI resolves a key by its natural pair.
func (s *APIKeyService) FindByKeyAndAPI(ctx context.Context, keyValue, apiID string) (*models.APIKey, error) {
	key, err := s.keys.GetAPIKeyByKeyAndAPI(ctx, keyValue, apiID)
	if err != nil {
		return nil, technical("get api key", err)
	}
	if key == nil {
		return nil, &APIKeyNotFoundError{Key: keyValue, APIID: apiID}
	}
	return key, nil
}

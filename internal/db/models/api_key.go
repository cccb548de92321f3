package models

import "time"

// APIKey represents an opaque key bound to a subscription. Keys are never
// deleted; revocation and expiry are recorded as flags/timestamps so the
// history of a subscription's keys stays auditable.
//
// Revoked and a past ExpireAt are tracked independently: a key can be expired
// without being revoked (the expiry sweeper emits an event but does not flip
// Revoked), and only the revoke operation sets Revoked.
type APIKey struct {
	ID             string
	Key            string // opaque secret value
	ApplicationID  string
	APIID          string
	PlanID         string
	SubscriptionID string
	Revoked        bool
	Paused         bool
	ExpireAt       *time.Time
	RevokedAt      *time.Time
	// ExpiryNotifiedAt is set by the expiry sweeper once the APIKEY_EXPIRED
	// event has been emitted, so the event fires exactly once per key.
	ExpiryNotifiedAt *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ExpiredAt reports whether the key's expiry date has passed at the given instant.
func (k *APIKey) ExpiredAt(now time.Time) bool {
	return k.ExpireAt != nil && k.ExpireAt.Before(now)
}

// ActiveAt reports whether the key can authenticate traffic at the given
// instant: not revoked, not paused, and not expired.
func (k *APIKey) ActiveAt(now time.Time) bool {
	return !k.Revoked && !k.Paused && !k.ExpiredAt(now)
}

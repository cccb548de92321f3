package models

import "time"

// SubscriptionStatus is the lifecycle state of a subscription.
// REJECTED and CLOSED are terminal; a subscription never revisits PENDING.
type SubscriptionStatus string

const (
	SubscriptionStatusPending  SubscriptionStatus = "PENDING"
	SubscriptionStatusAccepted SubscriptionStatus = "ACCEPTED"
	SubscriptionStatusRejected SubscriptionStatus = "REJECTED"
	SubscriptionStatusPaused   SubscriptionStatus = "PAUSED"
	SubscriptionStatusClosed   SubscriptionStatus = "CLOSED"
)

// Subscription binds one application to one plan. APIID is denormalized from
// the plan at creation time and never changes afterwards.
type Subscription struct {
	ID            string
	PlanID        string
	ApplicationID string
	APIID         string
	Status        SubscriptionStatus
	// Request is the optional message the subscriber attached to the request.
	Request *string
	// Reason is the approver's message, set when the subscription is processed.
	Reason       *string
	SubscribedBy string
	ProcessedBy  *string
	ProcessedAt  *time.Time
	StartingAt   *time.Time
	EndingAt     *time.Time
	PausedAt     *time.Time
	ClosedAt     *time.Time
	// General-conditions acceptance recorded at create time.
	GeneralConditionsAccepted bool
	GeneralConditionsPageID   *string
	GeneralConditionsRevision *int
	CreatedAt                 time.Time
	UpdatedAt                 time.Time
}

// IsTerminal reports whether no further transition may be applied.
func (s SubscriptionStatus) IsTerminal() bool {
	return s == SubscriptionStatusRejected || s == SubscriptionStatusClosed
}

// notifier.go declares the best-effort side-effect contracts. Both are
// fire-and-forget: implementations log their own failures and never return an
// error, so a broken mail server or audit sink cannot roll back a domain
// mutation that has already committed.
package services

import "context"

// Notification hooks fired on lifecycle events.
const (
	HookSubscriptionAccepted    = "SUBSCRIPTION_ACCEPTED"
	HookSubscriptionRejected    = "SUBSCRIPTION_REJECTED"
	HookSubscriptionPaused      = "SUBSCRIPTION_PAUSED"
	HookSubscriptionResumed     = "SUBSCRIPTION_RESUMED"
	HookSubscriptionClosed      = "SUBSCRIPTION_CLOSED"
	HookSubscriptionTransferred = "SUBSCRIPTION_TRANSFERRED"
	HookAPIKeyRevoked           = "APIKEY_REVOKED"
	HookAPIKeyRenewed           = "APIKEY_RENEWED"
	HookAPIKeyReactivated       = "APIKEY_REACTIVATED"
	HookAPIKeyExpired           = "APIKEY_EXPIRED"
)

// Audit event kinds.
const (
	AuditSubscriptionCreated = "SUBSCRIPTION_CREATED"
	AuditSubscriptionUpdated = "SUBSCRIPTION_UPDATED"
	AuditSubscriptionPaused  = "SUBSCRIPTION_PAUSED"
	AuditSubscriptionResumed = "SUBSCRIPTION_RESUMED"
	AuditSubscriptionClosed  = "SUBSCRIPTION_CLOSED"
	AuditAPIKeyCreated       = "APIKEY_CREATED"
	AuditAPIKeyRevoked       = "APIKEY_REVOKED"
	AuditAPIKeyReactivated   = "APIKEY_REACTIVATED"
	AuditAPIKeyRenewed       = "APIKEY_RENEWED"
	AuditAPIKeyExpired       = "APIKEY_EXPIRED"
)

// Notifier dispatches lifecycle notifications to interested parties.
type Notifier interface {
	Trigger(ctx context.Context, execCtx ExecutionContext, hook, subjectID string, properties map[string]string)
}

// AuditEntry is one immutable audit fact.
type AuditEntry struct {
	Event         string
	APIID         *string
	ApplicationID *string
	Properties    map[string]string
	PreviousState interface{}
	NewState      interface{}
}

// AuditRecorder appends audit facts.
type AuditRecorder interface {
	Record(ctx context.Context, execCtx ExecutionContext, entry AuditEntry)
}

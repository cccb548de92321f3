// subscriptions.go implements SubscriptionService, the orchestrator of the
// subscription state machine. It validates plan policy, drives the
// PENDING/ACCEPTED/REJECTED/PAUSED/CLOSED transitions, and fans out to the
// key lifecycle for the cascading key effects. Subscription status is always
// committed before key side effects; a crash between the two leaves keys to
// be reconciled, never a subscription in a stale status.
package services

import (
	"context"
	"encoding/csv"
	"strings"
	"time"

	"github.com/apim-portal/apim-portal/internal/db/models"
	"github.com/apim-portal/apim-portal/internal/db/repositories"
	"github.com/apim-portal/apim-portal/internal/telemetry"
)

// SystemValidator is recorded as the processor when auto-validation accepts a
// subscription without a human approver.
const SystemValidator = "system"

// KeyLifecycle is the slice of the API key service the subscription
// orchestrator drives.
type KeyLifecycle interface {
	Generate(ctx context.Context, execCtx ExecutionContext, sub *models.Subscription, customKey string) (*models.APIKey, error)
	FindBySubscription(ctx context.Context, subscriptionID string) ([]*models.APIKey, error)
	RevokeByID(ctx context.Context, execCtx ExecutionContext, keyID string, notify bool) (*models.APIKey, error)
	Update(ctx context.Context, execCtx ExecutionContext, incoming *models.APIKey) (*models.APIKey, error)
}

// SubscriptionService handles subscription lifecycle operations.
type SubscriptionService struct {
	subs     SubscriptionStore
	plans    PlanReader
	apps     ApplicationReader
	pages    PageReader
	policy   *PlanPolicyResolver
	keys     KeyLifecycle
	notifier Notifier
	audit    AuditRecorder
	now      Clock
}

// NewSubscriptionService creates a new SubscriptionService. A nil clock falls
// back to time.Now.
func NewSubscriptionService(
	subs SubscriptionStore,
	plans PlanReader,
	apps ApplicationReader,
	pages PageReader,
	policy *PlanPolicyResolver,
	keys KeyLifecycle,
	notifier Notifier,
	audit AuditRecorder,
	now Clock,
) *SubscriptionService {
	if now == nil {
		now = time.Now
	}
	return &SubscriptionService{
		subs:     subs,
		plans:    plans,
		apps:     apps,
		pages:    pages,
		policy:   policy,
		keys:     keys,
		notifier: notifier,
		audit:    audit,
		now:      now,
	}
}

// NewSubscriptionInput carries a subscription request.
type NewSubscriptionInput struct {
	PlanID        string
	ApplicationID string
	Request       string

	GeneralConditionsAccepted bool
	GeneralConditionsPageID   *string
	GeneralConditionsRevision *int

	// CustomAPIKey is honored only when auto-validation accepts the
	// subscription on an API key plan.
	CustomAPIKey string
}

// ProcessSubscriptionInput carries an accept or reject decision on a pending
// subscription.
type ProcessSubscriptionInput struct {
	SubscriptionID string
	Accepted       bool
	ProcessedBy    string
	Reason         string
	StartingAt     *time.Time
	EndingAt       *time.Time
	CustomAPIKey   string
}

// Create validates plan policy and records a new subscription. Manual plans
// leave it PENDING; auto plans route it straight through Process under the
// system validator.
func (s *SubscriptionService) Create(ctx context.Context, execCtx ExecutionContext, input NewSubscriptionInput, requester Requester) (*models.Subscription, error) {
	plan, err := s.plans.GetPlanByID(ctx, input.PlanID)
	if err != nil {
		return nil, technical("get plan", err)
	}
	if plan == nil {
		return nil, &PlanNotFoundError{PlanID: input.PlanID}
	}

	if err := s.checkGeneralConditions(ctx, plan, input); err != nil {
		return nil, err
	}

	app, err := s.apps.GetApplicationByID(ctx, input.ApplicationID)
	if err != nil {
		return nil, technical("get application", err)
	}
	if app == nil {
		return nil, &ApplicationNotFoundError{ApplicationID: input.ApplicationID}
	}
	if app.Status == models.ApplicationStatusArchived {
		return nil, &ApplicationArchivedError{ApplicationID: app.ID}
	}

	if err := s.policy.CanSubscribe(ctx, plan, app, requester); err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		PlanID:                    plan.ID,
		ApplicationID:             app.ID,
		APIID:                     plan.APIID,
		Status:                    models.SubscriptionStatusPending,
		SubscribedBy:              requester.UserID,
		GeneralConditionsAccepted: input.GeneralConditionsAccepted,
		GeneralConditionsPageID:   input.GeneralConditionsPageID,
		GeneralConditionsRevision: input.GeneralConditionsRevision,
	}
	if input.Request != "" {
		sub.Request = &input.Request
	}

	if err := s.subs.CreateSubscription(ctx, sub); err != nil {
		return nil, technical("create subscription", err)
	}

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditSubscriptionCreated,
		APIID:         &sub.APIID,
		ApplicationID: &sub.ApplicationID,
		Properties:    map[string]string{"subscription": sub.ID, "plan": sub.PlanID},
		NewState:      sub,
	})

	if plan.Validation == models.PlanValidationAuto {
		return s.Process(ctx, execCtx, ProcessSubscriptionInput{
			SubscriptionID: sub.ID,
			Accepted:       true,
			ProcessedBy:    SystemValidator,
			CustomAPIKey:   input.CustomAPIKey,
		})
	}

	return sub, nil
}

func (s *SubscriptionService) checkGeneralConditions(ctx context.Context, plan *models.Plan, input NewSubscriptionInput) error {
	if plan.GeneralConditionsPageID == nil {
		return nil
	}
	if !input.GeneralConditionsAccepted {
		return &PlanGeneralConditionAcceptedError{PlanID: plan.ID}
	}
	if input.GeneralConditionsPageID == nil || *input.GeneralConditionsPageID != *plan.GeneralConditionsPageID {
		return &PlanGeneralConditionRevisionError{PlanID: plan.ID}
	}

	page, err := s.pages.GetPageByID(ctx, *plan.GeneralConditionsPageID)
	if err != nil {
		return technical("get general conditions page", err)
	}
	// Only the currently published revision can be accepted; a missing or
	// unpublished page means there is nothing valid to accept.
	if page == nil || !page.Published {
		return &PlanGeneralConditionRevisionError{PlanID: plan.ID}
	}
	if input.GeneralConditionsRevision == nil || *input.GeneralConditionsRevision != page.Revision {
		return &PlanGeneralConditionRevisionError{PlanID: plan.ID}
	}
	return nil
}

// Process accepts or rejects a pending subscription. Accepting an API key
// plan subscription provisions a key after the status commit.
func (s *SubscriptionService) Process(ctx context.Context, execCtx ExecutionContext, input ProcessSubscriptionInput) (*models.Subscription, error) {
	sub, err := s.getSubscription(ctx, input.SubscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusPending {
		return nil, &SubscriptionNotUpdatableError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	previous := *sub
	now := s.now()
	sub.ProcessedBy = &input.ProcessedBy
	sub.ProcessedAt = &now

	if input.Accepted {
		sub.Status = models.SubscriptionStatusAccepted
		if input.StartingAt != nil {
			sub.StartingAt = input.StartingAt
		} else {
			sub.StartingAt = &now
		}
		sub.EndingAt = input.EndingAt
	} else {
		sub.Status = models.SubscriptionStatusRejected
		if input.Reason != "" {
			sub.Reason = &input.Reason
		}
	}

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, technical("update subscription", err)
	}
	telemetry.SubscriptionTransitionsTotal.WithLabelValues(string(previous.Status), string(sub.Status)).Inc()

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditSubscriptionUpdated,
		APIID:         &sub.APIID,
		ApplicationID: &sub.ApplicationID,
		Properties:    map[string]string{"subscription": sub.ID, "status": string(sub.Status)},
		PreviousState: &previous,
		NewState:      sub,
	})

	if !input.Accepted {
		s.notifier.Trigger(ctx, execCtx, HookSubscriptionRejected, sub.ID, s.subscriptionProperties(sub))
		return sub, nil
	}

	plan, err := s.plans.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, technical("get plan", err)
	}
	if plan != nil {
		policy, policyErr := PolicyFor(plan.Security)
		if policyErr == nil && policy.RequiresKey() {
			if _, err := s.keys.Generate(ctx, execCtx, sub, input.CustomAPIKey); err != nil {
				return nil, err
			}
			telemetry.APIKeysIssuedTotal.WithLabelValues("provision").Inc()
		}
	}

	s.notifier.Trigger(ctx, execCtx, HookSubscriptionAccepted, sub.ID, s.subscriptionProperties(sub))

	return sub, nil
}

// UpdateEndingDate changes when an accepted or paused subscription ends and
// caps every live key's expiry to the new date. Expiry is only lowered; a
// later ending date never extends a key past what it already had.
func (s *SubscriptionService) UpdateEndingDate(ctx context.Context, execCtx ExecutionContext, subscriptionID string, endingAt *time.Time) (*models.Subscription, error) {
	sub, err := s.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusAccepted && sub.Status != models.SubscriptionStatusPaused {
		return nil, &SubscriptionNotUpdatableError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	previous := *sub
	sub.EndingAt = endingAt

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, technical("update subscription", err)
	}

	if endingAt != nil {
		keys, err := s.keys.FindBySubscription(ctx, sub.ID)
		if err != nil {
			return nil, err
		}
		now := s.now()
		for _, key := range keys {
			if key.Revoked || key.ExpiredAt(now) {
				continue
			}
			if key.ExpireAt == nil || key.ExpireAt.After(*endingAt) {
				key.ExpireAt = endingAt
				if _, err := s.keys.Update(ctx, execCtx, key); err != nil {
					return nil, err
				}
			}
		}
	}

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditSubscriptionUpdated,
		APIID:         &sub.APIID,
		ApplicationID: &sub.ApplicationID,
		Properties:    map[string]string{"subscription": sub.ID},
		PreviousState: &previous,
		NewState:      sub,
	})

	return sub, nil
}

// Pause suspends an accepted subscription and marks its live keys paused.
func (s *SubscriptionService) Pause(ctx context.Context, execCtx ExecutionContext, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusAccepted {
		return nil, &SubscriptionNotUpdatableError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	previous := *sub
	now := s.now()
	sub.Status = models.SubscriptionStatusPaused
	sub.PausedAt = &now

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, technical("update subscription", err)
	}
	telemetry.SubscriptionTransitionsTotal.WithLabelValues(string(previous.Status), string(sub.Status)).Inc()

	if err := s.setKeysPaused(ctx, execCtx, sub.ID, true); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditSubscriptionPaused,
		APIID:         &sub.APIID,
		ApplicationID: &sub.ApplicationID,
		Properties:    map[string]string{"subscription": sub.ID},
		PreviousState: &previous,
		NewState:      sub,
	})
	s.notifier.Trigger(ctx, execCtx, HookSubscriptionPaused, sub.ID, s.subscriptionProperties(sub))

	return sub, nil
}

// Resume reactivates a paused subscription and unpauses its live keys.
func (s *SubscriptionService) Resume(ctx context.Context, execCtx ExecutionContext, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusPaused {
		return nil, &SubscriptionNotUpdatableError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	previous := *sub
	sub.Status = models.SubscriptionStatusAccepted
	sub.PausedAt = nil

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, technical("update subscription", err)
	}
	telemetry.SubscriptionTransitionsTotal.WithLabelValues(string(previous.Status), string(sub.Status)).Inc()

	if err := s.setKeysPaused(ctx, execCtx, sub.ID, false); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditSubscriptionResumed,
		APIID:         &sub.APIID,
		ApplicationID: &sub.ApplicationID,
		Properties:    map[string]string{"subscription": sub.ID},
		PreviousState: &previous,
		NewState:      sub,
	})
	s.notifier.Trigger(ctx, execCtx, HookSubscriptionResumed, sub.ID, s.subscriptionProperties(sub))

	return sub, nil
}

func (s *SubscriptionService) setKeysPaused(ctx context.Context, execCtx ExecutionContext, subscriptionID string, paused bool) error {
	keys, err := s.keys.FindBySubscription(ctx, subscriptionID)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if key.Revoked {
			continue
		}
		key.Paused = paused
		if _, err := s.keys.Update(ctx, execCtx, key); err != nil {
			return err
		}
	}
	return nil
}

// Close terminates an accepted or paused subscription and revokes its live
// keys. Closing a subscription still PENDING rejects it instead; terminal
// subscriptions cannot be closed again.
func (s *SubscriptionService) Close(ctx context.Context, execCtx ExecutionContext, subscriptionID, closedBy string) (*models.Subscription, error) {
	sub, err := s.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}

	if sub.Status == models.SubscriptionStatusPending {
		return s.Process(ctx, execCtx, ProcessSubscriptionInput{
			SubscriptionID: sub.ID,
			Accepted:       false,
			ProcessedBy:    closedBy,
			Reason:         "Subscription has been closed.",
		})
	}
	if sub.Status != models.SubscriptionStatusAccepted && sub.Status != models.SubscriptionStatusPaused {
		return nil, &SubscriptionNotUpdatableError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	previous := *sub
	now := s.now()
	sub.Status = models.SubscriptionStatusClosed
	sub.ClosedAt = &now
	sub.PausedAt = nil

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, technical("update subscription", err)
	}
	telemetry.SubscriptionTransitionsTotal.WithLabelValues(string(previous.Status), string(sub.Status)).Inc()

	keys, err := s.keys.FindBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key.Revoked || key.ExpiredAt(now) {
			continue
		}
		if _, err := s.keys.RevokeByID(ctx, execCtx, key.ID, true); err != nil {
			return nil, err
		}
	}

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditSubscriptionClosed,
		APIID:         &sub.APIID,
		ApplicationID: &sub.ApplicationID,
		Properties:    map[string]string{"subscription": sub.ID},
		PreviousState: &previous,
		NewState:      sub,
	})
	s.notifier.Trigger(ctx, execCtx, HookSubscriptionClosed, sub.ID, s.subscriptionProperties(sub))

	return sub, nil
}

// Transfer rebinds an accepted subscription, and its keys, to another plan of
// the same API. The target must be published, share the security type, and
// carry no general conditions; the application binding never changes.
func (s *SubscriptionService) Transfer(ctx context.Context, execCtx ExecutionContext, subscriptionID, targetPlanID string) (*models.Subscription, error) {
	sub, err := s.getSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if sub.Status != models.SubscriptionStatusAccepted {
		return nil, &SubscriptionNotUpdatableError{SubscriptionID: sub.ID, Status: string(sub.Status)}
	}

	current, err := s.plans.GetPlanByID(ctx, sub.PlanID)
	if err != nil {
		return nil, technical("get plan", err)
	}
	target, err := s.plans.GetPlanByID(ctx, targetPlanID)
	if err != nil {
		return nil, technical("get plan", err)
	}
	if target == nil {
		return nil, &PlanNotFoundError{PlanID: targetPlanID}
	}
	if target.Status != models.PlanStatusPublished {
		return nil, &PlanNotSubscribableError{PlanID: target.ID, Reason: "transfer target must be a published plan"}
	}
	if target.APIID != sub.APIID {
		return nil, &PlanNotSubscribableError{PlanID: target.ID, Reason: "transfer target belongs to another api"}
	}
	if current != nil && target.Security != current.Security {
		return nil, &PlanNotSubscribableError{PlanID: target.ID, Reason: "transfer target has a different security type"}
	}
	if target.GeneralConditionsPageID != nil {
		return nil, &PlanNotSubscribableError{PlanID: target.ID, Reason: "transfer target requires general conditions"}
	}

	previous := *sub
	sub.PlanID = target.ID

	if err := s.subs.UpdateSubscription(ctx, sub); err != nil {
		return nil, technical("update subscription", err)
	}

	keys, err := s.keys.FindBySubscription(ctx, sub.ID)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		if key.Revoked {
			continue
		}
		key.PlanID = target.ID
		if _, err := s.keys.Update(ctx, execCtx, key); err != nil {
			return nil, err
		}
	}

	s.audit.Record(ctx, execCtx, AuditEntry{
		Event:         AuditSubscriptionUpdated,
		APIID:         &sub.APIID,
		ApplicationID: &sub.ApplicationID,
		Properties:    map[string]string{"subscription": sub.ID, "plan": target.ID},
		PreviousState: &previous,
		NewState:      sub,
	})
	s.notifier.Trigger(ctx, execCtx, HookSubscriptionTransferred, sub.ID, s.subscriptionProperties(sub))

	return sub, nil
}

// FindByID retrieves a subscription.
func (s *SubscriptionService) FindByID(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	return s.getSubscription(ctx, subscriptionID)
}

// Search returns subscriptions matching the filters, most recent first.
func (s *SubscriptionService) Search(ctx context.Context, filters repositories.SubscriptionFilters) ([]*models.Subscription, error) {
	subs, err := s.subs.Search(ctx, filters)
	if err != nil {
		return nil, technical("search subscriptions", err)
	}
	return subs, nil
}

// ExportCSV renders subscriptions matching the filters as CSV for reporting.
func (s *SubscriptionService) ExportCSV(ctx context.Context, filters repositories.SubscriptionFilters) (string, error) {
	subs, err := s.Search(ctx, filters)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	w := csv.NewWriter(&sb)
	_ = w.Write([]string{"id", "plan", "application", "api", "status", "subscribed_by", "processed_by", "starting_at", "ending_at", "created_at"})
	for _, sub := range subs {
		_ = w.Write([]string{
			sub.ID,
			sub.PlanID,
			sub.ApplicationID,
			sub.APIID,
			string(sub.Status),
			sub.SubscribedBy,
			derefString(sub.ProcessedBy),
			formatTime(sub.StartingAt),
			formatTime(sub.EndingAt),
			sub.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", technical("write csv", err)
	}
	return sb.String(), nil
}

func (s *SubscriptionService) getSubscription(ctx context.Context, subscriptionID string) (*models.Subscription, error) {
	sub, err := s.subs.GetSubscriptionByID(ctx, subscriptionID)
	if err != nil {
		return nil, technical("get subscription", err)
	}
	if sub == nil {
		return nil, &SubscriptionNotFoundError{SubscriptionID: subscriptionID}
	}
	return sub, nil
}

func (s *SubscriptionService) subscriptionProperties(sub *models.Subscription) map[string]string {
	return map[string]string{
		"api":         sub.APIID,
		"application": sub.ApplicationID,
		"plan":        sub.PlanID,
		"subscriber":  sub.SubscribedBy,
	}
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

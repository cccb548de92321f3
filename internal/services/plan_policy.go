// plan_policy.go implements the rules deciding whether an application may
// subscribe to a plan. Each security type carries its own validation behavior
// as a SecurityPolicy variant so the resolver dispatches without enum
// branching scattered across the engine.
package services

import (
	"context"
	"fmt"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// SecurityPolicy captures the subscription behavior of one plan security
// type. The variant set is closed; PolicyFor is the only constructor.
type SecurityPolicy interface {
	// Subscribable reports whether the plan accepts explicit subscriptions
	// at all. Keyless plans do not.
	Subscribable() bool
	// RequiresClientID reports whether the target application must carry an
	// OAuth client id.
	RequiresClientID() bool
	// SingleBinding reports whether at most one active subscription may
	// exist per (application, plan) pair.
	SingleBinding() bool
	// RequiresKey reports whether accepting a subscription provisions an
	// API key.
	RequiresKey() bool

	securityPolicy()
}

type apiKeyPolicy struct{}
type oauth2Policy struct{}
type jwtPolicy struct{}
type keyLessPolicy struct{}

func (apiKeyPolicy) Subscribable() bool     { return true }
func (apiKeyPolicy) RequiresClientID() bool { return false }
func (apiKeyPolicy) SingleBinding() bool    { return false }
func (apiKeyPolicy) RequiresKey() bool      { return true }
func (apiKeyPolicy) securityPolicy()        {}

func (oauth2Policy) Subscribable() bool     { return true }
func (oauth2Policy) RequiresClientID() bool { return true }
func (oauth2Policy) SingleBinding() bool    { return true }
func (oauth2Policy) RequiresKey() bool      { return false }
func (oauth2Policy) securityPolicy()        {}

func (jwtPolicy) Subscribable() bool     { return true }
func (jwtPolicy) RequiresClientID() bool { return true }
func (jwtPolicy) SingleBinding() bool    { return true }
func (jwtPolicy) RequiresKey() bool      { return false }
func (jwtPolicy) securityPolicy()        {}

func (keyLessPolicy) Subscribable() bool     { return false }
func (keyLessPolicy) RequiresClientID() bool { return false }
func (keyLessPolicy) SingleBinding() bool    { return false }
func (keyLessPolicy) RequiresKey() bool      { return false }
func (keyLessPolicy) securityPolicy()        {}

// PolicyFor maps a plan security type to its SecurityPolicy variant.
func PolicyFor(security models.PlanSecurity) (SecurityPolicy, error) {
	switch security {
	case models.PlanSecurityAPIKey:
		return apiKeyPolicy{}, nil
	case models.PlanSecurityOAuth2:
		return oauth2Policy{}, nil
	case models.PlanSecurityJWT:
		return jwtPolicy{}, nil
	case models.PlanSecurityKeyLess:
		return keyLessPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown plan security type %q", security)
	}
}

// Requester identifies who is asking to subscribe. AdminOverride bypasses
// group restrictions for environment administrators.
type Requester struct {
	UserID        string
	AdminOverride bool
}

// PlanPolicyResolver validates that a plan permits a new subscription from a
// given application and requester.
type PlanPolicyResolver struct {
	subs   SubscriptionStore
	groups GroupMembership
}

// NewPlanPolicyResolver creates a new PlanPolicyResolver.
func NewPlanPolicyResolver(subs SubscriptionStore, groups GroupMembership) *PlanPolicyResolver {
	return &PlanPolicyResolver{subs: subs, groups: groups}
}

// CanSubscribe returns nil when the plan accepts a subscription from the
// application on behalf of the requester, or a typed policy denial.
func (r *PlanPolicyResolver) CanSubscribe(ctx context.Context, plan *models.Plan, app *models.Application, requester Requester) error {
	switch plan.Status {
	case models.PlanStatusStaging:
		return &PlanNotYetPublishedError{PlanID: plan.ID}
	case models.PlanStatusClosed:
		return &PlanAlreadyClosedError{PlanID: plan.ID}
	case models.PlanStatusDeprecated:
		return &PlanNotSubscribableError{PlanID: plan.ID, Reason: "plan is deprecated"}
	}

	policy, err := PolicyFor(plan.Security)
	if err != nil {
		return technical("resolve security policy", err)
	}

	if !policy.Subscribable() {
		return &PlanNotSubscribableError{PlanID: plan.ID, Reason: "keyless plans do not accept subscriptions"}
	}
	if policy.RequiresClientID() && (app.OAuthClientID == nil || *app.OAuthClientID == "") {
		return &PlanNotSubscribableError{PlanID: plan.ID, Reason: "application has no OAuth client id"}
	}

	if len(plan.ExcludedGroups) > 0 && !requester.AdminOverride {
		groups, err := r.groups.GroupsOf(ctx, requester.UserID)
		if err != nil {
			return technical("resolve requester groups", err)
		}
		excluded := make(map[string]struct{}, len(plan.ExcludedGroups))
		for _, g := range plan.ExcludedGroups {
			excluded[g] = struct{}{}
		}
		for _, g := range groups {
			if _, ok := excluded[g]; ok {
				return &PlanRestrictedError{PlanID: plan.ID}
			}
		}
	}

	if policy.SingleBinding() {
		existing, err := r.subs.ListByApplicationAndAPI(ctx, app.ID, plan.APIID)
		if err != nil {
			return technical("list existing subscriptions", err)
		}
		for _, sub := range existing {
			if sub.PlanID == plan.ID && !sub.Status.IsTerminal() {
				return &PlanNotSubscribableError{PlanID: plan.ID, Reason: "an active subscription already exists for this application"}
			}
		}
	}

	return nil
}

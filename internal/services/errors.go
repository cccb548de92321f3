// errors.go defines the typed domain failures raised by the subscription and
// API key services. Handlers map each family to a distinct HTTP status; only
// TechnicalError is retryable.
package services

import "fmt"

// Marker interfaces group errors into families. The API layer switches on the
// family, not on individual types.
type notFoundError interface{ NotFound() }
type invalidStateError interface{ InvalidState() }
type policyViolationError interface{ PolicyViolation() }
type conflictError interface{ Conflict() }

// IsNotFound reports whether err belongs to the not-found family.
func IsNotFound(err error) bool {
	_, ok := err.(notFoundError)
	return ok
}

// IsInvalidState reports whether err is an illegal state transition.
func IsInvalidState(err error) bool {
	_, ok := err.(invalidStateError)
	return ok
}

// IsPolicyViolation reports whether err is a plan policy denial.
func IsPolicyViolation(err error) bool {
	_, ok := err.(policyViolationError)
	return ok
}

// IsConflict reports whether err is a uniqueness conflict.
func IsConflict(err error) bool {
	_, ok := err.(conflictError)
	return ok
}

// PlanNotFoundError indicates the referenced plan does not exist.
type PlanNotFoundError struct {
	PlanID string
}

func (e *PlanNotFoundError) Error() string { return fmt.Sprintf("plan %s not found", e.PlanID) }
func (e *PlanNotFoundError) NotFound()     {}

// ApplicationNotFoundError indicates the referenced application does not exist.
type ApplicationNotFoundError struct {
	ApplicationID string
}

func (e *ApplicationNotFoundError) Error() string {
	return fmt.Sprintf("application %s not found", e.ApplicationID)
}
func (e *ApplicationNotFoundError) NotFound() {}

// ApplicationArchivedError denies subscription from an archived application.
type ApplicationArchivedError struct {
	ApplicationID string
}

func (e *ApplicationArchivedError) Error() string {
	return fmt.Sprintf("application %s is archived and cannot subscribe", e.ApplicationID)
}
func (e *ApplicationArchivedError) PolicyViolation() {}

// SubscriptionNotFoundError indicates the referenced subscription does not exist.
type SubscriptionNotFoundError struct {
	SubscriptionID string
}

func (e *SubscriptionNotFoundError) Error() string {
	return fmt.Sprintf("subscription %s not found", e.SubscriptionID)
}
func (e *SubscriptionNotFoundError) NotFound() {}

// APIKeyNotFoundError indicates no key matched the given id or (key, api) pair.
type APIKeyNotFoundError struct {
	Key   string
	APIID string
}

func (e *APIKeyNotFoundError) Error() string {
	if e.APIID != "" {
		return fmt.Sprintf("api key %s not found for api %s", e.Key, e.APIID)
	}
	return fmt.Sprintf("api key %s not found", e.Key)
}
func (e *APIKeyNotFoundError) NotFound() {}

// SubscriptionNotUpdatableError indicates the requested transition is not
// legal from the subscription's current status.
type SubscriptionNotUpdatableError struct {
	SubscriptionID string
	Status         string
}

func (e *SubscriptionNotUpdatableError) Error() string {
	return fmt.Sprintf("subscription %s cannot be updated from status %s", e.SubscriptionID, e.Status)
}
func (e *SubscriptionNotUpdatableError) InvalidState() {}

// SubscriptionNotActiveError indicates a key operation requires the owning
// subscription to be in an active status.
type SubscriptionNotActiveError struct {
	SubscriptionID string
	Status         string
}

func (e *SubscriptionNotActiveError) Error() string {
	return fmt.Sprintf("subscription %s is not active (status %s)", e.SubscriptionID, e.Status)
}
func (e *SubscriptionNotActiveError) InvalidState() {}

// APIKeyAlreadyExpiredError indicates the key is already revoked or past its
// expiry date.
type APIKeyAlreadyExpiredError struct {
	KeyID string
}

func (e *APIKeyAlreadyExpiredError) Error() string {
	return fmt.Sprintf("api key %s is already revoked or expired", e.KeyID)
}
func (e *APIKeyAlreadyExpiredError) InvalidState() {}

// APIKeyAlreadyActivatedError indicates a reactivation target is neither
// revoked nor expired.
type APIKeyAlreadyActivatedError struct {
	KeyID string
}

func (e *APIKeyAlreadyActivatedError) Error() string {
	return fmt.Sprintf("api key %s is already active", e.KeyID)
}
func (e *APIKeyAlreadyActivatedError) InvalidState() {}

// PlanNotYetPublishedError denies subscription to a STAGING plan.
type PlanNotYetPublishedError struct {
	PlanID string
}

func (e *PlanNotYetPublishedError) Error() string {
	return fmt.Sprintf("plan %s is not yet published", e.PlanID)
}
func (e *PlanNotYetPublishedError) PolicyViolation() {}

// PlanAlreadyClosedError denies subscription to a CLOSED plan.
type PlanAlreadyClosedError struct {
	PlanID string
}

func (e *PlanAlreadyClosedError) Error() string {
	return fmt.Sprintf("plan %s is already closed", e.PlanID)
}
func (e *PlanAlreadyClosedError) PolicyViolation() {}

// PlanNotSubscribableError denies subscription for a reason other than plan
// status: deprecated plan, keyless security, missing OAuth client, or an
// existing subscription on a single-binding plan.
type PlanNotSubscribableError struct {
	PlanID string
	Reason string
}

func (e *PlanNotSubscribableError) Error() string {
	return fmt.Sprintf("plan %s is not subscribable: %s", e.PlanID, e.Reason)
}
func (e *PlanNotSubscribableError) PolicyViolation() {}

// PlanRestrictedError denies subscription because the requester belongs to a
// group the plan excludes.
type PlanRestrictedError struct {
	PlanID string
}

func (e *PlanRestrictedError) Error() string {
	return fmt.Sprintf("plan %s is restricted for this user", e.PlanID)
}
func (e *PlanRestrictedError) PolicyViolation() {}

// PlanGeneralConditionAcceptedError indicates the plan requires accepting
// general conditions and the request did not accept them.
type PlanGeneralConditionAcceptedError struct {
	PlanID string
}

func (e *PlanGeneralConditionAcceptedError) Error() string {
	return fmt.Sprintf("plan %s requires accepting its general conditions", e.PlanID)
}
func (e *PlanGeneralConditionAcceptedError) PolicyViolation() {}

// PlanGeneralConditionRevisionError indicates the accepted general conditions
// page or revision does not match the currently published one.
type PlanGeneralConditionRevisionError struct {
	PlanID string
}

func (e *PlanGeneralConditionRevisionError) Error() string {
	return fmt.Sprintf("accepted general conditions are out of date for plan %s", e.PlanID)
}
func (e *PlanGeneralConditionRevisionError) PolicyViolation() {}

// APIKeyAlreadyExistingError indicates the key value is already bound to the
// same API by another application.
type APIKeyAlreadyExistingError struct {
	APIID string
}

func (e *APIKeyAlreadyExistingError) Error() string {
	return fmt.Sprintf("api key value is already in use for api %s", e.APIID)
}
func (e *APIKeyAlreadyExistingError) Conflict() {}

// TechnicalError wraps a repository or storage fault. Unlike the domain
// errors it is retryable at the HTTP layer.
type TechnicalError struct {
	Op  string
	Err error
}

func (e *TechnicalError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *TechnicalError) Unwrap() error { return e.Err }

func technical(op string, err error) error {
	return &TechnicalError{Op: op, Err: err}
}

// Package models defines the database model types for the gateway management backend.
// Each type corresponds to a database table. Models are pure data types — business
// logic belongs in the service layer, query logic belongs in the repositories layer.
package models

import "time"

// PlanStatus is the publication state of a plan.
type PlanStatus string

const (
	PlanStatusStaging    PlanStatus = "STAGING"
	PlanStatusPublished  PlanStatus = "PUBLISHED"
	PlanStatusDeprecated PlanStatus = "DEPRECATED"
	PlanStatusClosed     PlanStatus = "CLOSED"
)

// PlanSecurity is how consumers of a plan authenticate against the gateway.
type PlanSecurity string

const (
	PlanSecurityAPIKey  PlanSecurity = "API_KEY"
	PlanSecurityOAuth2  PlanSecurity = "OAUTH2"
	PlanSecurityJWT     PlanSecurity = "JWT"
	PlanSecurityKeyLess PlanSecurity = "KEY_LESS"
)

// PlanValidation controls whether subscription requests need manual approval.
type PlanValidation string

const (
	PlanValidationAuto   PlanValidation = "AUTO"
	PlanValidationManual PlanValidation = "MANUAL"
)

// Plan represents a published consumption plan for an API.
type Plan struct {
	ID         string
	APIID      string
	Name       string
	Status     PlanStatus
	Security   PlanSecurity
	Validation PlanValidation
	// ExcludedGroups lists group IDs that may not subscribe (JSONB array).
	ExcludedGroups []string
	// GeneralConditionsPageID, when set, points at the page whose currently
	// published revision a subscriber must accept at create time.
	GeneralConditionsPageID *string
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

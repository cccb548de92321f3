// context.go defines ExecutionContext, the organization/environment scope
// every engine call runs under. It is passed explicitly; there is no ambient
// process-wide current-environment state.
package services

// ExecutionContext scopes an engine operation to one organization and
// environment. Audit entries and notifications carry both ids.
type ExecutionContext struct {
	OrganizationID string
	EnvironmentID  string
}

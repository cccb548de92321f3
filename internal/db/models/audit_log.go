package models

import "time"

// AuditLog is an immutable audit fact. PreviousState/NewState hold JSON
// snapshots of the mutated entity before and after the operation.
type AuditLog struct {
	ID             string
	OrganizationID string
	EnvironmentID  string
	APIID          *string
	ApplicationID  *string
	Event          string
	Properties     map[string]string
	PreviousState  []byte
	NewState       []byte
	CreatedAt      time.Time
}

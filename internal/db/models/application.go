package models

import "time"

// Application represents a consumer application that subscribes to plans.
type Application struct {
	ID   string
	Name string
	// OAuthClientID is required before the application may subscribe to an
	// OAUTH2 or JWT plan.
	OAuthClientID *string
	Status        string // ACTIVE or ARCHIVED
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

const (
	ApplicationStatusActive   = "ACTIVE"
	ApplicationStatusArchived = "ARCHIVED"
)

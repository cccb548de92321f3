package models

import "time"

// AccessToken is a personal access token for the management API. Only the
// bcrypt hash of the full token is stored; the prefix is kept for display.
type AccessToken struct {
	ID          string
	UserID      string
	Name        string
	TokenHash   string
	TokenPrefix string
	Admin       bool
	ExpiresAt   *time.Time
	LastUsedAt  *time.Time
	CreatedAt   time.Time
}

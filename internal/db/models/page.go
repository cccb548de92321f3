package models

import "time"

// Page represents a portal content page. For general-conditions pages the
// Revision column advances each time the content is republished; subscribers
// must accept the currently published revision.
type Page struct {
	ID        string
	Name      string
	Revision  int
	Published bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

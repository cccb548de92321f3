// page_repository.go implements PageRepository, used by the subscription engine to
// resolve the currently published revision of a plan's general-conditions page.
package repositories

import (
	"context"
	"database/sql"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// PageRepository handles portal page database operations
type PageRepository struct {
	db *sql.DB
}

// NewPageRepository creates a new PageRepository
func NewPageRepository(db *sql.DB) *PageRepository {
	return &PageRepository{db: db}
}

// GetPageByID retrieves a page by ID. Returns (nil, nil) when absent.
func (r *PageRepository) GetPageByID(ctx context.Context, pageID string) (*models.Page, error) {
	query := `
		SELECT id, name, revision, published, created_at, updated_at
		FROM pages
		WHERE id = $1
	`

	page := &models.Page{}
	err := r.db.QueryRowContext(ctx, query, pageID).Scan(
		&page.ID,
		&page.Name,
		&page.Revision,
		&page.Published,
		&page.CreatedAt,
		&page.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return page, nil
}

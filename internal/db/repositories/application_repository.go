// application_repository.go implements ApplicationRepository, providing read access
// to consumer applications for subscription eligibility checks.
package repositories

import (
	"context"
	"database/sql"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// ApplicationRepository handles application database operations
type ApplicationRepository struct {
	db *sql.DB
}

// NewApplicationRepository creates a new ApplicationRepository
func NewApplicationRepository(db *sql.DB) *ApplicationRepository {
	return &ApplicationRepository{db: db}
}

// GetApplicationByID retrieves an application by ID. Returns (nil, nil) when absent.
func (r *ApplicationRepository) GetApplicationByID(ctx context.Context, appID string) (*models.Application, error) {
	query := `
		SELECT id, name, oauth_client_id, status, created_at, updated_at
		FROM applications
		WHERE id = $1
	`

	app := &models.Application{}
	err := r.db.QueryRowContext(ctx, query, appID).Scan(
		&app.ID,
		&app.Name,
		&app.OAuthClientID,
		&app.Status,
		&app.CreatedAt,
		&app.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	return app, nil
}

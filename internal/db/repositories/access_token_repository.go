// access_token_repository.go implements AccessTokenRepository, used by the auth
// middleware to resolve personal access tokens presented on management API calls.
package repositories

import (
	"context"
	"database/sql"
	"time"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// AccessTokenRepository handles personal access token database operations
type AccessTokenRepository struct {
	db *sql.DB
}

// NewAccessTokenRepository creates a new AccessTokenRepository
func NewAccessTokenRepository(db *sql.DB) *AccessTokenRepository {
	return &AccessTokenRepository{db: db}
}

// ListByPrefix returns tokens whose display prefix matches. The caller
// bcrypt-compares the presented token against each candidate's hash.
func (r *AccessTokenRepository) ListByPrefix(ctx context.Context, prefix string) ([]*models.AccessToken, error) {
	query := `
		SELECT id, user_id, name, token_hash, token_prefix, admin, expires_at, last_used_at, created_at
		FROM access_tokens
		WHERE token_prefix = $1
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tokens := make([]*models.AccessToken, 0)
	for rows.Next() {
		t := &models.AccessToken{}
		err := rows.Scan(
			&t.ID,
			&t.UserID,
			&t.Name,
			&t.TokenHash,
			&t.TokenPrefix,
			&t.Admin,
			&t.ExpiresAt,
			&t.LastUsedAt,
			&t.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		tokens = append(tokens, t)
	}

	return tokens, rows.Err()
}

// UpdateLastUsed updates the last_used_at timestamp for a token
func (r *AccessTokenRepository) UpdateLastUsed(ctx context.Context, tokenID string) error {
	query := `UPDATE access_tokens SET last_used_at = $2 WHERE id = $1`
	_, err := r.db.ExecContext(ctx, query, tokenID, time.Now())
	return err
}

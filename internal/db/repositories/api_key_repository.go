// api_key_repository.go implements APIKeyRepository, providing database queries for
// API key creation, lookup by value, subscription-scoped listing, and expiry-sweep
// bookkeeping. Keys are never deleted — revocation is a flag update.
package repositories

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// ErrDuplicateKey is returned by CreateAPIKey when the partial unique index on
// (key, api_id, application_id) rejects the insert. The index, not the
// in-service uniqueness check, is the authoritative guard against two requests
// racing the same custom key value.
var ErrDuplicateKey = errors.New("api key value already bound for this api and application")

const pqUniqueViolation = "23505"

// APIKeyRepository handles API key database operations
type APIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new APIKeyRepository
func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

const apiKeyColumns = `id, key, application_id, api_id, plan_id, subscription_id,
	revoked, paused, expire_at, revoked_at, expiry_notified_at, created_at, updated_at`

// CreateAPIKey inserts a new API key row
func (r *APIKeyRepository) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	key.CreatedAt = time.Now()
	key.UpdatedAt = key.CreatedAt

	query := `
		INSERT INTO api_keys (` + apiKeyColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err := r.db.ExecContext(ctx, query,
		key.ID,
		key.Key,
		key.ApplicationID,
		key.APIID,
		key.PlanID,
		key.SubscriptionID,
		key.Revoked,
		key.Paused,
		key.ExpireAt,
		key.RevokedAt,
		key.ExpiryNotifiedAt,
		key.CreatedAt,
		key.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return ErrDuplicateKey
	}

	return err
}

// UpdateAPIKey persists the mutable fields of a key. The key value and its
// subscription binding are immutable once created.
func (r *APIKeyRepository) UpdateAPIKey(ctx context.Context, key *models.APIKey) error {
	key.UpdatedAt = time.Now()

	query := `
		UPDATE api_keys
		SET plan_id = $2, revoked = $3, paused = $4, expire_at = $5, revoked_at = $6,
		    expiry_notified_at = $7, updated_at = $8
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		key.ID,
		key.PlanID,
		key.Revoked,
		key.Paused,
		key.ExpireAt,
		key.RevokedAt,
		key.ExpiryNotifiedAt,
		key.UpdatedAt,
	)

	return err
}

// GetAPIKeyByID retrieves a key by surrogate ID. Returns (nil, nil) when absent.
func (r *APIKeyRepository) GetAPIKeyByID(ctx context.Context, keyID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE id = $1`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// GetAPIKeyByKeyAndAPI retrieves a key by its natural key: the literal key
// value together with the API it is bound to. Returns (nil, nil) when absent.
func (r *APIKeyRepository) GetAPIKeyByKeyAndAPI(ctx context.Context, keyValue, apiID string) (*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key = $1 AND api_id = $2`

	key, err := scanAPIKey(r.db.QueryRowContext(ctx, query, keyValue, apiID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return key, nil
}

// ListAPIKeysByKey returns every key row sharing the given literal value,
// across all APIs and applications. Used by the uniqueness check.
func (r *APIKeyRepository) ListAPIKeysByKey(ctx context.Context, keyValue string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE key = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, keyValue)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

// ListAPIKeysBySubscription returns the subscription's keys, most recent first.
func (r *APIKeyRepository) ListAPIKeysBySubscription(ctx context.Context, subscriptionID string) ([]*models.APIKey, error) {
	query := `SELECT ` + apiKeyColumns + ` FROM api_keys WHERE subscription_id = $1 ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query, subscriptionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

// FindExpiredUnnotified returns keys whose expiry date has passed but for which
// the APIKEY_EXPIRED event has not yet been emitted. The sweeper marks each key
// after emitting so the event fires exactly once even across restarts.
func (r *APIKeyRepository) FindExpiredUnnotified(ctx context.Context, now time.Time) ([]*models.APIKey, error) {
	query := `
		SELECT ` + apiKeyColumns + `
		FROM api_keys
		WHERE expire_at IS NOT NULL
		  AND expire_at <= $1
		  AND expiry_notified_at IS NULL
		  AND revoked = FALSE
		ORDER BY expire_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAPIKeys(rows)
}

// MarkExpiryNotified records that the expiry event has been emitted for a key.
func (r *APIKeyRepository) MarkExpiryNotified(ctx context.Context, keyID string) error {
	query := `UPDATE api_keys SET expiry_notified_at = $1 WHERE id = $2`
	_, err := r.db.ExecContext(ctx, query, time.Now(), keyID)
	return err
}

func scanAPIKey(row rowScanner) (*models.APIKey, error) {
	key := &models.APIKey{}
	err := row.Scan(
		&key.ID,
		&key.Key,
		&key.ApplicationID,
		&key.APIID,
		&key.PlanID,
		&key.SubscriptionID,
		&key.Revoked,
		&key.Paused,
		&key.ExpireAt,
		&key.RevokedAt,
		&key.ExpiryNotifiedAt,
		&key.CreatedAt,
		&key.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return key, nil
}

func collectAPIKeys(rows *sql.Rows) ([]*models.APIKey, error) {
	keys := make([]*models.APIKey, 0)
	for rows.Next() {
		key, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

// subscription_repository.go implements SubscriptionRepository, providing creation,
// status updates and filtered search over subscriptions. Subscriptions are never
// physically deleted; REJECTED and CLOSED rows stay for auditing.
package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// SubscriptionRepository handles subscription database operations
type SubscriptionRepository struct {
	db *sql.DB
}

// NewSubscriptionRepository creates a new SubscriptionRepository
func NewSubscriptionRepository(db *sql.DB) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

const subscriptionColumns = `id, plan_id, application_id, api_id, status, request, reason,
	subscribed_by, processed_by, processed_at, starting_at, ending_at, paused_at, closed_at,
	general_conditions_accepted, general_conditions_page_id, general_conditions_revision,
	created_at, updated_at`

// SubscriptionFilters narrows a Search call. Nil/empty fields are ignored.
type SubscriptionFilters struct {
	APIIDs         []string
	PlanIDs        []string
	ApplicationIDs []string
	Statuses       []models.SubscriptionStatus
	From           *time.Time
	To             *time.Time
}

// CreateSubscription inserts a new subscription row
func (r *SubscriptionRepository) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == "" {
		sub.ID = uuid.New().String()
	}
	sub.CreatedAt = time.Now()
	sub.UpdatedAt = sub.CreatedAt

	query := `
		INSERT INTO subscriptions (` + subscriptionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.PlanID,
		sub.ApplicationID,
		sub.APIID,
		sub.Status,
		sub.Request,
		sub.Reason,
		sub.SubscribedBy,
		sub.ProcessedBy,
		sub.ProcessedAt,
		sub.StartingAt,
		sub.EndingAt,
		sub.PausedAt,
		sub.ClosedAt,
		sub.GeneralConditionsAccepted,
		sub.GeneralConditionsPageID,
		sub.GeneralConditionsRevision,
		sub.CreatedAt,
		sub.UpdatedAt,
	)

	return err
}

// UpdateSubscription persists mutable subscription fields. The plan and
// application bindings may change only through the transfer operation;
// api_id, subscribed_by and created_at are immutable.
func (r *SubscriptionRepository) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	sub.UpdatedAt = time.Now()

	query := `
		UPDATE subscriptions
		SET plan_id = $2, status = $3, reason = $4, processed_by = $5, processed_at = $6,
		    starting_at = $7, ending_at = $8, paused_at = $9, closed_at = $10, updated_at = $11
		WHERE id = $1
	`

	_, err := r.db.ExecContext(ctx, query,
		sub.ID,
		sub.PlanID,
		sub.Status,
		sub.Reason,
		sub.ProcessedBy,
		sub.ProcessedAt,
		sub.StartingAt,
		sub.EndingAt,
		sub.PausedAt,
		sub.ClosedAt,
		sub.UpdatedAt,
	)

	return err
}

// GetSubscriptionByID retrieves a subscription by ID. Returns (nil, nil) when absent.
func (r *SubscriptionRepository) GetSubscriptionByID(ctx context.Context, subID string) (*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE id = $1`

	row := r.db.QueryRowContext(ctx, query, subID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// ListByApplicationAndAPI returns every subscription binding the application to
// any plan of the given API, regardless of status. The policy resolver uses
// this to detect concurrent-subscription conflicts.
func (r *SubscriptionRepository) ListByApplicationAndAPI(ctx context.Context, appID, apiID string) ([]*models.Subscription, error) {
	query := `
		SELECT ` + subscriptionColumns + `
		FROM subscriptions
		WHERE application_id = $1 AND api_id = $2
		ORDER BY created_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, appID, apiID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// Search returns subscriptions matching the filters, most recent first.
// IN-clauses are expanded with sqlx so list filters of any length work.
func (r *SubscriptionRepository) Search(ctx context.Context, filters SubscriptionFilters) ([]*models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE 1=1`
	args := make([]interface{}, 0)

	if len(filters.APIIDs) > 0 {
		query += ` AND api_id IN (?)`
		args = append(args, filters.APIIDs)
	}
	if len(filters.PlanIDs) > 0 {
		query += ` AND plan_id IN (?)`
		args = append(args, filters.PlanIDs)
	}
	if len(filters.ApplicationIDs) > 0 {
		query += ` AND application_id IN (?)`
		args = append(args, filters.ApplicationIDs)
	}
	if len(filters.Statuses) > 0 {
		query += ` AND status IN (?)`
		args = append(args, filters.Statuses)
	}
	if filters.From != nil {
		query += ` AND created_at >= ?`
		args = append(args, *filters.From)
	}
	if filters.To != nil {
		query += ` AND created_at <= ?`
		args = append(args, *filters.To)
	}
	query += ` ORDER BY created_at DESC`

	expanded, expandedArgs, err := sqlx.In(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to expand subscription search query: %w", err)
	}
	expanded = sqlx.Rebind(sqlx.DOLLAR, expanded)

	rows, err := r.db.QueryContext(ctx, expanded, expandedArgs...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectSubscriptions(rows)
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSubscription(row rowScanner) (*models.Subscription, error) {
	sub := &models.Subscription{}
	err := row.Scan(
		&sub.ID,
		&sub.PlanID,
		&sub.ApplicationID,
		&sub.APIID,
		&sub.Status,
		&sub.Request,
		&sub.Reason,
		&sub.SubscribedBy,
		&sub.ProcessedBy,
		&sub.ProcessedAt,
		&sub.StartingAt,
		&sub.EndingAt,
		&sub.PausedAt,
		&sub.ClosedAt,
		&sub.GeneralConditionsAccepted,
		&sub.GeneralConditionsPageID,
		&sub.GeneralConditionsRevision,
		&sub.CreatedAt,
		&sub.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func collectSubscriptions(rows *sql.Rows) ([]*models.Subscription, error) {
	subs := make([]*models.Subscription, 0)
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

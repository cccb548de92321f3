// plan_repository.go implements PlanRepository, providing read access to plans
// for the subscription engine. Plan CRUD itself is owned by the plan management
// handlers and is intentionally not exposed here.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// PlanRepository handles plan database operations
type PlanRepository struct {
	db *sql.DB
}

// NewPlanRepository creates a new PlanRepository
func NewPlanRepository(db *sql.DB) *PlanRepository {
	return &PlanRepository{db: db}
}

// GetPlanByID retrieves a plan by ID. Returns (nil, nil) when absent.
func (r *PlanRepository) GetPlanByID(ctx context.Context, planID string) (*models.Plan, error) {
	query := `
		SELECT id, api_id, name, status, security, validation, excluded_groups, general_conditions_page_id, created_at, updated_at
		FROM plans
		WHERE id = $1
	`

	plan := &models.Plan{}
	var excludedGroupsJSON []byte

	err := r.db.QueryRowContext(ctx, query, planID).Scan(
		&plan.ID,
		&plan.APIID,
		&plan.Name,
		&plan.Status,
		&plan.Security,
		&plan.Validation,
		&excludedGroupsJSON,
		&plan.GeneralConditionsPageID,
		&plan.CreatedAt,
		&plan.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}

	if err != nil {
		return nil, err
	}

	if excludedGroupsJSON != nil {
		if err := json.Unmarshal(excludedGroupsJSON, &plan.ExcludedGroups); err != nil {
			return nil, err
		}
	}

	return plan, nil
}

// audit_repository.go implements AuditRepository, providing append-only writes
// and filtered reads over audit log entries.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apim-portal/apim-portal/internal/db/models"
)

// AuditRepository handles audit log database operations
type AuditRepository struct {
	db *sql.DB
}

// NewAuditRepository creates a new AuditRepository
func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// AuditFilters contains filters for querying audit logs
type AuditFilters struct {
	APIID         *string
	ApplicationID *string
	Event         *string
	StartDate     *time.Time
	EndDate       *time.Time
}

// CreateAuditLog creates a new audit log entry
func (r *AuditRepository) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()
	log.CreatedAt = time.Now()

	var propertiesJSON []byte
	var err error
	if log.Properties != nil {
		propertiesJSON, err = json.Marshal(log.Properties)
		if err != nil {
			return err
		}
	}

	query := `
		INSERT INTO audit_logs (id, organization_id, environment_id, api_id, application_id, event, properties, previous_state, new_state, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		log.ID,
		log.OrganizationID,
		log.EnvironmentID,
		log.APIID,
		log.ApplicationID,
		log.Event,
		propertiesJSON,
		log.PreviousState,
		log.NewState,
		log.CreatedAt,
	)

	return err
}

// ListAuditLogs retrieves audit logs with optional filters and pagination
func (r *AuditRepository) ListAuditLogs(ctx context.Context, filters AuditFilters, limit, offset int) ([]*models.AuditLog, int, error) {
	countQuery := `SELECT COUNT(*) FROM audit_logs WHERE 1=1`
	query := `
		SELECT id, organization_id, environment_id, api_id, application_id, event, properties, previous_state, new_state, created_at
		FROM audit_logs
		WHERE 1=1
	`

	args := make([]interface{}, 0)
	paramIndex := 1

	if filters.APIID != nil {
		countQuery += fmt.Sprintf(` AND api_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND api_id = $%d`, paramIndex)
		args = append(args, *filters.APIID)
		paramIndex++
	}

	if filters.ApplicationID != nil {
		countQuery += fmt.Sprintf(` AND application_id = $%d`, paramIndex)
		query += fmt.Sprintf(` AND application_id = $%d`, paramIndex)
		args = append(args, *filters.ApplicationID)
		paramIndex++
	}

	if filters.Event != nil {
		countQuery += fmt.Sprintf(` AND event = $%d`, paramIndex)
		query += fmt.Sprintf(` AND event = $%d`, paramIndex)
		args = append(args, *filters.Event)
		paramIndex++
	}

	if filters.StartDate != nil {
		countQuery += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at >= $%d`, paramIndex)
		args = append(args, *filters.StartDate)
		paramIndex++
	}

	if filters.EndDate != nil {
		countQuery += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		query += fmt.Sprintf(` AND created_at <= $%d`, paramIndex)
		args = append(args, *filters.EndDate)
		paramIndex++
	}

	var total int
	err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total)
	if err != nil {
		return nil, 0, err
	}

	query += fmt.Sprintf(` ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, paramIndex, paramIndex+1)
	args = append(args, limit, offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	logs := make([]*models.AuditLog, 0)
	for rows.Next() {
		log := &models.AuditLog{}
		var propertiesJSON []byte

		err := rows.Scan(
			&log.ID,
			&log.OrganizationID,
			&log.EnvironmentID,
			&log.APIID,
			&log.ApplicationID,
			&log.Event,
			&propertiesJSON,
			&log.PreviousState,
			&log.NewState,
			&log.CreatedAt,
		)
		if err != nil {
			return nil, 0, err
		}

		if propertiesJSON != nil {
			if err := json.Unmarshal(propertiesJSON, &log.Properties); err != nil {
				return nil, 0, err
			}
		}

		logs = append(logs, log)
	}

	return logs, total, rows.Err()
}

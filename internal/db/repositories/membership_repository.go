// membership_repository.go implements MembershipRepository. Group and role
// management is owned elsewhere; the subscription engine only needs the set of
// group IDs a user belongs to, to evaluate plan group restrictions.
package repositories

import (
	"context"
	"database/sql"
)

// MembershipRepository handles group membership lookups
type MembershipRepository struct {
	db *sql.DB
}

// NewMembershipRepository creates a new MembershipRepository
func NewMembershipRepository(db *sql.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

// GroupsOf returns the IDs of every group the user is a member of.
func (r *MembershipRepository) GroupsOf(ctx context.Context, userID string) ([]string, error) {
	query := `
		SELECT group_id
		FROM group_memberships
		WHERE user_id = $1
	`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	groups := make([]string, 0)
	for rows.Next() {
		var groupID string
		if err := rows.Scan(&groupID); err != nil {
			return nil, err
		}
		groups = append(groups, groupID)
	}

	return groups, rows.Err()
}

package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

// AssignmentHistoryRepository stores audit entries. Entries are append
// only; there is no update or delete.
type AssignmentHistoryRepository interface {
	Create(ctx context.Context, entry *domain.AssignmentHistory) error
	ListByAssignment(ctx context.Context, assignmentID string) ([]domain.AssignmentHistory, error)
}

type assignmentHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentHistoryRepository builds the repository.
func NewAssignmentHistoryRepository(pool *pgxpool.Pool) AssignmentHistoryRepository {
	return &assignmentHistoryRepository{pool: pool}
}

func (r *assignmentHistoryRepository) Create(ctx context.Context, entry *domain.AssignmentHistory) error {
	const query = `
        INSERT INTO assignment_history (assignment_id, action, actor_id, old_value, new_value, detail)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		entry.AssignmentID,
		entry.Action,
		entry.ActorID,
		entry.OldValue,
		entry.NewValue,
		entry.Detail,
	).Scan(&entry.ID, &entry.CreatedAt)
}

func (r *assignmentHistoryRepository) ListByAssignment(ctx context.Context, assignmentID string) ([]domain.AssignmentHistory, error) {
	const query = `
        SELECT id, assignment_id, action, actor_id, old_value, new_value, detail, created_at
        FROM assignment_history WHERE assignment_id=$1 ORDER BY created_at ASC`
	rows, err := r.pool.Query(ctx, query, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.AssignmentHistory
	for rows.Next() {
		var entry domain.AssignmentHistory
		if err := rows.Scan(
			&entry.ID,
			&entry.AssignmentID,
			&entry.Action,
			&entry.ActorID,
			&entry.OldValue,
			&entry.NewValue,
			&entry.Detail,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, entry)
	}
	return result, rows.Err()
}

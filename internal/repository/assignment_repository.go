package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/boosty-org/assignment-engine/internal/domain"
)

// ErrDuplicateEntity is returned by Create when an open assignment
// already references the same (entity_type, entity_id) pair. The partial
// unique index enforces this even across concurrent writers.
var ErrDuplicateEntity = errors.New("open assignment already exists for entity")

// ErrVersionConflict is returned by Update when the stored row's version
// no longer matches the one the caller read.
var ErrVersionConflict = errors.New("assignment version conflict")

const uniqueViolation = "23505"

// AssignmentFilter captures listing parameters.
type AssignmentFilter struct {
	AgentID    *string
	EntityType *domain.EntityType
	EntityID   *string
	Phases     []domain.AssignmentPhase
	Limit      int
	Offset     int
}

// AssignmentRepository encapsulates assignment persistence.
type AssignmentRepository interface {
	Create(ctx context.Context, a *domain.Assignment) error
	Update(ctx context.Context, a *domain.Assignment) error
	GetByID(ctx context.Context, id string) (*domain.Assignment, error)
	GetByCode(ctx context.Context, code string) (*domain.Assignment, error)
	GetOpenByEntity(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.Assignment, error)
	ListWithFilter(ctx context.Context, filter AssignmentFilter) ([]domain.Assignment, error)
	ListOverdueCandidates(ctx context.Context, now time.Time) ([]domain.Assignment, error)
	CountOpenByAgent(ctx context.Context) (map[string]int, error)
}

type assignmentRepository struct {
	pool *pgxpool.Pool
}

// NewAssignmentRepository instantiates the repository.
func NewAssignmentRepository(pool *pgxpool.Pool) AssignmentRepository {
	return &assignmentRepository{pool: pool}
}

const assignmentColumns = `id, code, agent_id, entity_type, entity_id, assignment_type, priority,
               phase, last_event, escalation_level, assigned_at, first_response_deadline,
               resolution_deadline, first_responded_at, completed_at, response_count,
               total_response_seconds, completion_reason, satisfaction_score, version,
               created_at, updated_at`

func (r *assignmentRepository) Create(ctx context.Context, a *domain.Assignment) error {
	const query = `
        INSERT INTO assignments (code, agent_id, entity_type, entity_id, assignment_type, priority,
            phase, last_event, escalation_level, assigned_at, first_response_deadline, resolution_deadline,
            response_count, total_response_seconds)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
        RETURNING id, version, created_at, updated_at`
	err := r.pool.QueryRow(ctx, query,
		a.Code,
		a.AgentID,
		a.EntityType,
		a.EntityID,
		a.AssignmentType,
		a.Priority,
		a.Phase,
		a.LastEvent,
		a.EscalationLevel,
		a.AssignedAt,
		a.FirstResponseDeadline,
		a.ResolutionDeadline,
		a.ResponseCount,
		a.TotalResponseSeconds,
	).Scan(&a.ID, &a.Version, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return ErrDuplicateEntity
		}
		return err
	}
	return nil
}

// Update persists all mutable fields using the version column as a
// compare-and-set guard. On success the in-memory version is bumped.
func (r *assignmentRepository) Update(ctx context.Context, a *domain.Assignment) error {
	const query = `
        UPDATE assignments SET agent_id=$1, priority=$2, phase=$3, last_event=$4, escalation_level=$5,
            first_response_deadline=$6, resolution_deadline=$7, first_responded_at=$8, completed_at=$9,
            response_count=$10, total_response_seconds=$11, completion_reason=$12, satisfaction_score=$13,
            version=version+1, updated_at=NOW()
        WHERE id=$14 AND version=$15`
	cmd, err := r.pool.Exec(ctx, query,
		a.AgentID,
		a.Priority,
		a.Phase,
		a.LastEvent,
		a.EscalationLevel,
		a.FirstResponseDeadline,
		a.ResolutionDeadline,
		a.FirstRespondedAt,
		a.CompletedAt,
		a.ResponseCount,
		a.TotalResponseSeconds,
		a.CompletionReason,
		a.SatisfactionScore,
		a.ID,
		a.Version,
	)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		exists, checkErr := r.exists(ctx, a.ID)
		if checkErr != nil {
			return checkErr
		}
		if !exists {
			return pgx.ErrNoRows
		}
		return ErrVersionConflict
	}
	a.Version++
	return nil
}

func (r *assignmentRepository) exists(ctx context.Context, id string) (bool, error) {
	var found bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM assignments WHERE id=$1)`, id).Scan(&found)
	return found, err
}

func (r *assignmentRepository) GetByID(ctx context.Context, id string) (*domain.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignments WHERE id=$1`, assignmentColumns)
	return r.fetchSingle(ctx, query, id)
}

func (r *assignmentRepository) GetByCode(ctx context.Context, code string) (*domain.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignments WHERE code=$1`, assignmentColumns)
	return r.fetchSingle(ctx, query, code)
}

func (r *assignmentRepository) GetOpenByEntity(ctx context.Context, entityType domain.EntityType, entityID string) (*domain.Assignment, error) {
	query := fmt.Sprintf(`SELECT %s FROM assignments WHERE entity_type=$1 AND entity_id=$2 AND phase='OPEN'`, assignmentColumns)
	var a domain.Assignment
	if err := r.scanRow(r.pool.QueryRow(ctx, query, entityType, entityID), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepository) fetchSingle(ctx context.Context, query string, arg any) (*domain.Assignment, error) {
	var a domain.Assignment
	if err := r.scanRow(r.pool.QueryRow(ctx, query, arg), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *assignmentRepository) ListWithFilter(ctx context.Context, filter AssignmentFilter) ([]domain.Assignment, error) {
	base := fmt.Sprintf(`SELECT %s FROM assignments`, assignmentColumns)
	clauses := []string{"1=1"}
	args := []any{}

	if filter.AgentID != nil {
		args = append(args, *filter.AgentID)
		clauses = append(clauses, fmt.Sprintf("agent_id=$%d", len(args)))
	}
	if filter.EntityType != nil {
		args = append(args, *filter.EntityType)
		clauses = append(clauses, fmt.Sprintf("entity_type=$%d", len(args)))
	}
	if filter.EntityID != nil {
		args = append(args, *filter.EntityID)
		clauses = append(clauses, fmt.Sprintf("entity_id=$%d", len(args)))
	}
	if len(filter.Phases) > 0 {
		placeholders := make([]string, len(filter.Phases))
		for i, phase := range filter.Phases {
			args = append(args, phase)
			placeholders[i] = fmt.Sprintf("$%d", len(args))
		}
		clauses = append(clauses, fmt.Sprintf("phase IN (%s)", strings.Join(placeholders, ",")))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`%s WHERE %s ORDER BY updated_at DESC LIMIT %d OFFSET %d`,
		base, strings.Join(clauses, " AND "), limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAssignments(rows)
}

// ListOverdueCandidates returns open assignments with a breached
// resolution deadline or an unanswered first-response deadline. Callers
// re-classify each row; this query only narrows the candidate set.
func (r *assignmentRepository) ListOverdueCandidates(ctx context.Context, now time.Time) ([]domain.Assignment, error) {
	query := fmt.Sprintf(`
        SELECT %s FROM assignments
        WHERE phase='OPEN'
          AND (resolution_deadline < $1 OR (first_responded_at IS NULL AND first_response_deadline < $1))
        ORDER BY resolution_deadline ASC`, assignmentColumns)
	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanAssignments(rows)
}

func (r *assignmentRepository) CountOpenByAgent(ctx context.Context) (map[string]int, error) {
	const query = `SELECT agent_id, COUNT(*) FROM assignments WHERE phase='OPEN' GROUP BY agent_id`
	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var agentID string
		var count int
		if err := rows.Scan(&agentID, &count); err != nil {
			return nil, err
		}
		counts[agentID] = count
	}
	return counts, rows.Err()
}

func (r *assignmentRepository) scanRow(row pgx.Row, a *domain.Assignment) error {
	return row.Scan(
		&a.ID,
		&a.Code,
		&a.AgentID,
		&a.EntityType,
		&a.EntityID,
		&a.AssignmentType,
		&a.Priority,
		&a.Phase,
		&a.LastEvent,
		&a.EscalationLevel,
		&a.AssignedAt,
		&a.FirstResponseDeadline,
		&a.ResolutionDeadline,
		&a.FirstRespondedAt,
		&a.CompletedAt,
		&a.ResponseCount,
		&a.TotalResponseSeconds,
		&a.CompletionReason,
		&a.SatisfactionScore,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
}

func (r *assignmentRepository) scanAssignments(rows pgx.Rows) ([]domain.Assignment, error) {
	var result []domain.Assignment
	for rows.Next() {
		var a domain.Assignment
		if err := r.scanRow(rows, &a); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"plainly/internal/types"
)

// SequenceRepository provides data access for the sequences and
// sequence_steps tables. Step updates are replace-all: rewriting the full
// step list on every sequence update keeps ordering consistent without a
// per-step diff.
type SequenceRepository struct {
	db DBTX
}

// NewSequenceRepository creates a new SequenceRepository backed by the given
// database connection (pool or transaction).
func NewSequenceRepository(db DBTX) *SequenceRepository {
	return &SequenceRepository{db: db}
}

// List returns every sequence owned by userID with steps hydrated in order.
func (r *SequenceRepository) List(ctx context.Context, userID string) ([]*types.Sequence, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, user_id, name, status, enrolled_count, completed_count,
		        created_at, updated_at
		 FROM sequences
		 WHERE user_id = $1
		 ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list sequences", err)
	}

	var out []*types.Sequence
	for rows.Next() {
		var s types.Sequence
		if err := rows.Scan(
			&s.ID, &s.UserID, &s.Name, &s.Status,
			&s.EnrolledCount, &s.CompletedCount, &s.CreatedAt, &s.UpdatedAt,
		); err != nil {
			rows.Close()
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan sequence row", err)
		}
		out = append(out, &s)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating sequence rows", err)
	}

	for _, s := range out {
		steps, err := r.listSteps(ctx, s.ID)
		if err != nil {
			return nil, err
		}
		s.Steps = steps
	}
	return out, nil
}

// Get returns one owned sequence with its steps.
func (r *SequenceRepository) Get(ctx context.Context, userID, id string) (*types.Sequence, error) {
	var s types.Sequence
	err := r.db.QueryRow(ctx,
		`SELECT id, user_id, name, status, enrolled_count, completed_count,
		        created_at, updated_at
		 FROM sequences
		 WHERE id = $1 AND user_id = $2`,
		id, userID,
	).Scan(
		&s.ID, &s.UserID, &s.Name, &s.Status,
		&s.EnrolledCount, &s.CompletedCount, &s.CreatedAt, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, types.NewAppError(types.ErrCodeNotFoundSequence, "sequence not found", nil)
	}
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to get sequence", err)
	}

	steps, err := r.listSteps(ctx, s.ID)
	if err != nil {
		return nil, err
	}
	s.Steps = steps
	return &s, nil
}

// Create inserts a sequence and its initial steps.
func (r *SequenceRepository) Create(ctx context.Context, s *types.Sequence) error {
	status := s.Status
	if status == "" {
		status = types.SequencePaused
	}
	row := r.db.QueryRow(ctx,
		`INSERT INTO sequences (user_id, name, status)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at, updated_at`,
		s.UserID, s.Name, string(status),
	)
	if err := row.Scan(&s.ID, &s.CreatedAt, &s.UpdatedAt); err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create sequence", err)
	}
	s.Status = status

	if err := r.insertSteps(ctx, s.ID, s.Steps); err != nil {
		return err
	}
	return nil
}

// Update renames or re-statuses a sequence and, when steps are provided,
// replaces the full step list.
func (r *SequenceRepository) Update(ctx context.Context, s *types.Sequence) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE sequences SET name = $3, status = $4, updated_at = NOW()
		 WHERE id = $1 AND user_id = $2`,
		s.ID, s.UserID, s.Name, string(s.Status),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update sequence", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSequence, "sequence not found", nil)
	}

	if s.Steps != nil {
		if _, err := r.db.Exec(ctx,
			`DELETE FROM sequence_steps WHERE sequence_id = $1`, s.ID,
		); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to clear sequence steps", err)
		}
		if err := r.insertSteps(ctx, s.ID, s.Steps); err != nil {
			return err
		}
	}
	return nil
}

// Delete removes an owned sequence; steps cascade in the schema.
func (r *SequenceRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM sequences WHERE id = $1 AND user_id = $2`,
		id, userID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete sequence", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundSequence, "sequence not found", nil)
	}
	return nil
}

func (r *SequenceRepository) insertSteps(ctx context.Context, sequenceID string, steps []types.SequenceStep) error {
	for i := range steps {
		step := &steps[i]
		row := r.db.QueryRow(ctx,
			`INSERT INTO sequence_steps (sequence_id, step_order, delay_hours, subject, body)
			 VALUES ($1, $2, $3, $4, $5)
			 RETURNING id, created_at, updated_at`,
			sequenceID, step.Order, step.DelayHours, step.Subject, step.Body,
		)
		if err := row.Scan(&step.ID, &step.CreatedAt, &step.UpdatedAt); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to insert sequence step", err)
		}
		step.SequenceID = sequenceID
	}
	return nil
}

func (r *SequenceRepository) listSteps(ctx context.Context, sequenceID string) ([]types.SequenceStep, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, sequence_id, step_order, delay_hours, subject, body,
		        created_at, updated_at
		 FROM sequence_steps
		 WHERE sequence_id = $1
		 ORDER BY step_order`,
		sequenceID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list sequence steps", err)
	}
	defer rows.Close()

	var steps []types.SequenceStep
	for rows.Next() {
		var st types.SequenceStep
		if err := rows.Scan(
			&st.ID, &st.SequenceID, &st.Order, &st.DelayHours,
			&st.Subject, &st.Body, &st.CreatedAt, &st.UpdatedAt,
		); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan sequence step row", err)
		}
		steps = append(steps, st)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "error iterating sequence step rows", err)
	}
	return steps, nil
}

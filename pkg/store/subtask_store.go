package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// SubtaskStore persists models.Subtask rows and implements the claim-by-
// conditional-update protocol the subtask worker needs.
type SubtaskStore struct {
	pool *pgxpool.Pool
}

// NewSubtaskStore builds a SubtaskStore backed by pool.
func NewSubtaskStore(pool *pgxpool.Pool) *SubtaskStore {
	return &SubtaskStore{pool: pool}
}

const subtaskSelectSQL = `
	SELECT id, task_id, variable_indices, prompts, ratio, seed, batch_size,
		use_polish, is_lumina, lumina_model_name, lumina_cfg, lumina_step,
		status, started_at, completed_at, error, result,
		timeout_retry_count, error_retry_count, rating, evaluation,
		created_at, updated_at
	FROM subtasks`

// Get fetches one subtask by id.
func (s *SubtaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error) {
	row := s.pool.QueryRow(ctx, subtaskSelectSQL+` WHERE id = $1`, id)
	return scanSubtask(row)
}

// ClaimProcessing atomically transitions a subtask pending -> processing,
// reporting false if it was not pending (already claimed or terminal): the
// exactly-once guarantee behind redundant-delivery no-ops.
func (s *SubtaskStore) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subtasks SET status = 'processing', started_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return false, fmt.Errorf("claim subtask %s: %w", id, err)
	}
	return tag.RowsAffected() > 0, nil
}

// Complete records a successful generation result. Accepted even if the
// parent task has since been cancelled: an in-flight subtask runs to its
// natural terminal state.
func (s *SubtaskStore) Complete(ctx context.Context, id uuid.UUID, imageURL string, seedUsed int64) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE subtasks SET status = 'completed', result = $2, seed = $3,
			completed_at = now(), updated_at = now()
		WHERE id = $1`, id, imageURL, seedUsed)
	return err
}

// Fail records a terminal failure, incrementing the appropriate retry
// counter. Use RetryPending instead when the broker will redeliver the
// subtask.
func (s *SubtaskStore) Fail(ctx context.Context, id uuid.UUID, errMsg string, isTimeout bool) error {
	column := "error_retry_count"
	if isTimeout {
		column = "timeout_retry_count"
	}
	sql := fmt.Sprintf(`
		UPDATE subtasks SET status = 'failed', error = $2, %s = %s + 1,
			completed_at = now(), updated_at = now()
		WHERE id = $1`, column, column)
	_, err := s.pool.Exec(ctx, sql, id, errMsg)
	return err
}

// RetryPending records a retryable failure and resets the subtask to
// pending, incrementing the appropriate retry counter. Unlike Fail, this
// leaves the subtask claimable again so the worker's broker-level requeue
// can actually be redelivered instead of being dropped as a redundant
// delivery of an already-terminal subtask.
func (s *SubtaskStore) RetryPending(ctx context.Context, id uuid.UUID, errMsg string, isTimeout bool) error {
	column := "error_retry_count"
	if isTimeout {
		column = "timeout_retry_count"
	}
	sql := fmt.Sprintf(`
		UPDATE subtasks SET status = 'pending', error = $2, %s = %s + 1,
			started_at = NULL, updated_at = now()
		WHERE id = $1`, column, column)
	_, err := s.pool.Exec(ctx, sql, id, errMsg)
	return err
}

// SetRating validates and records a 1..5 rating for a subtask.
func (s *SubtaskStore) SetRating(ctx context.Context, id uuid.UUID, rating int) error {
	if rating < 1 || rating > 5 {
		return fmt.Errorf("rating must be in 1..5, got %d", rating)
	}
	tag, err := s.pool.Exec(ctx, `UPDATE subtasks SET rating = $2, updated_at = now() WHERE id = $1`, id, rating)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvaluation appends a free-text note to a subtask's evaluation list.
func (s *SubtaskStore) AppendEvaluation(ctx context.Context, id uuid.UUID, note string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subtasks SET evaluation = evaluation || to_jsonb($2::text), updated_at = now()
		WHERE id = $1`, id, note)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveEvaluation removes the evaluation note at index (0-based).
func (s *SubtaskStore) RemoveEvaluation(ctx context.Context, id uuid.UUID, index int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE subtasks SET evaluation = (evaluation - $2), updated_at = now()
		WHERE id = $1`, id, index)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanSubtask(row rowScanner) (*models.Subtask, error) {
	var st models.Subtask
	var varIdx, prompts, evaluation []byte

	err := row.Scan(&st.ID, &st.TaskID, &varIdx, &prompts, &st.Ratio, &st.Seed, &st.BatchSize,
		&st.UsePolish, &st.IsLumina, nullable(&st.LuminaModelName), &st.LuminaCfg, &st.LuminaStep,
		&st.Status, &st.StartedAt, &st.CompletedAt, &st.Error, &st.Result,
		&st.TimeoutRetryCount, &st.ErrorRetryCount, &st.Rating, &evaluation,
		&st.CreatedAt, &st.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan subtask: %w", err)
	}

	if err := unmarshalAll(
		jsonField{varIdx, &st.VariableIndices},
		jsonField{prompts, &st.Prompts},
		jsonField{evaluation, &st.Evaluation},
	); err != nil {
		return nil, err
	}
	return &st, nil
}

// nullable adapts a *string destination to scan a SQL NULL without erroring.
func nullable(dst *string) any {
	return (*nullString)(dst)
}

type nullString string

func (n *nullString) Scan(src any) error {
	if src == nil {
		*n = ""
		return nil
	}
	switch v := src.(type) {
	case string:
		*n = nullString(v)
	case []byte:
		*n = nullString(v)
	default:
		return fmt.Errorf("unsupported scan type %T for nullString", src)
	}
	return nil
}

func scanSubtasks(rows pgx.Rows) ([]models.Subtask, error) {
	var out []models.Subtask
	for rows.Next() {
		st, err := scanSubtask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

// Package store implements TaskStore/SubtaskStore against Postgres with
// hand-written SQL over pgx (see DESIGN.md for why this layer does not use
// an ORM).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// TaskStore persists models.Task rows and serves every query surface the
// HTTP API and the C4/C7/C8 components need.
type TaskStore struct {
	pool *pgxpool.Pool
}

// NewTaskStore builds a TaskStore backed by pool.
func NewTaskStore(pool *pgxpool.Pool) *TaskStore {
	return &TaskStore{pool: pool}
}

// TaskFilter narrows List/Stats to a subset of tasks.
type TaskFilter struct {
	Status       models.TaskStatus
	UserID       string
	TaskName     string
	Favorite     *bool
	Deleted      *bool
	MinSubtasks  *int
	MaxSubtasks  *int
	StartDate    *time.Time
	EndDate      *time.Time
}

// Page bounds a List call.
type Page struct {
	Page     int
	PageSize int
}

// Create inserts task and its materialized subtasks in one transaction.
func (s *TaskStore) Create(ctx context.Context, task *models.Task, subtasks []models.Subtask) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	prompts, ratio, seed, batchSize, usePolish, isLumina, luminaModelName, luminaCfg, luminaStep,
		variables, variablesMap, err := marshalTaskJSON(task)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tasks (
			id, name, user_id, priority, prompts, ratio, seed, batch_size, use_polish,
			is_lumina, lumina_model_name, lumina_cfg, lumina_step, total_images,
			variables, variables_map, status, processed_images, progress,
			completed_subtasks, failed_subtasks, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)`,
		task.ID, task.Name, task.UserID, task.Priority, prompts, ratio, seed, batchSize, usePolish,
		isLumina, luminaModelName, luminaCfg, luminaStep, task.TotalImages,
		variables, variablesMap, task.Status, task.ProcessedImages, task.Progress,
		task.CompletedSubtasks, task.FailedSubtasks, task.CreatedAt, task.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	batch := &pgx.Batch{}
	for i := range subtasks {
		st := &subtasks[i]
		stPrompts, err := json.Marshal(st.Prompts)
		if err != nil {
			return fmt.Errorf("marshal subtask prompts: %w", err)
		}
		varIdx, err := json.Marshal(st.VariableIndices)
		if err != nil {
			return fmt.Errorf("marshal variable indices: %w", err)
		}
		batch.Queue(`
			INSERT INTO subtasks (
				id, task_id, variable_indices, prompts, ratio, seed, batch_size,
				use_polish, is_lumina, lumina_model_name, lumina_cfg, lumina_step,
				status, evaluation, created_at, updated_at
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'[]',$14,$15)`,
			st.ID, st.TaskID, varIdx, stPrompts, st.Ratio, st.Seed, st.BatchSize,
			st.UsePolish, st.IsLumina, nullStr(st.LuminaModelName), st.LuminaCfg, st.LuminaStep,
			st.Status, st.CreatedAt, st.UpdatedAt)
	}
	if subtasks != nil {
		br := tx.SendBatch(ctx, batch)
		for range subtasks {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert subtask: %w", err)
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close batch: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// Get fetches one task by id.
func (s *TaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, user_id, priority, prompts, ratio, seed, batch_size, use_polish,
			is_lumina, lumina_model_name, lumina_cfg, lumina_step, total_images,
			variables, variables_map, status, processed_images, progress,
			completed_subtasks, failed_subtasks, created_at, updated_at, completed_at,
			is_favorite, is_deleted
		FROM tasks WHERE id = $1`, id)
	return scanTask(row)
}

// ListByStatus returns every task in the given status, used by the admission
// controller's global concurrency check.
func (s *TaskStore) ListByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, user_id, priority, prompts, ratio, seed, batch_size, use_polish,
			is_lumina, lumina_model_name, lumina_cfg, lumina_step, total_images,
			variables, variables_map, status, processed_images, progress,
			completed_subtasks, failed_subtasks, created_at, updated_at, completed_at,
			is_favorite, is_deleted
		FROM tasks WHERE status = $1`, status)
	if err != nil {
		return nil, fmt.Errorf("list by status: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// List returns a filtered, paginated task listing plus the total match count.
func (s *TaskStore) List(ctx context.Context, f TaskFilter, p Page) ([]models.Task, int, error) {
	where, args := buildFilter(f)

	var total int
	countSQL := "SELECT count(*) FROM tasks" + where
	if err := s.pool.QueryRow(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count tasks: %w", err)
	}

	if p.PageSize <= 0 {
		p.PageSize = 20
	}
	if p.Page <= 0 {
		p.Page = 1
	}
	offset := (p.Page - 1) * p.PageSize
	args = append(args, p.PageSize, offset)
	listSQL := fmt.Sprintf(`
		SELECT id, name, user_id, priority, prompts, ratio, seed, batch_size, use_polish,
			is_lumina, lumina_model_name, lumina_cfg, lumina_step, total_images,
			variables, variables_map, status, processed_images, progress,
			completed_subtasks, failed_subtasks, created_at, updated_at, completed_at,
			is_favorite, is_deleted
		FROM tasks%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`, where, len(args)-1, len(args))

	rows, err := s.pool.Query(ctx, listSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	tasks, err := scanTasks(rows)
	return tasks, total, err
}

// Stats counts tasks matching f, broken down by status.
func (s *TaskStore) Stats(ctx context.Context, f TaskFilter) (map[models.TaskStatus]int, error) {
	where, args := buildFilter(f)
	sql := "SELECT status, count(*) FROM tasks" + where + " GROUP BY status"
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("stats tasks: %w", err)
	}
	defer rows.Close()

	out := map[models.TaskStatus]int{}
	for rows.Next() {
		var status models.TaskStatus
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan stats row: %w", err)
		}
		out[status] = n
	}
	return out, rows.Err()
}

// UpdateProgress updates a task's processed_images/progress counters along
// with its completed/failed subtask tallies.
func (s *TaskStore) UpdateProgress(ctx context.Context, taskID uuid.UUID, processedImages, progress, completedSubtasks, failedSubtasks int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET processed_images = $2, progress = $3,
			completed_subtasks = $4, failed_subtasks = $5, updated_at = now()
		WHERE id = $1`, taskID, processedImages, progress, completedSubtasks, failedSubtasks)
	return err
}

// MarkProcessing transitions a task from pending to processing once
// admission has granted it.
func (s *TaskStore) MarkProcessing(ctx context.Context, taskID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'processing', updated_at = now()
		WHERE id = $1`, taskID)
	return err
}

// SetTerminalStatus closes a task out at status with completedAt.
func (s *TaskStore) SetTerminalStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus, completedAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $2, completed_at = $3, updated_at = now()
		WHERE id = $1`, taskID, status, completedAt)
	return err
}

// Cancel marks a task cancelled, but only while it is still pending.
func (s *TaskStore) Cancel(ctx context.Context, taskID uuid.UUID) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = 'cancelled', updated_at = now()
		WHERE id = $1 AND status = 'pending'`, taskID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// SetFavorite toggles is_favorite and returns the resulting value.
func (s *TaskStore) SetFavorite(ctx context.Context, taskID uuid.UUID) (bool, error) {
	var fav bool
	err := s.pool.QueryRow(ctx, `
		UPDATE tasks SET is_favorite = NOT is_favorite, updated_at = now()
		WHERE id = $1 RETURNING is_favorite`, taskID).Scan(&fav)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return fav, err
}

// SetDeleted toggles is_deleted and returns the resulting value.
func (s *TaskStore) SetDeleted(ctx context.Context, taskID uuid.UUID) (bool, error) {
	var deleted bool
	err := s.pool.QueryRow(ctx, `
		UPDATE tasks SET is_deleted = NOT is_deleted, updated_at = now()
		WHERE id = $1 RETURNING is_deleted`, taskID).Scan(&deleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrNotFound
	}
	return deleted, err
}

// CancelPendingSubtasks marks the given subtask ids cancelled with reason,
// satisfying pkg/monitor's TaskStore surface.
func (s *TaskStore) CancelPendingSubtasks(ctx context.Context, ids []uuid.UUID, reason string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE subtasks SET status = 'cancelled', error = $2, updated_at = now()
		WHERE id = ANY($1) AND status = 'pending'`, ids, reason)
	return err
}

// ListSubtasks returns every subtask belonging to taskID, in creation order.
func (s *TaskStore) ListSubtasks(ctx context.Context, taskID uuid.UUID) ([]models.Subtask, error) {
	rows, err := s.pool.Query(ctx, subtaskSelectSQL+` WHERE task_id = $1 ORDER BY created_at`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list subtasks: %w", err)
	}
	defer rows.Close()
	return scanSubtasks(rows)
}

func buildFilter(f TaskFilter) (string, []any) {
	var clauses []string
	var args []any
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)))
	}

	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.UserID != "" {
		add("user_id = $%d", f.UserID)
	}
	if f.TaskName != "" {
		add("name ILIKE $%d", "%"+f.TaskName+"%")
	}
	if f.Favorite != nil {
		add("is_favorite = $%d", *f.Favorite)
	}
	if f.Deleted != nil {
		add("is_deleted = $%d", *f.Deleted)
	}
	if f.MinSubtasks != nil {
		add("total_images >= $%d", *f.MinSubtasks)
	}
	if f.MaxSubtasks != nil {
		add("total_images <= $%d", *f.MaxSubtasks)
	}
	if f.StartDate != nil {
		add("created_at >= $%d", *f.StartDate)
	}
	if f.EndDate != nil {
		add("created_at <= $%d", *f.EndDate)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func nullStr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func marshalTaskJSON(task *models.Task) (prompts, ratio, seed, batchSize, usePolish, isLumina,
	luminaModelName, luminaCfg, luminaStep, variables, variablesMap []byte, err error) {
	fields := []struct {
		dst *[]byte
		v   any
	}{
		{&prompts, task.Prompts}, {&ratio, task.Ratio}, {&seed, task.Seed},
		{&batchSize, task.BatchSize}, {&usePolish, task.UsePolish}, {&isLumina, task.IsLumina},
		{&luminaModelName, task.LuminaModelName}, {&luminaCfg, task.LuminaCfg}, {&luminaStep, task.LuminaStep},
		{&variables, task.Variables}, {&variablesMap, task.VariablesMap},
	}
	for _, f := range fields {
		b, mErr := json.Marshal(f.v)
		if mErr != nil {
			err = fmt.Errorf("marshal task field: %w", mErr)
			return
		}
		*f.dst = b
	}
	return
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*models.Task, error) {
	var t models.Task
	var prompts, ratio, seed, batchSize, usePolish, isLumina, luminaModelName, luminaCfg, luminaStep,
		variables, variablesMap []byte

	err := row.Scan(&t.ID, &t.Name, &t.UserID, &t.Priority, &prompts, &ratio, &seed, &batchSize, &usePolish,
		&isLumina, &luminaModelName, &luminaCfg, &luminaStep, &t.TotalImages,
		&variables, &variablesMap, &t.Status, &t.ProcessedImages, &t.Progress,
		&t.CompletedSubtasks, &t.FailedSubtasks, &t.CreatedAt, &t.UpdatedAt, &t.CompletedAt,
		&t.IsFavorite, &t.IsDeleted)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	if err := unmarshalAll(
		jsonField{prompts, &t.Prompts}, jsonField{ratio, &t.Ratio}, jsonField{seed, &t.Seed},
		jsonField{batchSize, &t.BatchSize}, jsonField{usePolish, &t.UsePolish}, jsonField{isLumina, &t.IsLumina},
		jsonField{luminaModelName, &t.LuminaModelName}, jsonField{luminaCfg, &t.LuminaCfg}, jsonField{luminaStep, &t.LuminaStep},
		jsonField{variables, &t.Variables}, jsonField{variablesMap, &t.VariablesMap},
	); err != nil {
		return nil, err
	}
	return &t, nil
}

type jsonField struct {
	raw []byte
	out any
}

func unmarshalAll(fields ...jsonField) error {
	for _, f := range fields {
		if len(f.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(f.raw, f.out); err != nil {
			return fmt.Errorf("unmarshal task field: %w", err)
		}
	}
	return nil
}

func scanTasks(rows pgx.Rows) ([]models.Task, error) {
	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

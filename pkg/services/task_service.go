package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/talesofai/nietest-orchestrator/pkg/admission"
	"github.com/talesofai/nietest-orchestrator/pkg/expansion"
	"github.com/talesofai/nietest-orchestrator/pkg/matrix"
	"github.com/talesofai/nietest-orchestrator/pkg/metrics"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
	"github.com/talesofai/nietest-orchestrator/pkg/store"
)

// TaskStore is the persistence surface TaskService needs. Satisfied by
// *store.TaskStore; narrowed to an interface so orchestration logic can be
// exercised against an in-memory fake.
type TaskStore interface {
	Create(ctx context.Context, task *models.Task, subtasks []models.Subtask) error
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	List(ctx context.Context, f store.TaskFilter, p store.Page) ([]models.Task, int, error)
	Stats(ctx context.Context, f store.TaskFilter) (map[models.TaskStatus]int, error)
	Cancel(ctx context.Context, id uuid.UUID) (bool, error)
	SetFavorite(ctx context.Context, id uuid.UUID) (bool, error)
	SetDeleted(ctx context.Context, id uuid.UUID) (bool, error)
	ListSubtasks(ctx context.Context, taskID uuid.UUID) ([]models.Subtask, error)
	MarkProcessing(ctx context.Context, taskID uuid.UUID) error
	SetTerminalStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus, completedAt time.Time) error
}

// Admitter waits for a submitted task's admission decision. Satisfied by
// *admission.Controller.
type Admitter interface {
	Await(ctx context.Context, task *models.Task) (admission.Outcome, error)
}

// Dispatcher hands a task's subtasks to the broker. Satisfied by
// *dispatch.Scheduler.
type Dispatcher interface {
	Dispatch(ctx context.Context, subtasks []models.Subtask) error
}

// MonitorSpawner starts the progress/cancellation-cleanup loop for a task.
// Satisfied by *monitor.Manager.
type MonitorSpawner interface {
	Spawn(ctx context.Context, taskID uuid.UUID)
}

// MatrixBuilder composes the C8 coordinate-grid view for a task. Satisfied
// by *matrix.Materializer.
type MatrixBuilder interface {
	Build(ctx context.Context, taskID uuid.UUID) (*matrix.Matrix, error)
}

// TaskService orchestrates submission through expansion, persistence,
// admission, and dispatch, and serves every read/mutation the HTTP layer
// needs for the /api/v1/test/task* routes.
type TaskService struct {
	tasks   TaskStore
	admit   Admitter
	sched   Dispatcher
	monitor MonitorSpawner
	matrix  MatrixBuilder
}

// NewTaskService wires a TaskService from its component dependencies.
func NewTaskService(tasks TaskStore, admit Admitter, sched Dispatcher, mon MonitorSpawner, mat MatrixBuilder) *TaskService {
	return &TaskService{tasks: tasks, admit: admit, sched: sched, monitor: mon, matrix: mat}
}

// Submit expands spec into a Task plus its Subtasks, persists both, and
// starts the background admission wait that eventually dispatches it. The
// returned task is pending; admission happens asynchronously so the
// submitting request does not block on it.
func (s *TaskService) Submit(ctx context.Context, spec models.TaskSpec) (*models.Task, error) {
	task, subtasks, err := expansion.Expand(spec)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := s.tasks.Create(ctx, task, subtasks); err != nil {
		return nil, fmt.Errorf("persist task: %w", err)
	}
	metrics.RecordTaskSubmitted()

	go s.admitAndDispatch(task.ID)
	return task, nil
}

// admitAndDispatch waits for admission and, once granted, dispatches the
// task's subtasks and starts its monitor. It runs detached from the
// request that created the task: admission can take up to an hour and must
// outlive the HTTP call.
func (s *TaskService) admitAndDispatch(taskID uuid.UUID) {
	ctx := context.Background()
	log := slog.With("task_id", taskID)

	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		log.Error("admission: load task", "err", err)
		return
	}

	waitStart := task.CreatedAt
	outcome, err := s.admit.Await(ctx, task)
	if err != nil {
		log.Error("admission: await", "err", err)
		return
	}
	metrics.RecordAdmissionWait(string(outcome), time.Since(waitStart))

	switch outcome {
	case admission.Cancelled:
		return
	case admission.Timeout:
		if err := s.tasks.SetTerminalStatus(ctx, taskID, models.TaskFailed, time.Now().UTC()); err != nil {
			log.Error("admission: mark timed-out task failed", "err", err)
		}
		return
	}

	subtasks, err := s.tasks.ListSubtasks(ctx, taskID)
	if err != nil {
		log.Error("admission: list subtasks", "err", err)
		return
	}
	if err := s.sched.Dispatch(ctx, subtasks); err != nil {
		log.Error("admission: dispatch", "err", err)
		return
	}
	if err := s.tasks.MarkProcessing(ctx, taskID); err != nil {
		log.Error("admission: mark processing", "err", err)
		return
	}
	s.monitor.Spawn(ctx, taskID)
}

// Get fetches a task by id.
func (s *TaskService) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return task, nil
}

// List returns a filtered, paginated task listing plus the total match count.
func (s *TaskService) List(ctx context.Context, f store.TaskFilter, p store.Page) ([]models.Task, int, error) {
	return s.tasks.List(ctx, f, p)
}

// Stats counts tasks matching f, broken down by status.
func (s *TaskService) Stats(ctx context.Context, f store.TaskFilter) (map[models.TaskStatus]int, error) {
	return s.tasks.Stats(ctx, f)
}

// Cancel cancels task id if it is still pending; returns ErrNotCancellable
// once it has started processing or already finished. Cancellation cleanup
// of any in-flight subtasks is the monitor's job, not this call's.
func (s *TaskService) Cancel(ctx context.Context, id uuid.UUID) error {
	ok, err := s.tasks.Cancel(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		if _, err := s.tasks.Get(ctx, id); err != nil {
			return mapStoreErr(err)
		}
		return ErrNotCancellable
	}
	return nil
}

// SetFavorite toggles task id's favorite flag and returns the resulting value.
func (s *TaskService) SetFavorite(ctx context.Context, id uuid.UUID) (bool, error) {
	fav, err := s.tasks.SetFavorite(ctx, id)
	if err != nil {
		return false, mapStoreErr(err)
	}
	return fav, nil
}

// SetDeleted toggles task id's soft-delete flag and returns the resulting value.
func (s *TaskService) SetDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	deleted, err := s.tasks.SetDeleted(ctx, id)
	if err != nil {
		return false, mapStoreErr(err)
	}
	return deleted, nil
}

// Matrix builds the C8 coordinate-grid view of task id.
func (s *TaskService) Matrix(ctx context.Context, id uuid.UUID) (*matrix.Matrix, error) {
	m, err := s.matrix.Build(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}
	return m, nil
}

// ReuseConfig reconstructs the TaskSpec that, if resubmitted, would
// reproduce task id's variable dimensions and constants ("duplicate task").
// Variable slots are rebuilt from the task's persisted variables_map; the
// reconstructed spec always carries a fresh empty Name, since the original
// name was either user-chosen or an auto-generated timestamp that should
// not be reused verbatim.
func (s *TaskService) ReuseConfig(ctx context.Context, id uuid.UUID) (*models.TaskSpec, error) {
	task, err := s.tasks.Get(ctx, id)
	if err != nil {
		return nil, mapStoreErr(err)
	}

	byDimIndex := make(map[int]models.VariableEntry, len(task.VariablesMap))
	for _, v := range task.VariablesMap {
		byDimIndex[dimensionIndexOf(task, v)] = v
	}

	spec := &models.TaskSpec{
		Priority:        task.Priority,
		Prompts:         reusePrompts(task, byDimIndex),
		Ratio:           reuseParam(task.Ratio, byDimIndex, models.SlotRatio, task),
		Seed:            reuseParam(task.Seed, byDimIndex, models.SlotSeed, task),
		BatchSize:       task.BatchSize,
		UsePolish:       reuseParam(task.UsePolish, byDimIndex, models.SlotUsePolish, task),
		IsLumina:        reuseParam(task.IsLumina, byDimIndex, models.SlotIsLumina, task),
		LuminaModelName: reuseParam(task.LuminaModelName, byDimIndex, models.SlotLuminaModelName, task),
		LuminaCfg:       reuseParam(task.LuminaCfg, byDimIndex, models.SlotLuminaCfg, task),
		LuminaStep:      reuseParam(task.LuminaStep, byDimIndex, models.SlotLuminaStep, task),
		UserID:          task.UserID,
	}
	return spec, nil
}

func dimensionIndexOf(task *models.Task, entry models.VariableEntry) int {
	for _, d := range task.Variables {
		if d.VariableID == entry.VariableID {
			return d.DimensionIndex
		}
	}
	return -1
}

func reusePrompts(task *models.Task, byDimIndex map[int]models.VariableEntry) []models.Prompt {
	out := make([]models.Prompt, len(task.Prompts))
	copy(out, task.Prompts)
	for _, d := range task.Variables {
		if d.VariableType != "prompt" {
			continue
		}
		// Prompt variables are reconstructed positionally: the task's
		// stored prompt list already reflects the materialized choice for
		// its dimension, so the variable marker is re-attached using the
		// dimension's persisted candidate values rather than guessing
		// which prompt slot it came from.
		entry, ok := byDimIndex[d.DimensionIndex]
		if !ok {
			continue
		}
		for i := range out {
			if out[i].IsVariable && out[i].VariableID == entry.VariableID {
				out[i].VariableValues = promptValues(entry.Values)
			}
		}
	}
	return out
}

// promptValues recovers []models.Prompt from a dimension's stored candidate
// values. Values round-trips through JSON once already (task persistence
// marshals VariablesMap as JSONB), so each entry surfaces here as a generic
// map rather than models.Prompt; re-marshaling through JSON recovers the
// concrete type instead of asserting on it directly.
func promptValues(values []any) []models.Prompt {
	raw, err := json.Marshal(values)
	if err != nil {
		return nil
	}
	var out []models.Prompt
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

// reuseParam rebuilds a scalar TaskParameter as variable if task declares a
// variable dimension for slotKey, else keeps the resolved constant as-is.
func reuseParam(constant models.TaskParameter, byDimIndex map[int]models.VariableEntry, slotKey string, task *models.Task) models.TaskParameter {
	for _, d := range task.Variables {
		if d.VariableType == "prompt" {
			continue
		}
		entry, ok := byDimIndex[d.DimensionIndex]
		if !ok || entry.VariableName == "" {
			continue
		}
		if slotNameMatches(slotKey, entry) {
			return models.TaskParameter{
				IsVariable:     true,
				VariableID:     entry.VariableID,
				VariableName:   entry.VariableName,
				VariableValues: entry.Values,
			}
		}
	}
	return constant
}

func slotNameMatches(slotKey string, entry models.VariableEntry) bool {
	return entry.VariableType == slotTypeFor(slotKey)
}

func slotTypeFor(slotKey string) string {
	types := map[string]string{
		models.SlotRatio:           "ratio",
		models.SlotSeed:            "seed",
		models.SlotUsePolish:       "use_polish",
		models.SlotIsLumina:        "is_lumina",
		models.SlotLuminaModelName: "lumina_model_name",
		models.SlotLuminaCfg:       "lumina_cfg",
		models.SlotLuminaStep:      "lumina_step",
	}
	return types[slotKey]
}

func mapStoreErr(err error) error {
	if err == store.ErrNotFound {
		return ErrNotFound
	}
	return err
}

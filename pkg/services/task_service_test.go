package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/talesofai/nietest-orchestrator/pkg/admission"
	"github.com/talesofai/nietest-orchestrator/pkg/matrix"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
	"github.com/talesofai/nietest-orchestrator/pkg/store"
)

type fakeTaskStore struct {
	mu       sync.Mutex
	tasks    map[uuid.UUID]*models.Task
	subtasks map[uuid.UUID][]models.Subtask

	created chan uuid.UUID // signalled by Create, for tests to wait on
}

func newFakeTaskStore() *fakeTaskStore {
	return &fakeTaskStore{
		tasks:    map[uuid.UUID]*models.Task{},
		subtasks: map[uuid.UUID][]models.Subtask{},
		created:  make(chan uuid.UUID, 8),
	}
}

func (f *fakeTaskStore) Create(ctx context.Context, task *models.Task, subtasks []models.Subtask) error {
	f.mu.Lock()
	cp := *task
	f.tasks[task.ID] = &cp
	f.subtasks[task.ID] = append([]models.Subtask(nil), subtasks...)
	f.mu.Unlock()
	f.created <- task.ID
	return nil
}

func (f *fakeTaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (f *fakeTaskStore) List(ctx context.Context, filter store.TaskFilter, p store.Page) ([]models.Task, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Task
	for _, t := range f.tasks {
		if filter.Status != "" && t.Status != filter.Status {
			continue
		}
		out = append(out, *t)
	}
	return out, len(out), nil
}

func (f *fakeTaskStore) Stats(ctx context.Context, filter store.TaskFilter) (map[models.TaskStatus]int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := map[models.TaskStatus]int{}
	for _, t := range f.tasks {
		out[t.Status]++
	}
	return out, nil
}

func (f *fakeTaskStore) Cancel(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok || t.Status != models.TaskPending {
		return false, nil
	}
	t.Status = models.TaskCancelled
	return true, nil
}

func (f *fakeTaskStore) SetFavorite(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return false, store.ErrNotFound
	}
	t.IsFavorite = !t.IsFavorite
	return t.IsFavorite, nil
}

func (f *fakeTaskStore) SetDeleted(ctx context.Context, id uuid.UUID) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[id]
	if !ok {
		return false, store.ErrNotFound
	}
	t.IsDeleted = !t.IsDeleted
	return t.IsDeleted, nil
}

func (f *fakeTaskStore) ListSubtasks(ctx context.Context, taskID uuid.UUID) ([]models.Subtask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]models.Subtask(nil), f.subtasks[taskID]...), nil
}

func (f *fakeTaskStore) MarkProcessing(ctx context.Context, taskID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		t.Status = models.TaskProcessing
	}
	return nil
}

func (f *fakeTaskStore) SetTerminalStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.tasks[taskID]; ok {
		t.Status = status
		t.CompletedAt = &completedAt
	}
	return nil
}

type fixedAdmitter struct {
	outcome admission.Outcome
	waited  chan struct{}
}

func (a *fixedAdmitter) Await(ctx context.Context, task *models.Task) (admission.Outcome, error) {
	defer close(a.waited)
	return a.outcome, nil
}

type recordingDispatcher struct {
	mu        sync.Mutex
	dispatched []models.Subtask
	done      chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{done: make(chan struct{})}
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, subtasks []models.Subtask) error {
	d.mu.Lock()
	d.dispatched = subtasks
	d.mu.Unlock()
	close(d.done)
	return nil
}

type recordingMonitor struct {
	mu      sync.Mutex
	spawned []uuid.UUID
	done    chan struct{}
}

func newRecordingMonitor() *recordingMonitor {
	return &recordingMonitor{done: make(chan struct{})}
}

func (m *recordingMonitor) Spawn(ctx context.Context, taskID uuid.UUID) {
	m.mu.Lock()
	m.spawned = append(m.spawned, taskID)
	m.mu.Unlock()
	close(m.done)
}

func basicSpec() models.TaskSpec {
	return models.TaskSpec{
		Prompts: []models.Prompt{{Type: models.PromptTypeFreetext, Value: "a cat", Weight: 1}},
		Ratio:   models.TaskParameter{Format: models.FormatString, Value: "1:1"},
		Seed:    models.TaskParameter{Format: models.FormatInt, Value: float64(1)},
		BatchSize: models.TaskParameter{Format: models.FormatInt, Value: float64(1)},
		UsePolish: models.TaskParameter{Format: models.FormatBool, Value: false},
		IsLumina:  models.TaskParameter{Format: models.FormatBool, Value: false},
		LuminaModelName: models.TaskParameter{Format: models.FormatString, Value: ""},
		LuminaCfg:       models.TaskParameter{Format: models.FormatFloat, Value: float64(0)},
		LuminaStep:      models.TaskParameter{Format: models.FormatInt, Value: float64(0)},
		UserID:          "user-1",
	}
}

func TestSubmit_GrantedAdmissionDispatchesAndSpawnsMonitor(t *testing.T) {
	tasks := newFakeTaskStore()
	admit := &fixedAdmitter{outcome: admission.Granted, waited: make(chan struct{})}
	disp := newRecordingDispatcher()
	mon := newRecordingMonitor()
	svc := NewTaskService(tasks, admit, disp, mon, matrix.NewMaterializer(tasks))

	task, err := svc.Submit(context.Background(), basicSpec())
	require.NoError(t, err)
	assert.Equal(t, models.TaskPending, task.Status)

	select {
	case <-disp.done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatch was never called")
	}
	select {
	case <-mon.done:
	case <-time.After(2 * time.Second):
		t.Fatal("monitor spawn was never called")
	}

	stored, err := tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskProcessing, stored.Status)
}

func TestSubmit_TimeoutAdmissionMarksFailed(t *testing.T) {
	tasks := newFakeTaskStore()
	admit := &fixedAdmitter{outcome: admission.Timeout, waited: make(chan struct{})}
	disp := newRecordingDispatcher()
	mon := newRecordingMonitor()
	svc := NewTaskService(tasks, admit, disp, mon, matrix.NewMaterializer(tasks))

	task, err := svc.Submit(context.Background(), basicSpec())
	require.NoError(t, err)

	select {
	case <-admit.waited:
	case <-time.After(2 * time.Second):
		t.Fatal("admission was never awaited")
	}
	// admitAndDispatch's own writes race with this read only in wall-clock
	// terms after Await returns; give the goroutine a moment to persist.
	require.Eventually(t, func() bool {
		stored, err := tasks.Get(context.Background(), task.ID)
		return err == nil && stored.Status == models.TaskFailed
	}, 2*time.Second, 10*time.Millisecond)
}

func TestCancel_RefusesOnceProcessing(t *testing.T) {
	tasks := newFakeTaskStore()
	svc := NewTaskService(tasks, &fixedAdmitter{waited: make(chan struct{})}, newRecordingDispatcher(), newRecordingMonitor(), matrix.NewMaterializer(tasks))

	task := &models.Task{ID: uuid.New(), Status: models.TaskProcessing, CreatedAt: time.Now()}
	require.NoError(t, tasks.Create(context.Background(), task, nil))

	err := svc.Cancel(context.Background(), task.ID)
	assert.ErrorIs(t, err, ErrNotCancellable)
}

func TestCancel_SucceedsWhilePending(t *testing.T) {
	tasks := newFakeTaskStore()
	svc := NewTaskService(tasks, &fixedAdmitter{waited: make(chan struct{})}, newRecordingDispatcher(), newRecordingMonitor(), matrix.NewMaterializer(tasks))

	task := &models.Task{ID: uuid.New(), Status: models.TaskPending, CreatedAt: time.Now()}
	require.NoError(t, tasks.Create(context.Background(), task, nil))

	require.NoError(t, svc.Cancel(context.Background(), task.ID))
	stored, err := tasks.Get(context.Background(), task.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TaskCancelled, stored.Status)
}

func TestReuseConfig_RebuildsVariableSlot(t *testing.T) {
	tasks := newFakeTaskStore()
	svc := NewTaskService(tasks, &fixedAdmitter{waited: make(chan struct{})}, newRecordingDispatcher(), newRecordingMonitor(), matrix.NewMaterializer(tasks))

	task := &models.Task{
		ID:     uuid.New(),
		Status: models.TaskPending,
		Ratio:  models.TaskParameter{Value: "1:1"},
		Variables: []models.VariableDimension{
			{VariableID: "0", DimensionIndex: 0, VariableName: "ratio sweep", VariableType: "ratio"},
		},
		VariablesMap: map[string]models.VariableEntry{
			"v0": {VariableID: "0", VariableName: "ratio sweep", VariableType: "ratio", Values: []any{"1:1", "16:9"}},
		},
		CreatedAt: time.Now(),
	}
	require.NoError(t, tasks.Create(context.Background(), task, nil))

	spec, err := svc.ReuseConfig(context.Background(), task.ID)
	require.NoError(t, err)
	assert.True(t, spec.Ratio.IsVariable)
	assert.Equal(t, "ratio sweep", spec.Ratio.VariableName)
	assert.Equal(t, []any{"1:1", "16:9"}, spec.Ratio.VariableValues)
}

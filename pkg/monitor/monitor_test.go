package monitor

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

type fakeTaskStore struct {
	mu        sync.Mutex
	task      *models.Task
	subtasks  []models.Subtask
	cancelled []uuid.UUID
}

func (f *fakeTaskStore) Get(ctx context.Context, id uuid.UUID) (*models.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *f.task
	return &cp, nil
}

func (f *fakeTaskStore) ListSubtasks(ctx context.Context, taskID uuid.UUID) ([]models.Subtask, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Subtask, len(f.subtasks))
	copy(out, f.subtasks)
	return out, nil
}

func (f *fakeTaskStore) UpdateProgress(ctx context.Context, taskID uuid.UUID, processedImages, progress, completedSubtasks, failedSubtasks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.task.ProcessedImages = processedImages
	f.task.Progress = progress
	f.task.CompletedSubtasks = completedSubtasks
	f.task.FailedSubtasks = failedSubtasks
	return nil
}

func (f *fakeTaskStore) SetTerminalStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus, completedAt time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.task.Status = status
	f.task.CompletedAt = &completedAt
	return nil
}

func (f *fakeTaskStore) CancelPendingSubtasks(ctx context.Context, ids []uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, ids...)
	for i := range f.subtasks {
		for _, id := range ids {
			if f.subtasks[i].ID == id {
				f.subtasks[i].Status = models.SubtaskCancelled
				errMsg := reason
				f.subtasks[i].Error = &errMsg
			}
		}
	}
	return nil
}

type fakeQueueCleaner struct {
	removed map[string][]string
}

func (f *fakeQueueCleaner) RemoveBySubtaskIDs(ctx context.Context, queueName string, subtaskIDs []string) error {
	if f.removed == nil {
		f.removed = map[string][]string{}
	}
	f.removed[queueName] = append(f.removed[queueName], subtaskIDs...)
	return nil
}

func mkSubtask(status models.SubtaskStatus) models.Subtask {
	return models.Subtask{ID: uuid.New(), Status: status}
}

// P5/P6: progress law and terminal closure.
func TestTick_ProgressAndTerminalClosure(t *testing.T) {
	taskID := uuid.New()
	store := &fakeTaskStore{
		task: &models.Task{ID: taskID, Status: models.TaskProcessing, TotalImages: 3},
		subtasks: []models.Subtask{
			mkSubtask(models.SubtaskCompleted),
			mkSubtask(models.SubtaskFailed),
			mkSubtask(models.SubtaskPending),
		},
	}
	m := NewMonitor(store, &fakeQueueCleaner{}, nil, []string{"normal", "ops"})

	done, err := m.tick(context.Background(), taskID)
	require.NoError(t, err)
	require.False(t, done)
	require.Equal(t, 2, store.task.ProcessedImages)
	require.Equal(t, 66, store.task.Progress)

	store.subtasks[2].Status = models.SubtaskCompleted
	done, err = m.tick(context.Background(), taskID)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, models.TaskCompleted, store.task.Status)
}

// S6: cancellation cleanup scrubs queues and cancels only pending subtasks.
func TestTick_CancellationCleanup(t *testing.T) {
	taskID := uuid.New()
	processingID := uuid.New()
	pendingIDs := []uuid.UUID{uuid.New(), uuid.New()}

	subtasks := []models.Subtask{
		{ID: processingID, Status: models.SubtaskProcessing},
		{ID: pendingIDs[0], Status: models.SubtaskPending},
		{ID: pendingIDs[1], Status: models.SubtaskPending},
	}
	store := &fakeTaskStore{
		task:     &models.Task{ID: taskID, Status: models.TaskCancelled, TotalImages: 3},
		subtasks: subtasks,
	}
	cleaner := &fakeQueueCleaner{}
	m := NewMonitor(store, cleaner, nil, []string{"normal", "ops"})

	done, err := m.tick(context.Background(), taskID)
	require.NoError(t, err)
	require.True(t, done)

	require.Len(t, store.cancelled, 2)
	require.Len(t, cleaner.removed["normal"], 2)
	require.Len(t, cleaner.removed["ops"], 2)

	for _, st := range store.subtasks {
		if st.ID == processingID {
			require.Equal(t, models.SubtaskProcessing, st.Status, "processing subtask must run to its natural terminal state")
		}
	}
}

// Package monitor implements the task progress/completion monitor: a
// per-task background loop that recomputes progress, detects terminal
// state, and runs cancellation cleanup.
package monitor

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// PollInterval is how often a task's monitor loop reconsults state.
const PollInterval = 10 * time.Second

// TaskStore is the persistence surface the monitor needs.
type TaskStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListSubtasks(ctx context.Context, taskID uuid.UUID) ([]models.Subtask, error)
	UpdateProgress(ctx context.Context, taskID uuid.UUID, processedImages, progress, completedSubtasks, failedSubtasks int) error
	SetTerminalStatus(ctx context.Context, taskID uuid.UUID, status models.TaskStatus, completedAt time.Time) error
	CancelPendingSubtasks(ctx context.Context, ids []uuid.UUID, reason string) error
}

// QueueCleaner removes queued messages referencing given subtask ids from
// both the ready list and the delayed set of a logical queue.
type QueueCleaner interface {
	RemoveBySubtaskIDs(ctx context.Context, queueName string, subtaskIDs []string) error
}

// EventNotifier fires a best-effort task-level webhook.
type EventNotifier interface {
	NotifyTaskEvent(ctx context.Context, task *models.Task)
}

// Monitor runs the per-task progress/completion loop.
type Monitor struct {
	store    TaskStore
	queues   QueueCleaner
	notifier EventNotifier
	// QueueNames lists the logical subtask queues to scrub on cancellation
	// (normal, ops); both are always scanned since either may hold a
	// cancelled task's messages.
	queueNames []string
}

// NewMonitor builds a Monitor. queueNames should list every logical subtask
// queue (e.g. "nietest_subtask", "nietest_subtask_ops").
func NewMonitor(store TaskStore, queues QueueCleaner, notifier EventNotifier, queueNames []string) *Monitor {
	return &Monitor{store: store, queues: queues, notifier: notifier, queueNames: queueNames}
}

// Run executes the per-task loop until the task reaches a terminal state or
// ctx is cancelled. Intended to run as one goroutine per live task.
func (m *Monitor) Run(ctx context.Context, taskID uuid.UUID) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	log := slog.With("task_id", taskID)
	for {
		done, err := m.tick(ctx, taskID)
		if err != nil {
			log.Error("monitor tick failed", "error", err)
		} else if done {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick performs one iteration of the loop, returning true once the task has
// reached a terminal state (or no longer exists) and the loop should exit.
func (m *Monitor) tick(ctx context.Context, taskID uuid.UUID) (bool, error) {
	task, err := m.store.Get(ctx, taskID)
	if err != nil {
		return false, err
	}
	if task.Status == models.TaskCancelled {
		if err := m.cleanupCancellation(ctx, task); err != nil {
			return false, err
		}
		return true, nil
	}
	if task.Status.IsTerminal() {
		return true, nil
	}

	subtasks, err := m.store.ListSubtasks(ctx, taskID)
	if err != nil {
		return false, err
	}

	completed, failed, cancelled := 0, 0, 0
	for _, st := range subtasks {
		switch st.Status {
		case models.SubtaskCompleted:
			completed++
		case models.SubtaskFailed:
			failed++
		case models.SubtaskCancelled:
			cancelled++
		}
	}
	processed := completed + failed + cancelled
	total := task.TotalImages
	progress := 0
	if total > 0 {
		progress = (processed * 100) / total
	}

	if err := m.store.UpdateProgress(ctx, taskID, processed, progress, completed, failed); err != nil {
		return false, err
	}

	if processed < total {
		return false, nil
	}

	status := terminalStatus(completed, failed, cancelled)
	if err := m.store.SetTerminalStatus(ctx, taskID, status, time.Now()); err != nil {
		return false, err
	}
	task.Status = status
	m.notify(ctx, task)
	return true, nil
}

// terminalStatus decides the closing status: completed requires at least
// one completed subtask; failed requires every non-cancelled subtask to
// have failed; cancelled only when every subtask is cancelled.
func terminalStatus(completed, failed, cancelled int) models.TaskStatus {
	switch {
	case completed > 0:
		return models.TaskCompleted
	case failed > 0:
		return models.TaskFailed
	default:
		return models.TaskCancelled
	}
}

// cleanupCancellation runs the cancellation cleanup routine: scrub every
// logical queue for messages referencing still-pending subtasks, then
// mark those subtasks cancelled. Processing subtasks are left to finish
// naturally.
func (m *Monitor) cleanupCancellation(ctx context.Context, task *models.Task) error {
	subtasks, err := m.store.ListSubtasks(ctx, task.ID)
	if err != nil {
		return err
	}

	var pendingIDs []uuid.UUID
	var pendingIDStrs []string
	for _, st := range subtasks {
		if st.Status == models.SubtaskPending {
			pendingIDs = append(pendingIDs, st.ID)
			pendingIDStrs = append(pendingIDStrs, st.ID.String())
		}
	}

	if len(pendingIDStrs) > 0 {
		for _, qn := range m.queueNames {
			if err := m.queues.RemoveBySubtaskIDs(ctx, qn, pendingIDStrs); err != nil {
				return err
			}
		}
		if err := m.store.CancelPendingSubtasks(ctx, pendingIDs, models.ErrParentCancelled); err != nil {
			return err
		}
	}

	m.notify(ctx, task)
	return nil
}

func (m *Monitor) notify(ctx context.Context, task *models.Task) {
	if m.notifier == nil {
		return
	}
	m.notifier.NotifyTaskEvent(ctx, task)
}

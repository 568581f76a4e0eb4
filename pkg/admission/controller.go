// Package admission implements the admission controller: gating a pending
// task's transition to processing on a global concurrency rule and Lumina
// mutual exclusion.
package admission

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// Outcome is the result of waiting for admission.
type Outcome string

const (
	Granted   Outcome = "granted"
	Cancelled Outcome = "cancelled"
	Timeout   Outcome = "timeout"
)

// PollInterval is how often the controller reconsults persistent state.
const PollInterval = 30 * time.Second

// MaxWait bounds the overall admission wait.
const MaxWait = time.Hour

// RecentWindow is the soft rate-limit window applied to every task's
// admission, Lumina or not.
const RecentWindow = 10 * time.Minute

// TaskReader is the persistence surface the controller consults. All
// decisions are derived purely from persistent state, with no hidden
// in-process singletons, so admission is safe to resume after a restart.
type TaskReader interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Task, error)
	ListByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
}

// Controller runs the admission policy against a TaskReader.
type Controller struct {
	store TaskReader
	clock func() time.Time
	sleep func(context.Context, time.Duration) bool // returns false if ctx was cancelled
}

// NewController builds a Controller backed by store.
func NewController(store TaskReader) *Controller {
	return &Controller{
		store: store,
		clock: time.Now,
		sleep: sleepOrDone,
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// Await blocks until task may transition to processing: polls every 30s,
// checking cancellation, Lumina exclusivity, and the 10-minute recent-task
// window; bounded by a 1-hour overall timeout.
func (c *Controller) Await(ctx context.Context, task *models.Task) (Outcome, error) {
	deadline := c.clock().Add(MaxWait)

	for {
		current, err := c.store.Get(ctx, task.ID)
		if err != nil {
			return "", err
		}
		if current.Status == models.TaskCancelled {
			return Cancelled, nil
		}

		processing, err := c.store.ListByStatus(ctx, models.TaskProcessing)
		if err != nil {
			return "", err
		}

		if granted, err := c.evaluate(task, processing); err != nil {
			return "", err
		} else if granted {
			return Granted, nil
		}

		if c.clock().After(deadline) {
			return Timeout, nil
		}
		if !c.sleep(ctx, PollInterval) {
			return "", ctx.Err()
		}
	}
}

func (c *Controller) evaluate(task *models.Task, processing []models.Task) (bool, error) {
	isLumina := task.IsLuminaTask()
	now := c.clock()

	if isLumina {
		for _, r := range processing {
			if r.ID == task.ID {
				continue
			}
			if r.IsLuminaTask() {
				return false, nil
			}
		}
		// No other Lumina task is processing, but a Lumina task still has to
		// clear the same recent-task window as any other task before admission.
	}

	for _, r := range processing {
		if r.ID == task.ID {
			continue
		}
		if now.Sub(r.CreatedAt) < RecentWindow {
			return false, nil
		}
	}
	return true, nil
}

package monitor

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// ProcessingLister is consulted once at startup to respawn monitors for
// every task left in processing by a prior, uncleanly stopped instance, so
// restarts are safe mid-flight.
type ProcessingLister interface {
	ListByStatus(ctx context.Context, status models.TaskStatus) ([]models.Task, error)
}

// Manager spawns and tracks one Monitor goroutine per live task. A duplicate
// Spawn call for the same task id is a no-op: exactly one monitor runs per
// task.
type Manager struct {
	monitor *Monitor

	mu     sync.Mutex
	active map[uuid.UUID]context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager builds a Manager that spawns Monitor.Run loops.
func NewManager(m *Monitor) *Manager {
	return &Manager{monitor: m, active: make(map[uuid.UUID]context.CancelFunc)}
}

// Spawn starts a monitor loop for taskID if one is not already running.
func (mg *Manager) Spawn(ctx context.Context, taskID uuid.UUID) {
	mg.mu.Lock()
	if _, ok := mg.active[taskID]; ok {
		mg.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	mg.active[taskID] = cancel
	mg.mu.Unlock()

	mg.wg.Add(1)
	go func() {
		defer mg.wg.Done()
		defer func() {
			mg.mu.Lock()
			delete(mg.active, taskID)
			mg.mu.Unlock()
		}()
		mg.monitor.Run(loopCtx, taskID)
	}()
}

// RespawnProcessing scans for tasks in "processing" status and spawns a
// monitor loop for each, restoring coverage after a restart.
func (mg *Manager) RespawnProcessing(ctx context.Context, lister ProcessingLister) error {
	tasks, err := lister.ListByStatus(ctx, models.TaskProcessing)
	if err != nil {
		return err
	}
	for _, t := range tasks {
		slog.Info("respawning monitor for in-flight task", "task_id", t.ID)
		mg.Spawn(ctx, t.ID)
	}
	return nil
}

// Stop cancels every running monitor loop and waits for them to exit.
func (mg *Manager) Stop() {
	mg.mu.Lock()
	for _, cancel := range mg.active {
		cancel()
	}
	mg.mu.Unlock()
	mg.wg.Wait()
}

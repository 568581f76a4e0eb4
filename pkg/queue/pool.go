package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/talesofai/nietest-orchestrator/pkg/metrics"
)

// WorkerHealth is one worker's health snapshot.
type WorkerHealth struct {
	ID                string       `json:"id"`
	Status            WorkerStatus `json:"status"`
	CurrentSubtaskID  string       `json:"current_subtask_id,omitempty"`
	SubtasksProcessed int          `json:"subtasks_processed"`
	LastActivity      time.Time    `json:"last_activity"`
}

// PoolHealth is the aggregate health of a WorkerPool.
type PoolHealth struct {
	QueueName     string         `json:"queue_name"`
	TotalWorkers  int            `json:"total_workers"`
	ActiveWorkers int            `json:"active_workers"`
	WorkerStats   []WorkerHealth `json:"worker_stats"`
}

// WorkerPool runs a fixed-size pool of Workers against one logical subtask
// queue (normal or ops): a fixed pool of worker processes/threads.
type WorkerPool struct {
	queueName string
	count     int
	newWorker func(id string) *Worker

	workers  []*Worker
	wg       sync.WaitGroup
	stopOnce sync.Once
	started  bool
	mu       sync.Mutex
}

// NewWorkerPool builds a pool of count workers for queueName. newWorker
// constructs one worker given its id; callers close over shared
// dependencies (store, generator, notifier, queue client).
func NewWorkerPool(queueName string, count int, newWorker func(id string) *Worker) *WorkerPool {
	return &WorkerPool{
		queueName: queueName,
		count:     count,
		newWorker: newWorker,
	}
}

// Start spawns the pool's worker goroutines. Safe to call once; repeat
// calls are no-ops.
func (p *WorkerPool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		slog.Warn("worker pool already started, ignoring duplicate Start call", "queue", p.queueName)
		return
	}
	p.started = true

	for i := 0; i < p.count; i++ {
		id := fmt.Sprintf("%s-worker-%d", p.queueName, i)
		w := p.newWorker(id)
		p.workers = append(p.workers, w)
		w.Start(ctx)
	}
	metrics.SetPoolSize(p.queueName, p.count)
	slog.Info("worker pool started", "queue", p.queueName, "worker_count", p.count)
}

// Stop signals every worker to stop and waits for in-flight jobs to finish.
func (p *WorkerPool) Stop() {
	for _, w := range p.workers {
		w.Stop()
	}
	slog.Info("worker pool stopped", "queue", p.queueName)
}

// Health reports the pool's aggregate health.
func (p *WorkerPool) Health() PoolHealth {
	stats := make([]WorkerHealth, len(p.workers))
	active := 0
	for i, w := range p.workers {
		h := w.Health()
		stats[i] = h
		if h.Status == WorkerStatusWorking {
			active++
		}
	}
	metrics.SetWorkersBusy(p.queueName, active)
	return PoolHealth{
		QueueName:     p.queueName,
		TotalWorkers:  len(p.workers),
		ActiveWorkers: active,
		WorkerStats:   stats,
	}
}

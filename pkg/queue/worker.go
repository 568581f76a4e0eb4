package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/talesofai/nietest-orchestrator/pkg/imageapi"
	"github.com/talesofai/nietest-orchestrator/pkg/metrics"
	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// subtaskActor is the actor name subtask messages are dispatched under.
const subtaskActor = "process_subtask"

func isRetryableErr(err error) bool {
	return imageapi.IsRetryable(err)
}

// ErrNoMessageAvailable is returned by pollAndProcess when the queue yielded
// nothing within the poll timeout; the worker loops straight back into
// another blocking dequeue.
var ErrNoMessageAvailable = errors.New("queue: no message available")

// WorkerStatus represents the current state of a worker.
type WorkerStatus string

const (
	WorkerStatusIdle    WorkerStatus = "idle"
	WorkerStatusWorking WorkerStatus = "working"
)

// Generator drives a single subtask against the remote image API.
type Generator interface {
	Generate(ctx context.Context, st *models.Subtask) (*imageapi.Result, error)
}

// SubtaskStore is the persistence surface the worker needs to claim and
// finalize a subtask.
type SubtaskStore interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Subtask, error)
	ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error)
	Complete(ctx context.Context, id uuid.UUID, imageURL string, seedUsed int64) error
	Fail(ctx context.Context, id uuid.UUID, errMsg string, isTimeout bool) error
	RetryPending(ctx context.Context, id uuid.UUID, errMsg string, isTimeout bool) error
}

// EventNotifier fires a best-effort, fire-and-forget webhook on each subtask
// outcome: completed, failed, or reset to pending for a retry. Implementations
// must not block the worker on delivery.
type EventNotifier interface {
	NotifySubtaskEvent(ctx context.Context, st *models.Subtask)
}

// Worker is a single subtask-queue worker: it dequeues a subtask id, drives
// it through the Generator, and persists the terminal outcome.
type Worker struct {
	id          string
	queueClient *Client
	queueName   string
	processingList string
	maxRetries  int
	pollTimeout time.Duration

	store     SubtaskStore
	generator Generator
	notifier  EventNotifier

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu                sync.RWMutex
	status            WorkerStatus
	currentSubtaskID  string
	subtasksProcessed int
	lastActivity      time.Time
}

// WorkerConfig bundles the dependencies and tuning knobs a Worker needs.
type WorkerConfig struct {
	QueueClient    *Client
	QueueName      string
	ProcessingList string
	MaxRetries     int
	PollTimeout    time.Duration
	Store          SubtaskStore
	Generator      Generator
	Notifier       EventNotifier
}

// NewWorker creates a subtask worker bound to one logical queue.
func NewWorker(id string, cfg WorkerConfig) *Worker {
	pollTimeout := cfg.PollTimeout
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Second
	}
	return &Worker{
		id:             id,
		queueClient:    cfg.QueueClient,
		queueName:      cfg.QueueName,
		processingList: cfg.ProcessingList,
		maxRetries:     cfg.MaxRetries,
		pollTimeout:    pollTimeout,
		store:          cfg.Store,
		generator:      cfg.Generator,
		notifier:       cfg.Notifier,
		stopCh:         make(chan struct{}),
		status:         WorkerStatusIdle,
		lastActivity:   time.Now(),
	}
}

// Start begins the worker polling loop in a goroutine.
func (w *Worker) Start(ctx context.Context) {
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop signals the worker to stop and waits for its current job to finish.
// Safe to call multiple times.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stopCh) })
	w.wg.Wait()
}

// Health reports the worker's current status for pool-level health checks.
func (w *Worker) Health() WorkerHealth {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return WorkerHealth{
		ID:                w.id,
		Status:            w.status,
		CurrentSubtaskID:  w.currentSubtaskID,
		SubtasksProcessed: w.subtasksProcessed,
		LastActivity:      w.lastActivity,
	}
}

func (w *Worker) run(ctx context.Context) {
	defer w.wg.Done()

	log := slog.With("worker_id", w.id, "queue", w.queueName)
	log.Info("subtask worker started")

	for {
		select {
		case <-w.stopCh:
			log.Info("subtask worker shutting down")
			return
		case <-ctx.Done():
			return
		default:
			if err := w.pollAndProcess(ctx); err != nil {
				if errors.Is(err, ErrNoMessageAvailable) {
					continue
				}
				log.Error("error processing subtask", "error", err)
				w.sleep(time.Second)
			}
		}
	}
}

func (w *Worker) sleep(d time.Duration) {
	select {
	case <-w.stopCh:
	case <-time.After(d):
	}
}

// pollAndProcess dequeues one message and drives it to a terminal outcome.
func (w *Worker) pollAndProcess(ctx context.Context) error {
	msg, raw, err := w.queueClient.Dequeue(ctx, w.queueName, w.processingList, w.pollTimeout)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ErrNoMessageAvailable
		}
		return fmt.Errorf("dequeue: %w", err)
	}
	defer func() {
		if err := w.queueClient.Ack(ctx, w.queueName, w.processingList, raw); err != nil {
			slog.Warn("failed to ack subtask message", "worker_id", w.id, "error", err)
		}
	}()

	idStr, _ := msg.Kwargs["subtask_id"].(string)
	id, err := uuid.Parse(idStr)
	if err != nil {
		slog.Error("malformed subtask_id in message", "worker_id", w.id, "raw", raw)
		return nil
	}

	st, err := w.store.Get(ctx, id)
	if err != nil {
		slog.Warn("subtask not found, dropping message", "subtask_id", id, "error", err)
		return nil
	}
	if st.Status != models.SubtaskPending && st.Status != models.SubtaskProcessing {
		return nil // already terminal: redundant delivery, no-op
	}

	claimed, err := w.store.ClaimProcessing(ctx, id)
	if err != nil {
		return fmt.Errorf("claim subtask %s: %w", id, err)
	}
	if !claimed {
		return nil // another worker already claimed it
	}

	w.setStatus(WorkerStatusWorking, idStr)
	defer w.setStatus(WorkerStatusIdle, "")

	st.Status = models.SubtaskProcessing

	genStart := time.Now()
	result, genErr := w.generator.Generate(ctx, st)
	w.finish(ctx, st, result, genErr)
	metrics.RecordSubtaskDuration(string(st.Status), time.Since(genStart))

	w.mu.Lock()
	w.subtasksProcessed++
	w.mu.Unlock()
	return nil
}

// finish persists the terminal outcome of one subtask run and fires the
// best-effort event webhook. A Retryable error within the retry budget is
// not terminal: the subtask is reset to pending so the broker's redelivery
// of the requeued message can actually reclaim it.
func (w *Worker) finish(ctx context.Context, st *models.Subtask, result *imageapi.Result, genErr error) {
	log := slog.With("subtask_id", st.ID, "worker_id", w.id)

	if genErr == nil {
		if err := w.store.Complete(ctx, st.ID, result.ImageURL, result.SeedUsed); err != nil {
			log.Error("failed to persist subtask completion", "error", err)
		}
		st.Status = models.SubtaskCompleted
		w.notify(ctx, st)
		return
	}

	isTimeout := strings.Contains(strings.ToLower(genErr.Error()), "timeout")
	errMsg := genErr.Error()

	if w.shouldRetry(st, genErr) {
		if err := w.store.RetryPending(ctx, st.ID, errMsg, isTimeout); err != nil {
			log.Error("failed to persist subtask retry", "error", err)
		}
		st.Status = models.SubtaskPending
		st.Error = &errMsg
		w.notify(ctx, st)
		w.requeue(ctx, st)
		return
	}

	if err := w.store.Fail(ctx, st.ID, errMsg, isTimeout); err != nil {
		log.Error("failed to persist subtask failure", "error", err)
	}
	st.Status = models.SubtaskFailed
	st.Error = &errMsg
	w.notify(ctx, st)
}

// shouldRetry reports whether a failed subtask should be requeued rather
// than left failed: the error must be Retryable and st's accumulated retry
// counts (as of its last successful load, before this attempt) must still
// be under maxRetries.
func (w *Worker) shouldRetry(st *models.Subtask, genErr error) bool {
	if w.maxRetries <= 0 {
		return false
	}
	if !isRetryableErr(genErr) {
		return false
	}
	return st.TimeoutRetryCount+st.ErrorRetryCount < w.maxRetries
}

func (w *Worker) requeue(ctx context.Context, st *models.Subtask) {
	kwargs := map[string]any{"subtask_id": st.ID.String(), "task_id": st.TaskID.String()}
	if err := w.queueClient.Enqueue(ctx, subtaskActor, w.queueName, kwargs, 0); err != nil {
		slog.Error("failed to requeue retryable subtask", "subtask_id", st.ID, "error", err)
	}
}

func (w *Worker) notify(ctx context.Context, st *models.Subtask) {
	if w.notifier == nil {
		return
	}
	w.notifier.NotifySubtaskEvent(ctx, st)
}

func (w *Worker) setStatus(status WorkerStatus, subtaskID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.status = status
	w.currentSubtaskID = subtaskID
	w.lastActivity = time.Now()
}

package dispatch

import (
	"context"

	"github.com/talesofai/nietest-orchestrator/pkg/models"
)

// Enqueuer is the subset of the queue client the scheduler needs. It is
// satisfied by *queue.Client.
type Enqueuer interface {
	Enqueue(ctx context.Context, actorName, queueName string, kwargs map[string]any, delayMS int) error
}

// Queue names for the two subtask partitions. They are fixed here; pkg/config
// has no setting that overrides them.
const (
	NormalQueue = "nietest_subtask"
	OpsQueue    = "nietest_subtask_ops"

	dispatchActor = "process_subtask"
)

// Scheduler dispatches a newly admitted task's subtasks onto the broker,
// partitioned by kind and spaced per their delay curve.
type Scheduler struct {
	queue Enqueuer
}

// NewScheduler builds a Scheduler that enqueues through q.
func NewScheduler(q Enqueuer) *Scheduler {
	return &Scheduler{queue: q}
}

// Dispatch partitions subtasks into Lumina and Normal groups (stable order
// preserved within each) and enqueues every subtask with its partition's
// cumulative delay.
func (s *Scheduler) Dispatch(ctx context.Context, subtasks []models.Subtask) error {
	var normal, lumina []models.Subtask
	for _, st := range subtasks {
		if st.IsLumina {
			lumina = append(lumina, st)
		} else {
			normal = append(normal, st)
		}
	}

	if err := s.dispatchPartition(ctx, normal, NormalQueue, NormalDelayMS); err != nil {
		return err
	}
	return s.dispatchPartition(ctx, lumina, OpsQueue, LuminaDelayMS)
}

func (s *Scheduler) dispatchPartition(ctx context.Context, subtasks []models.Subtask, queueName string, delayFn func(int) int) error {
	delays := CumulativeDelaysMS(len(subtasks), delayFn)
	for i, st := range subtasks {
		kwargs := map[string]any{"subtask_id": st.ID.String(), "task_id": st.TaskID.String()}
		if err := s.queue.Enqueue(ctx, dispatchActor, queueName, kwargs, delays[i]); err != nil {
			return err
		}
	}
	return nil
}

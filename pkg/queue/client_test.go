package queue

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewClient(rdb), mr
}

func TestEnqueueDequeue_NoDelay(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "process_subtask", "normal", map[string]any{"subtask_id": "s1"}, 0))

	msg, raw, err := c.Dequeue(ctx, "normal", "normal.processing", time.Second)
	require.NoError(t, err)
	require.Equal(t, "process_subtask", msg.ActorName)
	require.Equal(t, "s1", msg.Kwargs["subtask_id"])
	require.NoError(t, c.Ack(ctx, "normal", "normal.processing", raw))
}

func TestEnqueue_Delayed_PromotedByPromoter(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "process_subtask", "normal", map[string]any{"subtask_id": "s2"}, 50))

	depths, err := c.QueueDepths(ctx, []string{"normal"})
	require.NoError(t, err)
	require.EqualValues(t, 0, depths["normal"])
	require.EqualValues(t, 1, depths["normal.DQ"])

	// due times are wall-clock millis, so wait them out for real
	time.Sleep(100 * time.Millisecond)
	n, err := c.PromoteDue(ctx, "normal")
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	depths, err = c.QueueDepths(ctx, []string{"normal"})
	require.NoError(t, err)
	require.EqualValues(t, 1, depths["normal"])
	require.EqualValues(t, 0, depths["normal.DQ"])
}

// P9: after cancellation cleanup, no message remains referencing a scrubbed id.
func TestRemoveBySubtaskIDs(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "process_subtask", "normal", map[string]any{"subtask_id": "a"}, 0))
	require.NoError(t, c.Enqueue(ctx, "process_subtask", "normal", map[string]any{"subtask_id": "b"}, 0))
	require.NoError(t, c.Enqueue(ctx, "process_subtask", "normal", map[string]any{"subtask_id": "c"}, 5000))

	result, err := c.RemoveBySubtaskIDs(ctx, "normal", []string{"a", "c"})
	require.NoError(t, err)
	require.Equal(t, 1, result.ReadyRemoved)
	require.Equal(t, 1, result.DelayedRemoved)

	depths, err := c.QueueDepths(ctx, []string{"normal"})
	require.NoError(t, err)
	require.EqualValues(t, 1, depths["normal"])
	require.EqualValues(t, 0, depths["normal.DQ"])
}

func TestScrubByPredicate(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Enqueue(ctx, "process_subtask", "normal", map[string]any{"subtask_id": "a"}, 0))
	require.NoError(t, c.Enqueue(ctx, "process_subtask", "normal", map[string]any{"subtask_id": "b"}, 0))

	result, err := c.ScrubByPredicate(ctx, "normal", BodyReferencesAnyID([]string{"a"}))
	require.NoError(t, err)
	require.Equal(t, 1, result.ReadyRemoved)

	depths, err := c.QueueDepths(ctx, []string{"normal"})
	require.NoError(t, err)
	require.EqualValues(t, 1, depths["normal"])
}

// Package queue implements the Redis-backed queue client and the subtask
// worker pool that dequeues from it.
//
// Each logical queue is a pair of Redis keys: a List holding ready messages
// and a Sorted Set, "<queue>.DQ", holding delayed messages scored by their
// due timestamp. A background promoter moves due members from the delayed
// set onto the ready list. Every enqueued message that carries a
// subtask_id is additionally indexed in a Hash, "<queue>.IDX", mapping
// subtask_id -> raw message, so cancellation cleanup can remove a message in
// O(1) instead of scanning the queue body.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Message is the wire envelope enqueued for every job, matching the broker
// format: {actor_name, args, kwargs, options}.
type Message struct {
	ActorName string         `json:"actor_name"`
	Args      []any          `json:"args"`
	Kwargs    map[string]any `json:"kwargs"`
	Options   MessageOptions `json:"options"`
}

// MessageOptions carries per-message delivery options.
type MessageOptions struct {
	DelayMS int `json:"delay,omitempty"`
}

// Client is the Redis-backed queue client.
type Client struct {
	rdb *redis.Client
}

// NewClient wraps an existing Redis client. The caller owns rdb's lifecycle.
func NewClient(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

func delayedKey(queueName string) string { return queueName + ".DQ" }
func indexKey(queueName string) string    { return queueName + ".IDX" }

// Enqueue packages actorName/kwargs onto queueName, routing to the delayed
// variant when delayMS is non-zero. If kwargs carries a "subtask_id" string,
// the message is also recorded in the queue's index for later targeted
// removal.
func (c *Client) Enqueue(ctx context.Context, actorName, queueName string, kwargs map[string]any, delayMS int) error {
	msg := Message{
		ActorName: actorName,
		Args:      []any{},
		Kwargs:    kwargs,
	}
	if delayMS > 0 {
		msg.Options.DelayMS = delayMS
	}
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("queue: marshal message: %w", err)
	}

	pipe := c.rdb.TxPipeline()
	if delayMS > 0 {
		dueAt := float64(time.Now().Add(time.Duration(delayMS) * time.Millisecond).UnixMilli())
		pipe.ZAdd(ctx, delayedKey(queueName), redis.Z{Score: dueAt, Member: raw})
	} else {
		pipe.RPush(ctx, queueName, raw)
	}
	if id, ok := kwargs["subtask_id"].(string); ok && id != "" {
		pipe.HSet(ctx, indexKey(queueName), id, raw)
	}
	_, err = pipe.Exec(ctx)
	if err != nil {
		return fmt.Errorf("queue: enqueue: %w", err)
	}
	return nil
}

// Dequeue atomically moves the next ready message from queueName to
// processingList, blocking up to timeout. It returns redis.Nil when nothing
// became available within timeout.
func (c *Client) Dequeue(ctx context.Context, queueName, processingList string, timeout time.Duration) (*Message, string, error) {
	raw, err := c.rdb.BLMove(ctx, queueName, processingList, "LEFT", "RIGHT", timeout).Result()
	if err != nil {
		return nil, "", err
	}
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return nil, "", fmt.Errorf("queue: unmarshal message: %w", err)
	}
	return &msg, raw, nil
}

// Ack removes a delivered message from its processing list once it has been
// handled (successfully or not) and clears its index entry, if any.
func (c *Client) Ack(ctx context.Context, queueName, processingList, raw string) error {
	pipe := c.rdb.TxPipeline()
	pipe.LRem(ctx, processingList, 1, raw)
	var msg Message
	if err := json.Unmarshal([]byte(raw), &msg); err == nil {
		if id, ok := msg.Kwargs["subtask_id"].(string); ok && id != "" {
			pipe.HDel(ctx, indexKey(queueName), id)
		}
	}
	_, err := pipe.Exec(ctx)
	return err
}

// promoteDueScript atomically moves every delayed member due by now from the
// delayed set to the ready list.
var promoteDueScript = redis.NewScript(`
local delayed_key = KEYS[1]
local ready_key = KEYS[2]
local now = tonumber(ARGV[1])
local due = redis.call('ZRANGEBYSCORE', delayed_key, '-inf', now)
if #due > 0 then
	redis.call('ZREMRANGEBYSCORE', delayed_key, '-inf', now)
	for _, m in ipairs(due) do
		redis.call('RPUSH', ready_key, m)
	end
end
return #due
`)

// PromoteDue moves every delayed message of queueName whose due time has
// passed onto its ready list, returning the count moved.
func (c *Client) PromoteDue(ctx context.Context, queueName string) (int64, error) {
	now := time.Now().UnixMilli()
	res, err := promoteDueScript.Run(ctx, c.rdb, []string{delayedKey(queueName), queueName}, now).Result()
	if err != nil {
		return 0, err
	}
	n, _ := res.(int64)
	return n, nil
}

// RunPromoter polls PromoteDue for every queue in queueNames at interval
// until ctx is cancelled. Intended to run as a single background goroutine
// per process.
func (c *Client) RunPromoter(ctx context.Context, queueNames []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, q := range queueNames {
				_, _ = c.PromoteDue(ctx, q)
			}
		}
	}
}

// QueueDepths reports the ready-list and delayed-set length for each queue
// in queueNames.
func (c *Client) QueueDepths(ctx context.Context, queueNames []string) (map[string]int64, error) {
	depths := make(map[string]int64, len(queueNames)*2)
	for _, q := range queueNames {
		n, err := c.rdb.LLen(ctx, q).Result()
		if err != nil {
			return nil, err
		}
		depths[q] = n
		dn, err := c.rdb.ZCard(ctx, delayedKey(q)).Result()
		if err != nil {
			return nil, err
		}
		depths[delayedKey(q)] = dn
	}
	return depths, nil
}

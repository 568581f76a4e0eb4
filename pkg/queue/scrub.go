package queue

import (
	"context"
	"encoding/json"
)

// ScrubResult reports how many matching messages were removed from the
// ready list and the delayed set, respectively.
type ScrubResult struct {
	ReadyRemoved   int
	DelayedRemoved int
}

// Predicate decides whether a raw message body should be scrubbed.
type Predicate func(messageBody []byte) bool

// BodyReferencesAnyID returns a Predicate matching a message whose
// subtask_id kwarg is exactly one of ids, for use with ScrubByPredicate.
// Cancellation cleanup does not use it; it goes through RemoveBySubtaskIDs.
func BodyReferencesAnyID(ids []string) Predicate {
	set := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return func(body []byte) bool {
		var msg Message
		if err := json.Unmarshal(body, &msg); err != nil {
			return false
		}
		id, ok := msg.Kwargs["subtask_id"].(string)
		if !ok {
			return false
		}
		_, found := set[id]
		return found
	}
}

// ScrubByPredicate scans queueName's ready list and delayed set and
// atomically removes every message for which predicate holds, returning the
// count removed. It is the general-purpose fallback; cancellation cleanup
// prefers RemoveBySubtaskIDs, which is O(1) per id via the queue's index.
func (c *Client) ScrubByPredicate(ctx context.Context, queueName string, predicate Predicate) (ScrubResult, error) {
	var result ScrubResult

	ready, err := c.rdb.LRange(ctx, queueName, 0, -1).Result()
	if err != nil {
		return result, err
	}
	for _, raw := range ready {
		if predicate([]byte(raw)) {
			if err := c.rdb.LRem(ctx, queueName, 0, raw).Err(); err != nil {
				return result, err
			}
			result.ReadyRemoved++
		}
	}

	delayed, err := c.rdb.ZRange(ctx, delayedKey(queueName), 0, -1).Result()
	if err != nil {
		return result, err
	}
	for _, raw := range delayed {
		if predicate([]byte(raw)) {
			if err := c.rdb.ZRem(ctx, delayedKey(queueName), raw).Err(); err != nil {
				return result, err
			}
			result.DelayedRemoved++
		}
	}
	return result, nil
}

// RemoveBySubtaskIDs removes every indexed message referencing one of
// subtaskIDs from queueName's ready list and delayed set, using the
// per-queue index instead of scanning. Best-effort and non-transactional
// per message, but completes synchronously before returning.
func (c *Client) RemoveBySubtaskIDs(ctx context.Context, queueName string, subtaskIDs []string) (ScrubResult, error) {
	var result ScrubResult
	for _, id := range subtaskIDs {
		raw, err := c.rdb.HGet(ctx, indexKey(queueName), id).Result()
		if err != nil {
			continue // not indexed on this queue (e.g. belongs to the other queue)
		}
		if n, err := c.rdb.LRem(ctx, queueName, 0, raw).Result(); err == nil && n > 0 {
			result.ReadyRemoved += int(n)
		}
		if n, err := c.rdb.ZRem(ctx, delayedKey(queueName), raw).Result(); err == nil && n > 0 {
			result.DelayedRemoved += int(n)
		}
		_ = c.rdb.HDel(ctx, indexKey(queueName), id).Err()
	}
	return result, nil
}

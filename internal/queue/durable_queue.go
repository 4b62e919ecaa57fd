package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	runQueueKey      = "engine:runqueue"
	processingSetKey = "engine:runqueue:processing"
)

// Entry is one queued unit of work: a run at a given attempt. Attempt lets
// a redelivered entry be told apart from a fresh enqueue, per spec
// section 4.7's "(runId, attempt)" at-most-once-per-attempt contract.
type Entry struct {
	RunID      string    `json:"runId"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueuedAt"`
}

func (e Entry) processingMember() string {
	return fmt.Sprintf("%s|%d", e.RunID, e.Attempt)
}

// DurableQueue is the at-least-once-delivery run queue backing admission's
// final step. It is a Redis list for ordering plus a sorted-set "in
// flight" ledger keyed by processing deadline, the same shape as the
// pack's Redis job queue (list enqueue/dequeue, ZSET processing-deadline
// tracking for redelivery).
type DurableQueue struct {
	client *redis.Client
}

// NewDurableQueue wraps client.
func NewDurableQueue(client *redis.Client) *DurableQueue {
	return &DurableQueue{client: client}
}

// Push appends entry to the queue tail.
func (q *DurableQueue) Push(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal queue entry: %w", err)
	}
	return q.client.RPush(ctx, runQueueKey, data).Err()
}

// Pop blocks up to timeout for the next entry and marks it processing
// with the given visibility deadline. Returns (nil, nil) on timeout.
func (q *DurableQueue) Pop(ctx context.Context, timeout, visibility time.Duration) (*Entry, error) {
	result, err := q.client.BLPop(ctx, timeout, runQueueKey).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("pop queue entry: %w", err)
	}
	if len(result) < 2 {
		return nil, nil
	}

	var entry Entry
	if err := json.Unmarshal([]byte(result[1]), &entry); err != nil {
		return nil, fmt.Errorf("unmarshal queue entry: %w", err)
	}

	deadline := time.Now().Add(visibility)
	if err := q.client.ZAdd(ctx, processingSetKey, redis.Z{
		Score:  float64(deadline.Unix()),
		Member: entry.processingMember(),
	}).Err(); err != nil {
		return nil, fmt.Errorf("mark processing: %w", err)
	}

	return &entry, nil
}

// Ack removes entry from the processing ledger. The worker pool acks an
// entry after its Processor has finished the whole run, or when it gives
// up on the entry after its last queue attempt.
func (q *DurableQueue) Ack(ctx context.Context, entry Entry) error {
	return q.client.ZRem(ctx, processingSetKey, entry.processingMember()).Err()
}

// Requeue re-pushes entry at the next attempt, clearing its processing
// ledger entry. Callers (the worker loop, or the redelivery sweep) decide
// the next attempt number; the Dispatcher's retry policy, not this queue,
// owns retry/backoff semantics.
func (q *DurableQueue) Requeue(ctx context.Context, entry Entry) error {
	if err := q.client.ZRem(ctx, processingSetKey, entry.processingMember()).Err(); err != nil {
		return fmt.Errorf("clear processing entry: %w", err)
	}
	entry.EnqueuedAt = time.Now()
	return q.Push(ctx, entry)
}

// SweepExpired finds processing entries whose visibility deadline has
// passed (the worker crashed or hung before Ack) and returns them so the
// caller can requeue each; this is how a crash becomes a redelivery
// rather than a silently lost run.
func (q *DurableQueue) SweepExpired(ctx context.Context) ([]Entry, error) {
	now := float64(time.Now().Unix())
	members, err := q.client.ZRangeByScore(ctx, processingSetKey, &redis.ZRangeBy{
		Min: "-inf", Max: fmt.Sprintf("%f", now),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("scan expired processing entries: %w", err)
	}

	entries := make([]Entry, 0, len(members))
	for _, member := range members {
		runID, attemptStr, ok := strings.Cut(member, "|")
		if !ok {
			continue
		}
		attempt, err := strconv.Atoi(attemptStr)
		if err != nil {
			continue
		}
		entries = append(entries, Entry{RunID: runID, Attempt: attempt})
	}
	return entries, nil
}

// Depth returns the number of entries waiting in the queue (not counting
// ones currently being processed).
func (q *DurableQueue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, runQueueKey).Result()
}

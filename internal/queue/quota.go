package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// quotaWindow is the rolling window organization execution and usage
// quotas reset on. A fixed daily window keeps the reset timestamp
// predictable for the admission error's ResetAt field.
const quotaWindow = 24 * time.Hour

// QuotaManager tracks per-organization counters backed by Redis INCR with
// a window TTL, and a per-connector in-flight gauge the dispatcher's
// connector calls increment/decrement around.
type QuotaManager struct {
	client *redis.Client
}

// NewQuotaManager wraps client for quota bookkeeping.
func NewQuotaManager(client *redis.Client) *QuotaManager {
	return &QuotaManager{client: client}
}

func execQuotaKey(orgID string) string   { return fmt.Sprintf("engine:quota:exec:%s", orgID) }
func usageQuotaKey(orgID, kind string) string {
	return fmt.Sprintf("engine:quota:usage:%s:%s", orgID, kind)
}
func inFlightKey(orgID, app string) string {
	return fmt.Sprintf("engine:inflight:%s:%s", orgID, app)
}

// CheckAndIncrementExecution increments the organization's execution
// counter and reports whether it now exceeds limit. On a fresh (or
// expired) counter it starts a new quotaWindow.
func (q *QuotaManager) CheckAndIncrementExecution(ctx context.Context, orgID string, limit int) (exceeded bool, resetAt time.Time, err error) {
	key := execQuotaKey(orgID)
	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return false, time.Time{}, fmt.Errorf("increment execution quota: %w", err)
	}
	if count == 1 {
		q.client.Expire(ctx, key, quotaWindow)
	}
	ttl, err := q.client.TTL(ctx, key).Result()
	if err != nil || ttl < 0 {
		ttl = quotaWindow
	}
	resetAt = time.Now().Add(ttl)
	return int(count) > limit, resetAt, nil
}

// RollbackExecution undoes CheckAndIncrementExecution, for callers that
// increment optimistically before a later admission check fails the run.
func (q *QuotaManager) RollbackExecution(ctx context.Context, orgID string) {
	q.client.Decr(ctx, execQuotaKey(orgID))
}

// CheckAndIncrementUsage increments a named usage quota (API calls,
// tokens, ...) by amount and reports whether it now exceeds limit.
func (q *QuotaManager) CheckAndIncrementUsage(ctx context.Context, orgID, kind string, amount int64, limit int64) (exceeded bool, err error) {
	key := usageQuotaKey(orgID, kind)
	count, err := q.client.IncrBy(ctx, key, amount).Result()
	if err != nil {
		return false, fmt.Errorf("increment usage quota %s: %w", kind, err)
	}
	if count == amount {
		q.client.Expire(ctx, key, quotaWindow)
	}
	return count > limit, nil
}

// InFlight returns the current per-connector in-flight count for an
// organization.
func (q *QuotaManager) InFlight(ctx context.Context, orgID, app string) (int64, error) {
	v, err := q.client.Get(ctx, inFlightKey(orgID, app)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	return v, err
}

// AcquireInFlight increments the per-connector in-flight gauge and reports
// whether doing so stayed within cap. If it did not, the increment is
// rolled back immediately (the caller never got the slot).
func (q *QuotaManager) AcquireInFlight(ctx context.Context, orgID, app string, maxInFlight int) (bool, error) {
	key := inFlightKey(orgID, app)
	count, err := q.client.Incr(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("acquire in-flight slot: %w", err)
	}
	if int(count) > maxInFlight {
		q.client.Decr(ctx, key)
		return false, nil
	}
	return true, nil
}

// ReleaseInFlight returns a previously acquired in-flight slot.
func (q *QuotaManager) ReleaseInFlight(ctx context.Context, orgID, app string) {
	q.client.Decr(ctx, inFlightKey(orgID, app))
}

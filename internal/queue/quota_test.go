package queue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestQuotaManager(t *testing.T) *QuotaManager {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return NewQuotaManager(client)
}

func TestQuotaManager_ExecutionQuotaAllowsUpToLimit(t *testing.T) {
	q := newTestQuotaManager(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		exceeded, _, err := q.CheckAndIncrementExecution(ctx, "org-1", 3)
		if err != nil {
			t.Fatalf("increment %d: %v", i, err)
		}
		if exceeded {
			t.Fatalf("increment %d: unexpectedly exceeded limit 3", i)
		}
	}

	exceeded, resetAt, err := q.CheckAndIncrementExecution(ctx, "org-1", 3)
	if err != nil {
		t.Fatalf("fourth increment: %v", err)
	}
	if !exceeded {
		t.Fatal("expected fourth increment to exceed limit 3")
	}
	if resetAt.IsZero() {
		t.Fatal("expected a non-zero reset time")
	}
}

func TestQuotaManager_RollbackExecutionFreesASlot(t *testing.T) {
	q := newTestQuotaManager(t)
	ctx := context.Background()

	q.CheckAndIncrementExecution(ctx, "org-1", 1)
	q.RollbackExecution(ctx, "org-1")

	exceeded, _, err := q.CheckAndIncrementExecution(ctx, "org-1", 1)
	if err != nil {
		t.Fatalf("increment: %v", err)
	}
	if exceeded {
		t.Fatal("expected rollback to free the slot consumed by the first increment")
	}
}

func TestQuotaManager_InFlightAcquireRespectsCap(t *testing.T) {
	q := newTestQuotaManager(t)
	ctx := context.Background()

	ok1, err := q.AcquireInFlight(ctx, "org-1", "http", 1)
	if err != nil || !ok1 {
		t.Fatalf("first acquire: ok=%v err=%v", ok1, err)
	}

	ok2, err := q.AcquireInFlight(ctx, "org-1", "http", 1)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok2 {
		t.Fatal("expected second acquire to fail at cap 1")
	}

	count, err := q.InFlight(ctx, "org-1", "http")
	if err != nil {
		t.Fatalf("InFlight: %v", err)
	}
	if count != 1 {
		t.Fatalf("got in-flight count %d, want 1 (failed acquire should roll back)", count)
	}
}

func TestQuotaManager_ReleaseInFlightDecrements(t *testing.T) {
	q := newTestQuotaManager(t)
	ctx := context.Background()

	q.AcquireInFlight(ctx, "org-1", "http", 5)
	q.ReleaseInFlight(ctx, "org-1", "http")

	count, err := q.InFlight(ctx, "org-1", "http")
	if err != nil {
		t.Fatalf("InFlight: %v", err)
	}
	if count != 0 {
		t.Fatalf("got %d, want 0 after release", count)
	}
}

func TestQuotaManager_UsageQuotaAccumulatesAndCapsAtLimit(t *testing.T) {
	q := newTestQuotaManager(t)
	ctx := context.Background()

	exceeded, err := q.CheckAndIncrementUsage(ctx, "org-1", "tokens", 50, 100)
	if err != nil || exceeded {
		t.Fatalf("first usage increment: exceeded=%v err=%v", exceeded, err)
	}

	exceeded, err = q.CheckAndIncrementUsage(ctx, "org-1", "tokens", 60, 100)
	if err != nil {
		t.Fatalf("second usage increment: %v", err)
	}
	if !exceeded {
		t.Fatal("expected cumulative usage of 110 to exceed limit 100")
	}
}

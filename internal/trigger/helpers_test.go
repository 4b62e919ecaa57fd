package trigger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/fluxgraph/engine/internal/config"
	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/infrastructure/cache"
	"github.com/fluxgraph/engine/internal/queue"
)

type fakeTriggerRepo struct {
	mu       sync.Mutex
	triggers map[string]*domain.Trigger
	marked   []string
}

func newFakeTriggerRepo() *fakeTriggerRepo {
	return &fakeTriggerRepo{triggers: make(map[string]*domain.Trigger)}
}

func (f *fakeTriggerRepo) SaveTrigger(ctx context.Context, t *domain.Trigger) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggers[t.ID] = t
	return nil
}

func (f *fakeTriggerRepo) GetTrigger(ctx context.Context, id string) (*domain.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.triggers[id]
	if !ok {
		return nil, domain.ErrTriggerNotFound
	}
	return t, nil
}

func (f *fakeTriggerRepo) ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*domain.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Trigger
	for _, t := range f.triggers {
		if t.WorkflowID == workflowID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTriggerRepo) ListEnabledTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Trigger
	for _, t := range f.triggers {
		if t.Enabled {
			out = append(out, t)
		}
	}
	return out, nil
}

func (f *fakeTriggerRepo) DeleteTrigger(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.triggers, id)
	return nil
}

func (f *fakeTriggerRepo) MarkTriggered(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked = append(f.marked, id)
	if t, ok := f.triggers[id]; ok {
		now := time.Now()
		t.LastTriggeredAt = &now
	}
	return nil
}

func (f *fakeTriggerRepo) markCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.marked)
}

type fakeWorkflowRepo struct {
	workflows map[string]*domain.Workflow
}

func (f *fakeWorkflowRepo) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	f.workflows[wf.ID] = wf
	return nil
}
func (f *fakeWorkflowRepo) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	wf, ok := f.workflows[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return wf, nil
}
func (f *fakeWorkflowRepo) ListWorkflows(ctx context.Context, limit, offset int) ([]*domain.Workflow, error) {
	return nil, nil
}
func (f *fakeWorkflowRepo) DeleteWorkflow(ctx context.Context, id string) error {
	delete(f.workflows, id)
	return nil
}

type fakeRevisionRepo struct {
	published map[string]*domain.Revision
}

func (f *fakeRevisionRepo) PublishRevision(ctx context.Context, rev *domain.Revision) error {
	f.published[string(rev.WorkflowID)+"|"+string(rev.Environment)] = rev
	return nil
}
func (f *fakeRevisionRepo) GetPublished(ctx context.Context, workflowID string, env domain.Environment) (*domain.Revision, error) {
	rev, ok := f.published[workflowID+"|"+string(env)]
	if !ok {
		return nil, domain.ErrRevisionNotFound
	}
	return rev, nil
}
func (f *fakeRevisionRepo) GetRevision(ctx context.Context, id string) (*domain.Revision, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeRevisionRepo) ListRevisions(ctx context.Context, workflowID string) ([]*domain.Revision, error) {
	return nil, nil
}

type fakeRunRepo struct {
	runs map[string]*domain.Run
}

func (f *fakeRunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	f.runs[run.ID] = run
	return nil
}
func (f *fakeRunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	run, ok := f.runs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return run, nil
}
func (f *fakeRunRepo) ListRuns(ctx context.Context, workflowID string, limit, offset int) ([]*domain.Run, error) {
	return nil, nil
}
func (f *fakeRunRepo) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	if run, ok := f.runs[id]; ok {
		run.Status = status
	}
	return nil
}

type fakePinger struct{ err error }

func (p *fakePinger) Health(ctx context.Context) error { return p.err }

// testHarness bundles everything a trigger handler needs, backed by a
// single miniredis instance shared between the cache and the admitter's
// durable queue/quota counters.
type testHarness struct {
	cache     *cache.RedisCache
	admitter  *queue.Admitter
	triggers  *fakeTriggerRepo
	workflows *fakeWorkflowRepo
	revisions *fakeRevisionRepo
	runs      *fakeRunRepo
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	s := miniredis.RunT(t)

	redisCache, err := cache.NewRedisCache(config.RedisConfig{URL: "redis://" + s.Addr(), PoolSize: 10})
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}

	health := queue.NewHealthProbe(&fakePinger{}, time.Hour, time.Second, nil)
	probeCtx, probeCancel := context.WithCancel(context.Background())
	go health.Run(probeCtx)
	waitForProbe(t, health)
	t.Cleanup(probeCancel)

	heartbeats := queue.NewHeartbeatRegistry(time.Minute)
	heartbeats.Beat("worker-1", queue.RoleExecution)

	workflows := &fakeWorkflowRepo{workflows: make(map[string]*domain.Workflow)}
	revisions := &fakeRevisionRepo{published: make(map[string]*domain.Revision)}
	runs := &fakeRunRepo{runs: make(map[string]*domain.Run)}
	triggers := newFakeTriggerRepo()

	admitter := queue.NewAdmitter(health, heartbeats, workflows, revisions, runs,
		queue.NewQuotaManager(redisCache.Client()), queue.NewDurableQueue(redisCache.Client()),
		queue.Limits{ExecutionQuota: 1000, UsageQuota: 100000, ConnectorInFlight: 32}, nil)

	return &testHarness{cache: redisCache, admitter: admitter, triggers: triggers, workflows: workflows, revisions: revisions, runs: runs}
}

func (h *testHarness) seedWorkflow(workflowID string) {
	h.workflows.workflows[workflowID] = &domain.Workflow{ID: workflowID, Name: "wf"}
	h.revisions.published[workflowID+"|"+string(domain.EnvironmentProduction)] = &domain.Revision{
		ID: "rev-1", WorkflowID: workflowID, Environment: domain.EnvironmentProduction,
	}
}

// waitForProbe blocks until the health probe's background goroutine has
// completed at least one pass, so tests don't race the initial HealthFail
// placeholder snapshot.
func waitForProbe(t *testing.T, h *queue.HealthProbe) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if !h.Snapshot().CheckedAt.IsZero() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("health probe did not complete in time")
}

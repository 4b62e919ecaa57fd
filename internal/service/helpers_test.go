package service

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/fluxgraph/engine/internal/capability"
	"github.com/fluxgraph/engine/internal/config"
	"github.com/fluxgraph/engine/internal/connector"
	"github.com/fluxgraph/engine/internal/connector/builtin"
	"github.com/fluxgraph/engine/internal/dispatch"
	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/infrastructure/cache"
	"github.com/fluxgraph/engine/internal/queue"
	"github.com/fluxgraph/engine/internal/resolver"
)

type fakeWorkflowRepo struct {
	mu        sync.Mutex
	workflows map[string]*domain.Workflow
}

func newFakeWorkflowRepo() *fakeWorkflowRepo {
	return &fakeWorkflowRepo{workflows: make(map[string]*domain.Workflow)}
}

func (f *fakeWorkflowRepo) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[wf.ID] = wf
	return nil
}
func (f *fakeWorkflowRepo) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	wf, ok := f.workflows[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	return wf, nil
}
func (f *fakeWorkflowRepo) ListWorkflows(ctx context.Context, limit, offset int) ([]*domain.Workflow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*domain.Workflow, 0, len(f.workflows))
	for _, wf := range f.workflows {
		out = append(out, wf)
	}
	return out, nil
}
func (f *fakeWorkflowRepo) DeleteWorkflow(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.workflows, id)
	return nil
}

type fakeRevisionRepo struct {
	mu        sync.Mutex
	published map[string]*domain.Revision
	byID      map[string]*domain.Revision
}

func newFakeRevisionRepo() *fakeRevisionRepo {
	return &fakeRevisionRepo{published: make(map[string]*domain.Revision), byID: make(map[string]*domain.Revision)}
}

func (f *fakeRevisionRepo) PublishRevision(ctx context.Context, rev *domain.Revision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published[rev.WorkflowID+"|"+string(rev.Environment)] = rev
	f.byID[rev.ID] = rev
	return nil
}
func (f *fakeRevisionRepo) GetPublished(ctx context.Context, workflowID string, env domain.Environment) (*domain.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rev, ok := f.published[workflowID+"|"+string(env)]
	if !ok {
		return nil, domain.ErrRevisionNotFound
	}
	return rev, nil
}
func (f *fakeRevisionRepo) GetRevision(ctx context.Context, id string) (*domain.Revision, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rev, ok := f.byID[id]
	if !ok {
		return nil, domain.ErrRevisionNotFound
	}
	return rev, nil
}
func (f *fakeRevisionRepo) ListRevisions(ctx context.Context, workflowID string) ([]*domain.Revision, error) {
	return nil, nil
}

type fakeRunRepo struct {
	mu   sync.Mutex
	runs map[string]*domain.Run
}

func newFakeRunRepo() *fakeRunRepo {
	return &fakeRunRepo{runs: make(map[string]*domain.Run)}
}

func (f *fakeRunRepo) CreateRun(ctx context.Context, run *domain.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs[run.ID] = run
	return nil
}
func (f *fakeRunRepo) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	return run, nil
}
func (f *fakeRunRepo) ListRuns(ctx context.Context, workflowID string, limit, offset int) ([]*domain.Run, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*domain.Run
	for _, r := range f.runs {
		if workflowID == "" || r.WorkflowID == workflowID {
			out = append(out, r)
		}
	}
	return out, nil
}
func (f *fakeRunRepo) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if run, ok := f.runs[id]; ok {
		run.Status = status
	}
	return nil
}

type fakeNodeExecutionRepo struct {
	mu         sync.Mutex
	executions map[string][]*domain.NodeExecution
}

func newFakeNodeExecutionRepo() *fakeNodeExecutionRepo {
	return &fakeNodeExecutionRepo{executions: make(map[string][]*domain.NodeExecution)}
}

func (f *fakeNodeExecutionRepo) SaveNodeExecution(ctx context.Context, ne *domain.NodeExecution) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.executions[ne.RunID] = append(f.executions[ne.RunID], ne)
	return nil
}
func (f *fakeNodeExecutionRepo) GetNodeExecutions(ctx context.Context, runID string) ([]*domain.NodeExecution, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executions[runID], nil
}

type fakeEventRepo struct {
	mu     sync.Mutex
	events map[string][]*domain.Event
}

func newFakeEventRepo() *fakeEventRepo {
	return &fakeEventRepo{events: make(map[string][]*domain.Event)}
}

func (f *fakeEventRepo) AppendEvent(ctx context.Context, event *domain.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[event.RunID] = append(f.events[event.RunID], event)
	return nil
}
func (f *fakeEventRepo) ListEvents(ctx context.Context, runID string) ([]*domain.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.events[runID], nil
}

type fakeTriggerRepo struct {
	mu       sync.Mutex
	triggers map[string]*domain.Trigger
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
	return nil
}

// testFixture holds an Operations wired entirely to in-memory fakes,
// sufficient to exercise every non-trigger-manager operation.
type testFixture struct {
	ops       *Operations
	workflows *fakeWorkflowRepo
	revisions *fakeRevisionRepo
	runs      *fakeRunRepo
	nodeExecs *fakeNodeExecutionRepo
	events    *fakeEventRepo
	triggers  *fakeTriggerRepo
}

type fakePinger struct{}

func (fakePinger) Health(ctx context.Context) error { return nil }

// newTestFixture wires an Operations against the real builtin connector
// catalog (core/http/transform/condition/llm) and a real Admitter backed
// by miniredis, the same way cmd/server does at process start, but with
// in-memory repositories in place of Postgres.
func newTestFixture(t *testing.T) *testFixture {
	t.Helper()

	workflows := newFakeWorkflowRepo()
	revisions := newFakeRevisionRepo()
	runs := newFakeRunRepo()
	nodeExecs := newFakeNodeExecutionRepo()
	events := newFakeEventRepo()
	triggers := newFakeTriggerRepo()

	capIndex := capability.NewIndex(capability.BuiltinCatalog())

	registry := connector.NewRegistry()
	builtin.Register(registry, builtin.Options{})

	dispatcher := dispatch.New(registry, capIndex, nil, slog.Default())

	s := miniredis.RunT(t)
	redisCache, err := cache.NewRedisCache(config.RedisConfig{URL: "redis://" + s.Addr(), PoolSize: 10})
	if err != nil {
		t.Fatalf("NewRedisCache: %v", err)
	}

	health := queue.NewHealthProbe(fakePinger{}, time.Hour, time.Second, nil)
	probeCtx, probeCancel := context.WithCancel(context.Background())
	go health.Run(probeCtx)
	t.Cleanup(probeCancel)
	waitForHealthProbe(t, health)

	heartbeats := queue.NewHeartbeatRegistry(time.Minute)
	heartbeats.Beat("worker-1", queue.RoleExecution)

	admitter := queue.NewAdmitter(health, heartbeats, workflows, revisions, runs,
		queue.NewQuotaManager(redisCache.Client()), queue.NewDurableQueue(redisCache.Client()),
		queue.Limits{ExecutionQuota: 1000, UsageQuota: 100000, ConnectorInFlight: 32}, nil)

	res := resolver.New(func(app string) (resolver.Describer, bool) {
		inv, err := registry.Get(app)
		if err != nil {
			return nil, false
		}
		describer, ok := inv.(resolver.Describer)
		return describer, ok
	}, redisCache, slog.Default())

	ops := New(Config{
		Repos: repository.Repositories{
			Workflows:      workflows,
			Revisions:      revisions,
			Runs:           runs,
			NodeExecutions: nodeExecs,
			Events:         events,
			Triggers:       triggers,
		},
		CapIndex:   capIndex,
		Dispatcher: dispatcher,
		Admitter:   admitter,
		Health:     health,
		Heartbeats: heartbeats,
		Resolver:   res,
		Logger:     slog.Default(),
	})

	return &testFixture{
		ops:       ops,
		workflows: workflows,
		revisions: revisions,
		runs:      runs,
		nodeExecs: nodeExecs,
		events:    events,
		triggers:  triggers,
	}
}

// waitForHealthProbe blocks until the health probe's background goroutine
// has completed at least one pass, so tests don't race the initial
// placeholder snapshot.
func waitForHealthProbe(t *testing.T, h *queue.HealthProbe) {
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

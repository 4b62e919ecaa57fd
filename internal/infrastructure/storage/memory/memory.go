// Package memory provides in-process implementations of every
// internal/domain/repository interface, backed by plain maps guarded by a
// mutex. It exists for local development and tests that want a working
// Repositories bundle without a Postgres instance; internal/infrastructure/
// storage's Bun-backed repositories are the durable implementation used in
// production.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
)

// Store bundles one in-memory repository per domain aggregate and exposes
// them as a repository.Repositories.
type Store struct {
	Workflows      *WorkflowRepository
	Revisions      *RevisionRepository
	Runs           *RunRepository
	NodeExecutions *NodeExecutionRepository
	Events         *EventRepository
	Triggers       *TriggerRepository
}

// New returns an empty Store.
func New() *Store {
	return &Store{
		Workflows:      &WorkflowRepository{rows: make(map[string]*domain.Workflow)},
		Revisions:      &RevisionRepository{rows: make(map[string]*domain.Revision)},
		Runs:           &RunRepository{rows: make(map[string]*domain.Run)},
		NodeExecutions: &NodeExecutionRepository{rows: make(map[string]*domain.NodeExecution)},
		Events:         &EventRepository{rows: make(map[string][]*domain.Event)},
		Triggers:       &TriggerRepository{rows: make(map[string]*domain.Trigger)},
	}
}

// Repositories adapts the store to repository.Repositories.
func (s *Store) Repositories() repository.Repositories {
	return repository.Repositories{
		Workflows:      s.Workflows,
		Revisions:      s.Revisions,
		Runs:           s.Runs,
		NodeExecutions: s.NodeExecutions,
		Events:         s.Events,
		Triggers:       s.Triggers,
	}
}

var _ repository.WorkflowRepository = (*WorkflowRepository)(nil)

// WorkflowRepository is an in-memory repository.WorkflowRepository.
type WorkflowRepository struct {
	mu   sync.RWMutex
	rows map[string]*domain.Workflow
}

func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if wf.ID == "" {
		wf.ID = uuid.NewString()
	}
	clone := *wf
	r.rows[wf.ID] = &clone
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	wf, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrWorkflowNotFound
	}
	clone := *wf
	return &clone, nil
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, limit, offset int) ([]*domain.Workflow, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Workflow, 0, len(r.rows))
	for _, wf := range r.rows {
		clone := *wf
		out = append(out, &clone)
	}
	return paginate(out, limit, offset), nil
}

func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return domain.ErrWorkflowNotFound
	}
	delete(r.rows, id)
	return nil
}

var _ repository.RevisionRepository = (*RevisionRepository)(nil)

// RevisionRepository is an in-memory repository.RevisionRepository.
type RevisionRepository struct {
	mu   sync.RWMutex
	rows map[string]*domain.Revision
}

func (r *RevisionRepository) PublishRevision(ctx context.Context, rev *domain.Revision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rev.ID == "" {
		rev.ID = uuid.NewString()
	}
	clone := *rev
	r.rows[rev.ID] = &clone
	return nil
}

func (r *RevisionRepository) GetPublished(ctx context.Context, workflowID string, env domain.Environment) (*domain.Revision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *domain.Revision
	for _, rev := range r.rows {
		if rev.WorkflowID != workflowID || rev.Environment != env {
			continue
		}
		if latest == nil || rev.PublishedAt.After(latest.PublishedAt) {
			latest = rev
		}
	}
	if latest == nil {
		return nil, domain.ErrRevisionNotFound
	}
	clone := *latest
	return &clone, nil
}

func (r *RevisionRepository) GetRevision(ctx context.Context, id string) (*domain.Revision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rev, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrRevisionNotFound
	}
	clone := *rev
	return &clone, nil
}

func (r *RevisionRepository) ListRevisions(ctx context.Context, workflowID string) ([]*domain.Revision, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Revision, 0)
	for _, rev := range r.rows {
		if rev.WorkflowID == workflowID {
			clone := *rev
			out = append(out, &clone)
		}
	}
	return out, nil
}

var _ repository.RunRepository = (*RunRepository)(nil)

// RunRepository is an in-memory repository.RunRepository.
type RunRepository struct {
	mu   sync.RWMutex
	rows map[string]*domain.Run
}

func (r *RunRepository) CreateRun(ctx context.Context, run *domain.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	clone := *run
	r.rows[run.ID] = &clone
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	clone := *run
	return &clone, nil
}

func (r *RunRepository) ListRuns(ctx context.Context, workflowID string, limit, offset int) ([]*domain.Run, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Run, 0)
	for _, run := range r.rows {
		if run.WorkflowID == workflowID {
			clone := *run
			out = append(out, &clone)
		}
	}
	return paginateRuns(out, limit, offset), nil
}

func (r *RunRepository) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.rows[id]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Status = status
	return nil
}

var _ repository.NodeExecutionRepository = (*NodeExecutionRepository)(nil)

// NodeExecutionRepository is an in-memory repository.NodeExecutionRepository.
type NodeExecutionRepository struct {
	mu   sync.RWMutex
	rows map[string]*domain.NodeExecution
}

func (r *NodeExecutionRepository) SaveNodeExecution(ctx context.Context, ne *domain.NodeExecution) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *ne
	r.rows[ne.RunID+"|"+ne.NodeID+"|"+itoa(ne.Attempt)] = &clone
	return nil
}

func (r *NodeExecutionRepository) GetNodeExecutions(ctx context.Context, runID string) ([]*domain.NodeExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.NodeExecution, 0)
	for _, ne := range r.rows {
		if ne.RunID == runID {
			clone := *ne
			out = append(out, &clone)
		}
	}
	return out, nil
}

var _ repository.EventRepository = (*EventRepository)(nil)

// EventRepository is an in-memory repository.EventRepository.
type EventRepository struct {
	mu   sync.Mutex
	rows map[string][]*domain.Event
	seen map[string]struct{}
}

func (r *EventRepository) AppendEvent(ctx context.Context, event *domain.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.seen == nil {
		r.seen = make(map[string]struct{})
	}
	key := event.IdempotencyKey()
	if _, ok := r.seen[key]; ok {
		return nil
	}
	r.seen[key] = struct{}{}
	clone := *event
	r.rows[event.RunID] = append(r.rows[event.RunID], &clone)
	return nil
}

func (r *EventRepository) ListEvents(ctx context.Context, runID string) ([]*domain.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.Event, len(r.rows[runID]))
	copy(out, r.rows[runID])
	return out, nil
}

var _ repository.TriggerRepository = (*TriggerRepository)(nil)

// TriggerRepository is an in-memory repository.TriggerRepository.
type TriggerRepository struct {
	mu   sync.RWMutex
	rows map[string]*domain.Trigger
}

func (r *TriggerRepository) SaveTrigger(ctx context.Context, t *domain.Trigger) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	clone := *t
	r.rows[t.ID] = &clone
	return nil
}

func (r *TriggerRepository) GetTrigger(ctx context.Context, id string) (*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrTriggerNotFound
	}
	clone := *t
	return &clone, nil
}

func (r *TriggerRepository) ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Trigger, 0)
	for _, t := range r.rows {
		if t.WorkflowID == workflowID {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *TriggerRepository) ListEnabledTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*domain.Trigger, 0)
	for _, t := range r.rows {
		if t.Enabled {
			clone := *t
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (r *TriggerRepository) DeleteTrigger(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[id]; !ok {
		return domain.ErrTriggerNotFound
	}
	delete(r.rows, id)
	return nil
}

func (r *TriggerRepository) MarkTriggered(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.rows[id]
	if !ok {
		return domain.ErrTriggerNotFound
	}
	now := time.Now()
	t.LastTriggeredAt = &now
	return nil
}

func paginate(wfs []*domain.Workflow, limit, offset int) []*domain.Workflow {
	if offset >= len(wfs) {
		return []*domain.Workflow{}
	}
	wfs = wfs[offset:]
	if limit > 0 && limit < len(wfs) {
		wfs = wfs[:limit]
	}
	return wfs
}

func paginateRuns(runs []*domain.Run, limit, offset int) []*domain.Run {
	if offset >= len(runs) {
		return []*domain.Run{}
	}
	runs = runs[offset:]
	if limit > 0 && limit < len(runs) {
		runs = runs[:limit]
	}
	return runs
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

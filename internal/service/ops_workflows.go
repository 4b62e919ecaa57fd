package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fluxgraph/engine/internal/diff"
	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/graph"
	"github.com/fluxgraph/engine/internal/validator"
)

// ListWorkflowsParams contains parameters for listing workflows.
type ListWorkflowsParams struct {
	Limit  int
	Offset int
}

func (o *Operations) ListWorkflows(ctx context.Context, params ListWorkflowsParams) ([]*domain.Workflow, error) {
	workflows, err := o.Workflows.ListWorkflows(ctx, params.Limit, params.Offset)
	if err != nil {
		o.Logger.Error("failed to list workflows", "error", err)
		return nil, err
	}
	return workflows, nil
}

func (o *Operations) GetWorkflow(ctx context.Context, workflowID string) (*domain.Workflow, error) {
	wf, err := o.Workflows.GetWorkflow(ctx, workflowID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			return nil, newNotFoundError("WORKFLOW_NOT_FOUND", "workflow not found", err)
		}
		o.Logger.Error("failed to get workflow", "error", err, "workflowId", workflowID)
		return nil, err
	}
	return wf, nil
}

// SaveWorkflowParams contains parameters for the POST /api/flows/save
// operation: an empty ID creates a new draft, a non-empty one updates the
// existing draft and bumps its version.
type SaveWorkflowParams struct {
	ID       string
	Name     string
	Graph    graph.RawGraph
	Metadata map[string]any
}

func (o *Operations) SaveWorkflow(ctx context.Context, params SaveWorkflowParams) (*domain.Workflow, error) {
	if params.Name == "" {
		return nil, newValidationError("NAME_REQUIRED", "workflow name is required")
	}

	canonical := graph.Normalize(params.Graph)
	now := time.Now()

	if params.ID == "" {
		wf := &domain.Workflow{
			ID:        uuid.NewString(),
			Name:      params.Name,
			Version:   1,
			Metadata:  params.Metadata,
			Graph:     canonical,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := o.Workflows.SaveWorkflow(ctx, wf); err != nil {
			o.Logger.Error("failed to create workflow", "error", err, "name", params.Name)
			return nil, err
		}
		return wf, nil
	}

	wf, err := o.Workflows.GetWorkflow(ctx, params.ID)
	if err != nil {
		if errors.Is(err, domain.ErrWorkflowNotFound) {
			return nil, newNotFoundError("WORKFLOW_NOT_FOUND", "workflow not found", err)
		}
		return nil, err
	}

	wf.Name = params.Name
	wf.Graph = canonical
	if params.Metadata != nil {
		wf.Metadata = params.Metadata
	}
	wf.Version++
	wf.UpdatedAt = now

	if err := o.Workflows.SaveWorkflow(ctx, wf); err != nil {
		o.Logger.Error("failed to update workflow", "error", err, "workflowId", params.ID)
		return nil, err
	}
	return wf, nil
}

func (o *Operations) DeleteWorkflow(ctx context.Context, workflowID string) error {
	if err := o.Workflows.DeleteWorkflow(ctx, workflowID); err != nil {
		o.Logger.Error("failed to delete workflow", "error", err, "workflowId", workflowID)
		return err
	}
	return nil
}

// ValidateGraphParams contains parameters for POST /api/workflows/validate.
type ValidateGraphParams struct {
	Graph   graph.RawGraph
	Options validator.Options
}

// ValidateGraph normalizes a raw draft and runs the authoritative C3
// checks against it. It never persists anything and never returns a
// service-layer error: the validator's own Result carries the verdict.
func (o *Operations) ValidateGraph(ctx context.Context, params ValidateGraphParams) (validator.Result, error) {
	canonical := graph.Normalize(params.Graph)
	return validator.Validate(canonical, o.CapIndex, params.Options), nil
}

// DiffParams contains parameters for GET /api/workflows/{id}/diff/{env}.
type DiffParams struct {
	WorkflowID  string
	Environment domain.Environment
}

// Diff compares the workflow's current draft graph against the graph of
// its most recently published revision for params.Environment. A workflow
// never previously published diffs against an empty graph.
func (o *Operations) Diff(ctx context.Context, params DiffParams) (*domain.WorkflowDiff, error) {
	wf, err := o.GetWorkflow(ctx, params.WorkflowID)
	if err != nil {
		return nil, err
	}

	var fromGraph *domain.Graph
	published, err := o.Revisions.GetPublished(ctx, params.WorkflowID, params.Environment)
	if err == nil && published != nil {
		fromGraph = published.Graph
	} else if err != nil && !errors.Is(err, domain.ErrRevisionNotFound) {
		return nil, err
	}

	return diff.Compute(fromGraph, wf.Graph, o.CapIndex), nil
}

// PublishParams contains parameters for POST /api/workflows/{id}/publish.
type PublishParams struct {
	WorkflowID  string
	Environment domain.Environment
	Metadata    map[string]any
}

// Publish promotes the workflow's current draft graph to a new Revision
// for params.Environment. A breaking diff against the currently published
// revision requires a complete migration plan in params.Metadata["migration"].
func (o *Operations) Publish(ctx context.Context, params PublishParams) (*domain.Revision, error) {
	wf, err := o.GetWorkflow(ctx, params.WorkflowID)
	if err != nil {
		return nil, err
	}

	res := validator.Validate(wf.Graph, o.CapIndex, validator.Options{})
	if !res.Valid() {
		return nil, newValidationFailedError(res)
	}

	d, err := o.Diff(ctx, DiffParams{WorkflowID: params.WorkflowID, Environment: params.Environment})
	if err != nil {
		return nil, err
	}
	if diff.RequiresMigrationPlan(d) && !migrationPlanFrom(params.Metadata).Complete() {
		return nil, domain.NewOperationError("MIGRATION_PLAN_REQUIRED", domain.ErrMigrationRequired.Error(), 409, domain.ErrMigrationRequired)
	}

	rev := &domain.Revision{
		ID:          uuid.NewString(),
		WorkflowID:  params.WorkflowID,
		Environment: params.Environment,
		Graph:       wf.Graph.Clone(),
		Metadata:    params.Metadata,
		PublishedAt: time.Now(),
	}
	if err := o.Revisions.PublishRevision(ctx, rev); err != nil {
		o.Logger.Error("failed to publish revision", "error", err, "workflowId", params.WorkflowID)
		return nil, err
	}
	o.Logger.Info("published revision", "workflowId", params.WorkflowID, "environment", params.Environment, "revisionId", rev.ID)
	return rev, nil
}

// migrationPlanFrom decodes the "migration" key of a publish call's
// metadata into a domain.MigrationPlan. A missing or malformed key yields
// a zero-value plan, which Complete() correctly reports as incomplete.
func migrationPlanFrom(metadata map[string]any) *domain.MigrationPlan {
	plan := &domain.MigrationPlan{}
	raw, ok := metadata["migration"].(map[string]any)
	if !ok {
		return plan
	}
	plan.FreezeActiveRuns, _ = raw["freezeActiveRuns"].(bool)
	plan.ScheduleRollForward, _ = raw["scheduleRollForward"].(bool)
	plan.ScheduleBackfill, _ = raw["scheduleBackfill"].(bool)
	plan.Notes, _ = raw["notes"].(string)
	return plan
}

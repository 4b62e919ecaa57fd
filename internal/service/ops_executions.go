package service

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fluxgraph/engine/internal/dispatch"
	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/graph"
	"github.com/fluxgraph/engine/internal/queue"
)

// StartExecutionParams contains parameters for POST /api/executions.
type StartExecutionParams struct {
	OrgID        string
	WorkflowID   string
	Environment  domain.Environment
	Trigger      domain.TriggerKind
	InitialInput map[string]any
	ConnectorApp string
}

// StartExecution runs the admission pipeline (C7) and, on success, returns
// the id of the queued run. Rejections surface as a *domain.OperationError
// carrying the admission code and HTTP status spec section 4.7 assigns it.
func (o *Operations) StartExecution(ctx context.Context, params StartExecutionParams) (string, error) {
	trig := params.Trigger
	if trig == "" {
		trig = domain.TriggerManual
	}

	req := queue.RunRequest{
		OrgID:        params.OrgID,
		WorkflowID:   params.WorkflowID,
		Environment:  params.Environment,
		Trigger:      trig,
		InitialInput: params.InitialInput,
		ConnectorApp: params.ConnectorApp,
	}

	runID, err := o.Admitter.Enqueue(ctx, req, queue.Limits{})
	if err != nil {
		var ae *queue.AdmissionError
		if errors.As(err, &ae) {
			return "", domain.NewOperationError(string(ae.Code), ae.Message, ae.HTTPStatus(), ae)
		}
		o.Logger.Error("failed to enqueue execution", "error", err, "workflowId", params.WorkflowID)
		return "", err
	}
	return runID, nil
}

// GetExecutionResult bundles a run with its per-node execution history,
// matching the shape GET /api/executions/{id} returns.
type GetExecutionResult struct {
	Run            *domain.Run
	NodeExecutions []*domain.NodeExecution
}

func (o *Operations) GetExecution(ctx context.Context, runID string) (*GetExecutionResult, error) {
	run, err := o.Runs.GetRun(ctx, runID)
	if err != nil {
		if errors.Is(err, domain.ErrRunNotFound) {
			return nil, newNotFoundError("RUN_NOT_FOUND", "execution not found", err)
		}
		o.Logger.Error("failed to get run", "error", err, "runId", runID)
		return nil, err
	}

	executions, err := o.NodeExecutions.GetNodeExecutions(ctx, runID)
	if err != nil {
		o.Logger.Error("failed to get node executions", "error", err, "runId", runID)
		return nil, err
	}

	return &GetExecutionResult{Run: run, NodeExecutions: executions}, nil
}

// ListExecutionsParams contains parameters for listing executions.
type ListExecutionsParams struct {
	WorkflowID string
	Limit      int
	Offset     int
}

func (o *Operations) ListExecutions(ctx context.Context, params ListExecutionsParams) ([]*domain.Run, error) {
	runs, err := o.Runs.ListRuns(ctx, params.WorkflowID, params.Limit, params.Offset)
	if err != nil {
		o.Logger.Error("failed to list runs", "error", err, "workflowId", params.WorkflowID)
		return nil, err
	}
	return runs, nil
}

// ExecuteEphemeralParams contains parameters for POST
// /api/workflows/{id}/execute: a graph run directly against the draft,
// never persisted as a Run or NodeExecution row, per the streaming
// preview path's semantics.
type ExecuteEphemeralParams struct {
	Graph        graph.RawGraph
	InitialInput map[string]any
}

// ExecuteEphemeral normalizes and authoritatively validates params.Graph,
// then dispatches it as a one-off run, streaming every event through emit.
// It returns the run's terminal status.
func (o *Operations) ExecuteEphemeral(ctx context.Context, params ExecuteEphemeralParams, emit func(domain.Event)) (domain.RunStatus, error) {
	canonical := graph.Normalize(params.Graph)

	res, err := o.ValidateGraph(ctx, ValidateGraphParams{Graph: params.Graph})
	if err != nil {
		return domain.RunStatusFailed, err
	}
	if !res.Valid() {
		return domain.RunStatusFailed, newValidationFailedError(res)
	}

	now := time.Now()
	run := &domain.Run{
		ID:            uuid.NewString(),
		Trigger:       domain.TriggerManual,
		InitialInput:  params.InitialInput,
		Status:        domain.RunStatusRunning,
		CorrelationID: uuid.NewString(),
		StartedAt:     now,
	}

	status, err := o.Dispatcher.Run(ctx, run, canonical, dispatch.DefaultOptions(), emit)
	if err != nil {
		return status, domain.NewOperationError("EXECUTION_FAILED", err.Error(), http.StatusInternalServerError, err)
	}
	return status, nil
}

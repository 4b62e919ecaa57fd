package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fluxgraph/engine/internal/domain"
)

// CreateTriggerParams contains parameters for creating a trigger binding.
type CreateTriggerParams struct {
	OrgID       string
	WorkflowID  string
	Environment domain.Environment
	Type        domain.TriggerType
	Config      map[string]any
	Enabled     bool
}

func (o *Operations) CreateTrigger(ctx context.Context, params CreateTriggerParams) (*domain.Trigger, error) {
	if _, err := o.GetWorkflow(ctx, params.WorkflowID); err != nil {
		return nil, err
	}

	now := time.Now()
	t := &domain.Trigger{
		ID:          uuid.NewString(),
		OrgID:       params.OrgID,
		WorkflowID:  params.WorkflowID,
		Environment: params.Environment,
		Type:        params.Type,
		Config:      params.Config,
		Enabled:     params.Enabled,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := o.Triggers.SaveTrigger(ctx, t); err != nil {
		o.Logger.Error("failed to save trigger", "error", err, "workflowId", params.WorkflowID)
		return nil, err
	}

	if o.TriggerMgr != nil && t.Enabled {
		if err := o.TriggerMgr.OnTriggerCreated(ctx, t); err != nil {
			o.Logger.Error("failed to register trigger with manager", "error", err, "triggerId", t.ID)
		}
	}

	return t, nil
}

func (o *Operations) GetTrigger(ctx context.Context, triggerID string) (*domain.Trigger, error) {
	t, err := o.Triggers.GetTrigger(ctx, triggerID)
	if err != nil {
		if errors.Is(err, domain.ErrTriggerNotFound) {
			return nil, newNotFoundError("TRIGGER_NOT_FOUND", "trigger not found", err)
		}
		o.Logger.Error("failed to get trigger", "error", err, "triggerId", triggerID)
		return nil, err
	}
	return t, nil
}

func (o *Operations) ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*domain.Trigger, error) {
	triggers, err := o.Triggers.ListTriggersByWorkflow(ctx, workflowID)
	if err != nil {
		o.Logger.Error("failed to list triggers", "error", err, "workflowId", workflowID)
		return nil, err
	}
	return triggers, nil
}

// UpdateTriggerParams contains parameters for updating a trigger's config
// or enabled state. Type and WorkflowID are immutable once created.
type UpdateTriggerParams struct {
	ID      string
	Config  map[string]any
	Enabled bool
}

func (o *Operations) UpdateTrigger(ctx context.Context, params UpdateTriggerParams) (*domain.Trigger, error) {
	t, err := o.GetTrigger(ctx, params.ID)
	if err != nil {
		return nil, err
	}

	t.Config = params.Config
	t.Enabled = params.Enabled
	t.UpdatedAt = time.Now()

	if err := o.Triggers.SaveTrigger(ctx, t); err != nil {
		o.Logger.Error("failed to update trigger", "error", err, "triggerId", params.ID)
		return nil, err
	}

	if o.TriggerMgr != nil {
		if err := o.TriggerMgr.OnTriggerUpdated(ctx, t); err != nil {
			o.Logger.Error("failed to update trigger in manager", "error", err, "triggerId", t.ID)
		}
	}

	return t, nil
}

func (o *Operations) DeleteTrigger(ctx context.Context, triggerID string) error {
	if err := o.Triggers.DeleteTrigger(ctx, triggerID); err != nil {
		o.Logger.Error("failed to delete trigger", "error", err, "triggerId", triggerID)
		return err
	}

	if o.TriggerMgr != nil {
		if err := o.TriggerMgr.OnTriggerDeleted(ctx, triggerID); err != nil {
			o.Logger.Error("failed to delete trigger from manager", "error", err, "triggerId", triggerID)
		}
	}

	return nil
}

func (o *Operations) EnableTrigger(ctx context.Context, triggerID string) (*domain.Trigger, error) {
	t, err := o.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	return o.UpdateTrigger(ctx, UpdateTriggerParams{ID: t.ID, Config: t.Config, Enabled: true})
}

func (o *Operations) DisableTrigger(ctx context.Context, triggerID string) (*domain.Trigger, error) {
	t, err := o.GetTrigger(ctx, triggerID)
	if err != nil {
		return nil, err
	}
	return o.UpdateTrigger(ctx, UpdateTriggerParams{ID: t.ID, Config: t.Config, Enabled: false})
}

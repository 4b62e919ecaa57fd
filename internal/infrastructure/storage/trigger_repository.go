package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/infrastructure/storage/models"
)

var _ repository.TriggerRepository = (*TriggerRepository)(nil)

// TriggerRepository implements repository.TriggerRepository using Bun ORM.
type TriggerRepository struct {
	db *bun.DB
}

func NewTriggerRepository(db *bun.DB) *TriggerRepository {
	return &TriggerRepository{db: db}
}

func (r *TriggerRepository) SaveTrigger(ctx context.Context, t *domain.Trigger) error {
	model, err := models.TriggerToModel(t)
	if err != nil {
		return fmt.Errorf("encode trigger: %w", err)
	}
	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("config = EXCLUDED.config").
		Set("enabled = EXCLUDED.enabled").
		Set("environment = EXCLUDED.environment").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save trigger: %w", err)
	}
	t.ID = model.ID.String()
	return nil
}

func (r *TriggerRepository) GetTrigger(ctx context.Context, id string) (*domain.Trigger, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrTriggerNotFound
	}
	model := new(models.TriggerModel)
	err = r.db.NewSelect().Model(model).Where("id = ?", parsedID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTriggerNotFound
		}
		return nil, fmt.Errorf("get trigger: %w", err)
	}
	return models.TriggerFromModel(model), nil
}

func (r *TriggerRepository) ListTriggersByWorkflow(ctx context.Context, workflowID string) ([]*domain.Trigger, error) {
	wfID, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, domain.ErrWorkflowNotFound
	}
	var rows []*models.TriggerModel
	err = r.db.NewSelect().Model(&rows).Where("workflow_id = ?", wfID).Order("created_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list triggers: %w", err)
	}
	out := make([]*domain.Trigger, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.TriggerFromModel(row))
	}
	return out, nil
}

func (r *TriggerRepository) ListEnabledTriggers(ctx context.Context) ([]*domain.Trigger, error) {
	var rows []*models.TriggerModel
	err := r.db.NewSelect().Model(&rows).Where("enabled = true").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled triggers: %w", err)
	}
	out := make([]*domain.Trigger, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.TriggerFromModel(row))
	}
	return out, nil
}

func (r *TriggerRepository) DeleteTrigger(ctx context.Context, id string) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return domain.ErrTriggerNotFound
	}
	res, err := r.db.NewDelete().Model((*models.TriggerModel)(nil)).Where("id = ?", parsedID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete trigger: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTriggerNotFound
	}
	return nil
}

func (r *TriggerRepository) MarkTriggered(ctx context.Context, id string) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return domain.ErrTriggerNotFound
	}
	res, err := r.db.NewUpdate().
		Model((*models.TriggerModel)(nil)).
		Set("last_triggered_at = now()").
		Set("updated_at = now()").
		Where("id = ?", parsedID).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("mark triggered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrTriggerNotFound
	}
	return nil
}

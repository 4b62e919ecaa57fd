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

var _ repository.WorkflowRepository = (*WorkflowRepository)(nil)

// WorkflowRepository implements repository.WorkflowRepository using Bun ORM.
type WorkflowRepository struct {
	db *bun.DB
}

func NewWorkflowRepository(db *bun.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// SaveWorkflow upserts a workflow by id: new if wf.ID is empty or unseen,
// otherwise a full replace of name/version/graph/metadata.
func (r *WorkflowRepository) SaveWorkflow(ctx context.Context, wf *domain.Workflow) error {
	model, err := models.WorkflowToModel(wf)
	if err != nil {
		return fmt.Errorf("encode workflow: %w", err)
	}
	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (id) DO UPDATE").
		Set("name = EXCLUDED.name").
		Set("version = EXCLUDED.version").
		Set("graph = EXCLUDED.graph").
		Set("metadata = EXCLUDED.metadata").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	wf.ID = model.ID.String()
	return nil
}

func (r *WorkflowRepository) GetWorkflow(ctx context.Context, id string) (*domain.Workflow, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrWorkflowNotFound
	}
	model := new(models.WorkflowModel)
	err = r.db.NewSelect().Model(model).Where("id = ?", parsedID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWorkflowNotFound
		}
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return models.WorkflowFromModel(model)
}

func (r *WorkflowRepository) ListWorkflows(ctx context.Context, limit, offset int) ([]*domain.Workflow, error) {
	var rows []*models.WorkflowModel
	q := r.db.NewSelect().Model(&rows).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	out := make([]*domain.Workflow, 0, len(rows))
	for _, row := range rows {
		wf, err := models.WorkflowFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, wf)
	}
	return out, nil
}

func (r *WorkflowRepository) DeleteWorkflow(ctx context.Context, id string) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return domain.ErrWorkflowNotFound
	}
	res, err := r.db.NewDelete().Model((*models.WorkflowModel)(nil)).Where("id = ?", parsedID).Exec(ctx)
	if err != nil {
		return fmt.Errorf("delete workflow: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWorkflowNotFound
	}
	return nil
}

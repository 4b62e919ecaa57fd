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

var _ repository.RunRepository = (*RunRepository)(nil)
var _ repository.NodeExecutionRepository = (*NodeExecutionRepository)(nil)

// RunRepository implements repository.RunRepository using Bun ORM. It
// replaces the teacher's generic ExecutionRepository CRUD surface with the
// narrower create/get/list/update-status shape domain.Run needs.
type RunRepository struct {
	db *bun.DB
}

func NewRunRepository(db *bun.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) CreateRun(ctx context.Context, run *domain.Run) error {
	model, err := models.RunToModel(run)
	if err != nil {
		return fmt.Errorf("encode run: %w", err)
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	run.ID = model.ID.String()
	run.StartedAt = model.StartedAt
	return nil
}

func (r *RunRepository) GetRun(ctx context.Context, id string) (*domain.Run, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrRunNotFound
	}
	model := new(models.RunModel)
	err = r.db.NewSelect().Model(model).Where("id = ?", parsedID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRunNotFound
		}
		return nil, fmt.Errorf("get run: %w", err)
	}
	return models.RunFromModel(model), nil
}

func (r *RunRepository) ListRuns(ctx context.Context, workflowID string, limit, offset int) ([]*domain.Run, error) {
	wfID, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, domain.ErrWorkflowNotFound
	}
	var rows []*models.RunModel
	q := r.db.NewSelect().Model(&rows).Where("workflow_id = ?", wfID).Order("started_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if offset > 0 {
		q = q.Offset(offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*domain.Run, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.RunFromModel(row))
	}
	return out, nil
}

func (r *RunRepository) UpdateRunStatus(ctx context.Context, id string, status domain.RunStatus) error {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return domain.ErrRunNotFound
	}
	q := r.db.NewUpdate().
		Model((*models.RunModel)(nil)).
		Set("status = ?", string(status)).
		Where("id = ?", parsedID)
	if status.Terminal() {
		q = q.Set("ended_at = now()")
	}
	res, err := q.Exec(ctx)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrRunNotFound
	}
	return nil
}

// NodeExecutionRepository implements repository.NodeExecutionRepository
// using Bun ORM.
type NodeExecutionRepository struct {
	db *bun.DB
}

func NewNodeExecutionRepository(db *bun.DB) *NodeExecutionRepository {
	return &NodeExecutionRepository{db: db}
}

// SaveNodeExecution upserts on the (run_id, node_id, attempt) tuple, so a
// retried dispatcher write never duplicates an attempt's row.
func (r *NodeExecutionRepository) SaveNodeExecution(ctx context.Context, ne *domain.NodeExecution) error {
	model, err := models.NodeExecutionToModel(ne)
	if err != nil {
		return fmt.Errorf("encode node execution: %w", err)
	}
	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (run_id, node_id, attempt) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("output = EXCLUDED.output").
		Set("error_kind = EXCLUDED.error_kind").
		Set("error_message = EXCLUDED.error_message").
		Set("retry_history = EXCLUDED.retry_history").
		Set("diagnostics = EXCLUDED.diagnostics").
		Set("finished_at = EXCLUDED.finished_at").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save node execution: %w", err)
	}
	return nil
}

func (r *NodeExecutionRepository) GetNodeExecutions(ctx context.Context, runID string) ([]*domain.NodeExecution, error) {
	parsedID, err := uuid.Parse(runID)
	if err != nil {
		return nil, domain.ErrRunNotFound
	}
	var rows []*models.NodeExecutionModel
	err = r.db.NewSelect().Model(&rows).Where("run_id = ?", parsedID).Order("started_at ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("get node executions: %w", err)
	}
	out := make([]*domain.NodeExecution, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.NodeExecutionFromModel(row))
	}
	return out, nil
}

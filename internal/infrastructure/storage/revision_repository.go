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

var _ repository.RevisionRepository = (*RevisionRepository)(nil)

// RevisionRepository implements repository.RevisionRepository using Bun
// ORM. It has no teacher equivalent: the teacher schema had no concept of
// an immutable, environment-tagged published snapshot distinct from the
// mutable workflow draft.
type RevisionRepository struct {
	db *bun.DB
}

func NewRevisionRepository(db *bun.DB) *RevisionRepository {
	return &RevisionRepository{db: db}
}

func (r *RevisionRepository) PublishRevision(ctx context.Context, rev *domain.Revision) error {
	model, err := models.RevisionToModel(rev)
	if err != nil {
		return fmt.Errorf("encode revision: %w", err)
	}
	if _, err := r.db.NewInsert().Model(model).Exec(ctx); err != nil {
		return fmt.Errorf("publish revision: %w", err)
	}
	rev.ID = model.ID.String()
	rev.PublishedAt = model.PublishedAt
	return nil
}

// GetPublished returns the most recently published revision for a
// (workflow, environment) pair.
func (r *RevisionRepository) GetPublished(ctx context.Context, workflowID string, env domain.Environment) (*domain.Revision, error) {
	wfID, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, domain.ErrRevisionNotFound
	}
	model := new(models.RevisionModel)
	err = r.db.NewSelect().
		Model(model).
		Where("workflow_id = ?", wfID).
		Where("environment = ?", string(env)).
		Order("published_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRevisionNotFound
		}
		return nil, fmt.Errorf("get published revision: %w", err)
	}
	return models.RevisionFromModel(model)
}

func (r *RevisionRepository) GetRevision(ctx context.Context, id string) (*domain.Revision, error) {
	parsedID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrRevisionNotFound
	}
	model := new(models.RevisionModel)
	err = r.db.NewSelect().Model(model).Where("id = ?", parsedID).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrRevisionNotFound
		}
		return nil, fmt.Errorf("get revision: %w", err)
	}
	return models.RevisionFromModel(model)
}

func (r *RevisionRepository) ListRevisions(ctx context.Context, workflowID string) ([]*domain.Revision, error) {
	wfID, err := uuid.Parse(workflowID)
	if err != nil {
		return nil, domain.ErrWorkflowNotFound
	}
	var rows []*models.RevisionModel
	err = r.db.NewSelect().Model(&rows).Where("workflow_id = ?", wfID).Order("published_at DESC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list revisions: %w", err)
	}
	out := make([]*domain.Revision, 0, len(rows))
	for _, row := range rows {
		rev, err := models.RevisionFromModel(row)
		if err != nil {
			return nil, err
		}
		out = append(out, rev)
	}
	return out, nil
}

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/fluxgraph/engine/internal/domain"
	"github.com/fluxgraph/engine/internal/domain/repository"
	"github.com/fluxgraph/engine/internal/infrastructure/storage/models"
)

var _ repository.EventRepository = (*EventRepository)(nil)

// EventRepository implements repository.EventRepository using Bun ORM. The
// (run_id, node_id, attempt, event_type) unique constraint on EventModel
// makes AppendEvent idempotent for free: a dispatcher retry that re-emits
// the same event is a no-op rather than a duplicate line.
type EventRepository struct {
	db *bun.DB
}

func NewEventRepository(db *bun.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) AppendEvent(ctx context.Context, event *domain.Event) error {
	model, err := models.EventToModel(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	_, err = r.db.NewInsert().
		Model(model).
		On("CONFLICT (run_id, node_id, attempt, event_type) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

func (r *EventRepository) ListEvents(ctx context.Context, runID string) ([]*domain.Event, error) {
	parsedID, err := uuid.Parse(runID)
	if err != nil {
		return nil, domain.ErrRunNotFound
	}
	var rows []*models.EventModel
	err = r.db.NewSelect().Model(&rows).Where("run_id = ?", parsedID).Order("sequence ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	out := make([]*domain.Event, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.EventFromModel(row))
	}
	return out, nil
}

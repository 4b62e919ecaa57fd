package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RevisionModel represents an immutable, published snapshot of a workflow's
// graph tagged to an environment. The teacher schema had no equivalent of
// this table; it follows the shape and hooks of WorkflowModel since both
// carry a graph blob.
type RevisionModel struct {
	bun.BaseModel `bun:"table:revisions,alias:rv"`

	ID          uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	WorkflowID  uuid.UUID `bun:"workflow_id,notnull,type:uuid" json:"workflow_id" validate:"required"`
	Environment string    `bun:"environment,notnull" json:"environment" validate:"required,oneof=development production"`
	Graph       JSONBMap  `bun:"graph,type:jsonb,notnull,default:'{}'" json:"graph"`
	Metadata    JSONBMap  `bun:"metadata,type:jsonb,default:'{}'" json:"metadata,omitempty"`
	PublishedAt time.Time `bun:"published_at,notnull,default:current_timestamp" json:"published_at"`

	Workflow *WorkflowModel `bun:"rel:belongs-to,join:workflow_id=id" json:"workflow,omitempty"`
}

func (RevisionModel) TableName() string {
	return "revisions"
}

func (r *RevisionModel) BeforeInsert(ctx interface{}) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.PublishedAt.IsZero() {
		r.PublishedAt = time.Now()
	}
	if r.Graph == nil {
		r.Graph = make(JSONBMap)
	}
	if r.Metadata == nil {
		r.Metadata = make(JSONBMap)
	}
	return nil
}

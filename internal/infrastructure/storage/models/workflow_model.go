package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// WorkflowModel represents a workflow definition in the database. Unlike the
// relational nodes/edges decomposition this package once used, the graph
// itself is stored as a single JSONB blob: it is built and validated
// entirely in memory by the graph/validator/diff packages, so a join table
// would just be a second, harder-to-keep-consistent copy of the same shape.
type WorkflowModel struct {
	bun.BaseModel `bun:"table:workflows,alias:w"`

	ID        uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	Name      string     `bun:"name,notnull" json:"name" validate:"required,max=255"`
	Version   int        `bun:"version,notnull,default:1" json:"version" validate:"gte=1"`
	Graph     JSONBMap   `bun:"graph,type:jsonb,notnull,default:'{}'" json:"graph"`
	Metadata  JSONBMap   `bun:"metadata,type:jsonb,default:'{}'" json:"metadata,omitempty"`
	CreatedAt time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`
	DeletedAt *time.Time `bun:"deleted_at,soft_delete" json:"deleted_at,omitempty"`

	Revisions []*RevisionModel `bun:"rel:has-many,join:id=workflow_id" json:"revisions,omitempty"`
	Triggers  []*TriggerModel  `bun:"rel:has-many,join:id=workflow_id" json:"triggers,omitempty"`
}

func (WorkflowModel) TableName() string {
	return "workflows"
}

func (w *WorkflowModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	w.CreatedAt = now
	w.UpdatedAt = now
	if w.ID == uuid.Nil {
		w.ID = uuid.New()
	}
	if w.Graph == nil {
		w.Graph = make(JSONBMap)
	}
	if w.Metadata == nil {
		w.Metadata = make(JSONBMap)
	}
	return nil
}

func (w *WorkflowModel) BeforeUpdate(ctx interface{}) error {
	w.UpdatedAt = time.Now()
	return nil
}

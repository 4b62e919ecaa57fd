package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RunModel represents a single execution of a published revision. It
// replaces the teacher's ExecutionModel: the run/node-execution split
// mirrors domain.Run/domain.NodeExecution instead of a generic
// pending/running/completed/failed/cancelled/paused execution row.
type RunModel struct {
	bun.BaseModel `bun:"table:runs,alias:r"`

	ID            uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	WorkflowID    uuid.UUID  `bun:"workflow_id,notnull,type:uuid" json:"workflow_id" validate:"required"`
	RevisionID    uuid.UUID  `bun:"revision_id,notnull,type:uuid" json:"revision_id" validate:"required"`
	OrgID         string     `bun:"org_id,notnull,default:''" json:"org_id,omitempty"`
	Trigger       string     `bun:"trigger,notnull" json:"trigger" validate:"required,oneof=manual scheduled webhook"`
	InitialInput  JSONBMap   `bun:"initial_input,type:jsonb,default:'{}'" json:"initial_input,omitempty"`
	ConnectorApp  string     `bun:"connector_app,notnull,default:''" json:"connector_app,omitempty"`
	Status        string     `bun:"status,notnull,default:'queued'" json:"status" validate:"required,oneof=queued running succeeded failed canceled"`
	CorrelationID string     `bun:"correlation_id,notnull" json:"correlation_id"`
	StartedAt     time.Time  `bun:"started_at,notnull,default:current_timestamp" json:"started_at"`
	EndedAt       *time.Time `bun:"ended_at" json:"ended_at,omitempty"`

	Workflow       *WorkflowModel        `bun:"rel:belongs-to,join:workflow_id=id" json:"workflow,omitempty"`
	Revision       *RevisionModel        `bun:"rel:belongs-to,join:revision_id=id" json:"revision,omitempty"`
	NodeExecutions []*NodeExecutionModel `bun:"rel:has-many,join:id=run_id" json:"node_executions,omitempty"`
	Events         []*EventModel         `bun:"rel:has-many,join:id=run_id" json:"events,omitempty"`
}

func (RunModel) TableName() string {
	return "runs"
}

func (r *RunModel) BeforeInsert(ctx interface{}) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	if r.StartedAt.IsZero() {
		r.StartedAt = time.Now()
	}
	if r.InitialInput == nil {
		r.InitialInput = make(JSONBMap)
	}
	return nil
}

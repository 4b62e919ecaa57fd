package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// TriggerModel binds a workflow to a recurring schedule, an internal event,
// or an inbound webhook, independent of any single run.
type TriggerModel struct {
	bun.BaseModel `bun:"table:triggers,alias:tg"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	OrgID           string     `bun:"org_id,notnull" json:"org_id"`
	WorkflowID      uuid.UUID  `bun:"workflow_id,notnull,type:uuid" json:"workflow_id" validate:"required"`
	Environment     string     `bun:"environment,notnull" json:"environment" validate:"required,oneof=development production"`
	Type            string     `bun:"type,notnull" json:"type" validate:"required,oneof=cron interval event webhook"`
	Config          JSONBMap   `bun:"config,type:jsonb,notnull,default:'{}'" json:"config"`
	Enabled         bool       `bun:"enabled,notnull,default:true" json:"enabled"`
	LastTriggeredAt *time.Time `bun:"last_triggered_at" json:"last_triggered_at,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:current_timestamp" json:"updated_at"`

	Workflow *WorkflowModel `bun:"rel:belongs-to,join:workflow_id=id" json:"workflow,omitempty"`
}

func (TriggerModel) TableName() string {
	return "triggers"
}

func (t *TriggerModel) BeforeInsert(ctx interface{}) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	if t.Config == nil {
		t.Config = make(JSONBMap)
	}
	return nil
}

func (t *TriggerModel) BeforeUpdate(ctx interface{}) error {
	t.UpdatedAt = time.Now()
	return nil
}

// MarkTriggered stamps the last-triggered timestamp to now.
func (t *TriggerModel) MarkTriggered() {
	now := time.Now()
	t.LastTriggeredAt = &now
}

package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NodeExecutionModel represents one (run, node, attempt) record. Attempts
// are immutable once finished, so SaveNodeExecution upserts on the
// (run_id, node_id, attempt) tuple rather than updating in place.
type NodeExecutionModel struct {
	bun.BaseModel `bun:"table:node_executions,alias:ne"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	RunID        uuid.UUID  `bun:"run_id,notnull,type:uuid,unique:run_node_attempt" json:"run_id" validate:"required"`
	NodeID       string     `bun:"node_id,notnull,unique:run_node_attempt" json:"node_id" validate:"required"`
	Attempt      int        `bun:"attempt,notnull,unique:run_node_attempt" json:"attempt" validate:"gte=1"`
	MaxAttempts  int        `bun:"max_attempts,notnull,default:1" json:"max_attempts"`
	Status       string     `bun:"status,notnull,default:'pending'" json:"status" validate:"required,oneof=pending running succeeded failed skipped canceled"`
	Input        JSONBMap   `bun:"input,type:jsonb,default:'{}'" json:"input,omitempty"`
	Output       JSONBValue `bun:"output,type:jsonb" json:"output,omitempty"`
	ErrorKind    string     `bun:"error_kind" json:"error_kind,omitempty"`
	ErrorMessage string     `bun:"error_message" json:"error_message,omitempty"`
	RetryHistory JSONBArray `bun:"retry_history,type:jsonb,default:'[]'" json:"retry_history,omitempty"`
	Diagnostics  JSONBMap   `bun:"diagnostics,type:jsonb,default:'{}'" json:"diagnostics,omitempty"`
	StartedAt    time.Time  `bun:"started_at,notnull,default:current_timestamp" json:"started_at"`
	FinishedAt   *time.Time `bun:"finished_at" json:"finished_at,omitempty"`

	Run *RunModel `bun:"rel:belongs-to,join:run_id=id" json:"run,omitempty"`
}

func (NodeExecutionModel) TableName() string {
	return "node_executions"
}

func (ne *NodeExecutionModel) BeforeInsert(ctx interface{}) error {
	if ne.ID == uuid.Nil {
		ne.ID = uuid.New()
	}
	if ne.StartedAt.IsZero() {
		ne.StartedAt = time.Now()
	}
	if ne.Input == nil {
		ne.Input = make(JSONBMap)
	}
	if ne.Diagnostics == nil {
		ne.Diagnostics = make(JSONBMap)
	}
	return nil
}

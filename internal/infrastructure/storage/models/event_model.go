package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// EventModel is one line of a run's append-only event log. The
// (run_id, node_id, attempt, event_type) tuple is unique so AppendEvent can
// be retried safely by the dispatcher without duplicating a line.
type EventModel struct {
	bun.BaseModel `bun:"table:events,alias:ev"`

	ID        uuid.UUID `bun:"id,pk,type:uuid,default:uuid_generate_v4()" json:"id"`
	RunID     uuid.UUID `bun:"run_id,notnull,type:uuid,unique:run_node_attempt_type" json:"run_id" validate:"required"`
	NodeID    string    `bun:"node_id,unique:run_node_attempt_type" json:"node_id,omitempty"`
	Attempt   int       `bun:"attempt,unique:run_node_attempt_type" json:"attempt,omitempty"`
	EventType string    `bun:"event_type,notnull,unique:run_node_attempt_type" json:"event_type" validate:"required,max=100"`
	Sequence  int64     `bun:"sequence,notnull,autoincrement" json:"sequence"`
	Payload   JSONBMap  `bun:"payload,type:jsonb,notnull,default:'{}'" json:"payload"`
	Timestamp time.Time `bun:"timestamp,notnull,default:current_timestamp" json:"timestamp"`

	Run *RunModel `bun:"rel:belongs-to,join:run_id=id" json:"run,omitempty"`
}

func (EventModel) TableName() string {
	return "events"
}

func (e *EventModel) BeforeInsert(ctx interface{}) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.Payload == nil {
		e.Payload = make(JSONBMap)
	}
	return nil
}

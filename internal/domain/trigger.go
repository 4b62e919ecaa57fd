package domain

import "time"

// TriggerType is how a Trigger is invoked by the scheduler/listener
// managers in internal/trigger, as opposed to TriggerKind which records how
// a single Run was started.
type TriggerType string

const (
	TriggerTypeCron     TriggerType = "cron"
	TriggerTypeInterval TriggerType = "interval"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeWebhook  TriggerType = "webhook"
)

// Trigger binds a workflow to a recurring schedule, an internal event, or an
// inbound webhook, independent of any single Run. OrgID scopes the Runs it
// creates to the organization's quota.
type Trigger struct {
	ID              string
	OrgID           string
	WorkflowID      string
	Environment     Environment
	Type            TriggerType
	Config          map[string]any
	Enabled         bool
	LastTriggeredAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

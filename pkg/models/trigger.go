package models

import (
	"fmt"
	"time"
)

// TriggerType identifies how a workflow execution is started.
type TriggerType string

const (
	TriggerTypeManual   TriggerType = "manual"
	TriggerTypeCron     TriggerType = "cron"
	TriggerTypeWebhook  TriggerType = "webhook"
	TriggerTypeEvent    TriggerType = "event"
	TriggerTypeInterval TriggerType = "interval"
)

// Trigger binds a workflow to a condition that starts execution.
type Trigger struct {
	ID          string         `json:"id"`
	WorkflowID  string         `json:"workflow_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        TriggerType    `json:"type"`
	Config      map[string]any `json:"config,omitempty"`
	Enabled     bool           `json:"enabled"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	LastRun     *time.Time     `json:"last_run,omitempty"`
	NextRun     *time.Time     `json:"next_run,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// CronConfig is the shape of Trigger.Config for a cron trigger.
type CronConfig struct {
	Schedule string `json:"schedule"`
	Timezone string `json:"timezone,omitempty"`
}

// WebhookConfig is the shape of Trigger.Config for a webhook trigger.
type WebhookConfig struct {
	Secret      string            `json:"secret,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
}

// EventConfig is the shape of Trigger.Config for an event trigger.
type EventConfig struct {
	EventType string         `json:"event_type"`
	Filter    map[string]any `json:"filter,omitempty"`
	Source    string         `json:"source,omitempty"`
}

// IntervalConfig is the shape of Trigger.Config for an interval trigger.
type IntervalConfig struct {
	Interval string `json:"interval"`
}

// Validate checks the trigger's own fields and its type-specific config.
func (t *Trigger) Validate() error {
	if t.WorkflowID == "" {
		return fmt.Errorf("workflow ID is required")
	}

	if t.Name == "" {
		return fmt.Errorf("trigger name is required")
	}

	if t.Type == "" {
		return fmt.Errorf("trigger type is required")
	}

	switch t.Type {
	case TriggerTypeManual, TriggerTypeWebhook:
		// no required config
	case TriggerTypeCron:
		return t.validateCronConfig()
	case TriggerTypeEvent:
		return t.validateEventConfig()
	case TriggerTypeInterval:
		return t.validateIntervalConfig()
	default:
		return fmt.Errorf("invalid trigger type: %s", t.Type)
	}

	return nil
}

func (t *Trigger) validateCronConfig() error {
	schedule, ok := t.Config["schedule"]
	if !ok {
		return fmt.Errorf("cron schedule is required")
	}

	scheduleStr, ok := schedule.(string)
	if !ok || scheduleStr == "" {
		return fmt.Errorf("cron schedule is required")
	}

	return nil
}

func (t *Trigger) validateEventConfig() error {
	eventType, ok := t.Config["event_type"]
	if !ok {
		return fmt.Errorf("event type is required")
	}

	eventTypeStr, ok := eventType.(string)
	if !ok || eventTypeStr == "" {
		return fmt.Errorf("event type is required")
	}

	return nil
}

func (t *Trigger) validateIntervalConfig() error {
	interval, ok := t.Config["interval"]
	if !ok {
		return fmt.Errorf("interval is required")
	}

	switch v := interval.(type) {
	case float64:
		if v <= 0 {
			return fmt.Errorf("interval must be positive")
		}
	case int:
		if v <= 0 {
			return fmt.Errorf("interval must be positive")
		}
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		if d <= 0 {
			return fmt.Errorf("interval must be positive")
		}
	default:
		return fmt.Errorf("interval must be a number or duration string")
	}

	return nil
}

// MarkTriggered records the current time as the trigger's last run.
func (t *Trigger) MarkTriggered(at time.Time) {
	t.LastRun = &at
}

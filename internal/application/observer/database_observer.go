package observer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
)

// EventRepository is the persistence dependency required by DatabaseObserver.
// Defined locally to keep the observer package independent of the storage
// package's import graph; internal/infrastructure/storage's EventRepository
// implementation satisfies it.
type EventRepository interface {
	Append(ctx context.Context, event *models.EventModel) error
}

// DatabaseObserver persists every execution event to the event log table.
type DatabaseObserver struct {
	repo EventRepository
}

// NewDatabaseObserver creates an observer that appends events to repo.
// It never filters: the event log is the system of record and receives
// everything.
func NewDatabaseObserver(repo EventRepository) *DatabaseObserver {
	return &DatabaseObserver{repo: repo}
}

// Name returns the observer's unique identifier.
func (o *DatabaseObserver) Name() string {
	return "database"
}

// Filter returns nil: DatabaseObserver receives all events.
func (o *DatabaseObserver) Filter() EventFilter {
	return nil
}

// OnEvent converts the event to an EventModel and appends it to the log.
func (o *DatabaseObserver) OnEvent(ctx context.Context, event Event) error {
	model := o.convertToEventModel(event)
	return o.repo.Append(ctx, model)
}

// convertToEventModel flattens an Event into the JSONB payload stored
// alongside the execution-scoped EventModel row.
func (o *DatabaseObserver) convertToEventModel(event Event) *models.EventModel {
	executionID, err := uuid.Parse(event.ExecutionID)
	if err != nil {
		executionID = uuid.Nil
	}

	payload := models.JSONBMap{
		"workflow_id": event.WorkflowID,
		"status":      event.Status,
		"timestamp":   event.Timestamp.Format(time.RFC3339),
	}

	if event.NodeID != nil {
		payload["node_id"] = *event.NodeID
	}
	if event.NodeName != nil {
		payload["node_name"] = *event.NodeName
	}
	if event.NodeType != nil {
		payload["node_type"] = *event.NodeType
	}
	if event.WaveIndex != nil {
		payload["wave_index"] = *event.WaveIndex
	}
	if event.NodeCount != nil {
		payload["node_count"] = *event.NodeCount
	}
	if event.DurationMs != nil {
		payload["duration_ms"] = *event.DurationMs
	}
	if event.Error != nil {
		payload["error"] = event.Error.Error()
	}
	if event.Input != nil {
		payload["input"] = event.Input
	}
	if event.Output != nil {
		payload["output"] = event.Output
	}
	if event.Variables != nil {
		payload["variables"] = event.Variables
	}
	if event.Metadata != nil {
		payload["metadata"] = event.Metadata
	}
	if event.Message != nil {
		payload["message"] = *event.Message
	}

	return &models.EventModel{
		ExecutionID: executionID,
		EventType:   string(event.Type),
		Payload:     payload,
	}
}

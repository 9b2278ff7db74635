package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/smilemakc/mbflow/internal/domain/repository"
	"github.com/smilemakc/mbflow/internal/infrastructure/storage/models"
	"github.com/uptrace/bun"
)

// Ensure EventRepository implements the interface
var _ repository.EventRepository = (*EventRepository)(nil)

// EventRepository implements repository.EventRepository using Bun ORM.
// Events are append-only: there is no Update or hard Delete.
type EventRepository struct {
	db *bun.DB
}

// NewEventRepository creates a new EventRepository
func NewEventRepository(db *bun.DB) *EventRepository {
	return &EventRepository{db: db}
}

// Append appends a new event to the event log
func (r *EventRepository) Append(ctx context.Context, event *models.EventModel) error {
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	_, err := r.db.NewInsert().Model(event).Exec(ctx)
	return err
}

// AppendBatch appends multiple events atomically
func (r *EventRepository) AppendBatch(ctx context.Context, events []*models.EventModel) error {
	if len(events) == 0 {
		return nil
	}
	for _, event := range events {
		if event.ID == uuid.Nil {
			event.ID = uuid.New()
		}
	}
	_, err := r.db.NewInsert().Model(&events).Exec(ctx)
	return err
}

// FindByExecutionID retrieves all events for an execution ordered by sequence
func (r *EventRepository) FindByExecutionID(ctx context.Context, executionID uuid.UUID) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("execution_id = ?", executionID).
		Order("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FindByExecutionIDSince retrieves events since a specific sequence number
func (r *EventRepository) FindByExecutionIDSince(ctx context.Context, executionID uuid.UUID, sinceSequence int64) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("execution_id = ? AND sequence > ?", executionID, sinceSequence).
		Order("sequence ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FindByType retrieves events by type with pagination
func (r *EventRepository) FindByType(ctx context.Context, eventType string, limit, offset int) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("event_type = ?", eventType).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FindByTimeRange retrieves events within a time range
func (r *EventRepository) FindByTimeRange(ctx context.Context, from, to time.Time, limit, offset int) ([]*models.EventModel, error) {
	var events []*models.EventModel
	err := r.db.NewSelect().
		Model(&events).
		Where("created_at >= ? AND created_at <= ?", from, to).
		Order("created_at ASC").
		Limit(limit).
		Offset(offset).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return events, nil
}

// FindLatestByExecutionID retrieves the latest event for an execution
func (r *EventRepository) FindLatestByExecutionID(ctx context.Context, executionID uuid.UUID) (*models.EventModel, error) {
	event := &models.EventModel{}
	err := r.db.NewSelect().
		Model(event).
		Where("execution_id = ?", executionID).
		Order("sequence DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return event, nil
}

// Count returns the total count of events
func (r *EventRepository) Count(ctx context.Context) (int, error) {
	return r.db.NewSelect().Model((*models.EventModel)(nil)).Count(ctx)
}

// CountByExecutionID returns the count of events for an execution
func (r *EventRepository) CountByExecutionID(ctx context.Context, executionID uuid.UUID) (int, error) {
	return r.db.NewSelect().
		Model((*models.EventModel)(nil)).
		Where("execution_id = ?", executionID).
		Count(ctx)
}

// CountByType returns the count of events by type
func (r *EventRepository) CountByType(ctx context.Context, eventType string) (int, error) {
	return r.db.NewSelect().
		Model((*models.EventModel)(nil)).
		Where("event_type = ?", eventType).
		Count(ctx)
}

// Stream polls the event log for new events belonging to executionID,
// starting after fromSequence, and pushes them to the returned channel
// until the context is cancelled.
func (r *EventRepository) Stream(ctx context.Context, executionID uuid.UUID, fromSequence int64) (<-chan *models.EventModel, <-chan error) {
	eventCh := make(chan *models.EventModel)
	errCh := make(chan error, 1)

	go func() {
		defer close(eventCh)
		defer close(errCh)

		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()

		cursor := fromSequence
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				events, err := r.FindByExecutionIDSince(ctx, executionID, cursor)
				if err != nil {
					errCh <- err
					return
				}
				for _, event := range events {
					select {
					case eventCh <- event:
						cursor = event.Sequence
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return eventCh, errCh
}

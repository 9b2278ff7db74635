package approval

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smilemakc/mbflow/pkg/models"
)

// TicketStore persists approval tickets and tracks which ones are still
// open, so a sweep can apply fallback policy to the ones past deadline.
type TicketStore interface {
	Save(ctx context.Context, t *Ticket) error
	Get(ctx context.Context, ticketID string) (*Ticket, error)
	GetOpenByNode(ctx context.Context, executionID, nodeID string) (*Ticket, error)
	ListOpen(ctx context.Context) ([]*Ticket, error)
}

// RedisTicketStore is a TicketStore backed by Redis: each ticket is a JSON
// value, a (execution_id, node_id) key points at the currently open ticket
// ID, and a set tracks every open ticket ID for the timeout sweep.
type RedisTicketStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisTicketStore creates a RedisTicketStore. prefix namespaces keys
// (e.g. "approval:").
func NewRedisTicketStore(client redis.UniversalClient, prefix string) *RedisTicketStore {
	return &RedisTicketStore{client: client, prefix: prefix}
}

func (s *RedisTicketStore) ticketKey(id string) string {
	return s.prefix + "ticket:" + id
}

func (s *RedisTicketStore) openKey(executionID, nodeID string) string {
	return s.prefix + "open:" + executionID + ":" + nodeID
}

func (s *RedisTicketStore) openSetKey() string {
	return s.prefix + "open_tickets"
}

// Save writes the ticket, maintaining the open-ticket index and set as its
// status dictates: an open ticket is indexed and added to the sweep set; a
// resolved ticket is removed from both.
func (s *RedisTicketStore) Save(ctx context.Context, t *Ticket) error {
	encoded, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("approval: encode ticket: %w", err)
	}

	// Tickets are kept around for a day past their deadline for audit/lookup
	// purposes even once resolved.
	ttl := time.Until(t.Deadline) + 24*time.Hour
	if ttl < time.Hour {
		ttl = time.Hour
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.ticketKey(t.ID), encoded, ttl)

	if t.Status.IsOpen() {
		pipe.Set(ctx, s.openKey(t.ExecutionID, t.NodeID), t.ID, ttl)
		pipe.SAdd(ctx, s.openSetKey(), t.ID)
	} else {
		pipe.Del(ctx, s.openKey(t.ExecutionID, t.NodeID))
		pipe.SRem(ctx, s.openSetKey(), t.ID)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("approval: save ticket: %w", err)
	}
	return nil
}

// Get retrieves a ticket by ID.
func (s *RedisTicketStore) Get(ctx context.Context, ticketID string) (*Ticket, error) {
	raw, err := s.client.Get(ctx, s.ticketKey(ticketID)).Result()
	if err == redis.Nil {
		return nil, models.ErrApprovalTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approval: get ticket: %w", err)
	}

	var t Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, fmt.Errorf("approval: decode ticket: %w", err)
	}
	return &t, nil
}

// GetOpenByNode returns the currently open ticket for (executionID, nodeID),
// if any.
func (s *RedisTicketStore) GetOpenByNode(ctx context.Context, executionID, nodeID string) (*Ticket, error) {
	id, err := s.client.Get(ctx, s.openKey(executionID, nodeID)).Result()
	if err == redis.Nil {
		return nil, models.ErrApprovalTicketNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("approval: get open ticket: %w", err)
	}
	return s.Get(ctx, id)
}

// ListOpen returns every ticket currently marked open, for the timeout
// sweep to check against their deadlines.
func (s *RedisTicketStore) ListOpen(ctx context.Context) ([]*Ticket, error) {
	ids, err := s.client.SMembers(ctx, s.openSetKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("approval: list open tickets: %w", err)
	}

	tickets := make([]*Ticket, 0, len(ids))
	for _, id := range ids {
		t, err := s.Get(ctx, id)
		if err != nil {
			if err == models.ErrApprovalTicketNotFound {
				// Expired out of Redis already; drop it from the sweep set.
				s.client.SRem(ctx, s.openSetKey(), id)
				continue
			}
			return nil, err
		}
		tickets = append(tickets, t)
	}
	return tickets, nil
}

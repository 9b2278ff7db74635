package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/smilemakc/mbflow/internal/application/observer"
	"github.com/smilemakc/mbflow/pkg/models"
)

// Action is what an assignee did with an open ticket.
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// Manager issues and resolves approval tickets for human_task nodes. It is
// the single entry point the DAG executor and the REST approval handlers
// both go through.
type Manager struct {
	store    TicketStore
	tokens   *TokenService
	redis    redis.UniversalClient
	lockTTL  time.Duration
	defaults Defaults
	notify   *observer.ObserverManager
}

// Defaults holds the ticket parameters applied when a human_task node
// doesn't specify its own.
type Defaults struct {
	Timeout  time.Duration
	Fallback FallbackPolicy
}

// Option configures a Manager.
type Option func(*Manager)

// WithObserverManager attaches an observer manager so ticket lifecycle
// transitions are published as human.* events.
func WithObserverManager(m *observer.ObserverManager) Option {
	return func(mgr *Manager) { mgr.notify = m }
}

// NewManager creates a Manager. client is used both by store (if store is
// nil, a RedisTicketStore is built from it under "approval:") and for the
// single-response consumption guard.
func NewManager(client redis.UniversalClient, store TicketStore, tokens *TokenService, defaults Defaults, opts ...Option) *Manager {
	if store == nil {
		store = NewRedisTicketStore(client, "approval:")
	}
	m := &Manager{
		store:    store,
		tokens:   tokens,
		redis:    client,
		lockTTL:  24 * time.Hour,
		defaults: defaults,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IssueTicket opens (or returns the existing) approval ticket for a
// human_task node. Issuing again for a node with an already-open ticket is
// idempotent: it returns the existing ticket rather than minting a second
// one, preserving the at-most-one-open-ticket-per-node invariant.
func (m *Manager) IssueTicket(ctx context.Context, executionID, nodeID, assignee, message string, timeout time.Duration, fallback FallbackPolicy) (*Ticket, error) {
	if existing, err := m.store.GetOpenByNode(ctx, executionID, nodeID); err == nil {
		return existing, nil
	} else if err != models.ErrApprovalTicketNotFound {
		return nil, err
	}

	if timeout <= 0 {
		timeout = m.defaults.Timeout
	}
	if fallback == "" {
		fallback = m.defaults.Fallback
	}

	now := time.Now()
	ticket := &Ticket{
		ID:          uuid.New().String(),
		ExecutionID: executionID,
		NodeID:      nodeID,
		Assignee:    assignee,
		Message:     message,
		Fallback:    fallback,
		IssuedAt:    now,
		Deadline:    now.Add(timeout),
		Status:      StatusOpen,
	}

	token, err := m.tokens.Sign(ticket.ID, executionID, nodeID, assignee, now, ticket.Deadline)
	if err != nil {
		return nil, err
	}
	ticket.Token = token

	if err := m.store.Save(ctx, ticket); err != nil {
		return nil, err
	}

	m.publish(ctx, observer.EventTypeHumanApprovalRequested, ticket)
	return ticket, nil
}

// GetTicket retrieves a ticket by ID.
func (m *Manager) GetTicket(ctx context.Context, ticketID string) (*Ticket, error) {
	return m.store.Get(ctx, ticketID)
}

// VerifyToken parses and validates an approval token, returning its claims
// without touching ticket state.
func (m *Manager) VerifyToken(token string) (*TokenClaims, error) {
	return m.tokens.Verify(token)
}

// Respond resolves the ticket named by token with action, recording comment
// and any data the approver submitted (merged into the waiting node's
// output on resume). The first call to reach this method for a given
// ticket wins; later calls (a double-click, a forwarded link) fail with
// ErrApprovalTicketClosed.
func (m *Manager) Respond(ctx context.Context, token string, action Action, respondedBy, comment string, data map[string]interface{}) (*Ticket, error) {
	claims, err := m.tokens.Verify(token)
	if err != nil {
		return nil, err
	}

	consumeKey := "approval:consumed:" + claims.TicketID
	won, err := m.redis.SetNX(ctx, consumeKey, respondedBy, m.lockTTL).Result()
	if err != nil {
		return nil, fmt.Errorf("approval: consume guard: %w", err)
	}
	if !won {
		return nil, models.ErrApprovalTicketClosed
	}

	ticket, err := m.store.Get(ctx, claims.TicketID)
	if err != nil {
		return nil, err
	}

	if !ticket.Status.IsOpen() {
		return nil, models.ErrApprovalTicketClosed
	}
	if ticket.Expired(time.Now()) {
		return nil, models.ErrApprovalTicketExpired
	}
	if respondedBy != "" && respondedBy != ticket.Assignee {
		return nil, models.ErrApprovalAssigneeMismatch
	}

	now := time.Now()
	ticket.RespondedAt = &now
	ticket.RespondedBy = respondedBy
	ticket.Comment = comment
	ticket.Data = data

	eventType := observer.EventTypeHumanApproved
	switch action {
	case ActionApprove:
		ticket.Status = StatusApproved
	case ActionReject:
		ticket.Status = StatusRejected
		eventType = observer.EventTypeHumanRejected
	default:
		return nil, fmt.Errorf("approval: unknown action %q", action)
	}

	if err := m.store.Save(ctx, ticket); err != nil {
		return nil, err
	}

	m.publish(ctx, eventType, ticket)
	return ticket, nil
}

// CheckTimeouts sweeps every open ticket past its deadline and applies its
// fallback policy, returning the tickets it resolved.
func (m *Manager) CheckTimeouts(ctx context.Context) ([]*Ticket, error) {
	open, err := m.store.ListOpen(ctx)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	var resolved []*Ticket
	for _, ticket := range open {
		if !ticket.Expired(now) {
			continue
		}

		consumeKey := "approval:consumed:" + ticket.ID
		won, err := m.redis.SetNX(ctx, consumeKey, "timeout", m.lockTTL).Result()
		if err != nil || !won {
			// Either an error or a concurrent Respond/sweep already claimed it.
			continue
		}

		ticket.RespondedAt = &now
		ticket.RespondedBy = "timeout"

		switch ticket.Fallback {
		case FallbackAutoApprove:
			ticket.Status = StatusApproved
		case FallbackCancel:
			ticket.Status = StatusRejected
		default: // FallbackEscalate and unset fall back to a plain timeout marker
			ticket.Status = StatusTimedOut
		}

		if err := m.store.Save(ctx, ticket); err != nil {
			return resolved, err
		}

		m.publish(ctx, observer.EventTypeApprovalTimeout, ticket)
		resolved = append(resolved, ticket)
	}

	return resolved, nil
}

func (m *Manager) publish(ctx context.Context, eventType observer.EventType, t *Ticket) {
	if m.notify == nil {
		return
	}
	nodeID := t.NodeID
	m.notify.Notify(ctx, observer.Event{
		Type:        eventType,
		ExecutionID: t.ExecutionID,
		Timestamp:   time.Now(),
		NodeID:      &nodeID,
		Status:      string(t.Status),
		Metadata: map[string]any{
			"ticket_id": t.ID,
			"assignee":  t.Assignee,
		},
	})
}

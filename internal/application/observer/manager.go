package observer

import (
	"context"
	"fmt"
	"sync"

	"github.com/smilemakc/mbflow/internal/application/eventbus"
	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// payloadKey is where Notify stashes the full observer.Event inside the
// generic eventbus.Event it emits, so a registered Observer (which wants
// NodeName/Status/Input/Output/... rather than just kind+payload) gets it
// back whole instead of a lossy re-encoding.
const payloadKey = "_event"

// ObserverManager is the execution engine's entry point for publishing
// events. It is a thin adapter over eventbus.Bus: each registered
// Observer becomes one bus subscription with its own bounded queue and
// delivery goroutine, so a slow or misbehaving observer can no longer
// stall another observer or the emitting goroutine the way the old flat
// goroutine-per-event fanout could.
type ObserverManager struct {
	bus        *eventbus.Bus
	logger     *logger.Logger
	bufferSize int
	mu         sync.Mutex
	subs       map[string]*eventbus.Subscription
}

// ManagerOption configures ObserverManager
type ManagerOption func(*ObserverManager)

// WithLogger sets the logger for the manager
func WithLogger(l *logger.Logger) ManagerOption {
	return func(m *ObserverManager) {
		m.logger = l
	}
}

// WithBufferSize sets the per-observer bounded queue depth (the bus calls
// this the subscriber queue size).
func WithBufferSize(size int) ManagerOption {
	return func(m *ObserverManager) {
		m.bufferSize = size
	}
}

// NewObserverManager creates a new observer manager
func NewObserverManager(opts ...ManagerOption) *ObserverManager {
	mgr := &ObserverManager{
		bufferSize: eventbus.DefaultQueueSize,
		subs:       make(map[string]*eventbus.Subscription),
	}

	for _, opt := range opts {
		opt(mgr)
	}

	mgr.bus = eventbus.New(eventbus.WithQueueSize(mgr.bufferSize), eventbus.WithLogger(mgr.logger))
	return mgr
}

// Bus exposes the underlying event bus for components (the AI router, a
// future subscription bridge) that want emit/subscribe/recent directly
// instead of implementing the Observer interface.
func (m *ObserverManager) Bus() *eventbus.Bus {
	return m.bus
}

// Register adds an observer to the manager
func (m *ObserverManager) Register(obs Observer) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.subs[obs.Name()]; exists {
		return fmt.Errorf("observer with name %q already registered", obs.Name())
	}

	sub := m.bus.Subscribe(obs.Name(), eventbus.Filter{}, m.deliverTo(obs))
	m.subs[obs.Name()] = sub
	return nil
}

// deliverTo builds the bus handler that recovers the original
// observer.Event from the payload, applies the observer's own filter,
// and invokes it with panic recovery (a misbehaving observer must not
// take down the delivery goroutine other observers don't share).
func (m *ObserverManager) deliverTo(obs Observer) eventbus.Handler {
	return func(ctx context.Context, e eventbus.Event) (err error) {
		original, ok := e.Payload[payloadKey].(Event)
		if !ok {
			return nil
		}

		if filter := obs.Filter(); filter != nil && !filter.ShouldNotify(original) {
			return nil
		}

		defer func() {
			if r := recover(); r != nil {
				if m.logger != nil {
					m.logger.ErrorContext(ctx, "Observer panic recovered",
						"observer", obs.Name(),
						"event_type", string(original.Type),
						"panic", r,
					)
				}
			}
		}()

		return obs.OnEvent(ctx, original)
	}
}

// Unregister removes an observer by name
func (m *ObserverManager) Unregister(name string) error {
	m.mu.Lock()
	sub, exists := m.subs[name]
	if !exists {
		m.mu.Unlock()
		return fmt.Errorf("observer %q not found", name)
	}
	delete(m.subs, name)
	m.mu.Unlock()

	sub.Unsubscribe()
	return nil
}

// Notify sends an event to all registered observers (NON-BLOCKING): each
// observer's own bounded queue absorbs it, so Notify itself never blocks
// on a slow observer.
func (m *ObserverManager) Notify(ctx context.Context, event Event) {
	var nodeID string
	if event.NodeID != nil {
		nodeID = *event.NodeID
	}

	m.bus.Emit(ctx, eventbus.Event{
		Kind:        string(event.Type),
		ExecutionID: event.ExecutionID,
		NodeID:      nodeID,
		Payload:     map[string]any{payloadKey: event},
		Timestamp:   event.Timestamp,
	})
}

// Count returns the number of registered observers
func (m *ObserverManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}

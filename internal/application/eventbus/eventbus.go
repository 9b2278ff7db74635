// Package eventbus is the in-process event bus the engine and the AI
// router publish onto: a bounded ring of recently emitted events for
// late-joining subscribers to replay, and one bounded queue per
// subscriber so a slow or stuck subscriber can never stall emission or
// another subscriber. It generalizes the observer package's flat
// goroutine-per-event fanout, which gave neither guarantee; ObserverManager
// is now a thin adapter on top of a Bus rather than its own delivery
// mechanism.
package eventbus

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smilemakc/mbflow/internal/infrastructure/logger"
)

// Default bounds: a ring deep enough to replay recent history, and a
// per-subscriber queue deep enough to absorb a burst without blocking
// the emitter.
const (
	DefaultRingSize  = 1000
	DefaultQueueSize = 256
)

// Event is the unit the bus carries: a kind string and a free-form
// payload, plus the execution_id/node_id every consumer filters on.
// Producers that already have a richer event shape (observer.Event, the
// AI router's request/response) stash it whole in Payload under a key of
// their choosing so subscribers with access to that shape can recover it
// without a lossy re-encoding.
type Event struct {
	Kind        string
	ExecutionID string
	NodeID      string
	Payload     map[string]any
	Timestamp   time.Time
}

// Filter narrows which events a subscription receives by execution_id,
// node_id and/or kind. The zero Filter matches every event (a wildcard
// subscriber).
type Filter struct {
	ExecutionID string
	NodeID      string
	Kinds       map[string]bool
}

// NewKindFilter builds a Filter matching any of kinds.
func NewKindFilter(kinds ...string) Filter {
	set := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		set[k] = true
	}
	return Filter{Kinds: set}
}

func (f Filter) match(e Event) bool {
	if f.ExecutionID != "" && e.ExecutionID != f.ExecutionID {
		return false
	}
	if f.NodeID != "" && e.NodeID != f.NodeID {
		return false
	}
	if len(f.Kinds) > 0 && !f.Kinds[e.Kind] {
		return false
	}
	return true
}

// Handler processes one delivered event. It runs on the subscription's
// own goroutine, never on the Emit caller's goroutine, so a handler that
// blocks only ever stalls its own queue.
type Handler func(ctx context.Context, e Event) error

// Subscription is a live registration on a Bus.
type Subscription struct {
	id        uint64
	name      string
	filter    Filter
	handler   Handler
	queue     chan Event
	dropped   atomic.Uint64
	bus       *Bus
	done      chan struct{}
	closeOnce sync.Once
}

// Name returns the subscriber name passed to Subscribe.
func (s *Subscription) Name() string { return s.name }

// Dropped returns how many queued events this subscription has discarded
// because its queue was full when a new event arrived.
func (s *Subscription) Dropped() uint64 { return s.dropped.Load() }

// Unsubscribe stops delivery and releases the subscription's queue.
func (s *Subscription) Unsubscribe() {
	s.bus.remove(s.id)
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Subscription) loop(ctx context.Context, log *logger.Logger) {
	for {
		select {
		case e, ok := <-s.queue:
			if !ok {
				return
			}
			if err := s.handler(ctx, e); err != nil && log != nil {
				log.ErrorContext(ctx, "eventbus subscriber failed",
					"subscriber", s.name,
					"event_kind", e.Kind,
					"error", err,
				)
			}
		case <-s.done:
			return
		}
	}
}

// Bus is an in-process, at-least-once, per-subscriber-ordered event bus.
type Bus struct {
	mu        sync.Mutex
	ring      []Event
	ringHead  int
	ringSize  int
	queueSize int
	subs      map[uint64]*Subscription
	nextID    uint64
	logger    *logger.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used to report subscriber handler errors.
func WithLogger(l *logger.Logger) Option { return func(b *Bus) { b.logger = l } }

// WithRingSize overrides the default replay-ring depth.
func WithRingSize(n int) Option { return func(b *Bus) { b.ringSize = n } }

// WithQueueSize overrides the default per-subscriber queue depth.
func WithQueueSize(n int) Option { return func(b *Bus) { b.queueSize = n } }

// New creates a Bus with DefaultRingSize/DefaultQueueSize unless
// overridden by opts.
func New(opts ...Option) *Bus {
	b := &Bus{
		ringSize:  DefaultRingSize,
		queueSize: DefaultQueueSize,
		subs:      make(map[uint64]*Subscription),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.ringSize <= 0 {
		b.ringSize = DefaultRingSize
	}
	if b.queueSize <= 0 {
		b.queueSize = DefaultQueueSize
	}
	b.ring = make([]Event, 0, b.ringSize)
	return b
}

// Emit records e in the replay ring and fans it out to every subscription
// whose filter matches, in the single order Emit calls arrive in (the bus
// holds one lock across ring-append and fanout), so two events
// for the same execution are always delivered to a given subscriber in
// the order they were emitted. Emit never blocks on a subscriber: a full
// subscriber queue drops its own oldest entry to make room rather than
// stall the caller. Handlers run with the subscription's own background
// context, not ctx, so a canceled caller context (e.g. an
// HTTP request that already returned) doesn't cut off in-flight
// notification of subscribers still working.
func (b *Bus) Emit(ctx context.Context, e Event) Event {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mu.Lock()
	b.appendRing(e)
	subsCopy := make([]*Subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subsCopy = append(subsCopy, s)
	}

	for _, s := range subsCopy {
		if !s.filter.match(e) {
			continue
		}
		deliver(s, e)
	}
	b.mu.Unlock()
	return e
}

func deliver(s *Subscription, e Event) {
	select {
	case s.queue <- e:
		return
	default:
	}
	// Queue full: drop the oldest entry to make room for e rather than
	// drop e itself, so a replay-starved subscriber at least stays
	// current with what's happening now.
	select {
	case <-s.queue:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.queue <- e:
	default:
	}
}

func (b *Bus) appendRing(e Event) {
	if len(b.ring) < b.ringSize {
		b.ring = append(b.ring, e)
		return
	}
	b.ring[b.ringHead] = e
	b.ringHead = (b.ringHead + 1) % b.ringSize
}

// Subscribe registers handler under name, matching events against filter
// (the zero Filter matches everything). Each subscription gets its own
// bounded queue and delivery goroutine so it cannot block any other
// subscriber.
func (b *Bus) Subscribe(name string, filter Filter, handler Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		id:      b.nextID,
		name:    name,
		filter:  filter,
		handler: handler,
		queue:   make(chan Event, b.queueSize),
		bus:     b,
		done:    make(chan struct{}),
	}
	b.subs[sub.id] = sub
	go sub.loop(context.Background(), b.logger)
	return sub
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
}

// Recent returns up to n of the most recently emitted events matching
// filter, oldest first, for a late-joining subscriber to catch up on
// history it missed. n <= 0 returns every matching event still held in
// the ring.
func (b *Bus) Recent(n int, filter Filter) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	ordered := make([]Event, 0, len(b.ring))
	if len(b.ring) < b.ringSize {
		ordered = append(ordered, b.ring...)
	} else {
		ordered = append(ordered, b.ring[b.ringHead:]...)
		ordered = append(ordered, b.ring[:b.ringHead]...)
	}

	matched := ordered[:0:0]
	for _, e := range ordered {
		if filter.match(e) {
			matched = append(matched, e)
		}
	}
	if n > 0 && len(matched) > n {
		matched = matched[len(matched)-n:]
	}
	return matched
}

// Count returns the number of live subscriptions.
func (b *Bus) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

package engine

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"hotlympics/core"
)

type DispatchMode int

const (
	DispatchSync DispatchMode = iota
	DispatchAsync
)

// AllEvents subscribes a handler to every event type.
const AllEvents core.EventType = "*"

type subscription struct {
	id int64
	fn func(context.Context, core.Event)
}

// BusOption configures an EventBus.
type BusOption func(*EventBus)

// WithQueueSize sets how many events async dispatch buffers before dropping.
func WithQueueSize(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.queueSize = n
		}
	}
}

// WithWorkers sets the number of async dispatch goroutines. One worker keeps
// events in publish order.
func WithWorkers(n int) BusOption {
	return func(e *EventBus) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithBusLogger reports dropped events and handler panics.
func WithBusLogger(l *slog.Logger) BusOption {
	return func(e *EventBus) {
		if l != nil {
			e.logger = l
		}
	}
}

// EventBus fans mutation events out to subscribers, either inline on the
// publishing goroutine or through a bounded queue drained by workers.
type EventBus struct {
	mode      DispatchMode
	queueSize int
	workers   int
	logger    *slog.Logger

	mu      sync.RWMutex
	subs    map[core.EventType]map[int64]subscription
	nextID  int64
	queue   chan core.Event
	closed  bool
	wg      sync.WaitGroup
	dropped atomic.Int64
}

func NewEventBus(mode DispatchMode, opts ...BusOption) *EventBus {
	eb := &EventBus{
		mode:      mode,
		queueSize: 1024,
		workers:   1,
		logger:    slog.Default(),
		subs:      make(map[core.EventType]map[int64]subscription),
	}
	for _, o := range opts {
		o(eb)
	}
	if mode == DispatchAsync {
		eb.queue = make(chan core.Event, eb.queueSize)
		eb.startWorkers()
	}
	return eb
}

func (e *EventBus) startWorkers() {
	for i := 0; i < e.workers; i++ {
		e.wg.Add(1)
		go func() {
			defer e.wg.Done()
			for ev := range e.queue {
				e.dispatch(context.Background(), ev)
			}
		}()
	}
}

// Close stops accepting events, delivers what is already queued and waits
// for the workers to exit. Publishing after Close is a no-op.
func (e *EventBus) Close() {
	if e == nil {
		return
	}
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	if e.queue != nil {
		close(e.queue)
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Subscribe registers a handler for an event type (or AllEvents). Returns unsubscribe func.
func (e *EventBus) Subscribe(typ core.EventType, handler func(context.Context, core.Event)) func() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.subs[typ] == nil {
		e.subs[typ] = make(map[int64]subscription)
	}
	e.subs[typ][id] = subscription{id: id, fn: handler}
	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.subs[typ], id)
	}
}

// Publish sends an event to subscribers. A nil bus drops the event.
func (e *EventBus) Publish(ctx context.Context, ev core.Event) {
	if e == nil {
		return
	}
	if e.mode != DispatchAsync {
		e.mu.RLock()
		closed := e.closed
		e.mu.RUnlock()
		if !closed {
			e.dispatch(ctx, ev)
		}
		return
	}

	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}
	select {
	case e.queue <- ev:
	default:
		// events are advisory; a full queue never blocks a mutation
		if n := e.dropped.Add(1); n == 1 || n%100 == 0 {
			e.logger.Warn("event queue full, dropping events", "type", ev.Type, "dropped", n)
		}
	}
}

// Dropped reports how many async events were discarded on a full queue.
func (e *EventBus) Dropped() int64 { return e.dropped.Load() }

// dispatch runs type handlers then AllEvents handlers, each group in
// subscription order.
func (e *EventBus) dispatch(ctx context.Context, ev core.Event) {
	e.mu.RLock()
	typed := sortedHandlers(e.subs[ev.Type])
	all := sortedHandlers(e.subs[AllEvents])
	e.mu.RUnlock()
	for _, s := range append(typed, all...) {
		e.call(ctx, s, ev)
	}
}

func (e *EventBus) call(ctx context.Context, s subscription, ev core.Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("event handler panicked", "type", ev.Type, "subscription", s.id, "panic", r)
		}
	}()
	s.fn(ctx, ev)
}

func sortedHandlers(m map[int64]subscription) []subscription {
	out := make([]subscription, 0, len(m))
	for _, s := range m {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b subscription) int { return int(a.id - b.id) })
	return out
}

// Package events fans engine notifications out to external consumers. The
// emitter is strictly non-blocking from the caller's point of view: events
// are queued into a bounded buffer and delivered by a background loop, so a
// slow or failing consumer can never block or fail a settlement.
package events

import (
	"context"
	"log/slog"
	"time"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Sink receives delivered events. Sink errors are logged and otherwise
// ignored; they never propagate back to the emitting code.
type Sink interface {
	Deliver(ctx context.Context, ev domain.Event) error
	Name() string
}

// Emitter queues events and dispatches them to all registered sinks.
type Emitter struct {
	sinks  []Sink
	queue  chan domain.Event
	logger *slog.Logger
}

// queueSize bounds the in-flight event buffer. When the buffer is full new
// events are dropped with a warning rather than stalling the hot path.
const queueSize = 1024

// NewEmitter creates an Emitter delivering to the given sinks.
func NewEmitter(sinks []Sink, logger *slog.Logger) *Emitter {
	return &Emitter{
		sinks:  sinks,
		queue:  make(chan domain.Event, queueSize),
		logger: logger.With(slog.String("component", "events")),
	}
}

// Emit queues an event for delivery. It never blocks: when the queue is full
// the event is dropped and counted against the consumers, not the producer.
func (e *Emitter) Emit(ev domain.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case e.queue <- ev:
	default:
		e.logger.Warn("event queue full, dropping event",
			slog.String("type", string(ev.Type)),
			slog.Int64("route_id", ev.RouteID),
		)
	}
}

// Run delivers queued events until the context is cancelled, then drains
// whatever is already buffered.
func (e *Emitter) Run(ctx context.Context) error {
	e.logger.Info("event emitter started", slog.Int("sinks", len(e.sinks)))
	defer e.logger.Info("event emitter stopped")

	for {
		select {
		case <-ctx.Done():
			e.drain()
			return ctx.Err()
		case ev := <-e.queue:
			e.dispatch(ctx, ev)
		}
	}
}

// drain flushes buffered events with a short-lived context so shutdown does
// not hang on external consumers.
func (e *Emitter) drain() {
	for {
		select {
		case ev := <-e.queue:
			drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			e.dispatch(drainCtx, ev)
			cancel()
		default:
			return
		}
	}
}

func (e *Emitter) dispatch(ctx context.Context, ev domain.Event) {
	for _, s := range e.sinks {
		if err := s.Deliver(ctx, ev); err != nil {
			e.logger.Warn("sink delivery failed",
				slog.String("sink", s.Name()),
				slog.String("type", string(ev.Type)),
				slog.String("error", err.Error()),
			)
		}
	}
}

package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// LogSink writes every event to the structured log. It is always registered
// so the event stream is observable even with no external consumers.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a LogSink.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger.With(slog.String("component", "event_log"))}
}

// Name implements Sink.
func (s *LogSink) Name() string { return "log" }

// Deliver implements Sink.
func (s *LogSink) Deliver(_ context.Context, ev domain.Event) error {
	s.logger.Info("engine event",
		slog.String("type", string(ev.Type)),
		slog.Int64("route_id", ev.RouteID),
		slog.String("asset", ev.SourceAsset),
		slog.Uint64("profit", ev.Profit),
		slog.String("reason", ev.Reason),
	)
	return nil
}

// channelFor maps event types to signal bus channels. Settlement lifecycle
// events and registry changes travel on separate channels so consumers can
// subscribe selectively.
func channelFor(t domain.EventType) string {
	if t == domain.EventRegistryChanged {
		return "ch:registry"
	}
	return "ch:settlement"
}

// BusSink publishes events as JSON to the redis signal bus and appends them
// to a durable stream for consumers that poll.
type BusSink struct {
	bus    domain.SignalBus
	stream string
}

// NewBusSink creates a BusSink appending to the given stream.
func NewBusSink(bus domain.SignalBus, stream string) *BusSink {
	if stream == "" {
		stream = "stream:events"
	}
	return &BusSink{bus: bus, stream: stream}
}

// Name implements Sink.
func (s *BusSink) Name() string { return "bus" }

// Deliver implements Sink.
func (s *BusSink) Deliver(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal: %w", err)
	}
	if err := s.bus.Publish(ctx, channelFor(ev.Type), payload); err != nil {
		return err
	}
	return s.bus.StreamAppend(ctx, s.stream, payload)
}

// Notifier is the subset of the notify package the sink needs.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// NotifySink forwards settlement outcomes to operator channels (telegram,
// discord). Routine events are not forwarded.
type NotifySink struct {
	notifier Notifier
}

// NewNotifySink creates a NotifySink.
func NewNotifySink(n Notifier) *NotifySink {
	return &NotifySink{notifier: n}
}

// Name implements Sink.
func (s *NotifySink) Name() string { return "notify" }

// Deliver implements Sink.
func (s *NotifySink) Deliver(ctx context.Context, ev domain.Event) error {
	switch ev.Type {
	case domain.EventSettlementSucceeded:
		return s.notifier.Notify(ctx, string(ev.Type), "Settlement executed",
			fmt.Sprintf("route %d settled %s, profit %d", ev.RouteID, ev.SourceAsset, ev.Profit))
	case domain.EventSettlementFailed:
		return s.notifier.Notify(ctx, string(ev.Type), "Settlement failed",
			fmt.Sprintf("route %d failed at %s: %s", ev.RouteID, ev.Stage, ev.Reason))
	default:
		return nil
	}
}

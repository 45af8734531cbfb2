package events

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type captureSink struct {
	mu     sync.Mutex
	events []domain.Event
	fail   bool
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Deliver(_ context.Context, ev domain.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink down")
	}
	c.events = append(c.events, ev)
	return nil
}

func (c *captureSink) snapshot() []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Event, len(c.events))
	copy(out, c.events)
	return out
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestEmitDelivers(t *testing.T) {
	sink := &captureSink{}
	em := NewEmitter([]Sink{sink}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = em.Run(ctx)
		close(done)
	}()

	em.Emit(domain.Event{Type: domain.EventSettlementSucceeded, RouteID: 7, Profit: 25})
	em.Emit(domain.Event{Type: domain.EventRegistryChanged, CounterpartyID: "aave", Trusted: true})

	require.Eventually(t, func() bool {
		return len(sink.snapshot()) == 2
	}, time.Second, 5*time.Millisecond)

	evs := sink.snapshot()
	assert.Equal(t, domain.EventSettlementSucceeded, evs[0].Type)
	assert.Equal(t, int64(7), evs[0].RouteID)
	assert.False(t, evs[0].At.IsZero())
	assert.Equal(t, "aave", evs[1].CounterpartyID)

	cancel()
	<-done
}

func TestFailingSinkDoesNotBlockOthers(t *testing.T) {
	bad := &captureSink{fail: true}
	good := &captureSink{}
	em := NewEmitter([]Sink{bad, good}, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = em.Run(ctx) }()

	em.Emit(domain.Event{Type: domain.EventSettlementFailed, RouteID: 1})

	require.Eventually(t, func() bool {
		return len(good.snapshot()) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestEmitNeverBlocksWhenQueueFull(t *testing.T) {
	// No Run loop: the queue fills up and Emit must still return.
	em := NewEmitter(nil, discardLogger())
	for i := 0; i < queueSize+10; i++ {
		em.Emit(domain.Event{Type: domain.EventOpportunityRecorded, RouteID: int64(i)})
	}
}

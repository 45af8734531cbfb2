package registry

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	entries map[string]domain.RegistryEntry
}

func newFakeStore() *fakeStore {
	return &fakeStore{entries: make(map[string]domain.RegistryEntry)}
}

func (f *fakeStore) Set(_ context.Context, id string, trusted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[id] = domain.RegistryEntry{ID: id, Trusted: trusted, UpdatedAt: time.Now().UTC()}
	return nil
}

func (f *fakeStore) Get(_ context.Context, id string) (domain.RegistryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[id]
	if !ok {
		return domain.RegistryEntry{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeStore) List(_ context.Context) ([]domain.RegistryEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.RegistryEntry, 0, len(f.entries))
	for _, e := range f.entries {
		out = append(out, e)
	}
	return out, nil
}

type captureEmitter struct {
	mu     sync.Mutex
	events []domain.Event
}

func (c *captureEmitter) Emit(ev domain.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

const (
	testToken = "super-secret-capability"
	testSalt  = "deployment-salt"
)

func newService(t *testing.T) (*Service, *fakeStore, *captureEmitter) {
	t.Helper()
	store := newFakeStore()
	em := &captureEmitter{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, HashCapability(testToken, testSalt), testSalt, em, logger)
	return svc, store, em
}

func TestSetTrustedRequiresCapability(t *testing.T) {
	svc, store, em := newService(t)
	ctx := context.Background()

	err := svc.SetTrusted(ctx, "wrong-token", "uniswap", true)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Empty(t, store.entries)
	assert.Empty(t, em.events)
}

func TestSetTrustedEmitsEvent(t *testing.T) {
	svc, _, em := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetTrusted(ctx, testToken, "uniswap", true))
	assert.True(t, svc.IsTrusted(ctx, "uniswap"))

	require.Len(t, em.events, 1)
	assert.Equal(t, domain.EventRegistryChanged, em.events[0].Type)
	assert.Equal(t, "uniswap", em.events[0].CounterpartyID)
	assert.True(t, em.events[0].Trusted)
}

func TestUnknownCounterpartyUntrusted(t *testing.T) {
	svc, _, _ := newService(t)
	assert.False(t, svc.IsTrusted(context.Background(), "never-registered"))
}

func TestRevokeTrust(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	require.NoError(t, svc.SetTrusted(ctx, testToken, "aave", true))
	require.NoError(t, svc.SetTrusted(ctx, testToken, "aave", false))
	assert.False(t, svc.IsTrusted(ctx, "aave"))
}

func TestEmptyCapabilityHashDisablesMutation(t *testing.T) {
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := New(store, "", testSalt, &captureEmitter{}, logger)

	err := svc.SetTrusted(context.Background(), testToken, "aave", true)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

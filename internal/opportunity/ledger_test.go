package opportunity

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// fakeStore is an in-memory OpportunityStore with the same monotonic-id and
// one-shot-finalize semantics as the postgres implementation.
type fakeStore struct {
	mu     sync.Mutex
	nextID int64
	recs   map[int64]domain.OpportunityRecord
}

func newFakeStore() *fakeStore {
	return &fakeStore{recs: make(map[int64]domain.OpportunityRecord)}
}

func (f *fakeStore) Insert(_ context.Context, rec domain.OpportunityRecord) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	rec.ID = f.nextID
	f.recs[rec.ID] = rec
	return rec.ID, nil
}

func (f *fakeStore) Finalize(_ context.Context, id int64, status domain.OppStatus, profit int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status != domain.OppPending {
		return domain.ErrAlreadyFinalized
	}
	now := time.Now().UTC()
	rec.Status = status
	rec.RealizedProfit = profit
	rec.FailReason = reason
	rec.FinalizedAt = &now
	f.recs[id] = rec
	return nil
}

func (f *fakeStore) GetByID(_ context.Context, id int64) (domain.OpportunityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return domain.OpportunityRecord{}, domain.ErrNotFound
	}
	return rec, nil
}

func (f *fakeStore) ListRecent(_ context.Context, limit int) ([]domain.OpportunityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.OpportunityRecord, 0, len(f.recs))
	for _, rec := range f.recs {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeStore) ListFinalizedBefore(_ context.Context, before time.Time) ([]domain.OpportunityRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OpportunityRecord
	for _, rec := range f.recs {
		if rec.FinalizedAt != nil && rec.FinalizedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func testRoute() domain.Route {
	return domain.Route{
		SourceAsset: "USDC",
		LoanAmount:  1000,
		Legs:        []domain.Leg{{VenueID: "uniswap", Instruction: "0xdead"}},
		MinProfit:   20,
	}
}

func newLedger() (*Ledger, *fakeStore) {
	store := newFakeStore()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewLedger(store, logger), store
}

func TestRecordStartsPending(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	id, err := l.Record(ctx, testRoute())
	require.NoError(t, err)

	rec, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OppPending, rec.Status)
	assert.Equal(t, uint64(1000), rec.Route.LoanAmount)
}

func TestMonotonicIDs(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	a, err := l.Record(ctx, testRoute())
	require.NoError(t, err)
	b, err := l.Record(ctx, testRoute())
	require.NoError(t, err)
	assert.Greater(t, b, a)
}

func TestFinalizeExactlyOnce(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	id, err := l.Record(ctx, testRoute())
	require.NoError(t, err)

	require.NoError(t, l.Finalize(ctx, id, domain.OppExecuted, 25, ""))

	err = l.Finalize(ctx, id, domain.OppFailed, 0, "late rollback")
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)

	rec, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OppExecuted, rec.Status)
	assert.Equal(t, int64(25), rec.RealizedProfit)
}

func TestFinalizeToPendingRejected(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	id, err := l.Record(ctx, testRoute())
	require.NoError(t, err)

	err = l.Finalize(ctx, id, domain.OppPending, 0, "")
	require.Error(t, err)
}

func TestRecordSnapshotsRoute(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	route := testRoute()
	id, err := l.Record(ctx, route)
	require.NoError(t, err)

	route.Legs[0].VenueID = "mutated"

	rec, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "uniswap", rec.Route.Legs[0].VenueID)
}

func TestRecordRejectedIsTerminal(t *testing.T) {
	l, _ := newLedger()
	ctx := context.Background()

	id, err := l.RecordRejected(ctx, testRoute(), domain.ErrUntrustedCounterparty.Error())
	require.NoError(t, err)

	rec, err := l.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.OppRejected, rec.Status)
	require.NotNil(t, rec.FinalizedAt)

	err = l.Finalize(ctx, id, domain.OppFailed, 0, "x")
	require.ErrorIs(t, err, domain.ErrAlreadyFinalized)
}

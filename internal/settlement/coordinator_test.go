package settlement

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
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

// ---------------------------------------------------------------------------
// Fakes for the coordinator's collaborators.
// ---------------------------------------------------------------------------

type fakeTrust struct {
	trusted map[string]bool
}

func (f *fakeTrust) IsTrusted(_ context.Context, id string) bool { return f.trusted[id] }

type fakeOpps struct {
	mu     sync.Mutex
	nextID int64
	recs   map[int64]domain.OpportunityRecord
}

func newFakeOpps() *fakeOpps {
	return &fakeOpps{recs: make(map[int64]domain.OpportunityRecord)}
}

func (f *fakeOpps) Record(_ context.Context, route domain.Route) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.recs[f.nextID] = domain.OpportunityRecord{ID: f.nextID, Route: route, Status: domain.OppPending}
	return f.nextID, nil
}

func (f *fakeOpps) RecordRejected(_ context.Context, route domain.Route, reason string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.recs[f.nextID] = domain.OpportunityRecord{
		ID: f.nextID, Route: route, Status: domain.OppRejected, FailReason: reason,
	}
	return f.nextID, nil
}

func (f *fakeOpps) Finalize(_ context.Context, id int64, status domain.OppStatus, profit int64, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.recs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if rec.Status != domain.OppPending {
		return domain.ErrAlreadyFinalized
	}
	rec.Status = status
	rec.RealizedProfit = profit
	rec.FailReason = reason
	f.recs[id] = rec
	return nil
}

func (f *fakeOpps) get(id int64) domain.OpportunityRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.recs[id]
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

func (c *captureEmitter) byType(t domain.EventType) []domain.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []domain.Event
	for _, ev := range c.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

// legCall is one entry in the execution trace shared by all fake venues.
type legCall struct {
	venueID  string
	amountIn uint64
}

type trace struct {
	mu    sync.Mutex
	calls []legCall
}

func (tr *trace) add(c legCall) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.calls = append(tr.calls, c)
}

func (tr *trace) snapshot() []legCall {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	out := make([]legCall, len(tr.calls))
	copy(out, tr.calls)
	return out
}

// fakeVenue applies fn to the input amount and records the call.
type fakeVenue struct {
	id string
	fn func(in uint64) (uint64, error)
	tr *trace
}

func (v *fakeVenue) ID() string { return v.id }

func (v *fakeVenue) Execute(_ context.Context, _ string, _ string, amountIn uint64) (uint64, error) {
	if v.tr != nil {
		v.tr.add(legCall{venueID: v.id, amountIn: amountIn})
	}
	return v.fn(amountIn)
}

// fakeProvider advances the loan by invoking the sink callback synchronously,
// the way a flash lender commits only if the callback succeeds. The grant
// fields can be skewed to exercise the integrity checks.
type fakeProvider struct {
	id         string
	fee        uint64
	grantAsset string // overrides the requested asset when set
	grantDelta int64  // added to the requested amount
	spoofAs    string // provider id reported in the grant, if set
	skip       bool   // return success without calling back
	callCount  int
	doubleCall bool
}

func (p *fakeProvider) ID() string { return p.id }

func (p *fakeProvider) RequestLoan(ctx context.Context, asset string, amount uint64, data domain.ContinuationData, sink domain.LoanSink) error {
	p.callCount++
	if p.skip {
		return nil
	}
	grant := domain.LoanGrant{
		ProviderID: p.id,
		Asset:      asset,
		Amount:     uint64(int64(amount) + p.grantDelta),
		Fee:        p.fee,
		Data:       data,
	}
	if p.grantAsset != "" {
		grant.Asset = p.grantAsset
	}
	if p.spoofAs != "" {
		grant.ProviderID = p.spoofAs
	}
	if err := sink.OnLoanGranted(ctx, grant); err != nil {
		return err
	}
	if p.doubleCall {
		return sink.OnLoanGranted(ctx, grant)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Harness
// ---------------------------------------------------------------------------

type harness struct {
	coord    *Coordinator
	book     *ledger.Ledger
	opps     *fakeOpps
	emitter  *captureEmitter
	dir      *Directory
	provider *fakeProvider
	trace    *trace
}

func newHarness(t *testing.T, trusted ...string) *harness {
	t.Helper()
	trust := &fakeTrust{trusted: make(map[string]bool)}
	for _, id := range trusted {
		trust.trusted[id] = true
	}
	book := ledger.New()
	opps := newFakeOpps()
	em := &captureEmitter{}
	dir := NewDirectory()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	coord := NewCoordinator(book, trust, opps, em, dir, nil, Config{}, logger)
	provider := &fakeProvider{id: "lender", fee: 5}
	coord.RegisterProvider(provider)
	return &harness{coord: coord, book: book, opps: opps, emitter: em, dir: dir, provider: provider, trace: &trace{}}
}

func (h *harness) venue(id string, fn func(uint64) (uint64, error)) {
	h.dir.Register(&fakeVenue{id: id, fn: fn, tr: h.trace})
}

func yield(out uint64) func(uint64) (uint64, error) {
	return func(uint64) (uint64, error) { return out, nil }
}

func oneLegRoute(minProfit uint64) domain.Route {
	return domain.Route{
		SourceAsset: "USDC",
		LoanAmount:  1000,
		Legs:        []domain.Leg{{VenueID: "dex-a", Instruction: "0x01"}},
		MinProfit:   minProfit,
	}
}

// ---------------------------------------------------------------------------
// Worked scenarios
// ---------------------------------------------------------------------------

func TestProfitableRouteExecutes(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1030))

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.NoError(t, err)

	rec := h.opps.get(id)
	assert.Equal(t, domain.OppExecuted, rec.Status)
	assert.Equal(t, int64(25), rec.RealizedProfit)

	// Loan repaid, fee paid, profit distributed: nothing left behind.
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))

	succ := h.emitter.byType(domain.EventSettlementSucceeded)
	require.Len(t, succ, 1)
	assert.Equal(t, uint64(25), succ[0].Profit)
}

func TestBreakEvenAcceptedWhenFloorIsZero(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1005)) // exactly loan + fee

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(0))
	require.NoError(t, err)

	rec := h.opps.get(id)
	assert.Equal(t, domain.OppExecuted, rec.Status)
	assert.Equal(t, int64(0), rec.RealizedProfit)
}

func TestInsufficientRepaymentFails(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1000)) // cannot cover the fee

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrInsufficientRepayment)

	rec := h.opps.get(id)
	assert.Equal(t, domain.OppFailed, rec.Status)
	assert.Contains(t, rec.FailReason, domain.ErrInsufficientRepayment.Error())
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))
}

func TestProfitBelowThresholdFails(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1010)) // profit 5, floor 20

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrProfitBelowThreshold)

	rec := h.opps.get(id)
	assert.Equal(t, domain.OppFailed, rec.Status)
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))
}

func TestUntrustedVenueRejectedBeforeAnyCall(t *testing.T) {
	h := newHarness(t, "lender") // venue never registered as trusted
	h.venue("dex-a", yield(1030))

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrUntrustedCounterparty)

	rec := h.opps.get(id)
	assert.Equal(t, domain.OppRejected, rec.Status)
	assert.Equal(t, 0, h.provider.callCount, "provider must not be called")
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))
	assert.Empty(t, h.emitter.byType(domain.EventOpportunityRecorded))
}

func TestUntrustedProviderRejected(t *testing.T) {
	h := newHarness(t, "dex-a")
	h.venue("dex-a", yield(1030))

	_, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrUntrustedCounterparty)
	assert.Equal(t, 0, h.provider.callCount)
}

// ---------------------------------------------------------------------------
// Route validation
// ---------------------------------------------------------------------------

func TestZeroLoanAmountRejected(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	route := oneLegRoute(0)
	route.LoanAmount = 0

	_, err := h.coord.Submit(context.Background(), "lender", "alice", route)
	require.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestEmptyRouteRejected(t *testing.T) {
	h := newHarness(t, "lender")
	route := domain.Route{SourceAsset: "USDC", LoanAmount: 1000}

	_, err := h.coord.Submit(context.Background(), "lender", "alice", route)
	require.ErrorIs(t, err, domain.ErrEmptyRoute)
}

// ---------------------------------------------------------------------------
// Callback integrity
// ---------------------------------------------------------------------------

func TestGrantFromWrongProviderAborts(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1030))
	h.provider.spoofAs = "impostor"

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrInvalidInitiator)
	assert.Equal(t, domain.OppFailed, h.opps.get(id).Status)
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))
}

func TestGrantAssetMismatchAborts(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1030))
	h.provider.grantAsset = "DAI"

	_, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrAssetMismatch)
}

func TestGrantAmountMismatchAborts(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1030))
	h.provider.grantDelta = -1

	_, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrAmountMismatch)
}

func TestProviderThatNeverCallsBackFails(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1030))
	h.provider.skip = true

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrLoanNotGranted)
	assert.Equal(t, domain.OppFailed, h.opps.get(id).Status)
}

func TestDuplicateCallbackRejectedWithoutCorruption(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(1030))
	h.provider.doubleCall = true

	// The duplicate callback errors, which the provider propagates, but the
	// first pass already drove the settlement to repayment approval; the
	// callback verdict must not be overwritten.
	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	require.ErrorIs(t, err, domain.ErrInvalidInitiator)
	_ = id
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))
}

// ---------------------------------------------------------------------------
// Leg execution
// ---------------------------------------------------------------------------

func TestLegWithZeroOutputFails(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	h.venue("dex-a", yield(0))

	id, err := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(0))
	require.ErrorIs(t, err, domain.ErrLegDidNotImprovePosition)
	assert.Equal(t, domain.OppFailed, h.opps.get(id).Status)
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))
}

func TestLegErrorRollsBackMidRoute(t *testing.T) {
	h := newHarness(t, "lender", "dex-a", "dex-b")
	h.venue("dex-a", yield(1100))
	h.venue("dex-b", func(uint64) (uint64, error) { return 0, errors.New("venue reverted") })

	// Pre-existing engine balance must survive the rollback untouched.
	require.NoError(t, h.book.Credit("USDC", 777))

	route := domain.Route{
		SourceAsset: "USDC",
		LoanAmount:  1000,
		Legs: []domain.Leg{
			{VenueID: "dex-a", Instruction: "0x01"},
			{VenueID: "dex-b", Instruction: "0x02"},
		},
		MinProfit: 0,
	}
	_, err := h.coord.Submit(context.Background(), "lender", "alice", route)
	require.ErrorIs(t, err, domain.ErrLegDidNotImprovePosition)
	assert.Equal(t, uint64(777), h.book.Balance("USDC"))

	// The first leg ran, the failing leg was reached, nothing after.
	calls := h.trace.snapshot()
	require.Len(t, calls, 2)
	assert.Equal(t, "dex-a", calls[0].venueID)
	assert.Equal(t, "dex-b", calls[1].venueID)
}

func TestLegsExecuteInSuppliedOrder(t *testing.T) {
	run := func(legs []domain.Leg) []legCall {
		h := newHarness(t, "lender", "double", "plus10")
		h.venue("double", func(in uint64) (uint64, error) { return in * 2, nil })
		h.venue("plus10", func(in uint64) (uint64, error) { return in + 10, nil })
		route := domain.Route{SourceAsset: "USDC", LoanAmount: 100, Legs: legs}
		h.provider.fee = 0
		_, err := h.coord.Submit(context.Background(), "lender", "alice", route)
		require.NoError(t, err)
		return h.trace.snapshot()
	}

	forward := run([]domain.Leg{{VenueID: "double"}, {VenueID: "plus10"}})
	swapped := run([]domain.Leg{{VenueID: "plus10"}, {VenueID: "double"}})

	// double-then-plus10: 100 -> 200 -> 210; plus10-then-double: 100 -> 110 -> 220.
	require.Len(t, forward, 2)
	require.Len(t, swapped, 2)
	assert.Equal(t, []legCall{{"double", 100}, {"plus10", 200}}, forward)
	assert.Equal(t, []legCall{{"plus10", 100}, {"double", 110}}, swapped)
}

// ---------------------------------------------------------------------------
// Concurrency and resubmission
// ---------------------------------------------------------------------------

func TestResubmissionProducesIndependentRecords(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")
	outputs := []uint64{1030, 1000}
	var call int
	h.venue("dex-a", func(uint64) (uint64, error) {
		out := outputs[call]
		call++
		return out, nil
	})

	first, err1 := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))
	second, err2 := h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(20))

	require.NoError(t, err1)
	require.ErrorIs(t, err2, domain.ErrInsufficientRepayment)
	assert.NotEqual(t, first, second)
	assert.Equal(t, domain.OppExecuted, h.opps.get(first).Status)
	assert.Equal(t, domain.OppFailed, h.opps.get(second).Status)
}

func TestConcurrentSettlementsOnSameAssetSerialize(t *testing.T) {
	h := newHarness(t, "lender", "dex-a")

	var inFlight, maxInFlight int32
	var mu sync.Mutex
	h.venue("dex-a", func(in uint64) (uint64, error) {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		inFlight--
		mu.Unlock()
		return in + 50, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = h.coord.Submit(context.Background(), "lender", "alice", oneLegRoute(0))
		}()
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, int32(1), maxInFlight, "settlements on one asset must not interleave")
	assert.Equal(t, uint64(0), h.book.Balance("USDC"))
}

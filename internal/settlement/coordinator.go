// Package settlement implements the atomic flash-settlement coordinator.
// One settlement is a single indivisible unit of work: borrow, execute legs
// in order, verify solvency, distribute profit, approve repayment. If any
// step fails the whole operation rolls back and no partial balance change
// survives.
package settlement

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/flasharb/internal/domain"
	"github.com/alanyoungcy/flasharb/internal/ledger"
)

// state is the coordinator's position in the settlement lifecycle. The
// provider callback is modelled as guarded transitions on this machine
// rather than implicit call-stack reentry, so a second concurrent entry
// cannot corrupt the ledger.
type state int

const (
	stateRequested state = iota
	stateLoanGranted
	stateLegsExecuting
	stateSolvencyVerified
	stateProfitDistributed
	stateRepaymentApproved
	stateRolledBack
)

func (s state) String() string {
	switch s {
	case stateRequested:
		return "requested"
	case stateLoanGranted:
		return "loan_granted"
	case stateLegsExecuting:
		return "legs_executing"
	case stateSolvencyVerified:
		return "solvency_verified"
	case stateProfitDistributed:
		return "profit_distributed"
	case stateRepaymentApproved:
		return "repayment_approved"
	case stateRolledBack:
		return "rolled_back"
	default:
		return "unknown"
	}
}

// attempt is the in-flight context of one settlement, owned exclusively by
// the coordinator between the loan request and the end of the operation.
type attempt struct {
	mu         sync.Mutex
	state      state
	stage      string // state name at the point of failure
	attemptID  string
	providerID string
	initiator  string
	route      domain.Route
	profit     uint64
	err        error
}

// TrustChecker answers counterparty trust queries. Implemented by the
// registry service.
type TrustChecker interface {
	IsTrusted(ctx context.Context, id string) bool
}

// OpportunityLedger is the audit-trail surface the coordinator needs.
type OpportunityLedger interface {
	Record(ctx context.Context, route domain.Route) (int64, error)
	RecordRejected(ctx context.Context, route domain.Route, reason string) (int64, error)
	Finalize(ctx context.Context, id int64, status domain.OppStatus, profit int64, reason string) error
}

// Emitter publishes engine events.
type Emitter interface {
	Emit(ev domain.Event)
}

// Config tunes the coordinator.
type Config struct {
	// LockTTL bounds how long the distributed per-asset lock is held; it
	// only needs to outlive a single settlement.
	LockTTL time.Duration
}

// Coordinator orchestrates settlements. It implements domain.LoanSink: loan
// providers call back into OnLoanGranted before their RequestLoan returns.
type Coordinator struct {
	book      *ledger.Ledger
	trust     TrustChecker
	opps      OpportunityLedger
	emitter   Emitter
	venues    domain.VenueDirectory
	providers map[string]domain.LoanProvider
	locks     domain.LockManager // optional; nil means in-process only
	lockTTL   time.Duration
	logger    *slog.Logger

	mu         sync.Mutex
	assetLocks map[string]*sync.Mutex
	pending    map[int64]*attempt
}

// NewCoordinator creates a Coordinator. locks may be nil when the engine
// runs as a single replica; per-asset serialization within the process is
// always enforced.
func NewCoordinator(
	book *ledger.Ledger,
	trust TrustChecker,
	opps OpportunityLedger,
	emitter Emitter,
	venues domain.VenueDirectory,
	locks domain.LockManager,
	cfg Config,
	logger *slog.Logger,
) *Coordinator {
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Coordinator{
		book:       book,
		trust:      trust,
		opps:       opps,
		emitter:    emitter,
		venues:     venues,
		providers:  make(map[string]domain.LoanProvider),
		locks:      locks,
		lockTTL:    ttl,
		logger:     logger.With(slog.String("component", "settlement")),
		assetLocks: make(map[string]*sync.Mutex),
		pending:    make(map[int64]*attempt),
	}
}

// RegisterProvider makes a loan provider available for settlements. The
// registry still decides whether it may actually be used.
func (c *Coordinator) RegisterProvider(p domain.LoanProvider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers[p.ID()] = p
}

// Submit runs one settlement end to end and returns the opportunity record
// id together with the terminal outcome. The returned error is nil only when
// the route executed and the profit floor held; in every other case the
// record carries the precise failure reason and no balance change survives.
func (c *Coordinator) Submit(ctx context.Context, providerID, initiator string, route domain.Route) (int64, error) {
	// Submission-time validation: no external call, no balance movement.
	if err := route.Validate(); err != nil {
		return c.reject(ctx, route, err)
	}
	if !c.trust.IsTrusted(ctx, providerID) {
		return c.reject(ctx, route, fmt.Errorf("provider %s: %w", providerID, domain.ErrUntrustedCounterparty))
	}
	for _, id := range route.VenueIDs() {
		if !c.trust.IsTrusted(ctx, id) {
			return c.reject(ctx, route, fmt.Errorf("venue %s: %w", id, domain.ErrUntrustedCounterparty))
		}
	}
	c.mu.Lock()
	provider, ok := c.providers[providerID]
	c.mu.Unlock()
	if !ok {
		return c.reject(ctx, route, fmt.Errorf("provider %s not registered: %w", providerID, domain.ErrUntrustedCounterparty))
	}

	// The route is accepted for attempt: create the Pending audit record.
	id, err := c.opps.Record(ctx, route)
	if err != nil {
		return 0, fmt.Errorf("settlement: record opportunity: %w", err)
	}
	c.emitter.Emit(domain.Event{
		Type:        domain.EventOpportunityRecorded,
		RouteID:     id,
		SourceAsset: route.SourceAsset,
		LoanAmount:  route.LoanAmount,
		LegCount:    len(route.Legs),
	})

	log := c.logger.With(
		slog.Int64("route_id", id),
		slog.String("asset", route.SourceAsset),
		slog.String("provider", providerID),
	)

	// Serialize per source asset: one settlement at a time may mutate a
	// given asset balance.
	assetMu := c.assetMutex(route.SourceAsset)
	assetMu.Lock()
	defer assetMu.Unlock()

	if c.locks != nil {
		unlock, err := c.locks.Acquire(ctx, "settle:"+route.SourceAsset, c.lockTTL)
		if err != nil {
			return id, c.fail(ctx, id, route, "requested", err, log)
		}
		defer unlock()
	}

	a := &attempt{
		state:      stateRequested,
		attemptID:  uuid.New().String(),
		providerID: providerID,
		initiator:  initiator,
		route:      route,
	}
	c.mu.Lock()
	c.pending[id] = a
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	log.Info("requesting loan",
		slog.Uint64("amount", route.LoanAmount),
		slog.String("attempt_id", a.attemptID),
	)

	reqErr := provider.RequestLoan(ctx, route.SourceAsset, route.LoanAmount,
		domain.ContinuationData{RouteID: id, Initiator: initiator}, c)

	a.mu.Lock()
	finalState, cbErr, profit, stage := a.state, a.err, a.profit, a.stage
	a.mu.Unlock()

	// The callback's own verdict wins over whatever the provider reported:
	// a provider must not be able to swallow a failed settlement.
	switch {
	case cbErr != nil:
		return id, c.fail(ctx, id, route, stage, cbErr, log)
	case reqErr != nil:
		return id, c.fail(ctx, id, route, stateRequested.String(), reqErr, log)
	case finalState != stateRepaymentApproved:
		return id, c.fail(ctx, id, route, finalState.String(), domain.ErrLoanNotGranted, log)
	}

	if err := c.opps.Finalize(ctx, id, domain.OppExecuted, int64(profit), ""); err != nil {
		return id, fmt.Errorf("settlement: finalize executed: %w", err)
	}
	c.emitter.Emit(domain.Event{
		Type:        domain.EventSettlementSucceeded,
		RouteID:     id,
		SourceAsset: route.SourceAsset,
		Profit:      profit,
	})
	log.Info("settlement executed", slog.Uint64("profit", profit))
	return id, nil
}

// OnLoanGranted is the provider callback. It drives the settlement from
// LoanGranted through RepaymentApproved; any failure restores the ledger
// snapshot and surfaces the error to the provider, aborting its commit.
func (c *Coordinator) OnLoanGranted(ctx context.Context, grant domain.LoanGrant) error {
	c.mu.Lock()
	a, ok := c.pending[grant.Data.RouteID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("settlement: no pending settlement for route %d: %w",
			grant.Data.RouteID, domain.ErrInvalidInitiator)
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	// Guarded transition: exactly one callback per attempt. A duplicate is
	// rejected without touching the attempt, so it cannot corrupt a
	// settlement that already ran.
	if a.state != stateRequested {
		return fmt.Errorf("settlement: duplicate grant callback in state %s: %w",
			a.state, domain.ErrInvalidInitiator)
	}

	// Callback integrity: the grant must come from the provider we asked,
	// for the asset and amount we asked for.
	if grant.ProviderID != a.providerID || grant.Data.Initiator != a.initiator {
		return c.abort(a, stateRequested, domain.ErrInvalidInitiator, nil)
	}
	if grant.Asset != a.route.SourceAsset {
		return c.abort(a, stateRequested, domain.ErrAssetMismatch, nil)
	}
	if grant.Amount != a.route.LoanAmount {
		return c.abort(a, stateRequested, domain.ErrAmountMismatch, nil)
	}
	a.state = stateLoanGranted

	advance := domain.LoanAdvance{
		AttemptID: a.attemptID,
		Amount:    grant.Amount,
		Fee:       grant.Fee,
		Initiator: a.initiator,
		RouteID:   grant.Data.RouteID,
	}

	// Everything after this point mutates the ledger; snapshot first so a
	// failure at any later step undoes all of it in one Restore.
	snap := c.book.Snapshot()
	asset := a.route.SourceAsset

	if err := c.book.Credit(asset, advance.Amount); err != nil {
		return c.abort(a, stateLoanGranted, err, snap)
	}

	a.state = stateLegsExecuting
	working := advance.Amount
	for i, leg := range a.route.Legs {
		venue, ok := c.venues.Venue(leg.VenueID)
		if !ok {
			return c.abort(a, stateLegsExecuting,
				fmt.Errorf("leg %d venue %s: %w", i, leg.VenueID, domain.ErrUntrustedCounterparty), snap)
		}

		// Transfer the working balance to the venue, run the opaque
		// instruction, take back whatever it returns.
		if err := c.book.Debit(asset, working); err != nil {
			return c.abort(a, stateLegsExecuting, err, snap)
		}
		out, err := venue.Execute(ctx, leg.Instruction, asset, working)
		if err != nil {
			return c.abort(a, stateLegsExecuting,
				fmt.Errorf("leg %d venue %s: %v: %w", i, leg.VenueID, err, domain.ErrLegDidNotImprovePosition), snap)
		}
		if out == 0 {
			return c.abort(a, stateLegsExecuting,
				fmt.Errorf("leg %d venue %s: %w", i, leg.VenueID, domain.ErrLegDidNotImprovePosition), snap)
		}
		if err := c.book.Credit(asset, out); err != nil {
			return c.abort(a, stateLegsExecuting, err, snap)
		}

		c.logger.Debug("leg executed",
			slog.Int64("route_id", advance.RouteID),
			slog.Int("leg", i),
			slog.String("venue", leg.VenueID),
			slog.Uint64("in", working),
			slog.Uint64("out", out),
		)
		working = out
	}

	// Solvency: the unsigned comparison stands in for the subtraction, so
	// an underflow is reported as insolvency, never wrapped around.
	a.state = stateSolvencyVerified
	owed, ok := advance.Owed()
	if !ok {
		return c.abort(a, stateSolvencyVerified, domain.ErrInsufficientRepayment, snap)
	}
	final := working
	if final < owed {
		return c.abort(a, stateSolvencyVerified,
			fmt.Errorf("final %d < owed %d: %w", final, owed, domain.ErrInsufficientRepayment), snap)
	}
	profit := final - owed
	if profit < a.route.MinProfit {
		return c.abort(a, stateSolvencyVerified,
			fmt.Errorf("profit %d < floor %d: %w", profit, a.route.MinProfit, domain.ErrProfitBelowThreshold), snap)
	}

	// Surplus goes to the initiator.
	a.state = stateProfitDistributed
	if profit > 0 {
		if err := c.book.Debit(asset, profit); err != nil {
			return c.abort(a, stateProfitDistributed, err, snap)
		}
	}

	// Authorize the provider to reclaim exactly principal plus fee.
	if err := c.book.Debit(asset, owed); err != nil {
		return c.abort(a, stateProfitDistributed, err, snap)
	}
	a.state = stateRepaymentApproved
	a.profit = profit
	return nil
}

// abort rolls the attempt back: the ledger snapshot is restored (when one
// was taken), the failing stage and error are recorded on the attempt, and
// the error is returned for the provider to see. Called with a.mu held.
func (c *Coordinator) abort(a *attempt, at state, err error, snap map[string]uint64) error {
	if snap != nil {
		c.book.Restore(snap)
	}
	a.stage = at.String()
	a.state = stateRolledBack
	a.err = err
	return err
}

// fail finalizes the record as Failed and emits the failure event.
func (c *Coordinator) fail(ctx context.Context, id int64, route domain.Route, stage string, cause error, log *slog.Logger) error {
	if err := c.opps.Finalize(ctx, id, domain.OppFailed, 0, cause.Error()); err != nil {
		log.Error("finalize failed record", slog.String("error", err.Error()))
	}
	c.emitter.Emit(domain.Event{
		Type:        domain.EventSettlementFailed,
		RouteID:     id,
		SourceAsset: route.SourceAsset,
		Reason:      cause.Error(),
		Stage:       stage,
	})
	log.Warn("settlement failed",
		slog.String("stage", stage),
		slog.String("error", cause.Error()),
	)
	return cause
}

// reject records a route that never reached Pending: validation failed
// before any external call was made.
func (c *Coordinator) reject(ctx context.Context, route domain.Route, cause error) (int64, error) {
	id, err := c.opps.RecordRejected(ctx, route, cause.Error())
	if err != nil {
		c.logger.Error("record rejected route", slog.String("error", err.Error()))
	}
	c.logger.Warn("route rejected",
		slog.String("asset", route.SourceAsset),
		slog.String("error", cause.Error()),
	)
	return id, cause
}

// assetMutex returns the per-asset mutex, creating it on first use.
func (c *Coordinator) assetMutex(asset string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.assetLocks[asset]
	if !ok {
		m = &sync.Mutex{}
		c.assetLocks[asset] = m
	}
	return m
}

// Directory is a map-backed VenueDirectory used at wiring time.
type Directory struct {
	mu     sync.RWMutex
	venues map[string]domain.Venue
}

// NewDirectory creates an empty Directory.
func NewDirectory() *Directory {
	return &Directory{venues: make(map[string]domain.Venue)}
}

// Register adds a venue adapter.
func (d *Directory) Register(v domain.Venue) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.venues[v.ID()] = v
}

// Venue implements domain.VenueDirectory.
func (d *Directory) Venue(id string) (domain.Venue, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	v, ok := d.venues[id]
	return v, ok
}

// Compile-time interface check.
var _ domain.LoanSink = (*Coordinator)(nil)
var _ domain.VenueDirectory = (*Directory)(nil)

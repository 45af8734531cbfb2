package domain

import (
	"context"
	"time"
)

// LoanSink receives the provider's grant callback. Implemented by the
// settlement coordinator.
type LoanSink interface {
	// OnLoanGranted runs the whole settlement against the advanced balance.
	// A nil return authorizes the provider to reclaim principal plus fee;
	// any error aborts the provider's own commit.
	OnLoanGranted(ctx context.Context, grant LoanGrant) error
}

// LoanProvider advances a balance that must be repaid, with fee, within the
// same atomic operation. The provider is expected to invoke sink.OnLoanGranted
// before RequestLoan returns; there is no async suspension.
type LoanProvider interface {
	ID() string
	RequestLoan(ctx context.Context, asset string, amount uint64, data ContinuationData, sink LoanSink) error
}

// Venue accepts an asset balance and an opaque routing instruction and
// returns the output balance. The engine never interprets why a venue
// returns a given amount, only whether the result is usable.
type Venue interface {
	ID() string
	Execute(ctx context.Context, instruction string, asset string, amountIn uint64) (uint64, error)
}

// VenueDirectory resolves venue identifiers to adapters.
type VenueDirectory interface {
	Venue(id string) (Venue, bool)
}

// OpportunityStore persists the append-only opportunity audit trail.
type OpportunityStore interface {
	// Insert creates a record and returns its monotonically increasing id.
	Insert(ctx context.Context, rec OpportunityRecord) (int64, error)
	// Finalize transitions a record from Pending to a terminal status. It
	// returns ErrAlreadyFinalized when the record is no longer Pending and
	// ErrNotFound when the id does not exist.
	Finalize(ctx context.Context, id int64, status OppStatus, profit int64, reason string) error
	GetByID(ctx context.Context, id int64) (OpportunityRecord, error)
	ListRecent(ctx context.Context, limit int) ([]OpportunityRecord, error)
	// ListFinalizedBefore returns terminal records finalized strictly before
	// the cutoff, for archival.
	ListFinalizedBefore(ctx context.Context, before time.Time) ([]OpportunityRecord, error)
}

// RegistryStore persists counterparty trust flags.
type RegistryStore interface {
	Set(ctx context.Context, id string, trusted bool) error
	Get(ctx context.Context, id string) (RegistryEntry, error)
	List(ctx context.Context) ([]RegistryEntry, error)
}

// LockManager provides distributed mutual exclusion, used to serialize
// settlements per source asset across engine replicas.
type LockManager interface {
	// Acquire returns an unlock function on success and ErrLockHeld when the
	// lock is already taken.
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter bounds request rates per key, used by the API middleware.
type RateLimiter interface {
	// Allow reports whether one more request for key fits under limit within
	// the window, counting the request when it does.
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// StreamMessage is one durable bus message.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus is the pub/sub fabric carrying engine events to external
// consumers (websocket hub, dashboards).
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}

// BlobWriter uploads opaque objects, used by the opportunity archiver.
type BlobWriter interface {
	Put(ctx context.Context, path string, data []byte, contentType string) error
}

// Archiver exports old finalized opportunity records to blob storage.
type Archiver interface {
	Archive(ctx context.Context, before time.Time) (int, error)
}

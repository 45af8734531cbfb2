package domain

// ContinuationData is the opaque payload the coordinator hands to a loan
// provider with its request; the provider must echo it back unchanged in the
// grant callback so the coordinator can match the callback to the pending
// settlement.
type ContinuationData struct {
	RouteID   int64
	Initiator string
}

// LoanGrant is what a provider delivers when it invokes the coordinator's
// callback: the advanced balance, the fee it will demand back on top of the
// principal, and the echoed continuation data.
type LoanGrant struct {
	ProviderID string
	Asset      string
	Amount     uint64
	Fee        uint64
	Data       ContinuationData
}

// LoanAdvance is the ephemeral per-settlement context. It exists only inside
// the provider callback and is consumed when the settlement ends, whether it
// commits or rolls back. It is never persisted.
type LoanAdvance struct {
	AttemptID string // unique per settlement attempt
	Amount    uint64
	Fee       uint64
	Initiator string
	RouteID   int64
}

// Owed returns principal plus fee, and whether the sum overflows uint64.
func (a LoanAdvance) Owed() (uint64, bool) {
	owed := a.Amount + a.Fee
	return owed, owed >= a.Amount
}

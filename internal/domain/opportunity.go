package domain

import "time"

// OppStatus is the lifecycle state of an opportunity record. A record is
// created Pending and transitions exactly once to one of the terminal states.
type OppStatus string

const (
	OppPending  OppStatus = "pending"
	OppExecuted OppStatus = "executed"
	OppRejected OppStatus = "rejected"
	OppFailed   OppStatus = "failed"
)

// Terminal reports whether the status is one of the end states.
func (s OppStatus) Terminal() bool {
	return s == OppExecuted || s == OppRejected || s == OppFailed
}

// OpportunityRecord is the persistent audit entry for one attempted Route.
// The route snapshot is immutable after creation; RealizedProfit is only
// meaningful when Status is OppExecuted.
type OpportunityRecord struct {
	ID             int64      `json:"id"`
	Route          Route      `json:"route"`
	Status         OppStatus  `json:"status"`
	RealizedProfit int64      `json:"realized_profit"`
	FailReason     string     `json:"fail_reason,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	FinalizedAt    *time.Time `json:"finalized_at,omitempty"`
}

package domain

import "time"

// EventType classifies engine notifications consumed by the external
// reporting layer.
type EventType string

const (
	EventOpportunityRecorded EventType = "opportunity_recorded"
	EventSettlementSucceeded EventType = "settlement_succeeded"
	EventSettlementFailed    EventType = "settlement_failed"
	EventRegistryChanged     EventType = "registry_changed"
)

// Event is one structured notification. Fields are populated according to
// Type; unused fields are zero and omitted from the JSON encoding.
type Event struct {
	Type EventType `json:"type"`
	At   time.Time `json:"at"`

	// Opportunity / settlement events.
	RouteID      int64  `json:"route_id,omitempty"`
	SourceAsset  string `json:"source_asset,omitempty"`
	LoanAmount   uint64 `json:"loan_amount,omitempty"`
	LegCount     int    `json:"leg_count,omitempty"`
	Profit       uint64 `json:"profit,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Stage        string `json:"stage,omitempty"`

	// Registry events.
	CounterpartyID string `json:"counterparty_id,omitempty"`
	Trusted        bool   `json:"trusted,omitempty"`
}

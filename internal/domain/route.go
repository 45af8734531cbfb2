package domain

// Leg is one buy or sell step against a single venue within a Route. The
// instruction payload is opaque to the engine; venues interpret it however
// they like (for on-chain venues it is hex calldata).
type Leg struct {
	VenueID     string `json:"venue_id"`
	Instruction string `json:"instruction"`
}

// Route describes one arbitrage attempt: the asset to borrow, how much, the
// ordered legs to execute, and the lowest acceptable net profit. Legs are
// executed strictly in the order given; never skipped or reordered.
type Route struct {
	SourceAsset string `json:"source_asset"`
	LoanAmount  uint64 `json:"loan_amount"`
	Legs        []Leg  `json:"legs"`
	MinProfit   uint64 `json:"min_profit"`
}

// Validate checks the route's intrinsic shape. Registry trust of the venues
// is checked separately by the coordinator, since it needs live registry
// state.
func (r Route) Validate() error {
	if r.LoanAmount == 0 {
		return ErrInvalidAmount
	}
	if len(r.Legs) == 0 {
		return ErrEmptyRoute
	}
	for _, leg := range r.Legs {
		if leg.VenueID == "" {
			return ErrEmptyRoute
		}
	}
	return nil
}

// VenueIDs returns the venue identifiers of all legs, in order.
func (r Route) VenueIDs() []string {
	ids := make([]string, 0, len(r.Legs))
	for _, leg := range r.Legs {
		ids = append(ids, leg.VenueID)
	}
	return ids
}

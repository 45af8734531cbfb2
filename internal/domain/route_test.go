package domain

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRouteValidate(t *testing.T) {
	valid := Route{
		SourceAsset: "USDC",
		LoanAmount:  1000,
		Legs:        []Leg{{VenueID: "dex-a", Instruction: "0x01"}},
		MinProfit:   20,
	}
	require.NoError(t, valid.Validate())

	zeroLoan := valid
	zeroLoan.LoanAmount = 0
	require.ErrorIs(t, zeroLoan.Validate(), ErrInvalidAmount)

	noLegs := valid
	noLegs.Legs = nil
	require.ErrorIs(t, noLegs.Validate(), ErrEmptyRoute)

	blankVenue := valid
	blankVenue.Legs = []Leg{{VenueID: ""}}
	require.ErrorIs(t, blankVenue.Validate(), ErrEmptyRoute)
}

func TestVenueIDsPreserveOrder(t *testing.T) {
	r := Route{Legs: []Leg{{VenueID: "b"}, {VenueID: "a"}, {VenueID: "c"}}}
	assert.Equal(t, []string{"b", "a", "c"}, r.VenueIDs())
}

func TestLoanAdvanceOwed(t *testing.T) {
	a := LoanAdvance{Amount: 1000, Fee: 5}
	owed, ok := a.Owed()
	require.True(t, ok)
	assert.Equal(t, uint64(1005), owed)

	overflow := LoanAdvance{Amount: math.MaxUint64, Fee: 1}
	_, ok = overflow.Owed()
	assert.False(t, ok)
}

func TestOppStatusTerminal(t *testing.T) {
	assert.False(t, OppPending.Terminal())
	assert.True(t, OppExecuted.Terminal())
	assert.True(t, OppRejected.Terminal())
	assert.True(t, OppFailed.Terminal())
}

package ledger

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

func TestCreditDebit(t *testing.T) {
	l := New()

	require.NoError(t, l.Credit("USDC", 1000))
	require.NoError(t, l.Debit("USDC", 400))
	assert.Equal(t, uint64(600), l.Balance("USDC"))
}

func TestDebitUnderflowFails(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("USDC", 100))

	err := l.Debit("USDC", 101)
	require.ErrorIs(t, err, domain.ErrInsufficientBalance)
	// Balance untouched, no wraparound.
	assert.Equal(t, uint64(100), l.Balance("USDC"))
}

func TestCreditOverflowFails(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("USDC", math.MaxUint64))

	err := l.Credit("USDC", 1)
	require.Error(t, err)
	assert.Equal(t, uint64(math.MaxUint64), l.Balance("USDC"))
}

func TestSnapshotRestore(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("USDC", 500))
	require.NoError(t, l.Credit("WETH", 3))

	snap := l.Snapshot()

	require.NoError(t, l.Debit("USDC", 500))
	require.NoError(t, l.Credit("WETH", 7))
	require.NoError(t, l.Credit("DAI", 42))

	l.Restore(snap)

	assert.Equal(t, uint64(500), l.Balance("USDC"))
	assert.Equal(t, uint64(3), l.Balance("WETH"))
	assert.Equal(t, uint64(0), l.Balance("DAI"))
}

func TestSnapshotIsCopy(t *testing.T) {
	l := New()
	require.NoError(t, l.Credit("USDC", 10))

	snap := l.Snapshot()
	snap["USDC"] = 999

	assert.Equal(t, uint64(10), l.Balance("USDC"))
}

// Package ledger tracks the engine's own asset balances during a settlement.
// It is pure bookkeeping: atomic credit/debit with explicit underflow checks
// and snapshot/restore so the coordinator can roll back a failed settlement
// in one step.
package ledger

import (
	"fmt"
	"sync"

	"github.com/alanyoungcy/flasharb/internal/domain"
)

// Ledger is a concurrency-safe balance book keyed by asset identifier.
// Amounts are unsigned; a debit that would underflow fails instead of
// wrapping around.
type Ledger struct {
	mu       sync.Mutex
	balances map[string]uint64
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{balances: make(map[string]uint64)}
}

// Credit adds amount to the asset's balance. It fails if the balance would
// overflow uint64.
func (l *Ledger) Credit(asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.balances[asset]
	if cur+amount < cur {
		return fmt.Errorf("ledger: credit %d %s overflows balance %d", amount, asset, cur)
	}
	l.balances[asset] = cur + amount
	return nil
}

// Debit removes amount from the asset's balance. It returns
// domain.ErrInsufficientBalance when the balance is too small.
func (l *Ledger) Debit(asset string, amount uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	cur := l.balances[asset]
	if cur < amount {
		return fmt.Errorf("ledger: debit %d %s from balance %d: %w",
			amount, asset, cur, domain.ErrInsufficientBalance)
	}
	l.balances[asset] = cur - amount
	return nil
}

// Balance returns the current balance of the asset.
func (l *Ledger) Balance(asset string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[asset]
}

// Snapshot returns a copy of all balances. Pair with Restore to undo every
// change made after the snapshot was taken.
func (l *Ledger) Snapshot() map[string]uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	snap := make(map[string]uint64, len(l.balances))
	for asset, bal := range l.balances {
		snap[asset] = bal
	}
	return snap
}

// Restore replaces all balances with the given snapshot.
func (l *Ledger) Restore(snap map[string]uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.balances = make(map[string]uint64, len(snap))
	for asset, bal := range snap {
		l.balances[asset] = bal
	}
}

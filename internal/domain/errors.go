package domain

import "errors"

// Settlement errors. Every one of these is fatal to the current settlement
// attempt: the whole operation rolls back and nothing is retried internally.
var (
	// Route validation, rejected before any external call.
	ErrInvalidAmount = errors.New("loan amount must be positive")
	ErrEmptyRoute    = errors.New("route has no legs")

	// Counterparty checks.
	ErrUntrustedCounterparty = errors.New("counterparty not trusted by registry")

	// Callback integrity violations, treated as a potential attack.
	ErrInvalidInitiator = errors.New("loan callback from unexpected initiator")
	ErrAssetMismatch    = errors.New("loan asset does not match request")
	ErrAmountMismatch   = errors.New("loan amount does not match request")
	ErrLoanNotGranted   = errors.New("provider returned without granting the loan")

	// Execution and solvency.
	ErrLegDidNotImprovePosition = errors.New("leg produced no usable output")
	ErrInsufficientRepayment    = errors.New("final balance cannot cover loan plus fee")
	ErrProfitBelowThreshold     = errors.New("profit below route minimum")

	// Shared infrastructure.
	ErrAlreadyFinalized    = errors.New("opportunity already finalized")
	ErrNotFound            = errors.New("not found")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrInsufficientBalance = errors.New("insufficient ledger balance")
	ErrLockHeld            = errors.New("lock already held")
	ErrSettlementActive    = errors.New("settlement already in progress for route")
)

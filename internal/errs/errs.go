// Package errs defines the exchange core's error taxonomy.
// Every sentinel here is a typed, non-wrapping value an adapter can switch
// on directly with errors.Is.
package errs

import "errors"

// Validation errors: non-retryable, rejected at ingress.
var (
	ErrSymbolUnknown  = errors.New("symbol unknown")
	ErrSymbolInactive = errors.New("symbol inactive")
	ErrOutsideHours   = errors.New("outside trading hours")
	ErrTickViolation  = errors.New("price not on tick")
	ErrQtyBounds      = errors.New("quantity out of bounds")
	ErrLeverageCap    = errors.New("leverage exceeds product cap")
	ErrWouldCross     = errors.New("post-only order would cross")
	ErrUnfilled       = errors.New("order could not be filled")
)

// Risk errors: non-retryable at submission time; client may retry later.
var (
	ErrMarginInsufficient = errors.New("insufficient margin")
	ErrMarkStale          = errors.New("mark price stale")
)

// State errors: non-retryable.
var (
	ErrNotFound      = errors.New("order not found")
	ErrTerminal      = errors.New("order already terminal")
	ErrInvalidModify = errors.New("invalid modify request")
)

// Backpressure errors: retryable after a brief delay.
var (
	ErrJournalFull   = errors.New("journal ring full")
	ErrStreamBacklog = errors.New("stream subscriber backlog")
)

// Transport errors: internal; never surfaced directly to a submitter.
var (
	ErrOracleDisconnected = errors.New("price oracle feed disconnected")
	ErrHedgeAdapterDown   = errors.New("hedge broker adapter unreachable")
)

// Fatal errors: trigger shutdown; recovery must be from the journal.
var (
	ErrInvariantViolated = errors.New("invariant violated")
)

// ErrUnknownAccount and ErrNegativeSize are Position Manager specific
// failures.
var (
	ErrUnknownAccount = errors.New("unknown account")
	ErrNegativeSize   = errors.New("negative position size")
)

// Package kamerr defines the sentinel errors shared across the settlement
// engine. Every failure is surfaced synchronously to the caller; nothing is
// queued or retried inside the core. Callers branch with errors.Is.
package kamerr

import "errors"

// Precondition violations. Not retriable without changing inputs.
var (
	ErrBatchNotOpen        = errors.New("batch is not open")
	ErrBatchClosed         = errors.New("batch is closed")
	ErrBatchAlreadySettled = errors.New("batch already settled")
	ErrRequestNotFound     = errors.New("request not found")
	ErrRequestNotPending   = errors.New("request is not pending")
	ErrZeroAmount          = errors.New("amount must be positive")
	ErrZeroAddress         = errors.New("address must not be empty")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrUnauthorized        = errors.New("caller lacks required capability")
	ErrVaultNotFound       = errors.New("vault not registered")
	ErrAssetNotRegistered  = errors.New("asset not registered")

	ErrInsufficientVirtualBalance      = errors.New("insufficient virtual balance")
	ErrInsufficientInstitutionalAssets = errors.New("insufficient institutional assets")
)

// Timing violations. Retriable after time passes.
var (
	ErrSettlementTooEarly = errors.New("settlement cooldown not elapsed")
)

// Tolerance violations. Require operator correction, never automatic retry.
var (
	ErrYieldToleranceExceeded     = errors.New("yield delta exceeds tolerance")
	ErrInsufficientStrategyAssets = errors.New("observed strategy assets below institutional obligations")
)

// State-machine violations. Indicate a caller bug or a lost race.
var (
	ErrProposalNotFound        = errors.New("settlement proposal not found")
	ErrProposalAlreadyExecuted = errors.New("settlement proposal already executed")
	ErrProposalCancelled       = errors.New("settlement proposal cancelled")
	ErrAdapterNotEnabled       = errors.New("strategy adapter not enabled")
)

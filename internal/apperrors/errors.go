package apperrors

import "errors"

// Domain entity errors represent missing or invalid entities in the system.
// These errors indicate that a requested resource does not exist.
var (
	// ErrPortfolioNotFound indicates that a portfolio with the given ID does not exist
	// or is not owned by the caller.
	ErrPortfolioNotFound = errors.New("portfolio not found")

	// ErrTransactionNotFound indicates that a transaction with the given ID does not exist
	// or belongs to a portfolio the caller does not own.
	ErrTransactionNotFound = errors.New("transaction not found")

	// ErrAssetNotFound indicates that the portfolio holds no allocation for the ticker.
	ErrAssetNotFound = errors.New("asset allocation not found")

	// ErrUserNotFound indicates that no user id was supplied or it is unknown.
	ErrUserNotFound = errors.New("user not found")

	// ErrMetricsNotFound indicates that no metrics row has been materialized yet.
	ErrMetricsNotFound = errors.New("portfolio metrics not found")
)

// Business logic errors represent validation failures or constraint violations.
// These errors indicate that an operation cannot be completed due to business rules.
var (
	// ErrInvalidTicker indicates the price provider does not recognize the ticker.
	ErrInvalidTicker = errors.New("invalid ticker")

	// ErrInsufficientFunds indicates that confirming a debit would drive the cash balance negative.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInsufficientShares indicates that confirming a sell would sell more units than are held.
	ErrInsufficientShares = errors.New("insufficient shares")

	// ErrInvalidAllocation indicates target weights that cannot be normalized.
	ErrInvalidAllocation = errors.New("invalid allocation")

	// ErrValidation indicates malformed input. validation.Error matches it with errors.Is.
	ErrValidation = errors.New("validation failed")

	// ErrTransactionNotPending indicates a status transition out of a terminal state.
	ErrTransactionNotPending = errors.New("transaction is not pending")

	// ErrPortfolioLimitReached indicates a non-premium user already owns the maximum number of portfolios.
	ErrPortfolioLimitReached = errors.New("portfolio limit reached")

	// ErrDuplicateEntry indicates that an entity with the same unique constraint already exists.
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrConcurrentModification indicates the portfolio version changed under a write and retries ran out.
	ErrConcurrentModification = errors.New("portfolio was modified concurrently")

	// ErrBatchFailed indicates every item of a batch operation failed.
	ErrBatchFailed = errors.New("all batch items failed")

	// ErrInvalidUUID indicates that a provided ID is not a valid UUID format.
	ErrInvalidUUID = errors.New("invalid UUID format")

	// ErrBacktestUnavailable indicates no sealing key is configured for backtest seeds.
	ErrBacktestUnavailable = errors.New("backtest seeding is not configured")
)

// Operation failure errors represent system-level failures when retrieving or processing data.
var (
	ErrFailedToRetrievePortfolios   = errors.New("failed to retrieve portfolios")
	ErrFailedToRetrieveTransactions = errors.New("failed to retrieve transactions")
	ErrFailedToRetrieveSuggestions  = errors.New("failed to retrieve suggestions")
	ErrFailedToRetrieveHoldings     = errors.New("failed to retrieve holdings")
	ErrFailedToRetrieveMetrics      = errors.New("failed to retrieve metrics")
	ErrFailedToRetrieveBalance      = errors.New("failed to retrieve cash balance")
	ErrFailedToRetrievePrice        = errors.New("failed to retrieve price")
)

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PortfolioMetrics is the memoized valuation of a portfolio. It is never a source of truth:
// every field can be recomputed from the ledger and current quotes.
type PortfolioMetrics struct {
	PortfolioID      string          `json:"portfolioId"`
	CurrentValue     decimal.Decimal `json:"currentValue"`
	HoldingsValue    decimal.Decimal `json:"holdingsValue"`
	CashBalance      decimal.Decimal `json:"cashBalance"`
	TotalInvested    decimal.Decimal `json:"totalInvested"`
	TotalReturn      decimal.Decimal `json:"totalReturn"`
	TotalReturnPct   float64         `json:"totalReturnPct"`
	LastCalculatedAt time.Time       `json:"lastCalculatedAt"`
}

// Fresh reports whether the metrics were calculated within window of now.
func (m PortfolioMetrics) Fresh(now time.Time, window time.Duration) bool {
	return !m.LastCalculatedAt.IsZero() && now.Sub(m.LastCalculatedAt) < window
}

// RegenerationReason records what queued a regeneration task.
type RegenerationReason string

const (
	ReasonTransactionConfirmed RegenerationReason = "transaction_confirmed"
	ReasonAllocationChanged    RegenerationReason = "allocation_changed"
	ReasonTrackingStarted      RegenerationReason = "tracking_started"
	ReasonSettingsChanged      RegenerationReason = "settings_changed"
	ReasonManual               RegenerationReason = "manual"
)

// RegenerationTask is a queued request to rebuild a portfolio's pending suggestions.
// At most one task exists per portfolio.
type RegenerationTask struct {
	ID          string             `json:"id"`
	PortfolioID string             `json:"portfolioId"`
	Reason      RegenerationReason `json:"reason"`
	Attempts    int                `json:"attempts"`
	LastError   string             `json:"lastError,omitempty"`
	AvailableAt time.Time          `json:"availableAt"`
	CreatedAt   time.Time          `json:"createdAt"`
}

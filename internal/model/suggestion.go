package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SuggestionKind selects which family of suggestions to compute.
type SuggestionKind string

const (
	SuggestionRebalancing  SuggestionKind = "rebalancing"
	SuggestionContribution SuggestionKind = "contribution"
	SuggestionDividends    SuggestionKind = "dividends"
)

// Suggestion is a proposed ledger entry. It only becomes a Transaction once materialized.
type Suggestion struct {
	Type              TransactionType     `json:"type" validate:"required"`
	Ticker            string              `json:"ticker,omitempty"`
	Date              time.Time           `json:"date" validate:"required"`
	Amount            decimal.Decimal     `json:"amount"`
	Price             decimal.NullDecimal `json:"price"`
	Quantity          decimal.NullDecimal `json:"quantity"`
	Reason            string              `json:"reason,omitempty"`
	CashBalanceBefore decimal.NullDecimal `json:"cashBalanceBefore"`
	CashBalanceAfter  decimal.NullDecimal `json:"cashBalanceAfter"`
}

// Key identifies a suggestion for duplicate detection: (date, type, ticker).
func (s Suggestion) Key() string {
	return s.Date.Format("2006-01-02") + "|" + string(s.Type) + "|" + s.Ticker
}

// RebalancingGroup is one or more sells whose proceeds fund one or more buys.
// Groups with no sells are funded from existing cash.
type RebalancingGroup struct {
	Sells        []Suggestion    `json:"sells"`
	Buys         []Suggestion    `json:"buys"`
	SellProceeds decimal.Decimal `json:"sellProceeds"`
	BuyCost      decimal.Decimal `json:"buyCost"`
	NetCash      decimal.Decimal `json:"netCash"`
}

// SuggestionSet is the outcome of one suggestion pass. Groups and Drift are only
// filled for rebalancing.
type SuggestionSet struct {
	Kind          SuggestionKind     `json:"kind"`
	Suggestions   []Suggestion       `json:"suggestions"`
	Groups        []RebalancingGroup `json:"groups"`
	Drift         []DriftEntry       `json:"drift"`
	BlockedReason string             `json:"blockedReason,omitempty"`
}

// Holding is the settled position in one ticker.
type Holding struct {
	Ticker          string          `json:"ticker"`
	Quantity        decimal.Decimal `json:"quantity"`
	AverageCost     decimal.Decimal `json:"averageCost"`
	CostBasis       decimal.Decimal `json:"costBasis"`
	Price           decimal.Decimal `json:"price"`
	MarketValue     decimal.Decimal `json:"marketValue"`
	FirstAcquiredAt time.Time       `json:"firstAcquiredAt"`
	UnrealizedGain  decimal.Decimal `json:"unrealizedGain"`
}

// DriftEntry compares one ticker's current weight to its target.
// DriftPct is CurrentWeight minus TargetWeight: positive means overweight.
type DriftEntry struct {
	Ticker        string          `json:"ticker"`
	TargetWeight  float64         `json:"targetWeight"`
	CurrentWeight float64         `json:"currentWeight"`
	DriftPct      float64         `json:"driftPct"`
	MarketValue   decimal.Decimal `json:"marketValue"`
	TargetValue   decimal.Decimal `json:"targetValue"`
}

// ClosedPosition is a ticker that was bought and later fully sold.
type ClosedPosition struct {
	Ticker       string          `json:"ticker"`
	QuantitySold decimal.Decimal `json:"quantitySold"`
	CostBasis    decimal.Decimal `json:"costBasis"`
	Proceeds     decimal.Decimal `json:"proceeds"`
	RealizedGain decimal.Decimal `json:"realizedGain"`
	OpenedAt     time.Time       `json:"openedAt"`
	ClosedAt     time.Time       `json:"closedAt"`
}

// Quote is the latest known price of a ticker.
type Quote struct {
	Ticker   string          `json:"ticker"`
	Price    decimal.Decimal `json:"price"`
	Currency string          `json:"currency,omitempty"`
	AsOf     time.Time       `json:"asOf"`
}

// DividendEvent is a per-share cash distribution of a ticker.
type DividendEvent struct {
	Ticker         string          `json:"ticker"`
	ExDate         time.Time       `json:"exDate"`
	AmountPerShare decimal.Decimal `json:"amountPerShare"`
}

package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// RebalanceFrequency is the contribution and review cadence of a portfolio.
type RebalanceFrequency string

const (
	FrequencyMonthly    RebalanceFrequency = "monthly"
	FrequencyQuarterly  RebalanceFrequency = "quarterly"
	FrequencySemiannual RebalanceFrequency = "semiannual"
	FrequencyAnnual     RebalanceFrequency = "annual"
)

// Months returns the number of calendar months in one period, or 0 for an unknown cadence.
func (f RebalanceFrequency) Months() int {
	switch f {
	case FrequencyMonthly:
		return 1
	case FrequencyQuarterly:
		return 3
	case FrequencySemiannual:
		return 6
	case FrequencyAnnual:
		return 12
	}
	return 0
}

// Valid reports whether f is one of the supported cadences.
func (f RebalanceFrequency) Valid() bool {
	return f.Months() > 0
}

// Portfolio represents a user's portfolio configuration.
// The sum of TargetWeight over its allocations is 1.0 (within 0.01) whenever allocations exist.
type Portfolio struct {
	ID                         string             `json:"id"`
	UserID                     string             `json:"userId"`
	Name                       string             `json:"name"`
	StartDate                  *time.Time         `json:"startDate,omitempty"`
	MonthlyContribution        decimal.Decimal    `json:"monthlyContribution"`
	RebalanceFrequency         RebalanceFrequency `json:"rebalanceFrequency"`
	TrackingStarted            bool               `json:"trackingStarted"`
	LastSuggestionsGeneratedAt *time.Time         `json:"lastSuggestionsGeneratedAt,omitempty"`
	Version                    int64              `json:"version"`
	CreatedAt                  time.Time          `json:"createdAt"`
}

// AssetAllocation is one target line of a portfolio. Ticker is unique per portfolio.
type AssetAllocation struct {
	ID           string  `json:"id"`
	PortfolioID  string  `json:"portfolioId"`
	Ticker       string  `json:"ticker"`
	TargetWeight float64 `json:"targetWeight"`
}

// AssetInput is a requested allocation line before normalization.
type AssetInput struct {
	Ticker string  `json:"ticker" validate:"required,max=20"`
	Weight float64 `json:"weight" validate:"gte=0"`
}

// PortfolioInput carries the editable fields of a portfolio. Assets are only read on create.
type PortfolioInput struct {
	Name                string             `json:"name" validate:"required,max=100"`
	StartDate           *time.Time         `json:"startDate,omitempty"`
	MonthlyContribution decimal.Decimal    `json:"monthlyContribution"`
	RebalanceFrequency  RebalanceFrequency `json:"rebalanceFrequency" validate:"required,oneof=monthly quarterly semiannual annual"`
	Assets              []AssetInput       `json:"assets,omitempty" validate:"dive"`
}

// PortfolioDetail is a portfolio together with its target allocation.
type PortfolioDetail struct {
	Portfolio
	Allocations []AssetAllocation `json:"allocations"`
}

// User is the caller identity resolved by the auth layer.
type User struct {
	ID        string    `json:"id"`
	IsPremium bool      `json:"isPremium"`
	CreatedAt time.Time `json:"createdAt"`
}

// BacktestSeed is the starting state handed to an external backtest engine.
type BacktestSeed struct {
	PortfolioID         string             `json:"portfolioId"`
	InitialCapital      decimal.Decimal    `json:"initialCapital"`
	MonthlyContribution decimal.Decimal    `json:"monthlyContribution"`
	RebalanceFrequency  RebalanceFrequency `json:"rebalanceFrequency"`
	TargetWeights       map[string]float64 `json:"targetWeights"`
	AsOf                time.Time          `json:"asOf"`
}

// SealedBacktestSeed pairs the seed with its sealed token.
type SealedBacktestSeed struct {
	Seed  BacktestSeed `json:"seed"`
	Token string       `json:"token"`
}

package request

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// PortfolioRequest represents the request body for creating or updating a portfolio.
// Assets are only read on create.
type PortfolioRequest struct {
	Name                string          `json:"name"`
	StartDate           *string         `json:"startDate,omitempty"`
	MonthlyContribution decimal.Decimal `json:"monthlyContribution"`
	RebalanceFrequency  string          `json:"rebalanceFrequency"`
	Assets              []AssetRequest  `json:"assets,omitempty"`
}

// AssetRequest is one target allocation line.
type AssetRequest struct {
	Ticker string  `json:"ticker"`
	Weight float64 `json:"weight"`
}

// ReplaceAssetsRequest replaces the whole allocation of a portfolio.
type ReplaceAssetsRequest struct {
	Assets []AssetRequest `json:"assets"`
}

// UpdateWeightRequest sets the target weight of one asset.
type UpdateWeightRequest struct {
	Weight float64 `json:"weight"`
}

// StartTrackingRequest switches contribution tracking on. StartDate is optional.
type StartTrackingRequest struct {
	StartDate *string `json:"startDate,omitempty"`
}

// OpenBacktestSeedRequest carries a sealed backtest seed.
type OpenBacktestSeedRequest struct {
	Token string `json:"token"`
}

// ToInput converts the request into service input, parsing the start date.
func (r PortfolioRequest) ToInput() (model.PortfolioInput, error) {
	start, err := parseOptionalDate("startDate", r.StartDate)
	if err != nil {
		return model.PortfolioInput{}, err
	}

	return model.PortfolioInput{
		Name:                r.Name,
		StartDate:           start,
		MonthlyContribution: r.MonthlyContribution,
		RebalanceFrequency:  model.RebalanceFrequency(r.RebalanceFrequency),
		Assets:              ToAssetInputs(r.Assets),
	}, nil
}

// ToAssetInputs converts asset lines into service input.
func ToAssetInputs(assets []AssetRequest) []model.AssetInput {
	if assets == nil {
		return nil
	}
	out := make([]model.AssetInput, len(assets))
	for i, a := range assets {
		out[i] = model.AssetInput{Ticker: a.Ticker, Weight: a.Weight}
	}
	return out
}

// ToStartDate parses the optional start date.
func (r StartTrackingRequest) ToStartDate() (*time.Time, error) {
	return parseOptionalDate("startDate", r.StartDate)
}

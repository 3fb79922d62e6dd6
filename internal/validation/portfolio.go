package validation

import (
	"fmt"
	"math"
	"strings"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// ValidatePortfolioInput validates the editable fields of a portfolio.
//
// Required fields:
//   - name: 1-100 characters
//   - rebalanceFrequency: one of monthly, quarterly, semiannual, annual
//
// monthlyContribution must not be negative. Assets, when present, need a ticker, a
// non-negative weight, and no ticker may appear twice.
func ValidatePortfolioInput(in model.PortfolioInput) error {
	fields := make(map[string]string)

	if strings.TrimSpace(in.Name) == "" {
		fields["name"] = "name is required"
	}
	if in.MonthlyContribution.IsNegative() {
		fields["monthlyContribution"] = "monthlyContribution must not be negative"
	}
	checkAssets(in.Assets, fields)

	return fieldErrors(validate.Struct(in), fields)
}

// ValidateAssets validates a replacement allocation.
func ValidateAssets(assets []model.AssetInput) error {
	fields := make(map[string]string)
	if len(assets) == 0 {
		fields["assets"] = "at least one asset is required"
	}
	checkAssets(assets, fields)
	for i, a := range assets {
		if err := validate.Struct(a); err != nil {
			if fe := fieldErrors(err, nil); fe != nil {
				fields[fmt.Sprintf("assets[%d]", i)] = fe.Error()
			}
		}
	}
	if len(fields) > 0 {
		return &Error{Fields: fields}
	}
	return nil
}

// ValidateWeight validates a single target weight, which must lie in [0, 1].
func ValidateWeight(weight float64) error {
	if math.IsNaN(weight) || weight < 0 || weight > 1 {
		return &Error{Fields: map[string]string{"weight": "weight must be between 0 and 1"}}
	}
	return nil
}

func checkAssets(assets []model.AssetInput, fields map[string]string) {
	seen := make(map[string]bool, len(assets))
	for _, a := range assets {
		ticker := strings.ToUpper(strings.TrimSpace(a.Ticker))
		if ticker == "" {
			continue
		}
		if seen[ticker] {
			fields["assets"] = fmt.Sprintf("duplicate ticker: %s", ticker)
		}
		seen[ticker] = true
	}
}

package service

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(y int, m time.Month, dd int) time.Time {
	return time.Date(y, m, dd, 0, 0, 0, 0, time.UTC)
}

func holding(ticker, qty, price string) model.Holding {
	q, p := d(qty), d(price)
	return model.Holding{Ticker: ticker, Quantity: q, Price: p, MarketValue: q.Mul(p)}
}

func quotes(prices map[string]string) map[string]model.Quote {
	out := make(map[string]model.Quote, len(prices))
	for ticker, p := range prices {
		out[ticker] = model.Quote{Ticker: ticker, Price: d(p)}
	}
	return out
}

// TestComputeDrift verifies current weights are measured against holdings plus cash.
//
// WHY: every rebalancing decision starts from drift. A wrong denominator (forgetting cash)
// or a missing ticker would make the engine trade the wrong direction.
func TestComputeDrift(t *testing.T) {
	targets := []model.AssetAllocation{{Ticker: "A", TargetWeight: 0.5}, {Ticker: "B", TargetWeight: 0.5}}

	t.Run("overweight and underweight", func(t *testing.T) {
		drift := ComputeDrift(
			[]model.Holding{holding("A", "8", "100"), holding("B", "2", "100")},
			targets,
			decimal.Zero,
		)

		require.Len(t, drift, 2)
		assert.Equal(t, "A", drift[0].Ticker)
		assert.InDelta(t, 0.8, drift[0].CurrentWeight, 1e-9)
		assert.InDelta(t, 0.3, drift[0].DriftPct, 1e-9)
		assert.True(t, drift[0].TargetValue.Equal(d("500")))
		assert.InDelta(t, -0.3, drift[1].DriftPct, 1e-9)
	})

	t.Run("cash only portfolio is fully underweight", func(t *testing.T) {
		drift := ComputeDrift(nil, targets, d("1000"))

		require.Len(t, drift, 2)
		for _, e := range drift {
			assert.Zero(t, e.CurrentWeight)
			assert.InDelta(t, -0.5, e.DriftPct, 1e-9)
		}
	})

	t.Run("untargeted holding has zero target", func(t *testing.T) {
		drift := ComputeDrift(
			[]model.Holding{holding("A", "1", "100"), holding("C", "1", "100")},
			[]model.AssetAllocation{{Ticker: "A", TargetWeight: 1}},
			decimal.Zero,
		)

		require.Len(t, drift, 2)
		assert.Equal(t, "C", drift[1].Ticker)
		assert.Zero(t, drift[1].TargetWeight)
		assert.InDelta(t, 0.5, drift[1].DriftPct, 1e-9)
	})

	t.Run("empty portfolio", func(t *testing.T) {
		assert.Empty(t, ComputeDrift(nil, nil, decimal.Zero))
	})
}

// TestPlanRebalancing covers the sell/buy plan built from drift.
func TestPlanRebalancing(t *testing.T) {
	targets := []model.AssetAllocation{{Ticker: "A", TargetWeight: 0.5}, {Ticker: "B", TargetWeight: 0.5}}
	prices := quotes(map[string]string{"A": "100", "B": "100"})
	today := day(2024, 6, 1)

	// WHY: an 80/20 portfolio with 50/50 targets must move exactly the excess 30% across.
	t.Run("80/20 against 50/50 sells 3 A and buys 3 B", func(t *testing.T) {
		holdings := []model.Holding{holding("A", "8", "100"), holding("B", "2", "100")}
		drift := ComputeDrift(holdings, targets, decimal.Zero)

		sells, buys := planRebalancing(drift, holdings, prices, decimal.Zero, 0.05, today)

		require.Len(t, sells, 1)
		require.Len(t, buys, 1)
		assert.Equal(t, model.TypeSellRebalance, sells[0].Type)
		assert.Equal(t, "A", sells[0].Ticker)
		assert.True(t, sells[0].Quantity.Decimal.Equal(d("3")))
		assert.True(t, sells[0].Amount.Equal(d("300")))
		assert.Equal(t, model.TypeBuyRebalance, buys[0].Type)
		assert.Equal(t, "B", buys[0].Ticker)
		assert.True(t, buys[0].Quantity.Decimal.Equal(d("3")))
		assert.Equal(t, today, buys[0].Date)
	})

	t.Run("drift within threshold yields nothing", func(t *testing.T) {
		holdings := []model.Holding{holding("A", "52", "10"), holding("B", "48", "10")}
		drift := ComputeDrift(holdings, targets, decimal.Zero)

		sells, buys := planRebalancing(drift, holdings, quotes(map[string]string{"A": "10", "B": "10"}), decimal.Zero, 0.05, today)

		assert.Empty(t, sells)
		assert.Empty(t, buys)
	})

	t.Run("cash funds buys without sells", func(t *testing.T) {
		drift := ComputeDrift(nil, targets, d("1000"))

		sells, buys := planRebalancing(drift, nil, prices, d("1000"), 0.05, today)

		assert.Empty(t, sells)
		require.Len(t, buys, 2)
		total := decimal.Zero
		for _, b := range buys {
			total = total.Add(b.Amount)
		}
		assert.True(t, total.LessThanOrEqual(d("1000")))
	})

	// WHY: a ticker without a usable quote cannot be priced, so it must never be traded.
	t.Run("ticker without price is skipped", func(t *testing.T) {
		holdings := []model.Holding{holding("A", "8", "100"), holding("B", "2", "100")}
		drift := ComputeDrift(holdings, targets, decimal.Zero)

		sells, buys := planRebalancing(drift, holdings, quotes(map[string]string{"A": "100"}), decimal.Zero, 0.05, today)

		assert.Len(t, sells, 1)
		assert.Empty(t, buys)
	})
}

// TestCombineRebalancingSuggestions verifies sells are paired with the buys they fund.
func TestCombineRebalancingSuggestions(t *testing.T) {
	sell := func(ticker, amount string) model.Suggestion {
		return model.Suggestion{Type: model.TypeSellRebalance, Ticker: ticker, Amount: d(amount)}
	}
	buy := func(ticker, amount string) model.Suggestion {
		return model.Suggestion{Type: model.TypeBuyRebalance, Ticker: ticker, Amount: d(amount)}
	}

	t.Run("one sell funds one buy", func(t *testing.T) {
		groups := CombineRebalancingSuggestions([]model.Suggestion{sell("A", "300")}, []model.Suggestion{buy("B", "300")})

		require.Len(t, groups, 1)
		assert.Len(t, groups[0].Sells, 1)
		assert.Len(t, groups[0].Buys, 1)
		assert.True(t, groups[0].NetCash.IsZero())
	})

	t.Run("buys without proceeds form a cash group", func(t *testing.T) {
		groups := CombineRebalancingSuggestions(nil, []model.Suggestion{buy("B", "100")})

		require.Len(t, groups, 1)
		assert.Empty(t, groups[0].Sells)
		assert.True(t, groups[0].SellProceeds.IsZero())
		assert.True(t, groups[0].NetCash.Equal(d("-100")))
	})

	t.Run("largest buy goes to largest remaining proceeds", func(t *testing.T) {
		groups := CombineRebalancingSuggestions(
			[]model.Suggestion{sell("A", "100"), sell("C", "400")},
			[]model.Suggestion{buy("B", "50"), buy("D", "350")},
		)

		require.Len(t, groups, 2)
		assert.Equal(t, "C", groups[1].Sells[0].Ticker)
		require.Len(t, groups[1].Buys, 1)
		assert.Equal(t, "D", groups[1].Buys[0].Ticker)
		assert.True(t, groups[1].NetCash.Equal(d("50")))
		require.Len(t, groups[0].Buys, 1)
		assert.Equal(t, "B", groups[0].Buys[0].Ticker)
	})
}

func TestAddMonths(t *testing.T) {
	tests := []struct {
		name string
		in   time.Time
		n    int
		want time.Time
	}{
		{"clamps to leap day", day(2024, 1, 31), 1, day(2024, 2, 29)},
		{"clamps to february", day(2023, 1, 31), 1, day(2023, 2, 28)},
		{"crosses year", day(2024, 11, 15), 3, day(2025, 2, 15)},
		{"zero months", day(2024, 5, 5), 0, day(2024, 5, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, addMonths(tt.in, tt.n))
		})
	}
}

// TestContributionPeriods verifies which contribution dates are due.
//
// WHY: contributions must appear exactly once per period. Missing one under-invests the
// portfolio; repeating one double-counts cash.
func TestContributionPeriods(t *testing.T) {
	start := day(2024, 1, 15)
	today := day(2024, 4, 10)

	t.Run("every month up to today including the start", func(t *testing.T) {
		got := contributionPeriods(start, 1, nil, today, nil)
		assert.Equal(t, []time.Time{day(2024, 1, 15), day(2024, 2, 15), day(2024, 3, 15)}, got)
	})

	t.Run("covered dates are skipped", func(t *testing.T) {
		got := contributionPeriods(start, 1, nil, today, map[string]bool{"2024-02-15": true})
		assert.Equal(t, []time.Time{day(2024, 1, 15), day(2024, 3, 15)}, got)
	})

	t.Run("only dates after the anchor", func(t *testing.T) {
		anchor := day(2024, 2, 20)
		got := contributionPeriods(start, 1, &anchor, today, nil)
		assert.Equal(t, []time.Time{day(2024, 3, 15)}, got)
	})

	t.Run("quarterly step", func(t *testing.T) {
		got := contributionPeriods(start, 3, nil, day(2024, 7, 15), nil)
		assert.Equal(t, []time.Time{day(2024, 1, 15), day(2024, 4, 15), day(2024, 7, 15)}, got)
	})

	t.Run("start in the future", func(t *testing.T) {
		assert.Empty(t, contributionPeriods(day(2025, 1, 1), 1, nil, today, nil))
	})

	t.Run("invalid step", func(t *testing.T) {
		assert.Nil(t, contributionPeriods(start, 0, nil, today, nil))
	})
}

// TestAllocateBuys verifies cash is spread into whole shares without overspending.
func TestAllocateBuys(t *testing.T) {
	targets := []model.AssetAllocation{{Ticker: "A", TargetWeight: 0.6}, {Ticker: "B", TargetWeight: 0.4}}
	today := day(2024, 6, 1)

	t.Run("splits by target weight", func(t *testing.T) {
		buys := allocateBuys(targets, nil, quotes(map[string]string{"A": "100", "B": "50"}), d("1000"), today)

		require.Len(t, buys, 2)
		assert.Equal(t, "A", buys[0].Ticker)
		assert.True(t, buys[0].Quantity.Decimal.Equal(d("6")))
		assert.True(t, buys[0].Amount.Equal(d("600")))
		assert.Equal(t, "B", buys[1].Ticker)
		assert.True(t, buys[1].Quantity.Decimal.Equal(d("8")))
		assert.Equal(t, model.TypeBuy, buys[1].Type)
	})

	// WHY: sub-share remainders must stay as cash; the engine may never suggest spending more
	// than the balance.
	t.Run("never exceeds cash", func(t *testing.T) {
		buys := allocateBuys(targets, nil, quotes(map[string]string{"A": "100", "B": "100"}), d("250"), today)

		total := decimal.Zero
		for _, b := range buys {
			total = total.Add(b.Amount)
			assert.True(t, b.Quantity.Decimal.Equal(b.Quantity.Decimal.Floor()))
		}
		assert.True(t, total.LessThanOrEqual(d("250")))
		assert.True(t, total.Equal(d("200")))
	})

	t.Run("only underweight assets receive cash", func(t *testing.T) {
		holdings := []model.Holding{holding("A", "10", "100")}
		buys := allocateBuys(targets, holdings, quotes(map[string]string{"A": "100", "B": "100"}), d("500"), today)

		require.Len(t, buys, 1)
		assert.Equal(t, "B", buys[0].Ticker)
		assert.True(t, buys[0].Amount.Equal(d("500")))
	})

	t.Run("no cash", func(t *testing.T) {
		assert.Nil(t, allocateBuys(targets, nil, quotes(map[string]string{"A": "1"}), decimal.Zero, today))
	})
}

func TestApplyRunningBalance(t *testing.T) {
	suggestions := []model.Suggestion{
		{Type: model.TypeMonthlyContribution, Amount: d("1000")},
		{Type: model.TypeBuy, Ticker: "A", Amount: d("600")},
	}

	applyRunningBalance(suggestions, d("50"))

	assert.True(t, suggestions[0].CashBalanceBefore.Decimal.Equal(d("50")))
	assert.True(t, suggestions[0].CashBalanceAfter.Decimal.Equal(d("1050")))
	assert.True(t, suggestions[1].CashBalanceBefore.Decimal.Equal(d("1050")))
	assert.True(t, suggestions[1].CashBalanceAfter.Decimal.Equal(d("450")))
}

func TestNormalizeWeights(t *testing.T) {
	t.Run("scales to one", func(t *testing.T) {
		got, err := NormalizeWeights([]float64{3, 1})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.75, 0.25}, got, 1e-9)
	})

	t.Run("all zero splits equally", func(t *testing.T) {
		got, err := NormalizeWeights([]float64{0, 0})
		require.NoError(t, err)
		assert.InDeltaSlice(t, []float64{0.5, 0.5}, got, 1e-9)
	})

	t.Run("negative weight", func(t *testing.T) {
		_, err := NormalizeWeights([]float64{1, -1})
		assert.ErrorIs(t, err, apperrors.ErrInvalidAllocation)
	})

	t.Run("empty", func(t *testing.T) {
		got, err := NormalizeWeights(nil)
		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestRescaleWeights(t *testing.T) {
	allocations := []model.AssetAllocation{
		{Ticker: "A", TargetWeight: 0.5},
		{Ticker: "B", TargetWeight: 0.3},
		{Ticker: "C", TargetWeight: 0.2},
	}

	t.Run("others keep their proportions", func(t *testing.T) {
		got, err := rescaleWeights(allocations, "A", 0.8)
		require.NoError(t, err)
		assert.InDelta(t, 0.8, got[0].TargetWeight, 1e-9)
		assert.InDelta(t, 0.12, got[1].TargetWeight, 1e-9)
		assert.InDelta(t, 0.08, got[2].TargetWeight, 1e-9)
		assert.InDelta(t, 0.5, allocations[0].TargetWeight, 1e-9, "input must not be modified")
	})

	t.Run("single allocation is always one", func(t *testing.T) {
		got, err := rescaleWeights([]model.AssetAllocation{{Ticker: "A", TargetWeight: 1}}, "A", 0.3)
		require.NoError(t, err)
		assert.InDelta(t, 1.0, got[0].TargetWeight, 1e-9)
	})

	t.Run("unknown ticker", func(t *testing.T) {
		_, err := rescaleWeights(allocations, "Z", 0.1)
		assert.ErrorIs(t, err, apperrors.ErrAssetNotFound)
	})

	t.Run("weight out of range", func(t *testing.T) {
		_, err := rescaleWeights(allocations, "A", 1.5)
		assert.ErrorIs(t, err, apperrors.ErrInvalidAllocation)
	})
}

// TestBuildPositions verifies average-cost accounting over the settled ledger.
func TestBuildPositions(t *testing.T) {
	trade := func(typ model.TransactionType, date time.Time, qty, amount string) model.Transaction {
		return model.Transaction{
			Type:     typ,
			Ticker:   "A",
			Date:     date,
			Quantity: decimal.NewNullDecimal(d(qty)),
			Amount:   d(amount),
		}
	}

	t.Run("average cost after two buys", func(t *testing.T) {
		positions := buildPositions([]model.Transaction{
			trade(model.TypeBuy, day(2024, 1, 1), "10", "100"),
			trade(model.TypeBuy, day(2024, 2, 1), "10", "200"),
		})

		p := positions["A"]
		require.NotNil(t, p)
		assert.True(t, p.quantity.Equal(d("20")))
		assert.True(t, p.averageCost().Equal(d("15")))
		assert.Equal(t, day(2024, 1, 1), p.firstAcquiredAt)
	})

	t.Run("full sale closes the position", func(t *testing.T) {
		positions := buildPositions([]model.Transaction{
			trade(model.TypeBuy, day(2024, 1, 1), "10", "100"),
			trade(model.TypeBuy, day(2024, 2, 1), "10", "200"),
			trade(model.TypeSellWithdrawal, day(2024, 3, 1), "20", "500"),
		})

		closed := closedFromPositions(positions)
		require.Len(t, closed, 1)
		assert.True(t, closed[0].CostBasis.Equal(d("300")))
		assert.True(t, closed[0].Proceeds.Equal(d("500")))
		assert.True(t, closed[0].RealizedGain.Equal(d("200")))
		assert.Equal(t, day(2024, 3, 1), closed[0].ClosedAt)
		assert.Empty(t, holdingsFromPositions(positions, nil))
	})

	// WHY: a ledger with an oversized sell must not produce negative holdings.
	t.Run("oversized sell is capped", func(t *testing.T) {
		positions := buildPositions([]model.Transaction{
			trade(model.TypeBuy, day(2024, 1, 1), "5", "50"),
			trade(model.TypeSellRebalance, day(2024, 2, 1), "8", "80"),
		})

		assert.True(t, positions["A"].quantity.IsZero())
		assert.True(t, positions["A"].quantitySold.Equal(d("5")))
	})

	t.Run("holdings valued at quotes", func(t *testing.T) {
		positions := buildPositions([]model.Transaction{trade(model.TypeBuy, day(2024, 1, 1), "4", "100")})

		holdings := holdingsFromPositions(positions, quotes(map[string]string{"A": "30"}))
		require.Len(t, holdings, 1)
		assert.True(t, holdings[0].MarketValue.Equal(d("120")))
		assert.True(t, holdings[0].UnrealizedGain.Equal(d("20")))
	})
}

func TestQuantityHeldBefore(t *testing.T) {
	transactions := []model.Transaction{
		{Type: model.TypeBuy, Ticker: "A", Date: day(2024, 1, 1), Quantity: decimal.NewNullDecimal(d("10"))},
		{Type: model.TypeBuy, Ticker: "A", Date: day(2024, 2, 1), Quantity: decimal.NewNullDecimal(d("5"))},
		{Type: model.TypeBuy, Ticker: "B", Date: day(2024, 1, 1), Quantity: decimal.NewNullDecimal(d("7"))},
	}

	assert.True(t, quantityHeldBefore(transactions, "A", day(2024, 2, 1)).Equal(d("10")), "ex-date purchase does not qualify")
	assert.True(t, quantityHeldBefore(transactions, "A", day(2024, 2, 2)).Equal(d("15")))
	assert.True(t, quantityHeldBefore(transactions, "A", day(2024, 1, 1)).IsZero())
}

package service

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// position is the running state of one ticker while replaying settled transactions.
// Cost basis uses the average cost method: a sale removes its share of the basis
// at the current average cost.
type position struct {
	ticker          string
	quantity        decimal.Decimal
	costBasis       decimal.Decimal
	firstAcquiredAt time.Time
	quantitySold    decimal.Decimal
	soldCostBasis   decimal.Decimal
	proceeds        decimal.Decimal
	closedAt        time.Time
}

func (p *position) averageCost() decimal.Decimal {
	if p.quantity.IsZero() {
		return decimal.Zero
	}
	return p.costBasis.Div(p.quantity)
}

// buildPositions replays settled transactions in ledger order and returns the per-ticker positions.
//
// Transactions must already be filtered to CONFIRMED/EXECUTED rows and sorted by (date, seq).
// Sells larger than the held quantity are capped at the held quantity.
func buildPositions(transactions []model.Transaction) map[string]*position {
	positions := make(map[string]*position)

	for _, t := range transactions {
		sign := t.Type.ShareSign()
		if sign == 0 || t.Ticker == "" || !t.Quantity.Valid {
			continue
		}

		p, ok := positions[t.Ticker]
		if !ok {
			p = &position{ticker: t.Ticker, firstAcquiredAt: t.Date}
			positions[t.Ticker] = p
		}

		qty := t.Quantity.Decimal
		if sign > 0 {
			if p.quantity.IsZero() {
				p.closedAt = time.Time{}
			}
			p.quantity = p.quantity.Add(qty)
			p.costBasis = p.costBasis.Add(t.Amount)
			continue
		}

		if qty.GreaterThan(p.quantity) {
			qty = p.quantity
		}
		if qty.IsZero() {
			continue
		}
		soldCost := p.averageCost().Mul(qty)
		p.quantity = p.quantity.Sub(qty)
		p.costBasis = p.costBasis.Sub(soldCost)
		p.quantitySold = p.quantitySold.Add(qty)
		p.soldCostBasis = p.soldCostBasis.Add(soldCost)
		p.proceeds = p.proceeds.Add(t.Amount)
		if p.quantity.IsZero() {
			p.costBasis = decimal.Zero
			p.closedAt = t.Date
		}
	}

	return positions
}

// holdingsFromPositions converts open positions into holdings valued at quotes.
// Tickers without a quote are valued at zero. The result is sorted by ticker.
func holdingsFromPositions(positions map[string]*position, quotes map[string]model.Quote) []model.Holding {
	holdings := []model.Holding{}
	for _, p := range positions {
		if !p.quantity.IsPositive() {
			continue
		}
		price := quotes[p.ticker].Price
		marketValue := roundMoney(p.quantity.Mul(price))
		holdings = append(holdings, model.Holding{
			Ticker:          p.ticker,
			Quantity:        p.quantity,
			AverageCost:     p.averageCost().Round(4),
			CostBasis:       roundMoney(p.costBasis),
			Price:           price,
			MarketValue:     marketValue,
			FirstAcquiredAt: p.firstAcquiredAt,
			UnrealizedGain:  marketValue.Sub(roundMoney(p.costBasis)),
		})
	}
	sort.Slice(holdings, func(i, j int) bool { return holdings[i].Ticker < holdings[j].Ticker })
	return holdings
}

// closedFromPositions returns positions that were bought and are now fully sold.
func closedFromPositions(positions map[string]*position) []model.ClosedPosition {
	closed := []model.ClosedPosition{}
	for _, p := range positions {
		if !p.quantity.IsZero() || p.quantitySold.IsZero() {
			continue
		}
		closed = append(closed, model.ClosedPosition{
			Ticker:       p.ticker,
			QuantitySold: p.quantitySold,
			CostBasis:    roundMoney(p.soldCostBasis),
			Proceeds:     roundMoney(p.proceeds),
			RealizedGain: roundMoney(p.proceeds.Sub(p.soldCostBasis)),
			OpenedAt:     p.firstAcquiredAt,
			ClosedAt:     p.closedAt,
		})
	}
	sort.Slice(closed, func(i, j int) bool { return closed[i].Ticker < closed[j].Ticker })
	return closed
}

// quantityHeldBefore returns the settled quantity of ticker held on rows dated strictly before date.
func quantityHeldBefore(transactions []model.Transaction, ticker string, date time.Time) decimal.Decimal {
	qty := decimal.Zero
	for _, t := range transactions {
		if t.Ticker != ticker || !t.Date.Before(date) {
			continue
		}
		qty = qty.Add(t.SignedQuantity())
	}
	if qty.IsNegative() {
		return decimal.Zero
	}
	return qty
}

// ComputeDrift compares current weights against targets.
//
// The total portfolio value is the sum of holding market values plus cash. Targets
// without a holding report a current weight of 0; holdings without a target report a
// target weight of 0. Entries are sorted by ticker.
//
// Example:
//
//	holdings A=800, B=200, cash 0, targets A=0.5 B=0.5
//	→ A: current 0.8, drift +0.3; B: current 0.2, drift -0.3
func ComputeDrift(holdings []model.Holding, targets []model.AssetAllocation, cash decimal.Decimal) []model.DriftEntry {
	total := cash
	values := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		values[h.Ticker] = h.MarketValue
		total = total.Add(h.MarketValue)
	}

	weights := make(map[string]float64, len(targets))
	for _, a := range targets {
		weights[a.Ticker] = a.TargetWeight
	}

	tickers := make([]string, 0, len(weights)+len(values))
	for ticker := range weights {
		tickers = append(tickers, ticker)
	}
	for ticker := range values {
		if _, ok := weights[ticker]; !ok {
			tickers = append(tickers, ticker)
		}
	}
	sort.Strings(tickers)

	entries := make([]model.DriftEntry, 0, len(tickers))
	for _, ticker := range tickers {
		mv := values[ticker]
		target := weights[ticker]
		current := ratio(mv, total)
		entries = append(entries, model.DriftEntry{
			Ticker:        ticker,
			TargetWeight:  target,
			CurrentWeight: roundWeight(current),
			DriftPct:      roundWeight(current - target),
			MarketValue:   mv,
			TargetValue:   roundMoney(total.Mul(decimal.NewFromFloat(target))),
		})
	}
	return entries
}

// planRebalancing turns drift beyond threshold into whole-share SELL_REBALANCE and
// BUY_REBALANCE suggestions.
//
// Sells never exceed the held quantity. Buys are funded by cash plus sell proceeds; when
// the budget is short every buy is scaled down by the same factor before flooring.
// Returns sells and buys separately, each sorted by ticker.
func planRebalancing(
	drift []model.DriftEntry,
	holdings []model.Holding,
	quotes map[string]model.Quote,
	cash decimal.Decimal,
	threshold float64,
	today time.Time,
) (sells, buys []model.Suggestion) {
	held := make(map[string]decimal.Decimal, len(holdings))
	for _, h := range holdings {
		held[h.Ticker] = h.Quantity
	}

	proceeds := decimal.Zero
	type buyPlan struct {
		ticker string
		price  decimal.Decimal
		qty    decimal.Decimal
		drift  float64
	}
	var plans []buyPlan

	for _, d := range drift {
		if math.Abs(d.DriftPct) <= threshold {
			continue
		}
		price := quotes[d.Ticker].Price
		if !price.IsPositive() {
			continue
		}

		if d.DriftPct > 0 {
			qty := floorShares(d.MarketValue.Sub(d.TargetValue), price)
			if qty.GreaterThan(held[d.Ticker]) {
				qty = held[d.Ticker].Floor()
			}
			if !qty.IsPositive() {
				continue
			}
			amount := roundMoney(qty.Mul(price))
			proceeds = proceeds.Add(amount)
			sells = append(sells, model.Suggestion{
				Type:     model.TypeSellRebalance,
				Ticker:   d.Ticker,
				Date:     today,
				Amount:   amount,
				Price:    decimal.NewNullDecimal(price),
				Quantity: decimal.NewNullDecimal(qty),
				Reason:   fmt.Sprintf("overweight by %.2f%%", d.DriftPct*100),
			})
			continue
		}

		qty := floorShares(d.TargetValue.Sub(d.MarketValue), price)
		if qty.IsPositive() {
			plans = append(plans, buyPlan{ticker: d.Ticker, price: price, qty: qty, drift: d.DriftPct})
		}
	}

	budget := cash.Add(proceeds)
	cost := decimal.Zero
	for _, p := range plans {
		cost = cost.Add(p.qty.Mul(p.price))
	}
	if cost.GreaterThan(budget) {
		scale := decimal.Zero
		if budget.IsPositive() {
			scale = budget.Div(cost)
		}
		for i := range plans {
			plans[i].qty = plans[i].qty.Mul(scale).Floor()
		}
	}

	for _, p := range plans {
		if !p.qty.IsPositive() {
			continue
		}
		buys = append(buys, model.Suggestion{
			Type:     model.TypeBuyRebalance,
			Ticker:   p.ticker,
			Date:     today,
			Amount:   roundMoney(p.qty.Mul(p.price)),
			Price:    decimal.NewNullDecimal(p.price),
			Quantity: decimal.NewNullDecimal(p.qty),
			Reason:   fmt.Sprintf("underweight by %.2f%%", -p.drift*100),
		})
	}

	return sells, buys
}

// CombineRebalancingSuggestions pairs sells with the buys their proceeds fund.
//
// Every sell opens a group. Buys are assigned largest first to the group with the most
// remaining proceeds; when no group has proceeds left the buy goes to a trailing
// cash-funded group without sells. NetCash is SellProceeds minus BuyCost per group.
//
// Example:
//
//	sells: A 300; buys: B 300
//	→ one group {Sells: [A], Buys: [B], NetCash: 0}
func CombineRebalancingSuggestions(sells, buys []model.Suggestion) []model.RebalancingGroup {
	groups := make([]model.RebalancingGroup, 0, len(sells)+1)
	remaining := make([]decimal.Decimal, 0, len(sells))
	for _, s := range sells {
		groups = append(groups, model.RebalancingGroup{
			Sells:        []model.Suggestion{s},
			Buys:         []model.Suggestion{},
			SellProceeds: s.Amount,
		})
		remaining = append(remaining, s.Amount)
	}

	ordered := make([]model.Suggestion, len(buys))
	copy(ordered, buys)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Amount.GreaterThan(ordered[j].Amount) })

	cashGroup := model.RebalancingGroup{Sells: []model.Suggestion{}, Buys: []model.Suggestion{}}
	for _, b := range ordered {
		best := -1
		for i, r := range remaining {
			if r.IsPositive() && (best < 0 || r.GreaterThan(remaining[best])) {
				best = i
			}
		}
		if best < 0 {
			cashGroup.Buys = append(cashGroup.Buys, b)
			cashGroup.BuyCost = cashGroup.BuyCost.Add(b.Amount)
			continue
		}
		groups[best].Buys = append(groups[best].Buys, b)
		groups[best].BuyCost = groups[best].BuyCost.Add(b.Amount)
		remaining[best] = remaining[best].Sub(b.Amount)
	}
	if len(cashGroup.Buys) > 0 {
		groups = append(groups, cashGroup)
	}

	for i := range groups {
		groups[i].NetCash = groups[i].SellProceeds.Sub(groups[i].BuyCost)
	}
	return groups
}

// addMonths adds n calendar months to t, clamping the day to the end of the target month.
//
// Example:
//
//	addMonths(2024-01-31, 1)  // 2024-02-29
func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(n), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1).Day()
	if d > last {
		d = last
	}
	return time.Date(first.Year(), first.Month(), d, 0, 0, 0, 0, time.UTC)
}

// contributionPeriods returns the contribution dates start + k·step months that fall on or
// before today, after anchor when set, and are not in covered.
func contributionPeriods(start time.Time, step int, anchor *time.Time, today time.Time, covered map[string]bool) []time.Time {
	if step <= 0 {
		return nil
	}
	var periods []time.Time
	for k := 0; ; k++ {
		date := addMonths(start, k*step)
		if date.After(today) {
			break
		}
		if anchor != nil && !date.After(*anchor) {
			continue
		}
		if covered[date.Format("2006-01-02")] {
			continue
		}
		periods = append(periods, date)
	}
	return periods
}

// allocateBuys spreads cash over the targets as whole-share BUY suggestions.
//
// Underweight assets receive cash in proportion to their target weight, capped at their gap
// to target value. When no asset is underweight, cash is spread over every target by weight.
// Sub-share remainders stay unallocated, so the total never exceeds cash.
func allocateBuys(
	targets []model.AssetAllocation,
	holdings []model.Holding,
	quotes map[string]model.Quote,
	cash decimal.Decimal,
	today time.Time,
) []model.Suggestion {
	if !cash.IsPositive() || len(targets) == 0 {
		return nil
	}

	values := make(map[string]decimal.Decimal, len(holdings))
	total := cash
	for _, h := range holdings {
		values[h.Ticker] = h.MarketValue
		total = total.Add(h.MarketValue)
	}

	gaps := make(map[string]decimal.Decimal, len(targets))
	underweightSum := 0.0
	for _, a := range targets {
		gap := total.Mul(decimal.NewFromFloat(a.TargetWeight)).Sub(values[a.Ticker])
		if gap.IsPositive() && a.TargetWeight > 0 {
			gaps[a.Ticker] = gap
			underweightSum += a.TargetWeight
		}
	}

	weightSum := underweightSum
	if len(gaps) == 0 {
		for _, a := range targets {
			weightSum += a.TargetWeight
		}
	}
	if weightSum <= 0 {
		return nil
	}

	sorted := make([]model.AssetAllocation, len(targets))
	copy(sorted, targets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Ticker < sorted[j].Ticker })

	var buys []model.Suggestion
	remaining := cash
	for _, a := range sorted {
		gap, underweight := gaps[a.Ticker]
		if len(gaps) > 0 && !underweight {
			continue
		}
		share := cash.Mul(decimal.NewFromFloat(a.TargetWeight / weightSum))
		if underweight && share.GreaterThan(gap) {
			share = gap
		}
		if share.GreaterThan(remaining) {
			share = remaining
		}

		price := quotes[a.Ticker].Price
		qty := floorShares(share, price)
		if !qty.IsPositive() {
			continue
		}
		amount := roundMoney(qty.Mul(price))
		if amount.GreaterThan(remaining) {
			qty = qty.Sub(decimal.NewFromInt(1))
			if !qty.IsPositive() {
				continue
			}
			amount = roundMoney(qty.Mul(price))
		}
		remaining = remaining.Sub(amount)
		buys = append(buys, model.Suggestion{
			Type:     model.TypeBuy,
			Ticker:   a.Ticker,
			Date:     today,
			Amount:   amount,
			Price:    decimal.NewNullDecimal(price),
			Quantity: decimal.NewNullDecimal(qty),
			Reason:   "invest available cash",
		})
	}
	return buys
}

// applyRunningBalance fills CashBalanceBefore/After of suggestions in order, starting at balance.
func applyRunningBalance(suggestions []model.Suggestion, balance decimal.Decimal) {
	for i := range suggestions {
		after := balance.Add(suggestions[i].Amount.Mul(decimal.NewFromInt(int64(suggestions[i].Type.CashSign()))))
		suggestions[i].CashBalanceBefore = decimal.NewNullDecimal(balance)
		suggestions[i].CashBalanceAfter = decimal.NewNullDecimal(after)
		balance = after
	}
}

// NormalizeWeights scales weights so they sum to 1.
//
// An all-zero input is split equally. Negative or non-finite weights return ErrInvalidAllocation.
func NormalizeWeights(weights []float64) ([]float64, error) {
	sum := 0.0
	for _, w := range weights {
		if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, fmt.Errorf("%w: weight %v", apperrors.ErrInvalidAllocation, w)
		}
		sum += w
	}

	normalized := make([]float64, len(weights))
	if len(weights) == 0 {
		return normalized, nil
	}
	for i, w := range weights {
		if sum == 0 {
			normalized[i] = 1 / float64(len(weights))
		} else {
			normalized[i] = w / sum
		}
	}
	return normalized, nil
}

// rescaleWeights sets ticker to weight and scales the other allocations so the total stays 1.
// With a single allocation the weight is always 1.
func rescaleWeights(allocations []model.AssetAllocation, ticker string, weight float64) ([]model.AssetAllocation, error) {
	if weight < 0 || weight > 1 || math.IsNaN(weight) {
		return nil, fmt.Errorf("%w: weight must be between 0 and 1", apperrors.ErrInvalidAllocation)
	}

	found := false
	others := 0.0
	othersCount := 0
	for _, a := range allocations {
		if a.Ticker == ticker {
			found = true
			continue
		}
		others += a.TargetWeight
		othersCount++
	}
	if !found {
		return nil, apperrors.ErrAssetNotFound
	}

	result := make([]model.AssetAllocation, len(allocations))
	copy(result, allocations)
	if othersCount == 0 {
		result[0].TargetWeight = 1
		return result, nil
	}

	remaining := 1 - weight
	for i := range result {
		switch {
		case result[i].Ticker == ticker:
			result[i].TargetWeight = weight
		case others == 0:
			result[i].TargetWeight = remaining / float64(othersCount)
		default:
			result[i].TargetWeight = result[i].TargetWeight / others * remaining
		}
	}
	return result, nil
}

// truncateDay returns t at midnight UTC.
func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sortSuggestions orders suggestions by date, then ticker.
func sortSuggestions(suggestions []model.Suggestion) {
	sort.SliceStable(suggestions, func(i, j int) bool {
		if !suggestions[i].Date.Equal(suggestions[j].Date) {
			return suggestions[i].Date.Before(suggestions[j].Date)
		}
		return suggestions[i].Ticker < suggestions[j].Ticker
	})
}

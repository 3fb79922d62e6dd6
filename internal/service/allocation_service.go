package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
)

// maxConcurrentQuotes bounds parallel price lookups per request.
const maxConcurrentQuotes = 4

// AllocationService derives holdings, drift and suggestions from the settled ledger and live quotes.
// Every method is read-only: suggestions only become transactions through SuggestionService.
type AllocationService struct {
	portfolioRepo   *repository.PortfolioRepository
	allocationRepo  *repository.AllocationRepository
	transactionRepo *repository.TransactionRepository
	prices          PriceProvider
	driftThreshold  float64
	now             func() time.Time
}

// NewAllocationService creates a new AllocationService.
// driftThreshold is the absolute weight difference beyond which rebalancing is suggested.
func NewAllocationService(
	portfolioRepo *repository.PortfolioRepository,
	allocationRepo *repository.AllocationRepository,
	transactionRepo *repository.TransactionRepository,
	prices PriceProvider,
	driftThreshold float64,
) *AllocationService {
	return &AllocationService{
		portfolioRepo:   portfolioRepo,
		allocationRepo:  allocationRepo,
		transactionRepo: transactionRepo,
		prices:          prices,
		driftThreshold:  driftThreshold,
		now:             time.Now,
	}
}

// snapshot is everything the engine needs about a portfolio at one point in time.
type snapshot struct {
	portfolio    model.Portfolio
	allocations  []model.AssetAllocation
	transactions []model.Transaction
	positions    map[string]*position
	quotes       map[string]model.Quote
	holdings     []model.Holding
	cash         decimal.Decimal
}

// loadSnapshot reads the portfolio, its allocations and settled ledger, then fetches quotes for
// every held or targeted ticker.
func (s *AllocationService) loadSnapshot(ctx context.Context, portfolioID string) (*snapshot, error) {
	portfolio, err := s.portfolioRepo.GetPortfolio(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	allocations, err := s.allocationRepo.GetAllocations(ctx, portfolioID)
	if err != nil {
		return nil, err
	}

	transactions, err := s.transactionRepo.ListSettledTransactions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveTransactions, err)
	}

	cash := decimal.Zero
	for _, t := range transactions {
		cash = cash.Add(t.SignedAmount())
	}

	positions := buildPositions(transactions)
	tickers := make([]string, 0, len(positions)+len(allocations))
	seen := make(map[string]bool)
	for ticker, p := range positions {
		if p.quantity.IsPositive() {
			tickers = append(tickers, ticker)
			seen[ticker] = true
		}
	}
	for _, a := range allocations {
		if !seen[a.Ticker] {
			tickers = append(tickers, a.Ticker)
			seen[a.Ticker] = true
		}
	}

	quotes, err := s.fetchQuotes(ctx, tickers)
	if err != nil {
		return nil, err
	}

	return &snapshot{
		portfolio:    portfolio,
		allocations:  allocations,
		transactions: transactions,
		positions:    positions,
		quotes:       quotes,
		holdings:     holdingsFromPositions(positions, quotes),
		cash:         cash,
	}, nil
}

// fetchQuotes retrieves the latest quote of every ticker concurrently.
// The first failure cancels the remaining lookups.
func (s *AllocationService) fetchQuotes(ctx context.Context, tickers []string) (map[string]model.Quote, error) {
	quotes := make(map[string]model.Quote, len(tickers))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for _, ticker := range tickers {
		g.Go(func() error {
			quote, err := s.prices.GetTickerPrice(gctx, ticker)
			if err != nil {
				return fmt.Errorf("%w for %s: %w", apperrors.ErrFailedToRetrievePrice, ticker, err)
			}
			mu.Lock()
			quotes[ticker] = quote
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return quotes, nil
}

// GetCurrentHoldings returns the settled position of every held ticker valued at its latest quote.
func (s *AllocationService) GetCurrentHoldings(ctx context.Context, portfolioID string) ([]model.Holding, error) {
	snap, err := s.loadSnapshot(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	return snap.holdings, nil
}

// GetDrift returns the current weight of every held or targeted ticker against its target.
func (s *AllocationService) GetDrift(ctx context.Context, portfolioID string) ([]model.DriftEntry, error) {
	snap, err := s.loadSnapshot(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	return ComputeDrift(snap.holdings, snap.allocations, snap.cash), nil
}

// GetClosedPositions returns tickers that were bought and later fully sold.
func (s *AllocationService) GetClosedPositions(ctx context.Context, portfolioID string) ([]model.ClosedPosition, error) {
	if _, err := s.portfolioRepo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}
	transactions, err := s.transactionRepo.ListSettledTransactions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveTransactions, err)
	}
	return closedFromPositions(buildPositions(transactions)), nil
}

// GetRebalancingSuggestions proposes sells of overweight and buys of underweight assets.
//
// Assets whose drift exceeds the configured threshold are traded in whole shares. Sells never
// exceed the held quantity, and buys are funded by cash plus sell proceeds. The suggestions are
// paired into groups by CombineRebalancingSuggestions.
//
// While PENDING auto-suggested MONTHLY_CONTRIBUTION or BUY rows exist, contributions take
// priority: the result is empty and BlockedReason explains why.
func (s *AllocationService) GetRebalancingSuggestions(ctx context.Context, portfolioID string) (model.SuggestionSet, error) {
	set := model.SuggestionSet{
		Kind:        model.SuggestionRebalancing,
		Suggestions: []model.Suggestion{},
		Groups:      []model.RebalancingGroup{},
		Drift:       []model.DriftEntry{},
	}

	snap, err := s.loadSnapshot(ctx, portfolioID)
	if err != nil {
		return set, err
	}
	set.Drift = ComputeDrift(snap.holdings, snap.allocations, snap.cash)

	blocked, err := s.transactionRepo.HasPendingAutoSuggested(ctx, portfolioID, model.TypeMonthlyContribution, model.TypeBuy)
	if err != nil {
		return set, err
	}
	if blocked {
		set.BlockedReason = "pending contribution suggestions must be confirmed or rejected first"
		return set, nil
	}

	today := truncateDay(s.now())
	sells, buys := planRebalancing(set.Drift, snap.holdings, snap.quotes, snap.cash, s.driftThreshold, today)
	set.Suggestions = append(set.Suggestions, sells...)
	set.Suggestions = append(set.Suggestions, buys...)
	applyRunningBalance(set.Suggestions, snap.cash)
	set.Groups = CombineRebalancingSuggestions(sells, buys)

	return set, nil
}

// GetContributionSuggestions proposes the contributions that are due and the buys they fund.
//
// Contribution periods are startDate + k·step months (step from the rebalance frequency) that
// are on or before today, after the regeneration anchor when set, and not already covered by a
// MONTHLY_CONTRIBUTION row in any status. Each period contributes monthlyContribution × step.
// Periods are only produced once tracking has started and the contribution is positive.
//
// Buys are only proposed when no PENDING auto-suggested BUY exists. They spend the settled
// cash balance plus the new contributions and never exceed it. Contributions come first in
// the returned list.
func (s *AllocationService) GetContributionSuggestions(ctx context.Context, portfolioID string) ([]model.Suggestion, error) {
	snap, err := s.loadSnapshot(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	p := snap.portfolio
	today := truncateDay(s.now())

	suggestions := []model.Suggestion{}
	contributed := decimal.Zero

	if p.TrackingStarted && p.StartDate != nil && p.MonthlyContribution.IsPositive() {
		existing, err := s.transactionRepo.ListTransactions(ctx, portfolioID, model.TransactionFilter{
			Types: []model.TransactionType{model.TypeMonthlyContribution},
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveTransactions, err)
		}
		covered := make(map[string]bool, len(existing))
		for _, t := range existing {
			covered[t.Date.Format("2006-01-02")] = true
		}

		step := p.RebalanceFrequency.Months()
		amount := roundMoney(p.MonthlyContribution.Mul(decimal.NewFromInt(int64(step))))
		for _, date := range contributionPeriods(*p.StartDate, step, p.LastSuggestionsGeneratedAt, today, covered) {
			suggestions = append(suggestions, model.Suggestion{
				Type:   model.TypeMonthlyContribution,
				Date:   date,
				Amount: amount,
				Reason: fmt.Sprintf("%s contribution", p.RebalanceFrequency),
			})
			contributed = contributed.Add(amount)
		}
	}

	pendingBuy, err := s.transactionRepo.HasPendingAutoSuggested(ctx, portfolioID, model.TypeBuy)
	if err != nil {
		return nil, err
	}
	if !pendingBuy {
		available := snap.cash.Add(contributed)
		suggestions = append(suggestions, allocateBuys(snap.allocations, snap.holdings, snap.quotes, available, today)...)
	}

	applyRunningBalance(suggestions, snap.cash)
	return suggestions, nil
}

// GetDividendSuggestions proposes DIVIDEND entries for distributions the portfolio was entitled to.
//
// For every ticker ever held the provider's dividend events since the first acquisition are
// checked. An event yields a suggestion of perShare × quantity when shares were held before the
// ex-date and no DIVIDEND row for the same ticker and date exists in any status.
func (s *AllocationService) GetDividendSuggestions(ctx context.Context, portfolioID string) ([]model.Suggestion, error) {
	if _, err := s.portfolioRepo.GetPortfolio(ctx, portfolioID); err != nil {
		return nil, err
	}

	transactions, err := s.transactionRepo.ListSettledTransactions(ctx, portfolioID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveTransactions, err)
	}
	existing, err := s.transactionRepo.ListTransactions(ctx, portfolioID, model.TransactionFilter{
		Types: []model.TransactionType{model.TypeDividend},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveTransactions, err)
	}
	recorded := make(map[string]bool, len(existing))
	for _, t := range existing {
		recorded[model.Suggestion{Type: t.Type, Ticker: t.Ticker, Date: t.Date}.Key()] = true
	}

	positions := buildPositions(transactions)
	tickers := make([]string, 0, len(positions))
	for ticker := range positions {
		tickers = append(tickers, ticker)
	}

	events := make([][]model.DividendEvent, len(tickers))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for i, ticker := range tickers {
		since := positions[ticker].firstAcquiredAt
		g.Go(func() error {
			ev, err := s.prices.GetDividendEvents(gctx, ticker, since)
			if err != nil {
				return fmt.Errorf("failed to get dividends for %s: %w", ticker, err)
			}
			events[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	suggestions := []model.Suggestion{}
	for i, ticker := range tickers {
		for _, ev := range events[i] {
			sg := model.Suggestion{Type: model.TypeDividend, Ticker: ticker, Date: truncateDay(ev.ExDate)}
			if recorded[sg.Key()] {
				continue
			}
			qty := quantityHeldBefore(transactions, ticker, sg.Date)
			if !qty.IsPositive() {
				continue
			}
			sg.Amount = roundMoney(ev.AmountPerShare.Mul(qty))
			sg.Price = decimal.NewNullDecimal(ev.AmountPerShare)
			sg.Quantity = decimal.NewNullDecimal(qty)
			sg.Reason = fmt.Sprintf("dividend of %s per share", ev.AmountPerShare.String())
			suggestions = append(suggestions, sg)
		}
	}
	sortSuggestions(suggestions)

	return suggestions, nil
}

// CurrentValue returns holdings market value and cash balance of a portfolio.
func (s *AllocationService) CurrentValue(ctx context.Context, portfolioID string) (holdingsValue, cash decimal.Decimal, err error) {
	snap, err := s.loadSnapshot(ctx, portfolioID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	holdingsValue = decimal.Zero
	for _, h := range snap.holdings {
		holdingsValue = holdingsValue.Add(h.MarketValue)
	}
	return holdingsValue, snap.cash, nil
}

// TargetWeights returns the allocation of a portfolio keyed by ticker.
func (s *AllocationService) TargetWeights(ctx context.Context, portfolioID string) (map[string]float64, error) {
	allocations, err := s.allocationRepo.GetAllocations(ctx, portfolioID)
	if err != nil {
		return nil, err
	}
	weights := make(map[string]float64, len(allocations))
	for _, a := range allocations {
		weights[a.Ticker] = a.TargetWeight
	}
	return weights, nil
}

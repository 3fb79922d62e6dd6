package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/phuslu/log"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
)

// MetricsService maintains the memoized valuation of each portfolio.
// Metrics are a cache over the ledger: they can always be rebuilt with UpdateMetrics.
type MetricsService struct {
	allocation      *AllocationService
	transactionRepo *repository.TransactionRepository
	metricsRepo     *repository.MetricsRepository
	freshness       time.Duration
	logger          *log.Logger
	group           singleflight.Group
	now             func() time.Time
}

// NewMetricsService creates a new MetricsService. Cached metrics younger than freshness are
// served without recalculation.
func NewMetricsService(
	allocation *AllocationService,
	transactionRepo *repository.TransactionRepository,
	metricsRepo *repository.MetricsRepository,
	freshness time.Duration,
	logger *log.Logger,
) *MetricsService {
	return &MetricsService{
		allocation:      allocation,
		transactionRepo: transactionRepo,
		metricsRepo:     metricsRepo,
		freshness:       freshness,
		logger:          logger,
		now:             time.Now,
	}
}

// UpdateMetrics recalculates and stores the metrics of a portfolio.
//
// currentValue is the holdings market value plus cash. totalInvested is the sum of settled
// CASH_CREDIT and MONTHLY_CONTRIBUTION amounts, and totalReturn is their difference.
// Concurrent refreshes of the same portfolio share one calculation.
func (s *MetricsService) UpdateMetrics(ctx context.Context, portfolioID string) (model.PortfolioMetrics, error) {
	v, err, _ := s.group.Do(portfolioID, func() (any, error) {
		return s.calculate(ctx, portfolioID)
	})
	if err != nil {
		return model.PortfolioMetrics{}, err
	}
	return v.(model.PortfolioMetrics), nil
}

func (s *MetricsService) calculate(ctx context.Context, portfolioID string) (model.PortfolioMetrics, error) {
	holdingsValue, cash, err := s.allocation.CurrentValue(ctx, portfolioID)
	if err != nil {
		return model.PortfolioMetrics{}, err
	}

	transactions, err := s.transactionRepo.ListSettledTransactions(ctx, portfolioID)
	if err != nil {
		return model.PortfolioMetrics{}, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveTransactions, err)
	}
	// Net external cash flow. Sale proceeds stay in the portfolio until a CASH_DEBIT takes them out.
	invested := decimal.Zero
	for _, t := range transactions {
		switch t.Type {
		case model.TypeCashCredit, model.TypeMonthlyContribution:
			invested = invested.Add(t.Amount)
		case model.TypeCashDebit:
			invested = invested.Sub(t.Amount)
		}
	}

	current := holdingsValue.Add(cash)
	totalReturn := current.Sub(invested)
	metrics := model.PortfolioMetrics{
		PortfolioID:      portfolioID,
		CurrentValue:     roundMoney(current),
		HoldingsValue:    roundMoney(holdingsValue),
		CashBalance:      roundMoney(cash),
		TotalInvested:    roundMoney(invested),
		TotalReturn:      roundMoney(totalReturn),
		TotalReturnPct:   roundWeight(ratio(totalReturn, invested) * 100),
		LastCalculatedAt: s.now().UTC(),
	}

	if err := s.metricsRepo.UpsertMetrics(ctx, metrics); err != nil {
		return model.PortfolioMetrics{}, err
	}
	return metrics, nil
}

// GetMetrics returns the cached metrics when fresh, otherwise recalculates them first.
func (s *MetricsService) GetMetrics(ctx context.Context, portfolioID string) (model.PortfolioMetrics, error) {
	cached, err := s.metricsRepo.GetMetrics(ctx, portfolioID)
	if err != nil && !errors.Is(err, apperrors.ErrMetricsNotFound) {
		return model.PortfolioMetrics{}, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveMetrics, err)
	}
	if err == nil && cached.Fresh(s.now(), s.freshness) {
		return cached, nil
	}
	return s.UpdateMetrics(ctx, portfolioID)
}

// RefreshStale recalculates every tracked portfolio whose metrics are missing or older than the
// freshness window. Failures are logged per portfolio; the number of refreshed portfolios is returned.
func (s *MetricsService) RefreshStale(ctx context.Context) (int, error) {
	ids, err := s.metricsRepo.ListStalePortfolioIDs(ctx, s.now().Add(-s.freshness))
	if err != nil {
		return 0, err
	}

	refreshed := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return refreshed, ctx.Err()
		}
		if _, err := s.UpdateMetrics(ctx, id); err != nil {
			s.logger.Warn().Err(err).Str("portfolio_id", id).Msg("failed to refresh stale metrics")
			continue
		}
		refreshed++
	}
	return refreshed, nil
}

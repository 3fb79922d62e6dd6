package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/fernet/fernet-go"
	"github.com/google/uuid"
	"github.com/phuslu/log"
	"golang.org/x/sync/errgroup"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/validation"
)

// PortfolioService handles portfolio configuration: the portfolio itself, its target
// allocation and the read models exposed per portfolio.
//
// Every method takes the caller's user id; portfolios of other users are reported as not found.
// Any change to the allocation or contribution plan invalidates pending suggestions: the
// auto-suggested PENDING rows are deleted, the regeneration anchor is reset and a
// regeneration task is queued, all in the same database transaction as the change.
type PortfolioService struct {
	db              *sql.DB
	users           UserDirectory
	portfolioRepo   *repository.PortfolioRepository
	allocationRepo  *repository.AllocationRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	prices          PriceProvider
	allocation      *AllocationService
	metrics         *MetricsService
	freeLimit       int
	seedKey         *fernet.Key
	seedTTL         time.Duration
	logger          *log.Logger
	now             func() time.Time
}

// PortfolioServiceOptions holds the plan and backtest settings of a PortfolioService.
type PortfolioServiceOptions struct {
	// FreePortfolioLimit is the number of portfolios a non-premium user may own.
	FreePortfolioLimit int
	// BacktestKey is a base64 Fernet key. Empty disables backtest seeds.
	BacktestKey string
	// BacktestSeedTTL is how long a sealed seed stays valid.
	BacktestSeedTTL time.Duration
}

// NewPortfolioService creates a new PortfolioService.
// Returns an error if the backtest key is set but cannot be decoded.
func NewPortfolioService(
	db *sql.DB,
	users UserDirectory,
	portfolioRepo *repository.PortfolioRepository,
	allocationRepo *repository.AllocationRepository,
	transactionRepo *repository.TransactionRepository,
	outboxRepo *repository.OutboxRepository,
	prices PriceProvider,
	allocation *AllocationService,
	metrics *MetricsService,
	opts PortfolioServiceOptions,
	logger *log.Logger,
) (*PortfolioService, error) {
	s := &PortfolioService{
		db:              db,
		users:           users,
		portfolioRepo:   portfolioRepo,
		allocationRepo:  allocationRepo,
		transactionRepo: transactionRepo,
		outboxRepo:      outboxRepo,
		prices:          prices,
		allocation:      allocation,
		metrics:         metrics,
		freeLimit:       opts.FreePortfolioLimit,
		seedTTL:         opts.BacktestSeedTTL,
		logger:          logger,
		now:             time.Now,
	}

	if opts.BacktestKey != "" {
		key, err := fernet.DecodeKey(opts.BacktestKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode backtest key: %w", err)
		}
		s.seedKey = key
	}

	return s, nil
}

// CreatePortfolio creates a portfolio for userID with an optional initial allocation.
//
// Non-premium users may own at most FreePortfolioLimit portfolios (ErrPortfolioLimitReached).
// Asset tickers are validated with the price provider before anything is written, and their
// weights are normalized to sum to 1.
func (s *PortfolioService) CreatePortfolio(ctx context.Context, userID string, in model.PortfolioInput) (model.PortfolioDetail, error) {
	if err := validation.ValidatePortfolioInput(in); err != nil {
		return model.PortfolioDetail{}, err
	}

	user, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return model.PortfolioDetail{}, err
	}
	if !user.IsPremium {
		count, err := s.portfolioRepo.CountPortfolios(ctx, userID)
		if err != nil {
			return model.PortfolioDetail{}, err
		}
		if count >= s.freeLimit {
			return model.PortfolioDetail{}, fmt.Errorf("%w: free plan allows %d", apperrors.ErrPortfolioLimitReached, s.freeLimit)
		}
	}

	tickers, weights, err := s.prepareAssets(ctx, in.Assets)
	if err != nil {
		return model.PortfolioDetail{}, err
	}

	portfolio := model.Portfolio{
		ID:                  uuid.New().String(),
		UserID:              userID,
		Name:                strings.TrimSpace(in.Name),
		MonthlyContribution: roundMoney(in.MonthlyContribution),
		RebalanceFrequency:  in.RebalanceFrequency,
		CreatedAt:           s.now().UTC(),
	}
	if in.StartDate != nil {
		start := truncateDay(*in.StartDate)
		portfolio.StartDate = &start
	}

	allocations := make([]model.AssetAllocation, len(tickers))
	err = runTx(ctx, s.db, func(tx *sql.Tx) error {
		if err := s.portfolioRepo.WithTx(tx).InsertPortfolio(ctx, &portfolio); err != nil {
			return err
		}
		aRepo := s.allocationRepo.WithTx(tx)
		for i, ticker := range tickers {
			allocations[i] = model.AssetAllocation{PortfolioID: portfolio.ID, Ticker: ticker, TargetWeight: weights[i]}
			if err := aRepo.InsertAllocation(ctx, &allocations[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.PortfolioDetail{}, err
	}

	s.logger.Info().Str("portfolio_id", portfolio.ID).Str("user_id", userID).Int("assets", len(allocations)).Msg("portfolio created")
	return model.PortfolioDetail{Portfolio: portfolio, Allocations: allocations}, nil
}

// prepareAssets validates every ticker concurrently and normalizes the weights.
// The first invalid ticker fails the whole set.
func (s *PortfolioService) prepareAssets(ctx context.Context, assets []model.AssetInput) ([]string, []float64, error) {
	tickers := make([]string, len(assets))
	raw := make([]float64, len(assets))
	for i, a := range assets {
		tickers[i] = strings.ToUpper(strings.TrimSpace(a.Ticker))
		raw[i] = a.Weight
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentQuotes)
	for _, ticker := range tickers {
		g.Go(func() error {
			return s.prices.ValidateTicker(gctx, ticker)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	weights, err := NormalizeWeights(raw)
	if err != nil {
		return nil, nil, err
	}
	return tickers, weights, nil
}

// GetPortfolio returns a portfolio owned by userID with its allocation.
func (s *PortfolioService) GetPortfolio(ctx context.Context, userID, portfolioID string) (model.PortfolioDetail, error) {
	portfolio, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID)
	if err != nil {
		return model.PortfolioDetail{}, err
	}
	allocations, err := s.allocationRepo.GetAllocations(ctx, portfolioID)
	if err != nil {
		return model.PortfolioDetail{}, err
	}
	return model.PortfolioDetail{Portfolio: portfolio, Allocations: allocations}, nil
}

// ListPortfolios returns every portfolio owned by userID.
func (s *PortfolioService) ListPortfolios(ctx context.Context, userID string) ([]model.Portfolio, error) {
	portfolios, err := s.portfolioRepo.ListPortfolios(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrievePortfolios, err)
	}
	return portfolios, nil
}

// UpdatePortfolio replaces the name and contribution plan of a portfolio. Assets in the input are ignored.
// A change of start date, contribution or frequency invalidates pending suggestions.
func (s *PortfolioService) UpdatePortfolio(ctx context.Context, userID, portfolioID string, in model.PortfolioInput) (model.PortfolioDetail, error) {
	in.Assets = nil
	if err := validation.ValidatePortfolioInput(in); err != nil {
		return model.PortfolioDetail{}, err
	}
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return model.PortfolioDetail{}, err
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		pRepo := s.portfolioRepo.WithTx(tx)
		current, err := pRepo.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}

		updated := current
		updated.Name = strings.TrimSpace(in.Name)
		updated.MonthlyContribution = roundMoney(in.MonthlyContribution)
		updated.RebalanceFrequency = in.RebalanceFrequency
		if in.StartDate != nil {
			start := truncateDay(*in.StartDate)
			updated.StartDate = &start
		}
		if err := pRepo.UpdatePortfolio(ctx, &updated); err != nil {
			return err
		}

		planChanged := !updated.MonthlyContribution.Equal(current.MonthlyContribution) ||
			updated.RebalanceFrequency != current.RebalanceFrequency ||
			!sameDate(updated.StartDate, current.StartDate)
		if !planChanged {
			return nil
		}
		updated.Version = current.Version + 1
		return s.invalidateSuggestions(ctx, tx, updated, model.ReasonSettingsChanged)
	})
	if err != nil {
		return model.PortfolioDetail{}, err
	}

	return s.GetPortfolio(ctx, userID, portfolioID)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

// DeletePortfolio removes a portfolio owned by userID together with its allocation, ledger,
// metrics and queued tasks.
func (s *PortfolioService) DeletePortfolio(ctx context.Context, userID, portfolioID string) error {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return err
	}
	if err := s.portfolioRepo.DeletePortfolio(ctx, portfolioID); err != nil {
		return err
	}
	s.logger.Info().Str("portfolio_id", portfolioID).Msg("portfolio deleted")
	return nil
}

// StartTracking switches contribution tracking on. startDate defaults to the stored start
// date, then to today. A regeneration task is queued so the first contributions appear.
func (s *PortfolioService) StartTracking(ctx context.Context, userID, portfolioID string, startDate *time.Time) (model.PortfolioDetail, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return model.PortfolioDetail{}, err
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		pRepo := s.portfolioRepo.WithTx(tx)
		p, err := pRepo.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}

		switch {
		case startDate != nil:
			start := truncateDay(*startDate)
			p.StartDate = &start
		case p.StartDate == nil:
			today := truncateDay(s.now())
			p.StartDate = &today
		}
		p.TrackingStarted = true

		if err := pRepo.UpdatePortfolio(ctx, &p); err != nil {
			return err
		}
		p.Version++
		return markPortfolioChanged(ctx, pRepo, s.outboxRepo.WithTx(tx), p, model.ReasonTrackingStarted, s.now())
	})
	if err != nil {
		return model.PortfolioDetail{}, err
	}

	return s.GetPortfolio(ctx, userID, portfolioID)
}

// invalidateSuggestions deletes auto-suggested PENDING rows and queues regeneration.
// p.Version must be the version currently stored. Must run inside tx.
func (s *PortfolioService) invalidateSuggestions(ctx context.Context, tx *sql.Tx, p model.Portfolio, reason model.RegenerationReason) error {
	if _, err := s.transactionRepo.WithTx(tx).DeletePendingTransactions(ctx, p.ID, true); err != nil {
		return err
	}
	return markPortfolioChanged(ctx, s.portfolioRepo.WithTx(tx), s.outboxRepo.WithTx(tx), p, reason, s.now())
}

// changeAllocation runs fn on the current allocation inside a transaction, stores the
// allocation fn returns and invalidates pending suggestions.
//
// fn receives the allocation in ticker order and returns the full desired allocation.
// Rows missing from the result are deleted, new rows are inserted and the rest are re-weighted.
func (s *PortfolioService) changeAllocation(
	ctx context.Context,
	userID, portfolioID string,
	fn func(current []model.AssetAllocation) ([]model.AssetAllocation, error),
) (model.PortfolioDetail, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return model.PortfolioDetail{}, err
	}

	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		aRepo := s.allocationRepo.WithTx(tx)
		p, err := s.portfolioRepo.WithTx(tx).GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}
		current, err := aRepo.GetAllocations(ctx, portfolioID)
		if err != nil {
			return err
		}

		desired, err := fn(current)
		if err != nil {
			return err
		}

		keep := make(map[string]bool, len(desired))
		for _, a := range desired {
			keep[a.Ticker] = true
		}
		existing := make(map[string]bool, len(current))
		for _, a := range current {
			existing[a.Ticker] = true
			if !keep[a.Ticker] {
				if err := aRepo.DeleteAllocation(ctx, portfolioID, a.Ticker); err != nil {
					return err
				}
			}
		}
		for i := range desired {
			a := &desired[i]
			a.PortfolioID = portfolioID
			if existing[a.Ticker] {
				if err := aRepo.UpdateWeight(ctx, portfolioID, a.Ticker, a.TargetWeight); err != nil {
					return err
				}
				continue
			}
			a.ID = ""
			if err := aRepo.InsertAllocation(ctx, a); err != nil {
				return err
			}
		}

		return s.invalidateSuggestions(ctx, tx, p, model.ReasonAllocationChanged)
	})
	if err != nil {
		return model.PortfolioDetail{}, err
	}

	return s.GetPortfolio(ctx, userID, portfolioID)
}

// AddAsset adds a ticker to the allocation. The new asset takes weight in [0, 1] and the
// existing assets are scaled to share the rest; the first asset always gets weight 1.
// Returns ErrDuplicateEntry if the ticker is already allocated.
func (s *PortfolioService) AddAsset(ctx context.Context, userID, portfolioID string, in model.AssetInput) (model.PortfolioDetail, error) {
	ticker := strings.ToUpper(strings.TrimSpace(in.Ticker))
	if ticker == "" {
		return model.PortfolioDetail{}, &validation.Error{Fields: map[string]string{"ticker": "ticker is required"}}
	}
	if err := validation.ValidateWeight(in.Weight); err != nil {
		return model.PortfolioDetail{}, err
	}
	if err := s.prices.ValidateTicker(ctx, ticker); err != nil {
		return model.PortfolioDetail{}, err
	}

	return s.changeAllocation(ctx, userID, portfolioID, func(current []model.AssetAllocation) ([]model.AssetAllocation, error) {
		for _, a := range current {
			if a.Ticker == ticker {
				return nil, fmt.Errorf("%w: %s already allocated", apperrors.ErrDuplicateEntry, ticker)
			}
		}
		next := append(current, model.AssetAllocation{Ticker: ticker, TargetWeight: in.Weight})
		return rescaleWeights(next, ticker, in.Weight)
	})
}

// RemoveAsset drops a ticker from the allocation and renormalizes the remaining weights.
// Holdings of the ticker are untouched; rebalancing will suggest selling them.
func (s *PortfolioService) RemoveAsset(ctx context.Context, userID, portfolioID, ticker string) (model.PortfolioDetail, error) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	return s.changeAllocation(ctx, userID, portfolioID, func(current []model.AssetAllocation) ([]model.AssetAllocation, error) {
		remaining := make([]model.AssetAllocation, 0, len(current))
		for _, a := range current {
			if a.Ticker != ticker {
				remaining = append(remaining, a)
			}
		}
		if len(remaining) == len(current) {
			return nil, apperrors.ErrAssetNotFound
		}

		raw := make([]float64, len(remaining))
		for i, a := range remaining {
			raw[i] = a.TargetWeight
		}
		weights, err := NormalizeWeights(raw)
		if err != nil {
			return nil, err
		}
		for i := range remaining {
			remaining[i].TargetWeight = weights[i]
		}
		return remaining, nil
	})
}

// UpdateAssetWeight sets the weight of one ticker and scales the others so the total stays 1.
func (s *PortfolioService) UpdateAssetWeight(ctx context.Context, userID, portfolioID, ticker string, weight float64) (model.PortfolioDetail, error) {
	if err := validation.ValidateWeight(weight); err != nil {
		return model.PortfolioDetail{}, err
	}
	ticker = strings.ToUpper(strings.TrimSpace(ticker))

	return s.changeAllocation(ctx, userID, portfolioID, func(current []model.AssetAllocation) ([]model.AssetAllocation, error) {
		return rescaleWeights(current, ticker, weight)
	})
}

// ReplaceAllAssets replaces the whole allocation.
//
// Every ticker is validated independently and reported in the BatchResult. The valid assets
// are normalized and stored atomically; invalid ones are skipped. ErrBatchFailed is returned
// when no asset is valid, in which case nothing changes.
func (s *PortfolioService) ReplaceAllAssets(ctx context.Context, userID, portfolioID string, assets []model.AssetInput) (model.BatchResult, error) {
	if err := validation.ValidateAssets(assets); err != nil {
		return model.BatchResult{}, err
	}
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return model.BatchResult{}, err
	}

	tickers := make([]string, len(assets))
	errs := make([]error, len(assets))
	var g errgroup.Group
	g.SetLimit(maxConcurrentQuotes)
	for i, a := range assets {
		tickers[i] = strings.ToUpper(strings.TrimSpace(a.Ticker))
		g.Go(func() error {
			errs[i] = s.prices.ValidateTicker(ctx, tickers[i])
			return nil
		})
	}
	_ = g.Wait()

	result := model.BatchResult{Items: []model.BatchItemResult{}}
	var valid []model.AssetInput
	for i, a := range assets {
		result.Add(tickers[i], errs[i])
		if errs[i] == nil {
			valid = append(valid, model.AssetInput{Ticker: tickers[i], Weight: a.Weight})
		}
	}
	if len(valid) == 0 {
		return result, apperrors.ErrBatchFailed
	}

	raw := make([]float64, len(valid))
	for i, a := range valid {
		raw[i] = a.Weight
	}
	weights, err := NormalizeWeights(raw)
	if err != nil {
		return result, err
	}

	_, err = s.changeAllocation(ctx, userID, portfolioID, func(_ []model.AssetAllocation) ([]model.AssetAllocation, error) {
		desired := make([]model.AssetAllocation, len(valid))
		for i, a := range valid {
			desired[i] = model.AssetAllocation{Ticker: a.Ticker, TargetWeight: weights[i]}
		}
		return desired, nil
	})
	if err != nil {
		return result, err
	}
	return result, nil
}

// GetHoldings returns the holdings of a portfolio owned by userID.
func (s *PortfolioService) GetHoldings(ctx context.Context, userID, portfolioID string) ([]model.Holding, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	return s.allocation.GetCurrentHoldings(ctx, portfolioID)
}

// GetDrift returns the drift of a portfolio owned by userID.
func (s *PortfolioService) GetDrift(ctx context.Context, userID, portfolioID string) ([]model.DriftEntry, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	return s.allocation.GetDrift(ctx, portfolioID)
}

// GetClosedPositions returns the closed positions of a portfolio owned by userID.
func (s *PortfolioService) GetClosedPositions(ctx context.Context, userID, portfolioID string) ([]model.ClosedPosition, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	return s.allocation.GetClosedPositions(ctx, portfolioID)
}

// GetMetrics returns the metrics of a portfolio owned by userID, refreshing them when stale.
func (s *PortfolioService) GetMetrics(ctx context.Context, userID, portfolioID string) (model.PortfolioMetrics, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return model.PortfolioMetrics{}, err
	}
	return s.metrics.GetMetrics(ctx, portfolioID)
}

// GenerateBacktestSeed captures the starting state of a portfolio for an external backtest
// engine and seals it as a Fernet token.
//
// Initial capital is the current value: holdings at latest quotes plus cash.
// Returns ErrBacktestUnavailable when no key is configured.
func (s *PortfolioService) GenerateBacktestSeed(ctx context.Context, userID, portfolioID string) (model.SealedBacktestSeed, error) {
	if s.seedKey == nil {
		return model.SealedBacktestSeed{}, apperrors.ErrBacktestUnavailable
	}

	portfolio, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID)
	if err != nil {
		return model.SealedBacktestSeed{}, err
	}
	holdingsValue, cash, err := s.allocation.CurrentValue(ctx, portfolioID)
	if err != nil {
		return model.SealedBacktestSeed{}, err
	}
	weights, err := s.allocation.TargetWeights(ctx, portfolioID)
	if err != nil {
		return model.SealedBacktestSeed{}, err
	}

	seed := model.BacktestSeed{
		PortfolioID:         portfolio.ID,
		InitialCapital:      roundMoney(holdingsValue.Add(cash)),
		MonthlyContribution: portfolio.MonthlyContribution,
		RebalanceFrequency:  portfolio.RebalanceFrequency,
		TargetWeights:       weights,
		AsOf:                s.now().UTC().Truncate(time.Second),
	}

	payload, err := json.Marshal(seed)
	if err != nil {
		return model.SealedBacktestSeed{}, fmt.Errorf("failed to encode backtest seed: %w", err)
	}
	token, err := fernet.EncryptAndSign(payload, s.seedKey)
	if err != nil {
		return model.SealedBacktestSeed{}, fmt.Errorf("failed to seal backtest seed: %w", err)
	}

	return model.SealedBacktestSeed{Seed: seed, Token: string(token)}, nil
}

// OpenBacktestSeed verifies a sealed seed and returns its content.
// Expired, tampered or foreign tokens are a validation error.
func (s *PortfolioService) OpenBacktestSeed(token string) (model.BacktestSeed, error) {
	if s.seedKey == nil {
		return model.BacktestSeed{}, apperrors.ErrBacktestUnavailable
	}

	payload := fernet.VerifyAndDecrypt([]byte(token), s.seedTTL, []*fernet.Key{s.seedKey})
	if payload == nil {
		return model.BacktestSeed{}, &validation.Error{Fields: map[string]string{"token": "token is invalid or expired"}}
	}

	var seed model.BacktestSeed
	if err := json.Unmarshal(payload, &seed); err != nil {
		return model.BacktestSeed{}, fmt.Errorf("failed to decode backtest seed: %w", err)
	}
	return seed, nil
}

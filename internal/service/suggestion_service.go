package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/validation"
)

// SuggestionService moves suggestions through their lifecycle: computed by the allocation
// engine, materialized as PENDING rows, then confirmed or rejected.
type SuggestionService struct {
	db              *sql.DB
	portfolioRepo   *repository.PortfolioRepository
	transactionRepo *repository.TransactionRepository
	allocation      *AllocationService
	ledger          *LedgerService
	logger          *log.Logger
	now             func() time.Time
}

// NewSuggestionService creates a new SuggestionService.
func NewSuggestionService(
	db *sql.DB,
	portfolioRepo *repository.PortfolioRepository,
	transactionRepo *repository.TransactionRepository,
	allocation *AllocationService,
	ledger *LedgerService,
	logger *log.Logger,
) *SuggestionService {
	return &SuggestionService{
		db:              db,
		portfolioRepo:   portfolioRepo,
		transactionRepo: transactionRepo,
		allocation:      allocation,
		ledger:          ledger,
		logger:          logger,
		now:             time.Now,
	}
}

// GetSuggestions computes the suggestions of one kind for a portfolio owned by userID.
// Nothing is written.
func (s *SuggestionService) GetSuggestions(ctx context.Context, userID, portfolioID string, kind model.SuggestionKind) (model.SuggestionSet, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return model.SuggestionSet{}, err
	}

	switch kind {
	case model.SuggestionRebalancing:
		return s.allocation.GetRebalancingSuggestions(ctx, portfolioID)
	case model.SuggestionContribution:
		suggestions, err := s.allocation.GetContributionSuggestions(ctx, portfolioID)
		if err != nil {
			return model.SuggestionSet{}, err
		}
		return model.SuggestionSet{Kind: kind, Suggestions: suggestions}, nil
	case model.SuggestionDividends:
		suggestions, err := s.allocation.GetDividendSuggestions(ctx, portfolioID)
		if err != nil {
			return model.SuggestionSet{}, err
		}
		return model.SuggestionSet{Kind: kind, Suggestions: suggestions}, nil
	}

	return model.SuggestionSet{}, &validation.Error{Fields: map[string]string{
		"type": fmt.Sprintf("unknown suggestion type: %s", kind),
	}}
}

// CreatePendingTransactions materializes suggestions of a portfolio owned by userID.
func (s *SuggestionService) CreatePendingTransactions(ctx context.Context, userID, portfolioID string, suggestions []model.Suggestion) ([]string, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	return s.materialize(ctx, portfolioID, suggestions)
}

// materialize inserts every suggestion as a PENDING auto-suggested row in one database
// transaction and returns the row ids in input order.
//
// A suggestion already pending with the same (date, type, ticker) is not inserted again; the id
// of the existing row is returned instead. When any MONTHLY_CONTRIBUTION is included the
// regeneration anchor moves to now.
func (s *SuggestionService) materialize(ctx context.Context, portfolioID string, suggestions []model.Suggestion) ([]string, error) {
	for i, sg := range suggestions {
		if err := validation.ValidateSuggestion(sg); err != nil {
			return nil, fmt.Errorf("suggestion %d: %w", i, err)
		}
	}

	var ids []string
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		txRepo := s.transactionRepo.WithTx(tx)
		pRepo := s.portfolioRepo.WithTx(tx)

		portfolio, err := pRepo.GetPortfolio(ctx, portfolioID)
		if err != nil {
			return err
		}

		ids = make([]string, 0, len(suggestions))
		contribution := false
		for _, sg := range suggestions {
			t := model.Transaction{
				PortfolioID:       portfolioID,
				Date:              truncateDay(sg.Date),
				Type:              sg.Type,
				Ticker:            strings.ToUpper(strings.TrimSpace(sg.Ticker)),
				Amount:            sg.Amount,
				Price:             sg.Price,
				Quantity:          sg.Quantity,
				CashBalanceBefore: sg.CashBalanceBefore,
				CashBalanceAfter:  sg.CashBalanceAfter,
				Notes:             sg.Reason,
			}
			if _, err := txRepo.InsertSuggestedTransaction(ctx, &t); err != nil {
				return err
			}
			ids = append(ids, t.ID)
			if sg.Type == model.TypeMonthlyContribution {
				contribution = true
			}
		}

		if contribution {
			now := s.now().UTC()
			if err := pRepo.SetLastSuggestionsGeneratedAt(ctx, portfolioID, &now); err != nil {
				return err
			}
		}
		return pRepo.BumpVersion(ctx, portfolioID, portfolio.Version)
	})
	if err != nil {
		return nil, err
	}

	return ids, nil
}

// ConfirmBatchTransactions confirms each item independently.
//
// A failing item never stops the batch. Portfolios touched by at least one confirmation get
// one audit replay and metrics refresh at the end. ErrBatchFailed is returned only when every
// item failed.
func (s *SuggestionService) ConfirmBatchTransactions(ctx context.Context, userID string, items []model.BatchConfirmItem) (model.BatchResult, error) {
	result := model.BatchResult{Items: []model.BatchItemResult{}}
	touched := []string{}
	seen := make(map[string]bool)

	for _, item := range items {
		t, err := s.ledger.confirm(ctx, userID, item.ID, item.Overrides)
		result.Add(item.ID, err)
		if err != nil {
			s.logger.Debug().Err(err).Str("transaction_id", item.ID).Msg("batch confirm item failed")
			continue
		}
		if !seen[t.PortfolioID] {
			seen[t.PortfolioID] = true
			touched = append(touched, t.PortfolioID)
		}
	}

	for _, portfolioID := range touched {
		s.ledger.refreshAfterMutation(ctx, portfolioID)
	}

	if result.AllFailed() {
		return result, apperrors.ErrBatchFailed
	}
	return result, nil
}

// RejectTransactionsBatch rejects each id independently with the same reason.
// ErrBatchFailed is returned only when every item failed.
func (s *SuggestionService) RejectTransactionsBatch(ctx context.Context, userID string, ids []string, reason string) (model.BatchResult, error) {
	result := model.BatchResult{Items: []model.BatchItemResult{}}
	for _, id := range ids {
		_, err := s.ledger.RejectTransaction(ctx, userID, id, reason)
		result.Add(id, err)
	}
	if result.AllFailed() {
		return result, apperrors.ErrBatchFailed
	}
	return result, nil
}

// DeletePendingTransactions hard-deletes every PENDING row of a portfolio, user-entered ones
// included, and returns how many were removed.
func (s *SuggestionService) DeletePendingTransactions(ctx context.Context, portfolioID string) (int64, error) {
	return s.transactionRepo.DeletePendingTransactions(ctx, portfolioID, false)
}

// DeletePendingTransactionsForUser runs DeletePendingTransactions on a portfolio owned by userID.
func (s *SuggestionService) DeletePendingTransactionsForUser(ctx context.Context, userID, portfolioID string) (int64, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return 0, err
	}
	return s.DeletePendingTransactions(ctx, portfolioID)
}

// ExecuteRebalancing materializes the current rebalancing suggestions and confirms them,
// sells before buys so their proceeds fund the buys.
//
// Returns a validation error when rebalancing is blocked by pending contributions.
func (s *SuggestionService) ExecuteRebalancing(ctx context.Context, userID, portfolioID string) (model.BatchResult, error) {
	set, err := s.GetSuggestions(ctx, userID, portfolioID, model.SuggestionRebalancing)
	if err != nil {
		return model.BatchResult{}, err
	}
	if set.BlockedReason != "" {
		return model.BatchResult{}, &validation.Error{Fields: map[string]string{"rebalancing": set.BlockedReason}}
	}
	if len(set.Suggestions) == 0 {
		return model.BatchResult{Items: []model.BatchItemResult{}}, nil
	}

	ids, err := s.materialize(ctx, portfolioID, set.Suggestions)
	if err != nil {
		return model.BatchResult{}, err
	}

	sells := make([]model.BatchConfirmItem, 0, len(ids))
	buys := make([]model.BatchConfirmItem, 0, len(ids))
	for i, id := range ids {
		if set.Suggestions[i].Type.ShareSign() < 0 {
			sells = append(sells, model.BatchConfirmItem{ID: id})
		} else {
			buys = append(buys, model.BatchConfirmItem{ID: id})
		}
	}

	return s.ConfirmBatchTransactions(ctx, userID, append(sells, buys...))
}

package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/phuslu/log"
	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/validation"
)

// LedgerService owns the cash balance and the status lifecycle of transactions.
//
// The live cash balance is never stored: it is the signed sum of CONFIRMED and EXECUTED rows.
// Every confirmation re-checks that balance inside the same database transaction that
// changes the status, so a debit can never drive it negative.
type LedgerService struct {
	db              *sql.DB
	portfolioRepo   *repository.PortfolioRepository
	transactionRepo *repository.TransactionRepository
	outboxRepo      *repository.OutboxRepository
	prices          PriceProvider
	metrics         *MetricsService
	logger          *log.Logger
	now             func() time.Time
}

// NewLedgerService creates a new LedgerService.
func NewLedgerService(
	db *sql.DB,
	portfolioRepo *repository.PortfolioRepository,
	transactionRepo *repository.TransactionRepository,
	outboxRepo *repository.OutboxRepository,
	prices PriceProvider,
	metrics *MetricsService,
	logger *log.Logger,
) *LedgerService {
	return &LedgerService{
		db:              db,
		portfolioRepo:   portfolioRepo,
		transactionRepo: transactionRepo,
		outboxRepo:      outboxRepo,
		prices:          prices,
		metrics:         metrics,
		logger:          logger,
		now:             time.Now,
	}
}

// GetCurrentCashBalance returns the signed sum of every settled transaction of a portfolio.
func (s *LedgerService) GetCurrentCashBalance(ctx context.Context, portfolioID string) (decimal.Decimal, error) {
	balance, err := s.transactionRepo.SumSettledCash(ctx, portfolioID)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveBalance, err)
	}
	return balance, nil
}

// GetCashBalance returns the cash balance of a portfolio owned by userID.
func (s *LedgerService) GetCashBalance(ctx context.Context, userID, portfolioID string) (decimal.Decimal, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return decimal.Zero, err
	}
	return s.GetCurrentCashBalance(ctx, portfolioID)
}

// RecalculateCashBalances replays the settled ledger in (date, seq) order and rewrites the
// advisory before/after balance of every settled row. The live balance is unaffected.
func (s *LedgerService) RecalculateCashBalances(ctx context.Context, portfolioID string) error {
	return runTx(ctx, s.db, func(tx *sql.Tx) error {
		txRepo := s.transactionRepo.WithTx(tx)

		transactions, err := txRepo.ListSettledTransactions(ctx, portfolioID)
		if err != nil {
			return err
		}

		balance := decimal.Zero
		for _, t := range transactions {
			after := balance.Add(t.SignedAmount())
			if err := txRepo.UpdateBalanceSnapshot(ctx, t.ID, balance, after); err != nil {
				return err
			}
			balance = after
		}
		return nil
	})
}

// RecalculateCashBalancesForUser runs RecalculateCashBalances on a portfolio owned by userID
// and returns the resulting balance.
func (s *LedgerService) RecalculateCashBalancesForUser(ctx context.Context, userID, portfolioID string) (decimal.Decimal, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return decimal.Zero, err
	}
	if err := s.RecalculateCashBalances(ctx, portfolioID); err != nil {
		return decimal.Zero, err
	}
	return s.GetCurrentCashBalance(ctx, portfolioID)
}

// ListTransactions returns the ledger of a portfolio owned by userID, optionally filtered by status.
func (s *LedgerService) ListTransactions(ctx context.Context, userID, portfolioID string, status *model.TransactionStatus) ([]model.Transaction, error) {
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return nil, err
	}
	if status != nil && !status.Valid() {
		return nil, &validation.Error{Fields: map[string]string{"status": fmt.Sprintf("invalid status: %s", *status)}}
	}
	transactions, err := s.transactionRepo.ListTransactions(ctx, portfolioID, model.TransactionFilter{Status: status})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrFailedToRetrieveTransactions, err)
	}
	return transactions, nil
}

// authorizeTransaction loads a transaction and verifies that its portfolio belongs to userID.
// A transaction of another user's portfolio is reported as not found.
func (s *LedgerService) authorizeTransaction(ctx context.Context, userID, transactionID string) (model.Transaction, error) {
	t, err := s.transactionRepo.GetTransaction(ctx, transactionID)
	if err != nil {
		return model.Transaction{}, err
	}
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, t.PortfolioID); err != nil {
		if errors.Is(err, apperrors.ErrPortfolioNotFound) {
			return model.Transaction{}, apperrors.ErrTransactionNotFound
		}
		return model.Transaction{}, err
	}
	return t, nil
}

// ConfirmTransaction settles a PENDING transaction.
//
// Overrides replace the suggested amount, price, quantity or date with the values actually
// executed; when only price or quantity is overridden the amount becomes price × quantity.
// With overrides.Executed the row becomes EXECUTED instead of CONFIRMED.
//
// The balance check, status change, portfolio version bump, anchor reset and regeneration
// enqueue are committed together. Audit replay and metrics refresh run afterwards and only log
// on failure.
//
// Errors:
//   - ErrTransactionNotFound: unknown id or another user's portfolio
//   - ErrTransactionNotPending: already CONFIRMED, EXECUTED or REJECTED
//   - ErrInsufficientFunds: the debit exceeds the live cash balance
func (s *LedgerService) ConfirmTransaction(ctx context.Context, userID, transactionID string, overrides *model.ConfirmOverrides) (model.Transaction, error) {
	t, err := s.confirm(ctx, userID, transactionID, overrides)
	if err != nil {
		return model.Transaction{}, err
	}
	s.refreshAfterMutation(ctx, t.PortfolioID)
	return t, nil
}

// confirm runs the transactional part of ConfirmTransaction without the follow-up refresh.
func (s *LedgerService) confirm(ctx context.Context, userID, transactionID string, overrides *model.ConfirmOverrides) (model.Transaction, error) {
	if err := validation.ValidateConfirmOverrides(overrides); err != nil {
		return model.Transaction{}, err
	}
	if _, err := s.authorizeTransaction(ctx, userID, transactionID); err != nil {
		return model.Transaction{}, err
	}

	var confirmed model.Transaction
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		txRepo := s.transactionRepo.WithTx(tx)

		t, err := txRepo.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status != model.StatusPending {
			return fmt.Errorf("%w: status is %s", apperrors.ErrTransactionNotPending, t.Status)
		}

		applyOverrides(&t, overrides)
		t.Status = model.StatusConfirmed
		if overrides != nil && overrides.Executed {
			t.Status = model.StatusExecuted
		}

		if err := s.settle(ctx, tx, &t, model.ReasonTransactionConfirmed); err != nil {
			return err
		}
		confirmed = t
		return nil
	})
	if err != nil {
		return model.Transaction{}, err
	}

	s.logger.Info().
		Str("transaction_id", confirmed.ID).
		Str("portfolio_id", confirmed.PortfolioID).
		Str("type", string(confirmed.Type)).
		Str("amount", confirmed.Amount.String()).
		Msg("transaction confirmed")

	return confirmed, nil
}

// settle checks the balance for t, writes its snapshot and final status, then bumps the
// portfolio version, resets the regeneration anchor and enqueues regeneration.
// t.Status must already hold the target status. Must run inside tx.
func (s *LedgerService) settle(ctx context.Context, tx *sql.Tx, t *model.Transaction, reason model.RegenerationReason) error {
	txRepo := s.transactionRepo.WithTx(tx)
	pRepo := s.portfolioRepo.WithTx(tx)

	portfolio, err := pRepo.GetPortfolio(ctx, t.PortfolioID)
	if err != nil {
		return err
	}

	if t.Type.ShareSign() < 0 {
		if err := checkHeldQuantity(ctx, txRepo, t); err != nil {
			return err
		}
	}

	before, err := txRepo.SumSettledCash(ctx, t.PortfolioID)
	if err != nil {
		return err
	}
	after := before.Add(t.SignedAmount())
	if t.Type.CashSign() < 0 && after.IsNegative() {
		return fmt.Errorf("%w: balance %s, required %s", apperrors.ErrInsufficientFunds, before.StringFixed(MoneyPlaces), t.Amount.StringFixed(MoneyPlaces))
	}
	t.CashBalanceBefore = decimal.NewNullDecimal(before)
	t.CashBalanceAfter = decimal.NewNullDecimal(after)

	if t.Seq == 0 {
		if err := txRepo.InsertTransaction(ctx, t); err != nil {
			return err
		}
	} else if err := txRepo.SettleTransaction(ctx, t); err != nil {
		return err
	}

	return markPortfolioChanged(ctx, pRepo, s.outboxRepo.WithTx(tx), portfolio, reason, s.now())
}

// checkHeldQuantity fails when the sell t would dispose of more units of its ticker than the
// settled ledger holds.
func checkHeldQuantity(ctx context.Context, txRepo *repository.TransactionRepository, t *model.Transaction) error {
	settled, err := txRepo.ListSettledTransactions(ctx, t.PortfolioID)
	if err != nil {
		return err
	}

	held := decimal.Zero
	if p, ok := buildPositions(settled)[t.Ticker]; ok {
		held = p.quantity
	}
	if t.Quantity.Decimal.GreaterThan(held) {
		return fmt.Errorf("%w: %s held %s, selling %s", apperrors.ErrInsufficientShares, t.Ticker, held.String(), t.Quantity.Decimal.String())
	}
	return nil
}

// applyOverrides writes user-entered execution values onto t.
func applyOverrides(t *model.Transaction, o *model.ConfirmOverrides) {
	if o == nil {
		return
	}
	if o.Price != nil {
		t.Price = decimal.NewNullDecimal(*o.Price)
	}
	if o.Quantity != nil {
		t.Quantity = decimal.NewNullDecimal(*o.Quantity)
	}

	switch {
	case o.Amount != nil:
		t.Amount = *o.Amount
	case (o.Price != nil || o.Quantity != nil) && t.Price.Valid && t.Quantity.Valid:
		t.Amount = roundMoney(t.Price.Decimal.Mul(t.Quantity.Decimal))
	}
}

// RejectTransaction moves a PENDING transaction to REJECTED and appends reason to its notes.
// Rejection has no balance effect.
func (s *LedgerService) RejectTransaction(ctx context.Context, userID, transactionID, reason string) (model.Transaction, error) {
	if _, err := s.authorizeTransaction(ctx, userID, transactionID); err != nil {
		return model.Transaction{}, err
	}

	var rejected model.Transaction
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		txRepo := s.transactionRepo.WithTx(tx)

		t, err := txRepo.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if t.Status != model.StatusPending {
			return fmt.Errorf("%w: status is %s", apperrors.ErrTransactionNotPending, t.Status)
		}

		t.Status = model.StatusRejected
		t.Notes = appendNote(t.Notes, "rejected: "+strings.TrimSpace(reason))
		if err := txRepo.SettleTransaction(ctx, &t); err != nil {
			return err
		}
		rejected = t
		return nil
	})
	if err != nil {
		return model.Transaction{}, err
	}
	return rejected, nil
}

func appendNote(notes, note string) string {
	if notes == "" {
		return note
	}
	return notes + "\n" + note
}

// CreateManualTransaction records a user-entered transaction.
//
// Tickers are validated with the price provider before anything is written. The row is
// CONFIRMED unless req.Pending is set; a confirmed debit obeys the same balance check as
// ConfirmTransaction.
func (s *LedgerService) CreateManualTransaction(ctx context.Context, userID, portfolioID string, req model.NewTransaction) (model.Transaction, error) {
	if err := validation.ValidateNewTransaction(req); err != nil {
		return model.Transaction{}, err
	}
	if _, err := s.portfolioRepo.GetPortfolioForUser(ctx, userID, portfolioID); err != nil {
		return model.Transaction{}, err
	}

	ticker := strings.ToUpper(strings.TrimSpace(req.Ticker))
	if ticker != "" {
		if err := s.prices.ValidateTicker(ctx, ticker); err != nil {
			return model.Transaction{}, err
		}
	}

	t := model.Transaction{
		PortfolioID: portfolioID,
		Date:        truncateDay(req.Date),
		Type:        req.Type,
		Ticker:      ticker,
		Amount:      req.Amount,
		Notes:       req.Notes,
	}
	if req.Price != nil {
		t.Price = decimal.NewNullDecimal(*req.Price)
	}
	if req.Quantity != nil {
		t.Quantity = decimal.NewNullDecimal(*req.Quantity)
	}
	if t.Amount.IsZero() && t.Price.Valid && t.Quantity.Valid {
		t.Amount = roundMoney(t.Price.Decimal.Mul(t.Quantity.Decimal))
	}

	if req.Pending {
		t.Status = model.StatusPending
		if err := s.transactionRepo.InsertTransaction(ctx, &t); err != nil {
			return model.Transaction{}, err
		}
		return t, nil
	}

	t.Status = model.StatusConfirmed
	err := withTx(ctx, s.db, func(tx *sql.Tx) error {
		t.ID = ""
		t.Seq = 0
		return s.settle(ctx, tx, &t, model.ReasonTransactionConfirmed)
	})
	if err != nil {
		return model.Transaction{}, err
	}

	s.refreshAfterMutation(ctx, portfolioID)
	return t, nil
}

// refreshAfterMutation rebuilds the audit snapshots and metrics of a portfolio after a
// committed change. Failures are logged and never returned.
func (s *LedgerService) refreshAfterMutation(ctx context.Context, portfolioID string) {
	if err := s.RecalculateCashBalances(ctx, portfolioID); err != nil {
		s.logger.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("failed to recalculate cash balances")
	}
	if s.metrics == nil {
		return
	}
	if _, err := s.metrics.UpdateMetrics(ctx, portfolioID); err != nil {
		s.logger.Warn().Err(err).Str("portfolio_id", portfolioID).Msg("failed to update metrics")
	}
}

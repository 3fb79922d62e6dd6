package service_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/testutil"
)

// TestLedgerService_CreateManualTransaction tests recording user-entered transactions.
//
// WHY: manual entries are the main way cash enters the ledger. A confirmed entry must move
// the live balance, queue regeneration and refresh metrics in one step, and a debit must
// never drive the balance below zero.
func TestLedgerService_CreateManualTransaction(t *testing.T) {
	t.Run("confirmed deposit moves the balance", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)

		tx, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, model.NewTransaction{
			Date:   testutil.Date(2024, 1, 1),
			Type:   model.TypeCashCredit,
			Amount: dec("1000"),
		})
		require.NoError(t, err)

		assert.Equal(t, model.StatusConfirmed, tx.Status)
		assert.False(t, tx.IsAutoSuggested)
		assert.True(t, tx.CashBalanceBefore.Decimal.IsZero())
		assert.True(t, tx.CashBalanceAfter.Decimal.Equal(dec("1000")))

		balance, err := f.svc.Ledger.GetCurrentCashBalance(f.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("1000")))

		assert.Equal(t, int64(1), testutil.GetPortfolio(t, f.db, p.ID).Version)
		testutil.AssertRowCount(t, f.db, "regeneration_task", 1)
		testutil.AssertRowCount(t, f.db, "portfolio_metrics", 1)
	})

	t.Run("buy amount derived from price and quantity", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)
		testutil.NewTransaction(p.ID).Deposit("1000").Build(t, f.db)

		tx, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, model.NewTransaction{
			Date:     testutil.Date(2024, 1, 2),
			Type:     model.TypeBuy,
			Ticker:   "a",
			Price:    decPtr("100"),
			Quantity: decPtr("4"),
		})
		require.NoError(t, err)

		assert.Equal(t, "A", tx.Ticker)
		assert.True(t, tx.Amount.Equal(dec("400")))
		assert.True(t, tx.CashBalanceAfter.Decimal.Equal(dec("600")))
	})

	t.Run("debit beyond balance is rejected", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)
		testutil.NewTransaction(p.ID).Deposit("1000").Build(t, f.db)

		_, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, model.NewTransaction{
			Date:   testutil.Date(2024, 1, 2),
			Type:   model.TypeCashDebit,
			Amount: dec("1000.01"),
		})

		assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		testutil.AssertRowCount(t, f.db, `"transaction"`, 1)
		testutil.AssertRowCount(t, f.db, "regeneration_task", 0)
	})

	t.Run("sell beyond held shares is rejected", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)
		testutil.NewTransaction(p.ID).Deposit("1000").Build(t, f.db)
		testutil.NewTransaction(p.ID).Buy("A", "100", "2").On(testutil.Date(2024, 1, 2)).Build(t, f.db)

		_, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, model.NewTransaction{
			Date:     testutil.Date(2024, 1, 3),
			Type:     model.TypeSellWithdrawal,
			Ticker:   "A",
			Price:    decPtr("100"),
			Quantity: decPtr("3"),
		})

		assert.ErrorIs(t, err, apperrors.ErrInsufficientShares)
		testutil.AssertRowCount(t, f.db, `"transaction"`, 2)
		balance, err := f.svc.Ledger.GetCurrentCashBalance(f.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("800")))
	})

	t.Run("pending entry leaves the balance alone", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)

		tx, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, model.NewTransaction{
			Date:    testutil.Date(2024, 1, 1),
			Type:    model.TypeCashCredit,
			Amount:  dec("250"),
			Pending: true,
		})
		require.NoError(t, err)

		assert.Equal(t, model.StatusPending, tx.Status)
		balance, err := f.svc.Ledger.GetCurrentCashBalance(f.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())
	})

	t.Run("invalid input", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)

		tests := []struct {
			name string
			req  model.NewTransaction
		}{
			{"buy without ticker", model.NewTransaction{Date: testutil.Date(2024, 1, 1), Type: model.TypeBuy, Amount: dec("10"), Quantity: decPtr("1")}},
			{"deposit with ticker", model.NewTransaction{Date: testutil.Date(2024, 1, 1), Type: model.TypeCashCredit, Ticker: "A", Amount: dec("10")}},
			{"unknown type", model.NewTransaction{Date: testutil.Date(2024, 1, 1), Type: "GIFT", Amount: dec("10")}},
			{"missing date", model.NewTransaction{Type: model.TypeCashCredit, Amount: dec("10")}},
			{"zero amount", model.NewTransaction{Date: testutil.Date(2024, 1, 1), Type: model.TypeCashCredit}},
			{"negative amount", model.NewTransaction{Date: testutil.Date(2024, 1, 1), Type: model.TypeCashCredit, Amount: dec("-5")}},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, tt.req)
				assert.ErrorIs(t, err, apperrors.ErrValidation)
			})
		}
	})

	t.Run("unknown ticker", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)
		testutil.NewTransaction(p.ID).Deposit("1000").Build(t, f.db)

		_, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, model.NewTransaction{
			Date:     testutil.Date(2024, 1, 2),
			Type:     model.TypeBuy,
			Ticker:   "NOPE",
			Amount:   dec("100"),
			Quantity: decPtr("1"),
		})
		assert.ErrorIs(t, err, apperrors.ErrInvalidTicker)
	})
}

// TestLedgerService_ConfirmTransaction tests the PENDING to CONFIRMED/EXECUTED transition.
//
// WHY: confirmation is the only path by which suggestions affect cash. Each row may settle
// exactly once, and the balance check must see every previously settled row.
func TestLedgerService_ConfirmTransaction(t *testing.T) {
	setup := func(t *testing.T) (*fixture, model.Portfolio, model.Transaction) {
		f := newFixture(t)
		p := testutil.NewPortfolio(f.user.ID).WithAsset("A", 1).Build(t, f.db)
		testutil.NewTransaction(p.ID).Deposit("1000").Build(t, f.db)
		pending := testutil.NewTransaction(p.ID).Buy("A", "100", "5").On(testutil.Date(2024, 1, 2)).Pending().AutoSuggested().Build(t, f.db)
		return f, p, pending
	}

	t.Run("confirms with a balance snapshot", func(t *testing.T) {
		f, p, pending := setup(t)

		tx, err := f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, model.StatusConfirmed, tx.Status)
		assert.True(t, tx.CashBalanceBefore.Decimal.Equal(dec("1000")))
		assert.True(t, tx.CashBalanceAfter.Decimal.Equal(dec("500")))

		balance, err := f.svc.Ledger.GetCurrentCashBalance(f.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("500")))
		testutil.AssertRowCount(t, f.db, "regeneration_task", 1)
		assert.Nil(t, testutil.GetPortfolio(t, f.db, p.ID).LastSuggestionsGeneratedAt)
	})

	t.Run("second confirmation fails", func(t *testing.T) {
		f, _, pending := setup(t)

		_, err := f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, nil)
		require.NoError(t, err)
		_, err = f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, nil)

		assert.ErrorIs(t, err, apperrors.ErrTransactionNotPending)
	})

	t.Run("overrides replace execution values", func(t *testing.T) {
		f, p, pending := setup(t)

		tx, err := f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, &model.ConfirmOverrides{
			Price:    decPtr("90"),
			Executed: true,
		})
		require.NoError(t, err)

		assert.Equal(t, model.StatusExecuted, tx.Status)
		assert.True(t, tx.Amount.Equal(dec("450")))
		stored := testutil.GetTransaction(t, f.db, pending.ID)
		assert.True(t, stored.Price.Decimal.Equal(dec("90")))

		balance, err := f.svc.Ledger.GetCurrentCashBalance(f.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("550")))
	})

	t.Run("invalid overrides", func(t *testing.T) {
		f, _, pending := setup(t)

		_, err := f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, &model.ConfirmOverrides{Quantity: decPtr("0")})

		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, model.StatusPending, testutil.GetTransaction(t, f.db, pending.ID).Status)
	})

	t.Run("insufficient funds keeps the row pending", func(t *testing.T) {
		f, _, pending := setup(t)

		_, err := f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, &model.ConfirmOverrides{Amount: decPtr("5000")})

		assert.ErrorIs(t, err, apperrors.ErrInsufficientFunds)
		assert.Equal(t, model.StatusPending, testutil.GetTransaction(t, f.db, pending.ID).Status)
		testutil.AssertRowCount(t, f.db, "regeneration_task", 0)
	})

	// WHY: a sell suggested while the shares were held may be confirmed after they were sold
	// elsewhere. Settling it anyway would credit cash for units that no longer exist.
	t.Run("sell of shares sold in the meantime fails", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.NewPortfolio(f.user.ID).WithAsset("A", 1).Build(t, f.db)
		testutil.NewTransaction(p.ID).Deposit("800").Build(t, f.db)
		testutil.NewTransaction(p.ID).Buy("A", "100", "8").Build(t, f.db)
		pending := testutil.NewTransaction(p.ID).Sell("A", "100", "3").WithType(model.TypeSellRebalance).
			On(testutil.Date(2024, 1, 2)).Pending().AutoSuggested().Build(t, f.db)

		_, err := f.svc.Ledger.CreateManualTransaction(f.ctx, f.user.ID, p.ID, model.NewTransaction{
			Date:     testutil.Date(2024, 1, 2),
			Type:     model.TypeSellWithdrawal,
			Ticker:   "A",
			Price:    decPtr("100"),
			Quantity: decPtr("8"),
		})
		require.NoError(t, err)

		_, err = f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, nil)

		assert.ErrorIs(t, err, apperrors.ErrInsufficientShares)
		assert.Equal(t, model.StatusPending, testutil.GetTransaction(t, f.db, pending.ID).Status)
		balance, err := f.svc.Ledger.GetCurrentCashBalance(f.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, balance.Equal(dec("800")))
	})

	t.Run("sell within held shares settles", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.NewPortfolio(f.user.ID).WithAsset("A", 1).Build(t, f.db)
		testutil.NewTransaction(p.ID).Deposit("800").Build(t, f.db)
		testutil.NewTransaction(p.ID).Buy("A", "100", "8").Build(t, f.db)
		pending := testutil.NewTransaction(p.ID).Sell("A", "100", "8").On(testutil.Date(2024, 1, 2)).Pending().Build(t, f.db)

		tx, err := f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, nil)
		require.NoError(t, err)

		assert.Equal(t, model.StatusConfirmed, tx.Status)
		assert.True(t, tx.CashBalanceAfter.Decimal.Equal(dec("800")))
	})

	// WHY: transactions of other users must be indistinguishable from missing ones.
	t.Run("other user's transaction is not found", func(t *testing.T) {
		f, _, pending := setup(t)
		other := testutil.CreateUser(t, f.db)

		_, err := f.svc.Ledger.ConfirmTransaction(f.ctx, other.ID, pending.ID, nil)
		assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)

		_, err = f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, testutil.MakeID(), nil)
		assert.ErrorIs(t, err, apperrors.ErrTransactionNotFound)
	})
}

func TestLedgerService_RejectTransaction(t *testing.T) {
	t.Run("rejects and records the reason", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)
		pending := testutil.NewTransaction(p.ID).Deposit("300").Pending().Build(t, f.db)

		tx, err := f.svc.Ledger.RejectTransaction(f.ctx, f.user.ID, pending.ID, "skipped this month")
		require.NoError(t, err)

		assert.Equal(t, model.StatusRejected, tx.Status)
		assert.Contains(t, tx.Notes, "skipped this month")
		balance, err := f.svc.Ledger.GetCurrentCashBalance(f.ctx, p.ID)
		require.NoError(t, err)
		assert.True(t, balance.IsZero())

		_, err = f.svc.Ledger.ConfirmTransaction(f.ctx, f.user.ID, pending.ID, nil)
		assert.ErrorIs(t, err, apperrors.ErrTransactionNotPending)
	})

	t.Run("settled rows cannot be rejected", func(t *testing.T) {
		f := newFixture(t)
		p := testutil.CreatePortfolio(t, f.db, f.user.ID)
		confirmed := testutil.NewTransaction(p.ID).Deposit("300").Build(t, f.db)

		_, err := f.svc.Ledger.RejectTransaction(f.ctx, f.user.ID, confirmed.ID, "")
		assert.ErrorIs(t, err, apperrors.ErrTransactionNotPending)
	})
}

// TestLedgerService_RecalculateCashBalances tests the audit replay of balance snapshots.
//
// WHY: snapshots are written at confirmation time, so rows back-dated later leave them stale.
// The replay must order by date first and sequence second.
func TestLedgerService_RecalculateCashBalances(t *testing.T) {
	f := newFixture(t)
	p := testutil.CreatePortfolio(t, f.db, f.user.ID)
	first := testutil.NewTransaction(p.ID).Deposit("1000").On(testutil.Date(2024, 1, 1)).Build(t, f.db)
	buy := testutil.NewTransaction(p.ID).Buy("A", "100", "2").On(testutil.Date(2024, 2, 1)).Build(t, f.db)
	backdated := testutil.NewTransaction(p.ID).Deposit("300").On(testutil.Date(2024, 1, 15)).Build(t, f.db)
	testutil.NewTransaction(p.ID).Deposit("999").Rejected().Build(t, f.db)

	balance, err := f.svc.Ledger.RecalculateCashBalancesForUser(f.ctx, f.user.ID, p.ID)
	require.NoError(t, err)
	assert.True(t, balance.Equal(dec("1100")))

	tests := []struct {
		id            string
		before, after string
	}{
		{first.ID, "0", "1000"},
		{backdated.ID, "1000", "1300"},
		{buy.ID, "1300", "1100"},
	}
	for _, tt := range tests {
		stored := testutil.GetTransaction(t, f.db, tt.id)
		assert.True(t, stored.CashBalanceBefore.Decimal.Equal(dec(tt.before)), "before of %s", stored.Type)
		assert.True(t, stored.CashBalanceAfter.Decimal.Equal(dec(tt.after)), "after of %s", stored.Type)
	}
}

func TestLedgerService_ListTransactions(t *testing.T) {
	f := newFixture(t)
	p := testutil.CreatePortfolio(t, f.db, f.user.ID)
	testutil.NewTransaction(p.ID).Deposit("1000").Build(t, f.db)
	testutil.NewTransaction(p.ID).Deposit("200").Pending().Build(t, f.db)

	t.Run("all rows", func(t *testing.T) {
		txs, err := f.svc.Ledger.ListTransactions(f.ctx, f.user.ID, p.ID, nil)
		require.NoError(t, err)
		assert.Len(t, txs, 2)
	})

	t.Run("filtered by status", func(t *testing.T) {
		txs, err := f.svc.Ledger.ListTransactions(f.ctx, f.user.ID, p.ID, statusPtr(model.StatusPending))
		require.NoError(t, err)
		require.Len(t, txs, 1)
		assert.True(t, txs[0].Amount.Equal(dec("200")))
	})

	t.Run("invalid status", func(t *testing.T) {
		_, err := f.svc.Ledger.ListTransactions(f.ctx, f.user.ID, p.ID, statusPtr("DONE"))
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("other user's portfolio", func(t *testing.T) {
		other := testutil.CreateUser(t, f.db)
		_, err := f.svc.Ledger.ListTransactions(f.ctx, other.ID, p.ID, nil)
		assert.ErrorIs(t, err, apperrors.ErrPortfolioNotFound)

		_, err = f.svc.Ledger.GetCashBalance(f.ctx, other.ID, p.ID)
		assert.ErrorIs(t, err, apperrors.ErrPortfolioNotFound)
	})
}

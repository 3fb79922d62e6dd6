package testutil

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
)

// CreateUser registers a non-premium user and returns it.
func CreateUser(t *testing.T, db *sql.DB) model.User {
	t.Helper()

	user, err := repository.NewUserRepository(db).EnsureUser(context.Background(), MakeID())
	if err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	return user
}

// CreatePremiumUser registers a premium user and returns it.
func CreatePremiumUser(t *testing.T, db *sql.DB) model.User {
	t.Helper()

	user := CreateUser(t, db)
	if err := repository.NewUserRepository(db).SetPremium(context.Background(), user.ID, true); err != nil {
		t.Fatalf("Failed to set premium: %v", err)
	}
	user.IsPremium = true
	return user
}

// PortfolioBuilder provides a fluent interface for creating test portfolios.
//
// Example usage:
//
//	// Simple creation with defaults
//	portfolio := testutil.NewPortfolio(user.ID).Build(t, db)
//
//	// Customized portfolio
//	portfolio := testutil.NewPortfolio(user.ID).
//	    WithAsset("VTI", 0.6).
//	    WithAsset("BND", 0.4).
//	    Tracking(testutil.Date(2024, 1, 1)).
//	    Build(t, db)
type PortfolioBuilder struct {
	ID                  string
	UserID              string
	Name                string
	StartDate           *time.Time
	MonthlyContribution decimal.Decimal
	RebalanceFrequency  model.RebalanceFrequency
	TrackingStarted     bool
	Assets              []model.AssetAllocation
}

// NewPortfolio creates a PortfolioBuilder with sensible defaults: no assets, a monthly
// contribution of 1000 and tracking off.
func NewPortfolio(userID string) *PortfolioBuilder {
	return &PortfolioBuilder{
		ID:                  MakeID(),
		UserID:              userID,
		Name:                MakePortfolioName("Test Portfolio"),
		MonthlyContribution: decimal.NewFromInt(1000),
		RebalanceFrequency:  model.FrequencyMonthly,
	}
}

// WithName sets a custom name.
func (b *PortfolioBuilder) WithName(name string) *PortfolioBuilder {
	b.Name = name
	return b
}

// WithContribution sets the monthly contribution.
func (b *PortfolioBuilder) WithContribution(amount string) *PortfolioBuilder {
	b.MonthlyContribution = decimal.RequireFromString(amount)
	return b
}

// WithFrequency sets the rebalance frequency.
func (b *PortfolioBuilder) WithFrequency(f model.RebalanceFrequency) *PortfolioBuilder {
	b.RebalanceFrequency = f
	return b
}

// WithAsset adds a target allocation line. Weights are stored as given.
func (b *PortfolioBuilder) WithAsset(ticker string, weight float64) *PortfolioBuilder {
	b.Assets = append(b.Assets, model.AssetAllocation{Ticker: ticker, TargetWeight: weight})
	return b
}

// Tracking starts contribution tracking from start.
func (b *PortfolioBuilder) Tracking(start time.Time) *PortfolioBuilder {
	b.StartDate = &start
	b.TrackingStarted = true
	return b
}

// Build creates the portfolio and its allocation in the database and returns it.
func (b *PortfolioBuilder) Build(t *testing.T, db *sql.DB) model.Portfolio {
	t.Helper()
	ctx := context.Background()

	p := model.Portfolio{
		ID:                  b.ID,
		UserID:              b.UserID,
		Name:                b.Name,
		StartDate:           b.StartDate,
		MonthlyContribution: b.MonthlyContribution,
		RebalanceFrequency:  b.RebalanceFrequency,
		TrackingStarted:     b.TrackingStarted,
		CreatedAt:           time.Now().UTC(),
	}
	if err := repository.NewPortfolioRepository(db).InsertPortfolio(ctx, &p); err != nil {
		t.Fatalf("Failed to create portfolio: %v", err)
	}

	allocationRepo := repository.NewAllocationRepository(db)
	for _, a := range b.Assets {
		a.PortfolioID = p.ID
		if err := allocationRepo.InsertAllocation(ctx, &a); err != nil {
			t.Fatalf("Failed to create allocation %s: %v", a.Ticker, err)
		}
	}

	return p
}

// CreatePortfolio creates a portfolio with default values for userID.
func CreatePortfolio(t *testing.T, db *sql.DB, userID string) model.Portfolio {
	t.Helper()
	return NewPortfolio(userID).Build(t, db)
}

// TransactionBuilder provides a fluent interface for creating ledger rows.
//
// Example usage:
//
//	testutil.NewTransaction(p.ID).Deposit("1000").Build(t, db)
//	testutil.NewTransaction(p.ID).Buy("VTI", "100", "5").On(testutil.Date(2024, 2, 1)).Build(t, db)
//	testutil.NewTransaction(p.ID).Deposit("500").Pending().AutoSuggested().Build(t, db)
type TransactionBuilder struct {
	tx model.Transaction
}

// NewTransaction creates a TransactionBuilder for a CONFIRMED cash credit of 1000 dated 2024-01-01.
func NewTransaction(portfolioID string) *TransactionBuilder {
	return &TransactionBuilder{tx: model.Transaction{
		PortfolioID: portfolioID,
		Date:        Date(2024, 1, 1),
		Type:        model.TypeCashCredit,
		Amount:      decimal.NewFromInt(1000),
		Status:      model.StatusConfirmed,
	}}
}

// Deposit makes the row a CASH_CREDIT of amount.
func (b *TransactionBuilder) Deposit(amount string) *TransactionBuilder {
	b.tx.Type = model.TypeCashCredit
	b.tx.Ticker = ""
	b.tx.Amount = decimal.RequireFromString(amount)
	return b
}

// Buy makes the row a BUY of quantity shares at price. The amount is price × quantity.
func (b *TransactionBuilder) Buy(ticker, price, quantity string) *TransactionBuilder {
	return b.trade(model.TypeBuy, ticker, price, quantity)
}

// Sell makes the row a SELL_WITHDRAWAL of quantity shares at price.
func (b *TransactionBuilder) Sell(ticker, price, quantity string) *TransactionBuilder {
	return b.trade(model.TypeSellWithdrawal, ticker, price, quantity)
}

func (b *TransactionBuilder) trade(typ model.TransactionType, ticker, price, quantity string) *TransactionBuilder {
	p := decimal.RequireFromString(price)
	q := decimal.RequireFromString(quantity)
	b.tx.Type = typ
	b.tx.Ticker = ticker
	b.tx.Price = decimal.NewNullDecimal(p)
	b.tx.Quantity = decimal.NewNullDecimal(q)
	b.tx.Amount = p.Mul(q).Round(2)
	return b
}

// WithType sets the transaction type.
func (b *TransactionBuilder) WithType(typ model.TransactionType) *TransactionBuilder {
	b.tx.Type = typ
	return b
}

// WithAmount sets the amount.
func (b *TransactionBuilder) WithAmount(amount string) *TransactionBuilder {
	b.tx.Amount = decimal.RequireFromString(amount)
	return b
}

// On sets the transaction date.
func (b *TransactionBuilder) On(date time.Time) *TransactionBuilder {
	b.tx.Date = date
	return b
}

// Pending marks the row PENDING.
func (b *TransactionBuilder) Pending() *TransactionBuilder {
	b.tx.Status = model.StatusPending
	return b
}

// Rejected marks the row REJECTED.
func (b *TransactionBuilder) Rejected() *TransactionBuilder {
	b.tx.Status = model.StatusRejected
	return b
}

// AutoSuggested marks the row as created by the suggestion engine.
func (b *TransactionBuilder) AutoSuggested() *TransactionBuilder {
	b.tx.IsAutoSuggested = true
	return b
}

// Build inserts the transaction and returns it with its id and sequence number.
func (b *TransactionBuilder) Build(t *testing.T, db *sql.DB) model.Transaction {
	t.Helper()

	tx := b.tx
	if err := repository.NewTransactionRepository(db).InsertTransaction(context.Background(), &tx); err != nil {
		t.Fatalf("Failed to create transaction: %v", err)
	}
	return tx
}

// GetTransaction reloads a transaction from the database.
func GetTransaction(t *testing.T, db *sql.DB, id string) model.Transaction {
	t.Helper()

	tx, err := repository.NewTransactionRepository(db).GetTransaction(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to load transaction %s: %v", id, err)
	}
	return tx
}

// GetPortfolio reloads a portfolio from the database.
func GetPortfolio(t *testing.T, db *sql.DB, id string) model.Portfolio {
	t.Helper()

	p, err := repository.NewPortfolioRepository(db).GetPortfolio(context.Background(), id)
	if err != nil {
		t.Fatalf("Failed to load portfolio %s: %v", id, err)
	}
	return p
}

// ListTransactions returns every transaction of a portfolio in ledger order.
func ListTransactions(t *testing.T, db *sql.DB, portfolioID string, filter model.TransactionFilter) []model.Transaction {
	t.Helper()

	txs, err := repository.NewTransactionRepository(db).ListTransactions(context.Background(), portfolioID, filter)
	if err != nil {
		t.Fatalf("Failed to list transactions: %v", err)
	}
	return txs
}

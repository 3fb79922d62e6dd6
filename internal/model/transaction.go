package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionType classifies a ledger entry. The cash direction is derived from the type,
// amounts are always stored as non-negative magnitudes.
type TransactionType string

const (
	TypeCashCredit          TransactionType = "CASH_CREDIT"
	TypeCashDebit           TransactionType = "CASH_DEBIT"
	TypeBuy                 TransactionType = "BUY"
	TypeSellWithdrawal      TransactionType = "SELL_WITHDRAWAL"
	TypeSellRebalance       TransactionType = "SELL_REBALANCE"
	TypeBuyRebalance        TransactionType = "BUY_REBALANCE"
	TypeDividend            TransactionType = "DIVIDEND"
	TypeMonthlyContribution TransactionType = "MONTHLY_CONTRIBUTION"
)

// TransactionTypes lists every supported type.
var TransactionTypes = []TransactionType{
	TypeCashCredit, TypeCashDebit, TypeBuy, TypeSellWithdrawal,
	TypeSellRebalance, TypeBuyRebalance, TypeDividend, TypeMonthlyContribution,
}

// CashSign is +1 for types that add cash and -1 for types that remove it.
func (t TransactionType) CashSign() int {
	switch t {
	case TypeCashCredit, TypeDividend, TypeMonthlyContribution, TypeSellWithdrawal, TypeSellRebalance:
		return 1
	case TypeCashDebit, TypeBuy, TypeBuyRebalance:
		return -1
	}
	return 0
}

// ShareSign is +1 for acquisitions, -1 for disposals and 0 for pure cash movements.
func (t TransactionType) ShareSign() int {
	switch t {
	case TypeBuy, TypeBuyRebalance:
		return 1
	case TypeSellWithdrawal, TypeSellRebalance:
		return -1
	}
	return 0
}

// RequiresTicker reports whether the type refers to a security.
func (t TransactionType) RequiresTicker() bool {
	return t.ShareSign() != 0 || t == TypeDividend
}

// Valid reports whether t is a known type.
func (t TransactionType) Valid() bool {
	return t.CashSign() != 0
}

// TransactionStatus is the lifecycle state of a transaction.
// PENDING moves once to CONFIRMED, EXECUTED or REJECTED; the other states are terminal.
type TransactionStatus string

const (
	StatusPending   TransactionStatus = "PENDING"
	StatusConfirmed TransactionStatus = "CONFIRMED"
	StatusExecuted  TransactionStatus = "EXECUTED"
	StatusRejected  TransactionStatus = "REJECTED"
)

// Valid reports whether s is a known status.
func (s TransactionStatus) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusExecuted, StatusRejected:
		return true
	}
	return false
}

// Transaction is one ledger row. CashBalanceBefore/After are advisory snapshots written by
// the audit replay; the live balance is always recomputed from settled rows.
type Transaction struct {
	ID                string              `json:"id"`
	PortfolioID       string              `json:"portfolioId"`
	Seq               int64               `json:"seq"`
	Date              time.Time           `json:"date"`
	Type              TransactionType     `json:"type"`
	Ticker            string              `json:"ticker,omitempty"`
	Amount            decimal.Decimal     `json:"amount"`
	Price             decimal.NullDecimal `json:"price"`
	Quantity          decimal.NullDecimal `json:"quantity"`
	Status            TransactionStatus   `json:"status"`
	IsAutoSuggested   bool                `json:"isAutoSuggested"`
	CashBalanceBefore decimal.NullDecimal `json:"cashBalanceBefore"`
	CashBalanceAfter  decimal.NullDecimal `json:"cashBalanceAfter"`
	Notes             string              `json:"notes,omitempty"`
	CreatedAt         time.Time           `json:"createdAt"`
	UpdatedAt         time.Time           `json:"updatedAt"`
}

// SignedAmount returns the cash effect of the transaction.
func (t Transaction) SignedAmount() decimal.Decimal {
	return t.Amount.Mul(decimal.NewFromInt(int64(t.Type.CashSign())))
}

// SignedQuantity returns the share effect of the transaction.
func (t Transaction) SignedQuantity() decimal.Decimal {
	if !t.Quantity.Valid {
		return decimal.Zero
	}
	return t.Quantity.Decimal.Mul(decimal.NewFromInt(int64(t.Type.ShareSign())))
}

// NewTransaction is a user-entered ledger row. Amount may be left zero when Price and
// Quantity are given; it is then derived as Price × Quantity.
type NewTransaction struct {
	Date     time.Time        `json:"date" validate:"required"`
	Type     TransactionType  `json:"type" validate:"required"`
	Ticker   string           `json:"ticker,omitempty" validate:"max=20"`
	Amount   decimal.Decimal  `json:"amount"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Notes    string           `json:"notes,omitempty" validate:"max=500"`
	Pending  bool             `json:"pending,omitempty"`
}

// TransactionFilter narrows transaction queries.
type TransactionFilter struct {
	Status        *TransactionStatus
	Types         []TransactionType
	AutoSuggested *bool
	Ticker        string
}

// ConfirmOverrides carries user-entered execution values applied on confirm.
type ConfirmOverrides struct {
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Executed bool             `json:"executed,omitempty"`
}

// BatchItemResult is the outcome of one id in a batch operation.
type BatchItemResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// BatchResult summarizes a batch operation. Batches never abort on a single failure.
type BatchResult struct {
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
	Items     []BatchItemResult `json:"items"`
}

// Add records the outcome for id.
func (b *BatchResult) Add(id string, err error) {
	item := BatchItemResult{ID: id, Success: err == nil}
	if err != nil {
		item.Error = err.Error()
		b.Failed++
	} else {
		b.Succeeded++
	}
	b.Items = append(b.Items, item)
}

// AllFailed reports whether at least one item ran and none succeeded.
func (b BatchResult) AllFailed() bool {
	return b.Failed > 0 && b.Succeeded == 0
}

// BatchConfirmItem is one transaction of a batch confirmation with its optional overrides.
type BatchConfirmItem struct {
	ID        string            `json:"id"`
	Overrides *ConfirmOverrides `json:"overrides,omitempty"`
}

package request

import (
	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// CreateTransactionRequest represents the request body for a manual transaction.
// Amount may be omitted when price and quantity are given.
type CreateTransactionRequest struct {
	Date     string           `json:"date"`
	Type     string           `json:"type"`
	Ticker   string           `json:"ticker,omitempty"`
	Amount   decimal.Decimal  `json:"amount"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Notes    string           `json:"notes,omitempty"`
	Pending  bool             `json:"pending,omitempty"`
}

// ConfirmRequest carries the values actually executed. Every field is optional.
type ConfirmRequest struct {
	Amount   *decimal.Decimal `json:"amount,omitempty"`
	Price    *decimal.Decimal `json:"price,omitempty"`
	Quantity *decimal.Decimal `json:"quantity,omitempty"`
	Executed bool             `json:"executed,omitempty"`
}

// RejectRequest carries an optional rejection reason.
type RejectRequest struct {
	Reason string `json:"reason,omitempty"`
}

// BatchConfirmRequest confirms several transactions, each with optional overrides.
type BatchConfirmRequest struct {
	Items []BatchConfirmItemRequest `json:"items"`
}

// BatchConfirmItemRequest is one item of a BatchConfirmRequest.
type BatchConfirmItemRequest struct {
	ID        string          `json:"id"`
	Overrides *ConfirmRequest `json:"overrides,omitempty"`
}

// BatchRejectRequest rejects several transactions with one reason.
type BatchRejectRequest struct {
	IDs    []string `json:"ids"`
	Reason string   `json:"reason,omitempty"`
}

// CreateSuggestionsRequest materializes suggestions as pending transactions.
type CreateSuggestionsRequest struct {
	Suggestions []model.Suggestion `json:"suggestions"`
}

// ToModel converts the request into service input, parsing the date.
func (r CreateTransactionRequest) ToModel() (model.NewTransaction, error) {
	date, err := parseDate("date", r.Date)
	if err != nil {
		return model.NewTransaction{}, err
	}

	return model.NewTransaction{
		Date:     date,
		Type:     model.TransactionType(r.Type),
		Ticker:   r.Ticker,
		Amount:   r.Amount,
		Price:    r.Price,
		Quantity: r.Quantity,
		Notes:    r.Notes,
		Pending:  r.Pending,
	}, nil
}

// ToOverrides converts the request into confirm overrides. A nil request yields nil.
func (r *ConfirmRequest) ToOverrides() *model.ConfirmOverrides {
	if r == nil {
		return nil
	}
	return &model.ConfirmOverrides{
		Amount:   r.Amount,
		Price:    r.Price,
		Quantity: r.Quantity,
		Executed: r.Executed,
	}
}

// ToItems converts the request into service input.
func (r BatchConfirmRequest) ToItems() []model.BatchConfirmItem {
	items := make([]model.BatchConfirmItem, len(r.Items))
	for i, item := range r.Items {
		items[i] = model.BatchConfirmItem{ID: item.ID, Overrides: item.Overrides.ToOverrides()}
	}
	return items
}

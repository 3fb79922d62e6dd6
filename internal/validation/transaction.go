package validation

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// ValidateNewTransaction validates a user-entered transaction.
//
// Rules:
//   - type must be a known transaction type
//   - ticker is required for BUY, SELL_*, DIVIDEND and forbidden for pure cash movements
//   - amount, price and quantity must not be negative
//   - share movements need a positive quantity
//   - amount must be positive unless price and quantity are both given
func ValidateNewTransaction(t model.NewTransaction) error {
	fields := make(map[string]string)

	if t.Type != "" && !t.Type.Valid() {
		fields["type"] = fmt.Sprintf("invalid type: %s", t.Type)
	}
	ticker := strings.TrimSpace(t.Ticker)
	if t.Type.Valid() {
		switch {
		case t.Type.RequiresTicker() && ticker == "":
			fields["ticker"] = fmt.Sprintf("ticker is required for %s", t.Type)
		case !t.Type.RequiresTicker() && ticker != "":
			fields["ticker"] = fmt.Sprintf("ticker is not allowed for %s", t.Type)
		}
		if t.Type.ShareSign() != 0 && (t.Quantity == nil || !t.Quantity.IsPositive()) {
			fields["quantity"] = "quantity must be positive"
		}
	}

	if t.Amount.IsNegative() {
		fields["amount"] = "amount must not be negative"
	} else if t.Amount.IsZero() && (t.Price == nil || t.Quantity == nil) {
		fields["amount"] = "amount must be positive"
	}
	if t.Price != nil && t.Price.IsNegative() {
		fields["price"] = "price must not be negative"
	}
	if t.Quantity != nil && t.Quantity.IsNegative() {
		fields["quantity"] = "quantity must not be negative"
	}

	return fieldErrors(validate.Struct(t), fields)
}

// ValidateSuggestion validates a suggestion before it is materialized as a PENDING row.
func ValidateSuggestion(s model.Suggestion) error {
	fields := make(map[string]string)

	if s.Type != "" && !s.Type.Valid() {
		fields["type"] = fmt.Sprintf("invalid type: %s", s.Type)
	}
	if s.Type.RequiresTicker() && strings.TrimSpace(s.Ticker) == "" {
		fields["ticker"] = fmt.Sprintf("ticker is required for %s", s.Type)
	}
	if !s.Amount.IsPositive() {
		fields["amount"] = "amount must be positive"
	}
	if s.Type.ShareSign() != 0 && (!s.Quantity.Valid || !s.Quantity.Decimal.IsPositive()) {
		fields["quantity"] = "quantity must be positive"
	}

	return fieldErrors(validate.Struct(s), fields)
}

// ValidateConfirmOverrides validates user-entered execution values. A nil value is valid.
func ValidateConfirmOverrides(o *model.ConfirmOverrides) error {
	if o == nil {
		return nil
	}
	fields := make(map[string]string)
	checkPositive := func(name string, v *decimal.Decimal) {
		if v != nil && !v.IsPositive() {
			fields[name] = fmt.Sprintf("%s must be positive", name)
		}
	}
	checkPositive("amount", o.Amount)
	checkPositive("price", o.Price)
	checkPositive("quantity", o.Quantity)

	if len(fields) > 0 {
		return &Error{Fields: fields}
	}
	return nil
}

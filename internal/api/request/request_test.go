package request

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

func strPtr(s string) *string {
	return &s
}

func TestParseDate(t *testing.T) {
	want := time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name  string
		input string
	}{
		{"plain date", "2024-03-15"},
		{"RFC3339", "2024-03-15T00:00:00Z"},
		{"RFC3339 with milliseconds", "2024-03-15T00:00:00.000Z"},
		{"offset is converted to UTC", "2024-03-15T02:00:00+02:00"},
		{"surrounding whitespace", " 2024-03-15 "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDate("date", tt.input)
			if err != nil {
				t.Fatalf("Expected no error, got %v", err)
			}
			if !got.Equal(want) {
				t.Errorf("Expected %v, got %v", want, got)
			}
			if got.Location() != time.UTC {
				t.Errorf("Expected UTC, got %v", got.Location())
			}
		})
	}

	t.Run("empty is a validation error", func(t *testing.T) {
		_, err := parseDate("date", "")
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})

	t.Run("garbage is a validation error", func(t *testing.T) {
		_, err := parseDate("date", "15/03/2024")
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestPortfolioRequest_ToInput(t *testing.T) {
	t.Run("converts every field", func(t *testing.T) {
		req := PortfolioRequest{
			Name:                "Growth",
			StartDate:           strPtr("2024-01-01"),
			MonthlyContribution: decimal.RequireFromString("250"),
			RebalanceFrequency:  "quarterly",
			Assets:              []AssetRequest{{Ticker: "VT", Weight: 0.8}, {Ticker: "BND", Weight: 0.2}},
		}

		in, err := req.ToInput()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}

		if in.RebalanceFrequency != model.FrequencyQuarterly {
			t.Errorf("Expected quarterly, got %s", in.RebalanceFrequency)
		}
		if in.StartDate == nil || in.StartDate.Format("2006-01-02") != "2024-01-01" {
			t.Errorf("Expected start date 2024-01-01, got %v", in.StartDate)
		}
		if len(in.Assets) != 2 || in.Assets[1].Ticker != "BND" {
			t.Errorf("Expected 2 assets ending in BND, got %v", in.Assets)
		}
	})

	t.Run("start date is optional", func(t *testing.T) {
		in, err := PortfolioRequest{Name: "P", RebalanceFrequency: "monthly"}.ToInput()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if in.StartDate != nil {
			t.Errorf("Expected nil start date, got %v", in.StartDate)
		}
		if in.Assets != nil {
			t.Errorf("Expected nil assets, got %v", in.Assets)
		}
	})

	t.Run("bad start date", func(t *testing.T) {
		_, err := PortfolioRequest{Name: "P", StartDate: strPtr("soon")}.ToInput()
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestCreateTransactionRequest_ToModel(t *testing.T) {
	t.Run("converts a buy", func(t *testing.T) {
		price := decimal.RequireFromString("101.5")
		qty := decimal.RequireFromString("2")
		req := CreateTransactionRequest{Date: "2024-02-01", Type: "BUY", Ticker: "VT", Price: &price, Quantity: &qty}

		tx, err := req.ToModel()
		if err != nil {
			t.Fatalf("Expected no error, got %v", err)
		}
		if tx.Type != model.TypeBuy {
			t.Errorf("Expected BUY, got %s", tx.Type)
		}
		if !tx.Price.Equal(price) || !tx.Quantity.Equal(qty) {
			t.Errorf("Expected price and quantity to be carried, got %v %v", tx.Price, tx.Quantity)
		}
	})

	t.Run("date is required", func(t *testing.T) {
		_, err := CreateTransactionRequest{Type: "CASH_CREDIT"}.ToModel()
		if !errors.Is(err, apperrors.ErrValidation) {
			t.Errorf("Expected validation error, got %v", err)
		}
	})
}

func TestConfirmRequest_ToOverrides(t *testing.T) {
	t.Run("nil request has no overrides", func(t *testing.T) {
		var req *ConfirmRequest
		if o := req.ToOverrides(); o != nil {
			t.Errorf("Expected nil overrides, got %v", o)
		}
	})

	t.Run("price and executed are carried", func(t *testing.T) {
		price := decimal.RequireFromString("90")
		o := (&ConfirmRequest{Price: &price, Executed: true}).ToOverrides()
		if !o.Executed || o.Price == nil || !o.Price.Equal(price) || o.Amount != nil {
			t.Errorf("Unexpected overrides %+v", o)
		}
	})

	t.Run("batch items keep their order", func(t *testing.T) {
		items := BatchConfirmRequest{Items: []BatchConfirmItemRequest{
			{ID: "a"},
			{ID: "b", Overrides: &ConfirmRequest{Executed: true}},
		}}.ToItems()
		if items[0].ID != "a" || items[0].Overrides != nil {
			t.Errorf("Unexpected first item %+v", items[0])
		}
		if items[1].Overrides == nil || !items[1].Overrides.Executed {
			t.Errorf("Unexpected second item %+v", items[1])
		}
	})
}

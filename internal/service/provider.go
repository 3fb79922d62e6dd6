package service

import (
	"context"
	"time"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// PriceProvider supplies quotes, ticker validation and dividend history.
// yahoo.FinanceClient is the production implementation.
type PriceProvider interface {
	GetTickerPrice(ctx context.Context, ticker string) (model.Quote, error)
	ValidateTicker(ctx context.Context, ticker string) error
	GetDividendEvents(ctx context.Context, ticker string, since time.Time) ([]model.DividendEvent, error)
}

// UserDirectory resolves caller identities and their plan.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (model.User, error)
}

package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// MockPriceProvider is an in-memory price provider for testing.
// Only tickers registered with WithPrice are valid. It is safe for concurrent use.
type MockPriceProvider struct {
	mu        sync.Mutex
	prices    map[string]decimal.Decimal
	dividends map[string][]model.DividendEvent
	err       error
	calls     int
}

// NewMockPriceProvider creates a provider without any known tickers.
func NewMockPriceProvider() *MockPriceProvider {
	return &MockPriceProvider{
		prices:    make(map[string]decimal.Decimal),
		dividends: make(map[string][]model.DividendEvent),
	}
}

// WithPrice registers ticker at price.
func (m *MockPriceProvider) WithPrice(ticker, price string) *MockPriceProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[ticker] = decimal.RequireFromString(price)
	return m
}

// WithDividend registers a distribution of perShare for ticker on exDate.
func (m *MockPriceProvider) WithDividend(ticker string, exDate time.Time, perShare string) *MockPriceProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dividends[ticker] = append(m.dividends[ticker], model.DividendEvent{
		Ticker:         ticker,
		ExDate:         exDate,
		AmountPerShare: decimal.RequireFromString(perShare),
	})
	return m
}

// WithError makes every call fail with err.
func (m *MockPriceProvider) WithError(err error) *MockPriceProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// Calls returns how many provider methods were invoked.
func (m *MockPriceProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockPriceProvider) lookup(ticker string) (decimal.Decimal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return decimal.Zero, m.err
	}
	price, ok := m.prices[ticker]
	if !ok {
		return decimal.Zero, fmt.Errorf("%w: %s", apperrors.ErrInvalidTicker, ticker)
	}
	return price, nil
}

// GetTickerPrice returns the registered price of ticker.
func (m *MockPriceProvider) GetTickerPrice(_ context.Context, ticker string) (model.Quote, error) {
	price, err := m.lookup(ticker)
	if err != nil {
		return model.Quote{}, err
	}
	return model.Quote{Ticker: ticker, Price: price, Currency: "USD", AsOf: time.Now().UTC()}, nil
}

// ValidateTicker fails with ErrInvalidTicker for unregistered tickers.
func (m *MockPriceProvider) ValidateTicker(_ context.Context, ticker string) error {
	_, err := m.lookup(ticker)
	return err
}

// GetDividendEvents returns the registered events of ticker on or after since.
func (m *MockPriceProvider) GetDividendEvents(_ context.Context, ticker string, since time.Time) ([]model.DividendEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	var events []model.DividendEvent
	for _, ev := range m.dividends[ticker] {
		if !ev.ExDate.Before(since) {
			events = append(events, ev)
		}
	}
	return events, nil
}

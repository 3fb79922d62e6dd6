package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
)

// DefaultBaseURL is the Yahoo Finance chart endpoint.
const DefaultBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart/"

// FinanceClient fetches quotes and dividend events from the Yahoo Finance chart API.
// Outbound requests are throttled by a token bucket shared by all callers.
type FinanceClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	baseURL    string
}

// NewFinanceClient creates a new Yahoo Finance client allowing requestsPerSecond requests
// with the given per-request timeout.
func NewFinanceClient(requestsPerSecond float64, timeout time.Duration) *FinanceClient {
	burst := int(requestsPerSecond)
	if burst < 1 {
		burst = 1
	}
	return &FinanceClient{
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
		baseURL:    DefaultBaseURL,
	}
}

// WithBaseURL points the client at another chart endpoint. Used by tests.
func (c *FinanceClient) WithBaseURL(baseURL string) *FinanceClient {
	c.baseURL = baseURL
	return c
}

// GetTickerPrice returns the latest price of ticker.
// The market price from the chart metadata is preferred; the last non-null close is the fallback.
func (c *FinanceClient) GetTickerPrice(ctx context.Context, ticker string) (model.Quote, error) {
	result, err := c.query(ctx, ticker, url.Values{"interval": {"1d"}, "range": {"5d"}})
	if err != nil {
		return model.Quote{}, err
	}

	quote := model.Quote{
		Ticker:   ticker,
		Currency: result.Meta.Currency,
	}

	if result.Meta.RegularMarketPrice > 0 {
		quote.Price = decimal.NewFromFloat(result.Meta.RegularMarketPrice)
		quote.AsOf = time.Unix(result.Meta.RegularMarketTime, 0).UTC()
		return quote, nil
	}

	chart, err := ParseChart(result)
	if err != nil {
		return model.Quote{}, fmt.Errorf("no price for %s: %w", ticker, err)
	}
	last := chart.Indicators[len(chart.Indicators)-1]
	quote.Price = decimal.NewFromFloat(last.PriceClose)
	quote.AsOf = last.Date
	return quote, nil
}

// ValidateTicker returns ErrInvalidTicker when Yahoo does not know the symbol.
func (c *FinanceClient) ValidateTicker(ctx context.Context, ticker string) error {
	_, err := c.query(ctx, ticker, url.Values{"interval": {"1d"}, "range": {"1d"}})
	return err
}

// GetDividendEvents returns the dividend events of ticker with ex-date on or after since,
// sorted by ex-date.
func (c *FinanceClient) GetDividendEvents(ctx context.Context, ticker string, since time.Time) ([]model.DividendEvent, error) {
	params := url.Values{
		"interval": {"1d"},
		"period1":  {fmt.Sprint(since.Unix())},
		"period2":  {fmt.Sprint(time.Now().Unix())},
		"events":   {"div"},
	}
	result, err := c.query(ctx, ticker, params)
	if err != nil {
		return nil, err
	}

	events := []model.DividendEvent{}
	if result.Events == nil {
		return events, nil
	}
	for _, d := range result.Events.Dividends {
		exDate := time.Unix(d.Date, 0).UTC().Truncate(24 * time.Hour)
		if exDate.Before(since.UTC().Truncate(24 * time.Hour)) {
			continue
		}
		events = append(events, model.DividendEvent{
			Ticker:         ticker,
			ExDate:         exDate,
			AmountPerShare: decimal.NewFromFloat(d.Amount),
		})
	}
	sort.Slice(events, func(i, j int) bool { return events[i].ExDate.Before(events[j].ExDate) })

	return events, nil
}

// ParseChart converts a raw chart result into a close-price series, skipping null sessions.
//
// Returns an error if timestamps or closes are missing or their lengths differ.
func ParseChart(result Result) (PriceChart, error) {
	if len(result.Timestamp) == 0 {
		return PriceChart{}, fmt.Errorf("no price data returned")
	}
	if len(result.Indicators.Quote) == 0 || len(result.Indicators.Quote[0].Close) == 0 {
		return PriceChart{}, fmt.Errorf("no close prices returned")
	}
	closes := result.Indicators.Quote[0].Close
	if len(closes) != len(result.Timestamp) {
		return PriceChart{}, fmt.Errorf("mismatched data lengths")
	}

	indicators := make([]Indicators, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if closes[i] == nil {
			continue
		}
		indicators = append(indicators, Indicators{
			Date:       time.Unix(ts, 0).UTC(),
			PriceClose: *closes[i],
		})
	}
	if len(indicators) == 0 {
		return PriceChart{}, fmt.Errorf("no close prices returned")
	}

	return PriceChart{
		Symbol:     result.Meta.Symbol,
		Currency:   result.Meta.Currency,
		Indicators: indicators,
	}, nil
}

// query executes one chart request and returns its first result.
//
// The method sets required headers:
//   - User-Agent: Mimics a browser to avoid API blocking
//   - Accept: Requests JSON response format
func (c *FinanceClient) query(ctx context.Context, ticker string, params url.Values) (Result, error) {
	if strings.TrimSpace(ticker) == "" {
		return Result{}, apperrors.ErrInvalidTicker
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + url.PathEscape(ticker) + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Result{}, err
	}

	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("yahoo request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, err
	}

	var response Response
	if err := json.Unmarshal(data, &response); err != nil {
		if resp.StatusCode == http.StatusNotFound {
			return Result{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidTicker, ticker)
		}
		return Result{}, fmt.Errorf("failed to decode yahoo response (status %d): %w", resp.StatusCode, err)
	}

	if response.Chart.Error != nil {
		if response.Chart.Error.Code == "Not Found" || resp.StatusCode == http.StatusNotFound {
			return Result{}, fmt.Errorf("%w: %s", apperrors.ErrInvalidTicker, ticker)
		}
		return Result{}, fmt.Errorf("yahoo error: %s", response.Chart.Error.Description)
	}
	if len(response.Chart.Result) == 0 {
		return Result{}, fmt.Errorf("%w: no results returned for symbol %s", apperrors.ErrInvalidTicker, ticker)
	}

	return response.Chart.Result[0], nil
}

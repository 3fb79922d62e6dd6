package yahoo

import "time"

// Response represents the raw JSON response structure from Yahoo Finance API.
// This type maps directly to the Yahoo Finance chart API response format.
//
// The structure includes:
//   - Chart.Result: Array of result objects (typically contains one element)
//   - Chart.Result[].Meta: Symbol metadata and the latest market price
//   - Chart.Result[].Timestamp: Unix timestamps for each data point
//   - Chart.Result[].Indicators: Price data arrays; missing sessions are null
//   - Chart.Result[].Events.Dividends: Dividend events keyed by unix timestamp, when requested
//   - Chart.Error: Optional error object from Yahoo API
type Response struct {
	Chart Chart `json:"chart"`
}

// Chart is the top-level chart envelope.
type Chart struct {
	Result []Result `json:"result"`
	Error  *Error   `json:"error"`
}

// Error is the error object Yahoo returns for unknown symbols and bad requests.
type Error struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// Result is the chart data of one symbol.
type Result struct {
	Meta       Meta                `json:"meta"`
	Timestamp  []int64             `json:"timestamp"`
	Indicators IndicatorsContainer `json:"indicators"`
	Events     *Events             `json:"events,omitempty"`
}

// Meta holds symbol metadata.
type Meta struct {
	Currency           string  `json:"currency"`
	Symbol             string  `json:"symbol"`
	ExchangeName       string  `json:"exchangeName"`
	RegularMarketPrice float64 `json:"regularMarketPrice"`
	RegularMarketTime  int64   `json:"regularMarketTime"`
}

// IndicatorsContainer wraps the quote series.
type IndicatorsContainer struct {
	Quote []Quote `json:"quote"`
}

// Quote holds the daily close series. Entries are nil for sessions without trades.
type Quote struct {
	Close []*float64 `json:"close"`
}

// Events holds corporate actions requested with events=div.
type Events struct {
	Dividends map[string]DividendEvent `json:"dividends"`
}

// DividendEvent is one raw dividend record.
type DividendEvent struct {
	Amount float64 `json:"amount"`
	Date   int64   `json:"date"`
}

// PriceChart represents a parsed close-price series.
type PriceChart struct {
	Symbol     string       `json:"symbol"`
	Currency   string       `json:"currency"`
	Indicators []Indicators `json:"indicators"`
}

// Indicators represents a single day's close price.
type Indicators struct {
	Date       time.Time
	PriceClose float64
}

package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *FinanceClient {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewFinanceClient(100, 5*time.Second).WithBaseURL(server.URL + "/")
}

const chartWithMarketPrice = `{"chart":{"result":[{"meta":{"currency":"USD","symbol":"VTI","regularMarketPrice":245.5,"regularMarketTime":1700000000},
"timestamp":[1699900000,1700000000],"indicators":{"quote":[{"close":[240.1,245.5]}]}}],"error":null}}`

const chartWithoutMarketPrice = `{"chart":{"result":[{"meta":{"currency":"USD","symbol":"BND"},
"timestamp":[1699900000,1700000000,1700086400],"indicators":{"quote":[{"close":[71.2,72.4,null]}]}}],"error":null}}`

const chartNotFound = `{"chart":{"result":null,"error":{"code":"Not Found","description":"No data found, symbol may be delisted"}}}`

// TestFinanceClient_GetTickerPrice tests quote retrieval.
//
// WHY: Every valuation depends on the latest price; null closes from half sessions
// must not be mistaken for a zero price.
func TestFinanceClient_GetTickerPrice(t *testing.T) {
	t.Run("prefers regular market price", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.True(t, strings.HasSuffix(r.URL.Path, "/VTI"))
			assert.Equal(t, "5d", r.URL.Query().Get("range"))
			assert.NotEmpty(t, r.Header.Get("User-Agent"))
			fmt.Fprint(w, chartWithMarketPrice)
		})

		quote, err := client.GetTickerPrice(context.Background(), "VTI")
		require.NoError(t, err)

		assert.Equal(t, "245.5", quote.Price.String())
		assert.Equal(t, "USD", quote.Currency)
		assert.Equal(t, time.Unix(1700000000, 0).UTC(), quote.AsOf)
	})

	t.Run("falls back to last non-null close", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, chartWithoutMarketPrice)
		})

		quote, err := client.GetTickerPrice(context.Background(), "BND")
		require.NoError(t, err)

		assert.Equal(t, "72.4", quote.Price.String())
	})

	t.Run("unknown symbol is an invalid ticker", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprint(w, chartNotFound)
		})

		_, err := client.GetTickerPrice(context.Background(), "NOPE")
		assert.True(t, errors.Is(err, apperrors.ErrInvalidTicker))
	})

	t.Run("empty ticker is rejected without a request", func(t *testing.T) {
		called := false
		client := newTestClient(t, func(_ http.ResponseWriter, _ *http.Request) {
			called = true
		})

		_, err := client.GetTickerPrice(context.Background(), "  ")
		assert.ErrorIs(t, err, apperrors.ErrInvalidTicker)
		assert.False(t, called)
	})

	t.Run("server error is not an invalid ticker", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			fmt.Fprint(w, "<html>bad gateway</html>")
		})

		_, err := client.GetTickerPrice(context.Background(), "VTI")
		require.Error(t, err)
		assert.False(t, errors.Is(err, apperrors.ErrInvalidTicker))
	})
}

func TestFinanceClient_ValidateTicker(t *testing.T) {
	t.Run("known symbol passes", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, chartWithMarketPrice)
		})

		assert.NoError(t, client.ValidateTicker(context.Background(), "VTI"))
	})

	t.Run("chart error not found fails", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, chartNotFound)
		})

		assert.ErrorIs(t, client.ValidateTicker(context.Background(), "NOPE"), apperrors.ErrInvalidTicker)
	})
}

func TestFinanceClient_GetDividendEvents(t *testing.T) {
	t.Run("returns events sorted and filtered by since", func(t *testing.T) {
		body := `{"chart":{"result":[{"meta":{"currency":"USD","symbol":"VTI"},
			"timestamp":[1700000000],"indicators":{"quote":[{"close":[245.5]}]},
			"events":{"dividends":{
				"1704153600":{"amount":0.95,"date":1704153600},
				"1696204800":{"amount":0.82,"date":1696204800},
				"1680307200":{"amount":0.80,"date":1680307200}}}}],"error":null}}`
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "div", r.URL.Query().Get("events"))
			fmt.Fprint(w, body)
		})

		since := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
		events, err := client.GetDividendEvents(context.Background(), "VTI", since)
		require.NoError(t, err)

		require.Len(t, events, 2)
		assert.Equal(t, "0.82", events[0].AmountPerShare.String())
		assert.Equal(t, time.Date(2023, 10, 2, 0, 0, 0, 0, time.UTC), events[0].ExDate)
		assert.Equal(t, "0.95", events[1].AmountPerShare.String())
	})

	t.Run("no events yields empty slice", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
			fmt.Fprint(w, chartWithMarketPrice)
		})

		events, err := client.GetDividendEvents(context.Background(), "VTI", time.Now().AddDate(-1, 0, 0))
		require.NoError(t, err)
		assert.Empty(t, events)
	})
}

func TestParseChart(t *testing.T) {
	price := 10.0

	t.Run("rejects mismatched lengths", func(t *testing.T) {
		_, err := ParseChart(Result{
			Timestamp:  []int64{1, 2},
			Indicators: IndicatorsContainer{Quote: []Quote{{Close: []*float64{&price}}}},
		})
		assert.Error(t, err)
	})

	t.Run("rejects all null closes", func(t *testing.T) {
		_, err := ParseChart(Result{
			Timestamp:  []int64{1},
			Indicators: IndicatorsContainer{Quote: []Quote{{Close: []*float64{nil}}}},
		})
		assert.Error(t, err)
	})

	t.Run("rejects empty timestamps", func(t *testing.T) {
		_, err := ParseChart(Result{})
		assert.Error(t, err)
	})
}

package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/api/middleware"
)

// NewRequest creates an HTTP request acting as userID, with chi URL parameters and an
// optional JSON body. This lets handler tests skip the router and the user middleware.
//
// body may be nil (no body), a string (sent verbatim) or any value to marshal.
//
// Example:
//
//	req := testutil.NewRequest(t,
//	    http.MethodPost,
//	    "/api/portfolio/123-456/assets",
//	    user.ID,
//	    map[string]string{"uuid": "123-456"},
//	    map[string]any{"ticker": "VT", "weight": 0.5},
//	)
func NewRequest(t *testing.T, method, path, userID string, params map[string]string, body any) *http.Request {
	t.Helper()

	var req *http.Request
	if body == nil {
		req = httptest.NewRequest(method, path, nil)
	} else {
		raw, ok := body.(string)
		if !ok {
			b, err := json.Marshal(body)
			if err != nil {
				t.Fatalf("Failed to marshal body: %v", err)
			}
			raw = string(b)
		}
		req = httptest.NewRequest(method, path, bytes.NewBufferString(raw))
		req.Header.Set("Content-Type", "application/json")
	}

	ctx := req.Context()
	if len(params) > 0 {
		rctx := chi.NewRouteContext()
		for key, value := range params {
			rctx.URLParams.Add(key, value)
		}
		ctx = context.WithValue(ctx, chi.RouteCtxKey, rctx)
	}
	if userID != "" {
		ctx = middleware.WithUserID(ctx, userID)
	}
	return req.WithContext(ctx)
}

// DecodeJSON unmarshals a recorded response body into a T, failing the test on error.
func DecodeJSON[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()

	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode response: %v (body %q)", err, w.Body.String())
	}
	return v
}

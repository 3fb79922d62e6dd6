package handlers

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/testutil"
)

// handlerFixture is one database with wired services, a registered user and handlers on top.
type handlerFixture struct {
	db          *sql.DB
	svc         *testutil.Services
	user        model.User
	portfolio   *PortfolioHandler
	transaction *TransactionHandler
	suggestion  *SuggestionHandler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	prices := testutil.NewMockPriceProvider().WithPrice("A", "100").WithPrice("B", "100")
	svc := testutil.NewTestServices(t, db, prices)

	return &handlerFixture{
		db:          db,
		svc:         svc,
		user:        testutil.CreateUser(t, db),
		portfolio:   NewPortfolioHandler(svc.Portfolio),
		transaction: NewTransactionHandler(svc.Ledger, svc.Suggestions),
		suggestion:  NewSuggestionHandler(svc.Suggestions),
	}
}

// newRequest builds a request acting as userID with chi URL params. A nil body sends none.
func newRequest(t *testing.T, method, path, userID string, params map[string]string, body any) *http.Request {
	t.Helper()
	return testutil.NewRequest(t, method, path, userID, params, body)
}

// serve runs h and returns the recorder.
func serve(h http.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	h(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	return testutil.DecodeJSON[T](t, w)
}

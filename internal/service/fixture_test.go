package service_test

import (
	"context"
	"database/sql"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/testutil"
)

// fixture is one isolated database with wired services and a registered user.
type fixture struct {
	ctx    context.Context
	db     *sql.DB
	svc    *testutil.Services
	prices *testutil.MockPriceProvider
	user   model.User
}

// newFixture creates a fixture whose price provider knows A and B at 100.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.SetupTestDB(t)
	prices := testutil.NewMockPriceProvider().WithPrice("A", "100").WithPrice("B", "100")
	return &fixture{
		ctx:    context.Background(),
		db:     db,
		svc:    testutil.NewTestServices(t, db, prices),
		prices: prices,
		user:   testutil.CreateUser(t, db),
	}
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func decPtr(s string) *decimal.Decimal {
	v := decimal.RequireFromString(s)
	return &v
}

func statusPtr(s model.TransactionStatus) *model.TransactionStatus {
	return &s
}

func boolPtr(b bool) *bool {
	return &b
}

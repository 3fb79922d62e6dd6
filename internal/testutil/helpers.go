package testutil

import (
	"database/sql"
	"math/rand"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/logging"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/service"
)

// TestDriftThreshold is the drift threshold used by test services.
const TestDriftThreshold = 0.05

// TestBacktestKey is a valid Fernet key for sealing backtest seeds in tests.
const TestBacktestKey = "cw_0x689RpI-jtRR7oE8h_eQsKImvJapLeSbXpwF4e4="

// Services bundles every service wired to one test database, the way main wires them.
type Services struct {
	Prices       *MockPriceProvider
	Users        *repository.UserRepository
	Allocation   *service.AllocationService
	Metrics      *service.MetricsService
	Ledger       *service.LedgerService
	Suggestions  *service.SuggestionService
	Regeneration *service.RegenerationService
	Portfolio    *service.PortfolioService
	System       *service.SystemService
}

// NewTestServices wires all services on db with prices as the quote provider.
// Regeneration has no settle delay and metrics are considered fresh for a minute.
func NewTestServices(t *testing.T, db *sql.DB, prices *MockPriceProvider) *Services {
	t.Helper()

	logger := logging.Nop()
	userRepo := repository.NewUserRepository(db)
	portfolioRepo := repository.NewPortfolioRepository(db)
	allocationRepo := repository.NewAllocationRepository(db)
	transactionRepo := repository.NewTransactionRepository(db)
	metricsRepo := repository.NewMetricsRepository(db)
	outboxRepo := repository.NewOutboxRepository(db)

	allocation := service.NewAllocationService(portfolioRepo, allocationRepo, transactionRepo, prices, TestDriftThreshold)
	metrics := service.NewMetricsService(allocation, transactionRepo, metricsRepo, time.Minute, logger)
	ledger := service.NewLedgerService(db, portfolioRepo, transactionRepo, outboxRepo, prices, metrics, logger)
	suggestions := service.NewSuggestionService(db, portfolioRepo, transactionRepo, allocation, ledger, logger)
	regeneration := service.NewRegenerationService(db, outboxRepo, transactionRepo, portfolioRepo, allocation, suggestions, 0, 3, logger)

	portfolio, err := service.NewPortfolioService(
		db,
		userRepo,
		portfolioRepo,
		allocationRepo,
		transactionRepo,
		outboxRepo,
		prices,
		allocation,
		metrics,
		service.PortfolioServiceOptions{
			FreePortfolioLimit: 1,
			BacktestKey:        TestBacktestKey,
			BacktestSeedTTL:    time.Hour,
		},
		logger,
	)
	if err != nil {
		t.Fatalf("Failed to create portfolio service: %v", err)
	}

	return &Services{
		Prices:       prices,
		Users:        userRepo,
		Allocation:   allocation,
		Metrics:      metrics,
		Ledger:       ledger,
		Suggestions:  suggestions,
		Regeneration: regeneration,
		Portfolio:    portfolio,
		System:       service.NewSystemService(db, outboxRepo),
	}
}

// Date returns midnight UTC of the given day.
func Date(year int, month time.Month, day int) time.Time {
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

// Today returns midnight UTC of the current day.
func Today() time.Time {
	y, m, d := time.Now().UTC().Date()
	return Date(y, m, d)
}

// MakeID generates a UUID string for use in tests.
//
// Example usage:
//
//	id := testutil.MakeID()
//	// Returns: "550e8400-e29b-41d4-a716-446655440000"
func MakeID() string {
	return uuid.New().String()
}

// MakeTicker generates a ticker symbol for testing.
//
// Example usage:
//
//	ticker := testutil.MakeTicker("VT")
//	// Returns: "VT1A2B"
func MakeTicker(base string) string {
	if base == "" {
		base = "TST"
	}
	return base + randomAlphanumeric(4)
}

// MakePortfolioName generates a unique portfolio name for testing.
//
// Example usage:
//
//	name := testutil.MakePortfolioName("MyPortfolio")
//	// Returns: "MyPortfolio ABC123"
func MakePortfolioName(base string) string {
	if base == "" {
		base = "Portfolio"
	}
	return base + " " + randomAlphanumeric(6)
}

// randomAlphanumeric generates a random alphanumeric string of specified length.
func randomAlphanumeric(length int) string {
	const charset = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	result := make([]byte, length)
	for i := range result {
		//nolint:gosec // G404: Using math/rand for test data generation is acceptable
		result[i] = charset[rand.Intn(len(charset))]
	}
	return string(result)
}

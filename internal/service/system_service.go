package service

import (
	"context"
	"database/sql"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/database"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/version"
)

// SystemService handles system-related operations
type SystemService struct {
	db         *sql.DB
	outboxRepo *repository.OutboxRepository
}

// NewSystemService creates a new SystemService
func NewSystemService(db *sql.DB, outboxRepo *repository.OutboxRepository) *SystemService {
	return &SystemService{
		db:         db,
		outboxRepo: outboxRepo,
	}
}

// CheckHealth pings the database and reports the regeneration backlog.
func (s *SystemService) CheckHealth(ctx context.Context) (model.HealthStatus, error) {
	if err := database.HealthCheck(ctx, s.db); err != nil {
		return model.HealthStatus{Status: "unhealthy", Database: "disconnected"}, err
	}

	pending, err := s.outboxRepo.CountPending(ctx)
	if err != nil {
		return model.HealthStatus{Status: "unhealthy", Database: "connected"}, err
	}

	return model.HealthStatus{Status: "healthy", Database: "connected", PendingRegenerations: pending}, nil
}

// CheckVersion returns the application version and the schema migration state.
func (s *SystemService) CheckVersion(ctx context.Context) (model.VersionInfo, error) {
	current, latest, err := database.Versions(ctx, s.db)
	if err != nil {
		return model.VersionInfo{AppVersion: version.Version}, err
	}

	return model.VersionInfo{
		AppVersion:      version.Version,
		DbVersion:       current,
		LatestMigration: latest,
		MigrationNeeded: current < latest,
	}, nil
}

package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/phuslu/log"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/model"
	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/repository"
)

const (
	// regenerationBatchSize is the number of tasks claimed per ProcessPending run.
	regenerationBatchSize = 20

	// regenerationBaseBackoff is doubled on every failed attempt.
	regenerationBaseBackoff = 5 * time.Second
)

// RegenerationService drains the regeneration outbox.
//
// A task means "the pending suggestions of this portfolio may be stale". Handling it deletes
// the auto-suggested PENDING rows, resets the anchor, waits for the settle delay, then computes
// and materializes fresh contribution suggestions. Running a task twice leaves the same rows.
type RegenerationService struct {
	db              *sql.DB
	outboxRepo      *repository.OutboxRepository
	transactionRepo *repository.TransactionRepository
	portfolioRepo   *repository.PortfolioRepository
	allocation      *AllocationService
	suggestions     *SuggestionService
	settleDelay     time.Duration
	maxAttempts     int
	logger          *log.Logger
	now             func() time.Time
}

// NewRegenerationService creates a new RegenerationService. Failed tasks are retried with
// exponential backoff until maxAttempts.
func NewRegenerationService(
	db *sql.DB,
	outboxRepo *repository.OutboxRepository,
	transactionRepo *repository.TransactionRepository,
	portfolioRepo *repository.PortfolioRepository,
	allocation *AllocationService,
	suggestions *SuggestionService,
	settleDelay time.Duration,
	maxAttempts int,
	logger *log.Logger,
) *RegenerationService {
	return &RegenerationService{
		db:              db,
		outboxRepo:      outboxRepo,
		transactionRepo: transactionRepo,
		portfolioRepo:   portfolioRepo,
		allocation:      allocation,
		suggestions:     suggestions,
		settleDelay:     settleDelay,
		maxAttempts:     maxAttempts,
		logger:          logger,
		now:             time.Now,
	}
}

// Enqueue queues a regeneration of portfolioID, replacing any task already queued for it.
func (s *RegenerationService) Enqueue(ctx context.Context, portfolioID string, reason model.RegenerationReason) error {
	return s.outboxRepo.Enqueue(ctx, portfolioID, reason, s.now())
}

// ProcessPending handles every due task and returns how many completed.
// Task failures are recorded on the task and logged; only outbox access errors are returned.
func (s *RegenerationService) ProcessPending(ctx context.Context) (int, error) {
	tasks, err := s.outboxRepo.ListDue(ctx, s.now(), s.maxAttempts, regenerationBatchSize)
	if err != nil {
		return 0, err
	}

	completed := 0
	for _, task := range tasks {
		if ctx.Err() != nil {
			return completed, ctx.Err()
		}

		if err := s.Regenerate(ctx, task.PortfolioID); err != nil {
			retryAt := s.now().Add(regenerationBaseBackoff << task.Attempts)
			s.logger.Warn().
				Err(err).
				Str("portfolio_id", task.PortfolioID).
				Str("reason", string(task.Reason)).
				Int("attempt", task.Attempts+1).
				Msg("regeneration failed")
			if ferr := s.outboxRepo.Fail(ctx, task.ID, err, retryAt); ferr != nil {
				return completed, ferr
			}
			continue
		}

		if err := s.outboxRepo.Complete(ctx, task.ID); err != nil {
			return completed, err
		}
		completed++
	}

	if completed > 0 {
		s.logger.Debug().Int("completed", completed).Msg("regeneration tasks processed")
	}
	return completed, nil
}

// Regenerate rebuilds the auto-suggested PENDING rows of a portfolio.
func (s *RegenerationService) Regenerate(ctx context.Context, portfolioID string) error {
	err := runTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := s.transactionRepo.WithTx(tx).DeletePendingTransactions(ctx, portfolioID, true); err != nil {
			return err
		}
		return s.portfolioRepo.WithTx(tx).SetLastSuggestionsGeneratedAt(ctx, portfolioID, nil)
	})
	if err != nil {
		return fmt.Errorf("failed to clear pending suggestions: %w", err)
	}

	if s.settleDelay > 0 {
		timer := time.NewTimer(s.settleDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	suggestions, err := s.allocation.GetContributionSuggestions(ctx, portfolioID)
	if err != nil {
		return fmt.Errorf("failed to compute contribution suggestions: %w", err)
	}
	if len(suggestions) == 0 {
		return nil
	}

	ids, err := s.suggestions.materialize(ctx, portfolioID, suggestions)
	if err != nil {
		return fmt.Errorf("failed to materialize suggestions: %w", err)
	}

	s.logger.Info().
		Str("portfolio_id", portfolioID).
		Int("suggestions", len(ids)).
		Msg("suggestions regenerated")
	return nil
}

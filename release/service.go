package release

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// GateRepository defines the data access required by the service.
type GateRepository interface {
	LockJob(ctx context.Context, tx pgx.Tx, jobID string) (Job, error)
	HasOpenDispute(ctx context.Context, tx pgx.Tx, jobID string) (bool, error)
	ExistingResult(ctx context.Context, tx pgx.Tx, job Job) (Result, error)
	ExecuteRelease(ctx context.Context, tx pgx.Tx, job Job, policy Policy) (Result, error)
}

// Service is the release gate entry point for webhook handlers and admin
// actions. Every call is one atomic unit against the store.
type Service struct {
	pool   TxBeginner
	repo   GateRepository
	policy Policy
	log    *slog.Logger
}

func NewService(pool TxBeginner, repo GateRepository, policy Policy, log *slog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, repo: repo, policy: policy, log: log}
}

// ReleaseJobFunds releases the primary escrow for a job: flips payout status
// under an optimistic guard, creates the three transfer legs, and writes the
// ledger evidence, all in one transaction. A job that is already released
// fails with AlreadyReleasedError carrying the prior result; callers must
// treat any non-success as terminal.
func (s *Service) ReleaseJobFunds(ctx context.Context, jobID, triggeredBy string) (Result, error) {
	if jobID == "" {
		return Result{}, fmt.Errorf("release: missing job id")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("release: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	job, err := s.repo.LockJob(ctx, tx, jobID)
	if err != nil {
		return Result{}, err
	}

	if job.PayoutStatus == PayoutReleased {
		existing, err := s.repo.ExistingResult(ctx, tx, job)
		if err != nil {
			return Result{}, err
		}
		return Result{}, &AlreadyReleasedError{Existing: existing}
	}

	open, err := s.repo.HasOpenDispute(ctx, tx, jobID)
	if err != nil {
		return Result{}, err
	}
	if open {
		return Result{}, ErrDisputed
	}

	if job.Status != JobStatusCompletionPending {
		return Result{}, fmt.Errorf("%w: status %s", ErrNotEligible, job.Status)
	}

	res, err := s.repo.ExecuteRelease(ctx, tx, job, s.policy)
	if err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, fmt.Errorf("release: commit: %w", err)
	}

	s.log.Info("job funds released",
		"job_id", jobID,
		"triggered_by", triggeredBy,
		"released_at", res.ReleasedAt,
	)
	return res, nil
}

package dispute

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"escrowflow/release"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// DisputeRepository defines the dispute writes used by the service.
type DisputeRepository interface {
	OpenTx(ctx context.Context, tx pgx.Tx, params OpenParams) (Record, error)
	DecideTx(ctx context.Context, tx pgx.Tx, disputeID string, outcome Decision, decidedBy string) (Record, error)
	ApplyRefundTx(ctx context.Context, tx pgx.Tx, jobID string) error
}

// Releaser is the slice of the release gate a favorable resolution needs.
// Both writes share the resolution transaction so a race between two
// resolvers cannot double-pay.
type Releaser interface {
	LockJob(ctx context.Context, tx pgx.Tx, jobID string) (release.Job, error)
	ExecuteRelease(ctx context.Context, tx pgx.Tx, job release.Job, policy release.Policy) (release.Result, error)
}

// Resolution bundles the decided dispute with the release outcome, if any.
type Resolution struct {
	Dispute Record
	Release *release.Result
}

type Service struct {
	pool     TxBeginner
	repo     DisputeRepository
	releaser Releaser
	policy   release.Policy
	log      *slog.Logger
}

func NewService(pool TxBeginner, repo DisputeRepository, releaser Releaser, policy release.Policy, log *slog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if releaser == nil {
		releaser = release.NewRepository()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, repo: repo, releaser: releaser, policy: policy, log: log}
}

// Open creates a dispute for a job. It fails if one is already open or if the
// payout has been released; the job flips to DISPUTED with payout fields
// untouched.
func (s *Service) Open(ctx context.Context, params OpenParams) (Record, error) {
	if params.JobID == "" {
		return Record{}, fmt.Errorf("dispute: missing job id")
	}
	if params.Reason == "" {
		return Record{}, fmt.Errorf("dispute: missing reason")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Record{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.OpenTx(ctx, tx, params)
	if err != nil {
		return Record{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("dispute: commit open: %w", err)
	}

	s.log.Info("dispute opened", "dispute_id", rec.ID, "job_id", rec.JobID, "opened_by", rec.OpenedBy)
	return rec, nil
}

// Resolve decides a dispute exactly once. When the outcome favors release the
// same transaction creates the transfer legs and ledger evidence and flips the
// job; a second resolution attempt fails with ErrAlreadyDecided and changes
// nothing.
func (s *Service) Resolve(ctx context.Context, disputeID string, outcome Decision, decidedBy string) (Resolution, error) {
	if outcome != DecisionRelease && outcome != DecisionRefund {
		return Resolution{}, fmt.Errorf("dispute: invalid outcome %q", outcome)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Resolution{}, fmt.Errorf("dispute: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, err := s.repo.DecideTx(ctx, tx, disputeID, outcome, decidedBy)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Dispute: rec}

	switch outcome {
	case DecisionRelease:
		job, err := s.releaser.LockJob(ctx, tx, rec.JobID)
		if err != nil {
			return Resolution{}, err
		}
		releaseRes, err := s.releaser.ExecuteRelease(ctx, tx, job, s.policy)
		if err != nil {
			return Resolution{}, err
		}
		res.Release = &releaseRes
	case DecisionRefund:
		if err := s.repo.ApplyRefundTx(ctx, tx, rec.JobID); err != nil {
			return Resolution{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Resolution{}, fmt.Errorf("dispute: commit resolve: %w", err)
	}

	s.log.Info("dispute resolved",
		"dispute_id", disputeID,
		"job_id", rec.JobID,
		"outcome", outcome,
		"decided_by", decidedBy,
	)
	return res, nil
}

package materials

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"escrowflow/bizday"
	"escrowflow/escrow"
)

// TxBeginner abstracts pgxpool.Pool for testability.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// SubEscrowRepository defines the data access required by the service.
type SubEscrowRepository interface {
	SubmitReceiptsTx(ctx context.Context, tx pgx.Tx, escrowID string, totalCents int64) error
	LockSubEscrow(ctx context.Context, tx pgx.Tx, escrowID string) (escrow.Record, string, error)
	ApplyReleaseTx(ctx context.Context, tx pgx.Tx, rec escrow.Record, out Outcome) error
}

// Policy holds the materials remainder threshold; like the audit drift
// tolerance it is configuration, not a derived value.
type Policy struct {
	RemainderCreditThresholdCents int64
}

func DefaultPolicy() Policy {
	return Policy{RemainderCreditThresholdCents: 2000}
}

type Service struct {
	pool   TxBeginner
	repo   SubEscrowRepository
	policy Policy
	now    func() time.Time
	log    *slog.Logger
}

func NewService(pool TxBeginner, repo SubEscrowRepository, policy Policy, log *slog.Logger) *Service {
	if repo == nil {
		repo = NewRepository()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Service{pool: pool, repo: repo, policy: policy, now: time.Now, log: log}
}

// SubmitReceipts records the receipt total for a materials sub-escrow. The
// total is immutable after submission.
func (s *Service) SubmitReceipts(ctx context.Context, escrowID string, totalCents int64) error {
	if totalCents < 0 {
		return fmt.Errorf("materials: negative receipt total")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("materials: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := s.repo.SubmitReceiptsTx(ctx, tx, escrowID, totalCents); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("materials: commit receipts: %w", err)
	}
	return nil
}

// Release pays min(receiptTotal, escrowAmount) to the claimant and returns
// the remainder to the payer. Single-shot: a second attempt reports already
// released without mutating anything.
func (s *Service) Release(ctx context.Context, escrowID string) (Outcome, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Outcome{}, fmt.Errorf("materials: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	rec, country, err := s.repo.LockSubEscrow(ctx, tx, escrowID)
	if err != nil {
		return Outcome{}, err
	}
	if rec.Status == escrow.StatusReleased {
		return Outcome{}, ErrAlreadyReleased
	}
	if rec.Status != escrow.StatusFunded {
		return Outcome{}, fmt.Errorf("%w: status %s", ErrNotFunded, rec.Status)
	}
	if rec.ReceiptTotalCents == nil {
		return Outcome{}, ErrReceiptsNotSubmitted
	}

	out := ComputeOutcome(rec.AmountCents, *rec.ReceiptTotalCents, s.policy.RemainderCreditThresholdCents)
	if out.Method == RemainderRefund {
		scheduled, err := bizday.NextBusinessDay(s.now().UTC(), country)
		if err != nil {
			return Outcome{}, fmt.Errorf("materials: schedule refund: %w", err)
		}
		out.ScheduledFor = &scheduled
	}

	if err := s.repo.ApplyReleaseTx(ctx, tx, rec, out); err != nil {
		return Outcome{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Outcome{}, fmt.Errorf("materials: commit release: %w", err)
	}

	s.log.Info("materials sub-escrow released",
		"escrow_id", escrowID,
		"reimbursed_cents", out.ReimbursedCents,
		"remainder_cents", out.RemainderCents,
		"remainder_method", out.Method,
	)
	return out, nil
}

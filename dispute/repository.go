package dispute

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/ledger"
)

var (
	ErrNotFound       = errors.New("dispute: not found")
	ErrAlreadyOpen    = errors.New("dispute: job already has an open dispute")
	ErrAlreadyDecided = errors.New("dispute: already decided")
	ErrJobNotFound    = errors.New("dispute: job not found")
	ErrJobReleased    = errors.New("dispute: payout already released")
)

// Repository executes dispute writes inside the caller's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

const columns = `id, job_id, opened_by, against, reason, deadline, status, decision,
       decided_by, decided_at, created_at, updated_at`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.JobID, &rec.OpenedBy, &rec.Against, &rec.Reason,
		&rec.Deadline, &rec.Status, &rec.Decision, &rec.DecidedBy, &rec.DecidedAt,
		&rec.CreatedAt, &rec.UpdatedAt)
	return rec, err
}

// OpenTx inserts an OPEN dispute and flips the job to DISPUTED. The partial
// unique index on open disputes makes the duplicate check atomic with the
// insert; payout fields are never touched.
func (r *Repository) OpenTx(ctx context.Context, tx pgx.Tx, params OpenParams) (Record, error) {
	var payoutStatus string
	err := tx.QueryRow(ctx,
		`SELECT payout_status FROM jobs WHERE id = $1 FOR UPDATE`, params.JobID).Scan(&payoutStatus)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrJobNotFound
		}
		return Record{}, fmt.Errorf("dispute: lock job: %w", err)
	}
	if payoutStatus == "RELEASED" {
		return Record{}, ErrJobReleased
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO disputes (job_id, opened_by, against, reason, deadline, status)
		VALUES ($1,$2,$3,$4,$5,'OPEN')
		RETURNING `+columns,
		params.JobID, params.OpenedBy, params.Against, params.Reason, params.Deadline)

	rec, err := scanRecord(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Record{}, ErrAlreadyOpen
		}
		return Record{}, fmt.Errorf("dispute: insert: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE jobs SET status = 'DISPUTED', updated_at = now() WHERE id = $1
	`, params.JobID); err != nil {
		return Record{}, fmt.Errorf("dispute: mark job disputed: %w", err)
	}

	return rec, nil
}

// DecideTx marks the dispute decided exactly once via a guarded update. A
// second attempt surfaces ErrAlreadyDecided, never a silent no-op.
func (r *Repository) DecideTx(ctx context.Context, tx pgx.Tx, disputeID string, outcome Decision, decidedBy string) (Record, error) {
	row := tx.QueryRow(ctx, `
		UPDATE disputes
		SET status = 'DECIDED', decision = $2, decided_by = $3,
		    decided_at = now(), updated_at = now()
		WHERE id = $1 AND status = 'OPEN'
		RETURNING `+columns, disputeID, outcome, decidedBy)

	rec, err := scanRecord(row)
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Record{}, fmt.Errorf("dispute: decide: %w", err)
	}

	var status Status
	if err := tx.QueryRow(ctx,
		`SELECT status FROM disputes WHERE id = $1`, disputeID).Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("dispute: decide fetch: %w", err)
	}
	if status != StatusOpen {
		return Record{}, ErrAlreadyDecided
	}
	return Record{}, ErrNotFound
}

// ApplyRefundTx records a refund decision: the primary escrow is marked FAILED
// (the processor returns the funds out of band) and an adjustment entry keeps
// the ledger trail complete. Payout fields stay untouched.
func (r *Repository) ApplyRefundTx(ctx context.Context, tx pgx.Tx, jobID string) error {
	var escrowID string
	var amountCents int64
	var currency string
	err := tx.QueryRow(ctx, `
		UPDATE escrows
		SET status = 'FAILED', updated_at = now()
		WHERE job_id = $1 AND kind = 'JOB' AND status = 'FUNDED'
		RETURNING id, amount_cents, currency
	`, jobID).Scan(&escrowID, &amountCents, &currency)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("dispute: no funded escrow to refund for job %s", jobID)
		}
		return fmt.Errorf("dispute: mark escrow failed: %w", err)
	}

	if _, err := ledger.AppendTx(ctx, tx, ledger.InsertParams{
		UserID:      ledger.SystemUserID,
		JobID:       jobID,
		EscrowID:    &escrowID,
		Type:        ledger.TypeAdjustment,
		Direction:   ledger.DirDebit,
		Bucket:      ledger.BucketHeld,
		AmountCents: amountCents,
		Currency:    currency,
	}); err != nil {
		return err
	}
	return nil
}

// ListByJob returns the dispute history for a job, newest first.
func (r *Repository) ListByJob(ctx context.Context, pool *pgxpool.Pool, jobID string) ([]Record, error) {
	rows, err := pool.Query(ctx,
		`SELECT `+columns+` FROM disputes WHERE job_id = $1 ORDER BY created_at DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("dispute: list: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, 4)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("dispute: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("dispute: iterate: %w", err)
	}
	return out, nil
}

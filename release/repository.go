package release

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/transfer"
)

// Repository executes the release unit of work. All methods take the caller's
// transaction so the dispute service can run the same writes inside its own
// atomic unit.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// LockJob loads the job row FOR UPDATE so concurrent release attempts serialize.
func (r *Repository) LockJob(ctx context.Context, tx pgx.Tx, jobID string) (Job, error) {
	const query = `
		SELECT id, status, payout_status, amount_cents, currency, country,
		       contractor_user_id, router_user_id, customer_user_id, released_at
		FROM jobs
		WHERE id = $1
		FOR UPDATE
	`

	var job Job
	err := tx.QueryRow(ctx, query, jobID).Scan(&job.ID, &job.Status, &job.PayoutStatus,
		&job.AmountCents, &job.Currency, &job.Country,
		&job.ContractorUserID, &job.RouterUserID, &job.CustomerUserID, &job.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Job{}, ErrJobNotFound
		}
		return Job{}, fmt.Errorf("release: lock job: %w", err)
	}
	return job, nil
}

// HasOpenDispute reports whether an OPEN dispute exists for the job.
func (r *Repository) HasOpenDispute(ctx context.Context, tx pgx.Tx, jobID string) (bool, error) {
	var open bool
	err := tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM disputes WHERE job_id = $1 AND status = 'OPEN')`, jobID).Scan(&open)
	if err != nil {
		return false, fmt.Errorf("release: check open dispute: %w", err)
	}
	return open, nil
}

// ExistingResult reconstructs the outcome of a prior release for idempotent
// reads on retry.
func (r *Repository) ExistingResult(ctx context.Context, tx pgx.Tx, job Job) (Result, error) {
	res := Result{JobID: job.ID}
	if job.ReleasedAt != nil {
		res.ReleasedAt = *job.ReleasedAt
	}

	rows, err := tx.Query(ctx,
		`SELECT id, role FROM transfers WHERE job_id = $1 ORDER BY created_at, id`, job.ID)
	if err != nil {
		return Result{}, fmt.Errorf("release: load existing legs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id string
		var role transfer.Role
		if err := rows.Scan(&id, &role); err != nil {
			return Result{}, fmt.Errorf("release: scan existing leg: %w", err)
		}
		switch role {
		case transfer.RoleContractor:
			res.TransferIDs[0] = id
		case transfer.RoleRouter:
			res.TransferIDs[1] = id
		case transfer.RolePlatform:
			res.TransferIDs[2] = id
		}
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("release: iterate existing legs: %w", err)
	}
	return res, nil
}

// ExecuteRelease performs the whole release unit inside tx: precondition
// checks, the guarded status flip, escrow release, three legs, and the ledger
// evidence. Callers must have locked the job row already.
func (r *Repository) ExecuteRelease(ctx context.Context, tx pgx.Tx, job Job, policy Policy) (Result, error) {
	if job.PayoutStatus == PayoutReleased {
		existing, err := r.ExistingResult(ctx, tx, job)
		if err != nil {
			return Result{}, err
		}
		return Result{}, &AlreadyReleasedError{Existing: existing}
	}

	esc, err := r.lockPrimaryEscrow(ctx, tx, job.ID)
	if err != nil {
		return Result{}, err
	}
	if esc.Status != escrow.StatusFunded {
		return Result{}, fmt.Errorf("%w: escrow %s is %s", ErrEscrowNotFunded, esc.ID, esc.Status)
	}

	// Guarded flip: a racing transaction that got here first wins and this one
	// surfaces a loud conflict instead of double-paying.
	var releasedAt time.Time
	err = tx.QueryRow(ctx, `
		UPDATE jobs
		SET payout_status = 'RELEASED', status = 'RELEASED',
		    released_at = now(), updated_at = now()
		WHERE id = $1 AND payout_status <> 'RELEASED'
		RETURNING released_at
	`, job.ID).Scan(&releasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Result{}, ErrAlreadyReleased
		}
		return Result{}, fmt.Errorf("release: flip payout status: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		UPDATE escrows
		SET status = 'RELEASED', released_at = now(), updated_at = now()
		WHERE id = $1
	`, esc.ID); err != nil {
		return Result{}, fmt.Errorf("release: mark escrow released: %w", err)
	}

	if _, err := ledger.AppendTx(ctx, tx, ledger.InsertParams{
		UserID:      ledger.SystemUserID,
		JobID:       job.ID,
		EscrowID:    &esc.ID,
		Type:        ledger.TypeEscrowRelease,
		Direction:   ledger.DirDebit,
		Bucket:      ledger.BucketHeld,
		AmountCents: esc.AmountCents,
		Currency:    esc.Currency,
	}); err != nil {
		return Result{}, err
	}

	contractorCents, routerCents, platformCents := policy.Split(esc.AmountCents)

	legs := []transfer.Leg{
		{JobID: job.ID, Role: transfer.RoleContractor, UserID: job.ContractorUserID,
			AmountCents: contractorCents, Currency: esc.Currency, Method: transfer.MethodStripe},
		{JobID: job.ID, Role: transfer.RoleRouter, UserID: job.RouterUserID,
			AmountCents: routerCents, Currency: esc.Currency, Method: transfer.MethodStripe},
		{JobID: job.ID, Role: transfer.RolePlatform, UserID: ledger.SystemUserID,
			AmountCents: platformCents, Currency: esc.Currency, Method: transfer.MethodStripe},
	}

	var res Result
	res.JobID = job.ID
	res.ReleasedAt = releasedAt

	for i := range legs {
		if legs[i].Role != transfer.RolePlatform {
			ref := "tr_" + uuid.NewString()
			legs[i].ExternalRef = &ref
		}
		legs[i].Status = transfer.StatusSent

		id, err := insertLeg(ctx, tx, legs[i])
		if err != nil {
			return Result{}, err
		}
		legs[i].ID = id
		res.TransferIDs[i] = id

		sig := legs[i].ExpectedLedgerSignature()
		if _, err := ledger.AppendTx(ctx, tx, sig.InsertParams(job.ID)); err != nil {
			return Result{}, err
		}
	}

	return res, nil
}

func (r *Repository) lockPrimaryEscrow(ctx context.Context, tx pgx.Tx, jobID string) (escrow.Record, error) {
	const query = `
		SELECT id, job_id, kind, status, amount_cents, currency, payer_user_id, released_at
		FROM escrows
		WHERE job_id = $1 AND kind = 'JOB'
		FOR UPDATE
	`

	var esc escrow.Record
	err := tx.QueryRow(ctx, query, jobID).Scan(&esc.ID, &esc.JobID, &esc.Kind, &esc.Status,
		&esc.AmountCents, &esc.Currency, &esc.PayerUserID, &esc.ReleasedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.Record{}, fmt.Errorf("%w: no primary escrow for job %s", ErrEscrowNotFunded, jobID)
		}
		return escrow.Record{}, fmt.Errorf("release: lock escrow: %w", err)
	}
	return esc, nil
}

func insertLeg(ctx context.Context, tx pgx.Tx, leg transfer.Leg) (string, error) {
	const query = `
		INSERT INTO transfers (job_id, role, user_id, amount_cents, currency, method, status, external_ref)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING id
	`

	var id string
	err := tx.QueryRow(ctx, query, leg.JobID, leg.Role, leg.UserID, leg.AmountCents,
		leg.Currency, leg.Method, leg.Status, leg.ExternalRef).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("release: insert %s leg: %w", leg.Role, err)
	}
	return id, nil
}

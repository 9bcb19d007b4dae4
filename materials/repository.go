package materials

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"escrowflow/escrow"
	"escrowflow/ledger"
)

// Repository executes materials writes inside the caller's transaction.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// SubmitReceiptsTx records the receipt total exactly once. The guard is the
// update condition itself, not a prior read.
func (r *Repository) SubmitReceiptsTx(ctx context.Context, tx pgx.Tx, escrowID string, totalCents int64) error {
	tag, err := tx.Exec(ctx, `
		UPDATE escrows
		SET receipt_total_cents = $2, updated_at = now()
		WHERE id = $1 AND kind = 'MATERIALS' AND receipt_total_cents IS NULL
	`, escrowID, totalCents)
	if err != nil {
		return fmt.Errorf("materials: submit receipts: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var submitted bool
	err = tx.QueryRow(ctx, `
		SELECT receipt_total_cents IS NOT NULL
		FROM escrows WHERE id = $1 AND kind = 'MATERIALS'
	`, escrowID).Scan(&submitted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("materials: submit receipts fetch: %w", err)
	}
	if submitted {
		return ErrReceiptsAlreadySubmitted
	}
	return ErrNotFound
}

// LockSubEscrow loads the MATERIALS escrow plus its job country FOR UPDATE.
func (r *Repository) LockSubEscrow(ctx context.Context, tx pgx.Tx, escrowID string) (escrow.Record, string, error) {
	const query = `
		SELECT e.id, e.job_id, e.kind, e.status, e.amount_cents, e.currency,
		       e.payer_user_id, e.claimant_user_id, e.receipt_total_cents, e.released_at,
		       j.country
		FROM escrows e
		JOIN jobs j ON j.id = e.job_id
		WHERE e.id = $1 AND e.kind = 'MATERIALS'
		FOR UPDATE OF e
	`

	var rec escrow.Record
	var country string
	err := tx.QueryRow(ctx, query, escrowID).Scan(&rec.ID, &rec.JobID, &rec.Kind, &rec.Status,
		&rec.AmountCents, &rec.Currency, &rec.PayerUserID, &rec.ClaimantUserID,
		&rec.ReceiptTotalCents, &rec.ReleasedAt, &country)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return escrow.Record{}, "", ErrNotFound
		}
		return escrow.Record{}, "", fmt.Errorf("materials: lock sub-escrow: %w", err)
	}
	return rec, country, nil
}

// ApplyReleaseTx flips the sub-escrow under the not-yet-released guard and
// writes the reimbursement and remainder ledger entries.
func (r *Repository) ApplyReleaseTx(ctx context.Context, tx pgx.Tx, rec escrow.Record, out Outcome) error {
	tag, err := tx.Exec(ctx, `
		UPDATE escrows
		SET status = 'RELEASED', released_at = now(),
		    reimbursed_cents = $2, remainder_cents = $3, updated_at = now()
		WHERE id = $1 AND status = 'FUNDED'
	`, rec.ID, out.ReimbursedCents, out.RemainderCents)
	if err != nil {
		return fmt.Errorf("materials: flip sub-escrow: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyReleased
	}

	claimant := ledger.SystemUserID
	if rec.ClaimantUserID != nil {
		claimant = *rec.ClaimantUserID
	}

	if out.ReimbursedCents > 0 {
		if _, err := ledger.AppendTx(ctx, tx, ledger.InsertParams{
			UserID:      claimant,
			JobID:       rec.JobID,
			EscrowID:    &rec.ID,
			Type:        ledger.TypeMaterialsReimbursement,
			Direction:   ledger.DirCredit,
			Bucket:      ledger.BucketAvailable,
			AmountCents: out.ReimbursedCents,
			Currency:    rec.Currency,
		}); err != nil {
			return err
		}
	}

	if out.RemainderCents > 0 {
		bucket := ledger.BucketAvailable
		if out.Method == RemainderRefund {
			bucket = ledger.BucketPending
		}
		if _, err := ledger.AppendTx(ctx, tx, ledger.InsertParams{
			UserID:       rec.PayerUserID,
			JobID:        rec.JobID,
			EscrowID:     &rec.ID,
			Type:         ledger.TypeMaterialsRefund,
			Direction:    ledger.DirCredit,
			Bucket:       bucket,
			AmountCents:  out.RemainderCents,
			Currency:     rec.Currency,
			ScheduledFor: out.ScheduledFor,
		}); err != nil {
			return err
		}
	}

	return nil
}

package escrow

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrNotFound = errors.New("escrow: not found")

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, job_id, kind, status, amount_cents, currency, payer_user_id,
       released_at, created_at, updated_at,
       claimant_user_id, receipt_total_cents, reimbursed_cents, remainder_cents`

func scanRecord(row pgx.Row) (Record, error) {
	var rec Record
	err := row.Scan(&rec.ID, &rec.JobID, &rec.Kind, &rec.Status, &rec.AmountCents,
		&rec.Currency, &rec.PayerUserID, &rec.ReleasedAt, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.ClaimantUserID, &rec.ReceiptTotalCents, &rec.ReimbursedCents, &rec.RemainderCents)
	return rec, err
}

// GetByID fetches a single escrow row.
func (r *Repository) GetByID(ctx context.Context, id string) (Record, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+columns+` FROM escrows WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("escrow: get by id: %w", err)
	}
	return rec, nil
}

// ListByJobIDs fetches every escrow referencing any of the given jobs.
func (r *Repository) ListByJobIDs(ctx context.Context, jobIDs []string) ([]Record, error) {
	if len(jobIDs) == 0 {
		return []Record{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM escrows WHERE job_id = ANY($1) ORDER BY created_at, id`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("escrow: list by jobs: %w", err)
	}
	defer rows.Close()

	out := make([]Record, 0, len(jobIDs))
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("escrow: scan: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("escrow: iterate: %w", err)
	}
	return out, nil
}

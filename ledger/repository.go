package ledger

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides append and read access to ledger entries. There is no
// update or delete surface; the table enforces the same rule with a trigger.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const insertSQL = `
INSERT INTO ledger_entries
    (user_id, job_id, escrow_id, type, direction, bucket, amount_cents, currency, external_ref, scheduled_for)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id, created_at
`

// Append writes one entry outside any caller transaction.
func (r *Repository) Append(ctx context.Context, params InsertParams) (Entry, error) {
	return appendRow(ctx, r.pool, params)
}

// AppendTx writes one entry inside the caller's transaction. The release gate
// uses this so ledger evidence commits atomically with the status flip.
func AppendTx(ctx context.Context, tx pgx.Tx, params InsertParams) (Entry, error) {
	return appendRow(ctx, tx, params)
}

type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func appendRow(ctx context.Context, q rowQuerier, params InsertParams) (Entry, error) {
	e := Entry{
		UserID:       params.UserID,
		JobID:        params.JobID,
		EscrowID:     params.EscrowID,
		Type:         params.Type,
		Direction:    params.Direction,
		Bucket:       params.Bucket,
		AmountCents:  params.AmountCents,
		Currency:     params.Currency,
		ExternalRef:  params.ExternalRef,
		ScheduledFor: params.ScheduledFor,
	}
	err := q.QueryRow(ctx, insertSQL,
		params.UserID,
		params.JobID,
		params.EscrowID,
		params.Type,
		params.Direction,
		params.Bucket,
		params.AmountCents,
		params.Currency,
		params.ExternalRef,
		params.ScheduledFor,
	).Scan(&e.ID, &e.CreatedAt)
	if err != nil {
		return Entry{}, fmt.Errorf("ledger: append: %w", err)
	}
	return e, nil
}

// ListByJobIDs fetches every entry referencing any of the given jobs, ordered
// by creation time for stable snapshots.
func (r *Repository) ListByJobIDs(ctx context.Context, jobIDs []string) ([]Entry, error) {
	if len(jobIDs) == 0 {
		return []Entry{}, nil
	}

	const query = `
		SELECT id, user_id, job_id, escrow_id, type, direction, bucket,
		       amount_cents, currency, external_ref, scheduled_for, created_at
		FROM ledger_entries
		WHERE job_id = ANY($1)
		ORDER BY created_at, id
	`

	rows, err := r.pool.Query(ctx, query, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("ledger: list by jobs: %w", err)
	}
	defer rows.Close()

	out := make([]Entry, 0, len(jobIDs)*4)
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.ID, &e.UserID, &e.JobID, &e.EscrowID, &e.Type, &e.Direction,
			&e.Bucket, &e.AmountCents, &e.Currency, &e.ExternalRef, &e.ScheduledFor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("ledger: scan entry: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: iterate entries: %w", err)
	}
	return out, nil
}

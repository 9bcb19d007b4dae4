package transfer

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const columns = `id, job_id, role, user_id, amount_cents, currency, method, status,
       external_ref, created_at, updated_at`

func scanLeg(row pgx.Row) (Leg, error) {
	var l Leg
	err := row.Scan(&l.ID, &l.JobID, &l.Role, &l.UserID, &l.AmountCents, &l.Currency,
		&l.Method, &l.Status, &l.ExternalRef, &l.CreatedAt, &l.UpdatedAt)
	return l, err
}

// ListByJobIDs fetches every leg referencing any of the given jobs.
func (r *Repository) ListByJobIDs(ctx context.Context, jobIDs []string) ([]Leg, error) {
	if len(jobIDs) == 0 {
		return []Leg{}, nil
	}

	rows, err := r.pool.Query(ctx,
		`SELECT `+columns+` FROM transfers WHERE job_id = ANY($1) ORDER BY created_at, id`, jobIDs)
	if err != nil {
		return nil, fmt.Errorf("transfer: list by jobs: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// ListOrphans returns legs created within the trailing window whose job row no
// longer resolves. The transfers table deliberately has no FK to jobs so these
// remain observable for the auditor.
func (r *Repository) ListOrphans(ctx context.Context, since time.Time) ([]Leg, error) {
	const query = `
		SELECT ` + columns + `
		FROM transfers t
		WHERE t.created_at >= $1
		  AND NOT EXISTS (SELECT 1 FROM jobs j WHERE j.id = t.job_id)
		ORDER BY t.created_at, t.id
	`

	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("transfer: list orphans: %w", err)
	}
	defer rows.Close()

	return collect(rows)
}

// MarkStatus flips a leg status on processor failure or retry. Release-side
// creation happens inside the release gate transaction, not here.
func (r *Repository) MarkStatus(ctx context.Context, legID string, status Status) (Leg, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE transfers
		SET status = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+columns, legID, status)
	l, err := scanLeg(row)
	if err != nil {
		return Leg{}, fmt.Errorf("transfer: mark status: %w", err)
	}
	return l, nil
}

func collect(rows pgx.Rows) ([]Leg, error) {
	out := make([]Leg, 0, 8)
	for rows.Next() {
		l, err := scanLeg(rows)
		if err != nil {
			return nil, fmt.Errorf("transfer: scan leg: %w", err)
		}
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("transfer: iterate legs: %w", err)
	}
	return out, nil
}

package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/release"
	"escrowflow/transfer"
)

// LoadParams bounds the snapshot so memory and query cost stay predictable.
type LoadParams struct {
	Take       int // max released jobs, newest release first
	OrphanDays int // trailing window for dangling legs
}

const (
	defaultTake       = 200
	defaultOrphanDays = 30
)

// WithDefaults fills unset bounds.
func (p LoadParams) WithDefaults() LoadParams {
	if p.Take <= 0 {
		p.Take = defaultTake
	}
	if p.OrphanDays <= 0 {
		p.OrphanDays = defaultOrphanDays
	}
	return p
}

// Loader assembles a consistent snapshot for the auditor. It is the only I/O
// the audit path performs.
type Loader struct {
	pool      *pgxpool.Pool
	escrows   *escrow.Repository
	transfers *transfer.Repository
	entries   *ledger.Repository
}

func NewLoader(pool *pgxpool.Pool) *Loader {
	return &Loader{
		pool:      pool,
		escrows:   escrow.NewRepository(pool),
		transfers: transfer.NewRepository(pool),
		entries:   ledger.NewRepository(pool),
	}
}

// Load fetches the released-job batch, then the referencing escrows, legs,
// ledger entries, and orphan legs concurrently.
func (l *Loader) Load(ctx context.Context, params LoadParams) (Snapshot, error) {
	params = params.WithDefaults()

	jobs, err := l.loadReleasedJobs(ctx, params.Take)
	if err != nil {
		return Snapshot{}, err
	}

	jobIDs := make([]string, len(jobs))
	for i, j := range jobs {
		jobIDs[i] = j.ID
	}
	orphanSince := time.Now().UTC().AddDate(0, 0, -params.OrphanDays)

	snap := Snapshot{Jobs: jobs}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Escrows, err = l.escrows.ListByJobIDs(gctx, jobIDs)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Legs, err = l.transfers.ListByJobIDs(gctx, jobIDs)
		return err
	})
	g.Go(func() error {
		var err error
		snap.LedgerEntries, err = l.entries.ListByJobIDs(gctx, jobIDs)
		return err
	})
	g.Go(func() error {
		var err error
		snap.OrphanLegs, err = l.transfers.ListOrphans(gctx, orphanSince)
		return err
	})
	if err := g.Wait(); err != nil {
		return Snapshot{}, fmt.Errorf("audit: load snapshot: %w", err)
	}

	snap.Normalize()
	return snap, nil
}

func (l *Loader) loadReleasedJobs(ctx context.Context, take int) ([]release.Job, error) {
	const query = `
		SELECT id, status, payout_status, amount_cents, currency, country,
		       contractor_user_id, router_user_id, customer_user_id, released_at
		FROM jobs
		WHERE payout_status = 'RELEASED'
		ORDER BY released_at DESC, id
		LIMIT $1
	`

	rows, err := l.pool.Query(ctx, query, take)
	if err != nil {
		return nil, fmt.Errorf("audit: load released jobs: %w", err)
	}
	defer rows.Close()

	jobs := make([]release.Job, 0, take)
	for rows.Next() {
		var j release.Job
		if err := rows.Scan(&j.ID, &j.Status, &j.PayoutStatus, &j.AmountCents, &j.Currency,
			&j.Country, &j.ContractorUserID, &j.RouterUserID, &j.CustomerUserID, &j.ReleasedAt); err != nil {
			return nil, fmt.Errorf("audit: scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("audit: iterate jobs: %w", err)
	}
	return jobs, nil
}

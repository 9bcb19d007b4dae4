// Package actors holds the concurrent workloads the stress run throws at a
// live database. Actors hammer the real services; transient errors are
// expected under contention and chaos, the oracles do the judging.
package actors

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"escrowflow/dispute"
	"escrowflow/materials"
	"escrowflow/release"
)

// Releaser hammers the release gate for one job. Under contention exactly one
// attempt may succeed; every other attempt must fail terminally.
func Releaser(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	svc := release.NewService(pool, nil, release.DefaultPolicy(), nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}
		_, err := svc.ReleaseJobFunds(ctx, jobID, "stress-releaser")
		switch {
		case err == nil:
		case errors.Is(err, release.ErrAlreadyReleased),
			errors.Is(err, release.ErrDisputed),
			errors.Is(err, release.ErrNotEligible):
			// expected under contention
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		default:
			// transient under chaos; keep going
		}
		time.Sleep(time.Duration(10+rand.Intn(30)) * time.Millisecond)
	}
}

// Disputer races the releasers: it opens disputes against the job and later
// resolves whatever dispute is open, with a random outcome.
func Disputer(ctx context.Context, pool *pgxpool.Pool, jobID, customerID, contractorID string, stop <-chan struct{}) error {
	svc := dispute.NewService(pool, nil, nil, release.DefaultPolicy(), nil)
	outcomes := []dispute.Decision{dispute.DecisionRelease, dispute.DecisionRefund}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		_, err := svc.Open(ctx, dispute.OpenParams{
			JobID:    jobID,
			OpenedBy: customerID,
			Against:  contractorID,
			Reason:   "stress: contested completion",
		})
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}

		var disputeID string
		err = pool.QueryRow(ctx, `SELECT id FROM disputes WHERE job_id = $1 AND status = 'OPEN' LIMIT 1`, jobID).Scan(&disputeID)
		if err == nil {
			outcome := outcomes[rand.Intn(len(outcomes))]
			_, err = svc.Resolve(ctx, disputeID, outcome, customerID)
			switch {
			case err == nil:
			case errors.Is(err, dispute.ErrAlreadyDecided), errors.Is(err, dispute.ErrNotFound):
				// lost the race, fine
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return nil
			}
		}
		time.Sleep(time.Duration(50+rand.Intn(100)) * time.Millisecond)
	}
}

// MaterialsCourier submits receipts for a materials sub-escrow and tries to
// release it repeatedly; only the first release may take effect.
func MaterialsCourier(ctx context.Context, pool *pgxpool.Pool, escrowID string, receiptCents int64, stop <-chan struct{}) error {
	svc := materials.NewService(pool, nil, materials.DefaultPolicy(), nil)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		if err := svc.SubmitReceipts(ctx, escrowID, receiptCents); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
		}

		_, err := svc.Release(ctx, escrowID)
		switch {
		case err == nil:
		case errors.Is(err, materials.ErrAlreadyReleased),
			errors.Is(err, materials.ErrReceiptsNotSubmitted):
			// expected under contention
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return nil
		}
		time.Sleep(time.Duration(40+rand.Intn(80)) * time.Millisecond)
	}
}

// LedgerVandal attempts direct mutation of ledger rows. The database guard
// must reject every attempt; a successful mutation fails the run.
func LedgerVandal(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	statements := []string{
		`UPDATE ledger_entries SET amount_cents = 0 WHERE job_id = $1`,
		`DELETE FROM ledger_entries WHERE job_id = $1`,
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		stmt := statements[rand.Intn(len(statements))]
		tag, err := pool.Exec(ctx, stmt, jobID)
		if err == nil && tag.RowsAffected() > 0 {
			return fmt.Errorf("ledger mutation succeeded: %s affected %d rows", stmt, tag.RowsAffected())
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil
		}
		time.Sleep(time.Duration(100+rand.Intn(100)) * time.Millisecond)
	}
}

// ReplayReader re-reads a released job's transfers to confirm stability while
// writers churn.
func ReplayReader(ctx context.Context, pool *pgxpool.Pool, jobID string, stop <-chan struct{}) error {
	var firstSeen []string
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-stop:
			return nil
		default:
		}

		rows, err := pool.Query(ctx, `SELECT id FROM transfers WHERE job_id = $1 ORDER BY id`, jobID)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			time.Sleep(100 * time.Millisecond)
			continue
		}
		ids, err := collectStrings(rows)
		if err == nil && len(ids) > 0 {
			if firstSeen == nil {
				firstSeen = ids
			} else if !equalStrings(firstSeen, ids) {
				return fmt.Errorf("transfer set changed after release: %v then %v", firstSeen, ids)
			}
		}
		time.Sleep(time.Duration(30+rand.Intn(50)) * time.Millisecond)
	}
}

func collectStrings(rows pgx.Rows) ([]string, error) {
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Package oracles holds SQL invariant checks run against a live database
// during stress runs. Each query returns rows only when its invariant is
// broken.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

type Oracle struct {
	Name string
	SQL  string
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "O1_single_primary_escrow",
			SQL: `SELECT job_id, COUNT(*) FROM escrows
                  WHERE kind = 'JOB'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O2_released_job_shape",
			SQL: `SELECT id FROM jobs
                  WHERE payout_status = 'RELEASED'
                    AND (released_at IS NULL OR status <> 'RELEASED')`,
		},
		{
			Name: "O3_leg_role_multiplicity",
			SQL: `SELECT t.job_id, t.role, COUNT(*) FROM transfers t
                  JOIN jobs j ON j.id = t.job_id AND j.payout_status = 'RELEASED'
                  GROUP BY t.job_id, t.role HAVING COUNT(*) > 1`,
		},
		{
			Name: "O4_leg_role_coverage",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.payout_status = 'RELEASED'
                    AND (SELECT COUNT(DISTINCT role) FROM transfers t WHERE t.job_id = j.id) <> 3`,
		},
		{
			Name: "O5_payout_sum_conservation",
			SQL: `SELECT j.id, j.amount_cents, SUM(t.amount_cents) FROM jobs j
                  JOIN transfers t ON t.job_id = j.id
                  WHERE j.payout_status = 'RELEASED'
                  GROUP BY j.id HAVING SUM(t.amount_cents) <> j.amount_cents`,
		},
		{
			Name: "O6_single_open_dispute",
			SQL: `SELECT job_id, COUNT(*) FROM disputes
                  WHERE status = 'OPEN'
                  GROUP BY job_id HAVING COUNT(*) > 1`,
		},
		{
			Name: "O7_no_release_under_open_dispute",
			SQL: `SELECT d.id FROM disputes d
                  JOIN jobs j ON j.id = d.job_id
                  WHERE d.status = 'OPEN' AND j.payout_status = 'RELEASED'`,
		},
		{
			Name: "O8_ledger_release_evidence",
			SQL: `SELECT j.id FROM jobs j
                  WHERE j.payout_status = 'RELEASED'
                    AND NOT EXISTS (
                        SELECT 1 FROM ledger_entries le
                        WHERE le.job_id = j.id
                          AND le.type = 'ESCROW_RELEASE' AND le.direction = 'DEBIT')`,
		},
		{
			Name: "O9_ledger_leg_evidence",
			SQL: `SELECT t.id FROM transfers t
                  JOIN jobs j ON j.id = t.job_id AND j.payout_status = 'RELEASED'
                  WHERE t.status = 'SENT'
                    AND NOT EXISTS (
                        SELECT 1 FROM ledger_entries le
                        WHERE le.job_id = t.job_id
                          AND le.user_id = t.user_id
                          AND le.amount_cents = t.amount_cents
                          AND le.direction = 'CREDIT'
                          AND le.type = CASE WHEN t.role = 'PLATFORM'
                                             THEN 'PLATFORM_FEE' ELSE 'PAYOUT' END)`,
		},
		{
			Name: "O10_ledger_delete_guard",
			SQL: `SELECT 'missing_no_mutate_ledger_entries_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_mutate_ledger_entries')`,
		},
	}
}

// Run executes all oracles and returns the first failure (name and sample row
// text) or empty name if all pass.
func Run(ctx context.Context, pool *pgxpool.Pool) (string, string, error) {
	for _, o := range All() {
		rows, err := pool.Query(ctx, o.SQL)
		if err != nil {
			return o.Name, "", fmt.Errorf("oracle %s: %w", o.Name, err)
		}
		has := rows.Next()
		if has {
			vals, err := rows.Values()
			rows.Close()
			if err != nil {
				return o.Name, "", err
			}
			return o.Name, fmt.Sprintf("%v", vals), nil
		}
		rows.Close()
	}
	return "", "", nil
}

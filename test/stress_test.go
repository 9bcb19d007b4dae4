package test

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"math/rand"
	"os"
	"os/exec"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"escrowflow/audit"
	"escrowflow/ledger"
	"escrowflow/test/actors"
	"escrowflow/test/chaos"
	"escrowflow/test/infra"
	"escrowflow/test/oracles"
)

var (
	flDuration    = flag.Duration("duration", 30*time.Second, "how long to run stress")
	flConcurrency = flag.Int("concurrency", 8, "number of concurrent releasers")
	flSeed        = flag.Int64("seed", time.Now().UnixNano(), "random seed")
	flDSN         = flag.String("dsn", "", "existing Postgres DSN to reuse (avoids Docker)")
)

func TestPayoutReleaseConcurrency(t *testing.T) {
	flag.Parse()
	seed := *flSeed
	seedRNG(seed)

	var (
		pgC        *infra.PGContainer
		dsn        string
		err        error
		usedShared bool
	)
	ctx, cancel := context.WithTimeout(context.Background(), *flDuration+60*time.Second)
	defer cancel()

	switch {
	case *flDSN != "":
		dsn = *flDSN
		usedShared = true
		pgC = &infra.PGContainer{}
	case os.Getenv("STRESS_TEST_PG_DSN") != "":
		dsn = os.Getenv("STRESS_TEST_PG_DSN")
		usedShared = true
		pgC = &infra.PGContainer{}
	default:
		if dockerAvailable(ctx) {
			pgC, dsn, err = infra.StartPostgres16(ctx, "")
			if err != nil {
				t.Fatalf("start postgres: %v", err)
			}
		} else {
			dsn, err = infra.InitLocalDatabase(ctx)
			if err != nil {
				t.Skipf("neither Docker nor local PostgreSQL available: %v", err)
			}
			pgC = &infra.PGContainer{}
		}
	}
	defer pgC.Terminate(context.Background())

	pool, teardown, err := infra.ApplyMigrations(ctx, dsn, usedShared)
	if err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	defer pool.Close()
	defer func() {
		if err := teardown(context.Background()); err != nil {
			t.Logf("teardown warning: %v", err)
		}
	}()

	seedData := mustSeed(t, ctx, pool)

	g, ctx2 := errgroup.WithContext(ctx)
	stop := make(chan struct{})

	// releasers battling over the same job
	for i := 0; i < *flConcurrency; i++ {
		g.Go(func() error {
			return actors.Releaser(ctx2, pool, seedData.jobID, stop)
		})
	}
	// disputer racing the releasers
	g.Go(func() error {
		return actors.Disputer(ctx2, pool, seedData.jobID, seedData.customerID, seedData.contractorID, stop)
	})
	// materials couriers contending over the sub-escrow
	for i := 0; i < 2; i++ {
		g.Go(func() error {
			return actors.MaterialsCourier(ctx2, pool, seedData.materialsEscrowID, 4500, stop)
		})
	}
	// ledger vandal probing the immutability guard
	g.Go(func() error { return actors.LedgerVandal(ctx2, pool, seedData.jobID, stop) })
	// reader confirming the transfer set is stable once written
	g.Go(func() error { return actors.ReplayReader(ctx2, pool, seedData.jobID, stop) })
	// chaos: kill random backends
	go chaos.TerminateRandomBackend(ctx2, pool, stop)

	deadline := time.Now().Add(*flDuration)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	var failed bool
loop:
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			name, row, err := oracles.Run(ctx2, pool)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					break loop
				}
				t.Fatalf("oracle error: %v", err)
			}
			if name != "" {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("Oracle %s failed. First row: %s (seed=%d)", name, row, seed)
			}
			if report := runAudit(t, ctx2, pool); len(report.Violations) > 0 {
				failed = true
				dumpRecent(t, ctx2, pool)
				t.Fatalf("audit found %d violations under stress, first: %+v (seed=%d)",
					len(report.Violations), report.Violations[0], seed)
			}
		}
	}

	close(stop)
	if err := g.Wait(); err != nil && !failed {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("actors errored: %v", err)
		}
	}
}

// runAudit exercises the full loader and auditor against the live database,
// the same path the CLI takes.
func runAudit(t *testing.T, ctx context.Context, pool *pgxpool.Pool) audit.Report {
	t.Helper()
	snap, err := audit.NewLoader(pool).Load(ctx, audit.LoadParams{Take: 50, OrphanDays: 30})
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return audit.Report{}
		}
		t.Fatalf("load audit snapshot: %v", err)
	}
	return audit.Run(snap, audit.DefaultConfig())
}

func seedRNG(seed int64) { rand.Seed(seed) }

func dockerAvailable(ctx context.Context) bool {
	if _, err := exec.LookPath("docker"); err != nil {
		return false
	}
	c := exec.CommandContext(ctx, "docker", "info")
	c.Stdout = io.Discard
	c.Stderr = io.Discard
	return c.Run() == nil
}

type seedIDs struct {
	jobID             string
	contractorID      string
	routerID          string
	customerID        string
	materialsEscrowID string
}

func mustSeed(t *testing.T, ctx context.Context, pool *pgxpool.Pool) seedIDs {
	t.Helper()
	s := seedIDs{
		contractorID: uuid.NewString(),
		routerID:     uuid.NewString(),
		customerID:   uuid.NewString(),
	}

	// job awaiting release
	if err := pool.QueryRow(ctx, `
		INSERT INTO jobs (status, payout_status, amount_cents, currency, country,
		                  contractor_user_id, router_user_id, customer_user_id)
		VALUES ('COMPLETION_PENDING', 'NOT_RELEASED', 10000, 'USD', 'US', $1, $2, $3)
		RETURNING id`,
		s.contractorID, s.routerID, s.customerID).Scan(&s.jobID); err != nil {
		t.Fatalf("seed job: %v", err)
	}

	// funded primary escrow
	if _, err := pool.Exec(ctx, `
		INSERT INTO escrows (job_id, kind, status, amount_cents, currency, payer_user_id)
		VALUES ($1, 'JOB', 'FUNDED', 10000, 'USD', $2)`,
		s.jobID, s.customerID); err != nil {
		t.Fatalf("seed primary escrow: %v", err)
	}

	// funding evidence in the ledger
	if _, err := pool.Exec(ctx, `
		INSERT INTO ledger_entries (user_id, job_id, type, direction, bucket, amount_cents, currency)
		VALUES ($1, $2, 'ESCROW_FUND', 'CREDIT', 'HELD', 10000, 'USD')`,
		ledger.SystemUserID, s.jobID); err != nil {
		t.Fatalf("seed fund entry: %v", err)
	}

	// funded materials sub-escrow for the courier actors
	if err := pool.QueryRow(ctx, `
		INSERT INTO escrows (job_id, kind, status, amount_cents, currency, payer_user_id, claimant_user_id)
		VALUES ($1, 'MATERIALS', 'FUNDED', 6000, 'USD', $2, $3)
		RETURNING id`,
		s.jobID, s.customerID, s.contractorID).Scan(&s.materialsEscrowID); err != nil {
		t.Fatalf("seed materials escrow: %v", err)
	}

	return s
}

func dumpRecent(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	type dump struct {
		name string
		sql  string
	}
	dumps := []dump{
		{"jobs", `SELECT id, status, payout_status, released_at FROM jobs ORDER BY updated_at DESC LIMIT 20`},
		{"transfers", `SELECT id, job_id, role, amount_cents, status FROM transfers ORDER BY created_at DESC LIMIT 50`},
		{"ledger_entries", `SELECT id, job_id, type, direction, bucket, amount_cents FROM ledger_entries ORDER BY created_at DESC LIMIT 50`},
		{"disputes", `SELECT id, job_id, status, decision, decided_at FROM disputes ORDER BY updated_at DESC LIMIT 20`},
	}
	for _, d := range dumps {
		rows, err := pool.Query(ctx, d.sql)
		if err != nil {
			t.Logf("dump %s error: %v", d.name, err)
			continue
		}
		cols := rows.FieldDescriptions()
		t.Logf("-- %s --", d.name)
		for rows.Next() {
			vals, _ := rows.Values()
			buf := make([]any, 0, len(vals))
			for i := range vals {
				buf = append(buf, fmt.Sprintf("%s=%v", string(cols[i].Name), vals[i]))
			}
			t.Logf("%s", buf)
		}
		rows.Close()
	}
}

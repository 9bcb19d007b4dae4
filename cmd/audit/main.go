// Command audit runs the payout integrity audit once and prints the report as
// JSON. Exit code 1 means a CRITICAL finding exists; exit code 2 means the run
// itself failed.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"escrowflow/audit"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/logger"
	"escrowflow/notify"
)

func main() {
	_ = godotenv.Load()

	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to YAML config file")
	take := flag.Int("take", 0, "max released jobs to audit (default 200)")
	orphanDays := flag.Int("orphanDays", 0, "trailing window in days for orphan transfer legs (default 30)")
	maxExamples := flag.Int("maxExamples", 5, "max critical findings forwarded to the ops webhook")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logger.New(logger.Config(cfg.Logging))

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		log.Error("bootstrap database pool", "error", err)
		os.Exit(2)
	}
	defer pool.Close()

	params := audit.LoadParams{Take: *take, OrphanDays: *orphanDays}.WithDefaults()
	snap, err := audit.NewLoader(pool).Load(ctx, params)
	if err != nil {
		log.Error("load snapshot", "error", err)
		os.Exit(2)
	}

	report := audit.Run(snap, audit.Config{DriftToleranceCents: cfg.Audit.DriftToleranceCents})

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(report); err != nil {
		log.Error("encode report", "error", err)
		os.Exit(2)
	}

	log.Info("audit complete",
		"jobs_audited", report.Summary.ReleasedJobsAudited,
		"violations", report.Summary.ViolationCount,
		"critical", report.HasCritical(),
	)

	if report.HasCritical() {
		notifier := notify.New(cfg.Notify.WebhookURL, 10*time.Second, log)
		notifier.Send(ctx, notify.Payload{
			Kind:      "payout_integrity_audit",
			Timestamp: time.Now().UTC(),
			Window:    notify.Window{Take: params.Take, OrphanDays: params.OrphanDays},
			Summary:   report.Summary,
			TopItems:  report.TopBySeverity(audit.SeverityCritical, *maxExamples),
		})
		os.Exit(1)
	}
}

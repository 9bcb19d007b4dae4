package audit

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/release"
	"escrowflow/transfer"
)

// cleanSnapshot builds one fully consistent released job: escrow RELEASED with
// released_at set, three SENT legs summing to the escrow amount, and matching
// fund/release/payout ledger entries.
func cleanSnapshot() Snapshot {
	at := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)
	job := release.Job{
		ID:               "job-1",
		Status:           release.JobStatusReleased,
		PayoutStatus:     release.PayoutReleased,
		AmountCents:      10000,
		Currency:         "USD",
		Country:          "US",
		ContractorUserID: "user-contractor",
		RouterUserID:     "user-router",
		CustomerUserID:   "user-customer",
		ReleasedAt:       &at,
	}

	escrowID := "esc-1"
	esc := escrow.Record{
		ID:          escrowID,
		JobID:       job.ID,
		Kind:        escrow.KindJob,
		Status:      escrow.StatusReleased,
		AmountCents: 10000,
		Currency:    "USD",
		PayerUserID: "user-customer",
		ReleasedAt:  &at,
	}

	contractorRef := "tr_contractor"
	routerRef := "tr_router"
	legs := []transfer.Leg{
		{ID: "leg-contractor", JobID: job.ID, Role: transfer.RoleContractor, UserID: "user-contractor",
			AmountCents: 8500, Currency: "USD", Method: transfer.MethodStripe,
			Status: transfer.StatusSent, ExternalRef: &contractorRef},
		{ID: "leg-router", JobID: job.ID, Role: transfer.RoleRouter, UserID: "user-router",
			AmountCents: 500, Currency: "USD", Method: transfer.MethodStripe,
			Status: transfer.StatusSent, ExternalRef: &routerRef},
		{ID: "leg-platform", JobID: job.ID, Role: transfer.RolePlatform, UserID: ledger.SystemUserID,
			AmountCents: 1000, Currency: "USD", Method: transfer.MethodStripe,
			Status: transfer.StatusSent},
	}

	entries := []ledger.Entry{
		{ID: "le-fund", UserID: ledger.SystemUserID, JobID: job.ID, EscrowID: &escrowID,
			Type: ledger.TypeEscrowFund, Direction: ledger.DirCredit, Bucket: ledger.BucketHeld,
			AmountCents: 10000, Currency: "USD"},
		{ID: "le-release", UserID: ledger.SystemUserID, JobID: job.ID, EscrowID: &escrowID,
			Type: ledger.TypeEscrowRelease, Direction: ledger.DirDebit, Bucket: ledger.BucketHeld,
			AmountCents: 10000, Currency: "USD"},
		{ID: "le-contractor", UserID: "user-contractor", JobID: job.ID,
			Type: ledger.TypePayout, Direction: ledger.DirCredit, Bucket: ledger.BucketPaid,
			AmountCents: 8500, Currency: "USD", ExternalRef: &contractorRef},
		{ID: "le-router", UserID: "user-router", JobID: job.ID,
			Type: ledger.TypePayout, Direction: ledger.DirCredit, Bucket: ledger.BucketPaid,
			AmountCents: 500, Currency: "USD", ExternalRef: &routerRef},
		{ID: "le-platform", UserID: ledger.SystemUserID, JobID: job.ID,
			Type: ledger.TypePlatformFee, Direction: ledger.DirCredit, Bucket: ledger.BucketAvailable,
			AmountCents: 1000, Currency: "USD"},
	}

	return Snapshot{
		Jobs:          []release.Job{job},
		Escrows:       []escrow.Record{esc},
		Legs:          legs,
		LedgerEntries: entries,
	}
}

func countOf(t *testing.T, rep Report, vtype string) int {
	t.Helper()
	return rep.Summary.CountsByType[vtype]
}

func TestRun_CleanFixtureHasNoViolations(t *testing.T) {
	rep := Run(cleanSnapshot(), DefaultConfig())
	if rep.Summary.ViolationCount != 0 {
		t.Fatalf("expected 0 violations, got %d: %+v", rep.Summary.ViolationCount, rep.Violations)
	}
	if rep.Summary.ReleasedJobsAudited != 1 {
		t.Errorf("expected 1 job audited, got %d", rep.Summary.ReleasedJobsAudited)
	}
	if rep.HasCritical() {
		t.Error("clean fixture must not be critical")
	}
}

func TestRun_MissingRouterLeg(t *testing.T) {
	snap := cleanSnapshot()
	legs := snap.Legs[:0]
	for _, l := range snap.Legs {
		if l.Role != transfer.RoleRouter {
			legs = append(legs, l)
		}
	}
	snap.Legs = legs

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeTransferLegRoleMissing) != 1 {
		t.Errorf("expected TRANSFER_LEG_ROLE_MISSING, got %+v", rep.Summary.CountsByType)
	}
	if countOf(t, rep, TypeTransferLegCountMismatch) != 1 {
		t.Errorf("expected TRANSFER_LEG_COUNT_MISMATCH, got %+v", rep.Summary.CountsByType)
	}
	// The router amount is gone from the sum as well.
	if countOf(t, rep, TypeTransferSumMismatch) != 1 {
		t.Errorf("expected TRANSFER_SUM_MISMATCH, got %+v", rep.Summary.CountsByType)
	}
	if rep.Summary.JobsWithViolations != 1 {
		t.Errorf("expected 1 job with violations, got %d", rep.Summary.JobsWithViolations)
	}
}

func TestRun_DuplicateRole(t *testing.T) {
	snap := cleanSnapshot()
	dup := snap.Legs[1]
	dup.ID = "leg-router-dup"
	snap.Legs = append(snap.Legs, dup)

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeTransferLegDuplicateRole) != 1 {
		t.Errorf("expected TRANSFER_LEG_DUPLICATE_ROLE, got %+v", rep.Summary.CountsByType)
	}
	if countOf(t, rep, TypeTransferLegCountMismatch) != 1 {
		t.Errorf("expected TRANSFER_LEG_COUNT_MISMATCH, got %+v", rep.Summary.CountsByType)
	}
}

func TestRun_SumMismatch(t *testing.T) {
	snap := cleanSnapshot()
	snap.Legs[0].AmountCents += 7

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeTransferSumMismatch) != 1 {
		t.Errorf("expected TRANSFER_SUM_MISMATCH, got %+v", rep.Summary.CountsByType)
	}
}

func TestRun_FailedLegReportsTwice(t *testing.T) {
	snap := cleanSnapshot()
	snap.Legs[0].Status = transfer.StatusFailed

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeTransferLegFailed) != 1 {
		t.Errorf("expected TRANSFER_LEG_FAILED, got %+v", rep.Summary.CountsByType)
	}
	if countOf(t, rep, TypeTransferLegStatusNotSent) != 1 {
		t.Errorf("expected TRANSFER_LEG_STATUS_NOT_SENT, got %+v", rep.Summary.CountsByType)
	}
}

func TestRun_LedgerEvidenceMissingForOneLegOnly(t *testing.T) {
	snap := cleanSnapshot()
	entries := snap.LedgerEntries[:0]
	for _, e := range snap.LedgerEntries {
		if e.ID != "le-router" {
			entries = append(entries, e)
		}
	}
	snap.LedgerEntries = entries

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeLedgerEvidenceMissing) != 1 {
		t.Fatalf("expected exactly one LEDGER_EVIDENCE_MISSING, got %+v", rep.Summary.CountsByType)
	}
	for _, v := range rep.Violations {
		if v.Type == TypeLedgerEvidenceMissing && v.Details["transfer_id"] != "leg-router" {
			t.Errorf("violation should point at the router leg, got %v", v.Details["transfer_id"])
		}
	}
}

func TestRun_EscrowMissing(t *testing.T) {
	snap := cleanSnapshot()
	snap.Escrows = nil

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeEscrowMissing) != 1 {
		t.Errorf("expected ESCROW_MISSING, got %+v", rep.Summary.CountsByType)
	}
}

func TestRun_EscrowReleasedAtMissing(t *testing.T) {
	snap := cleanSnapshot()
	snap.Escrows[0].ReleasedAt = nil

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeEscrowReleasedAtMissing) != 1 {
		t.Errorf("expected ESCROW_RELEASED_AT_MISSING, got %+v", rep.Summary.CountsByType)
	}
	for _, v := range rep.Violations {
		if v.Type == TypeEscrowReleasedAtMissing && v.Severity != SeverityHigh {
			t.Errorf("expected HIGH severity, got %s", v.Severity)
		}
	}
}

func TestRun_EscrowReleasedAtUnexpected(t *testing.T) {
	snap := cleanSnapshot()
	snap.Escrows[0].Status = escrow.StatusFunded

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeEscrowStatusMismatch) != 1 {
		t.Errorf("expected ESCROW_STATUS_MISMATCH, got %+v", rep.Summary.CountsByType)
	}
	if countOf(t, rep, TypeEscrowReleasedAtUnexpected) != 1 {
		t.Errorf("expected ESCROW_RELEASED_AT_UNEXPECTED, got %+v", rep.Summary.CountsByType)
	}
}

func TestRun_EscrowAmountMismatch(t *testing.T) {
	snap := cleanSnapshot()
	snap.Escrows[0].AmountCents = 9000

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeEscrowAmountMismatch) != 1 {
		t.Errorf("expected ESCROW_AMOUNT_MISMATCH, got %+v", rep.Summary.CountsByType)
	}
	// Fund/release entries still carry 10000 so they no longer match either.
	if countOf(t, rep, TypeLedgerFundEntryMissing) != 1 {
		t.Errorf("expected LEDGER_FUND_ENTRY_MISSING, got %+v", rep.Summary.CountsByType)
	}
}

func TestRun_PlatformDriftIsCritical(t *testing.T) {
	snap := cleanSnapshot()
	// Inflate the platform leg and its ledger credit together by $10: the two
	// stay self-consistent per job but the batch totals drift apart only when
	// one side is inflated. Double both to model double-crediting.
	snap.Legs[2].AmountCents = 1000
	for i := range snap.LedgerEntries {
		if snap.LedgerEntries[i].ID == "le-platform" {
			snap.LedgerEntries[i].AmountCents = 2000
		}
	}

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypePlatformLedgerDrift) != 1 {
		t.Fatalf("expected PLATFORM_LEDGER_DRIFT, got %+v", rep.Summary.CountsByType)
	}
	if !rep.HasCritical() {
		t.Error("platform drift must be CRITICAL")
	}
	// Sorted first despite being appended last.
	if rep.Violations[0].Type != TypePlatformLedgerDrift {
		t.Errorf("CRITICAL must sort first, got %s", rep.Violations[0].Type)
	}
	if rep.Violations[0].JobID != AggregateJobID {
		t.Errorf("drift is an aggregate finding, got job %s", rep.Violations[0].JobID)
	}
}

func TestRun_DriftWithinToleranceIsQuiet(t *testing.T) {
	snap := cleanSnapshot()
	for i := range snap.LedgerEntries {
		if snap.LedgerEntries[i].ID == "le-platform" {
			snap.LedgerEntries[i].AmountCents += 100 // exactly at tolerance
		}
	}

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypePlatformLedgerDrift) != 0 {
		t.Errorf("drift at tolerance must not report, got %+v", rep.Summary.CountsByType)
	}
	// Note the per-leg evidence check still fires for the platform leg.
	if countOf(t, rep, TypeLedgerEvidenceMissing) != 1 {
		t.Errorf("expected LEDGER_EVIDENCE_MISSING for the altered credit, got %+v", rep.Summary.CountsByType)
	}
}

func TestRun_OrphanLegIsWarn(t *testing.T) {
	snap := cleanSnapshot()
	snap.OrphanLegs = []transfer.Leg{{
		ID: "leg-orphan", JobID: "job-deleted", Role: transfer.RoleContractor,
		UserID: "user-x", AmountCents: 123, Currency: "USD",
		Method: transfer.MethodStripe, Status: transfer.StatusSent,
	}}

	rep := Run(snap, DefaultConfig())
	if countOf(t, rep, TypeTransferOrphan) != 1 {
		t.Fatalf("expected TRANSFER_ORPHAN, got %+v", rep.Summary.CountsByType)
	}
	last := rep.Violations[len(rep.Violations)-1]
	if last.Severity != SeverityWarn {
		t.Errorf("orphans are WARN, got %s", last.Severity)
	}
	// The dangling job id is not in the audited population and must not be
	// counted as a job with violations.
	if rep.Summary.JobsWithViolations != 0 {
		t.Errorf("expected 0 jobs with violations, got %d", rep.Summary.JobsWithViolations)
	}
	if rep.Summary.JobsWithViolations > rep.Summary.ReleasedJobsAudited {
		t.Errorf("jobs with violations (%d) exceeds jobs audited (%d)",
			rep.Summary.JobsWithViolations, rep.Summary.ReleasedJobsAudited)
	}
}

func TestRun_DeterministicOutput(t *testing.T) {
	snap := cleanSnapshot()
	snap.Legs[0].Status = transfer.StatusFailed
	snap.Escrows[0].ReleasedAt = nil
	snap.OrphanLegs = []transfer.Leg{
		{ID: "leg-orphan-b", JobID: "gone-b", Role: transfer.RoleRouter, Status: transfer.StatusSent},
		{ID: "leg-orphan-a", JobID: "gone-a", Role: transfer.RoleContractor, Status: transfer.StatusSent},
	}

	first, err := json.Marshal(Run(snap, DefaultConfig()))
	if err != nil {
		t.Fatalf("marshal first run: %v", err)
	}
	second, err := json.Marshal(Run(snap, DefaultConfig()))
	if err != nil {
		t.Fatalf("marshal second run: %v", err)
	}
	if !bytes.Equal(first, second) {
		t.Error("two runs over the same snapshot must be byte-identical")
	}
}

func TestRun_ViolationOrdering(t *testing.T) {
	snap := cleanSnapshot()
	snap.Legs[2].AmountCents = 5000 // platform leg inflated: sum mismatch + drift
	snap.OrphanLegs = []transfer.Leg{
		{ID: "z-orphan", JobID: "gone", Role: transfer.RoleRouter, Status: transfer.StatusSent},
	}

	rep := Run(snap, DefaultConfig())
	for i := 1; i < len(rep.Violations); i++ {
		a, b := rep.Violations[i-1], rep.Violations[i]
		if severityRank(a.Severity) > severityRank(b.Severity) {
			t.Fatalf("severity order broken at %d: %s after %s", i, b.Severity, a.Severity)
		}
		if a.Severity == b.Severity && a.Type > b.Type {
			t.Fatalf("type order broken at %d: %s after %s", i, b.Type, a.Type)
		}
	}
}

func TestRun_MultipleJobsIndependent(t *testing.T) {
	snap := cleanSnapshot()
	bad := cleanSnapshot()
	bad.Jobs[0].ID = "job-2"
	for i := range bad.Escrows {
		bad.Escrows[i].JobID = "job-2"
		bad.Escrows[i].ID = fmt.Sprintf("esc-2-%d", i)
	}
	for i := range bad.Legs {
		bad.Legs[i].JobID = "job-2"
		bad.Legs[i].ID = "j2-" + bad.Legs[i].ID
	}
	for i := range bad.LedgerEntries {
		bad.LedgerEntries[i].JobID = "job-2"
	}
	bad.Legs = bad.Legs[:2] // drop the platform leg

	snap.Jobs = append(snap.Jobs, bad.Jobs...)
	snap.Escrows = append(snap.Escrows, bad.Escrows...)
	snap.Legs = append(snap.Legs, bad.Legs...)
	snap.LedgerEntries = append(snap.LedgerEntries, bad.LedgerEntries...)

	rep := Run(snap, DefaultConfig())
	if rep.Summary.ReleasedJobsAudited != 2 {
		t.Fatalf("expected 2 jobs audited, got %d", rep.Summary.ReleasedJobsAudited)
	}
	if rep.Summary.JobsWithViolations != 1 {
		t.Errorf("only job-2 should have violations, got %d", rep.Summary.JobsWithViolations)
	}
	for _, v := range rep.Violations {
		if v.JobID == "job-1" {
			t.Errorf("job-1 is clean but got %s", v.Type)
		}
	}
}

// Package audit implements the payout integrity auditor: a pure function over
// a snapshot of released jobs and their escrow, transfer, and ledger rows. It
// only ever reports; nothing here mutates state or retries transfers.
package audit

import (
	"fmt"

	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/release"
	"escrowflow/transfer"
)

// Config carries the policy constants. The drift tolerance is deliberately a
// named, overridable setting rather than a hard-coded value.
type Config struct {
	DriftToleranceCents int64
}

func DefaultConfig() Config {
	return Config{DriftToleranceCents: 100}
}

// Run audits the snapshot and returns the ordered report. Two runs over the
// same snapshot yield byte-identical output.
func Run(snap Snapshot, cfg Config) Report {
	if cfg.DriftToleranceCents <= 0 {
		cfg.DriftToleranceCents = DefaultConfig().DriftToleranceCents
	}

	escrowsByJob := make(map[string][]escrow.Record, len(snap.Jobs))
	for _, e := range snap.Escrows {
		escrowsByJob[e.JobID] = append(escrowsByJob[e.JobID], e)
	}
	legsByJob := make(map[string][]transfer.Leg, len(snap.Jobs))
	for _, l := range snap.Legs {
		legsByJob[l.JobID] = append(legsByJob[l.JobID], l)
	}
	entriesByJob := make(map[string][]ledger.Entry, len(snap.Jobs))
	for _, e := range snap.LedgerEntries {
		entriesByJob[e.JobID] = append(entriesByJob[e.JobID], e)
	}

	var violations []Violation
	var platformLegCents, platformLedgerCents int64

	for _, job := range snap.Jobs {
		jc := jobChecker{
			job:     job,
			legs:    legsByJob[job.ID],
			entries: entriesByJob[job.ID],
		}
		jc.primaryEscrow(escrowsByJob[job.ID])
		jc.checkEscrow()
		jc.checkLegs()
		jc.checkLedgerEvidence()
		violations = append(violations, jc.violations...)

		for _, leg := range jc.legs {
			if leg.Role == transfer.RolePlatform {
				platformLegCents += leg.AmountCents
			}
		}
		for _, entry := range jc.entries {
			if entry.Type == ledger.TypePlatformFee && entry.Direction == ledger.DirCredit {
				platformLedgerCents += entry.AmountCents
			}
		}
	}

	if drift := abs64(platformLegCents - platformLedgerCents); drift > cfg.DriftToleranceCents {
		violations = append(violations, newViolation(TypePlatformLedgerDrift, SeverityCritical, AggregateJobID,
			fmt.Sprintf("platform leg total %d does not match platform-fee ledger credits %d (drift %d, tolerance %d)",
				platformLegCents, platformLedgerCents, drift, cfg.DriftToleranceCents),
			map[string]any{
				"platform_leg_cents":    platformLegCents,
				"platform_ledger_cents": platformLedgerCents,
				"drift_cents":           drift,
				"tolerance_cents":       cfg.DriftToleranceCents,
			}))
	}

	for _, leg := range snap.OrphanLegs {
		violations = append(violations, newViolation(TypeTransferOrphan, SeverityWarn, leg.JobID,
			fmt.Sprintf("transfer %s references job %s which no longer resolves", leg.ID, leg.JobID),
			map[string]any{
				"transfer_id":  leg.ID,
				"role":         string(leg.Role),
				"amount_cents": leg.AmountCents,
			}))
	}

	sortViolations(violations)

	summary := Summary{
		ReleasedJobsAudited: len(snap.Jobs),
		ViolationCount:      len(violations),
		CountsByType:        make(map[string]int),
		CountsBySeverity:    make(map[Severity]int),
	}
	audited := make(map[string]struct{}, len(snap.Jobs))
	for _, job := range snap.Jobs {
		audited[job.ID] = struct{}{}
	}
	// Orphan findings carry job ids outside the audited population; counting
	// them would let JobsWithViolations exceed ReleasedJobsAudited.
	jobsSeen := make(map[string]struct{})
	for _, v := range violations {
		summary.CountsByType[v.Type]++
		summary.CountsBySeverity[v.Severity]++
		if _, ok := audited[v.JobID]; ok {
			jobsSeen[v.JobID] = struct{}{}
		}
	}
	summary.JobsWithViolations = len(jobsSeen)

	if violations == nil {
		violations = []Violation{}
	}
	return Report{Summary: summary, Violations: violations}
}

type jobChecker struct {
	job        release.Job
	esc        *escrow.Record
	legs       []transfer.Leg
	entries    []ledger.Entry
	violations []Violation
}

func (c *jobChecker) add(vtype string, severity Severity, message string, details map[string]any) {
	c.violations = append(c.violations, newViolation(vtype, severity, c.job.ID, message, details))
}

// primaryEscrow selects the JOB-kind escrow; MATERIALS sub-escrows are out of
// scope for this audit.
func (c *jobChecker) primaryEscrow(escrows []escrow.Record) {
	for i := range escrows {
		if escrows[i].Kind == escrow.KindJob {
			c.esc = &escrows[i]
			return
		}
	}
}

func (c *jobChecker) checkEscrow() {
	if c.esc == nil {
		c.add(TypeEscrowMissing, SeverityHigh,
			"released job has no primary escrow record",
			map[string]any{"job_amount_cents": c.job.AmountCents})
		return
	}
	esc := c.esc

	if esc.Status != escrow.StatusReleased {
		c.add(TypeEscrowStatusMismatch, SeverityHigh,
			fmt.Sprintf("escrow %s is %s on a released job", esc.ID, esc.Status),
			map[string]any{"escrow_id": esc.ID, "escrow_status": string(esc.Status)})
	}
	if esc.Status == escrow.StatusReleased && esc.ReleasedAt == nil {
		c.add(TypeEscrowReleasedAtMissing, SeverityHigh,
			fmt.Sprintf("escrow %s is RELEASED but released_at is not set", esc.ID),
			map[string]any{"escrow_id": esc.ID})
	}
	if esc.Status != escrow.StatusReleased && esc.ReleasedAt != nil {
		c.add(TypeEscrowReleasedAtUnexpected, SeverityHigh,
			fmt.Sprintf("escrow %s is %s but released_at is set", esc.ID, esc.Status),
			map[string]any{"escrow_id": esc.ID, "escrow_status": string(esc.Status)})
	}
	if esc.AmountCents != c.job.AmountCents {
		c.add(TypeEscrowAmountMismatch, SeverityHigh,
			fmt.Sprintf("escrow amount %d differs from job amount %d", esc.AmountCents, c.job.AmountCents),
			map[string]any{
				"escrow_id":           esc.ID,
				"escrow_amount_cents": esc.AmountCents,
				"job_amount_cents":    c.job.AmountCents,
			})
	}

	if !c.hasEscrowEntry(ledger.TypeEscrowFund, ledger.DirCredit, esc.AmountCents) {
		c.add(TypeLedgerFundEntryMissing, SeverityHigh,
			fmt.Sprintf("no CREDIT/HELD ESCROW_FUND entry of %d for escrow %s", esc.AmountCents, esc.ID),
			map[string]any{"escrow_id": esc.ID, "amount_cents": esc.AmountCents})
	}
	if !c.hasEscrowEntry(ledger.TypeEscrowRelease, ledger.DirDebit, esc.AmountCents) {
		c.add(TypeLedgerReleaseEntryMissing, SeverityHigh,
			fmt.Sprintf("no DEBIT/HELD ESCROW_RELEASE entry of %d for escrow %s", esc.AmountCents, esc.ID),
			map[string]any{"escrow_id": esc.ID, "amount_cents": esc.AmountCents})
	}
}

func (c *jobChecker) hasEscrowEntry(t ledger.EntryType, dir ledger.Direction, amount int64) bool {
	for _, e := range c.entries {
		if e.Type == t && e.Direction == dir && e.Bucket == ledger.BucketHeld &&
			e.UserID == ledger.SystemUserID && e.AmountCents == amount {
			return true
		}
	}
	return false
}

func (c *jobChecker) checkLegs() {
	byRole := make(map[transfer.Role][]transfer.Leg, 3)
	var sum int64
	for _, leg := range c.legs {
		byRole[leg.Role] = append(byRole[leg.Role], leg)
		sum += leg.AmountCents
	}

	for _, role := range transfer.RequiredRoles() {
		legs := byRole[role]
		switch {
		case len(legs) == 0:
			c.add(TypeTransferLegRoleMissing, SeverityHigh,
				fmt.Sprintf("no %s leg for released job", role),
				map[string]any{"role": string(role)})
		case len(legs) > 1:
			ids := make([]string, len(legs))
			for i, l := range legs {
				ids[i] = l.ID
			}
			c.add(TypeTransferLegDuplicateRole, SeverityHigh,
				fmt.Sprintf("%d %s legs for released job", len(legs), role),
				map[string]any{"role": string(role), "transfer_ids": ids, "transfer_id": ids[0]})
		}
	}

	if len(c.legs) != 3 {
		c.add(TypeTransferLegCountMismatch, SeverityHigh,
			fmt.Sprintf("released job has %d legs, want 3", len(c.legs)),
			map[string]any{"leg_count": len(c.legs)})
	}

	expected := c.job.AmountCents
	if c.esc != nil {
		expected = c.esc.AmountCents
	}
	if sum != expected {
		c.add(TypeTransferSumMismatch, SeverityHigh,
			fmt.Sprintf("leg amounts sum to %d, escrow holds %d", sum, expected),
			map[string]any{"leg_sum_cents": sum, "escrow_amount_cents": expected})
	}

	for _, leg := range c.legs {
		if leg.Status == transfer.StatusFailed {
			c.add(TypeTransferLegFailed, SeverityHigh,
				fmt.Sprintf("%s leg %s is FAILED on a released job", leg.Role, leg.ID),
				map[string]any{"transfer_id": leg.ID, "role": string(leg.Role)})
		}
		if leg.Status != transfer.StatusSent {
			c.add(TypeTransferLegStatusNotSent, SeverityHigh,
				fmt.Sprintf("%s leg %s is %s, want SENT", leg.Role, leg.ID, leg.Status),
				map[string]any{"transfer_id": leg.ID, "role": string(leg.Role), "status": string(leg.Status)})
		}
	}
}

func (c *jobChecker) checkLedgerEvidence() {
	for _, leg := range c.legs {
		sig := leg.ExpectedLedgerSignature()
		found := false
		for _, e := range c.entries {
			if sig.Matches(e) {
				found = true
				break
			}
		}
		if !found {
			c.add(TypeLedgerEvidenceMissing, SeverityHigh,
				fmt.Sprintf("no ledger entry matches the %s leg %s signature", leg.Role, leg.ID),
				map[string]any{
					"transfer_id":  leg.ID,
					"role":         string(leg.Role),
					"amount_cents": leg.AmountCents,
					"bucket":       string(sig.Bucket),
					"entry_type":   string(sig.Type),
				})
		}
	}
}

func newViolation(vtype string, severity Severity, jobID, message string, details map[string]any) Violation {
	return Violation{
		Type:            vtype,
		Severity:        severity,
		JobID:           jobID,
		Message:         message,
		Details:         details,
		SuggestedAction: suggestedAction(vtype, details),
	}
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

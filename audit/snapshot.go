package audit

import (
	"escrowflow/escrow"
	"escrowflow/ledger"
	"escrowflow/release"
	"escrowflow/transfer"
)

// Snapshot is the read-only input to a run: released jobs (newest release
// first, up to the caller's batch size) with every escrow, transfer leg, and
// ledger entry referencing them, plus orphan legs seen in the trailing window.
type Snapshot struct {
	Jobs          []release.Job
	Escrows       []escrow.Record
	Legs          []transfer.Leg
	LedgerEntries []ledger.Entry
	OrphanLegs    []transfer.Leg
}

// CoerceAmount is the documented safe-default policy for untrusted numeric
// fields: a missing amount is treated as zero so one bad row produces a
// violation instead of crashing the batch.
func CoerceAmount(v *int64) int64 {
	if v == nil {
		return 0
	}
	return *v
}

// Normalize applies the safe-default policy in place and drops rows that
// cannot be attributed to any job at all.
func (s *Snapshot) Normalize() {
	jobs := s.Jobs[:0]
	for _, j := range s.Jobs {
		if j.ID == "" {
			continue
		}
		if j.AmountCents < 0 {
			j.AmountCents = 0
		}
		jobs = append(jobs, j)
	}
	s.Jobs = jobs

	for i := range s.Escrows {
		if s.Escrows[i].AmountCents < 0 {
			s.Escrows[i].AmountCents = 0
		}
	}
	for i := range s.Legs {
		if s.Legs[i].AmountCents < 0 {
			s.Legs[i].AmountCents = 0
		}
	}
	for i := range s.LedgerEntries {
		if s.LedgerEntries[i].AmountCents < 0 {
			s.LedgerEntries[i].AmountCents = 0
		}
	}
}

package audit

import "sort"

// Severity ranks a violation. CRITICAL fails CI; HIGH and WARN only surface.
type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityWarn     Severity = "WARN"
)

func severityRank(s Severity) int {
	switch s {
	case SeverityCritical:
		return 0
	case SeverityHigh:
		return 1
	default:
		return 2
	}
}

// Violation types. One record shape with a discriminant type and an open
// details map, no per-type structs.
const (
	TypeEscrowMissing              = "ESCROW_MISSING"
	TypeEscrowStatusMismatch       = "ESCROW_STATUS_MISMATCH"
	TypeEscrowReleasedAtMissing    = "ESCROW_RELEASED_AT_MISSING"
	TypeEscrowReleasedAtUnexpected = "ESCROW_RELEASED_AT_UNEXPECTED"
	TypeEscrowAmountMismatch       = "ESCROW_AMOUNT_MISMATCH"
	TypeLedgerFundEntryMissing     = "LEDGER_FUND_ENTRY_MISSING"
	TypeLedgerReleaseEntryMissing  = "LEDGER_RELEASE_ENTRY_MISSING"
	TypeTransferLegRoleMissing     = "TRANSFER_LEG_ROLE_MISSING"
	TypeTransferLegDuplicateRole   = "TRANSFER_LEG_DUPLICATE_ROLE"
	TypeTransferLegCountMismatch   = "TRANSFER_LEG_COUNT_MISMATCH"
	TypeTransferSumMismatch        = "TRANSFER_SUM_MISMATCH"
	TypeTransferLegFailed          = "TRANSFER_LEG_FAILED"
	TypeTransferLegStatusNotSent   = "TRANSFER_LEG_STATUS_NOT_SENT"
	TypeLedgerEvidenceMissing      = "LEDGER_EVIDENCE_MISSING"
	TypePlatformLedgerDrift        = "PLATFORM_LEDGER_DRIFT"
	TypeTransferOrphan             = "TRANSFER_ORPHAN"
)

// AggregateJobID marks cross-job findings.
const AggregateJobID = "aggregate"

// Violation is one finding. Details is an open map so new evidence fields do
// not change the record shape.
type Violation struct {
	Type            string         `json:"type"`
	Severity        Severity       `json:"severity"`
	JobID           string         `json:"jobId"`
	Message         string         `json:"message"`
	Details         map[string]any `json:"details,omitempty"`
	SuggestedAction string         `json:"suggestedAction"`
}

// transferID extracts the embedded transfer-record id used as the last sort key.
func (v Violation) transferID() string {
	if v.Details == nil {
		return ""
	}
	if id, ok := v.Details["transfer_id"].(string); ok {
		return id
	}
	return ""
}

// Summary aggregates the findings of one run.
type Summary struct {
	ReleasedJobsAudited int              `json:"releasedJobsAudited"`
	JobsWithViolations  int              `json:"jobsWithViolations"`
	ViolationCount      int              `json:"violationCount"`
	CountsByType        map[string]int   `json:"countsByType"`
	CountsBySeverity    map[Severity]int `json:"countsBySeverity"`
}

// Report is the auditor output: a summary and the ordered violation list.
type Report struct {
	Summary    Summary     `json:"summary"`
	Violations []Violation `json:"violations"`
}

// HasCritical reports whether any CRITICAL finding exists (the CI gate).
func (r Report) HasCritical() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// TopBySeverity returns up to n violations of the given severity, in report order.
func (r Report) TopBySeverity(sev Severity, n int) []Violation {
	out := make([]Violation, 0, n)
	for _, v := range r.Violations {
		if v.Severity == sev {
			out = append(out, v)
			if len(out) == n {
				break
			}
		}
	}
	return out
}

// sortViolations orders findings so two runs over the same snapshot produce
// byte-identical output: severity rank, type, job id, embedded transfer id.
func sortViolations(vs []Violation) {
	sort.SliceStable(vs, func(i, j int) bool {
		a, b := vs[i], vs[j]
		if ra, rb := severityRank(a.Severity), severityRank(b.Severity); ra != rb {
			return ra < rb
		}
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		if a.JobID != b.JobID {
			return a.JobID < b.JobID
		}
		return a.transferID() < b.transferID()
	})
}

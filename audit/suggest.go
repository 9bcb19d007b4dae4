package audit

import "fmt"

// suggestedAction maps a violation type (plus its details) to a remediation
// hint. A lookup, not free text: the auditor only reports, it never repairs.
func suggestedAction(violationType string, details map[string]any) string {
	switch violationType {
	case TypeEscrowMissing:
		return "backfill the primary escrow row from the funding processor event, then re-run the audit"
	case TypeEscrowStatusMismatch:
		return "reconcile escrow status with the job payout status; check for a crashed release transaction"
	case TypeEscrowReleasedAtMissing:
		return "set escrow released_at from the job released_at timestamp"
	case TypeEscrowReleasedAtUnexpected:
		return "clear escrow released_at or advance escrow status; the two must agree"
	case TypeEscrowAmountMismatch:
		return "investigate post-funding mutation of the escrow amount; amounts are immutable once funded"
	case TypeLedgerFundEntryMissing:
		return "append the missing CREDIT/HELD ESCROW_FUND entry with the escrow amount"
	case TypeLedgerReleaseEntryMissing:
		return "append the missing DEBIT/HELD ESCROW_RELEASE entry with the escrow amount"
	case TypeTransferLegRoleMissing:
		if role, ok := details["role"].(string); ok {
			return fmt.Sprintf("create and settle the missing %s leg for this job", role)
		}
		return "create and settle the missing leg for this job"
	case TypeTransferLegDuplicateRole:
		return "reverse the duplicate leg and verify the processor was not charged twice"
	case TypeTransferLegCountMismatch:
		return "a released job must have exactly three legs; reconcile against the processor dashboard"
	case TypeTransferSumMismatch:
		return "compare leg amounts against the fee policy split of the escrow amount"
	case TypeTransferLegFailed:
		return "retry the failed transfer through the payout worker; do not mark SENT manually"
	case TypeTransferLegStatusNotSent:
		return "the release gate flipped payout status before settlement; confirm the transfer completed at the processor"
	case TypeLedgerEvidenceMissing:
		return "append the ledger entry matching the leg signature; payout evidence must be independently recorded"
	case TypePlatformLedgerDrift:
		return "audit platform-fee credits batch-wide for double-crediting or missing revenue; page the payments on-call"
	case TypeTransferOrphan:
		return "resolve the dangling job reference or reverse the orphaned transfer"
	default:
		return "inspect the violation details"
	}
}

package materials

import (
	"errors"
	"time"
)

var (
	ErrNotFound                 = errors.New("materials: sub-escrow not found")
	ErrReceiptsAlreadySubmitted = errors.New("materials: receipts already submitted")
	ErrReceiptsNotSubmitted     = errors.New("materials: receipts not submitted yet")
	ErrAlreadyReleased          = errors.New("materials: already released")
	ErrNotFunded                = errors.New("materials: sub-escrow not funded")
)

// RemainderMethod says how the unspent remainder goes back to the payer.
type RemainderMethod string

const (
	// RemainderCredit is a direct ledger credit, used for small remainders.
	RemainderCredit RemainderMethod = "CREDIT"
	// RemainderRefund goes back through the original payment method on the
	// next business day.
	RemainderRefund RemainderMethod = "REFUND"
	// RemainderNone means the receipts consumed the whole escrow.
	RemainderNone RemainderMethod = "NONE"
)

// Outcome is the computed split of a materials release.
type Outcome struct {
	ReimbursedCents int64
	RemainderCents  int64
	Method          RemainderMethod
	ScheduledFor    *time.Time // set for RemainderRefund only
}

// ComputeOutcome applies the capped-reimbursement policy: pay
// min(receiptTotal, escrowAmount), return max(0, amount - reimbursed) to the
// payer, directly if at or under the threshold, by refund above it.
func ComputeOutcome(escrowAmountCents, receiptTotalCents, creditThresholdCents int64) Outcome {
	reimbursed := receiptTotalCents
	if reimbursed > escrowAmountCents {
		reimbursed = escrowAmountCents
	}
	if reimbursed < 0 {
		reimbursed = 0
	}

	out := Outcome{
		ReimbursedCents: reimbursed,
		RemainderCents:  escrowAmountCents - reimbursed,
	}
	switch {
	case out.RemainderCents == 0:
		out.Method = RemainderNone
	case out.RemainderCents <= creditThresholdCents:
		out.Method = RemainderCredit
	default:
		out.Method = RemainderRefund
	}
	return out
}

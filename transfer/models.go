package transfer

import (
	"time"

	"escrowflow/ledger"
)

// Role identifies which of the three payout legs a transfer is.
type Role string

const (
	RoleContractor Role = "CONTRACTOR"
	RoleRouter     Role = "ROUTER"
	RolePlatform   Role = "PLATFORM"
)

// RequiredRoles lists the legs every released job must have, in report order.
func RequiredRoles() []Role {
	return []Role{RoleContractor, RolePlatform, RoleRouter}
}

// Method is the processor a leg settles through.
type Method string

const (
	MethodStripe Method = "STRIPE"
	MethodPayPal Method = "PAYPAL"
)

// Status is the transfer lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusSent     Status = "SENT"
	StatusFailed   Status = "FAILED"
	StatusReversed Status = "REVERSED"
)

// Leg mirrors the transfers table: one payout movement for one role of a job.
type Leg struct {
	ID          string
	JobID       string
	Role        Role
	UserID      string
	AmountCents int64
	Currency    string
	Method      Method
	Status      Status
	ExternalRef *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ExpectedLedgerSignature derives the ledger evidence a SENT leg must have.
// Platform legs credit the fee to AVAILABLE with no external reference; payout
// legs credit PAID (STRIPE) or AVAILABLE (PAYPAL) keyed to the processor ref.
func (l Leg) ExpectedLedgerSignature() ledger.LegSignature {
	sig := ledger.LegSignature{
		UserID:      l.UserID,
		Direction:   ledger.DirCredit,
		AmountCents: l.AmountCents,
		Currency:    l.Currency,
	}

	if l.Role == RolePlatform {
		sig.Type = ledger.TypePlatformFee
		sig.Bucket = ledger.BucketAvailable
		return sig
	}

	sig.Type = ledger.TypePayout
	sig.Bucket = ledger.BucketPaid
	if l.Method == MethodPayPal {
		sig.Bucket = ledger.BucketAvailable
	}
	if l.ExternalRef != nil {
		sig.ExternalRef = *l.ExternalRef
	}
	return sig
}

package escrow

import "time"

// Kind distinguishes the primary job escrow from secondary holds.
type Kind string

const (
	KindJob       Kind = "JOB"
	KindMaterials Kind = "MATERIALS"
)

// Status is the escrow lifecycle state.
type Status string

const (
	StatusPending  Status = "PENDING"
	StatusFunded   Status = "FUNDED"
	StatusReleased Status = "RELEASED"
	StatusFailed   Status = "FAILED"
)

// Record mirrors the escrows table. The amount is immutable once funded and
// must equal the job amount for the primary kind.
type Record struct {
	ID          string
	JobID       string
	Kind        Kind
	Status      Status
	AmountCents int64
	Currency    string
	PayerUserID string
	ReleasedAt  *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time

	// Materials sub-escrow fields; nil for the primary kind.
	ClaimantUserID    *string
	ReceiptTotalCents *int64
	ReimbursedCents   *int64
	RemainderCents    *int64
}

package ledger

import "time"

// SystemUserID is the reserved identifier used for escrow-level entries that are
// not attributable to an end user (fund and release rows).
const SystemUserID = "00000000-0000-0000-0000-000000000000"

// EntryType classifies what business event a ledger entry records.
type EntryType string

const (
	TypeEscrowFund             EntryType = "ESCROW_FUND"
	TypeEscrowRelease          EntryType = "ESCROW_RELEASE"
	TypePayout                 EntryType = "PAYOUT"
	TypePlatformFee            EntryType = "PLATFORM_FEE"
	TypeAdjustment             EntryType = "ADJUSTMENT"
	TypeMaterialsReimbursement EntryType = "MATERIALS_REIMBURSEMENT"
	TypeMaterialsRefund        EntryType = "MATERIALS_REFUND"
)

// Direction is the side of the entry.
type Direction string

const (
	DirCredit Direction = "CREDIT"
	DirDebit  Direction = "DEBIT"
)

// Bucket is the logical sub-account an entry is scoped to.
type Bucket string

const (
	BucketHeld      Bucket = "HELD"
	BucketPaid      Bucket = "PAID"
	BucketAvailable Bucket = "AVAILABLE"
	BucketPending   Bucket = "PENDING"
)

// Entry mirrors the ledger_entries table. Rows are immutable once written.
type Entry struct {
	ID           string
	UserID       string
	JobID        string
	EscrowID     *string
	Type         EntryType
	Direction    Direction
	Bucket       Bucket
	AmountCents  int64
	Currency     string
	ExternalRef  *string
	ScheduledFor *time.Time
	CreatedAt    time.Time
}

// InsertParams enumerates the fields callers provide when appending an entry.
type InsertParams struct {
	UserID       string
	JobID        string
	EscrowID     *string
	Type         EntryType
	Direction    Direction
	Bucket       Bucket
	AmountCents  int64
	Currency     string
	ExternalRef  *string
	ScheduledFor *time.Time
}

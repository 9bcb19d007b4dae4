package dispute

import "time"

// Status represents the lifecycle of a dispute record. Rows are never deleted;
// resolution flips them to DECIDED (or CLOSED for administrative withdrawal)
// so the audit trail stays complete.
type Status string

const (
	StatusOpen    Status = "OPEN"
	StatusDecided Status = "DECIDED"
	StatusClosed  Status = "CLOSED"
)

// Decision is the resolution outcome.
type Decision string

const (
	DecisionRelease Decision = "RELEASE"
	DecisionRefund  Decision = "REFUND"
)

// Record mirrors the disputes table.
type Record struct {
	ID        string
	JobID     string
	OpenedBy  string
	Against   string
	Reason    string
	Deadline  *time.Time
	Status    Status
	Decision  *Decision
	DecidedBy *string
	DecidedAt *time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// OpenParams enumerates the fields callers provide when opening a dispute.
type OpenParams struct {
	JobID    string
	OpenedBy string
	Against  string
	Reason   string
	Deadline *time.Time
}

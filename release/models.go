package release

import (
	"errors"
	"fmt"
	"time"
)

// Job status values relevant to the gate. DISPUTED suspends forward progress
// from any pre-release state; RELEASED is terminal for payout purposes.
const (
	JobStatusFunded            = "FUNDED"
	JobStatusRoutable          = "ROUTABLE"
	JobStatusInProgress        = "IN_PROGRESS"
	JobStatusCompletionPending = "COMPLETION_PENDING"
	JobStatusDisputed          = "DISPUTED"
	JobStatusReleased          = "RELEASED"
)

const (
	PayoutNotReleased = "NOT_RELEASED"
	PayoutReleased    = "RELEASED"
)

// Job mirrors the jobs table columns the gate touches.
type Job struct {
	ID               string
	Status           string
	PayoutStatus     string
	AmountCents      int64
	Currency         string
	Country          string
	ContractorUserID string
	RouterUserID     string
	CustomerUserID   string
	ReleasedAt       *time.Time
}

// Result reports a successful release: the three created transfer ids in
// contractor/router/platform order, and when the flip happened.
type Result struct {
	JobID       string
	TransferIDs [3]string
	ReleasedAt  time.Time
}

var (
	ErrJobNotFound     = errors.New("release: job not found")
	ErrAlreadyReleased = errors.New("release: already released")
	ErrNotEligible     = errors.New("release: job not eligible for release")
	ErrDisputed        = errors.New("release: open dispute blocks release")
	ErrEscrowNotFunded = errors.New("release: primary escrow not funded")
)

// AlreadyReleasedError carries the prior outcome so transport-level retries can
// return the existing result without a second side effect. It still satisfies
// errors.Is(err, ErrAlreadyReleased).
type AlreadyReleasedError struct {
	Existing Result
}

func (e *AlreadyReleasedError) Error() string {
	return fmt.Sprintf("release: job %s already released at %s", e.Existing.JobID, e.Existing.ReleasedAt.UTC().Format(time.RFC3339))
}

func (e *AlreadyReleasedError) Unwrap() error { return ErrAlreadyReleased }

// Policy holds the split configuration. Fees are basis points of the escrow
// amount, rounded down; the contractor leg absorbs the rounding remainder.
type Policy struct {
	PlatformFeeBps int64
	RouterFeeBps   int64
}

func DefaultPolicy() Policy {
	return Policy{PlatformFeeBps: 1000, RouterFeeBps: 500}
}

// Split divides an escrow amount into the three leg amounts. The sum always
// equals total exactly.
func (p Policy) Split(total int64) (contractor, router, platform int64) {
	platform = total * p.PlatformFeeBps / 10000
	router = total * p.RouterFeeBps / 10000
	contractor = total - platform - router
	return contractor, router, platform
}

package ledger

// LegSignature is the deterministic ledger evidence expected for a settled
// transfer leg. Two independent code paths derive it: the release gate when it
// writes the entries, and the auditor when it checks them.
type LegSignature struct {
	UserID      string
	Type        EntryType
	Direction   Direction
	Bucket      Bucket
	AmountCents int64
	Currency    string
	ExternalRef string // empty means the entry must carry no external ref
}

// Matches reports whether the entry is evidence for the signature.
func (s LegSignature) Matches(e Entry) bool {
	if e.UserID != s.UserID || e.Type != s.Type || e.Direction != s.Direction {
		return false
	}
	if e.Bucket != s.Bucket || e.AmountCents != s.AmountCents || e.Currency != s.Currency {
		return false
	}
	ref := ""
	if e.ExternalRef != nil {
		ref = *e.ExternalRef
	}
	return ref == s.ExternalRef
}

// InsertParams materializes the signature as an appendable entry.
func (s LegSignature) InsertParams(jobID string) InsertParams {
	var ref *string
	if s.ExternalRef != "" {
		r := s.ExternalRef
		ref = &r
	}
	return InsertParams{
		UserID:      s.UserID,
		JobID:       jobID,
		Type:        s.Type,
		Direction:   s.Direction,
		Bucket:      s.Bucket,
		AmountCents: s.AmountCents,
		Currency:    s.Currency,
		ExternalRef: ref,
	}
}

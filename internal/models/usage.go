package models

import "time"

// UsageRecord is the stored state of one identifier's quota window.
type UsageRecord struct {
	Identifier string
	Count      int
	ResetAt    time.Time
}

// Expired reports whether the window has elapsed at now.
func (r UsageRecord) Expired(now time.Time) bool {
	return now.After(r.ResetAt)
}

// UsageDecision is the outcome of a check-and-increment.
type UsageDecision struct {
	Allowed   bool
	Remaining int
	Limit     int
	ResetAt   time.Time
}

// UsageSnapshot is a read-only view of an identity's current window.
type UsageSnapshot struct {
	Tier      Tier
	Limit     int
	Used      int
	Remaining int
	ResetAt   *time.Time
}

package models

import "time"

// LockRecord marks a named job as held by one process instance until
// ExpiresAt. A record whose ExpiresAt has passed is logically free even
// while the document still exists.
type LockRecord struct {
	JobName   string    `json:"job_name"`
	LockedBy  string    `json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the lock is reclaimable at the given moment.
func (r LockRecord) Expired(now time.Time) bool {
	return !r.ExpiresAt.After(now)
}

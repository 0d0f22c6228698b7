package model

import "time"

// DefaultMappingTTL is the retention window for idempotency mappings.
// Resubmission with the same key after the TTL creates a fresh job.
const DefaultMappingTTL = 24 * time.Hour

// Mapping is one idempotency mapping entry: (type, key) -> jobID.
// Exactly one mapping exists per key; the first successful insert wins a
// creation race and losers discover the winner's job id.
type Mapping struct {
	Type      JobType   `json:"type"       db:"type"`
	Key       string    `json:"key"        db:"idempotency_key"`
	JobID     string    `json:"job_id"     db:"job_id"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Live reports whether the mapping is still within its TTL at the given time.
func (m *Mapping) Live(now time.Time) bool {
	return m != nil && now.Before(m.ExpiresAt)
}

package audit

import "time"

// ScanRun is the metadata of one duplicate-detection pass, written once when
// the scan completes.
type ScanRun struct {
	ID         string    `json:"id"`
	EntityType string    `json:"entity_type"`
	Threshold  float64   `json:"threshold"`
	Limit      int       `json:"limit"`
	StartedAt  time.Time `json:"started_at"`
	DurationMs int64     `json:"duration_ms"`
	MatchCount int       `json:"match_count"`
	Truncated  bool      `json:"truncated"`
}

// ResolutionAction is the operator decision applied to a match.
type ResolutionAction string

const (
	ActionMerge   ResolutionAction = "merge"
	ActionDismiss ResolutionAction = "dismiss"
)

// ResolutionDecision records an operator's terminal decision on a match.
// Decisions key on the content hash of the compared field values, so a
// dismissed pair stays dismissed across re-scans until the underlying
// records change.
type ResolutionDecision struct {
	ID          string           `json:"id"`
	MatchID     string           `json:"match_id"`
	ContentHash string           `json:"content_hash"`
	Action      ResolutionAction `json:"action"`
	SurvivorID  string           `json:"survivor_id,omitempty"`
	ResolvedBy  string           `json:"resolved_by,omitempty"`
	ResolvedAt  time.Time        `json:"resolved_at"`
}

// ThreatEvent is an append-only record of a detected injection/XSS pattern
// match. TruncatedInput is capped by the detector so the log never stores
// unbounded attacker-controlled payloads.
type ThreatEvent struct {
	ID             string    `json:"id"`
	Pattern        string    `json:"pattern"`
	Category       string    `json:"category"`
	Severity       string    `json:"severity"`
	FieldName      string    `json:"field_name,omitempty"`
	TruncatedInput string    `json:"truncated_input"`
	IP             string    `json:"ip,omitempty"`
	UserAgent      string    `json:"user_agent,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// RateLimitEvent records one rate-limit decision for audit and tuning.
type RateLimitEvent struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	Route     string    `json:"route,omitempty"`
	Allowed   bool      `json:"allowed"`
	Count     int       `json:"count"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockedIdentity is a persistent administrative block, independent of the
// rolling window. A nil ExpiresAt means the block is permanent until
// explicitly removed.
type BlockedIdentity struct {
	IP        string     `json:"ip"`
	Reason    string     `json:"reason,omitempty"`
	BlockedBy string     `json:"blocked_by,omitempty"`
	BlockedAt time.Time  `json:"blocked_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Active reports whether the block denies requests at time now.
func (b BlockedIdentity) Active(now time.Time) bool {
	return b.ExpiresAt == nil || b.ExpiresAt.After(now)
}

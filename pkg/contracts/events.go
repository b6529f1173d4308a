package contracts

import "time"

// AuditEventType categorizes entries in the per-request audit trail.
type AuditEventType string

const (
	AuditDecision          AuditEventType = "decision"
	AuditHITLResolution    AuditEventType = "hitl_resolution"
	AuditResolutionDenied  AuditEventType = "resolution_denied"
	AuditValidationFailure AuditEventType = "validation_failure"
)

// AuditEvent is one entry in the append-only operational trail for a
// request. Events are write-once; the store must never rewrite them.
type AuditEvent struct {
	EventID    string         `json:"event_id"`
	RequestID  string         `json:"request_id"`
	Type       AuditEventType `json:"type"`
	Decision   Decision       `json:"decision"`
	ReasonCode string         `json:"reason_code"`
	State      RequestState   `json:"state"`
	Tier       int            `json:"tier"`
	Timestamp  time.Time      `json:"timestamp"`
	Detail     map[string]string `json:"detail,omitempty"`
}

// LineageEvent marks a transition into a terminal state. Lineage is the
// governance subset of the audit trail: one event per terminal
// transition, content-hashed for tamper evidence.
type LineageEvent struct {
	EventID    string       `json:"event_id"`
	RequestID  string       `json:"request_id"`
	State      RequestState `json:"state"`
	Decision   Decision     `json:"decision"`
	ReasonCode string       `json:"reason_code"`
	Timestamp  time.Time    `json:"timestamp"`

	// ContentHash is the SHA-256 of the canonical form of the event
	// minus this field ("sha256:" prefixed hex).
	ContentHash string `json:"content_hash"`
}

// MetricsEvent is a raw counter emission persisted for the external
// metrics projector. The engine appends these fire-and-forget; rollups
// are computed downstream.
type MetricsEvent struct {
	Name      string            `json:"name"`
	Value     int64             `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// RollupPeriod selects the aggregation bucket size for metrics rollups.
type RollupPeriod string

const (
	RollupHourly RollupPeriod = "hourly"
	RollupDaily  RollupPeriod = "daily"
)

// MetricsRollup is an aggregated counter bucket maintained by the
// external projector via the store's upsert contract.
type MetricsRollup struct {
	Period RollupPeriod `json:"period"`
	Bucket time.Time    `json:"bucket"`
	Name   string       `json:"name"`
	Value  int64        `json:"value"`
}

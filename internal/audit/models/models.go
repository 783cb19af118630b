// Package models defines the audit log's domain types: records, event
// inputs, filters, and integrity reports.
package models

import (
	"time"

	"github.com/google/uuid"
)

// EventType classifies what kind of activity a record captures.
type EventType string

const (
	EventUserAction    EventType = "user_action"
	EventSystem        EventType = "system_event"
	EventDataAccess    EventType = "data_access"
	EventDataModify    EventType = "data_modification"
	EventAuthn         EventType = "authentication"
	EventAuthz         EventType = "authorization"
	EventCompliance    EventType = "compliance_check"
	EventConfigChange  EventType = "configuration_change"
	EventError         EventType = "error"
	EventSecurityAlert EventType = "security_incident"
)

var eventTypes = map[EventType]bool{
	EventUserAction:    true,
	EventSystem:        true,
	EventDataAccess:    true,
	EventDataModify:    true,
	EventAuthn:         true,
	EventAuthz:         true,
	EventCompliance:    true,
	EventConfigChange:  true,
	EventError:         true,
	EventSecurityAlert: true,
}

// Valid reports whether t is a member of the event type enumeration.
func (t EventType) Valid() bool { return eventTypes[t] }

// Severity ranks how serious an event is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severities = map[Severity]bool{
	SeverityLow:      true,
	SeverityMedium:   true,
	SeverityHigh:     true,
	SeverityCritical: true,
}

// Valid reports whether s is a member of the severity enumeration.
func (s Severity) Valid() bool { return severities[s] }

// Status records the outcome of the audited operation.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusWarning Status = "warning"
	StatusPending Status = "pending"
)

var statuses = map[Status]bool{
	StatusSuccess: true,
	StatusFailure: true,
	StatusWarning: true,
	StatusPending: true,
}

// Valid reports whether s is a member of the status enumeration.
func (s Status) Valid() bool { return statuses[s] }

// Record is one immutable entry in the audit log. Hash covers the canonical
// encoding of every field except Hash itself, concatenated with PrevHash, so
// any retroactive edit breaks the chain from that point forward.
type Record struct {
	Sequence      uint64         `json:"sequence"`
	ID            uuid.UUID      `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	EventType     EventType      `json:"eventType"`
	Severity      Severity       `json:"severity"`
	Status        Status         `json:"status"`
	UserID        string         `json:"userId,omitempty"`
	Resource      string         `json:"resource"`
	Action        string         `json:"action"`
	Details       map[string]any `json:"details"`
	IPAddress     string         `json:"ipAddress,omitempty"`
	UserAgent     string         `json:"userAgent,omitempty"`
	CorrelationID string         `json:"correlationId,omitempty"`
	Source        string         `json:"source,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Hash          string         `json:"hash"`
	PrevHash      string         `json:"previousHash"`
}

// Event is the caller-supplied input to Log. The service assigns Sequence,
// ID, Timestamp, Hash, and PrevHash; contextual fields left empty are
// enriched from the request context.
type Event struct {
	EventType     EventType
	Severity      Severity
	Status        Status
	UserID        string
	Resource      string
	Action        string
	Details       map[string]any
	IPAddress     string
	UserAgent     string
	CorrelationID string
	Source        string
	Metadata      map[string]any
}

// Filter selects records for reads and exports. Zero-valued fields do not
// constrain; set fields combine with AND semantics.
type Filter struct {
	From      time.Time
	To        time.Time
	EventType EventType
	Severity  Severity
	Status    Status
	UserID    string
	Resource  string
	Reverse   bool
	Limit     int
}

// Matches reports whether r satisfies every set constraint of the filter.
// Limit and Reverse are pagination concerns handled by the store.
func (f Filter) Matches(r *Record) bool {
	if !f.From.IsZero() && r.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && r.Timestamp.After(f.To) {
		return false
	}
	if f.EventType != "" && r.EventType != f.EventType {
		return false
	}
	if f.Severity != "" && r.Severity != f.Severity {
		return false
	}
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.UserID != "" && r.UserID != f.UserID {
		return false
	}
	if f.Resource != "" && r.Resource != f.Resource {
		return false
	}
	return true
}

// Range bounds a verification run by sequence number. Zero values mean
// unbounded on that side.
type Range struct {
	FromSeq uint64
	ToSeq   uint64
}

// BreakKind distinguishes how a chain link failed verification.
type BreakKind string

const (
	// BreakHashMismatch: the recomputed hash differs from the stored hash,
	// meaning the record's content was altered after it was appended.
	BreakHashMismatch BreakKind = "hash_mismatch"
	// BreakLinkMismatch: the stored previous-hash does not match the
	// predecessor's hash, meaning the linkage itself was rewritten.
	BreakLinkMismatch BreakKind = "link_mismatch"
	// BreakSequenceGap: a sequence number is missing, a structural anomaly
	// distinct from any hash comparison.
	BreakSequenceGap BreakKind = "sequence_gap"
)

// Break describes one integrity failure found during verification.
type Break struct {
	Kind     BreakKind `json:"kind"`
	Sequence uint64    `json:"sequence"`
	RecordID uuid.UUID `json:"recordId,omitempty"`
	Expected string    `json:"expected,omitempty"`
	Actual   string    `json:"actual,omitempty"`
	Detail   string    `json:"detail,omitempty"`
}

// IntegrityReport is the normal result of a verification run. A broken chain
// is reported here, never as a Go error.
type IntegrityReport struct {
	Valid          bool      `json:"valid"`
	RecordsChecked int       `json:"recordsChecked"`
	FirstBreak     *Break    `json:"firstBreak,omitempty"`
	Breaks         []Break   `json:"breaks,omitempty"`
	VerifiedAt     time.Time `json:"verifiedAt"`
	UpToSequence   uint64    `json:"upToSequence"`
}

// VerifyOptions configures a verification run.
type VerifyOptions struct {
	// Range bounds the scan by sequence. When FromSeq > 1 the verifier seeds
	// the expected previous hash from the record before the range.
	Range Range
	// ScanAll continues past the first break to enumerate every subsequent
	// break. After a break the expected previous hash is re-seeded from the
	// stored chain, so later findings are best-effort.
	ScanAll bool
}

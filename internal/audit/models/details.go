package models

// Typed detail payloads per event type. Callers that know their event shape
// build Details through these instead of hand-assembling maps; Extra carries
// genuinely unstructured context and is merged in without overriding the
// typed keys.

// DetailPayload is implemented by the per-event-type payload structs.
type DetailPayload interface {
	EventType() EventType
	Fields() map[string]any
}

func mergeExtra(fields map[string]any, extra map[string]any) map[string]any {
	for k, v := range extra {
		if _, taken := fields[k]; !taken {
			fields[k] = v
		}
	}
	return fields
}

// AuthenticationDetails describes a login or credential event.
type AuthenticationDetails struct {
	Method     string
	MFAUsed    bool
	FailReason string
	Extra      map[string]any
}

func (d AuthenticationDetails) EventType() EventType { return EventAuthn }

func (d AuthenticationDetails) Fields() map[string]any {
	fields := map[string]any{
		"method":   d.Method,
		"mfa_used": d.MFAUsed,
	}
	if d.FailReason != "" {
		fields["fail_reason"] = d.FailReason
	}
	return mergeExtra(fields, d.Extra)
}

// DataAccessDetails describes a read of a protected resource.
type DataAccessDetails struct {
	RecordCount int
	Query       string
	Extra       map[string]any
}

func (d DataAccessDetails) EventType() EventType { return EventDataAccess }

func (d DataAccessDetails) Fields() map[string]any {
	fields := map[string]any{
		"record_count": d.RecordCount,
	}
	if d.Query != "" {
		fields["query"] = d.Query
	}
	return mergeExtra(fields, d.Extra)
}

// DataModificationDetails describes a write, with optional before/after
// snapshots of the changed fields.
type DataModificationDetails struct {
	Operation string
	Before    map[string]any
	After     map[string]any
	Extra     map[string]any
}

func (d DataModificationDetails) EventType() EventType { return EventDataModify }

func (d DataModificationDetails) Fields() map[string]any {
	fields := map[string]any{
		"operation": d.Operation,
	}
	if len(d.Before) > 0 {
		fields["before"] = d.Before
	}
	if len(d.After) > 0 {
		fields["after"] = d.After
	}
	return mergeExtra(fields, d.Extra)
}

// ConfigurationChangeDetails describes a settings change.
type ConfigurationChangeDetails struct {
	Setting  string
	OldValue string
	NewValue string
	Extra    map[string]any
}

func (d ConfigurationChangeDetails) EventType() EventType { return EventConfigChange }

func (d ConfigurationChangeDetails) Fields() map[string]any {
	return mergeExtra(map[string]any{
		"setting":   d.Setting,
		"old_value": d.OldValue,
		"new_value": d.NewValue,
	}, d.Extra)
}

// ComplianceCheckDetails describes an automated compliance evaluation.
type ComplianceCheckDetails struct {
	Rule     string
	Outcome  string
	Evidence map[string]any
	Extra    map[string]any
}

func (d ComplianceCheckDetails) EventType() EventType { return EventCompliance }

func (d ComplianceCheckDetails) Fields() map[string]any {
	fields := map[string]any{
		"rule":    d.Rule,
		"outcome": d.Outcome,
	}
	if len(d.Evidence) > 0 {
		fields["evidence"] = d.Evidence
	}
	return mergeExtra(fields, d.Extra)
}

// SecurityIncidentDetails describes a detected security event.
type SecurityIncidentDetails struct {
	Indicator string
	Origin    string
	Blocked   bool
	Extra     map[string]any
}

func (d SecurityIncidentDetails) EventType() EventType { return EventSecurityAlert }

func (d SecurityIncidentDetails) Fields() map[string]any {
	return mergeExtra(map[string]any{
		"indicator": d.Indicator,
		"origin":    d.Origin,
		"blocked":   d.Blocked,
	}, d.Extra)
}

// GenericDetails carries unstructured context for event types without a
// dedicated payload shape.
type GenericDetails struct {
	Type   EventType
	Values map[string]any
}

func (d GenericDetails) EventType() EventType { return d.Type }

func (d GenericDetails) Fields() map[string]any {
	if d.Values == nil {
		return map[string]any{}
	}
	return d.Values
}

// NewEvent assembles an Event from a typed payload. The payload fixes the
// event type and supplies the details map.
func NewEvent(payload DetailPayload, severity Severity, status Status, resource, action string) Event {
	return Event{
		EventType: payload.EventType(),
		Severity:  severity,
		Status:    status,
		Resource:  resource,
		Action:    action,
		Details:   payload.Fields(),
	}
}

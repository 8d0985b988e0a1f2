package invalidation

import (
	"encoding/json"
	"io"
	"strings"
	"time"
)

// AuditSchemaVersion is written into every AuditRecord as "v".
const AuditSchemaVersion = 1

// UnknownActor is recorded when the caller identity carries no email or role.
const UnknownActor = "unknown"

// Outcome classifies the result of a provider attempt.
type Outcome string

const (
	OutcomeAccepted           Outcome = "accepted"
	OutcomeRejected           Outcome = "rejected"
	OutcomeGatewayUnreachable Outcome = "gateway_unreachable"
	OutcomeGatewayTimeout     Outcome = "gateway_timeout"
)

// IsValid reports whether the outcome is one of the known values.
func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeAccepted, OutcomeRejected, OutcomeGatewayUnreachable, OutcomeGatewayTimeout:
		return true
	}
	return false
}

// IsGatewayFailure reports whether the outcome was caused by the network
// rather than by the provider answering.
func (o Outcome) IsGatewayFailure() bool {
	return o == OutcomeGatewayUnreachable || o == OutcomeGatewayTimeout
}

// Identity is the verified caller of an operation.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// User returns the email used in audit records.
func (i Identity) User() string {
	if i.Email == "" {
		return UnknownActor
	}
	return i.Email
}

// RoleOrUnknown returns the role used in audit records.
func (i Identity) RoleOrUnknown() string {
	if i.Role == "" {
		return UnknownActor
	}
	return i.Role
}

// Invalidation is what a provider returns for an accepted submission.
type Invalidation struct {
	ID              string `json:"id"`
	Status          string `json:"status"`
	Provider        string `json:"provider,omitempty"`
	DistributionID  string `json:"distribution_id,omitempty"`
	CallerReference string `json:"caller_reference,omitempty"`
}

// InvalidationSummary is the {id, status} pair stored in audit records and
// returned to clients.
type InvalidationSummary struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Summary returns the client-facing part of the invalidation.
func (i *Invalidation) Summary() *InvalidationSummary {
	if i == nil {
		return nil
	}
	return &InvalidationSummary{ID: i.ID, Status: i.Status}
}

// Attempt records one call to a provider.
type Attempt struct {
	Provider        string  `json:"provider"`
	CallerReference string  `json:"caller_reference"`
	Outcome         Outcome `json:"outcome"`
	InvalidationID  string  `json:"invalidation_id,omitempty"`
	Error           string  `json:"error,omitempty"`
	DurationMS      int64   `json:"duration_ms"`
}

// AuditRecord is one line of the audit log. Result and Error are mutually
// exclusive.
type AuditRecord struct {
	Version   int                  `json:"v"`
	Timestamp time.Time            `json:"timestamp"`
	User      string               `json:"user"`
	Role      string               `json:"role"`
	Paths     []string             `json:"paths"`
	Result    *InvalidationSummary `json:"result,omitempty"`
	Error     string               `json:"error,omitempty"`
	Outcome   Outcome              `json:"outcome"`
	Provider  string               `json:"provider,omitempty"`
	Fallback  bool                 `json:"fallback"`
	Attempts  []Attempt            `json:"attempts,omitempty"`
}

// Succeeded reports whether the record holds a result.
func (r *AuditRecord) Succeeded() bool {
	return r.Result != nil
}

// AuditEntry is a record read back from an AuditLog. A line that could not
// be parsed is kept verbatim in Raw and Record is nil.
type AuditEntry struct {
	Record *AuditRecord
	Raw    string
}

// MarshalJSON renders parsed entries as the record itself and unparsable
// entries as {"raw": "..."}.
func (e AuditEntry) MarshalJSON() ([]byte, error) {
	if e.Record == nil {
		return json.Marshal(struct {
			Raw string `json:"raw"`
		}{Raw: e.Raw})
	}
	return json.Marshal(e.Record)
}

// UnmarshalJSON accepts either form produced by MarshalJSON.
func (e *AuditEntry) UnmarshalJSON(data []byte) error {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	if raw, ok := probe["raw"]; ok && len(probe) == 1 {
		e.Record = nil
		return json.Unmarshal(raw, &e.Raw)
	}
	var rec AuditRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return err
	}
	e.Record = &rec
	e.Raw = ""
	return nil
}

// ParseAuditLine decodes one stored line. Lines that are not a valid record
// come back as raw entries, including JSON objects with fields a record does
// not have.
func ParseAuditLine(line string) AuditEntry {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "{") {
		return AuditEntry{Raw: line}
	}
	dec := json.NewDecoder(strings.NewReader(trimmed))
	dec.DisallowUnknownFields()
	var rec AuditRecord
	if err := dec.Decode(&rec); err != nil {
		return AuditEntry{Raw: line}
	}
	if _, err := dec.Token(); err != io.EOF {
		return AuditEntry{Raw: line}
	}
	if !rec.wellFormed() {
		return AuditEntry{Raw: line}
	}
	return AuditEntry{Record: &rec}
}

// wellFormed reports whether a decoded record has the minimal shape the
// service writes: a version, a timestamp, a known outcome and exactly one
// of result or error.
func (r *AuditRecord) wellFormed() bool {
	if r.Version < 1 || r.Timestamp.IsZero() || !r.Outcome.IsValid() {
		return false
	}
	return (r.Result != nil) != (r.Error != "")
}

// Result is returned by a successful Invalidate call.
type Result struct {
	Invalidation *Invalidation
	Paths        []string
	Fallback     bool
	Record       *AuditRecord
}

package events

import (
	"time"
)

// Event types emitted by the rule store and override manager.
const (
	TypeRuleActivated = "rule.activated"
	TypeOverrideSet   = "override.set"
	TypeFailClosed    = "evaluation.fail_closed"
)

// AuditEvent is the envelope published for every state change that a
// reviewer may need to reconstruct later.
type AuditEvent struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	OccurredAt time.Time         `json:"occurred_at"`
	Actor      string            `json:"actor,omitempty"`
	Subject    string            `json:"subject"` // record id or rule key
	Attributes map[string]string `json:"attributes,omitempty"`
	RequestID  string            `json:"request_id,omitempty"`
}

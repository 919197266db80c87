package sandbox

import (
	"encoding/json"

	"github.com/google/uuid"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// RecordID is the synthetic record every sandbox input is evaluated as.
const RecordID = "sandbox"

// Request selects the rules to preview and the input to run them on.
// RuleVersionID and Logic are mutually exclusive; with neither, the active
// set of Domain is used.
type Request struct {
	InputText      string          `json:"input_text"`
	StructuredData map[string]any  `json:"structured_data,omitempty"`
	RuleVersionID  *uuid.UUID      `json:"rule_version_id,omitempty"`
	Logic          json.RawMessage `json:"logic,omitempty"`
	Defaults       *rules.Defaults `json:"defaults,omitempty"`
	Domain         string          `json:"domain,omitempty"`
}

// TriggeredRule is a finding rendered with a scale-independent severity.
type TriggeredRule struct {
	RuleID        string          `json:"rule_id"`
	Title         string          `json:"title"`
	Severity      string          `json:"severity"`
	ShortReason   string          `json:"short_reason"`
	Verified      bool            `json:"verified"`
	Evidence      []evidence.Item `json:"evidence"`
	PolicyVersion string          `json:"policy_version"`
}

// Result is the preview outcome. Decided is false when every rule was
// inconclusive; EscalationLevel is then nil and Inconclusive says why.
type Result struct {
	Domain          rules.Domain          `json:"domain"`
	TriggeredRules  []TriggeredRule       `json:"triggered_rules"`
	EscalationLevel *string               `json:"escalation_level"`
	Status          *severity.Status      `json:"status,omitempty"`
	Verified        bool                  `json:"verified"`
	Decided         bool                  `json:"decided"`
	RulesEvaluated  int                   `json:"rules_evaluated"`
	Inconclusive    []engine.Inconclusive `json:"inconclusive"`
	DroppedEvidence int                   `json:"dropped_evidence"`

	// AllowlistVersion is the evidence field allowlist the run was checked
	// against.
	AllowlistVersion string `json:"evidence_allowlist_version"`
}

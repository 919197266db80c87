package rules

import (
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// Domain selects the severity scale and the consumer of a rule.
type Domain string

const (
	DomainIntakeSafety      Domain = "intake_safety"
	DomainContentValidation Domain = "content_validation"
)

func ParseDomain(s string) (Domain, error) {
	switch d := Domain(s); d {
	case DomainIntakeSafety, DomainContentValidation:
		return d, nil
	}
	return "", engine.Errorf(engine.CodeValidation, "unknown domain %q", s)
}

// lowestLevel is the severity a fresh draft starts with when nothing else
// is known.
func (d Domain) lowestLevel() string {
	if d == DomainContentValidation {
		return string(severity.FlagInfo)
	}
	return string(severity.EscalationC)
}

type Status string

const (
	StatusDraft    Status = "draft"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// RuleDefinition is the stable identity of a rule. Definitions are never
// deleted; Key is the rule id surfaced on findings.
type RuleDefinition struct {
	ID        uuid.UUID `json:"id"`
	Key       string    `json:"key"`
	Title     string    `json:"title"`
	Domain    Domain    `json:"domain"`
	CreatedAt time.Time `json:"created_at"`

	ActiveVersion *RuleVersion `json:"active_version,omitempty"`
}

// Defaults are the outcome a version assigns when its logic fires.
type Defaults struct {
	LevelDefault  string  `json:"level_default" yaml:"level_default"`
	ActionDefault *string `json:"action_default,omitempty" yaml:"action_default,omitempty"`
}

// Validate checks LevelDefault against the domain's severity scale.
func (d Defaults) Validate(domain Domain) error {
	var err error
	switch domain {
	case DomainIntakeSafety:
		_, err = severity.ParseEscalation(d.LevelDefault)
	case DomainContentValidation:
		_, err = severity.ParseFlag(d.LevelDefault)
	default:
		return engine.Errorf(engine.CodeValidation, "unknown domain %q", domain)
	}
	if err != nil {
		return engine.Wrap(engine.CodeValidation, err, "defaults.level_default")
	}
	return nil
}

// RuleVersion is one immutable revision of a rule's logic. Only drafts may
// change, and only until activation.
type RuleVersion struct {
	ID               uuid.UUID       `json:"id"`
	RuleID           uuid.UUID       `json:"rule_id"`
	RuleKey          string          `json:"rule_key"`
	Title            string          `json:"title"`
	Domain           Domain          `json:"domain"`
	Version          int             `json:"version"`
	Status           Status          `json:"status"`
	Logic            json.RawMessage `json:"logic"`
	Defaults         Defaults        `json:"defaults"`
	ChangeReason     string          `json:"change_reason"`
	CreatedBy        string          `json:"created_by"`
	CreatedAt        time.Time       `json:"created_at"`
	ActivatedAt      *time.Time      `json:"activated_at,omitempty"`
	ActivatedBy      *string         `json:"activated_by,omitempty"`
	ActivationReason *string         `json:"activation_reason,omitempty"`
}

// PolicyVersion identifies the exact rule revision a finding came from.
func (v *RuleVersion) PolicyVersion() string {
	return fmt.Sprintf("%s@v%d", v.RuleKey, v.Version)
}

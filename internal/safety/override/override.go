// Package override combines a clinician override with the computed policy
// result. The override always fully supersedes the computed level. Without
// one, a computed hard stop is only presented when a decisive finding is
// backed by verified evidence.
package override

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// Override is a clinician decision attached to an intake record.
type Override struct {
	ID        uuid.UUID           `json:"id"`
	RecordID  uuid.UUID           `json:"record_id"`
	Level     severity.Escalation `json:"level"`
	Reason    string              `json:"reason"`
	CreatedBy string              `json:"created_by"`
	CreatedAt time.Time           `json:"created_at"`
}

// New validates and builds an override. The id and timestamp are assigned
// by the caller at persistence time.
func New(recordID uuid.UUID, level, reason, actor string) (*Override, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, engine.ErrOverrideReason
	}
	lvl, err := severity.ParseEscalation(level)
	if err != nil {
		return nil, engine.Wrap(engine.CodeValidation, err, "invalid override level")
	}
	if strings.TrimSpace(actor) == "" {
		return nil, engine.Errorf(engine.CodeValidation, "override actor is required")
	}
	return &Override{
		RecordID:  recordID,
		Level:     lvl,
		Reason:    strings.TrimSpace(reason),
		CreatedBy: actor,
	}, nil
}

// State describes where the effective level came from.
type State string

const (
	StateComputed           State = "computed"
	StateOverridden         State = "overridden"
	StateUnverifiedCritical State = "unverified_critical"
)

// Effective is the level consumers act on, alongside its provenance.
type Effective struct {
	EscalationLevel *severity.Escalation `json:"escalation_level"`
	State           State                `json:"state"`
	ComputedLevel   *severity.Escalation `json:"computed_level"`
	Override        *Override            `json:"override,omitempty"`
}

// ComputeEffective applies o to the computed result pr. An override wins
// unconditionally. A computed hard stop with no verified decisive finding
// has no effective level and is reported as unverified_critical until a
// human resolves it.
func ComputeEffective(pr engine.PolicyResult[severity.Escalation], o *Override) Effective {
	eff := Effective{ComputedLevel: copyLevel(pr.EscalationLevel)}
	switch {
	case o != nil:
		lvl := o.Level
		eff.EscalationLevel = &lvl
		eff.State = StateOverridden
		eff.Override = o
	case pr.EscalationLevel != nil && pr.EscalationLevel.IsHardStop() && !pr.Verified:
		eff.State = StateUnverifiedCritical
	default:
		eff.EscalationLevel = copyLevel(pr.EscalationLevel)
		eff.State = StateComputed
	}
	return eff
}

func copyLevel(l *severity.Escalation) *severity.Escalation {
	if l == nil {
		return nil
	}
	v := *l
	return &v
}

// AuditEntry is appended for every override write and never modified.
type AuditEntry struct {
	ID        uuid.UUID            `json:"id"`
	RecordID  uuid.UUID            `json:"record_id"`
	FromLevel *severity.Escalation `json:"from_level"`
	ToLevel   severity.Escalation  `json:"to_level"`
	Reason    string               `json:"reason"`
	Actor     string               `json:"actor"`
	CreatedAt time.Time            `json:"created_at"`
}

// NewAuditEntry records the transition caused by next. The from-level is
// the previous override's level if there was one, otherwise the computed
// level at the time of the write (which may be nil).
func NewAuditEntry(prev, next *Override, computed *severity.Escalation) AuditEntry {
	from := copyLevel(computed)
	if prev != nil {
		l := prev.Level
		from = &l
	}
	return AuditEntry{
		RecordID:  next.RecordID,
		FromLevel: from,
		ToLevel:   next.Level,
		Reason:    next.Reason,
		Actor:     next.CreatedBy,
		CreatedAt: next.CreatedAt,
	}
}

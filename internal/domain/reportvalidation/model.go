package reportvalidation

import (
	"github.com/google/uuid"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/queue"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// Request carries generated report sections keyed by section key.
type Request struct {
	RecordID string            `json:"record_id"`
	Sections map[string]string `json:"sections"`
}

// Flag is a content-validation finding with a stable id.
type Flag struct {
	FlagID        uuid.UUID       `json:"flag_id"`
	RuleID        string          `json:"rule_id"`
	Title         string          `json:"title"`
	SectionKey    string          `json:"section_key"`
	Severity      severity.Flag   `json:"severity"`
	ShortReason   string          `json:"short_reason"`
	Action        *string         `json:"action,omitempty"`
	Verified      bool            `json:"verified"`
	Evidence      []evidence.Item `json:"evidence"`
	PolicyVersion string          `json:"policy_version"`
}

// FlagID derives the flag id from its coordinates so recomputing the same
// report yields identical ids.
func FlagID(recordID, ruleID, sectionKey string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(recordID+"|"+ruleID+"|"+sectionKey))
}

func newFlag(recordID string, f engine.Finding[severity.Flag]) Flag {
	return Flag{
		FlagID:        FlagID(recordID, f.RuleID, f.SectionKey),
		RuleID:        f.RuleID,
		Title:         f.Title,
		SectionKey:    f.SectionKey,
		Severity:      f.Severity,
		ShortReason:   f.ShortReason,
		Action:        f.Action,
		Verified:      f.Verified,
		Evidence:      f.Evidence,
		PolicyVersion: f.PolicyVersion,
	}
}

type Result struct {
	RecordID      string                             `json:"record_id"`
	Status        severity.Status                    `json:"status"`
	Flags         []Flag                             `json:"flags"`
	PolicyResult  engine.PolicyResult[severity.Flag] `json:"policy_result"`
	Inconclusive  []engine.Inconclusive              `json:"inconclusive"`
	ReviewReasons []queue.Item                       `json:"review_reasons"`
}

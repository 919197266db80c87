package intake

import (
	"time"

	"github.com/google/uuid"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/override"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/queue"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/ruleset"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

const RoleAssistant = "assistant"

type ChatMessage struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Record is the read model of an intake: the chat transcript and the
// structured answers. Intake CRUD lives elsewhere; this service only reads.
type Record struct {
	ID             uuid.UUID      `json:"id"`
	StructuredData map[string]any `json:"structured_data"`
	ChatMessages   []ChatMessage  `json:"chat_messages"`
}

// Document normalises the record for rule evaluation. Assistant turns are
// skipped: a question about chest pain is not a report of chest pain.
func (r *Record) Document() ruleset.Document {
	id := r.ID.String()
	doc := ruleset.Document{RecordID: id}
	for _, m := range r.ChatMessages {
		if m.Role == RoleAssistant {
			continue
		}
		doc.Segments = append(doc.Segments, ruleset.ChatSegment(m.ID, m.Content))
	}
	doc.Segments = append(doc.Segments, ruleset.StructuredSegments(id, r.StructuredData)...)
	return doc
}

type Finding = engine.Finding[severity.Escalation]

// Assessment is the policy view of one record: the computed result, the
// effective result after any override, and the review-queue reasons.
type Assessment struct {
	RecordID      uuid.UUID                                `json:"record_id"`
	PolicyResult  engine.PolicyResult[severity.Escalation] `json:"policy_result"`
	Effective     override.Effective                       `json:"effective_policy_result"`
	Override      *override.Override                       `json:"override"`
	Findings      []Finding                                `json:"findings"`
	Inconclusive  []engine.Inconclusive                    `json:"inconclusive"`
	ReviewReasons []queue.Item                             `json:"review_reasons"`
	// FailClosed is set when no rule decided and the effective result rests
	// on the override alone.
	FailClosed bool `json:"fail_closed"`
}

// OverrideResult is returned after an override write.
type OverrideResult struct {
	Override  *override.Override  `json:"override"`
	Audit     override.AuditEntry `json:"audit_entry"`
	Effective override.Effective  `json:"effective_policy_result"`
}

// Package queue derives review-queue reasons from engine outcomes. The
// engine decides why a record needs review; consumers only prioritise.
package queue

import (
	"hash/fnv"
	"strings"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/override"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// Reason is a closed vocabulary of review triggers.
type Reason string

const (
	ValidationFail Reason = "VALIDATION_FAIL"
	ValidationFlag Reason = "VALIDATION_FLAG"
	SafetyBlock    Reason = "SAFETY_BLOCK"
	SafetyFlag     Reason = "SAFETY_FLAG"
	SafetyUnknown  Reason = "SAFETY_UNKNOWN"
	Sampled        Reason = "SAMPLED"
	ManualReview   Reason = "MANUAL_REVIEW"
)

// Priority tiers, P0 most urgent.
type Priority string

const (
	P0 Priority = "P0"
	P1 Priority = "P1"
	P2 Priority = "P2"
	P3 Priority = "P3"
)

var defaultPriority = map[Reason]Priority{
	SafetyBlock:    P0,
	SafetyUnknown:  P0,
	ValidationFail: P1,
	SafetyFlag:     P1,
	ValidationFlag: P2,
	ManualReview:   P2,
	Sampled:        P3,
}

// DefaultPriority maps a reason to its default tier. Consumers may remap.
func DefaultPriority(r Reason) Priority {
	if p, ok := defaultPriority[r]; ok {
		return p
	}
	return P3
}

// Item is a reason with its default priority, as returned to clients.
type Item struct {
	Reason   Reason   `json:"reason"`
	Priority Priority `json:"priority"`
}

func items(rs ...Reason) []Item {
	out := make([]Item, 0, len(rs))
	for _, r := range rs {
		out = append(out, Item{Reason: r, Priority: DefaultPriority(r)})
	}
	return out
}

// Sampler picks a deterministic fraction of records for QA review.
type Sampler struct {
	Rate float64
}

// Pick reports whether key falls into the sample. The same key always gets
// the same answer for a given rate.
func (s Sampler) Pick(key string) bool {
	if s.Rate <= 0 {
		return false
	}
	if s.Rate >= 1 {
		return true
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return float64(h.Sum64()%10000) < s.Rate*10000
}

// ForIntake returns the review reasons for an intake assessment. incomplete
// is true when at least one rule was inconclusive.
func ForIntake(eff override.Effective, incomplete bool, recordID string, s Sampler) []Item {
	var rs []Reason
	switch {
	case eff.State == override.StateUnverifiedCritical:
		// computed hard stop without evidence; a human has to settle it
		rs = append(rs, SafetyBlock)
	case eff.EscalationLevel != nil && *eff.EscalationLevel == severity.EscalationA:
		rs = append(rs, SafetyBlock)
	case eff.EscalationLevel != nil && *eff.EscalationLevel == severity.EscalationB:
		rs = append(rs, SafetyFlag)
	}
	if incomplete {
		rs = append(rs, SafetyUnknown)
	}
	if eff.State == override.StateOverridden {
		rs = append(rs, ManualReview)
	}
	if len(rs) == 0 && s.Pick(recordID) {
		rs = append(rs, Sampled)
	}
	return items(rs...)
}

// ForIntakeFailure is used when no decision could be rendered at all. An
// override still in force is flagged for manual review as well.
func ForIntakeFailure(overridden bool) []Item {
	if overridden {
		return items(SafetyUnknown, ManualReview)
	}
	return items(SafetyUnknown)
}

// ForContent returns the review reasons for a content validation status.
func ForContent(status severity.Status, incomplete bool, recordID string, s Sampler) []Item {
	switch {
	case status == severity.StatusFail:
		return items(ValidationFail)
	case status == severity.StatusFlag || incomplete:
		return items(ValidationFlag)
	case s.Pick(recordID):
		return items(Sampled)
	}
	return items()
}

// ForContentFailure is used when content validation could not complete.
func ForContentFailure() []Item { return items(ValidationFail) }

// Codes joins the reason codes of in, in order, for log and event fields.
func Codes(in []Item) string {
	rs := make([]string, 0, len(in))
	for _, it := range in {
		rs = append(rs, string(it.Reason))
	}
	return strings.Join(rs, ",")
}

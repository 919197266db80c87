// Package engine is the shared core for evaluating declarative rules against
// an input. It is generic over the severity scale so that intake safety
// (escalation A/B/C) and content validation (CRITICAL/WARNING/INFO) run
// through the same evaluation, sanitization and aggregation code.
//
// Evaluation is pure: no clock, randomness, I/O or logging happens here.
// Identical rules and input always produce identical output.
package engine

import (
	"fmt"
	"sort"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
)

// Level is a totally ordered severity. Higher Rank is more severe.
type Level interface {
	comparable
	Rank() int
	String() string
}

// Finding is a single triggered rule.
type Finding[S Level] struct {
	RuleID        string          `json:"rule_id"`
	Title         string          `json:"title"`
	Severity      S               `json:"severity"`
	ShortReason   string          `json:"short_reason"`
	Action        *string         `json:"action,omitempty"`
	Verified      bool            `json:"verified"`
	Evidence      []evidence.Item `json:"evidence"`
	PolicyVersion string          `json:"policy_version,omitempty"`
	SectionKey    string          `json:"section_key,omitempty"`
}

// Rule evaluates an input of type In. A nil finding means the rule did not
// fire. An error marks the rule inconclusive for this input.
type Rule[S Level, In any] interface {
	ID() string
	Check(in In) (*Finding[S], error)
}

// RuleFunc adapts a function to the Rule interface.
type RuleFunc[S Level, In any] struct {
	RuleID string
	Fn     func(In) (*Finding[S], error)
}

func (r RuleFunc[S, In]) ID() string { return r.RuleID }

func (r RuleFunc[S, In]) Check(in In) (*Finding[S], error) { return r.Fn(in) }

// Inconclusive records a rule that could not produce a result.
type Inconclusive struct {
	RuleID string `json:"rule_id"`
	Reason string `json:"reason"`
}

// Evaluation is the raw output of running a rule set.
type Evaluation[S Level] struct {
	Findings       []Finding[S]   `json:"findings"`
	Inconclusive   []Inconclusive `json:"inconclusive"`
	RulesEvaluated int            `json:"rules_evaluated"`
}

// Evaluate runs each rule against in. Rules that return an error or panic
// are reported as inconclusive and never abort the run. Findings are sorted
// by rule id and Verified is derived from the evidence count.
func Evaluate[S Level, In any](rules []Rule[S, In], in In) Evaluation[S] {
	ev := Evaluation[S]{
		Findings:       make([]Finding[S], 0, len(rules)),
		Inconclusive:   []Inconclusive{},
		RulesEvaluated: len(rules),
	}
	for _, r := range rules {
		f, err := safeCheck(r, in)
		if err != nil {
			ev.Inconclusive = append(ev.Inconclusive, Inconclusive{RuleID: r.ID(), Reason: err.Error()})
			continue
		}
		if f == nil {
			continue
		}
		out := *f
		if out.RuleID == "" {
			out.RuleID = r.ID()
		}
		out.Evidence = append([]evidence.Item{}, f.Evidence...)
		out.Verified = len(out.Evidence) > 0
		ev.Findings = append(ev.Findings, out)
	}
	sort.SliceStable(ev.Findings, func(i, j int) bool {
		return ev.Findings[i].RuleID < ev.Findings[j].RuleID
	})
	sort.SliceStable(ev.Inconclusive, func(i, j int) bool {
		return ev.Inconclusive[i].RuleID < ev.Inconclusive[j].RuleID
	})
	return ev
}

func safeCheck[S Level, In any](r Rule[S, In], in In) (f *Finding[S], err error) {
	defer func() {
		if p := recover(); p != nil {
			f, err = nil, fmt.Errorf("rule panicked: %v", p)
		}
	}()
	return r.Check(in)
}

// DroppedEvidence reports an evidence item removed from a finding.
type DroppedEvidence struct {
	RuleID string              `json:"rule_id"`
	Item   evidence.Item       `json:"item"`
	Reason evidence.DropReason `json:"reason"`
}

// Sanitize filters each finding's evidence through the provenance
// validator and recomputes Verified. Findings whose evidence is entirely
// dropped are kept as unverified. The input slice is not modified.
func Sanitize[S Level](findings []Finding[S], recordID string) ([]Finding[S], []DroppedEvidence) {
	out := make([]Finding[S], 0, len(findings))
	var dropped []DroppedEvidence
	for _, f := range findings {
		kept, d := evidence.Filter(f.Evidence, recordID)
		for _, x := range d {
			dropped = append(dropped, DroppedEvidence{RuleID: f.RuleID, Item: x.Item, Reason: x.Reason})
		}
		f.Evidence = kept
		f.Verified = len(kept) > 0
		out = append(out, f)
	}
	return out, dropped
}

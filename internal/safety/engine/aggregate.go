package engine

import "github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"

// PolicyResult is the aggregate outcome over all findings of an evaluation.
type PolicyResult[S Level] struct {
	// EscalationLevel is the highest severity among findings, nil if none fired.
	EscalationLevel *S `json:"escalation_level"`
	// TriggeredRuleIDs lists every fired rule, in finding order.
	TriggeredRuleIDs []string `json:"triggered_rule_ids"`
	// DecisiveRuleIDs lists the rules whose severity equals EscalationLevel.
	DecisiveRuleIDs []string `json:"decisive_rule_ids"`
	// Verified is true when at least one decisive finding carries evidence.
	Verified            bool     `json:"verified"`
	InconclusiveRuleIDs []string `json:"inconclusive_rule_ids"`
	RulesEvaluated      int      `json:"rules_evaluated"`
	// AllowlistVersion names the field allowlist Verified was judged against.
	AllowlistVersion string `json:"evidence_allowlist_version"`
}

// Complete reports whether every evaluated rule produced a result.
func (p PolicyResult[S]) Complete() bool { return len(p.InconclusiveRuleIDs) == 0 }

// Aggregate folds an evaluation into a policy result. It fails closed: when
// no rule ran, or none produced a result, ErrNoRulesAvailable is returned
// alongside an undecided result with no level.
func Aggregate[S Level](ev Evaluation[S]) (PolicyResult[S], error) {
	pr := PolicyResult[S]{
		TriggeredRuleIDs:    []string{},
		DecisiveRuleIDs:     []string{},
		InconclusiveRuleIDs: make([]string, 0, len(ev.Inconclusive)),
		RulesEvaluated:      ev.RulesEvaluated,
		AllowlistVersion:    evidence.AllowlistVersion,
	}
	for _, ic := range ev.Inconclusive {
		pr.InconclusiveRuleIDs = append(pr.InconclusiveRuleIDs, ic.RuleID)
	}
	if ev.RulesEvaluated == 0 || len(ev.Inconclusive) >= ev.RulesEvaluated {
		return pr, ErrNoRulesAvailable
	}

	seen := make(map[string]struct{}, len(ev.Findings))
	var max S
	maxRank := 0
	for _, f := range ev.Findings {
		if _, dup := seen[f.RuleID]; !dup {
			seen[f.RuleID] = struct{}{}
			pr.TriggeredRuleIDs = append(pr.TriggeredRuleIDs, f.RuleID)
		}
		if r := f.Severity.Rank(); r > maxRank {
			maxRank, max = r, f.Severity
		}
	}
	if maxRank == 0 {
		return pr, nil
	}
	pr.EscalationLevel = &max

	decisive := make(map[string]struct{})
	for _, f := range ev.Findings {
		if f.Severity.Rank() != maxRank {
			continue
		}
		if f.Verified {
			pr.Verified = true
		}
		if _, dup := decisive[f.RuleID]; !dup {
			decisive[f.RuleID] = struct{}{}
			pr.DecisiveRuleIDs = append(pr.DecisiveRuleIDs, f.RuleID)
		}
	}
	return pr, nil
}

// Outcome bundles the stages of a full run for callers that need all of them.
type Outcome[S Level] struct {
	Evaluation Evaluation[S]
	Dropped    []DroppedEvidence
	Result     PolicyResult[S]
}

// Run evaluates, sanitizes against recordID and aggregates.
func Run[S Level, In any](rules []Rule[S, In], in In, recordID string) (Outcome[S], error) {
	ev := Evaluate(rules, in)
	var (
		out Outcome[S]
		err error
	)
	ev.Findings, out.Dropped = Sanitize(ev.Findings, recordID)
	out.Evaluation = ev
	out.Result, err = Aggregate(ev)
	return out, err
}

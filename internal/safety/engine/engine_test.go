package engine

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

const recordID = "rec-1"

type input struct{ text string }

func fires(id string, level severity.Escalation, items ...evidence.Item) Rule[severity.Escalation, input] {
	return RuleFunc[severity.Escalation, input]{
		RuleID: id,
		Fn: func(input) (*Finding[severity.Escalation], error) {
			return &Finding[severity.Escalation]{RuleID: id, Title: id, Severity: level, Evidence: items}, nil
		},
	}
}

func silent(id string) Rule[severity.Escalation, input] {
	return RuleFunc[severity.Escalation, input]{
		RuleID: id,
		Fn:     func(input) (*Finding[severity.Escalation], error) { return nil, nil },
	}
}

func failing(id string) Rule[severity.Escalation, input] {
	return RuleFunc[severity.Escalation, input]{
		RuleID: id,
		Fn: func(input) (*Finding[severity.Escalation], error) {
			return nil, errors.New("field not numeric")
		},
	}
}

func panicking(id string) Rule[severity.Escalation, input] {
	return RuleFunc[severity.Escalation, input]{
		RuleID: id,
		Fn:     func(input) (*Finding[severity.Escalation], error) { panic("boom") },
	}
}

func chat(id, excerpt string) evidence.Item {
	return evidence.Item{Source: evidence.SourceChat, SourceID: id, Excerpt: excerpt}
}

func TestEvaluate_SortsFindingsAndDerivesVerified(t *testing.T) {
	rules := []Rule[severity.Escalation, input]{
		fires("z-rule", severity.EscalationB),
		silent("m-rule"),
		fires("a-rule", severity.EscalationC, chat("msg-1", "x")),
	}
	ev := Evaluate(rules, input{})
	if ev.RulesEvaluated != 3 {
		t.Errorf("expected 3 rules evaluated, got %d", ev.RulesEvaluated)
	}
	if len(ev.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d", len(ev.Findings))
	}
	if ev.Findings[0].RuleID != "a-rule" || ev.Findings[1].RuleID != "z-rule" {
		t.Errorf("findings not sorted by rule id: %s, %s", ev.Findings[0].RuleID, ev.Findings[1].RuleID)
	}
	if !ev.Findings[0].Verified || ev.Findings[1].Verified {
		t.Error("verified must equal non-empty evidence")
	}
}

func TestEvaluate_ErrorsAndPanicsAreInconclusive(t *testing.T) {
	rules := []Rule[severity.Escalation, input]{
		panicking("p-rule"),
		failing("f-rule"),
		fires("ok-rule", severity.EscalationB),
	}
	ev := Evaluate(rules, input{})
	if len(ev.Findings) != 1 {
		t.Fatalf("expected 1 finding, got %d", len(ev.Findings))
	}
	if len(ev.Inconclusive) != 2 {
		t.Fatalf("expected 2 inconclusive, got %d", len(ev.Inconclusive))
	}
	if ev.Inconclusive[0].RuleID != "f-rule" || ev.Inconclusive[1].RuleID != "p-rule" {
		t.Errorf("unexpected inconclusive order: %+v", ev.Inconclusive)
	}
}

func TestEvaluate_Deterministic(t *testing.T) {
	rules := []Rule[severity.Escalation, input]{
		fires("r2", severity.EscalationA, chat("msg-1", "chest pain")),
		fires("r1", severity.EscalationB),
		failing("r3"),
	}
	first := Evaluate(rules, input{text: "x"})
	for i := 0; i < 20; i++ {
		if diff := cmp.Diff(first, Evaluate(rules, input{text: "x"})); diff != "" {
			t.Fatalf("evaluation not deterministic (-first +again):\n%s", diff)
		}
	}
}

func TestSanitize_KeepsFindingWithAllEvidenceDropped(t *testing.T) {
	in := []Finding[severity.Escalation]{{
		RuleID:   "r1",
		Severity: severity.EscalationA,
		Verified: true,
		Evidence: []evidence.Item{{Source: evidence.SourceIntake, SourceID: "other-record", Excerpt: "x"}},
	}}
	out, dropped := Sanitize(in, recordID)
	if len(out) != 1 {
		t.Fatalf("finding must be kept, got %d", len(out))
	}
	if out[0].Verified {
		t.Error("expected finding to become unverified")
	}
	if len(out[0].Evidence) != 0 {
		t.Errorf("expected no evidence, got %d", len(out[0].Evidence))
	}
	if len(dropped) != 1 || dropped[0].Reason != evidence.DropForeignRecord {
		t.Errorf("unexpected dropped: %+v", dropped)
	}
	// input untouched
	if !in[0].Verified || len(in[0].Evidence) != 1 {
		t.Error("sanitize mutated its input")
	}
}

func TestSanitize_Idempotent(t *testing.T) {
	in := []Finding[severity.Escalation]{
		{RuleID: "r1", Severity: severity.EscalationB, Evidence: []evidence.Item{chat("m1", "a"), chat("m1", "a"), chat("", "b")}},
		{RuleID: "r2", Severity: severity.EscalationC, Evidence: []evidence.Item{}},
	}
	once, _ := Sanitize(in, recordID)
	twice, dropped := Sanitize(once, recordID)
	if len(dropped) != 0 {
		t.Errorf("second pass dropped %d", len(dropped))
	}
	if diff := cmp.Diff(once, twice); diff != "" {
		t.Errorf("sanitize not idempotent (-once +twice):\n%s", diff)
	}
}

func TestAggregate_EmptyRuleSetFailsClosed(t *testing.T) {
	pr, err := Aggregate(Evaluation[severity.Escalation]{})
	if !errors.Is(err, ErrNoRulesAvailable) {
		t.Fatalf("expected ErrNoRulesAvailable, got %v", err)
	}
	if CodeOf(err) != CodeNoRulesAvailable {
		t.Errorf("expected code %s, got %s", CodeNoRulesAvailable, CodeOf(err))
	}
	if pr.EscalationLevel != nil || pr.Verified || pr.TriggeredRuleIDs == nil || pr.AllowlistVersion != evidence.AllowlistVersion {
		t.Errorf("expected an undecided result, got %+v", pr)
	}
}

func TestAggregate_AllInconclusiveFailsClosed(t *testing.T) {
	ev := Evaluate([]Rule[severity.Escalation, input]{failing("a"), panicking("b")}, input{})
	if _, err := Aggregate(ev); !errors.Is(err, ErrNoRulesAvailable) {
		t.Fatalf("expected ErrNoRulesAvailable, got %v", err)
	}
}

func TestAggregate_NoFindingsIsNilLevel(t *testing.T) {
	ev := Evaluate([]Rule[severity.Escalation, input]{silent("a"), silent("b")}, input{})
	pr, err := Aggregate(ev)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pr.EscalationLevel != nil {
		t.Errorf("expected nil level, got %v", *pr.EscalationLevel)
	}
	if pr.Verified {
		t.Error("expected verified=false with no findings")
	}
	if !pr.Complete() {
		t.Error("expected complete result")
	}
}

func TestAggregate_HighestLevelAndDecisiveRules(t *testing.T) {
	rules := []Rule[severity.Escalation, input]{
		fires("b-rule", severity.EscalationB, chat("m1", "x")),
		fires("a-unverified", severity.EscalationA),
		fires("a-verified", severity.EscalationA, chat("m2", "y")),
		failing("broken"),
	}
	out, err := Run(rules, input{}, recordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	pr := out.Result
	if pr.EscalationLevel == nil || *pr.EscalationLevel != severity.EscalationA {
		t.Fatalf("expected level A, got %v", pr.EscalationLevel)
	}
	if !pr.Verified {
		t.Error("one verified A finding makes the result verified")
	}
	if diff := cmp.Diff([]string{"a-unverified", "a-verified", "b-rule"}, pr.TriggeredRuleIDs); diff != "" {
		t.Errorf("triggered ids (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"a-unverified", "a-verified"}, pr.DecisiveRuleIDs); diff != "" {
		t.Errorf("decisive ids (-want +got):\n%s", diff)
	}
	if pr.Complete() {
		t.Error("expected incomplete result with a broken rule")
	}
	if diff := cmp.Diff([]string{"broken"}, pr.InconclusiveRuleIDs); diff != "" {
		t.Errorf("inconclusive ids (-want +got):\n%s", diff)
	}
	if pr.AllowlistVersion != evidence.AllowlistVersion {
		t.Errorf("allowlist version = %q, want %q", pr.AllowlistVersion, evidence.AllowlistVersion)
	}
}

func TestAggregate_VerifiedOnlyCountsDecisiveFindings(t *testing.T) {
	rules := []Rule[severity.Escalation, input]{
		fires("a-rule", severity.EscalationA),
		fires("c-rule", severity.EscalationC, chat("m1", "x")),
	}
	out, err := Run(rules, input{}, recordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result.Verified {
		t.Error("evidence on a lower-level finding must not verify the A result")
	}
}

func TestRun_SanitizeDowngradesVerification(t *testing.T) {
	foreign := evidence.Item{Source: evidence.SourceIntake, SourceID: "someone-else", Excerpt: "30 min"}
	out, err := Run([]Rule[severity.Escalation, input]{fires("a-rule", severity.EscalationA, foreign)}, input{}, recordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if out.Result.Verified {
		t.Error("cross-record evidence must not verify")
	}
	if len(out.Dropped) != 1 {
		t.Errorf("expected 1 dropped item, got %d", len(out.Dropped))
	}
}

func TestFlagScaleUsesSameCore(t *testing.T) {
	rules := []Rule[severity.Flag, input]{
		RuleFunc[severity.Flag, input]{RuleID: "w", Fn: func(input) (*Finding[severity.Flag], error) {
			return &Finding[severity.Flag]{Severity: severity.FlagWarning}, nil
		}},
		RuleFunc[severity.Flag, input]{RuleID: "c", Fn: func(input) (*Finding[severity.Flag], error) {
			return &Finding[severity.Flag]{Severity: severity.FlagCritical}, nil
		}},
	}
	out, err := Run(rules, input{}, recordID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := severity.StatusFor(out.Result.EscalationLevel); got != severity.StatusFail {
		t.Errorf("expected FAIL, got %s", got)
	}
	if out.Evaluation.Findings[0].RuleID != "c" {
		t.Error("rule id should default to the rule's ID")
	}
}

func TestError_IsMatchesByCode(t *testing.T) {
	err := Errorf(CodeNotDraft, "version %d is active", 3)
	if !errors.Is(err, ErrNotDraft) {
		t.Error("expected errors.Is to match on code")
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("different codes must not match")
	}
	wrapped := Wrap(CodeNoRulesAvailable, errors.New("db down"), "load active rules")
	if CodeOf(wrapped) != CodeNoRulesAvailable {
		t.Errorf("unexpected code %s", CodeOf(wrapped))
	}
	if errors.Unwrap(wrapped) == nil {
		t.Error("expected cause to be unwrappable")
	}
}

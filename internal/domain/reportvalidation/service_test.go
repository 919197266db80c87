package reportvalidation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/events"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/queue"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

type staticRules struct {
	versions []*rules.RuleVersion
	err      error
}

func (s *staticRules) ActiveContentRules(context.Context) ([]rules.ContentRule, error) {
	if s.err != nil {
		return nil, s.err
	}
	return rules.CompileContent(s.versions), nil
}

func defaultContentRules(t *testing.T) *staticRules {
	t.Helper()
	b, err := rules.ParseBundle(rules.DefaultBundle)
	if err != nil {
		t.Fatalf("parse bundle: %v", err)
	}
	vs, err := b.Versions(rules.DomainContentValidation)
	if err != nil {
		t.Fatalf("bundle versions: %v", err)
	}
	return &staticRules{versions: vs}
}

func newTestService(t *testing.T) (*Service, *staticRules) {
	t.Helper()
	src := defaultContentRules(t)
	return NewService(src, zerolog.Nop()), src
}

func TestValidate_ContradictionFails(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Validate(context.Background(), Request{
		RecordID: "rec-1",
		Sections: map[string]string{
			"summary": "Overall this is low risk. The ECG findings indicate high risk for arrhythmia.",
		},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Status != severity.StatusFail {
		t.Fatalf("expected FAIL, got %s", res.Status)
	}
	if len(res.Flags) != 1 {
		t.Fatalf("expected 1 flag, got %+v", res.Flags)
	}
	f := res.Flags[0]
	if f.RuleID != "plausibility-risk-contradiction" || f.Severity != severity.FlagCritical || f.SectionKey != "summary" {
		t.Errorf("unexpected flag: %+v", f)
	}
	if !f.Verified || len(f.Evidence) != 2 {
		t.Errorf("expected two verified excerpts, got %+v", f.Evidence)
	}
	for _, it := range f.Evidence {
		if it.Source != evidence.SourceReportSection || it.SourceID != "rec-1" {
			t.Errorf("unexpected evidence provenance: %+v", it)
		}
	}
	if f.PolicyVersion != "plausibility-risk-contradiction@v1" {
		t.Errorf("policy version = %q", f.PolicyVersion)
	}
	if len(res.ReviewReasons) != 1 || res.ReviewReasons[0].Reason != queue.ValidationFail {
		t.Errorf("unexpected review reasons: %+v", res.ReviewReasons)
	}
}

func TestValidate_MedicationPrescriptionFails(t *testing.T) {
	svc, _ := newTestService(t)
	res, err := svc.Validate(context.Background(), Request{
		RecordID: "rec-2",
		Sections: map[string]string{
			"findings":       "Palpitations reported during exertion.",
			"recommendation": "We prescribe 10mg medication daily.",
		},
	})
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if res.Status != severity.StatusFail {
		t.Fatalf("expected FAIL, got %s", res.Status)
	}
	if len(res.Flags) != 1 || res.Flags[0].RuleID != "safety-no-medication-prescription" {
		t.Fatalf("unexpected flags: %+v", res.Flags)
	}
	if got := res.Flags[0].SectionKey; got != "recommendation" {
		t.Errorf("section key = %q", got)
	}
	if *res.PolicyResult.EscalationLevel != severity.FlagCritical {
		t.Errorf("worst level = %v", *res.PolicyResult.EscalationLevel)
	}
}

func TestValidate_Statuses(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    severity.Status
		flags   int
		reasons []queue.Reason
	}{
		{"clean", "Symptoms documented for clinician review.", severity.StatusPass, 0, nil},
		{"info only", "Regular exercise is encouraged.", severity.StatusPass, 1, nil},
		{"warning", "The diagnosis is atrial fibrillation.", severity.StatusFlag, 1, []queue.Reason{queue.ValidationFlag}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			res, err := svc.Validate(context.Background(), Request{RecordID: "rec", Sections: map[string]string{"summary": tt.text}})
			if err != nil {
				t.Fatal(err)
			}
			if res.Status != tt.want || len(res.Flags) != tt.flags {
				t.Errorf("got %s with %d flags, want %s with %d", res.Status, len(res.Flags), tt.want, tt.flags)
			}
			var got []queue.Reason
			for _, r := range res.ReviewReasons {
				got = append(got, r.Reason)
			}
			if diff := cmp.Diff(tt.reasons, got); diff != "" {
				t.Errorf("review reasons mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidate_SampledPass(t *testing.T) {
	svc, _ := newTestService(t)
	svc.SetSampler(queue.Sampler{Rate: 1})
	res, err := svc.Validate(context.Background(), Request{RecordID: "rec", Sections: map[string]string{"summary": "Nothing notable."}})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.ReviewReasons) != 1 || res.ReviewReasons[0].Reason != queue.Sampled {
		t.Errorf("expected sampled review, got %+v", res.ReviewReasons)
	}
}

func TestValidate_FlagIDStable(t *testing.T) {
	svc, _ := newTestService(t)
	req := Request{RecordID: "rec-3", Sections: map[string]string{
		"summary":        "low risk overall, but emergency referral advised",
		"recommendation": "Please prescribe medication.",
	}}
	first, err := svc.Validate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.Validate(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Errorf("recomputation differs (-first +second):\n%s", diff)
	}
	for _, f := range first.Flags {
		if f.FlagID != FlagID("rec-3", f.RuleID, f.SectionKey) {
			t.Errorf("flag %s: id not derived from coordinates", f.RuleID)
		}
	}
	if FlagID("rec-3", "a", "summary") == FlagID("rec-4", "a", "summary") {
		t.Error("flag ids must differ across records")
	}
}

func TestValidate_RequestValidation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	if _, err := svc.Validate(ctx, Request{Sections: map[string]string{"a": "b"}}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("missing record id: got %v", err)
	}
	if _, err := svc.Validate(ctx, Request{RecordID: "rec"}); !errors.Is(err, engine.ErrValidation) {
		t.Errorf("missing sections: got %v", err)
	}
}

func TestValidate_FailsClosed(t *testing.T) {
	t.Run("empty rule set", func(t *testing.T) {
		svc := NewService(&staticRules{}, zerolog.Nop())
		rec := &recordingEmitter{}
		svc.SetEmitter(rec)
		_, err := svc.Validate(context.Background(), Request{RecordID: "rec", Sections: map[string]string{"s": "low risk"}})
		if !errors.Is(err, engine.ErrNoRulesAvailable) {
			t.Fatalf("expected NO_RULES_AVAILABLE, got %v", err)
		}
		if len(rec.events) != 1 || rec.events[0].Type != events.TypeFailClosed || rec.events[0].Attributes["domain"] != "content_validation" {
			t.Fatalf("expected one fail-closed event, got %+v", rec.events)
		}
		if got := rec.events[0].Attributes["review_reasons"]; got != "VALIDATION_FAIL" {
			t.Errorf("review_reasons = %q, want VALIDATION_FAIL", got)
		}
	})
	t.Run("load error", func(t *testing.T) {
		src := defaultContentRules(t)
		src.err = engine.Wrap(engine.CodeNoRulesAvailable, errors.New("connection refused"), "load content rules")
		svc := NewService(src, zerolog.Nop())
		_, err := svc.Validate(context.Background(), Request{RecordID: "rec", Sections: map[string]string{"s": "text"}})
		if !errors.Is(err, engine.ErrNoRulesAvailable) {
			t.Fatalf("expected NO_RULES_AVAILABLE, got %v", err)
		}
	})
	t.Run("all rules broken", func(t *testing.T) {
		src := &staticRules{versions: []*rules.RuleVersion{{
			RuleKey: "broken", Domain: rules.DomainContentValidation, Version: 1,
			Logic: []byte(`{"kind":"regex"}`), Defaults: rules.Defaults{LevelDefault: "CRITICAL"},
		}}}
		svc := NewService(src, zerolog.Nop())
		_, err := svc.Validate(context.Background(), Request{RecordID: "rec", Sections: map[string]string{"s": "text"}})
		if !errors.Is(err, engine.ErrNoRulesAvailable) {
			t.Fatalf("expected NO_RULES_AVAILABLE, got %v", err)
		}
	})
}

type recordingEmitter struct{ events []events.AuditEvent }

func (r *recordingEmitter) Emit(_ context.Context, e events.AuditEvent) error {
	r.events = append(r.events, e)
	return nil
}

func TestDocument_SectionsInKeyOrder(t *testing.T) {
	doc := Document(Request{RecordID: "r", Sections: map[string]string{"b": "2", "a": "1", "c": "3"}})
	var keys []string
	for _, s := range doc.Segments {
		keys = append(keys, s.FieldPath)
		if s.Source != evidence.SourceReportSection || s.SourceID != "r" {
			t.Errorf("unexpected segment: %+v", s)
		}
	}
	if diff := cmp.Diff([]string{"a", "b", "c"}, keys); diff != "" {
		t.Errorf("segment order (-want +got):\n%s", diff)
	}
}

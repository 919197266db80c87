package queue

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/override"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

func lvl(l severity.Escalation) *severity.Escalation { return &l }

func reasons(in []Item) []Reason {
	out := []Reason{}
	for _, it := range in {
		out = append(out, it.Reason)
	}
	return out
}

func TestDefaultPriority(t *testing.T) {
	tests := map[Reason]Priority{
		SafetyBlock:    P0,
		SafetyUnknown:  P0,
		ValidationFail: P1,
		SafetyFlag:     P1,
		ValidationFlag: P2,
		ManualReview:   P2,
		Sampled:        P3,
	}
	for r, want := range tests {
		if got := DefaultPriority(r); got != want {
			t.Errorf("%s: expected %s, got %s", r, want, got)
		}
	}
}

func TestForIntake(t *testing.T) {
	never := Sampler{}
	tests := []struct {
		name       string
		eff        override.Effective
		incomplete bool
		want       []Reason
	}{
		{"clean", override.Effective{State: override.StateComputed}, false, []Reason{}},
		{"hard stop", override.Effective{State: override.StateComputed, EscalationLevel: lvl(severity.EscalationA)}, false, []Reason{SafetyBlock}},
		{"warning", override.Effective{State: override.StateComputed, EscalationLevel: lvl(severity.EscalationB)}, false, []Reason{SafetyFlag}},
		{"informational", override.Effective{State: override.StateComputed, EscalationLevel: lvl(severity.EscalationC)}, false, []Reason{}},
		{"unverified critical", override.Effective{State: override.StateUnverifiedCritical}, false, []Reason{SafetyBlock}},
		{"unverified critical incomplete", override.Effective{State: override.StateUnverifiedCritical}, true, []Reason{SafetyBlock, SafetyUnknown}},
		{"incomplete warning", override.Effective{State: override.StateComputed, EscalationLevel: lvl(severity.EscalationB)}, true, []Reason{SafetyFlag, SafetyUnknown}},
		{"overridden", override.Effective{State: override.StateOverridden, EscalationLevel: lvl(severity.EscalationC)}, false, []Reason{ManualReview}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := reasons(ForIntake(tt.eff, tt.incomplete, "rec", never))
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("reasons (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFailureReasons(t *testing.T) {
	if got := Codes(ForIntakeFailure(false)); got != "SAFETY_UNKNOWN" {
		t.Errorf("intake failure: got %q", got)
	}
	if got := Codes(ForIntakeFailure(true)); got != "SAFETY_UNKNOWN,MANUAL_REVIEW" {
		t.Errorf("intake failure with override: got %q", got)
	}
	if got := ForContentFailure(); len(got) != 1 || got[0].Reason != ValidationFail || got[0].Priority != P1 {
		t.Errorf("content failure: got %+v", got)
	}
}

func TestForContent(t *testing.T) {
	never := Sampler{}
	if got := reasons(ForContent(severity.StatusFail, false, "r", never)); !cmp.Equal(got, []Reason{ValidationFail}) {
		t.Errorf("FAIL: got %v", got)
	}
	if got := reasons(ForContent(severity.StatusFlag, false, "r", never)); !cmp.Equal(got, []Reason{ValidationFlag}) {
		t.Errorf("FLAG: got %v", got)
	}
	if got := reasons(ForContent(severity.StatusPass, true, "r", never)); !cmp.Equal(got, []Reason{ValidationFlag}) {
		t.Errorf("incomplete PASS: got %v", got)
	}
	if got := ForContent(severity.StatusPass, false, "r", Sampler{Rate: 1}); len(got) != 1 || got[0].Reason != Sampled {
		t.Errorf("expected SAMPLED at rate 1, got %v", got)
	}
}

func TestSampler_DeterministicAndRoughlyProportional(t *testing.T) {
	s := Sampler{Rate: 0.1}
	picked := 0
	for i := 0; i < 10000; i++ {
		key := fmt.Sprintf("record-%d", i)
		a, b := s.Pick(key), s.Pick(key)
		if a != b {
			t.Fatalf("sampler not deterministic for %s", key)
		}
		if a {
			picked++
		}
	}
	if picked < 700 || picked > 1300 {
		t.Errorf("expected ~1000 sampled, got %d", picked)
	}
	if (Sampler{}).Pick("x") {
		t.Error("zero rate must never sample")
	}
}

package severity

import "testing"

func TestEscalationRankOrdering(t *testing.T) {
	if !(EscalationA.Rank() > EscalationB.Rank() && EscalationB.Rank() > EscalationC.Rank()) {
		t.Fatal("expected A > B > C")
	}
	if Escalation("D").Rank() != 0 {
		t.Error("unknown level should rank zero")
	}
}

func TestParseEscalation(t *testing.T) {
	e, err := ParseEscalation(" a ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e != EscalationA {
		t.Errorf("expected A, got %s", e)
	}
	if _, err := ParseEscalation("critical"); err == nil {
		t.Error("expected error for flag severity passed as escalation")
	}
}

func TestParseFlag(t *testing.T) {
	f, err := ParseFlag("warning")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if f != FlagWarning {
		t.Errorf("expected WARNING, got %s", f)
	}
	if _, err := ParseFlag("B"); err == nil {
		t.Error("expected error for escalation passed as flag")
	}
}

func TestStatusFor(t *testing.T) {
	critical, warning, info := FlagCritical, FlagWarning, FlagInfo
	tests := []struct {
		name  string
		worst *Flag
		want  Status
	}{
		{"no flags", nil, StatusPass},
		{"info only", &info, StatusPass},
		{"warning", &warning, StatusFlag},
		{"critical", &critical, StatusFail},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.worst); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}

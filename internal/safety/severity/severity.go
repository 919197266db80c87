// Package severity defines the two ordered severity scales used by the rule
// engine: escalation levels for intake safety rules and flag severities for
// generated-content validation.
package severity

import (
	"fmt"
	"strings"
)

// Escalation is the safety tier of an intake finding. A is a hard stop,
// B warns, C is informational.
type Escalation string

const (
	EscalationA Escalation = "A"
	EscalationB Escalation = "B"
	EscalationC Escalation = "C"
)

// Rank orders escalation levels; unknown values rank zero.
func (e Escalation) Rank() int {
	switch e {
	case EscalationA:
		return 3
	case EscalationB:
		return 2
	case EscalationC:
		return 1
	}
	return 0
}

func (e Escalation) String() string { return string(e) }

// IsHardStop reports whether e is the highest escalation tier.
func (e Escalation) IsHardStop() bool { return e == EscalationA }

// ParseEscalation accepts "A", "B" or "C" in any case.
func ParseEscalation(s string) (Escalation, error) {
	e := Escalation(strings.ToUpper(strings.TrimSpace(s)))
	if e.Rank() == 0 {
		return "", fmt.Errorf("invalid escalation level %q (want A, B or C)", s)
	}
	return e, nil
}

// Flag is the severity of a content validation flag.
type Flag string

const (
	FlagCritical Flag = "CRITICAL"
	FlagWarning  Flag = "WARNING"
	FlagInfo     Flag = "INFO"
)

func (f Flag) Rank() int {
	switch f {
	case FlagCritical:
		return 3
	case FlagWarning:
		return 2
	case FlagInfo:
		return 1
	}
	return 0
}

func (f Flag) String() string { return string(f) }

// ParseFlag accepts CRITICAL, WARNING or INFO in any case.
func ParseFlag(s string) (Flag, error) {
	f := Flag(strings.ToUpper(strings.TrimSpace(s)))
	if f.Rank() == 0 {
		return "", fmt.Errorf("invalid flag severity %q (want CRITICAL, WARNING or INFO)", s)
	}
	return f, nil
}

// Status is the overall outcome of a content validation run.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFlag Status = "FLAG"
	StatusFail Status = "FAIL"
)

// StatusFor maps the worst flag severity to a validation status. A nil
// level (no flags) passes.
func StatusFor(worst *Flag) Status {
	if worst == nil {
		return StatusPass
	}
	switch *worst {
	case FlagCritical:
		return StatusFail
	case FlagWarning:
		return StatusFlag
	}
	return StatusPass
}

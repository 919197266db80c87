package rules

import (
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/ruleset"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

type (
	IntakeRule  = engine.Rule[severity.Escalation, ruleset.Document]
	ContentRule = engine.Rule[severity.Flag, ruleset.Document]
)

// CompileIntake compiles intake-safety versions. A version whose stored
// logic or defaults no longer parse compiles to an always-inconclusive rule.
func CompileIntake(versions []*RuleVersion) []IntakeRule {
	return compileAll(versions, severity.ParseEscalation)
}

// CompileContent compiles content-validation versions.
func CompileContent(versions []*RuleVersion) []ContentRule {
	return compileAll(versions, severity.ParseFlag)
}

func compileAll[S engine.Level](versions []*RuleVersion, parseLevel func(string) (S, error)) []engine.Rule[S, ruleset.Document] {
	out := make([]engine.Rule[S, ruleset.Document], 0, len(versions))
	for _, v := range versions {
		out = append(out, compileVersion(v, parseLevel))
	}
	return out
}

func compileVersion[S engine.Level](v *RuleVersion, parseLevel func(string) (S, error)) engine.Rule[S, ruleset.Document] {
	m, err := ruleset.Parse(v.Logic)
	if err != nil {
		return ruleset.Broken[S](v.RuleKey, engine.Wrap(engine.CodeRuleEvaluationError, err, v.PolicyVersion()))
	}
	lvl, err := parseLevel(v.Defaults.LevelDefault)
	if err != nil {
		return ruleset.Broken[S](v.RuleKey, engine.Wrap(engine.CodeRuleEvaluationError, err, v.PolicyVersion()))
	}
	return ruleset.Compile(ruleset.Definition[S]{
		RuleID:        v.RuleKey,
		Title:         v.Title,
		Level:         lvl,
		Action:        v.Defaults.ActionDefault,
		PolicyVersion: v.PolicyVersion(),
		Matcher:       m,
	})
}

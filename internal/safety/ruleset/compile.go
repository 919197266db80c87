package ruleset

import (
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
)

// Definition is a parsed rule ready to compile for severity scale S.
type Definition[S engine.Level] struct {
	RuleID        string
	Title         string
	Level         S
	Action        *string
	PolicyVersion string
	Matcher       Matcher
}

type compiled[S engine.Level] struct {
	def Definition[S]
}

// Compile turns a definition into an engine rule over Documents.
func Compile[S engine.Level](def Definition[S]) engine.Rule[S, Document] {
	return compiled[S]{def: def}
}

func (c compiled[S]) ID() string { return c.def.RuleID }

func (c compiled[S]) Check(doc Document) (*engine.Finding[S], error) {
	h, err := c.def.Matcher.match(doc)
	if err != nil || h == nil {
		return nil, err
	}
	f := &engine.Finding[S]{
		RuleID:        c.def.RuleID,
		Title:         c.def.Title,
		Severity:      c.def.Level,
		ShortReason:   h.reason,
		Action:        c.def.Action,
		Evidence:      h.items,
		PolicyVersion: c.def.PolicyVersion,
	}
	for _, it := range h.items {
		if it.Source == evidence.SourceReportSection && it.FieldPath != nil {
			f.SectionKey = *it.FieldPath
			break
		}
	}
	return f, nil
}

type broken[S engine.Level] struct {
	id  string
	err error
}

// Broken returns a rule that is always inconclusive. Active versions whose
// stored logic no longer parses are loaded this way so they are reported
// rather than silently skipped.
func Broken[S engine.Level](ruleID string, err error) engine.Rule[S, Document] {
	return broken[S]{id: ruleID, err: err}
}

func (b broken[S]) ID() string { return b.id }

func (b broken[S]) Check(Document) (*engine.Finding[S], error) { return nil, b.err }

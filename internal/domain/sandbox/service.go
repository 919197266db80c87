package sandbox

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/ruleset"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// RuleSource resolves stored versions. It is read-only; the sandbox never
// writes.
type RuleSource interface {
	GetVersion(ctx context.Context, id uuid.UUID) (*rules.RuleVersion, error)
	ActiveSet(ctx context.Context, d rules.Domain) ([]*rules.RuleVersion, error)
}

type Service struct {
	rules  RuleSource
	logger zerolog.Logger
}

func NewService(src RuleSource, logger zerolog.Logger) *Service {
	return &Service{rules: src, logger: logger.With().Str("component", "sandbox").Logger()}
}

// EvaluateSandbox previews a rule version, an unsaved rule or a domain's
// active set against free text. Nothing is persisted and no override is
// consulted.
func (s *Service) EvaluateSandbox(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.InputText) == "" && len(req.StructuredData) == 0 {
		return nil, engine.Errorf(engine.CodeValidation, "input_text is required")
	}
	d, versions, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}
	res, err := Evaluate(d, versions, req)
	if err != nil {
		return nil, err
	}
	s.logger.Debug().Str("domain", string(d)).Int("rules", res.RulesEvaluated).
		Int("triggered", len(res.TriggeredRules)).Msg("sandbox evaluation")
	return res, nil
}

func (s *Service) resolve(ctx context.Context, req Request) (rules.Domain, []*rules.RuleVersion, error) {
	hasLogic := len(req.Logic) > 0 && string(req.Logic) != "null"
	switch {
	case req.RuleVersionID != nil && hasLogic:
		return "", nil, engine.Errorf(engine.CodeValidation, "rule_version_id and logic are mutually exclusive")

	case req.RuleVersionID != nil:
		v, err := s.rules.GetVersion(ctx, *req.RuleVersionID)
		if err != nil {
			return "", nil, err
		}
		if req.Domain != "" && rules.Domain(req.Domain) != v.Domain {
			return "", nil, engine.Errorf(engine.CodeValidation, "rule version belongs to domain %s", v.Domain)
		}
		if _, err := ruleset.Parse(v.Logic); err != nil {
			return "", nil, engine.Wrap(engine.CodeValidation, err, "stored logic")
		}
		return v.Domain, []*rules.RuleVersion{v}, nil

	case hasLogic:
		d, err := rules.ParseDomain(req.Domain)
		if err != nil {
			return "", nil, err
		}
		if req.Defaults == nil {
			return "", nil, engine.Errorf(engine.CodeValidation, "defaults are required with logic")
		}
		if err := req.Defaults.Validate(d); err != nil {
			return "", nil, err
		}
		logic, err := ruleset.Normalize(req.Logic)
		if err != nil {
			return "", nil, engine.Wrap(engine.CodeValidation, err, "logic")
		}
		return d, []*rules.RuleVersion{{
			RuleKey:  "sandbox",
			Title:    "Sandbox rule",
			Domain:   d,
			Status:   rules.StatusDraft,
			Logic:    logic,
			Defaults: *req.Defaults,
		}}, nil
	}

	d, err := rules.ParseDomain(req.Domain)
	if err != nil {
		return "", nil, err
	}
	vs, err := s.rules.ActiveSet(ctx, d)
	if err != nil {
		return "", nil, err
	}
	return d, vs, nil
}

// Evaluate runs versions of domain d against the request input. It needs no
// store and backs both the HTTP sandbox and the offline CLI.
func Evaluate(d rules.Domain, versions []*rules.RuleVersion, req Request) (*Result, error) {
	doc := Document(d, req)
	switch d {
	case rules.DomainIntakeSafety:
		return run(d, rules.CompileIntake(versions), doc)
	case rules.DomainContentValidation:
		res, err := run(d, rules.CompileContent(versions), doc)
		if err != nil {
			return nil, err
		}
		if res.Decided {
			var worst *severity.Flag
			if res.EscalationLevel != nil {
				f := severity.Flag(*res.EscalationLevel)
				worst = &f
			}
			st := severity.StatusFor(worst)
			res.Status = &st
		}
		return res, nil
	}
	return nil, engine.Errorf(engine.CodeValidation, "unknown domain %q", d)
}

// Document shapes sandbox input for the domain. Intake text reads as one
// patient chat message plus optional structured data; content text reads as
// a single report section so section-scoped rules apply.
func Document(d rules.Domain, req Request) ruleset.Document {
	doc := ruleset.Document{RecordID: RecordID}
	if d == rules.DomainContentValidation {
		if strings.TrimSpace(req.InputText) != "" {
			doc.Segments = append(doc.Segments, ruleset.SectionSegment(RecordID, RecordID, req.InputText))
		}
		return doc
	}
	doc.Segments = append(doc.Segments, ruleset.StructuredSegments(RecordID, req.StructuredData)...)
	if strings.TrimSpace(req.InputText) != "" {
		doc.Segments = append(doc.Segments, ruleset.ChatSegment(RecordID+"-input", req.InputText))
	}
	return doc
}

func run[S engine.Level](d rules.Domain, set []engine.Rule[S, ruleset.Document], doc ruleset.Document) (*Result, error) {
	out, err := engine.Run(set, doc, RecordID)
	if err != nil && (!errors.Is(err, engine.ErrNoRulesAvailable) || out.Evaluation.RulesEvaluated == 0) {
		return nil, err
	}
	res := &Result{
		Domain:          d,
		TriggeredRules:  make([]TriggeredRule, 0, len(out.Evaluation.Findings)),
		Decided:         err == nil,
		RulesEvaluated:  out.Evaluation.RulesEvaluated,
		Inconclusive:    out.Evaluation.Inconclusive,
		DroppedEvidence: len(out.Dropped),
	}
	res.AllowlistVersion = evidence.AllowlistVersion
	if res.Inconclusive == nil {
		res.Inconclusive = []engine.Inconclusive{}
	}
	for _, f := range out.Evaluation.Findings {
		res.TriggeredRules = append(res.TriggeredRules, TriggeredRule{
			RuleID:        f.RuleID,
			Title:         f.Title,
			Severity:      f.Severity.String(),
			ShortReason:   f.ShortReason,
			Verified:      f.Verified,
			Evidence:      f.Evidence,
			PolicyVersion: f.PolicyVersion,
		})
	}
	if res.Decided && out.Result.EscalationLevel != nil {
		lvl := (*out.Result.EscalationLevel).String()
		res.EscalationLevel = &lvl
		res.Verified = out.Result.Verified
	}
	return res, nil
}

package reportvalidation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/events"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/metrics"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/queue"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/ruleset"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// RuleSource supplies the active content-validation rule set.
type RuleSource interface {
	ActiveContentRules(ctx context.Context) ([]rules.ContentRule, error)
}

type Service struct {
	rules   RuleSource
	sampler queue.Sampler
	logger  zerolog.Logger
	metrics *metrics.Collector
	emitter events.Emitter
}

func NewService(src RuleSource, logger zerolog.Logger) *Service {
	return &Service{
		rules:   src,
		logger:  logger.With().Str("component", "report_validation").Logger(),
		emitter: events.Nop{},
	}
}

func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }
func (s *Service) SetSampler(sm queue.Sampler)    { s.sampler = sm }
func (s *Service) SetEmitter(e events.Emitter)    { s.emitter = e }

func (s *Service) failClosed(ctx context.Context, recordID, cause string) {
	domain := string(rules.DomainContentValidation)
	s.metrics.RecordFailClosed(domain)
	if err := s.emitter.Emit(ctx, events.AuditEvent{
		Type:       events.TypeFailClosed,
		Subject:    recordID,
		Attributes: map[string]string{
			"domain":         domain,
			"cause":          cause,
			"review_reasons": queue.Codes(queue.ForContentFailure()),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Str("record_id", recordID).Msg("emit fail-closed event")
	}
}

// Document builds the evaluation input, one segment per section in key
// order.
func Document(req Request) ruleset.Document {
	keys := make([]string, 0, len(req.Sections))
	for k := range req.Sections {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	doc := ruleset.Document{RecordID: req.RecordID}
	for _, k := range keys {
		doc.Segments = append(doc.Segments, ruleset.SectionSegment(req.RecordID, k, req.Sections[k]))
	}
	return doc
}

// Validate checks generated report content against the active rule set.
func (s *Service) Validate(ctx context.Context, req Request) (*Result, error) {
	req.RecordID = strings.TrimSpace(req.RecordID)
	if req.RecordID == "" {
		return nil, engine.Errorf(engine.CodeValidation, "record_id is required")
	}
	if len(req.Sections) == 0 {
		return nil, engine.Errorf(engine.CodeValidation, "sections must not be empty")
	}
	domain := string(rules.DomainContentValidation)

	set, err := s.rules.ActiveContentRules(ctx)
	if err != nil {
		s.failClosed(ctx, req.RecordID, "rule set unavailable")
		return nil, err
	}
	start := time.Now()
	out, err := engine.Run(set, Document(req), req.RecordID)
	outcome := "decided"
	switch {
	case err != nil:
		outcome = "no_rules"
	case !out.Result.Complete():
		outcome = "incomplete"
	}
	s.metrics.RecordEvaluation(metrics.FromOutcome(domain, outcome, time.Since(start), out))
	for _, ic := range out.Evaluation.Inconclusive {
		s.logger.Warn().Str("record_id", req.RecordID).Str("rule_id", ic.RuleID).Str("reason", ic.Reason).Msg("rule inconclusive")
	}
	for _, d := range out.Dropped {
		s.logger.Debug().Str("record_id", req.RecordID).Str("rule_id", d.RuleID).
			Str("code", string(engine.CodeInvalidEvidence)).Str("reason", string(d.Reason)).Msg("evidence dropped")
	}
	if err != nil {
		s.logger.Error().Str("record_id", req.RecordID).Int("rules", len(set)).Msg("content validation failed closed")
		s.failClosed(ctx, req.RecordID, fmt.Sprintf("%d rules, none decided", len(set)))
		return nil, err
	}

	status := severity.StatusFor(out.Result.EscalationLevel)
	flags := make([]Flag, 0, len(out.Evaluation.Findings))
	for _, f := range out.Evaluation.Findings {
		flags = append(flags, newFlag(req.RecordID, f))
	}
	inconclusive := out.Evaluation.Inconclusive
	if inconclusive == nil {
		inconclusive = []engine.Inconclusive{}
	}
	return &Result{
		RecordID:      req.RecordID,
		Status:        status,
		Flags:         flags,
		PolicyResult:  out.Result,
		Inconclusive:  inconclusive,
		ReviewReasons: queue.ForContent(status, !out.Result.Complete(), req.RecordID, s.sampler),
	}, nil
}

package intake

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/domain/rules"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/events"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/metrics"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/override"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/queue"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/severity"
)

// RuleSource supplies the active intake-safety rule set.
type RuleSource interface {
	ActiveIntakeRules(ctx context.Context) ([]rules.IntakeRule, error)
}

type Service struct {
	records   RecordRepository
	overrides OverrideRepository
	rules     RuleSource
	sampler   queue.Sampler
	logger    zerolog.Logger
	metrics   *metrics.Collector
	emitter   events.Emitter
}

func NewService(records RecordRepository, overrides OverrideRepository, src RuleSource, logger zerolog.Logger) *Service {
	return &Service{
		records:   records,
		overrides: overrides,
		rules:     src,
		logger:    logger.With().Str("component", "intake_policy").Logger(),
		emitter:   events.Nop{},
	}
}

func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }
func (s *Service) SetEmitter(e events.Emitter)    { s.emitter = e }
func (s *Service) SetSampler(sm queue.Sampler)    { s.sampler = sm }

// evaluate runs the active rule set against a record. Any failure to reach
// a decision comes back as NO_RULES_AVAILABLE.
func (s *Service) evaluate(ctx context.Context, rec *Record) (engine.Outcome[severity.Escalation], error) {
	set, err := s.rules.ActiveIntakeRules(ctx)
	if err != nil {
		s.failClosed(ctx, rec.ID, "rule set unavailable")
		var none engine.Outcome[severity.Escalation]
		none.Result, _ = engine.Aggregate(none.Evaluation)
		return none, err
	}
	start := time.Now()
	out, err := engine.Run(set, rec.Document(), rec.ID.String())
	outcome := "decided"
	switch {
	case err != nil:
		outcome = "no_rules"
	case !out.Result.Complete():
		outcome = "incomplete"
	}
	s.metrics.RecordEvaluation(metrics.FromOutcome(string(rules.DomainIntakeSafety), outcome, time.Since(start), out))

	for _, ic := range out.Evaluation.Inconclusive {
		s.logger.Warn().Str("record_id", rec.ID.String()).Str("rule_id", ic.RuleID).Str("reason", ic.Reason).Msg("rule inconclusive")
	}
	for _, d := range out.Dropped {
		s.logger.Debug().Str("record_id", rec.ID.String()).Str("rule_id", d.RuleID).
			Str("code", string(engine.CodeInvalidEvidence)).Str("source", string(d.Item.Source)).
			Str("reason", string(d.Reason)).Msg("evidence dropped")
	}
	if err != nil {
		s.logger.Error().Str("record_id", rec.ID.String()).Int("rules", len(set)).Msg("intake evaluation failed closed")
		s.failClosed(ctx, rec.ID, fmt.Sprintf("%d rules, none decided", len(set)))
		return out, err
	}
	return out, nil
}

func (s *Service) failClosed(ctx context.Context, recordID uuid.UUID, cause string) {
	s.metrics.RecordFailClosed(string(rules.DomainIntakeSafety))
	if err := s.emitter.Emit(ctx, events.AuditEvent{
		Type:       events.TypeFailClosed,
		Subject:    recordID.String(),
		Attributes: map[string]string{
			"domain":         string(rules.DomainIntakeSafety),
			"cause":          cause,
			"review_reasons": queue.Codes(queue.ForIntakeFailure(false)),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Str("record_id", recordID.String()).Msg("emit fail-closed event")
	}
}

// Assess computes the policy result for a record and combines it with the
// clinician override, if any. When the rule set cannot decide, the call
// fails closed unless an override is in force; then the override is
// returned as the effective result with FailClosed set.
func (s *Service) Assess(ctx context.Context, recordID uuid.UUID) (*Assessment, error) {
	rec, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	o, err := s.overrides.GetOverride(ctx, recordID)
	if err != nil {
		return nil, err
	}
	out, err := s.evaluate(ctx, rec)
	if err != nil {
		if o == nil || !errors.Is(err, engine.ErrNoRulesAvailable) {
			return nil, err
		}
		return &Assessment{
			RecordID:      recordID,
			PolicyResult:  out.Result,
			Effective:     override.ComputeEffective(out.Result, o),
			Override:      o,
			Findings:      []Finding{},
			Inconclusive:  nonNil(out.Evaluation.Inconclusive),
			ReviewReasons: queue.ForIntakeFailure(true),
			FailClosed:    true,
		}, nil
	}
	eff := override.ComputeEffective(out.Result, o)
	if eff.State == override.StateUnverifiedCritical {
		s.logger.Warn().Str("record_id", recordID.String()).
			Strs("decisive_rule_ids", out.Result.DecisiveRuleIDs).
			Msg("hard stop without verified evidence")
	}
	return &Assessment{
		RecordID:      recordID,
		PolicyResult:  out.Result,
		Effective:     eff,
		Override:      o,
		Findings:      nonNil(out.Evaluation.Findings),
		Inconclusive:  nonNil(out.Evaluation.Inconclusive),
		ReviewReasons: queue.ForIntake(eff, !out.Result.Complete(), recordID.String(), s.sampler),
	}, nil
}

// SetOverride records a clinician decision for a record. The computed level
// at write time is captured in the audit entry; if evaluation is currently
// impossible the override is still accepted, since it is how a human
// resolves that state.
func (s *Service) SetOverride(ctx context.Context, recordID uuid.UUID, level, reason, actor string) (*OverrideResult, error) {
	o, err := override.New(recordID, level, reason, actor)
	if err != nil {
		return nil, err
	}
	rec, err := s.records.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}

	var computed engine.PolicyResult[severity.Escalation]
	computedState := "unavailable"
	if out, err := s.evaluate(ctx, rec); err == nil {
		computed = out.Result
		computedState = string(override.ComputeEffective(out.Result, nil).State)
	} else if !errors.Is(err, engine.ErrNoRulesAvailable) {
		return nil, err
	}

	entry, err := s.overrides.SaveOverride(ctx, o, computed.EscalationLevel)
	if err != nil {
		return nil, err
	}
	s.metrics.RecordOverride(string(o.Level), computedState)
	s.logger.Info().
		Str("record_id", recordID.String()).
		Str("to_level", string(o.Level)).
		Str("computed_state", computedState).
		Str("actor", actor).
		Msg("override set")

	attrs := map[string]string{
		"to_level":       string(entry.ToLevel),
		"reason":         entry.Reason,
		"computed_state": computedState,
	}
	if entry.FromLevel != nil {
		attrs["from_level"] = string(*entry.FromLevel)
	}
	if err := s.emitter.Emit(ctx, events.AuditEvent{
		Type:       events.TypeOverrideSet,
		Actor:      actor,
		Subject:    recordID.String(),
		Attributes: attrs,
	}); err != nil {
		s.logger.Warn().Err(err).Str("record_id", recordID.String()).Msg("emit override event")
	}

	return &OverrideResult{
		Override:  o,
		Audit:     entry,
		Effective: override.ComputeEffective(computed, o),
	}, nil
}

func (s *Service) OverrideHistory(ctx context.Context, recordID uuid.UUID) ([]override.AuditEntry, error) {
	if _, err := s.records.GetRecord(ctx, recordID); err != nil {
		return nil, err
	}
	entries, err := s.overrides.AuditTrail(ctx, recordID)
	if err != nil {
		return nil, err
	}
	return nonNil(entries), nil
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

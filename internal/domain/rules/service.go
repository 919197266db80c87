package rules

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/events"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/platform/metrics"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/ruleset"
)

type Service struct {
	repo    Repository
	logger  zerolog.Logger
	metrics *metrics.Collector
	emitter events.Emitter
	cache   *ActiveCache
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:    repo,
		logger:  logger.With().Str("component", "rules").Logger(),
		emitter: events.Nop{},
	}
}

func (s *Service) SetMetrics(m *metrics.Collector) { s.metrics = m }
func (s *Service) SetEmitter(e events.Emitter)    { s.emitter = e }
func (s *Service) SetCache(c *ActiveCache)        { s.cache = c }

// LoadActive reads the active set of a domain straight from the store. It
// is the cache's Loader.
func (s *Service) LoadActive(ctx context.Context, d Domain) ([]*RuleVersion, error) {
	return s.repo.ActiveVersions(ctx, d)
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return engine.Errorf(engine.CodeValidation, "change_reason is required")
	}
	return nil
}

func (s *Service) CreateRule(ctx context.Context, key, title, domain string) (*RuleDefinition, error) {
	key = strings.TrimSpace(key)
	if !keyPattern.MatchString(key) {
		return nil, engine.Errorf(engine.CodeValidation, "key must match %s", keyPattern.String())
	}
	if strings.TrimSpace(title) == "" {
		return nil, engine.Errorf(engine.CodeValidation, "title is required")
	}
	d, err := ParseDomain(domain)
	if err != nil {
		return nil, err
	}
	def := &RuleDefinition{Key: key, Title: strings.TrimSpace(title), Domain: d}
	if err := s.repo.CreateRule(ctx, def); err != nil {
		return nil, err
	}
	s.logger.Info().Str("rule_key", key).Str("domain", string(d)).Msg("rule registered")
	return def, nil
}

func (s *Service) GetRule(ctx context.Context, id uuid.UUID) (*RuleDefinition, error) {
	return s.repo.GetRule(ctx, id)
}

func (s *Service) ListRules(ctx context.Context, domain string) ([]*RuleDefinition, error) {
	var d Domain
	if domain != "" {
		var err error
		if d, err = ParseDomain(domain); err != nil {
			return nil, err
		}
	}
	return s.repo.ListRules(ctx, d)
}

func (s *Service) GetVersion(ctx context.Context, id uuid.UUID) (*RuleVersion, error) {
	return s.repo.GetVersion(ctx, id)
}

func (s *Service) History(ctx context.Context, ruleID uuid.UUID) ([]*RuleVersion, error) {
	if _, err := s.repo.GetRule(ctx, ruleID); err != nil {
		return nil, err
	}
	return s.repo.History(ctx, ruleID)
}

// DraftInput creates a new draft. Nil Logic or Defaults are seeded from
// the active version.
type DraftInput struct {
	Logic        json.RawMessage `json:"logic,omitempty"`
	Defaults     *Defaults       `json:"defaults,omitempty"`
	ChangeReason string          `json:"change_reason"`
}

// CreateDraft adds a draft version to a rule. Without logic the draft
// copies the active version, or starts from an empty keyword set that must
// be patched before it can be activated.
func (s *Service) CreateDraft(ctx context.Context, ruleID uuid.UUID, in DraftInput, actor string) (*RuleVersion, error) {
	if err := requireReason(in.ChangeReason); err != nil {
		return nil, err
	}
	def, err := s.repo.GetRule(ctx, ruleID)
	if err != nil {
		return nil, err
	}
	active, err := s.repo.ActiveVersion(ctx, ruleID)
	if err != nil {
		return nil, err
	}

	v := &RuleVersion{
		RuleID:       def.ID,
		RuleKey:      def.Key,
		Title:        def.Title,
		Domain:       def.Domain,
		ChangeReason: strings.TrimSpace(in.ChangeReason),
		CreatedBy:    actor,
	}
	switch {
	case len(in.Logic) > 0:
		if v.Logic, err = normalizeLogic(in.Logic); err != nil {
			return nil, err
		}
	case active != nil:
		v.Logic = active.Logic
	default:
		v.Logic = ruleset.EmptyKeywordSet
	}
	switch {
	case in.Defaults != nil:
		if err := in.Defaults.Validate(def.Domain); err != nil {
			return nil, err
		}
		v.Defaults = *in.Defaults
	case active != nil:
		v.Defaults = active.Defaults
	default:
		v.Defaults = Defaults{LevelDefault: def.Domain.lowestLevel()}
	}
	v.Defaults.LevelDefault = strings.ToUpper(strings.TrimSpace(v.Defaults.LevelDefault))

	if err := s.repo.CreateVersion(ctx, v); err != nil {
		return nil, err
	}
	s.logger.Info().Str("rule_key", def.Key).Int("version", v.Version).Str("actor", actor).Msg("draft created")
	return v, nil
}

// PatchInput updates a draft. Omitted fields are left as they are.
type PatchInput struct {
	Logic    json.RawMessage `json:"logic,omitempty"`
	Defaults *Defaults       `json:"defaults,omitempty"`
}

func (s *Service) UpdateDraft(ctx context.Context, versionID uuid.UUID, in PatchInput) (*RuleVersion, error) {
	v, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusDraft {
		return nil, engine.ErrNotDraft
	}
	if len(in.Logic) == 0 && in.Defaults == nil {
		return nil, engine.Errorf(engine.CodeValidation, "nothing to update")
	}
	if len(in.Logic) > 0 {
		if v.Logic, err = normalizeLogic(in.Logic); err != nil {
			return nil, err
		}
	}
	if in.Defaults != nil {
		if err := in.Defaults.Validate(v.Domain); err != nil {
			return nil, err
		}
		v.Defaults = *in.Defaults
		v.Defaults.LevelDefault = strings.ToUpper(strings.TrimSpace(v.Defaults.LevelDefault))
	}
	if err := s.repo.UpdateDraft(ctx, v); err != nil {
		return nil, err
	}
	return v, nil
}

// activate runs the transactional part of an activation and records
// failures. Success side effects are left to activated.
func (s *Service) activate(ctx context.Context, versionID uuid.UUID, reason, actor string) (*RuleVersion, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	v, err := s.repo.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}
	if v.Status != StatusDraft {
		s.metrics.RecordActivation("not_draft")
		return nil, engine.ErrNotDraft
	}
	if _, err := ruleset.Parse(v.Logic); err != nil {
		return nil, engine.Wrap(engine.CodeValidation, err, "draft logic is not activatable")
	}
	if err := v.Defaults.Validate(v.Domain); err != nil {
		return nil, err
	}

	out, err := s.repo.Activate(ctx, versionID, strings.TrimSpace(reason), actor)
	if err != nil {
		s.metrics.RecordActivation(activationOutcome(err))
		return nil, err
	}
	return out, nil
}

// Activate makes a draft the active version of its rule, archiving the
// previous one.
func (s *Service) Activate(ctx context.Context, versionID uuid.UUID, reason, actor string) (*RuleVersion, error) {
	out, err := s.activate(ctx, versionID, reason, actor)
	if err != nil {
		return nil, err
	}
	s.activated(ctx, out, reason, actor)
	return out, nil
}

// activated records a committed activation. It must only run once the
// surrounding transaction, if any, has committed.
func (s *Service) activated(ctx context.Context, out *RuleVersion, reason, actor string) {
	s.metrics.RecordActivation("ok")
	if s.cache != nil {
		s.cache.Invalidate(out.Domain)
	}
	s.logger.Info().
		Str("rule_key", out.RuleKey).
		Int("version", out.Version).
		Str("actor", actor).
		Msg("rule version activated")

	if err := s.emitter.Emit(ctx, events.AuditEvent{
		Type:    events.TypeRuleActivated,
		Actor:   actor,
		Subject: out.RuleKey,
		Attributes: map[string]string{
			"version_id":     out.ID.String(),
			"policy_version": out.PolicyVersion(),
			"domain":         string(out.Domain),
			"reason":         strings.TrimSpace(reason),
		},
	}); err != nil {
		s.logger.Warn().Err(err).Str("rule_key", out.RuleKey).Msg("emit activation event")
	}
}

func activationOutcome(err error) string {
	switch {
	case errors.Is(err, engine.ErrActivationConflict):
		return "conflict"
	case errors.Is(err, engine.ErrNotDraft):
		return "not_draft"
	}
	return "error"
}

func normalizeLogic(raw json.RawMessage) (json.RawMessage, error) {
	out, err := ruleset.Normalize(raw)
	if err != nil {
		return nil, engine.Wrap(engine.CodeValidation, err, "invalid logic")
	}
	return out, nil
}

// activeVersions reads through the cache when one is configured. Any
// failure is reported as NO_RULES_AVAILABLE so callers fail closed.
func (s *Service) activeVersions(ctx context.Context, d Domain) ([]*RuleVersion, error) {
	var (
		vs  []*RuleVersion
		err error
	)
	if s.cache != nil {
		vs, err = s.cache.Get(ctx, d)
	} else {
		vs, err = s.repo.ActiveVersions(ctx, d)
	}
	if err != nil {
		s.logger.Error().Err(err).Str("domain", string(d)).Msg("load active rule set")
		return nil, engine.Wrap(engine.CodeNoRulesAvailable, err, "load active rule set")
	}
	return vs, nil
}

// ActiveSet returns the uncompiled active versions of a domain, failing
// closed like the compiled accessors.
func (s *Service) ActiveSet(ctx context.Context, d Domain) ([]*RuleVersion, error) {
	return s.activeVersions(ctx, d)
}

// ActiveIntakeRules compiles the active intake-safety rule set.
func (s *Service) ActiveIntakeRules(ctx context.Context) ([]IntakeRule, error) {
	vs, err := s.activeVersions(ctx, DomainIntakeSafety)
	if err != nil {
		return nil, err
	}
	return CompileIntake(vs), nil
}

// ActiveContentRules compiles the active content-validation rule set.
func (s *Service) ActiveContentRules(ctx context.Context) ([]ContentRule, error) {
	vs, err := s.activeVersions(ctx, DomainContentValidation)
	if err != nil {
		return nil, err
	}
	return CompileContent(vs), nil
}

// ImportedRule reports what happened to one bundle entry.
type ImportedRule struct {
	Key       string    `json:"key"`
	RuleID    uuid.UUID `json:"rule_id"`
	VersionID uuid.UUID `json:"version_id"`
	Version   int       `json:"version"`
	Status    Status    `json:"status"`
	Created   bool      `json:"created"`
}

// ImportBundle registers unknown rules, adds a draft per entry and, when
// activate is set, activates each draft. The whole bundle is applied in
// one transaction.
func (s *Service) ImportBundle(ctx context.Context, data []byte, activate bool, reason, actor string) ([]ImportedRule, error) {
	if err := requireReason(reason); err != nil {
		return nil, err
	}
	b, err := ParseBundle(data)
	if err != nil {
		return nil, err
	}
	var (
		out       []ImportedRule
		activated []*RuleVersion
	)
	err = s.repo.InTx(ctx, func(ctx context.Context) error {
		out, activated = out[:0], activated[:0]
		for _, br := range b.Rules {
			res, v, err := s.importOne(ctx, br, activate, reason, actor)
			if err != nil {
				return err
			}
			out = append(out, res)
			if v != nil {
				activated = append(activated, v)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	for _, v := range activated {
		s.activated(ctx, v, reason, actor)
	}
	s.logger.Info().Int("rules", len(out)).Bool("activated", activate).Str("actor", actor).Msg("bundle imported")
	return out, nil
}

// importOne returns the activated version, if any, so its side effects can
// run after commit.
func (s *Service) importOne(ctx context.Context, br BundleRule, activate bool, reason, actor string) (ImportedRule, *RuleVersion, error) {
	res := ImportedRule{Key: br.Key}
	def, err := s.repo.GetRuleByKey(ctx, br.Key)
	switch {
	case errors.Is(err, engine.ErrNotFound):
		if def, err = s.CreateRule(ctx, br.Key, br.Title, string(br.Domain)); err != nil {
			return res, nil, err
		}
		res.Created = true
	case err != nil:
		return res, nil, err
	case def.Domain != br.Domain:
		return res, nil, engine.Errorf(engine.CodeValidation, "rule %q exists in domain %s", br.Key, def.Domain)
	}
	res.RuleID = def.ID

	logic, err := br.LogicJSON()
	if err != nil {
		return res, nil, engine.Wrap(engine.CodeValidation, err, br.Key)
	}
	if len(logic) == 0 {
		return res, nil, engine.Errorf(engine.CodeValidation, "rule %q: logic is required", br.Key)
	}
	defaults := br.Defaults
	v, err := s.CreateDraft(ctx, def.ID, DraftInput{Logic: logic, Defaults: &defaults, ChangeReason: reason}, actor)
	if err != nil {
		return res, nil, err
	}
	if !activate {
		res.VersionID, res.Version, res.Status = v.ID, v.Version, v.Status
		return res, nil, nil
	}
	if v, err = s.activate(ctx, v.ID, reason, actor); err != nil {
		return res, nil, err
	}
	res.VersionID, res.Version, res.Status = v.ID, v.Version, v.Status
	return res, v, nil
}

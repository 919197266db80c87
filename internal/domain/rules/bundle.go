package rules

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/engine"
)

// DefaultBundle is the baseline rule set shipped with the service.
//
//go:embed default_bundle.yaml
var DefaultBundle []byte

// Bundle is a YAML document of rules to import.
type Bundle struct {
	Rules []BundleRule `yaml:"rules"`
}

type BundleRule struct {
	Key      string         `yaml:"key"`
	Title    string         `yaml:"title"`
	Domain   Domain         `yaml:"domain"`
	Logic    map[string]any `yaml:"logic"`
	Defaults Defaults       `yaml:"defaults"`
}

// LogicJSON renders the YAML logic block as JSON for the matcher parser.
func (b BundleRule) LogicJSON() (json.RawMessage, error) {
	if b.Logic == nil {
		return nil, nil
	}
	return json.Marshal(b.Logic)
}

// ParseBundle decodes a bundle, rejecting unknown fields and duplicate
// keys. Logic is validated later, per rule, by the service.
func ParseBundle(data []byte) (*Bundle, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var b Bundle
	if err := dec.Decode(&b); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, engine.Errorf(engine.CodeValidation, "bundle is empty")
		}
		return nil, engine.Wrap(engine.CodeValidation, err, "parse bundle")
	}
	if len(b.Rules) == 0 {
		return nil, engine.Errorf(engine.CodeValidation, "bundle has no rules")
	}
	seen := make(map[string]bool, len(b.Rules))
	for i, r := range b.Rules {
		if r.Key == "" {
			return nil, engine.Errorf(engine.CodeValidation, "rules[%d]: key is required", i)
		}
		if seen[r.Key] {
			return nil, engine.Errorf(engine.CodeValidation, "rules[%d]: duplicate key %q", i, r.Key)
		}
		seen[r.Key] = true
		if _, err := ParseDomain(string(r.Domain)); err != nil {
			return nil, fmt.Errorf("rules[%d] %s: %w", i, r.Key, err)
		}
	}
	return &b, nil
}

// Versions materialises the bundle's rules for one domain as unsaved
// version-1 active rule versions, for evaluating a bundle without a store.
func (b *Bundle) Versions(d Domain) ([]*RuleVersion, error) {
	var out []*RuleVersion
	for _, r := range b.Rules {
		if r.Domain != d {
			continue
		}
		logic, err := r.LogicJSON()
		if err != nil {
			return nil, engine.Wrap(engine.CodeValidation, err, r.Key)
		}
		out = append(out, &RuleVersion{
			RuleKey:  r.Key,
			Title:    r.Title,
			Domain:   r.Domain,
			Version:  1,
			Status:   StatusActive,
			Logic:    logic,
			Defaults: r.Defaults,
		})
	}
	return out, nil
}

// Package ruleset implements the closed rule-logic grammar. Logic is stored
// as JSON tagged by "kind" and is parsed and validated when a draft is
// written, so malformed rules never reach evaluation.
package ruleset

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
)

// Kind tags a matcher variant.
type Kind string

const (
	KindKeywordSet        Kind = "keyword_set"
	KindCoOccurrence      Kind = "co_occurrence"
	KindNumericRange      Kind = "numeric_range"
	KindContradictionPair Kind = "contradiction_pair"
)

// Matcher is one of the grammar's variants. The set is closed.
type Matcher interface {
	Kind() Kind
	Validate() error
	match(doc Document) (*hit, error)
	normalize()
}

type hit struct {
	items  []evidence.Item
	reason string
}

// Scope narrows the segments a text matcher looks at. Empty means all.
// Fields only constrain segments that carry a field path.
type Scope struct {
	Sources []evidence.Source `json:"sources,omitempty"`
	Fields  []string          `json:"fields,omitempty"`
}

func (s Scope) includes(seg Segment) bool {
	if len(s.Sources) > 0 && !slices.Contains(s.Sources, seg.Source) {
		return false
	}
	if len(s.Fields) > 0 && seg.FieldPath != "" && !slices.Contains(s.Fields, seg.FieldPath) {
		return false
	}
	return true
}

func (s Scope) validate() error {
	for _, src := range s.Sources {
		if !src.Valid() {
			return fmt.Errorf("unknown source %q", src)
		}
	}
	for _, f := range s.Fields {
		if strings.TrimSpace(f) == "" {
			return errors.New("fields must not contain blanks")
		}
	}
	return nil
}

// attach appends evidence for the named fields present in doc.
func attach(doc Document, fields []string, items []evidence.Item) []evidence.Item {
	for _, f := range fields {
		if seg, ok := doc.Field(f); ok {
			items = append(items, seg.Item(seg.Text))
		}
	}
	return items
}

// KeywordSet fires when any keyword occurs in a targeted segment.
type KeywordSet struct {
	Keywords []string `json:"keywords"`
	Scope
	AttachFields []string `json:"attach_fields,omitempty"`
}

func (m *KeywordSet) Kind() Kind { return KindKeywordSet }

func (m *KeywordSet) normalize() { m.Keywords = normalizeKeywords(m.Keywords) }

func (m *KeywordSet) Validate() error {
	if len(normalizeKeywords(m.Keywords)) == 0 {
		return errors.New("keyword_set: keywords must not be empty")
	}
	if err := m.Scope.validate(); err != nil {
		return fmt.Errorf("keyword_set: %w", err)
	}
	return nil
}

func (m *KeywordSet) match(doc Document) (*hit, error) {
	var h hit
	for _, seg := range doc.Segments {
		if !m.includes(seg) {
			continue
		}
		kw, sp, ok := find(seg.Text, m.Keywords)
		if !ok {
			continue
		}
		if h.reason == "" {
			h.reason = fmt.Sprintf("mentions %q", kw)
		}
		h.items = append(h.items, seg.Item(excerpt(seg.Text, sp)))
	}
	if h.reason == "" {
		return nil, nil
	}
	h.items = attach(doc, m.AttachFields, h.items)
	return &h, nil
}

// CoOccurrence fires when a keyword and a signal occur in the same segment.
type CoOccurrence struct {
	Keywords []string `json:"keywords"`
	Signals  []string `json:"signals"`
	Scope
	AttachFields []string `json:"attach_fields,omitempty"`
}

func (m *CoOccurrence) Kind() Kind { return KindCoOccurrence }

func (m *CoOccurrence) normalize() {
	m.Keywords = normalizeKeywords(m.Keywords)
	m.Signals = normalizeKeywords(m.Signals)
}

func (m *CoOccurrence) Validate() error {
	if len(normalizeKeywords(m.Keywords)) == 0 {
		return errors.New("co_occurrence: keywords must not be empty")
	}
	if len(normalizeKeywords(m.Signals)) == 0 {
		return errors.New("co_occurrence: signals must not be empty")
	}
	if err := m.Scope.validate(); err != nil {
		return fmt.Errorf("co_occurrence: %w", err)
	}
	return nil
}

func (m *CoOccurrence) match(doc Document) (*hit, error) {
	var h hit
	for _, seg := range doc.Segments {
		if !m.includes(seg) {
			continue
		}
		kw, ksp, ok := find(seg.Text, m.Keywords)
		if !ok {
			continue
		}
		sig, ssp, ok := find(seg.Text, m.Signals)
		if !ok {
			continue
		}
		if h.reason == "" {
			h.reason = fmt.Sprintf("%q together with %q", kw, sig)
		}
		h.items = append(h.items, seg.Item(excerpt(seg.Text, cover(ksp, ssp))))
	}
	if h.reason == "" {
		return nil, nil
	}
	h.items = attach(doc, m.AttachFields, h.items)
	return &h, nil
}

// NumericRange fires when a scored field lies outside [Min, Max]. A missing
// field does not fire; a non-numeric value is an evaluation error.
type NumericRange struct {
	Field string   `json:"field"`
	Min   *float64 `json:"min,omitempty"`
	Max   *float64 `json:"max,omitempty"`
}

func (m *NumericRange) Kind() Kind { return KindNumericRange }

func (m *NumericRange) normalize() { m.Field = strings.TrimSpace(m.Field) }

func (m *NumericRange) Validate() error {
	if strings.TrimSpace(m.Field) == "" {
		return errors.New("numeric_range: field is required")
	}
	if m.Min == nil && m.Max == nil {
		return errors.New("numeric_range: min or max is required")
	}
	if m.Min != nil && m.Max != nil && *m.Min > *m.Max {
		return fmt.Errorf("numeric_range: min %v exceeds max %v", *m.Min, *m.Max)
	}
	return nil
}

func (m *NumericRange) match(doc Document) (*hit, error) {
	seg, ok := doc.Field(m.Field)
	if !ok {
		return nil, nil
	}
	raw := strings.TrimSpace(seg.Text)
	v, err := strconv.ParseFloat(strings.Replace(raw, ",", ".", 1), 64)
	// NaN compares false against both bounds and would pass as in range
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil, fmt.Errorf("field %s is not numeric: %q", m.Field, raw)
	}
	switch {
	case m.Min != nil && v < *m.Min:
		return &hit{
			items:  []evidence.Item{seg.Item(raw)},
			reason: fmt.Sprintf("%s = %s below %s", m.Field, raw, strconv.FormatFloat(*m.Min, 'f', -1, 64)),
		}, nil
	case m.Max != nil && v > *m.Max:
		return &hit{
			items:  []evidence.Item{seg.Item(raw)},
			reason: fmt.Sprintf("%s = %s above %s", m.Field, raw, strconv.FormatFloat(*m.Max, 'f', -1, 64)),
		}, nil
	}
	return nil, nil
}

// ContradictionPair fires when a segment contains a term from both Left and
// Right, two mutually exclusive claims.
type ContradictionPair struct {
	Left  []string `json:"left"`
	Right []string `json:"right"`
	Scope
}

func (m *ContradictionPair) Kind() Kind { return KindContradictionPair }

func (m *ContradictionPair) normalize() {
	m.Left = normalizeKeywords(m.Left)
	m.Right = normalizeKeywords(m.Right)
}

func (m *ContradictionPair) Validate() error {
	left, right := normalizeKeywords(m.Left), normalizeKeywords(m.Right)
	if len(left) == 0 || len(right) == 0 {
		return errors.New("contradiction_pair: left and right must not be empty")
	}
	for _, l := range left {
		if slices.Contains(right, l) {
			return fmt.Errorf("contradiction_pair: %q appears on both sides", l)
		}
	}
	if err := m.Scope.validate(); err != nil {
		return fmt.Errorf("contradiction_pair: %w", err)
	}
	return nil
}

func (m *ContradictionPair) match(doc Document) (*hit, error) {
	var h hit
	for _, seg := range doc.Segments {
		if !m.includes(seg) {
			continue
		}
		l, lsp, ok := find(seg.Text, m.Left)
		if !ok {
			continue
		}
		r, rsp, ok := find(seg.Text, m.Right)
		if !ok {
			continue
		}
		if h.reason == "" {
			h.reason = fmt.Sprintf("contradictory claims %q and %q", l, r)
		}
		h.items = append(h.items, seg.Item(excerpt(seg.Text, lsp)), seg.Item(excerpt(seg.Text, rsp)))
	}
	if h.reason == "" {
		return nil, nil
	}
	return &h, nil
}

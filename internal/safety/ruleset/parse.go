package ruleset

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Kinds lists every supported matcher kind.
func Kinds() []Kind {
	return []Kind{KindKeywordSet, KindCoOccurrence, KindNumericRange, KindContradictionPair}
}

func newMatcher(k Kind) (Matcher, error) {
	switch k {
	case KindKeywordSet:
		return &KeywordSet{}, nil
	case KindCoOccurrence:
		return &CoOccurrence{}, nil
	case KindNumericRange:
		return &NumericRange{}, nil
	case KindContradictionPair:
		return &ContradictionPair{}, nil
	case "":
		return nil, errors.New("logic.kind is required")
	}
	return nil, fmt.Errorf("unknown logic kind %q, want one of %v", k, Kinds())
}

// Parse decodes and validates rule logic. Unknown kinds and unknown fields
// are rejected. Keyword lists come back lowercased and deduplicated.
func Parse(raw json.RawMessage) (Matcher, error) {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil, errors.New("logic is required")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("logic must be a JSON object: %w", err)
	}
	var kind Kind
	if k, ok := fields["kind"]; ok {
		if err := json.Unmarshal(k, &kind); err != nil {
			return nil, fmt.Errorf("logic.kind: %w", err)
		}
	}
	m, err := newMatcher(kind)
	if err != nil {
		return nil, err
	}
	delete(fields, "kind")
	body, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(m); err != nil {
		return nil, fmt.Errorf("%s: %w", kind, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	m.normalize()
	return m, nil
}

// Encode renders m as tagged JSON, the stored form of rule logic.
func Encode(m Matcher) (json.RawMessage, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, err
	}
	kind, _ := json.Marshal(m.Kind())
	fields["kind"] = kind
	return json.Marshal(fields)
}

// Normalize parses raw and re-encodes it in canonical form.
func Normalize(raw json.RawMessage) (json.RawMessage, error) {
	m, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return Encode(m)
}

// EmptyKeywordSet is the placeholder logic seeded into a fresh draft when
// no active version exists. It fails validation until patched.
var EmptyKeywordSet = json.RawMessage(`{"kind":"keyword_set","keywords":[]}`)

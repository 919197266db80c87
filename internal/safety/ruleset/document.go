package ruleset

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/adaefler-art/rhythmologicum-connect-sub006/internal/safety/evidence"
)

// StructuredPrefix is prepended to every flattened structured intake field.
const StructuredPrefix = "structured_data"

// Segment is one addressable block of text a rule can match against.
type Segment struct {
	Source    evidence.Source
	SourceID  string
	FieldPath string
	Text      string
}

// Item builds an evidence item pointing at this segment.
func (s Segment) Item(excerpt string) evidence.Item {
	it := evidence.Item{Source: s.Source, SourceID: s.SourceID, Excerpt: excerpt}
	if s.FieldPath != "" {
		it.FieldPath = evidence.FieldPath(s.FieldPath)
	}
	return it
}

// Document is the normalised input to compiled rules.
type Document struct {
	RecordID string
	Segments []Segment
}

// Field returns the first segment carrying the given field path.
func (d Document) Field(path string) (Segment, bool) {
	for _, s := range d.Segments {
		if s.FieldPath == path {
			return s, true
		}
	}
	return Segment{}, false
}

// ChatSegment wraps a single chat message.
func ChatSegment(messageID, text string) Segment {
	return Segment{Source: evidence.SourceChat, SourceID: messageID, Text: text}
}

// SectionSegment wraps a generated report section. The record id is the
// source id; the section key doubles as the field path.
func SectionSegment(recordID, sectionKey, text string) Segment {
	return Segment{Source: evidence.SourceReportSection, SourceID: recordID, FieldPath: sectionKey, Text: text}
}

// StructuredSegments flattens structured intake data into one segment per
// leaf, addressed as "structured_data.a.b". Keys are visited in sorted
// order. Arrays collapse into a single segment at the array's path with
// their leaf values joined by "; ".
func StructuredSegments(recordID string, data map[string]any) []Segment {
	var out []Segment
	flatten(StructuredPrefix, data, func(path, text string) {
		if strings.TrimSpace(text) == "" {
			return
		}
		out = append(out, Segment{Source: evidence.SourceIntake, SourceID: recordID, FieldPath: path, Text: text})
	})
	return out
}

func flatten(path string, v any, emit func(path, text string)) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			flatten(path+"."+k, x[k], emit)
		}
	case []any:
		var parts []string
		for _, el := range x {
			collectLeaves(el, &parts)
		}
		emit(path, strings.Join(parts, "; "))
	default:
		if s, ok := scalarText(x); ok {
			emit(path, s)
		}
	}
}

func collectLeaves(v any, parts *[]string) {
	switch x := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			collectLeaves(x[k], parts)
		}
	case []any:
		for _, el := range x {
			collectLeaves(el, parts)
		}
	default:
		if s, ok := scalarText(x); ok && strings.TrimSpace(s) != "" {
			*parts = append(*parts, s)
		}
	}
}

func scalarText(v any) (string, bool) {
	switch x := v.(type) {
	case string:
		return x, true
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), true
	case int:
		return strconv.Itoa(x), true
	case int64:
		return strconv.FormatInt(x, 10), true
	case json.Number:
		return x.String(), true
	case bool:
		return strconv.FormatBool(x), true
	}
	return "", false
}

// Package evidence validates the provenance of evidence items attached to
// rule findings. An item survives only if it points at a source that can be
// checked against the record under evaluation.
package evidence

import "strings"

// Source identifies where an excerpt was taken from.
type Source string

const (
	SourceChat          Source = "chat"
	SourceIntake        Source = "intake"
	SourceReportSection Source = "report_section"
)

// Valid reports whether s is one of the known sources.
func (s Source) Valid() bool {
	switch s {
	case SourceChat, SourceIntake, SourceReportSection:
		return true
	}
	return false
}

// Item is a single piece of evidence backing a finding.
type Item struct {
	Source    Source  `json:"source"`
	SourceID  string  `json:"source_id"`
	Excerpt   string  `json:"excerpt"`
	FieldPath *string `json:"field_path,omitempty"`
}

// DropReason explains why an item was removed during filtering.
type DropReason string

const (
	DropUnknownSource   DropReason = "unknown_source"
	DropEmptyExcerpt    DropReason = "empty_excerpt"
	DropMissingSourceID DropReason = "missing_source_id"
	DropForeignRecord   DropReason = "foreign_record"
	DropFieldNotAllowed DropReason = "field_path_not_allowlisted"
)

// Dropped pairs a rejected item with the reason it was rejected.
type Dropped struct {
	Item   Item       `json:"item"`
	Reason DropReason `json:"reason"`
}

// Check validates a single item against the record being evaluated. It
// returns ok=false and the reason when the item must be dropped.
func Check(it Item, recordID string) (DropReason, bool) {
	if !it.Source.Valid() {
		return DropUnknownSource, false
	}
	if strings.TrimSpace(it.Excerpt) == "" {
		return DropEmptyExcerpt, false
	}
	switch it.Source {
	case SourceIntake:
		if it.SourceID != recordID {
			return DropForeignRecord, false
		}
		if it.FieldPath != nil && !Allowed(*it.FieldPath) {
			return DropFieldNotAllowed, false
		}
	default:
		if strings.TrimSpace(it.SourceID) == "" {
			return DropMissingSourceID, false
		}
	}
	return "", true
}

type dedupeKey struct {
	source    Source
	sourceID  string
	fieldPath string
	hasPath   bool
	excerpt   string
}

func keyOf(it Item) dedupeKey {
	k := dedupeKey{source: it.Source, sourceID: it.SourceID, excerpt: it.Excerpt}
	if it.FieldPath != nil {
		k.fieldPath, k.hasPath = *it.FieldPath, true
	}
	return k
}

// Filter drops invalid items and removes duplicates by
// (source, source_id, field_path, excerpt), keeping first-seen order. The
// returned slice is never nil. Filter is idempotent.
func Filter(items []Item, recordID string) ([]Item, []Dropped) {
	kept := make([]Item, 0, len(items))
	var dropped []Dropped
	seen := make(map[dedupeKey]struct{}, len(items))
	for _, it := range items {
		if reason, ok := Check(it, recordID); !ok {
			dropped = append(dropped, Dropped{Item: it, Reason: reason})
			continue
		}
		k := keyOf(it)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		kept = append(kept, clone(it))
	}
	return kept, dropped
}

func clone(it Item) Item {
	if it.FieldPath != nil {
		p := *it.FieldPath
		it.FieldPath = &p
	}
	return it
}

// FieldPath is a convenience for building items with a field reference.
func FieldPath(p string) *string { return &p }

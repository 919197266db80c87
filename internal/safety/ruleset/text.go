package ruleset

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// excerptContext is the number of bytes kept on each side of a match.
const excerptContext = 40

// span is a byte range within a segment's text.
type span struct{ start, end int }

// find returns the earliest case-insensitive occurrence of any keyword.
// Keywords are expected lowercase. Ties on position go to the longer
// keyword, then to list order. Offsets refer to text itself.
func find(text string, keywords []string) (string, span, bool) {
	best, bestSpan, found := "", span{}, false
	for _, kw := range keywords {
		sp, ok := indexFold(text, kw)
		if !ok {
			continue
		}
		if !found || sp.start < bestSpan.start || (sp.start == bestSpan.start && sp.end > bestSpan.end) {
			best, bestSpan, found = kw, sp, true
		}
	}
	return best, bestSpan, found
}

// indexFold finds kw in text comparing rune by rune under simple case
// folding, so multi-byte case changes do not shift offsets.
func indexFold(text, kw string) (span, bool) {
	if kw == "" {
		return span{}, false
	}
	for i := 0; i < len(text); {
		if end, ok := matchFoldAt(text, i, kw); ok {
			return span{i, end}, true
		}
		_, size := utf8.DecodeRuneInString(text[i:])
		i += size
	}
	return span{}, false
}

func matchFoldAt(text string, i int, kw string) (int, bool) {
	for _, kr := range kw {
		if i >= len(text) {
			return 0, false
		}
		r, size := utf8.DecodeRuneInString(text[i:])
		if !foldEq(r, kr) {
			return 0, false
		}
		i += size
	}
	return i, true
}

func foldEq(a, b rune) bool {
	if a == b || unicode.ToLower(a) == unicode.ToLower(b) {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

// excerpt returns the text around sp, widened by excerptContext and snapped
// to rune boundaries.
func excerpt(text string, sp span) string {
	start := max(sp.start-excerptContext, 0)
	end := min(sp.end+excerptContext, len(text))
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	out := strings.TrimSpace(text[start:end])
	if start > 0 {
		out = "…" + out
	}
	if end < len(text) {
		out += "…"
	}
	return out
}

// cover returns the smallest span containing both a and b.
func cover(a, b span) span {
	return span{min(a.start, b.start), max(a.end, b.end)}
}

func normalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

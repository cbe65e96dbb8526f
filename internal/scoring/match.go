package scoring

import (
	"strconv"
	"strings"

	"golang.org/x/text/cases"

	"github.com/sells-group/sales-agent/internal/model"
)

var fold = cases.Fold()

// matchExact returns 1.0 when the attribute equals the target under case
// folding, 0.0 otherwise.
func matchExact(value any, target model.Target) float64 {
	s, ok := coerceString(value)
	if !ok {
		return 0
	}
	if fold.String(strings.TrimSpace(s)) == fold.String(strings.TrimSpace(target.Value)) {
		return 1
	}
	return 0
}

// matchRange scores a numeric attribute against [min,max]. Values inside the
// range match fully; values outside ramp down linearly over one range-width
// so a near miss still scores partial fit.
func matchRange(value any, target model.Target) float64 {
	v, ok := coerceFloat(value)
	if !ok {
		return 0
	}
	lo, hi := target.Min, target.Max
	width := hi - lo
	if width <= 0 {
		return 0
	}
	switch {
	case v >= lo && v <= hi:
		return 1
	case v < lo:
		return clamp01((v - (lo - width)) / width)
	default:
		return clamp01(((hi + width) - v) / width)
	}
}

// matchSet computes the Jaccard index between the attribute's value set and
// the target set. Normalizing by the union keeps sprawling attribute sets
// from inflating the match.
func matchSet(value any, target model.Target) float64 {
	attrs, ok := coerceStringSlice(value)
	if !ok || len(target.Set) == 0 {
		return 0
	}

	union := make(map[string]struct{}, len(attrs)+len(target.Set))
	targets := make(map[string]struct{}, len(target.Set))
	for _, t := range target.Set {
		key := fold.String(strings.TrimSpace(t))
		targets[key] = struct{}{}
		union[key] = struct{}{}
	}

	intersection := 0
	seen := make(map[string]struct{}, len(attrs))
	for _, a := range attrs {
		key := fold.String(strings.TrimSpace(a))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		union[key] = struct{}{}
		if _, hit := targets[key]; hit {
			intersection++
		}
	}

	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

// matchKeywords returns the fraction of target keywords found in the
// attribute's text. Matching is case-insensitive and token-bounded: "AI"
// matches "AI platform" but not "maintain".
func matchKeywords(value any, target model.Target) float64 {
	text, ok := coerceString(value)
	if !ok || len(target.Keywords) == 0 {
		return 0
	}

	tokens := tokenize(text)
	found := 0
	for _, kw := range target.Keywords {
		if containsTokenSeq(tokens, tokenize(kw)) {
			found++
		}
	}
	return float64(found) / float64(len(target.Keywords))
}

// tokenize splits text into case-folded word tokens.
func tokenize(s string) []string {
	raw := strings.FieldsFunc(s, func(r rune) bool {
		return !isWordRune(r)
	})
	tokens := make([]string, 0, len(raw))
	for _, t := range raw {
		tokens = append(tokens, fold.String(t))
	}
	return tokens
}

func isWordRune(r rune) bool {
	return r == '\'' ||
		('0' <= r && r <= '9') ||
		('a' <= r && r <= 'z') ||
		('A' <= r && r <= 'Z') ||
		r > 127
}

// containsTokenSeq reports whether needle appears as a contiguous token run
// in haystack.
func containsTokenSeq(haystack, needle []string) bool {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return false
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j, n := range needle {
			if haystack[i+j] != n {
				continue outer
			}
		}
		return true
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// coerceString renders scalar attribute values as strings. Maps and slices
// are not valid scalar values.
func coerceString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case int:
		return strconv.Itoa(t), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	default:
		return "", false
	}
}

// coerceFloat renders numeric attribute values (including numeric strings,
// common in vendor CSV drops) as float64.
func coerceFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// coerceStringSlice renders list-valued attributes as a string slice.
// Comma-separated strings are split, matching vendor file conventions.
func coerceStringSlice(v any) ([]string, bool) {
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := coerceString(e)
			if !ok {
				return nil, false
			}
			out = append(out, s)
		}
		return out, true
	case string:
		parts := strings.Split(t, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out, len(out) > 0
	default:
		return nil, false
	}
}

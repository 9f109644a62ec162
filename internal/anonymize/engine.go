// Package anonymize detects PII in records returned to tool callers and
// replaces each literal with a deterministic, non-reversible token.
package anonymize

import (
	"sort"
	"strings"
	"time"
)

// defaultSafeFields are record keys whose values are ids, enum-like
// metadata, timestamps or log/level/source names. They are never scanned.
var defaultSafeFields = []string{
	"id", "recordId", "eventId", "eventRecordId", "index",
	"level", "levelName", "levelDisplayName", "severity",
	"logName", "log", "channel", "source", "sourceName", "providerName", "provider",
	"timeCreated", "timeGenerated", "timeWritten", "timestamp", "time", "created", "modified", "accessed",
	"task", "taskCategory", "opcode", "keywords", "version", "qualifiers",
	"type", "kind", "extension", "size", "sizeBytes",
}

// Engine applies the rule pipeline to records.
type Engine struct {
	mapping    *Mapping
	rules      []Rule
	safeFields map[string]bool
}

// Option customizes an Engine.
type Option func(*Engine)

// WithRules replaces the default rule pipeline.
func WithRules(rules []Rule) Option {
	return func(e *Engine) {
		e.rules = rules
	}
}

// WithSafeFields adds keys to the safe allowlist.
func WithSafeFields(fields ...string) Option {
	return func(e *Engine) {
		for _, f := range fields {
			if f = strings.TrimSpace(f); f != "" {
				e.safeFields[strings.ToLower(f)] = true
			}
		}
	}
}

// NewEngine creates an engine backed by mapping. A nil mapping starts empty.
func NewEngine(mapping *Mapping, opts ...Option) *Engine {
	if mapping == nil {
		mapping = NewMapping()
	}
	e := &Engine{
		mapping:    mapping,
		rules:      DefaultRules(),
		safeFields: make(map[string]bool, len(defaultSafeFields)),
	}
	for _, f := range defaultSafeFields {
		e.safeFields[strings.ToLower(f)] = true
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Mapping returns the engine's live mapping.
func (e *Engine) Mapping() *Mapping {
	return e.mapping
}

// IsSafeField reports whether values under key are passed through unscanned.
func (e *Engine) IsSafeField(key string) bool {
	return e.safeFields[strings.ToLower(key)]
}

// AnonymizeEntry returns a copy of record with PII in every non-safe
// string field replaced by tokens. Nested objects and arrays are walked.
// Non-string, nil and empty values are copied unchanged.
func (e *Engine) AnonymizeEntry(record map[string]any) map[string]any {
	if record == nil {
		return nil
	}
	out := make(map[string]any, len(record))
	for k, v := range record {
		if e.IsSafeField(k) {
			out[k] = v
			continue
		}
		out[k] = e.anonymizeValue(v)
	}
	return out
}

// AnonymizeEntries applies AnonymizeEntry to every record.
func (e *Engine) AnonymizeEntries(records []map[string]any) []map[string]any {
	out := make([]map[string]any, len(records))
	for i, r := range records {
		out[i] = e.AnonymizeEntry(r)
	}
	return out
}

func (e *Engine) anonymizeValue(v any) any {
	switch val := v.(type) {
	case string:
		return e.AnonymizeString(val)
	case map[string]any:
		return e.AnonymizeEntry(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = e.anonymizeValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = e.AnonymizeString(item)
		}
		return out
	default:
		return v
	}
}

// AnonymizeString runs every rule over the original s. Where matches
// overlap the longest one wins, then the one from the earlier rule, so
// each mapped literal is text that appeared in the input.
func (e *Engine) AnonymizeString(s string) string {
	if s == "" {
		return s
	}
	var found []match
	for i, rule := range e.rules {
		if rule.find == nil {
			continue
		}
		for _, sp := range rule.find(s) {
			found = append(found, match{span: sp, rule: i})
		}
	}
	if len(found) == 0 {
		return s
	}

	sort.SliceStable(found, func(a, b int) bool {
		la, lb := found[a].end-found[a].start, found[b].end-found[b].start
		if la != lb {
			return la > lb
		}
		return found[a].rule < found[b].rule
	})
	kept := make([]match, 0, len(found))
	for _, m := range found {
		if !overlapsAny(kept, m.span) {
			kept = append(kept, m)
		}
	}
	sort.Slice(kept, func(a, b int) bool { return kept[a].start < kept[b].start })

	var b strings.Builder
	b.Grow(len(s))
	last := 0
	for _, m := range kept {
		b.WriteString(s[last:m.start])
		b.WriteString(e.mapping.Token(e.rules[m.rule].Category, s[m.start:m.end]))
		last = m.end
	}
	b.WriteString(s[last:])
	return b.String()
}

type match struct {
	span
	rule int
}

func overlapsAny(kept []match, sp span) bool {
	for _, m := range kept {
		if sp.start < m.end && m.start < sp.end {
			return true
		}
	}
	return false
}

// Stats returns the number of mapped literals per category.
func (e *Engine) Stats() map[Category]int {
	return e.mapping.Counts()
}

// PersistMapping writes the engine's mapping to path.
func (e *Engine) PersistMapping(path string) error {
	return e.mapping.Persist(path, time.Now())
}

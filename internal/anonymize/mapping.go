package anonymize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
)

// tokenHashLen is the number of hex characters of the digest kept in a token.
const tokenHashLen = 6

// TokenFor returns the deterministic token for a literal:
// "[" + PREFIX + "_" + first six upper-hex chars of sha256(literal) + "]".
// There is no salt, so the same literal correlates across queries and restarts.
func TokenFor(category Category, literal string) string {
	sum := sha256.Sum256([]byte(literal))
	digest := strings.ToUpper(hex.EncodeToString(sum[:]))
	return "[" + category.Prefix() + "_" + digest[:tokenHashLen] + "]"
}

// Mapping holds literal → token tables, one per category. Entries are
// only ever added. Safe for concurrent use.
type Mapping struct {
	mu     sync.Mutex
	tables map[Category]map[string]string
}

// NewMapping returns an empty mapping.
func NewMapping() *Mapping {
	m := &Mapping{tables: make(map[Category]map[string]string, len(Categories))}
	for _, c := range Categories {
		m.tables[c] = make(map[string]string)
	}
	return m
}

// Token returns the token for literal, inserting it on first sight.
// An existing entry wins over a freshly computed one, so tokens loaded
// from disk stay stable.
func (m *Mapping) Token(category Category, literal string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	table := m.table(category)
	if tok, ok := table[literal]; ok {
		return tok
	}
	tok := TokenFor(category, literal)
	table[literal] = tok
	return tok
}

// Lookup returns the token for a literal without inserting.
func (m *Mapping) Lookup(category Category, literal string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok, ok := m.tables[category][literal]
	return tok, ok
}

// Merge copies entries from other that m does not have yet.
func (m *Mapping) Merge(other *Mapping) {
	if other == nil || other == m {
		return
	}
	snap := other.Snapshot()

	m.mu.Lock()
	defer m.mu.Unlock()
	for c, entries := range snap {
		table := m.table(c)
		for literal, tok := range entries {
			if _, ok := table[literal]; !ok {
				table[literal] = tok
			}
		}
	}
}

// Len returns the total number of entries across all categories.
func (m *Mapping) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tables {
		n += len(t)
	}
	return n
}

// Counts returns the number of entries per category.
func (m *Mapping) Counts() map[Category]int {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Category]int, len(m.tables))
	for c, t := range m.tables {
		out[c] = len(t)
	}
	return out
}

// Snapshot returns a deep copy of every table.
func (m *Mapping) Snapshot() map[Category]map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[Category]map[string]string, len(m.tables))
	for c, t := range m.tables {
		cp := make(map[string]string, len(t))
		for k, v := range t {
			cp[k] = v
		}
		out[c] = cp
	}
	return out
}

// table must be called with mu held.
func (m *Mapping) table(category Category) map[string]string {
	t, ok := m.tables[category]
	if !ok {
		t = make(map[string]string)
		m.tables[category] = t
	}
	return t
}

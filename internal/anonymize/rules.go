package anonymize

import (
	"net/netip"
	"regexp"
	"strings"
)

// Category identifies one of the mapping tables.
type Category string

const (
	CategoryUsernames     Category = "usernames"
	CategoryComputerNames Category = "computerNames"
	CategoryIPAddresses   Category = "ipAddresses"
	CategoryEmails        Category = "emails"
	CategoryPaths         Category = "paths"
)

// Categories lists every category in serialization order.
var Categories = []Category{
	CategoryUsernames,
	CategoryComputerNames,
	CategoryIPAddresses,
	CategoryEmails,
	CategoryPaths,
}

// Prefix returns the token prefix for a category.
func (c Category) Prefix() string {
	switch c {
	case CategoryUsernames:
		return "USER"
	case CategoryComputerNames:
		return "COMPUTER"
	case CategoryIPAddresses:
		return "IP"
	case CategoryEmails:
		return "EMAIL"
	case CategoryPaths:
		return "PATH"
	default:
		return strings.ToUpper(string(c))
	}
}

// span is a half-open byte range [start, end) of a detected literal.
type span struct {
	start, end int
}

// Rule is one detector in the anonymization pipeline. Every rule sees
// the original text; rule order breaks ties between overlapping matches
// of equal length.
type Rule struct {
	Name     string
	Category Category
	find     func(text string) []span
}

// NewRule builds a rule from a regular expression. When group > 0 only
// that submatch is tokenized; accept may veto individual literals.
func NewRule(name string, category Category, re *regexp.Regexp, group int, accept func(string) bool) Rule {
	return Rule{
		Name:     name,
		Category: category,
		find: func(text string) []span {
			var out []span
			for _, loc := range re.FindAllStringSubmatchIndex(text, -1) {
				if 2*group+1 >= len(loc) {
					continue
				}
				start, end := loc[2*group], loc[2*group+1]
				if start < 0 || end <= start {
					continue
				}
				if accept != nil && !accept(text[start:end]) {
					continue
				}
				out = append(out, span{start: start, end: end})
			}
			return out
		},
	}
}

var (
	// DOMAIN\user. The leading class keeps path segments such as
	// C:\Users\bob from being read as a domain and user.
	domainUserRe = regexp.MustCompile(`(?:^|[^\\/:A-Za-z0-9._-])([A-Za-z][A-Za-z0-9._-]{0,14}\\[A-Za-z0-9._-]{1,20})`)

	// All-caps tokens up to 15 characters (NetBIOS name length).
	computerNameRe = regexp.MustCompile(`\b[A-Z][A-Z0-9-]{1,14}\b`)

	ipv4Re = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)

	// Loose candidate; netip decides whether it is really IPv6. The
	// leading class stops a match from starting inside a hex word.
	ipv6Re = regexp.MustCompile(`(?:^|[^0-9A-Fa-f:])([0-9A-Fa-f]{0,4}(?::[0-9A-Fa-f]{0,4}){2,7})`)

	emailRe = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)

	// Profile-scoped Windows paths: C:\Users\<name>\...
	userPathRe = regexp.MustCompile(`(?i)\b[A-Z]:[\\/]Users[\\/][^\\/\s"'<>|]+(?:[\\/][^\\/\s"'<>|]+)*[\\/]?`)
)

// computerNameStopwords are all-caps identifiers that match the
// computer-name shape but are protocol, encoding or architecture names.
var computerNameStopwords = wordSet(`
	UTF-8 UTF-16 UTF-32
	SHA1 SHA-1 SHA256 SHA-256 SHA-384 SHA-512 MD5
	AES-128 AES-256 RSA-2048 X509 X-509
	X86 X64 AMD64 ARM64 WIN32 WIN64
	IPV4 IPV6 HTTP2 HTTP-2 TLS1 TLS-1 ISO-8601
`)

func wordSet(words string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(words) {
		set[w] = true
	}
	return set
}

func isComputerName(s string) bool {
	if len(s) > 15 || computerNameStopwords[s] {
		return false
	}
	return strings.ContainsAny(s, "0123456789-")
}

// endsAt drops matches of r that are directly followed by a byte for
// which cont is true, i.e. matches cut out of a longer word.
func endsAt(r Rule, cont func(byte) bool) Rule {
	find := r.find
	r.find = func(text string) []span {
		spans := find(text)
		out := spans[:0]
		for _, sp := range spans {
			if sp.end < len(text) && cont(text[sp.end]) {
				continue
			}
			out = append(out, sp)
		}
		return out
	}
	return r
}

func isHexOrColon(c byte) bool {
	return c == ':' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'f') || ('A' <= c && c <= 'F')
}

func isIPv4(s string) bool {
	addr, err := netip.ParseAddr(s)
	return err == nil && addr.Is4()
}

func isIPv6(s string) bool {
	if len(s) < 3 {
		return false
	}
	addr, err := netip.ParseAddr(s)
	if err != nil || !addr.Is6() {
		return false
	}
	return !addr.IsUnspecified()
}

// DefaultRules returns the built-in detectors in their fixed order.
func DefaultRules() []Rule {
	return []Rule{
		NewRule("domain-user", CategoryUsernames, domainUserRe, 1, nil),
		NewRule("computer-name", CategoryComputerNames, computerNameRe, 0, isComputerName),
		NewRule("ipv4", CategoryIPAddresses, ipv4Re, 0, isIPv4),
		endsAt(NewRule("ipv6", CategoryIPAddresses, ipv6Re, 1, isIPv6), isHexOrColon),
		NewRule("email", CategoryEmails, emailRe, 0, nil),
		NewRule("user-path", CategoryPaths, userPathRe, 0, nil),
	}
}

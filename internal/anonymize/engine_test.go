package anonymize

import (
	"strings"
	"testing"
)

func TestAnonymizeDetectors(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		category Category
		literal  string
	}{
		{"domain user", `Logon by CORP\alice succeeded`, CategoryUsernames, `CORP\alice`},
		{"domain user at start", `CONTOSO\j.smith opened a session`, CategoryUsernames, `CONTOSO\j.smith`},
		{"computer name hyphen", "Workstation WS-FINANCE reported", CategoryComputerNames, "WS-FINANCE"},
		{"computer name digit", "Host DC01 rebooted", CategoryComputerNames, "DC01"},
		{"ipv4", "connection from 192.168.10.42 refused", CategoryIPAddresses, "192.168.10.42"},
		{"ipv6", "peer fe80::1ff:fe23:4567:890a dropped", CategoryIPAddresses, "fe80::1ff:fe23:4567:890a"},
		{"email", "mail sent to alice.smith@contoso.com", CategoryEmails, "alice.smith@contoso.com"},
		{"user path", `opened C:\Users\bob\Documents\report.docx`, CategoryPaths, `C:\Users\bob\Documents\report.docx`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil)
			out := e.AnonymizeString(tt.input)
			if strings.Contains(out, tt.literal) {
				t.Fatalf("literal %q survived: %s", tt.literal, out)
			}
			want := TokenFor(tt.category, tt.literal)
			if !strings.Contains(out, want) {
				t.Errorf("expected token %s in %q", want, out)
			}
		})
	}
}

func TestAnonymizeLeavesNonPII(t *testing.T) {
	inputs := []string{
		"Service started successfully",
		"Encoding UTF-8 with SHA-256 digest on AMD64",
		"ERROR code 5",
		"at 12:30:45 the job finished",
		"MAC 00:1A:2B:3C:4D:5E",
	}
	e := NewEngine(nil)
	for _, in := range inputs {
		if out := e.AnonymizeString(in); out != in {
			t.Errorf("expected %q unchanged, got %q", in, out)
		}
	}
}

func TestComputerNameLengthLimit(t *testing.T) {
	e := NewEngine(nil)
	in := "host ABCDEFGHIJKLMNOP1 online"
	if out := e.AnonymizeString(in); out != in {
		t.Errorf("names longer than 15 characters must pass: %s", out)
	}
}

func TestUserPathSegmentsNotUsernames(t *testing.T) {
	e := NewEngine(nil)
	e.AnonymizeString(`C:\Users\carol\Desktop\notes.txt`)
	if n := e.Stats()[CategoryUsernames]; n != 0 {
		t.Errorf("path segments were tokenized as usernames: %d", n)
	}
	if n := e.Stats()[CategoryPaths]; n != 1 {
		t.Errorf("expected 1 path, got %d", n)
	}
}

func TestAnonymizeDeterministic(t *testing.T) {
	in := `CORP\alice on WS-0042 (10.0.0.5) wrote C:\Users\alice\x.txt`
	e := NewEngine(nil)
	first := e.AnonymizeString(in)
	second := e.AnonymizeString(in)
	if first != second {
		t.Errorf("non-deterministic output:\n  %s\n  %s", first, second)
	}

	// Independent engines with empty mappings agree: there is no salt.
	other := NewEngine(nil).AnonymizeString(in)
	if first != other {
		t.Errorf("independent engines disagree:\n  %s\n  %s", first, other)
	}
}

func TestAnonymizeIdempotentOnOutput(t *testing.T) {
	e := NewEngine(nil)
	once := e.AnonymizeString("from 10.1.1.1 to bob@example.org")
	twice := e.AnonymizeString(once)
	if once != twice {
		t.Errorf("tokens were re-detected:\n  %s\n  %s", once, twice)
	}
}

func TestAnonymizeEntrySafeFieldsAndTypes(t *testing.T) {
	e := NewEngine(nil)
	record := map[string]any{
		"id":          "10.0.0.1",
		"logName":     "Security",
		"timeCreated": "2026-01-01T00:00:00Z",
		"message":     "login from 10.0.0.1",
		"eventCode":   4624,
		"elevated":    true,
		"empty":       "",
		"nothing":     nil,
		"details": map[string]any{
			"user":   `CORP\dave`,
			"source": "Microsoft-Windows-Security-Auditing",
		},
		"targets": []any{"10.0.0.2", 7, map[string]any{"mail": "x@y.com"}},
	}

	out := e.AnonymizeEntry(record)

	if out["id"] != "10.0.0.1" {
		t.Errorf("safe field id was scanned: %v", out["id"])
	}
	if out["logName"] != "Security" || out["timeCreated"] != "2026-01-01T00:00:00Z" {
		t.Error("safe metadata changed")
	}
	if out["message"] != "login from "+TokenFor(CategoryIPAddresses, "10.0.0.1") {
		t.Errorf("message not anonymized: %v", out["message"])
	}
	if out["eventCode"] != 4624 || out["elevated"] != true || out["empty"] != "" || out["nothing"] != nil {
		t.Error("non-string or empty values changed")
	}

	details := out["details"].(map[string]any)
	if details["user"] != TokenFor(CategoryUsernames, `CORP\dave`) {
		t.Errorf("nested user not tokenized: %v", details["user"])
	}
	if details["source"] != "Microsoft-Windows-Security-Auditing" {
		t.Errorf("nested safe field changed: %v", details["source"])
	}

	targets := out["targets"].([]any)
	if targets[0] != TokenFor(CategoryIPAddresses, "10.0.0.2") || targets[1] != 7 {
		t.Errorf("array not walked: %v", targets)
	}
	if targets[2].(map[string]any)["mail"] != TokenFor(CategoryEmails, "x@y.com") {
		t.Errorf("object inside array not walked: %v", targets[2])
	}

	// Input is not mutated.
	if record["message"] != "login from 10.0.0.1" {
		t.Error("input record was mutated")
	}
}

func TestAnonymizeEntryNil(t *testing.T) {
	if NewEngine(nil).AnonymizeEntry(nil) != nil {
		t.Error("nil record should stay nil")
	}
}

func TestWithSafeFields(t *testing.T) {
	e := NewEngine(nil, WithSafeFields("HostAddress"))
	out := e.AnonymizeEntry(map[string]any{"hostAddress": "10.9.9.9"})
	if out["hostAddress"] != "10.9.9.9" {
		t.Errorf("custom safe field scanned: %v", out["hostAddress"])
	}
}

func TestWithRulesCustomPipeline(t *testing.T) {
	e := NewEngine(nil, WithRules(DefaultRules()[4:5]))
	out := e.AnonymizeString("10.0.0.1 a@b.io")
	if !strings.HasPrefix(out, "10.0.0.1 ") {
		t.Errorf("ipv4 rule should be disabled: %s", out)
	}
	if !strings.Contains(out, TokenFor(CategoryEmails, "a@b.io")) {
		t.Errorf("email rule should run: %s", out)
	}
}

func TestOverlappingMatchesKeepInputLiteral(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		category Category
		literal  string
	}{
		{"all-caps email local part", "reply to JSMITH2@corp.com", CategoryEmails, "JSMITH2@corp.com"},
		{"computer name inside profile path", `C:\Users\BOB-PC\Documents\x.txt`, CategoryPaths, `C:\Users\BOB-PC\Documents\x.txt`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEngine(nil)
			out := e.AnonymizeString(tt.input)
			want := strings.Replace(tt.input, tt.literal, TokenFor(tt.category, tt.literal), 1)
			if out != want {
				t.Fatalf("expected %q, got %q", want, out)
			}
			if tok, ok := e.Mapping().Lookup(tt.category, tt.literal); !ok || tok != TokenFor(tt.category, tt.literal) {
				t.Errorf("mapping not keyed on the input literal: ok=%v tok=%s", ok, tok)
			}
			if n := e.Stats()[CategoryComputerNames]; n != 0 {
				t.Errorf("nested computer name was mapped separately: %d", n)
			}
		})
	}
}

func TestIPv6NotCutFromHexWords(t *testing.T) {
	e := NewEngine(nil)
	for _, in := range []string{"deadbeef::1", "value fe80::1ffff seen", "x cafe:babe::1dead2"} {
		if out := e.AnonymizeString(in); out != in {
			t.Errorf("expected %q unchanged, got %q", in, out)
		}
	}

	out := e.AnonymizeString("addr=::1")
	if want := "addr=" + TokenFor(CategoryIPAddresses, "::1"); out != want {
		t.Errorf("expected %q, got %q", want, out)
	}
}

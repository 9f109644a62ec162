package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func newTestLog(t *testing.T, opts Options) (*Log, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test-audit.jsonl")
	l, err := Open(path, opts)
	if err != nil {
		t.Fatalf("failed to open audit log: %v", err)
	}
	return l, path
}

type serviceState struct {
	Enabled         bool   `json:"enabled"`
	PermissionLevel string `json:"permissionLevel"`
}

func testEvent(action Action) Event {
	return Event{
		Action:        action,
		ServiceID:     "eventlog",
		PreviousValue: serviceState{Enabled: false, PermissionLevel: "disabled"},
		NewValue:      serviceState{Enabled: true, PermissionLevel: "read-only"},
		Source:        "test",
	}
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	return strings.Split(strings.TrimSpace(string(data)), "\n")
}

func writeLines(t *testing.T, path string, lines []string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatalf("write log: %v", err)
	}
}

func TestOpenRejectsInvalidPath(t *testing.T) {
	if _, err := Open("../../audit.jsonl", Options{}); err == nil {
		t.Fatal("expected traversal to be rejected")
	}
	if _, err := Open(filepath.Join(t.TempDir(), "audit.log"), Options{}); err == nil {
		t.Fatal("expected .log extension to be rejected")
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a", "b", "audit.jsonl")
	for i := 0; i < 2; i++ {
		if _, err := Open(path, Options{}); err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
	}
}

func TestFirstEntryUsesGenesis(t *testing.T) {
	l, _ := newTestLog(t, Options{})
	entry, err := l.Record(testEvent(ActionServiceEnable))
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if entry.PreviousHash != GenesisHash {
		t.Errorf("expected genesis previous hash, got %s", entry.PreviousHash)
	}
	if len(entry.Hash) != 64 {
		t.Errorf("expected 64 hex chars, got %q", entry.Hash)
	}
	if len(GenesisHash) != 64 || strings.Trim(GenesisHash, "0") != "" {
		t.Errorf("genesis must be 64 zeros: %q", GenesisHash)
	}
}

func TestSequentialWritesProduceValidChain(t *testing.T) {
	l, _ := newTestLog(t, Options{})

	for i := 0; i < 5; i++ {
		if _, err := l.Record(testEvent(ActionPermissionChange)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	result := l.VerifyIntegrity()
	if !result.Valid {
		t.Fatalf("expected valid chain, got error at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Entries != 5 {
		t.Fatalf("expected 5 entries, got %d", result.Entries)
	}
}

func TestChainLinksEntries(t *testing.T) {
	l, path := newTestLog(t, Options{})
	for i := 0; i < 3; i++ {
		l.Record(testEvent(ActionPIIToggle))
	}

	lines := readLines(t, path)
	var prev Entry
	for i, line := range lines {
		var e Entry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			t.Fatalf("line %d: %v", i+1, err)
		}
		if i > 0 && e.PreviousHash != prev.Hash {
			t.Errorf("line %d: previous hash %s != %s", i+1, e.PreviousHash, prev.Hash)
		}
		prev = e
	}
}

func TestChainSurvivesReopen(t *testing.T) {
	l, path := newTestLog(t, Options{})
	l.Record(testEvent(ActionServiceEnable))

	reopened, err := Open(path, Options{})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	reopened.Record(testEvent(ActionServiceDisable))

	if result := Verify(path); !result.Valid || result.Entries != 2 {
		t.Fatalf("expected 2 valid entries after reopen, got %+v", result)
	}
}

func TestVerifyDetectsTamperedEntry(t *testing.T) {
	l, path := newTestLog(t, Options{})
	for i := 0; i < 3; i++ {
		if _, err := l.Record(testEvent(ActionServiceEnable)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	lines := readLines(t, path)
	lines[1] = strings.Replace(lines[1], `"read-only"`, `"read-write"`, 1)
	writeLines(t, path, lines)

	result := l.VerifyIntegrity()
	if result.Valid {
		t.Fatal("expected tampered chain to be invalid")
	}
	if !strings.Contains(result.Error, "invalid hash") {
		t.Errorf("expected invalid hash error, got %q", result.Error)
	}
	if result.ErrorLine != 2 {
		t.Errorf("expected error at line 2, got line %d", result.ErrorLine)
	}
	if result.Entries != 1 {
		t.Errorf("expected 1 verified entry before the violation, got %d", result.Entries)
	}
}

func TestVerifyDetectsTamperedSource(t *testing.T) {
	l, path := newTestLog(t, Options{})
	l.Record(testEvent(ActionServiceEnable))

	lines := readLines(t, path)
	lines[0] = strings.Replace(lines[0], `"source":"test"`, `"source":"someone-else"`, 1)
	writeLines(t, path, lines)

	if result := Verify(path); result.Valid || !strings.Contains(result.Error, "invalid hash") {
		t.Fatalf("expected invalid hash, got %+v", result)
	}
}

func TestVerifyDetectsDeletedEntry(t *testing.T) {
	l, path := newTestLog(t, Options{})
	for i := 0; i < 3; i++ {
		l.Record(testEvent(ActionServiceEnable))
	}

	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2]})

	result := Verify(path)
	if result.Valid {
		t.Fatal("expected chain with deleted entry to be invalid")
	}
	if !strings.Contains(result.Error, "broken previous hash chain") {
		t.Errorf("expected broken chain error, got %q", result.Error)
	}
	if result.ErrorLine != 2 {
		t.Errorf("expected error at line 2, got line %d", result.ErrorLine)
	}
}

func TestVerifyDetectsDeletedFirstEntry(t *testing.T) {
	l, path := newTestLog(t, Options{})
	for i := 0; i < 2; i++ {
		l.Record(testEvent(ActionServiceEnable))
	}
	lines := readLines(t, path)
	writeLines(t, path, lines[1:])

	result := Verify(path)
	if result.Valid || !strings.Contains(result.Error, "broken previous hash chain") || result.ErrorLine != 1 {
		t.Fatalf("expected broken chain at line 1, got %+v", result)
	}
}

func TestVerifyDetectsReorderedEntries(t *testing.T) {
	l, path := newTestLog(t, Options{})
	for i := 0; i < 3; i++ {
		l.Record(testEvent(ActionServiceEnable))
	}
	lines := readLines(t, path)
	writeLines(t, path, []string{lines[0], lines[2], lines[1]})

	if result := Verify(path); result.Valid {
		t.Fatal("expected reordered chain to be invalid")
	}
}

func TestVerifyDetectsMissingHashFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	writeLines(t, path, []string{`{"timestamp":"2026-01-01T00:00:00.000Z","action":"config.reset"}`})

	result := Verify(path)
	if result.Valid || !strings.Contains(result.Error, "missing hash fields") {
		t.Fatalf("expected missing hash fields, got %+v", result)
	}
}

func TestVerifyDetectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.jsonl")
	writeLines(t, path, []string{"not json"})

	result := Verify(path)
	if result.Valid || !strings.Contains(result.Error, "parse error") {
		t.Fatalf("expected parse error, got %+v", result)
	}
}

func TestVerifyMissingFileIsEmptyChain(t *testing.T) {
	result := Verify(filepath.Join(t.TempDir(), "none.jsonl"))
	if !result.Valid || result.Entries != 0 {
		t.Fatalf("expected empty valid chain, got %+v", result)
	}
}

func TestConcurrentRecordsKeepChainValid(t *testing.T) {
	l, _ := newTestLog(t, Options{})

	const writers = 20
	const perWriter = 10
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				ev := testEvent(ActionPermissionChange)
				ev.Source = fmt.Sprintf("writer-%d", w)
				if _, err := l.Record(ev); err != nil {
					errs <- err
				}
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("record: %v", err)
	}

	result := l.VerifyIntegrity()
	if !result.Valid {
		t.Fatalf("concurrent writes broke the chain at line %d: %s", result.ErrorLine, result.Error)
	}
	if result.Entries != writers*perWriter {
		t.Fatalf("expected %d entries, got %d", writers*perWriter, result.Entries)
	}
}

func TestRecordRejectsUnknownAction(t *testing.T) {
	l, path := newTestLog(t, Options{})
	if _, err := l.Record(Event{Action: "service.delete"}); err == nil {
		t.Fatal("expected unknown action to be rejected")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("rejected event must not create the file")
	}
}

func TestRecordRefusesCorruptTail(t *testing.T) {
	l, path := newTestLog(t, Options{})
	writeLines(t, path, []string{"garbage"})
	if _, err := l.Record(testEvent(ActionServiceEnable)); err == nil {
		t.Fatal("expected error when tail entry is unreadable")
	}
}

func TestRecordSetsTimestamp(t *testing.T) {
	fixed := time.Date(2026, 3, 4, 5, 6, 7, 890000000, time.UTC)
	l, _ := newTestLog(t, Options{Now: func() time.Time { return fixed }})
	entry, err := l.Record(testEvent(ActionConfigReset))
	if err != nil {
		t.Fatal(err)
	}
	if entry.Timestamp != "2026-03-04T05:06:07.890Z" {
		t.Errorf("unexpected timestamp %s", entry.Timestamp)
	}
}

func TestValuesAreCanonical(t *testing.T) {
	l, _ := newTestLog(t, Options{})
	entry, err := l.Record(Event{
		Action:        ActionConfigReset,
		ServiceID:     "*",
		PreviousValue: map[string]any{"b": 1, "a": map[string]any{"z": true, "y": nil}},
		NewValue:      nil,
		Source:        "test",
	})
	if err != nil {
		t.Fatal(err)
	}
	if string(entry.PreviousValue) != `{"a":{"y":null,"z":true},"b":1}` {
		t.Errorf("previous value not canonical: %s", entry.PreviousValue)
	}
	if string(entry.NewValue) != "null" {
		t.Errorf("nil new value should encode as null: %s", entry.NewValue)
	}
}

func TestRecentEntries(t *testing.T) {
	l, _ := newTestLog(t, Options{})

	if entries, err := l.RecentEntries(5); err != nil || len(entries) != 0 {
		t.Fatalf("expected no entries on missing file, got %v %v", entries, err)
	}

	for i := 0; i < 5; i++ {
		ev := testEvent(ActionServiceEnable)
		ev.Source = fmt.Sprintf("s%d", i)
		l.Record(ev)
	}

	entries, err := l.RecentEntries(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].Source != "s3" || entries[1].Source != "s4" {
		t.Errorf("expected last two entries oldest first, got %s, %s", entries[0].Source, entries[1].Source)
	}

	all, _ := l.RecentEntries(100)
	if len(all) != 5 {
		t.Errorf("expected all 5 entries, got %d", len(all))
	}
	if none, _ := l.RecentEntries(0); none != nil {
		t.Errorf("n=0 should return nothing, got %v", none)
	}
}

func TestRotation(t *testing.T) {
	l, path := newTestLog(t, Options{MaxSize: 1, MaxFiles: 2})

	// Every append after the first sees a non-empty file and rotates.
	for i := 0; i < 4; i++ {
		if _, err := l.Record(testEvent(ActionServiceEnable)); err != nil {
			t.Fatalf("record %d: %v", i, err)
		}
	}

	rotated := l.RotatedFiles()
	if len(rotated) != 2 {
		t.Fatalf("expected 2 rotated files, got %v", rotated)
	}
	base := strings.TrimSuffix(path, ".jsonl")
	if rotated[0] != base+".1.jsonl" || rotated[1] != base+".2.jsonl" {
		t.Errorf("unexpected rotated names: %v", rotated)
	}
	if _, err := os.Stat(base + ".3.jsonl"); !os.IsNotExist(err) {
		t.Error("files beyond MaxFiles must be discarded")
	}

	// The live file restarts the chain from genesis.
	lines := readLines(t, path)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line in live file, got %d", len(lines))
	}
	var e Entry
	json.Unmarshal([]byte(lines[0]), &e)
	if e.PreviousHash != GenesisHash {
		t.Errorf("expected genesis after rotation, got %s", e.PreviousHash)
	}
	for _, f := range append(rotated, path) {
		if r := Verify(f); !r.Valid {
			t.Errorf("%s: %s", f, r.Error)
		}
	}
}

func TestRotationFailureKeepsAppending(t *testing.T) {
	l, path := newTestLog(t, Options{MaxSize: 1, MaxFiles: 1})
	l.Record(testEvent(ActionServiceEnable))

	// A non-empty directory where .1 should go makes rotation fail.
	blocker := strings.TrimSuffix(path, ".jsonl") + ".1.jsonl"
	os.MkdirAll(filepath.Join(blocker, "x"), 0700)

	if _, err := l.Record(testEvent(ActionServiceDisable)); err != nil {
		t.Fatalf("append after failed rotation: %v", err)
	}
	if result := Verify(path); !result.Valid || result.Entries != 2 {
		t.Fatalf("expected 2 entries in live file, got %+v", result)
	}
}

func TestLastLineAcrossChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "big.jsonl")
	long := strings.Repeat("x", 10000)
	os.WriteFile(path, []byte(long+"\n"+long+"y\n\n"), 0600)

	got, err := lastLine(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != long+"y" {
		t.Errorf("unexpected last line of length %d", len(got))
	}
}

package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
)

// maxLineSize bounds a single JSONL line when scanning.
const maxLineSize = 16 * 1024 * 1024

// VerifyResult holds the outcome of a hash chain verification.
type VerifyResult struct {
	Valid     bool   `json:"valid"`
	Entries   int    `json:"entries"`
	Error     string `json:"error,omitempty"`
	ErrorLine int    `json:"errorLine,omitempty"`
}

// Verify reads a JSONL audit log and validates the hash chain. It reports
// the first violation: a line that does not parse, missing hash fields, a
// stored hash that does not match the content (tampering), or a
// _previousHash that does not match the prior line (deletion or
// reordering). A missing file is an empty, valid chain.
func Verify(path string) VerifyResult {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return VerifyResult{Valid: true}
		}
		return VerifyResult{Error: fmt.Sprintf("open: %v", err)}
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	lineNum := 0
	verified := 0
	expectedPrev := GenesisHash

	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			return failure(verified, lineNum, "parse error: %v", err)
		}
		if entry.PreviousHash == "" || entry.Hash == "" {
			return failure(verified, lineNum, "missing hash fields")
		}

		body, err := entry.canonicalJSON()
		if err != nil {
			return failure(verified, lineNum, "parse error: %v", err)
		}
		if computed := ComputeHash(entry.PreviousHash, body); computed != entry.Hash {
			return failure(verified, lineNum, "invalid hash: stored %s, computed %s", entry.Hash, computed)
		}
		if entry.PreviousHash != expectedPrev {
			return failure(verified, lineNum, "broken previous hash chain: expected %s, got %s", expectedPrev, entry.PreviousHash)
		}

		expectedPrev = entry.Hash
		verified++
	}

	if err := scanner.Err(); err != nil {
		return failure(verified, lineNum, "scan: %v", err)
	}

	return VerifyResult{Valid: true, Entries: verified}
}

func failure(verified, line int, format string, args ...any) VerifyResult {
	return VerifyResult{
		Entries:   verified,
		Error:     fmt.Sprintf("line %d: ", line) + fmt.Sprintf(format, args...),
		ErrorLine: line,
	}
}

// readEntries parses every well-formed line of path. A missing file has
// no entries.
func readEntries(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "audit: open log")
	}
	defer f.Close()

	var entries []Entry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "audit: scan log")
	}
	return entries, nil
}

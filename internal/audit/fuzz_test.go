package audit

import (
	"os"
	"path/filepath"
	"testing"
)

func FuzzVerify(f *testing.F) {
	// Seed with a valid 3-entry chain
	tmpDir := f.TempDir()
	al, err := Open(filepath.Join(tmpDir, "valid.jsonl"), Options{})
	if err != nil {
		f.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		al.Record(Event{
			Action:        ActionPermissionChange,
			ServiceID:     "filesearch",
			PreviousValue: map[string]string{"permissionLevel": "read-only"},
			NewValue:      map[string]string{"permissionLevel": "read-write"},
			Source:        "fuzz",
		})
	}
	validData, _ := os.ReadFile(al.Path())
	f.Add(validData)

	f.Add([]byte{})
	f.Add([]byte(`{"not":"a valid entry"}` + "\n"))
	f.Add([]byte(`{"_hash":"x","_previousHash":"y","previousValue":{"a":` + "\n"))
	f.Add([]byte(`not json`))

	f.Fuzz(func(t *testing.T, data []byte) {
		tmpFile := filepath.Join(t.TempDir(), "fuzz.jsonl")
		os.WriteFile(tmpFile, data, 0600)

		// Must not panic
		Verify(tmpFile)
	})
}

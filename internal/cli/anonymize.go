package cli

import (
	"bufio"
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var anonymizeMapping string

func init() {
	rootCmd.AddCommand(anonymizeCmd)
	anonymizeCmd.Flags().StringVar(&anonymizeMapping, "mapping", "", "Mapping file to seed from and update (default anonymization.mapping_path)")
}

var anonymizeCmd = &cobra.Command{
	Use:   "anonymize",
	Short: "Anonymize JSONL records from stdin",
	Long:  "Reads one JSON object per line from stdin, replaces PII with deterministic tokens\nand writes the result to stdout. The token mapping is persisted afterwards.",
	Args:  cobra.NoArgs,
	RunE:  runAnonymize,
}

const maxRecordSize = 4 << 20

func runAnonymize(cmd *cobra.Command, args []string) error {
	path := anonymizeMapping
	if path == "" {
		path = cfg.Anonymization.MappingPath
	}
	engine, err := newEngine(path)
	if err != nil {
		return err
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	scanner.Buffer(make([]byte, 0, 64*1024), maxRecordSize)
	w := bufio.NewWriter(cmd.OutOrStdout())
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var record map[string]any
		if err := json.Unmarshal(raw, &record); err != nil {
			return errors.Wrapf(err, "line %d", line)
		}
		if err := enc.Encode(engine.AnonymizeEntry(record)); err != nil {
			return errors.Wrapf(err, "write line %d", line)
		}
	}
	if err := scanner.Err(); err != nil {
		return errors.Wrap(err, "read stdin")
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "write stdout")
	}

	if path != "" {
		if err := engine.PersistMapping(path); err != nil {
			return err
		}
		logger.Debug("mapping persisted", zap.String("path", path), zap.Int("entries", engine.Mapping().Len()))
	}
	return nil
}

package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostwarden/internal/audit"
)

var (
	tailLines int

	replayService string
	replayAction  string
	replayFrom    string
	replayTo      string
	replayFormat  string
)

func init() {
	rootCmd.AddCommand(auditCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditTailCmd)
	auditCmd.AddCommand(auditReplayCmd)
	auditTailCmd.Flags().IntVarP(&tailLines, "lines", "n", 10, "Number of recent entries to show")
	auditReplayCmd.Flags().StringVar(&replayService, "service", "", "Only entries for this service id")
	auditReplayCmd.Flags().StringVar(&replayAction, "action", "", "Only entries with this action (e.g. service.enable)")
	auditReplayCmd.Flags().StringVar(&replayFrom, "from", "", "Start time filter (RFC3339)")
	auditReplayCmd.Flags().StringVar(&replayTo, "to", "", "End time filter (RFC3339)")
	auditReplayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
	Long:  "Commands for verifying and inspecting the hash-chained audit log.",
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify [path]",
	Short: "Verify hash chain integrity of an audit log",
	Long:  "Walks the JSONL audit log, recomputes every entry's hash and checks that each\n_previousHash matches the entry before it. Exits 0 if valid, 1 if tampered.\nDefaults to the live log from settings.",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runAuditVerify,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show recent audit log entries",
	Long:  "Reads the last N entries from the live audit log and pretty-prints them.",
	Args:  cobra.NoArgs,
	RunE:  runAuditTail,
}

var auditReplayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Render a timeline of configuration changes",
	Long:  "Reads the live audit log, filters by service, action and time range,\nand renders a change timeline with summary.",
	Args:  cobra.NoArgs,
	RunE:  runAuditReplay,
}

func runAuditVerify(cmd *cobra.Command, args []string) error {
	path := cfg.Audit.Path
	if len(args) == 1 {
		path = args[0]
	}
	result := audit.Verify(path)
	if result.Valid {
		fmt.Fprintf(cmd.OutOrStdout(), "OK: %d entries verified\n", result.Entries)
		return nil
	}
	return errors.Newf("audit log %s FAILED at line %d: %s", path, result.ErrorLine, result.Error)
}

func runAuditTail(cmd *cobra.Command, args []string) error {
	log, err := openAuditLog()
	if err != nil {
		return err
	}
	entries, err := log.RecentEntries(tailLines)
	if err != nil {
		return err
	}
	for _, e := range entries {
		out, err := json.MarshalIndent(e, "", "  ")
		if err != nil {
			return errors.Wrap(err, "format entry")
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
	}
	return nil
}

func runAuditReplay(cmd *cobra.Command, args []string) error {
	filter := audit.ReplayFilter{
		ServiceID: replayService,
		Action:    audit.Action(replayAction),
	}
	if replayAction != "" && !filter.Action.Valid() {
		return errors.Newf("unknown action %q", replayAction)
	}
	if replayFrom != "" {
		from, err := time.Parse(time.RFC3339, replayFrom)
		if err != nil {
			return errors.Wrapf(err, "invalid --from time %q", replayFrom)
		}
		filter.From = from
	}
	if replayTo != "" {
		to, err := time.Parse(time.RFC3339, replayTo)
		if err != nil {
			return errors.Wrapf(err, "invalid --to time %q", replayTo)
		}
		filter.To = to
	}

	result, err := audit.Replay(cfg.Audit.Path, filter)
	if err != nil {
		return err
	}

	switch replayFormat {
	case "json":
		out, err := audit.FormatJSON(result)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), out)
	default:
		fmt.Fprint(cmd.OutOrStdout(), audit.FormatTimeline(result))
	}
	return nil
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ppiankov/hostwarden/internal/logging"
	"github.com/ppiankov/hostwarden/internal/settings"
)

var (
	settingsPath string

	cfg    *settings.Settings
	logger = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:           "hostwarden",
	Short:         "Access control, PII anonymization and audit for local host resources",
	Long:          "Decides which tools may read or write host services, tokenizes PII in returned\nrecords, persists the access-control config and keeps a hash-chained audit log\nof every configuration change.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.Load(settings.Resolve(settingsPath))
		if err != nil {
			return err
		}
		l, err := logging.New(s.Log.Level)
		if err != nil {
			return err
		}
		cfg = s
		logger = l
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&settingsPath, "settings", "", "Path to settings YAML (default $"+settings.EnvPath+" or ~/.hostwarden/settings.yaml)")
}

// Execute runs the root command.
func Execute() {
	err := rootCmd.Execute()
	_ = logger.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

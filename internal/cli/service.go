package cli

import (
	"encoding/json"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostwarden/internal/model"
	"github.com/ppiankov/hostwarden/internal/mutation"
)

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceEnableCmd)
	serviceCmd.AddCommand(serviceDisableCmd)
	serviceCmd.AddCommand(servicePermissionCmd)
	serviceCmd.AddCommand(serviceAnonymizationCmd)
	serviceCmd.AddCommand(serviceResetCmd)
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Change service access (audited)",
	Long:  "Every change is persisted to the config file and recorded in the audit log\nwith source \"cli\".",
}

var serviceEnableCmd = &cobra.Command{
	Use:   "enable <service>",
	Short: "Enable a service (a disabled level becomes read-only)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		c, err := rt.coord.EnableService(cmd.Context(), args[0], mutation.SourceCLI)
		return printService(cmd, args[0], c, err)
	},
}

var serviceDisableCmd = &cobra.Command{
	Use:   "disable <service>",
	Short: "Disable a service",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		c, err := rt.coord.DisableService(cmd.Context(), args[0], mutation.SourceCLI)
		return printService(cmd, args[0], c, err)
	},
}

var servicePermissionCmd = &cobra.Command{
	Use:   "permission <service> <disabled|read-only|read-write>",
	Short: "Set a service's permission level",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		level, ok := model.ParsePermissionLevel(args[1])
		if !ok {
			return errors.Newf("invalid permission level %q", args[1])
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		c, err := rt.coord.SetPermission(cmd.Context(), args[0], level, mutation.SourceCLI)
		return printService(cmd, args[0], c, err)
	},
}

var serviceAnonymizationCmd = &cobra.Command{
	Use:   "anonymization <service> <on|off>",
	Short: "Turn PII anonymization on or off for a service",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var enabled bool
		switch args[1] {
		case "on", "true":
			enabled = true
		case "off", "false":
		default:
			return errors.Newf("expected on or off, got %q", args[1])
		}
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		c, err := rt.coord.SetAnonymization(cmd.Context(), args[0], enabled, mutation.SourceCLI)
		return printService(cmd, args[0], c, err)
	},
}

var serviceResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset every service to its default",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rt, err := openRuntime(cmd.Context())
		if err != nil {
			return err
		}
		if err := rt.coord.Reset(cmd.Context(), mutation.SourceCLI); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "all services reset to defaults")
		return nil
	},
}

func printService(cmd *cobra.Command, id string, c model.ServiceConfig, err error) error {
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(map[string]model.ServiceConfig{id: c}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "format service")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

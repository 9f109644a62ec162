package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/ppiankov/hostwarden/internal/configstore"
	"github.com/ppiankov/hostwarden/internal/model"
)

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the access-control config",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration of every service",
	Long:  "Loads the persisted config (or defaults when it is missing or corrupt) and prints\nthe effective per-service state as JSON.",
	Args:  cobra.NoArgs,
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Validate a config file without loading it",
	Args:  cobra.ExactArgs(1),
	RunE:  runConfigValidate,
}

type configView struct {
	Path     string                         `json:"path"`
	Exists   bool                           `json:"exists"`
	Version  int                            `json:"version"`
	Services map[string]model.ServiceConfig `json:"services"`
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	rt, err := openRuntime(cmd.Context())
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(configView{
		Path:     rt.store.Path(),
		Exists:   rt.store.Exists(),
		Version:  configstore.CurrentVersion,
		Services: rt.registry.Snapshot(),
	}, "", "  ")
	if err != nil {
		return errors.Wrap(err, "format config")
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrapf(err, "read %s", args[0])
	}
	doc, err := configstore.ParseConfig(data)
	if err != nil {
		return errors.Wrapf(err, "%s is invalid", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "OK: version %d, %d services\n", doc.Version, len(doc.Services))
	return nil
}

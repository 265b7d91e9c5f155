package cli

import (
	"github.com/dl-alexandre/drivesync/internal/config"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration management",
	Long: `Commands for managing drivesync configuration.

Values are read from the config file and may be overridden by
DRIVESYNC_* environment variables, e.g. DRIVESYNC_SYNC_CONCURRENCY=4.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long:  "Display the effective configuration settings",
	RunE:  runConfigShow,
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Long: `Set a configuration value by dotted key, e.g. "sync.strategy keep_both".
List values take a comma separated string. Use 'config show' to see available keys.`,
	Args:        cobra.ExactArgs(2),
	RunE:        runConfigSet,
	Annotations: map[string]string{annotationRepairsConfig: "true"},
}

var configResetCmd = &cobra.Command{
	Use:         "reset",
	Short:       "Reset configuration to defaults",
	Long:        "Remove the config file so every setting returns to its default",
	RunE:        runConfigReset,
	Annotations: map[string]string{annotationRepairsConfig: "true"},
}

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	configCmd.AddCommand(configResetCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	return out.WriteSuccess("config.show", GetConfig().Settings())
}

func runConfigSet(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	key := args[0]
	value := args[1]

	if err := config.Set(flags.Config, key, value); err != nil {
		return out.WriteError("config.set", utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).
			WithContext("key", key).Build())
	}

	out.Log("Configuration updated: %s = %s", key, value)
	return out.WriteSuccess("config.set", map[string]interface{}{
		"key":   key,
		"value": value,
	})
}

func runConfigReset(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	if err := config.Reset(flags.Config); err != nil {
		return out.WriteError("config.reset", utils.NewCLIError(utils.ErrCodeUnknown, err.Error()).Build())
	}

	out.Log("Configuration reset to defaults")
	return out.WriteSuccess("config.reset", config.DefaultConfig().Settings())
}

package cli

import (
	stderrors "errors"
	"fmt"
	"os"

	"github.com/dl-alexandre/drivesync/internal/config"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/dl-alexandre/drivesync/pkg/version"
	"github.com/spf13/cobra"
)

const annotationRepairsConfig = "repairsConfig"

var (
	globalFlags types.GlobalFlags
	appConfig   *config.Config
	logger      logging.Logger = logging.NewNoOpLogger()
)

var rootCmd = &cobra.Command{
	Use:   "drivesync",
	Short: "Two-way sync between local folders and Google Drive",
	Long: `drivesync keeps a local folder and a Google Drive folder in step.

Each sync pair is scanned on both sides, compared against the last
confirmed state and reconciled: new and changed files are transferred,
deletions are propagated and conflicting edits are settled by a
configurable strategy.

All commands support JSON output for automation and scripting.`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := validateGlobalFlags(); err != nil {
			return err
		}

		cfg, err := config.Load(globalFlags.Config)
		if err != nil {
			// config set and reset must stay usable to repair a broken file
			if cmd.Annotations[annotationRepairsConfig] != "true" {
				out := NewOutputWriter(globalFlags.OutputFormat, globalFlags.Quiet, globalFlags.Verbose)
				return out.WriteError(cmd.Name(), utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
			}
			cfg = config.DefaultConfig()
		}
		appConfig = cfg

		logConfig, err := buildLogConfig(cfg, globalFlags)
		if err != nil {
			return err
		}
		logger, err = logging.NewLogger(logConfig)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Long:  "Print the version number of drivesync",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := GetGlobalFlags()
		if flags.OutputFormat == types.OutputFormatTable {
			if flags.Verbose {
				fmt.Println(version.Get().String())
			} else {
				fmt.Println(version.Version)
			}
			return nil
		}
		out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)
		return out.WriteSuccess("version", version.Get())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalFlags.Config, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar((*string)(&globalFlags.OutputFormat), "output", "table", "Output format (json, table)")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Quiet, "quiet", "q", false, "Suppress non-essential output")
	rootCmd.PersistentFlags().BoolVarP(&globalFlags.Verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.Debug, "debug", false, "Log every Drive request")
	rootCmd.PersistentFlags().StringVar(&globalFlags.LogFile, "log-file", "", "Path to log file (overrides log.file)")
	rootCmd.PersistentFlags().BoolVar(&globalFlags.JSON, "json", false, "Output in JSON format (alias for --output json)")

	rootCmd.AddCommand(versionCmd)
}

func validateGlobalFlags() error {
	// Handle --json flag as alias for --output json
	if globalFlags.JSON {
		globalFlags.OutputFormat = types.OutputFormatJSON
	}

	if globalFlags.OutputFormat != types.OutputFormatJSON && globalFlags.OutputFormat != types.OutputFormatTable {
		return &ExitError{
			Code: utils.ExitInvalidArgument,
			Err:  fmt.Errorf("invalid output format: %s", globalFlags.OutputFormat),
		}
	}
	return nil
}

// buildLogConfig merges the log section of the config file with the
// command-line flags. Flags win.
func buildLogConfig(cfg *config.Config, flags types.GlobalFlags) (logging.LogConfig, error) {
	level, err := logging.ParseLogLevel(cfg.Log.Level)
	if err != nil {
		return logging.LogConfig{}, err
	}
	logConfig := logging.DefaultLogConfig()
	logConfig.Level = level
	logConfig.OutputFile = cfg.Log.File
	logConfig.MaxFileSize = cfg.Log.MaxSize
	logConfig.EnableConsole = !flags.Quiet
	logConfig.EnableDebug = flags.Debug

	if flags.LogFile != "" {
		logConfig.OutputFile = flags.LogFile
	}
	if flags.Verbose || flags.Debug {
		logConfig.Level = logging.DEBUG
	}
	if flags.OutputFormat == types.OutputFormatJSON && !flags.Verbose && !flags.Debug {
		logConfig.EnableConsole = false
	}
	return logConfig, nil
}

// Execute runs the root command and exits with the code carried by the
// failing command.
func Execute() error {
	err := rootCmd.Execute()
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if stderrors.As(err, &exitErr) {
		if !exitErr.Reported && exitErr.Err != nil {
			fmt.Fprintln(os.Stderr, "Error:", exitErr.Err)
		}
		os.Exit(exitErr.Code)
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(utils.ExitUnknown)
	return nil
}

// GetGlobalFlags returns the global flags
func GetGlobalFlags() types.GlobalFlags {
	return globalFlags
}

// GetLogger returns the global logger
func GetLogger() logging.Logger {
	return logger
}

// GetConfig returns the configuration loaded for the running command
func GetConfig() *config.Config {
	if appConfig == nil {
		return config.DefaultConfig()
	}
	return appConfig
}

// ExitError makes Execute exit with Code. Reported is set once the error
// has already been written to the user.
type ExitError struct {
	Code     int
	Err      error
	Reported bool
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

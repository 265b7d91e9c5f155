package cli

import (
	"context"

	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

var logCmd = &cobra.Command{
	Use:   "log <pair-id>",
	Short: "Show the sync history of a pair",
	Long:  "Show recent entries of a pair's audit log, newest first",
	Args:  cobra.ExactArgs(1),
	RunE:  runLog,
}

var logLimit int

func init() {
	logCmd.Flags().IntVar(&logLimit, "limit", 50, "Maximum entries to show (0 for all)")
	rootCmd.AddCommand(logCmd)
}

func runLog(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	ctx := context.Background()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	if logLimit < 0 {
		return out.WriteError("log", utils.NewCLIError(utils.ErrCodeInvalidArgument, "Limit must not be negative").Build())
	}

	s, err := openSession()
	if err != nil {
		return out.writeAppError("log", err)
	}
	defer s.Close()

	pair, err := s.pair(ctx, args[0])
	if err != nil {
		return out.writeAppError("log", err)
	}
	entries, err := s.db.ListLog(ctx, pair.ID, logLimit)
	if err != nil {
		return out.writeAppError("log", err)
	}
	return out.WriteSuccess("log", newLogOutput(pair.ID, entries))
}

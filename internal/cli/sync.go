package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync <pair-id>",
	Short: "Run one sync cycle for a pair",
	Long: `Scan both sides of a sync pair, compare them with the last confirmed
state and apply the resulting plan.

Exit status is 0 when everything synced, 60 when some items failed or
conflicts await a decision, and 61 when a sync for the pair is already
running.`,
	Args: cobra.ExactArgs(1),
	RunE: runSync,
}

var statusCmd = &cobra.Command{
	Use:   "status <pair-id>",
	Short: "Show what the next sync would do",
	Long:  "Scan and compare both sides without transferring anything",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	syncStrategy    string
	syncMode        string
	syncConcurrency int
	syncDryRun      bool
)

func init() {
	for _, c := range []*cobra.Command{syncCmd, statusCmd} {
		c.Flags().StringVar(&syncStrategy, "strategy", "", "Conflict strategy for this run")
		c.Flags().StringVar(&syncMode, "mode", "", "Sync mode for this run (push, pull, bidirectional)")
	}
	syncCmd.Flags().IntVar(&syncConcurrency, "concurrency", 0, "Concurrent transfers (default from config)")
	syncCmd.Flags().BoolVar(&syncDryRun, "dry-run", false, "Show the plan without applying it")

	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	if syncDryRun {
		return runStatus(cmd, args)
	}
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	if syncConcurrency < 0 || syncConcurrency > utils.MaxConcurrency {
		return out.WriteError("sync", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"Concurrency must be between 1 and 16").Build())
	}
	runOpts, err := parseRunOptions(syncStrategy, syncMode)
	if err != nil {
		return out.writeAppError("sync", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession()
	if err != nil {
		return out.writeAppError("sync", err)
	}
	defer s.Close()

	pair, err := s.pair(ctx, args[0])
	if err != nil {
		return out.writeAppError("sync", err)
	}
	err = s.connect(ctx, engineOverrides{
		concurrency: syncConcurrency,
		progress:    progressReporter(out),
	})
	if err != nil {
		return out.writeAppError("sync", err)
	}

	result, err := s.engine.Sync(ctx, pair, runOpts)
	if err != nil {
		return out.writeAppError("sync", err)
	}
	return writeSyncResult(out, "sync", result)
}

// writeSyncResult writes result and maps an incomplete run onto its exit
// status.
func writeSyncResult(out *OutputWriter, command string, result *types.SyncResult) error {
	if result.AlreadyRunning {
		out.AddWarning(utils.ErrCodeSyncRunning, "A sync for this pair is already running", "warning")
	}
	if len(result.Conflicts) > 0 {
		out.AddWarning(utils.ErrCodeConflictPending, "Some conflicts need a decision; see 'drivesync conflicts list'", "warning")
	}
	if err := out.WriteSuccess(command, syncResultOutput{result}); err != nil {
		return err
	}
	switch {
	case result.AlreadyRunning:
		return &ExitError{Code: utils.ExitSyncRunning, Reported: true}
	case !result.Success():
		return &ExitError{Code: utils.ExitSyncIncomplete, Reported: true}
	}
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	ctx := context.Background()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	runOpts, err := parseRunOptions(syncStrategy, syncMode)
	if err != nil {
		return out.writeAppError("status", err)
	}

	s, err := openSession()
	if err != nil {
		return out.writeAppError("status", err)
	}
	defer s.Close()

	pair, err := s.pair(ctx, args[0])
	if err != nil {
		return out.writeAppError("status", err)
	}
	if err := s.connect(ctx, engineOverrides{}); err != nil {
		return out.writeAppError("status", err)
	}

	preview, err := s.engine.Plan(ctx, pair, runOpts)
	if err != nil {
		return out.writeAppError("status", err)
	}
	return out.WriteSuccess("status", newPreviewOutput(pair.ID, preview, time.Now().UTC()))
}

func progressReporter(out *OutputWriter) func(string, types.SyncProgress) {
	return func(pairID string, p types.SyncProgress) {
		if p.State.Terminal() {
			out.Verbose("%s: %s, %s transferred", pairID, p.State, formatSize(p.BytesTransferred))
			return
		}
		if p.CurrentPath == "" {
			out.Verbose("%s: %s", pairID, p.State)
			return
		}
		out.Verbose("%s: [%d/%d] %s", pairID, p.Completed, p.Total, p.CurrentPath)
	}
}

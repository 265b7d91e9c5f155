package cli

import (
	"context"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	syncengine "github.com/dl-alexandre/drivesync/internal/sync"
	"github.com/dl-alexandre/drivesync/internal/sync/conflict"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

var conflictsCmd = &cobra.Command{
	Use:   "conflicts",
	Short: "Inspect and resolve sync conflicts",
}

var conflictsListCmd = &cobra.Command{
	Use:   "list <pair-id>",
	Short: "List conflicts that need a decision",
	Args:  cobra.ExactArgs(1),
	RunE:  runConflictsList,
}

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <pair-id> <path>...",
	Short: "Resolve conflicts and sync the pair",
	Long: `Resolve one or more conflicting paths with the given strategy and run
a sync. Paths are relative to the pair root.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runConflictsResolve,
}

var conflictsKeep string

func init() {
	conflictsResolveCmd.Flags().StringVar(&conflictsKeep, "keep", "", "Which version to keep (local, remote, newest, both)")
	_ = conflictsResolveCmd.MarkFlagRequired("keep")

	conflictsCmd.AddCommand(conflictsListCmd)
	conflictsCmd.AddCommand(conflictsResolveCmd)
	rootCmd.AddCommand(conflictsCmd)
}

func runConflictsList(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	ctx := context.Background()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	s, err := openSession()
	if err != nil {
		return out.writeAppError("conflicts.list", err)
	}
	defer s.Close()

	pair, err := s.pair(ctx, args[0])
	if err != nil {
		return out.writeAppError("conflicts.list", err)
	}
	if err := s.connect(ctx, engineOverrides{}); err != nil {
		return out.writeAppError("conflicts.list", err)
	}

	preview, err := s.engine.Plan(ctx, pair, syncengine.RunOptions{})
	if err != nil {
		return out.writeAppError("conflicts.list", err)
	}
	return out.WriteSuccess("conflicts.list", conflictsOutput{
		PairID:    pair.ID,
		Conflicts: conflictInfos(preview.Pending, time.Now().UTC()),
	})
}

func runConflictsResolve(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	strategy, err := conflict.ParseStrategy(conflictsKeep)
	if err != nil || strategy == conflict.AskUser {
		return out.WriteError("conflicts.resolve", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"--keep must be one of local, remote, newest, both").Build())
	}
	overrides := make(map[string]conflict.Strategy, len(args)-1)
	for _, p := range args[1:] {
		rel := strings.TrimPrefix(path.Clean("/"+strings.ReplaceAll(p, "\\", "/")), "/")
		if rel == "" {
			return out.WriteError("conflicts.resolve", utils.NewCLIError(utils.ErrCodeInvalidPath,
				"Path must name an item below the pair root").Build())
		}
		overrides[rel] = strategy
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession()
	if err != nil {
		return out.writeAppError("conflicts.resolve", err)
	}
	defer s.Close()

	pair, err := s.pair(ctx, args[0])
	if err != nil {
		return out.writeAppError("conflicts.resolve", err)
	}
	if err := s.connect(ctx, engineOverrides{progress: progressReporter(out)}); err != nil {
		return out.writeAppError("conflicts.resolve", err)
	}

	result, err := s.engine.Resolve(ctx, pair, overrides)
	if err != nil {
		return out.writeAppError("conflicts.resolve", err)
	}
	return writeSyncResult(out, "conflicts.resolve", result)
}

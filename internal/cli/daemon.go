package cli

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/scheduler"
	"github.com/dl-alexandre/drivesync/internal/sync/exclude"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/spf13/cobra"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon <pair-id>",
	Short: "Keep a pair in sync in the foreground",
	Long: `Run syncs for a pair on a schedule until interrupted.

The schedule is a cron expression or a descriptor such as "@every 15m".
With --watch, local changes also trigger a sync once they have been quiet
for the debounce interval. With --poll-remote, the Drive changes feed is
checked at that interval and a sync runs when something under the pair's
folder moved. SIGHUP requests an immediate sync.`,
	Args: cobra.ExactArgs(1),
	RunE: runDaemon,
}

var (
	daemonSchedule string
	daemonWatch    bool
	daemonNoStart  bool
	daemonPoll     time.Duration
)

func init() {
	daemonCmd.Flags().StringVar(&daemonSchedule, "schedule", "", "Cron schedule (default from config)")
	daemonCmd.Flags().BoolVar(&daemonWatch, "watch", false, "Also sync after local changes")
	daemonCmd.Flags().BoolVar(&daemonNoStart, "no-initial-sync", false, "Wait for the first trigger instead of syncing at start")
	daemonCmd.Flags().DurationVar(&daemonPoll, "poll-remote", 0, "Check Drive for remote changes at this interval (default from config, 0 disables)")
	daemonCmd.Flags().StringVar(&syncStrategy, "strategy", "", "Conflict strategy for every run")
	daemonCmd.Flags().StringVar(&syncMode, "mode", "", "Sync mode for every run (push, pull, bidirectional)")
	rootCmd.AddCommand(daemonCmd)
}

func runDaemon(cmd *cobra.Command, args []string) error {
	flags := GetGlobalFlags()
	out := NewOutputWriter(flags.OutputFormat, flags.Quiet, flags.Verbose)

	runOpts, err := parseRunOptions(syncStrategy, syncMode)
	if err != nil {
		return out.writeAppError("daemon", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := openSession()
	if err != nil {
		return out.writeAppError("daemon", err)
	}
	defer s.Close()

	pair, err := s.pair(ctx, args[0])
	if err != nil {
		return out.writeAppError("daemon", err)
	}
	if err := s.connect(ctx, engineOverrides{progress: progressReporter(out)}); err != nil {
		return out.writeAppError("daemon", err)
	}

	schedule := daemonSchedule
	if schedule == "" {
		schedule = s.cfg.Schedule.Interval
	}
	opts := scheduler.Options{
		Schedule:   schedule,
		RunOnStart: !daemonNoStart,
		Debounce:   s.cfg.Schedule.Debounce,
		Logger:     s.logger,
	}
	if daemonWatch || s.cfg.Schedule.Watch {
		patterns := append(append([]string{}, s.cfg.Sync.Exclude...), pair.Exclude...)
		if extra, err := exclude.LoadIgnoreFile(localfs.NewOS().Fs(), filepath.Join(pair.LocalRoot, utils.IgnoreFileName)); err == nil {
			patterns = append(patterns, extra...)
		}
		opts.WatchRoot = pair.LocalRoot
		opts.Ignore = exclude.New(patterns).IsExcluded
	}
	poll := daemonPoll
	if poll == 0 {
		poll = s.cfg.Schedule.RemotePoll
	}
	if poll < 0 {
		return out.WriteError("daemon", utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"--poll-remote must be non-negative").Build())
	}
	if poll > 0 {
		remotePoll, err := s.remotePoller(ctx, pair)
		if err != nil {
			return out.writeAppError("daemon", err)
		}
		opts.RemotePoll = remotePoll
		opts.PollInterval = poll
	}

	sched, err := scheduler.New(func(ctx context.Context, reason string) error {
		logger := s.logger.WithContext(ctx)
		result, err := s.engine.Sync(ctx, pair, runOpts)
		if err != nil {
			if errors.IsPrecondition(err) {
				logger.Info("Sync skipped", logging.F("pairId", pair.ID), logging.F("reason", err.Error()))
				return nil
			}
			if errors.IsAuthError(err) {
				logger.Error("Credentials rejected; re-import them with 'drivesync auth import'",
					logging.F("pairId", pair.ID))
			}
			return err
		}
		logger.Info("Sync finished",
			logging.F("pairId", pair.ID),
			logging.F("reason", reason),
			logging.F("state", string(result.State)),
			logging.F("uploaded", result.Uploaded),
			logging.F("downloaded", result.Downloaded),
			logging.F("errors", len(result.Errors)),
			logging.F("conflicts", len(result.Conflicts)))
		return nil
	}, opts)
	if err != nil {
		return out.WriteError("daemon", utils.NewCLIError(utils.ErrCodeInvalidConfig, err.Error()).Build())
	}

	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-hup:
				sched.Trigger(scheduler.ReasonManual)
			}
		}
	}()

	out.Log("Watching pair %s (%s <-> %s), schedule %q", pair.ID, pair.LocalRoot, pair.RemoteRootPath, schedule)
	if err := sched.Run(ctx); err != nil {
		return out.WriteError("daemon", utils.NewCLIError(utils.ErrCodeInvalidPath, err.Error()).Build())
	}
	out.Log("Stopped")
	return nil
}

// remotePoller anchors a changes-feed token now and returns a check that
// reports whether anything since the last check touched a tracked item or
// the pair's root folder.
func (s *session) remotePoller(ctx context.Context, pair *index.Pair) (func(context.Context) (bool, error), error) {
	token, err := s.store.StartPageToken(ctx)
	if err != nil {
		return nil, err
	}
	return func(ctx context.Context) (bool, error) {
		set, err := s.store.Changes(ctx, token)
		if err != nil {
			return false, err
		}
		token = set.NextToken
		if len(set.Changes) == 0 {
			return false, nil
		}

		records, err := s.db.ListRecords(ctx, pair.ID)
		if err != nil {
			return false, err
		}
		ids := make(map[string]bool, len(records)+1)
		ids[pair.RemoteRootID] = true
		for _, r := range records {
			if r.RemoteID != "" {
				ids[r.RemoteID] = true
			}
		}
		return set.Touches(ids), nil
	}, nil
}

// Package scheduler decides when a sync runs: on a cron schedule, on demand,
// and optionally after local file changes settle.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/jonboulle/clockwork"
	"github.com/robfig/cron/v3"
)

// Trigger reasons passed to the SyncFunc.
const (
	ReasonStart    = "start"
	ReasonSchedule = "schedule"
	ReasonWatch    = "watch"
	ReasonManual   = "manual"
	ReasonRemote   = "remote"
)

// SyncFunc runs one sync. Errors are logged and do not stop the scheduler.
type SyncFunc func(ctx context.Context, reason string) error

type Options struct {
	// Schedule is a cron spec; descriptors such as "@every 15m" are accepted.
	// Empty disables the periodic trigger.
	Schedule   string
	RunOnStart bool
	// WatchRoot, when set, triggers a sync once changes below it have been
	// quiet for Debounce.
	WatchRoot string
	Debounce  time.Duration
	// WatchSettle is how long after a sync finishes local changes are
	// still attributed to it. Changes seen during a sync are dropped.
	WatchSettle time.Duration
	// Ignore filters watched paths, relative to WatchRoot.
	Ignore func(relPath string, isDir bool) bool
	// RemotePoll, when set, is called every PollInterval and triggers a
	// sync when it reports a change on the remote side.
	RemotePoll   func(ctx context.Context) (bool, error)
	PollInterval time.Duration
	Clock        clockwork.Clock
	Logger       logging.Logger
}

type Scheduler struct {
	run      SyncFunc
	opts     Options
	cron     *cron.Cron
	logger   logging.Logger
	triggers chan string
	entryID  cron.EntryID

	mu         sync.Mutex
	running    bool
	quietUntil time.Time
}

func New(run SyncFunc, opts Options) (*Scheduler, error) {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNoOpLogger()
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 5 * time.Second
	}
	if opts.WatchSettle <= 0 {
		opts.WatchSettle = 500 * time.Millisecond
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Minute
	}
	s := &Scheduler{
		run:      run,
		opts:     opts,
		cron:     cron.New(),
		logger:   opts.Logger,
		triggers: make(chan string, 1),
	}
	if opts.Schedule != "" {
		id, err := s.cron.AddFunc(opts.Schedule, func() { s.Trigger(ReasonSchedule) })
		if err != nil {
			return nil, fmt.Errorf("invalid schedule %q: %w", opts.Schedule, err)
		}
		s.entryID = id
	}
	return s, nil
}

// Trigger requests a sync. Requests made while one is already queued are
// coalesced into it.
func (s *Scheduler) Trigger(reason string) {
	select {
	case s.triggers <- reason:
	default:
		s.logger.Debug("Sync already queued", logging.F("reason", reason))
	}
}

// Next returns the next scheduled run, or the zero time without a schedule.
func (s *Scheduler) Next() time.Time {
	if s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// beginRun marks a sync as active. Until endRun plus WatchSettle, file
// events are the sync's own writes and are not reported.
func (s *Scheduler) beginRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *Scheduler) endRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.quietUntil = s.opts.Clock.Now().Add(s.opts.WatchSettle)
}

// watchOpen reports whether a local change should count toward a watch
// trigger.
func (s *Scheduler) watchOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.running && !s.opts.Clock.Now().Before(s.quietUntil)
}

// Run processes triggers one at a time until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	var d *debouncer
	if s.opts.WatchRoot != "" {
		w, err := newWatcher(s.opts.WatchRoot, s.opts.Ignore, s.logger)
		if err != nil {
			return err
		}
		defer func() {
			if err := w.Close(); err != nil {
				s.logger.Warn("Failed to close file watcher", logging.F("error", err.Error()))
			}
		}()
		d = newDebouncer(s.opts.Clock, s.opts.Debounce, func() { s.Trigger(ReasonWatch) })
		defer d.stop()
		go func() {
			for range w.changes {
				if s.watchOpen() {
					d.touch()
				} else {
					s.logger.Debug("Ignoring local change made during sync")
				}
			}
		}()
	}

	if s.opts.RemotePoll != nil {
		pollCtx, stopPoll := context.WithCancel(ctx)
		defer stopPoll()
		go s.pollRemote(pollCtx)
	}

	s.cron.Start()
	defer func() { <-s.cron.Stop().Done() }()
	s.logger.Info("Scheduler started",
		logging.F("schedule", s.opts.Schedule),
		logging.F("watch", s.opts.WatchRoot != ""),
		logging.F("remotePoll", s.opts.RemotePoll != nil),
	)

	if s.opts.RunOnStart {
		s.Trigger(ReasonStart)
	}

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped")
			return nil
		case reason := <-s.triggers:
			s.logger.Debug("Triggering sync", logging.F("reason", reason))
			s.beginRun()
			if d != nil {
				// The run picks up whatever a pending watch trigger was waiting for.
				d.stop()
			}
			err := s.run(ctx, reason)
			s.endRun()
			if err != nil && ctx.Err() == nil {
				s.logger.Error("Scheduled sync failed",
					logging.F("reason", reason),
					logging.F("error", err.Error()),
				)
			}
		}
	}
}

func (s *Scheduler) pollRemote(ctx context.Context) {
	ticker := s.opts.Clock.NewTicker(s.opts.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			changed, err := s.opts.RemotePoll(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("Remote change poll failed", logging.F("error", err.Error()))
				}
				continue
			}
			if changed {
				s.Trigger(ReasonRemote)
			}
		}
	}
}

// debouncer calls fire once touch has not been called for delay.
type debouncer struct {
	mu     sync.Mutex
	clock  clockwork.Clock
	delay  time.Duration
	fire   func()
	timer  clockwork.Timer
	cancel chan struct{}
}

func newDebouncer(clock clockwork.Clock, delay time.Duration, fire func()) *debouncer {
	return &debouncer{clock: clock, delay: delay, fire: fire}
}

func (d *debouncer) touch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()

	timer := d.clock.NewTimer(d.delay)
	cancel := make(chan struct{})
	d.timer, d.cancel = timer, cancel
	go func() {
		select {
		case <-timer.Chan():
			d.mu.Lock()
			current := d.timer == timer
			if current {
				d.timer, d.cancel = nil, nil
			}
			d.mu.Unlock()
			if current {
				d.fire()
			}
		case <-cancel:
		}
	}()
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopLocked()
}

func (d *debouncer) stopLocked() {
	if d.timer == nil {
		return
	}
	d.timer.Stop()
	close(d.cancel)
	d.timer, d.cancel = nil, nil
}

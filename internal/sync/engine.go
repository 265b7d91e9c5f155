// Package sync orchestrates one two-way sync run per pair: preconditions,
// scanning both trees, planning, conflict resolution and execution.
package sync

import (
	"context"
	"strings"
	gosync "sync"
	"sync/atomic"
	"time"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/netstate"
	"github.com/dl-alexandre/drivesync/internal/remote"
	"github.com/dl-alexandre/drivesync/internal/sync/conflict"
	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/sync/exclude"
	"github.com/dl-alexandre/drivesync/internal/sync/executor"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/sync/scanner"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// RemoteStore is the Drive surface a run needs.
type RemoteStore interface {
	executor.RemoteStore
	ListTree(ctx context.Context, rootID string, skip remote.SkipFunc) ([]types.RemoteEntry, error)
}

// Authenticator reports whether usable credentials are stored.
type Authenticator interface {
	IsAuthenticated() bool
}

// NetworkMonitor reports connectivity before a run.
type NetworkMonitor interface {
	Status(ctx context.Context) (netstate.Status, error)
}

const (
	NetworkPolicyAny       = "any"
	NetworkPolicyUnmetered = "unmetered"
)

type Options struct {
	Strategy          conflict.Strategy
	Mode              diff.Mode
	NetworkPolicy     string
	Concurrency       int
	Tolerance         time.Duration
	DeletePermanently bool
	// Exclude patterns apply to every pair on top of the pair's own.
	Exclude []string
	// Progress, when set, receives state changes and per-item progress.
	Progress func(pairID string, p types.SyncProgress)
}

// Deps are the collaborators an Engine drives.
type Deps struct {
	DB      *index.DB
	Remote  RemoteStore
	FS      localfs.Provider
	Auth    Authenticator
	Network NetworkMonitor
	Clock   clockwork.Clock
	Logger  logging.Logger
}

// RunOptions override the pair settings for one run.
type RunOptions struct {
	Strategy conflict.Strategy
	Mode     diff.Mode
	// Overrides pick a strategy for individual conflicting paths.
	Overrides map[string]conflict.Strategy
}

// Preview is a computed plan with conflicts split into the ones the chosen
// strategies settle and the ones left for a decision.
type Preview struct {
	Plan     *diff.Plan
	Resolved []executor.Resolved
	Pending  []diff.Conflict

	remoteFolders map[string]string
}

type Engine struct {
	db      *index.DB
	remote  RemoteStore
	fs      localfs.Provider
	auth    Authenticator
	network NetworkMonitor
	clock   clockwork.Clock
	logger  logging.Logger
	opts    Options
	exec    *executor.Executor

	mu      gosync.Mutex
	running map[string]*activeRun
	states  map[string]types.SyncState
}

type activeRun struct {
	cancelled atomic.Bool
}

func NewEngine(deps Deps, opts Options) *Engine {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNoOpLogger()
	}
	if deps.FS == nil {
		deps.FS = localfs.NewOS()
	}
	if opts.Strategy == "" {
		opts.Strategy = conflict.KeepNewest
	}
	if opts.Mode == "" {
		opts.Mode = diff.ModeBidirectional
	}
	if opts.NetworkPolicy == "" {
		opts.NetworkPolicy = NetworkPolicyAny
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = time.Duration(utils.DefaultTimeToleranceMs) * time.Millisecond
	}
	return &Engine{
		db:      deps.DB,
		remote:  deps.Remote,
		fs:      deps.FS,
		auth:    deps.Auth,
		network: deps.Network,
		clock:   deps.Clock,
		logger:  deps.Logger,
		opts:    opts,
		exec: executor.New(deps.Remote, deps.FS, deps.DB, deps.Clock, deps.Logger, executor.Options{
			Concurrency:       opts.Concurrency,
			DeletePermanently: opts.DeletePermanently,
		}),
		running: make(map[string]*activeRun),
		states:  make(map[string]types.SyncState),
	}
}

// State returns the live state of a pair; idle when nothing is running.
func (e *Engine) State(pairID string) types.SyncState {
	e.mu.Lock()
	defer e.mu.Unlock()
	if state, ok := e.states[pairID]; ok {
		return state
	}
	return types.SyncStateIdle
}

// Cancel asks the run for pairID to stop before its next item. It reports
// whether a run was active.
func (e *Engine) Cancel(pairID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	run, ok := e.running[pairID]
	if ok {
		run.cancelled.Store(true)
	}
	return ok
}

// Plan computes what a run would do without changing either tree or the
// tracking store.
func (e *Engine) Plan(ctx context.Context, pair *index.Pair, opts RunOptions) (*Preview, error) {
	if err := e.checkPreconditions(ctx); err != nil {
		return nil, err
	}
	return e.prepare(ctx, pair, opts, e.logger.WithContext(ctx), func(types.SyncState) {})
}

// Resolve runs a sync in which the given paths use the given strategies.
func (e *Engine) Resolve(ctx context.Context, pair *index.Pair, overrides map[string]conflict.Strategy) (*types.SyncResult, error) {
	return e.Sync(ctx, pair, RunOptions{Overrides: overrides})
}

// Sync runs one full cycle for pair. A second call while a run for the same
// pair is active returns at once with AlreadyRunning set. Precondition and
// authentication failures abort the run and are returned; per-item failures
// are reported in the result.
func (e *Engine) Sync(ctx context.Context, pair *index.Pair, opts RunOptions) (*types.SyncResult, error) {
	result := &types.SyncResult{
		PairID:    pair.ID,
		StartedAt: e.clock.Now().UTC(),
		Errors:    []types.ItemError{},
		Conflicts: []types.ConflictInfo{},
	}

	if err := e.checkPreconditions(ctx); err != nil {
		result.State = types.SyncStateError
		return result, err
	}

	active, ok := e.acquire(pair.ID)
	if !ok {
		result.State = e.State(pair.ID)
		result.AlreadyRunning = true
		return result, nil
	}
	defer e.release(pair.ID)

	ctx = logging.ContextWithTraceID(ctx, uuid.New().String())
	logger := e.logger.WithContext(ctx)
	logger.Info("Sync started",
		logging.F("pair", pair.ID),
		logging.F("localRoot", pair.LocalRoot),
		logging.F("remoteRoot", pair.RemoteRootID),
	)

	err := e.run(ctx, pair, opts, active, result, logger)
	result.Duration = e.clock.Since(result.StartedAt)

	switch {
	case err == nil && active.cancelled.Load() && result.State != types.SyncStateCompleted:
		result.State = types.SyncStateCancelled
	case err != nil && ctx.Err() != nil:
		result.State = types.SyncStateCancelled
	case err != nil:
		result.State = types.SyncStateError
	}
	e.setState(pair.ID, result.State)
	if result.State != types.SyncStateCompleted {
		e.emit(pair.ID, types.SyncProgress{State: result.State, BytesTransferred: result.BytesTransferred})
	}
	e.finishPair(ctx, pair, result, logger)

	fields := []logging.Field{
		logging.F("pair", pair.ID),
		logging.F("state", string(result.State)),
		logging.F("uploaded", result.Uploaded),
		logging.F("downloaded", result.Downloaded),
		logging.F("deletedLocal", result.DeletedLocal),
		logging.F("deletedRemote", result.DeletedRemote),
		logging.F("errors", len(result.Errors)),
		logging.F("conflicts", len(result.Conflicts)),
		logging.F("duration_ms", result.Duration.Milliseconds()),
	}
	if err != nil {
		logger.Error("Sync failed", append(fields, logging.F("error", err.Error()))...)
		return result, err
	}
	logger.Info("Sync finished", fields...)
	return result, nil
}

func (e *Engine) run(ctx context.Context, pair *index.Pair, opts RunOptions, active *activeRun, result *types.SyncResult, logger logging.Logger) error {
	setState := func(state types.SyncState) {
		e.setState(pair.ID, state)
		e.emit(pair.ID, types.SyncProgress{State: state})
	}

	preview, err := e.prepare(ctx, pair, opts, logger, setState)
	if err != nil {
		return err
	}
	if active.cancelled.Load() {
		return nil
	}

	plan := preview.Plan
	now := e.clock.Now().UTC()
	for _, c := range preview.Pending {
		result.Conflicts = append(result.Conflicts, types.ConflictInfo{
			RelativePath: c.Path,
			Kind:         string(c.Kind),
			Local:        c.Local,
			Remote:       c.Remote,
			DetectedAt:   now,
		})
	}
	result.Skipped = len(plan.Skipped)
	for _, skip := range plan.Skipped {
		logger.Debug("Skipping path", logging.F("path", skip.Path), logging.F("reason", skip.Reason))
	}

	if plan.Empty() {
		logger.Debug("Nothing to transfer", logging.F("pair", pair.ID))
	} else {
		logger.Info("Plan computed",
			logging.F("mkdirRemote", len(plan.MkdirRemote)),
			logging.F("mkdirLocal", len(plan.MkdirLocal)),
			logging.F("uploads", len(plan.Uploads)),
			logging.F("downloads", len(plan.Downloads)),
			logging.F("deleteLocal", len(plan.DeleteLocal)),
			logging.F("deleteRemote", len(plan.DeleteRemote)),
			logging.F("conflicts", len(plan.Conflicts)),
		)
		setState(types.SyncStateSyncing)
	}

	err = e.exec.Execute(ctx, &executor.Job{
		PairID:        pair.ID,
		LocalRoot:     pair.LocalRoot,
		RemoteRootID:  pair.RemoteRootID,
		RemoteFolders: preview.remoteFolders,
		Plan:          plan,
		Resolved:      preview.Resolved,
		Cancelled:     active.cancelled.Load,
		Progress:      func(p types.SyncProgress) { e.emit(pair.ID, p) },
	}, result)
	if err != nil {
		if active.cancelled.Load() && ctx.Err() == nil && !errors.IsAuthError(err) {
			return nil
		}
		return err
	}

	for _, relPath := range plan.Stale {
		if err := e.db.DeleteRecord(ctx, pair.ID, relPath); err != nil {
			logger.Warn("Failed to drop stale record", logging.F("path", relPath), logging.F("error", err.Error()))
		}
	}

	result.State = types.SyncStateCompleted
	e.emit(pair.ID, types.SyncProgress{State: types.SyncStateCompleted, BytesTransferred: result.BytesTransferred})
	return nil
}

// prepare scans both trees and builds the plan for pair.
func (e *Engine) prepare(ctx context.Context, pair *index.Pair, opts RunOptions, logger logging.Logger, setState func(types.SyncState)) (*Preview, error) {
	records, err := e.db.ListRecords(ctx, pair.ID)
	if err != nil {
		return nil, err
	}
	prev := make(map[string]index.Record, len(records))
	for _, r := range records {
		prev[r.RelativePath] = r
	}

	matcher, err := e.matcher(pair)
	if err != nil {
		return nil, err
	}

	setState(types.SyncStateScanning)
	local, err := scanner.ScanLocal(ctx, e.fs, pair.LocalRoot, matcher, prev, logger)
	if err != nil {
		return nil, err
	}
	remoteEntries, err := e.remote.ListTree(ctx, pair.RemoteRootID, matcher.IsExcluded)
	if err != nil {
		return nil, err
	}
	logger.Debug("Scanned trees",
		logging.F("local", len(local)),
		logging.F("remote", len(remoteEntries)),
		logging.F("tracked", len(records)),
	)

	setState(types.SyncStateComparing)
	mode := e.mode(pair, opts)
	plan := diff.Compute(diff.Snapshot{
		Local:   local,
		Remote:  remoteEntries,
		Tracked: records,
	}, diff.Options{Tolerance: e.opts.Tolerance, Mode: mode})

	preview := &Preview{
		Plan:          plan,
		remoteFolders: make(map[string]string),
	}
	for _, entry := range remoteEntries {
		if entry.IsDir {
			preview.remoteFolders[strings.ToLower(entry.RelativePath)] = entry.ID
		}
	}
	e.resolveConflicts(preview, e.strategy(pair, opts), mode, opts.Overrides)
	return preview, nil
}

func (e *Engine) resolveConflicts(preview *Preview, strategy conflict.Strategy, mode diff.Mode, overrides map[string]conflict.Strategy) {
	byPath := make(map[string]conflict.Strategy, len(overrides))
	for p, s := range overrides {
		byPath[strings.ToLower(p)] = s
	}

	now := e.clock.Now()
	for _, c := range preview.Plan.Conflicts {
		s := strategy
		if override, ok := byPath[strings.ToLower(c.Path)]; ok {
			s = override
		}
		res := conflict.Resolve(c, s, now)
		if res.Pending || !allowedInMode(res, mode) {
			preview.Pending = append(preview.Pending, c)
			continue
		}
		preview.Resolved = append(preview.Resolved, executor.Resolved{Conflict: c, Resolution: res})
	}
}

// allowedInMode rejects resolutions that would write to the side a one-way
// mode must leave alone.
func allowedInMode(res conflict.Resolution, mode diff.Mode) bool {
	for _, a := range res.Actions {
		if mode == diff.ModePush && a.Type == diff.ActionDownload {
			return false
		}
		if mode == diff.ModePull && a.Type == diff.ActionUpload {
			return false
		}
	}
	return true
}

func (e *Engine) strategy(pair *index.Pair, opts RunOptions) conflict.Strategy {
	if opts.Strategy != "" {
		return opts.Strategy
	}
	mode := e.mode(pair, opts)
	switch mode {
	case diff.ModePush:
		return conflict.KeepLocal
	case diff.ModePull:
		return conflict.KeepRemote
	}
	if pair.Strategy != "" {
		if s, err := conflict.ParseStrategy(pair.Strategy); err == nil {
			return s
		}
		e.logger.Warn("Ignoring invalid pair strategy", logging.F("pair", pair.ID), logging.F("strategy", pair.Strategy))
	}
	return e.opts.Strategy
}

func (e *Engine) mode(pair *index.Pair, opts RunOptions) diff.Mode {
	if opts.Mode != "" {
		return opts.Mode
	}
	switch diff.Mode(strings.ToLower(pair.Mode)) {
	case diff.ModePush:
		return diff.ModePush
	case diff.ModePull:
		return diff.ModePull
	case diff.ModeBidirectional:
		return diff.ModeBidirectional
	}
	return e.opts.Mode
}

func (e *Engine) matcher(pair *index.Pair) (*exclude.Matcher, error) {
	patterns := append([]string{}, e.opts.Exclude...)
	patterns = append(patterns, pair.Exclude...)
	fromFile, err := exclude.LoadIgnoreFile(e.fs.Fs(), localfs.Abs(pair.LocalRoot, utils.IgnoreFileName))
	if err != nil {
		return nil, err
	}
	return exclude.New(append(patterns, fromFile...)), nil
}

func (e *Engine) checkPreconditions(ctx context.Context) error {
	if e.auth != nil && !e.auth.IsAuthenticated() {
		return &errors.PreconditionError{
			Reason:  errors.ReasonNotAuthenticated,
			Message: "no usable credentials are stored",
		}
	}
	if e.network == nil {
		return nil
	}
	status, err := e.network.Status(ctx)
	if err != nil {
		return err
	}
	if !status.Online {
		return &errors.PreconditionError{
			Reason:  errors.ReasonOffline,
			Message: "the Drive API is not reachable",
		}
	}
	if e.opts.NetworkPolicy == NetworkPolicyUnmetered && status.Metered {
		return &errors.PreconditionError{
			Reason:  errors.ReasonNetworkPolicy,
			Message: "sync is limited to unmetered networks and " + status.Interface + " is metered",
		}
	}
	return nil
}

func (e *Engine) acquire(pairID string) (*activeRun, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.running[pairID]; busy {
		return nil, false
	}
	run := &activeRun{}
	e.running[pairID] = run
	e.states[pairID] = types.SyncStateIdle
	return run, true
}

func (e *Engine) release(pairID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.running, pairID)
	delete(e.states, pairID)
}

func (e *Engine) setState(pairID string, state types.SyncState) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.running[pairID]; ok {
		e.states[pairID] = state
	}
}

func (e *Engine) emit(pairID string, p types.SyncProgress) {
	if e.opts.Progress != nil {
		e.opts.Progress(pairID, p)
	}
}

// finishPair stores the outcome of the run on the pair.
func (e *Engine) finishPair(ctx context.Context, pair *index.Pair, result *types.SyncResult, logger logging.Logger) {
	pair.LastRunAt = result.StartedAt
	pair.LastState = string(result.State)
	if err := e.db.UpsertPair(context.WithoutCancel(ctx), *pair); err != nil {
		logger.Warn("Failed to record run on pair", logging.F("pair", pair.ID), logging.F("error", err.Error()))
	}
}

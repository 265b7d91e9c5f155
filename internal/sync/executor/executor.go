package executor

import (
	"context"
	stderrors "errors"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/remote"
	"github.com/dl-alexandre/drivesync/internal/sync/conflict"
	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/jonboulle/clockwork"
)

const actionKeepFolder = "keep_folder"

// errFolderKept marks a folder delete that was turned into a keep.
var errFolderKept = stderrors.New("folder kept")

// RemoteStore is the part of the Drive store the executor writes through.
type RemoteStore interface {
	CreateFolder(ctx context.Context, parentID, name, relPath string) (*types.RemoteEntry, error)
	Upload(ctx context.Context, req remote.UploadRequest) (*types.RemoteEntry, error)
	OpenDownload(ctx context.Context, fileID string, offset int64) (*remote.Download, error)
	Export(ctx context.Context, fileID, nativeMimeType string) (io.ReadCloser, error)
	Delete(ctx context.Context, fileID string, permanent bool) error
	HasChildren(ctx context.Context, folderID string) (bool, error)
}

type Options struct {
	// Concurrency bounds the transfers running at once within a section.
	Concurrency       int
	DeletePermanently bool
}

// Resolved pairs a conflict with the resolution chosen for it.
type Resolved struct {
	Conflict   diff.Conflict
	Resolution conflict.Resolution
}

// Job is one plan execution against one pair.
type Job struct {
	PairID       string
	LocalRoot    string
	RemoteRootID string
	// RemoteFolders maps lowercased relative folder paths to Drive IDs. It is
	// extended as folders are created.
	RemoteFolders map[string]string
	Plan          *diff.Plan
	Resolved      []Resolved
	Cancelled     func() bool
	Progress      func(types.SyncProgress)
}

type Executor struct {
	remote RemoteStore
	fs     localfs.Provider
	db     *index.DB
	clock  clockwork.Clock
	logger logging.Logger
	opts   Options
}

func New(store RemoteStore, fs localfs.Provider, db *index.DB, clock clockwork.Clock, logger logging.Logger, opts Options) *Executor {
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	return &Executor{
		remote: store,
		fs:     fs,
		db:     db,
		clock:  clock,
		logger: logger,
		opts:   opts,
	}
}

// run carries the mutable state of one Execute call.
type run struct {
	e      *Executor
	job    *Job
	result *types.SyncResult
	logger logging.Logger
	total  int

	mu        sync.Mutex
	storeMu   sync.Mutex
	completed int
	fatal     error
}

// Execute runs the plan sections in order: remote then local folder
// creates, uploads, downloads, local deletes, remote deletes, resolved
// conflicts and finally the refresh of unchanged records. Item failures are
// recorded in result and do not stop the run; an AuthError or a cancelled
// context stops it and is returned.
func (e *Executor) Execute(ctx context.Context, job *Job, result *types.SyncResult) error {
	if job.RemoteFolders == nil {
		job.RemoteFolders = make(map[string]string)
	}
	job.RemoteFolders[""] = job.RemoteRootID

	r := &run{
		e:      e,
		job:    job,
		result: result,
		logger: e.logger.WithContext(ctx),
		total:  job.Plan.Total() - len(job.Plan.Conflicts) + len(job.Resolved),
	}
	plan := job.Plan

	sections := []struct {
		name     string
		actions  []diff.Action
		parallel bool
		fn       func(context.Context, diff.Action) (int64, error)
	}{
		{"mkdir_remote", plan.MkdirRemote, false, r.mkdirRemote},
		{"mkdir_local", plan.MkdirLocal, false, r.mkdirLocal},
		{"upload", plan.Uploads, true, r.upload},
		{"download", plan.Downloads, true, r.download},
		{"delete_local", plan.DeleteLocal, false, r.deleteLocal},
		{"delete_remote", plan.DeleteRemote, false, r.deleteRemote},
	}
	for _, section := range sections {
		if len(section.actions) == 0 {
			continue
		}
		r.logger.Debug("Executing plan section",
			logging.F("section", section.name),
			logging.F("items", len(section.actions)),
		)
		workers := 1
		if section.parallel {
			workers = e.opts.Concurrency
		}
		r.runSection(ctx, section.actions, workers, section.fn)
		if err := r.stopped(ctx); err != nil {
			return err
		}
	}

	for _, resolved := range job.Resolved {
		if r.halted(ctx) {
			break
		}
		r.resolveConflict(ctx, resolved)
	}
	if err := r.stopped(ctx); err != nil {
		return err
	}

	r.refreshUnchanged(ctx, plan.Unchanged)
	return r.stopped(ctx)
}

func (r *run) runSection(ctx context.Context, actions []diff.Action, workers int, fn func(context.Context, diff.Action) (int64, error)) {
	if workers <= 1 {
		for _, a := range actions {
			if r.halted(ctx) {
				return
			}
			r.item(ctx, a, fn)
		}
		return
	}

	jobs := make(chan diff.Action)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for a := range jobs {
				r.item(ctx, a, fn)
			}
		}()
	}
	for _, a := range actions {
		if r.halted(ctx) {
			break
		}
		jobs <- a
	}
	close(jobs)
	wg.Wait()
}

// item runs one action and records its outcome.
func (r *run) item(ctx context.Context, a diff.Action, fn func(context.Context, diff.Action) (int64, error)) {
	start := r.e.clock.Now()
	n, err := fn(ctx, a)
	action := string(a.Type)
	kept := stderrors.Is(err, errFolderKept)
	if kept {
		action, err = actionKeepFolder, nil
	}
	r.finish(ctx, action, a.Path, start, n, err)
	if err == nil && !kept {
		r.count(a.Type)
	}
}

func (r *run) finish(ctx context.Context, action, relPath string, start time.Time, n int64, err error) {
	duration := r.e.clock.Since(start)

	entry := index.LogEntry{
		PairID:           r.job.PairID,
		Timestamp:        r.e.clock.Now().UTC(),
		Action:           action,
		Path:             relPath,
		Success:          err == nil,
		BytesTransferred: n,
		Duration:         duration,
	}
	if err != nil {
		entry.Error = err.Error()
	}
	r.storeMu.Lock()
	if logErr := r.e.db.AppendLog(context.WithoutCancel(ctx), entry); logErr != nil {
		r.logger.Warn("Failed to append sync log", logging.F("path", relPath), logging.F("error", logErr.Error()))
	}
	r.storeMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	r.result.BytesTransferred += n
	if err != nil {
		if errors.IsAuthError(err) && r.fatal == nil {
			r.fatal = err
		}
		r.result.Errors = append(r.result.Errors, types.ItemError{
			Action:       action,
			RelativePath: relPath,
			Code:         errors.CodeOf(err),
			Message:      err.Error(),
		})
		r.logger.Warn("Sync item failed",
			logging.F("action", action),
			logging.F("path", relPath),
			logging.F("error", err.Error()),
		)
	} else {
		r.logger.Debug("Sync item done",
			logging.F("action", action),
			logging.F("path", relPath),
			logging.F("bytes", n),
			logging.F("duration_ms", duration.Milliseconds()),
		)
	}
	if r.job.Progress != nil {
		r.job.Progress(types.SyncProgress{
			State:            types.SyncStateSyncing,
			Total:            r.total,
			Completed:        r.completed,
			CurrentPath:      relPath,
			BytesTransferred: r.result.BytesTransferred,
		})
	}
}

func (r *run) count(t diff.ActionType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch t {
	case diff.ActionUpload:
		r.result.Uploaded++
	case diff.ActionDownload:
		r.result.Downloaded++
	case diff.ActionDeleteLocal:
		r.result.DeletedLocal++
	case diff.ActionDeleteRemote:
		r.result.DeletedRemote++
	case diff.ActionMkdirLocal, diff.ActionMkdirRemote:
		r.result.FoldersCreated++
	}
}

// halted reports whether no further item may start.
func (r *run) halted(ctx context.Context) bool {
	return r.stopped(ctx) != nil
}

func (r *run) stopped(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	fatal := r.fatal
	r.mu.Unlock()
	if fatal != nil {
		return fatal
	}
	if r.job.Cancelled != nil && r.job.Cancelled() {
		return context.Canceled
	}
	return nil
}

func (r *run) mkdirRemote(ctx context.Context, a diff.Action) (int64, error) {
	parentID, err := r.remoteParent(a.Path)
	if err != nil {
		return 0, err
	}
	entry, err := r.e.remote.CreateFolder(ctx, parentID, path.Base(a.Path), a.Path)
	if err != nil {
		return 0, &errors.TransferError{Op: "mkdir_remote", Path: a.Path, Err: err}
	}
	r.setRemoteFolder(a.Path, entry.ID)
	return 0, r.putRecord(ctx, a.Tracked, index.Record{
		RelativePath: a.Path,
		RemoteID:     entry.ID,
		IsDir:        true,
		LocalMTime:   modTime(a.Local),
		RemoteMTime:  entry.ModifiedTime,
		Status:       index.StatusSynced,
		LastSyncTime: r.e.clock.Now().UTC(),
	})
}

func (r *run) mkdirLocal(ctx context.Context, a diff.Action) (int64, error) {
	if _, err := r.e.fs.EnsurePath(r.job.LocalRoot, a.Path); err != nil {
		return 0, &errors.TransferError{Op: "mkdir_local", Path: a.Path, Err: err}
	}
	if a.Remote != nil {
		r.setRemoteFolder(a.Path, a.Remote.ID)
	}
	record := index.Record{
		RelativePath: a.Path,
		RemoteID:     a.RemoteID,
		IsDir:        true,
		Status:       index.StatusSynced,
		LastSyncTime: r.e.clock.Now().UTC(),
	}
	if a.Remote != nil {
		record.RemoteMTime = a.Remote.ModifiedTime
	}
	return 0, r.putRecord(ctx, a.Tracked, record)
}

// deleteLocal removes a file, or a folder once it is empty. Deletes run
// deepest first, so every tracked child is already gone when its folder
// comes up; anything still inside was never synced and the folder is kept.
func (r *run) deleteLocal(ctx context.Context, a diff.Action) (int64, error) {
	_, err := r.e.fs.Delete(localfs.Abs(r.job.LocalRoot, a.Path))
	if stderrors.Is(err, localfs.ErrNotEmpty) {
		return 0, r.keepLocalFolder(ctx, a)
	}
	if err != nil {
		return 0, &errors.TransferError{Op: "delete_local", Path: a.Path, Err: err}
	}
	return 0, r.dropRecord(ctx, a)
}

func (r *run) deleteRemote(ctx context.Context, a diff.Action) (int64, error) {
	if a.Remote != nil && a.Remote.IsDir {
		busy, err := r.e.remote.HasChildren(ctx, a.RemoteID)
		if err != nil {
			if errors.IsAuthError(err) {
				return 0, err
			}
			return 0, &errors.TransferError{Op: "delete_remote", Path: a.Path, Err: err}
		}
		if busy {
			return 0, r.keepRemoteFolder(ctx, a)
		}
	}
	if err := r.e.remote.Delete(ctx, a.RemoteID, r.e.opts.DeletePermanently); err != nil {
		if errors.IsAuthError(err) {
			return 0, err
		}
		return 0, &errors.TransferError{Op: "delete_remote", Path: a.Path, Err: err}
	}
	return 0, r.dropRecord(ctx, a)
}

// keepLocalFolder recreates on Drive a local folder that could not be
// deleted because it holds untracked content.
func (r *run) keepLocalFolder(ctx context.Context, a diff.Action) error {
	id, err := r.ensureRemoteFolder(ctx, a.Path)
	if err != nil {
		return &errors.TransferError{Op: "keep_folder", Path: a.Path, Err: err}
	}
	r.logger.Info("Kept local folder with untracked content",
		logging.F("path", a.Path),
		logging.F("remoteId", id),
	)
	if err := r.putRecord(ctx, a.Tracked, index.Record{
		RelativePath: a.Path,
		RemoteID:     id,
		IsDir:        true,
		LocalMTime:   modTime(a.Local),
		Status:       index.StatusSynced,
		LastSyncTime: r.e.clock.Now().UTC(),
	}); err != nil {
		return err
	}
	return errFolderKept
}

// keepRemoteFolder recreates locally a Drive folder that could not be
// trashed because it holds items the listing left out.
func (r *run) keepRemoteFolder(ctx context.Context, a diff.Action) error {
	if _, err := r.e.fs.EnsurePath(r.job.LocalRoot, a.Path); err != nil {
		return &errors.TransferError{Op: "keep_folder", Path: a.Path, Err: err}
	}
	r.logger.Info("Kept remote folder with untracked content",
		logging.F("path", a.Path),
		logging.F("remoteId", a.RemoteID),
	)
	if err := r.putRecord(ctx, a.Tracked, index.Record{
		RelativePath: a.Path,
		RemoteID:     a.RemoteID,
		IsDir:        true,
		RemoteMTime:  a.Remote.ModifiedTime,
		Status:       index.StatusSynced,
		LastSyncTime: r.e.clock.Now().UTC(),
	}); err != nil {
		return err
	}
	return errFolderKept
}

// ensureRemoteFolder returns the Drive ID of relPath, creating it and any
// missing ancestors.
func (r *run) ensureRemoteFolder(ctx context.Context, relPath string) (string, error) {
	if relPath == "." {
		relPath = ""
	}
	r.mu.Lock()
	id, ok := r.job.RemoteFolders[strings.ToLower(relPath)]
	r.mu.Unlock()
	if ok {
		return id, nil
	}
	parentID, err := r.ensureRemoteFolder(ctx, path.Dir(relPath))
	if err != nil {
		return "", err
	}
	entry, err := r.e.remote.CreateFolder(ctx, parentID, path.Base(relPath), relPath)
	if err != nil {
		return "", err
	}
	r.setRemoteFolder(relPath, entry.ID)
	r.mu.Lock()
	r.result.FoldersCreated++
	r.mu.Unlock()
	return entry.ID, nil
}

func (r *run) resolveConflict(ctx context.Context, resolved Resolved) {
	c := resolved.Conflict
	res := resolved.Resolution

	if res.RenameLocalTo != "" {
		start := r.e.clock.Now()
		from := localfs.Abs(r.job.LocalRoot, c.Path)
		to := localfs.Abs(r.job.LocalRoot, res.RenameLocalTo)
		if err := r.e.fs.Rename(from, to); err != nil {
			r.finish(ctx, "conflict_"+string(res.Strategy), c.Path, start,
				0, &errors.TransferError{Op: "rename", Path: c.Path, Err: err})
			return
		}
		r.logger.Info("Kept both copies of conflicting file",
			logging.F("path", c.Path),
			logging.F("localCopy", res.RenameLocalTo),
		)
	}

	for _, a := range res.Actions {
		if r.halted(ctx) {
			return
		}
		switch a.Type {
		case diff.ActionUpload:
			r.item(ctx, a, r.upload)
		case diff.ActionDownload:
			r.item(ctx, a, r.download)
		}
	}
}

// refreshUnchanged rewrites the tracked record of every unchanged item with
// its current state on both sides.
func (r *run) refreshUnchanged(ctx context.Context, actions []diff.Action) {
	now := r.e.clock.Now().UTC()
	for _, a := range actions {
		if ctx.Err() != nil {
			return
		}
		record := index.Record{
			RelativePath: a.Path,
			RemoteID:     a.RemoteID,
			Status:       index.StatusSynced,
			LastSyncTime: now,
		}
		if a.Local != nil {
			record.IsDir = a.Local.IsDir
			record.Size = a.Local.Size
			record.LocalMTime = a.Local.ModifiedTime
			record.LocalHash = a.Local.ContentHash
		}
		if a.Remote != nil {
			record.RemoteMTime = a.Remote.ModifiedTime
			record.RemoteHash = a.Remote.ContentHash
		}
		if a.Tracked != nil && a.Tracked.Status == index.StatusSynced && sameRecord(*a.Tracked, record) {
			continue
		}
		if err := r.putRecord(ctx, a.Tracked, record); err != nil {
			r.logger.Warn("Failed to refresh tracked record", logging.F("path", a.Path), logging.F("error", err.Error()))
		}
	}
	r.mu.Lock()
	r.result.Unchanged += len(actions)
	r.mu.Unlock()
}

func sameRecord(a, b index.Record) bool {
	return a.RelativePath == b.RelativePath &&
		a.RemoteID == b.RemoteID &&
		a.IsDir == b.IsDir &&
		a.Size == b.Size &&
		a.LocalMTime.Equal(b.LocalMTime) &&
		a.RemoteMTime.Equal(b.RemoteMTime) &&
		strings.EqualFold(a.LocalHash, b.LocalHash) &&
		strings.EqualFold(a.RemoteHash, b.RemoteHash)
}

func (r *run) remoteParent(relPath string) (string, error) {
	dir := path.Dir(relPath)
	if dir == "." {
		dir = ""
	}
	r.mu.Lock()
	id, ok := r.job.RemoteFolders[strings.ToLower(dir)]
	r.mu.Unlock()
	if !ok {
		return "", &errors.TransferError{Op: "resolve_parent", Path: relPath,
			Err: utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound, "remote parent folder is not known").
				WithContext("folder", dir).Build())}
	}
	return id, nil
}

func (r *run) setRemoteFolder(relPath, id string) {
	r.mu.Lock()
	r.job.RemoteFolders[strings.ToLower(relPath)] = id
	r.mu.Unlock()
}

func modTime(e *types.LocalEntry) time.Time {
	if e == nil {
		return time.Time{}
	}
	return e.ModifiedTime
}

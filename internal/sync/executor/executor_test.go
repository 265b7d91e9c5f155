package executor

import (
	"bytes"
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"path"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/remote"
	"github.com/dl-alexandre/drivesync/internal/sync/checksum"
	"github.com/dl-alexandre/drivesync/internal/sync/conflict"
	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/jonboulle/clockwork"
	"github.com/spf13/afero"
)

const (
	testPair = "pair-1"
	testRoot = "/sync"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type fakeFile struct {
	entry   types.RemoteEntry
	content []byte
}

type fakeRemote struct {
	mu          sync.Mutex
	nextID      int
	files       map[string]*fakeFile
	uploads     []remote.UploadRequest
	offsets     []int64
	deleted     []string
	ignoreRange bool
	uploadErr   map[string]error
	deleteErr   map[string]error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:     make(map[string]*fakeFile),
		uploadErr: make(map[string]error),
		deleteErr: make(map[string]error),
	}
}

func notFound(id string) error {
	return utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound, "file not found: "+id).Build())
}

func (f *fakeRemote) add(id, parentID, name string, content []byte, mtime time.Time) types.RemoteEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry := types.RemoteEntry{
		ID:           id,
		ParentID:     parentID,
		RelativePath: name,
		Name:         name,
		Size:         int64(len(content)),
		ModifiedTime: mtime,
		ContentHash:  md5hex(content),
	}
	f.files[id] = &fakeFile{entry: entry, content: content}
	return entry
}

func (f *fakeRemote) byName(name string) *fakeFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.entry.Name == name {
			return file
		}
	}
	return nil
}

func (f *fakeRemote) CreateFolder(ctx context.Context, parentID, name, relPath string) (*types.RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	entry := types.RemoteEntry{
		ID:           fmt.Sprintf("folder-%d", f.nextID),
		ParentID:     parentID,
		RelativePath: relPath,
		Name:         name,
		IsDir:        true,
		ModifiedTime: testNow,
	}
	f.files[entry.ID] = &fakeFile{entry: entry}
	return &entry, nil
}

func (f *fakeRemote) Upload(ctx context.Context, req remote.UploadRequest) (*types.RemoteEntry, error) {
	data, err := io.ReadAll(req.Content)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	recorded := req
	recorded.Content = nil
	f.uploads = append(f.uploads, recorded)
	if err, ok := f.uploadErr[req.Name]; ok {
		return nil, err
	}

	entry := types.RemoteEntry{
		ParentID: req.ParentID,
		Name:     req.Name,
		MimeType: req.MimeType,
	}
	if req.FileID != "" {
		existing, ok := f.files[req.FileID]
		if !ok {
			return nil, notFound(req.FileID)
		}
		entry = existing.entry
	} else {
		f.nextID++
		entry.ID = fmt.Sprintf("file-%d", f.nextID)
	}
	entry.Size = int64(len(data))
	entry.ModifiedTime = req.ModifiedTime
	entry.ContentHash = md5hex(data)
	f.files[entry.ID] = &fakeFile{entry: entry, content: data}
	return &entry, nil
}

func (f *fakeRemote) OpenDownload(ctx context.Context, fileID string, offset int64) (*remote.Download, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[fileID]
	if !ok {
		return nil, notFound(fileID)
	}
	f.offsets = append(f.offsets, offset)
	if offset > 0 && !f.ignoreRange {
		return &remote.Download{Body: io.NopCloser(bytes.NewReader(file.content[offset:])), Offset: offset}, nil
	}
	return &remote.Download{Body: io.NopCloser(bytes.NewReader(file.content))}, nil
}

func (f *fakeRemote) Export(ctx context.Context, fileID, nativeMimeType string) (io.ReadCloser, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	file, ok := f.files[fileID]
	if !ok {
		return nil, notFound(fileID)
	}
	return io.NopCloser(bytes.NewReader(file.content)), nil
}

func (f *fakeRemote) Delete(ctx context.Context, fileID string, permanent bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.deleteErr[fileID]; ok {
		return err
	}
	delete(f.files, fileID)
	f.deleted = append(f.deleted, fileID)
	return nil
}

func (f *fakeRemote) HasChildren(ctx context.Context, folderID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, file := range f.files {
		if file.entry.ParentID == folderID {
			return true, nil
		}
	}
	return false, nil
}

func md5hex(b []byte) string {
	hash, _, _ := checksum.Reader(bytes.NewReader(b))
	return hash
}

type harness struct {
	exec   *Executor
	store  *fakeRemote
	fs     *localfs.AferoProvider
	db     *index.DB
	result *types.SyncResult
}

func newHarness(t *testing.T, concurrency int) *harness {
	t.Helper()
	db, err := index.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("index.Open() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	store := newFakeRemote()
	fs := localfs.NewMem()
	if err := fs.Fs().MkdirAll(testRoot, 0755); err != nil {
		t.Fatalf("MkdirAll() error = %v", err)
	}
	clock := clockwork.NewFakeClockAt(testNow)
	return &harness{
		exec:   New(store, fs, db, clock, nil, Options{Concurrency: concurrency}),
		store:  store,
		fs:     fs,
		db:     db,
		result: &types.SyncResult{PairID: testPair},
	}
}

func (h *harness) writeLocal(t *testing.T, relPath, content string) *types.LocalEntry {
	t.Helper()
	abs := localfs.Abs(testRoot, relPath)
	if err := afero.WriteFile(h.fs.Fs(), abs, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return &types.LocalEntry{
		RelativePath: relPath,
		Name:         path.Base(relPath),
		Size:         int64(len(content)),
		ModifiedTime: testNow.Add(-time.Hour),
		ContentHash:  md5hex([]byte(content)),
	}
}

func (h *harness) readLocal(t *testing.T, relPath string) string {
	t.Helper()
	data, err := afero.ReadFile(h.fs.Fs(), localfs.Abs(testRoot, relPath))
	if err != nil {
		t.Fatalf("ReadFile(%s) error = %v", relPath, err)
	}
	return string(data)
}

func (h *harness) record(t *testing.T, relPath string) *index.Record {
	t.Helper()
	rec, err := h.db.GetRecord(context.Background(), testPair, relPath)
	if err != nil {
		t.Fatalf("GetRecord() error = %v", err)
	}
	return rec
}

func (h *harness) run(t *testing.T, plan *diff.Plan, resolved ...Resolved) error {
	t.Helper()
	return h.exec.Execute(context.Background(), &Job{
		PairID:       testPair,
		LocalRoot:    testRoot,
		RemoteRootID: "root-id",
		Plan:         plan,
		Resolved:     resolved,
	}, h.result)
}

func TestExecute_MkdirAndUpload(t *testing.T) {
	h := newHarness(t, 2)
	local := h.writeLocal(t, "docs/a.txt", "hello world")

	var progress []types.SyncProgress
	job := &Job{
		PairID:       testPair,
		LocalRoot:    testRoot,
		RemoteRootID: "root-id",
		Plan: &diff.Plan{
			MkdirRemote: []diff.Action{{Type: diff.ActionMkdirRemote, Path: "docs"}},
			Uploads:     []diff.Action{{Type: diff.ActionUpload, Path: "docs/a.txt", Local: local}},
		},
		Progress: func(p types.SyncProgress) { progress = append(progress, p) },
	}
	if err := h.exec.Execute(context.Background(), job, h.result); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if h.result.FoldersCreated != 1 || h.result.Uploaded != 1 {
		t.Errorf("Expected 1 folder and 1 upload, got %+v", h.result)
	}
	if len(h.result.Errors) != 0 {
		t.Errorf("Expected no errors, got %v", h.result.Errors)
	}

	uploaded := h.store.byName("a.txt")
	if uploaded == nil {
		t.Fatal("Expected a.txt on the remote")
	}
	folder := h.store.byName("docs")
	if folder == nil || folder.entry.ParentID != "root-id" {
		t.Fatalf("Expected docs folder under root, got %+v", folder)
	}
	if uploaded.entry.ParentID != folder.entry.ID {
		t.Errorf("Expected upload parent %s, got %s", folder.entry.ID, uploaded.entry.ParentID)
	}
	if string(uploaded.content) != "hello world" {
		t.Errorf("Unexpected uploaded content %q", uploaded.content)
	}
	if got := h.store.uploads[0].MimeType; got != "text/plain" {
		t.Errorf("Expected text/plain, got %s", got)
	}

	rec := h.record(t, "docs/a.txt")
	if rec == nil || rec.Status != index.StatusSynced {
		t.Fatalf("Expected synced record, got %+v", rec)
	}
	if rec.RemoteID != uploaded.entry.ID || rec.LocalHash != local.ContentHash || rec.RemoteHash != local.ContentHash {
		t.Errorf("Unexpected record: %+v", rec)
	}
	if !rec.LastSyncTime.Equal(testNow) {
		t.Errorf("Expected last sync %v, got %v", testNow, rec.LastSyncTime)
	}
	if dir := h.record(t, "docs"); dir == nil || !dir.IsDir || dir.RemoteID != folder.entry.ID {
		t.Errorf("Expected folder record, got %+v", dir)
	}

	if len(progress) != 2 || progress[1].Completed != 2 || progress[1].Total != 2 {
		t.Errorf("Unexpected progress: %+v", progress)
	}
	logs, err := h.db.ListLog(context.Background(), testPair, 0)
	if err != nil {
		t.Fatalf("ListLog() error = %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(logs))
	}
	if logs[0].Action != "upload" || !logs[0].Success || logs[0].BytesTransferred != 11 {
		t.Errorf("Unexpected log entry: %+v", logs[0])
	}
}

func TestExecute_UpdateOfVanishedFileCreates(t *testing.T) {
	h := newHarness(t, 1)
	local := h.writeLocal(t, "a.txt", "v2")
	tracked := &index.Record{PairID: testPair, RelativePath: "a.txt", RemoteID: "gone", Status: index.StatusSynced, LastSyncTime: testNow.Add(-time.Hour)}

	err := h.run(t, &diff.Plan{
		Uploads: []diff.Action{{Type: diff.ActionUpload, Path: "a.txt", RemoteID: "gone", Local: local, Tracked: tracked}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if len(h.store.uploads) != 2 {
		t.Fatalf("Expected update then create, got %d uploads", len(h.store.uploads))
	}
	if h.store.uploads[1].FileID != "" {
		t.Errorf("Expected second upload to create, got FileID %s", h.store.uploads[1].FileID)
	}
	rec := h.record(t, "a.txt")
	if rec == nil || rec.RemoteID == "gone" || rec.Status != index.StatusSynced {
		t.Errorf("Expected record to point at the new file, got %+v", rec)
	}
}

func TestExecute_DownloadChecksumMismatch(t *testing.T) {
	h := newHarness(t, 1)
	entry := h.store.add("r1", "root-id", "a.txt", []byte("remote bytes"), testNow)
	entry.ContentHash = md5hex([]byte("something else"))

	err := h.run(t, &diff.Plan{
		Downloads: []diff.Action{{Type: diff.ActionDownload, Path: "a.txt", RemoteID: "r1", Remote: &entry}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if h.result.Downloaded != 0 {
		t.Errorf("Expected no completed downloads, got %d", h.result.Downloaded)
	}
	if len(h.result.Errors) != 1 || h.result.Errors[0].Code != utils.ErrCodeChecksumMismatch {
		t.Fatalf("Expected one checksum error, got %+v", h.result.Errors)
	}
	if exists, _ := afero.Exists(h.fs.Fs(), localfs.Abs(testRoot, "a.txt")); exists {
		t.Error("Expected target to stay absent")
	}
	if exists, _ := afero.Exists(h.fs.Fs(), localfs.Abs(testRoot, "a.txt")+utils.PartialDownloadSuffix); exists {
		t.Error("Expected partial file to be removed")
	}
	rec := h.record(t, "a.txt")
	if rec == nil || rec.Status != index.StatusErrorDownload {
		t.Errorf("Expected error_download record, got %+v", rec)
	}
}

func TestExecute_DownloadResumesPartial(t *testing.T) {
	tests := []struct {
		name        string
		ignoreRange bool
		wantBytes   int64
	}{
		{"range honored", false, 6},
		{"range ignored", true, 11},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, 1)
			h.store.ignoreRange = tt.ignoreRange
			content := []byte("hello world")
			entry := h.store.add("r1", "root-id", "big.bin", content, testNow)

			partial := localfs.Abs(testRoot, "big.bin") + utils.PartialDownloadSuffix
			if err := afero.WriteFile(h.fs.Fs(), partial, content[:5], 0644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			tracked := &index.Record{PairID: testPair, RelativePath: "big.bin", RemoteID: "r1", Status: index.StatusPendingDownload}

			err := h.run(t, &diff.Plan{
				Downloads: []diff.Action{{Type: diff.ActionDownload, Path: "big.bin", RemoteID: "r1", Remote: &entry, Tracked: tracked, Retry: true}},
			})
			if err != nil {
				t.Fatalf("Execute() error = %v", err)
			}
			if len(h.result.Errors) != 0 {
				t.Fatalf("Expected no errors, got %+v", h.result.Errors)
			}
			if len(h.store.offsets) != 1 || h.store.offsets[0] != 5 {
				t.Errorf("Expected one ranged request from 5, got %v", h.store.offsets)
			}
			if got := h.readLocal(t, "big.bin"); got != "hello world" {
				t.Errorf("Expected full content, got %q", got)
			}
			if h.result.BytesTransferred != tt.wantBytes {
				t.Errorf("Expected %d bytes, got %d", tt.wantBytes, h.result.BytesTransferred)
			}
			info, err := h.fs.Stat(localfs.Abs(testRoot, "big.bin"))
			if err != nil {
				t.Fatalf("Stat() error = %v", err)
			}
			if !info.ModTime().Equal(testNow) {
				t.Errorf("Expected mtime %v, got %v", testNow, info.ModTime())
			}
			rec := h.record(t, "big.bin")
			if rec == nil || rec.Status != index.StatusSynced || rec.LocalHash != entry.ContentHash {
				t.Errorf("Unexpected record: %+v", rec)
			}
		})
	}
}

func TestExecute_DownloadDiscardsPartialWithoutRetry(t *testing.T) {
	h := newHarness(t, 1)
	entry := h.store.add("r1", "root-id", "a.txt", []byte("fresh"), testNow)
	partial := localfs.Abs(testRoot, "a.txt") + utils.PartialDownloadSuffix
	if err := afero.WriteFile(h.fs.Fs(), partial, []byte("fr"), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	err := h.run(t, &diff.Plan{
		Downloads: []diff.Action{{Type: diff.ActionDownload, Path: "a.txt", RemoteID: "r1", Remote: &entry}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(h.store.offsets) != 1 || h.store.offsets[0] != 0 {
		t.Errorf("Expected a full download, got offsets %v", h.store.offsets)
	}
	if got := h.readLocal(t, "a.txt"); got != "fresh" {
		t.Errorf("Expected fresh content, got %q", got)
	}
}

func TestExecute_NativeDocumentIsExported(t *testing.T) {
	h := newHarness(t, 1)
	entry := h.store.add("doc1", "root-id", "plan.docx", []byte("docx bytes"), testNow)
	entry.NativeDocType = utils.MimeTypeDocument
	entry.ContentHash = ""

	if err := h.run(t, &diff.Plan{
		Downloads: []diff.Action{{Type: diff.ActionDownload, Path: "plan.docx", RemoteID: "doc1", Remote: &entry}},
	}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if got := h.readLocal(t, "plan.docx"); got != "docx bytes" {
		t.Errorf("Expected exported content, got %q", got)
	}
	if len(h.store.offsets) != 0 {
		t.Errorf("Expected no binary download, got %v", h.store.offsets)
	}
}

func TestExecute_DeletesAndFailureIsolation(t *testing.T) {
	h := newHarness(t, 1)
	ctx := context.Background()
	h.writeLocal(t, "old/x.txt", "x")
	local := h.writeLocal(t, "a.txt", "new")
	h.store.add("r-y", "root-id", "y.txt", []byte("y"), testNow)
	h.store.deleteErr["r-y"] = utils.NewAppError(utils.NewCLIError(utils.ErrCodePermissionDenied, "forbidden").Build())

	for _, rec := range []index.Record{
		{PairID: testPair, RelativePath: "old/x.txt", RemoteID: "r-x", Status: index.StatusSynced, LastSyncTime: testNow},
		{PairID: testPair, RelativePath: "y.txt", RemoteID: "r-y", Status: index.StatusSynced, LastSyncTime: testNow},
	} {
		if err := h.db.UpsertRecord(ctx, rec); err != nil {
			t.Fatalf("UpsertRecord() error = %v", err)
		}
	}

	err := h.run(t, &diff.Plan{
		Uploads:      []diff.Action{{Type: diff.ActionUpload, Path: "a.txt", Local: local}},
		DeleteLocal:  []diff.Action{{Type: diff.ActionDeleteLocal, Path: "old/x.txt", RemoteID: "r-x"}},
		DeleteRemote: []diff.Action{{Type: diff.ActionDeleteRemote, Path: "y.txt", RemoteID: "r-y"}},
	})
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	if h.result.Uploaded != 1 || h.result.DeletedLocal != 1 || h.result.DeletedRemote != 0 {
		t.Errorf("Unexpected counts: %+v", h.result)
	}
	if len(h.result.Errors) != 1 {
		t.Fatalf("Expected 1 error, got %+v", h.result.Errors)
	}
	if got := h.result.Errors[0]; got.Code != utils.ErrCodePermissionDenied || got.RelativePath != "y.txt" {
		t.Errorf("Unexpected item error: %+v", got)
	}
	if exists, _ := afero.Exists(h.fs.Fs(), localfs.Abs(testRoot, "old/x.txt")); exists {
		t.Error("Expected local file to be deleted")
	}
	if rec := h.record(t, "old/x.txt"); rec != nil {
		t.Errorf("Expected record dropped, got %+v", rec)
	}
	if rec := h.record(t, "y.txt"); rec == nil {
		t.Error("Expected record of failed delete to be kept")
	}
}

func TestExecute_AuthErrorStopsRun(t *testing.T) {
	h := newHarness(t, 1)
	a := h.writeLocal(t, "a.txt", "a")
	b := h.writeLocal(t, "b.txt", "b")
	h.store.uploadErr["a.txt"] = &errors.AuthError{Err: stderrors.New("token revoked")}

	err := h.run(t, &diff.Plan{
		Uploads: []diff.Action{
			{Type: diff.ActionUpload, Path: "a.txt", Local: a},
			{Type: diff.ActionUpload, Path: "b.txt", Local: b},
		},
		Downloads: []diff.Action{{Type: diff.ActionDownload, Path: "c.txt", RemoteID: "r-c"}},
	})
	if !errors.IsAuthError(err) {
		t.Fatalf("Expected AuthError, got %v", err)
	}
	if len(h.store.uploads) != 1 {
		t.Errorf("Expected the run to stop after the first upload, got %d", len(h.store.uploads))
	}
	if len(h.result.Errors) != 1 || h.result.Errors[0].Code != utils.ErrCodeAuthInvalid {
		t.Errorf("Unexpected errors: %+v", h.result.Errors)
	}
	if rec := h.record(t, "a.txt"); rec == nil || rec.Status != index.StatusErrorUpload {
		t.Errorf("Expected error_upload record, got %+v", rec)
	}
}

func TestExecute_Cancelled(t *testing.T) {
	h := newHarness(t, 1)
	a := h.writeLocal(t, "a.txt", "a")

	err := h.exec.Execute(context.Background(), &Job{
		PairID:       testPair,
		LocalRoot:    testRoot,
		RemoteRootID: "root-id",
		Plan:         &diff.Plan{Uploads: []diff.Action{{Type: diff.ActionUpload, Path: "a.txt", Local: a}}},
		Cancelled:    func() bool { return true },
	}, h.result)
	if !stderrors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if len(h.store.uploads) != 0 {
		t.Errorf("Expected no uploads, got %d", len(h.store.uploads))
	}
}

func TestExecute_KeepBothConflict(t *testing.T) {
	h := newHarness(t, 1)
	local := h.writeLocal(t, "notes.txt", "local edit")
	remoteEntry := h.store.add("r1", "root-id", "notes.txt", []byte("remote edit"), testNow.Add(-time.Minute))
	tracked := &index.Record{PairID: testPair, RelativePath: "notes.txt", RemoteID: "r1", Status: index.StatusSynced, LastSyncTime: testNow.Add(-2 * time.Hour)}

	c := diff.Conflict{Path: "notes.txt", Kind: diff.ConflictBothModified, Local: local, Remote: &remoteEntry, Tracked: tracked}
	res := conflict.Resolve(c, conflict.KeepBoth, testNow)

	if err := h.run(t, &diff.Plan{Conflicts: []diff.Conflict{c}}, Resolved{Conflict: c, Resolution: res}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if len(h.result.Errors) != 0 {
		t.Fatalf("Expected no errors, got %+v", h.result.Errors)
	}

	if got := h.readLocal(t, "notes.txt"); got != "remote edit" {
		t.Errorf("Expected remote content at the original path, got %q", got)
	}
	if got := h.readLocal(t, res.RenameLocalTo); got != "local edit" {
		t.Errorf("Expected local content at %s, got %q", res.RenameLocalTo, got)
	}
	copied := h.store.byName(path.Base(res.RenameLocalTo))
	if copied == nil || string(copied.content) != "local edit" {
		t.Fatalf("Expected the local copy uploaded, got %+v", copied)
	}
	if string(h.store.files["r1"].content) != "remote edit" {
		t.Error("Expected the remote original untouched")
	}
	if rec := h.record(t, res.RenameLocalTo); rec == nil || rec.RemoteID != copied.entry.ID {
		t.Errorf("Unexpected record for copy: %+v", rec)
	}
	if rec := h.record(t, "notes.txt"); rec == nil || rec.Status != index.StatusSynced || rec.LocalHash != remoteEntry.ContentHash {
		t.Errorf("Unexpected record for original: %+v", rec)
	}
}

func TestExecute_RefreshesUnchanged(t *testing.T) {
	h := newHarness(t, 1)
	local := &types.LocalEntry{RelativePath: "same.txt", Size: 3, ModifiedTime: testNow.Add(-time.Hour), ContentHash: md5hex([]byte("abc"))}
	remoteEntry := types.RemoteEntry{ID: "r1", RelativePath: "same.txt", Size: 3, ModifiedTime: testNow.Add(-time.Hour), ContentHash: local.ContentHash}

	if err := h.run(t, &diff.Plan{
		Unchanged: []diff.Action{{Type: diff.ActionUnchanged, Path: "same.txt", RemoteID: "r1", Local: local, Remote: &remoteEntry}},
	}); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if h.result.Unchanged != 1 {
		t.Errorf("Expected 1 unchanged, got %d", h.result.Unchanged)
	}
	rec := h.record(t, "same.txt")
	if rec == nil || !rec.Confirmed() || rec.RemoteHash != local.ContentHash {
		t.Errorf("Expected confirmed record, got %+v", rec)
	}
}

func TestDetectMimeType(t *testing.T) {
	tests := []struct {
		name    string
		path    string
		content []byte
		want    string
	}{
		{"png by content", "image.bin", []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"), "image/png"},
		{"plain text", "notes.txt", []byte("hello"), "text/plain"},
		{"json by extension", "data.json", []byte("{\"a\":1}"), "application/json"},
		{"empty file", "empty.txt", nil, "text/plain"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			if err := afero.WriteFile(fs, "/f", tt.content, 0644); err != nil {
				t.Fatalf("WriteFile() error = %v", err)
			}
			f, err := fs.Open("/f")
			if err != nil {
				t.Fatalf("Open() error = %v", err)
			}
			defer func() { _ = f.Close() }()

			got, err := detectMimeType(f, tt.path)
			if err != nil {
				t.Fatalf("detectMimeType() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Expected %s, got %s", tt.want, got)
			}
			rest, _ := io.ReadAll(f)
			if !bytes.Equal(rest, tt.content) && len(tt.content) > 0 {
				t.Error("Expected reader rewound after sniffing")
			}
		})
	}
}

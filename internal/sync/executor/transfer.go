package executor

import (
	"context"
	"io"
	"mime"
	"path"
	"strings"

	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/localfs"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/remote"
	"github.com/dl-alexandre/drivesync/internal/sync/checksum"
	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"github.com/gabriel-vasile/mimetype"
	"github.com/spf13/afero"
)

const sniffLen = 512

func (r *run) upload(ctx context.Context, a diff.Action) (int64, error) {
	if err := r.markPending(ctx, a, index.StatusPendingUpload); err != nil {
		return 0, err
	}

	entry, size, err := r.sendFile(ctx, a)
	if err != nil {
		r.markFailed(ctx, a, index.StatusErrorUpload)
		if errors.IsAuthError(err) {
			return 0, err
		}
		return 0, &errors.TransferError{Op: "upload", Path: a.Path, Err: err}
	}

	record := index.Record{
		RelativePath: a.Path,
		RemoteID:     entry.ID,
		Size:         size,
		RemoteMTime:  entry.ModifiedTime,
		RemoteHash:   entry.ContentHash,
		Status:       index.StatusSynced,
		LastSyncTime: r.e.clock.Now().UTC(),
	}
	if a.Local != nil {
		record.LocalMTime = a.Local.ModifiedTime
		record.LocalHash = a.Local.ContentHash
	}
	if record.LocalHash == "" {
		record.LocalHash = entry.ContentHash
	}
	return size, r.putRecord(ctx, a.Tracked, record)
}

func (r *run) sendFile(ctx context.Context, a diff.Action) (*types.RemoteEntry, int64, error) {
	parentID, err := r.remoteParent(a.Path)
	if err != nil {
		return nil, 0, err
	}

	f, err := r.e.fs.Open(localfs.Abs(r.job.LocalRoot, a.Path))
	if err != nil {
		return nil, 0, err
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return nil, 0, err
	}
	mimeType, err := detectMimeType(f, a.Path)
	if err != nil {
		return nil, 0, err
	}

	req := remote.UploadRequest{
		ParentID:     parentID,
		Name:         path.Base(a.Path),
		FileID:       a.RemoteID,
		RelativePath: a.Path,
		MimeType:     mimeType,
		Size:         info.Size(),
		Content:      f,
		ModifiedTime: info.ModTime(),
	}
	if a.Local != nil && !a.Local.ModifiedTime.IsZero() {
		req.ModifiedTime = a.Local.ModifiedTime
	}

	entry, err := r.e.remote.Upload(ctx, req)
	if err != nil && req.FileID != "" && errors.HasCode(err, utils.ErrCodeFileNotFound) {
		r.logger.Info("Remote file vanished, uploading as new",
			logging.F("path", a.Path),
			logging.F("fileId", req.FileID),
		)
		req.FileID = ""
		entry, err = r.e.remote.Upload(ctx, req)
	}
	if err != nil {
		return nil, 0, err
	}
	return entry, info.Size(), nil
}

// detectMimeType sniffs the head of f and rewinds it. The extension is the
// fallback when the content is not recognized.
func detectMimeType(f afero.File, relPath string) (string, error) {
	buf := make([]byte, sniffLen)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.EOF && err != io.ErrUnexpectedEOF {
		return "", err
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return "", err
	}

	mt := mimetype.Detect(buf[:n]).String()
	if mt == "application/octet-stream" || (strings.HasPrefix(mt, "text/plain") && path.Ext(relPath) != ".txt") {
		if byExt := mime.TypeByExtension(path.Ext(relPath)); byExt != "" {
			mt = byExt
		}
	}
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = strings.TrimSpace(mt[:i])
	}
	return mt, nil
}

func (r *run) download(ctx context.Context, a diff.Action) (int64, error) {
	if a.Remote == nil {
		return 0, &errors.TransferError{Op: "download", Path: a.Path,
			Err: utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound, "no remote entry to download").Build())}
	}
	resume := a.Tracked != nil && (a.Tracked.Status == index.StatusPendingDownload || a.Tracked.Status == index.StatusErrorDownload)
	if err := r.markPending(ctx, a, index.StatusPendingDownload); err != nil {
		return 0, err
	}

	n, localHash, err := r.receiveFile(ctx, a, resume)
	if err != nil {
		r.markFailed(ctx, a, index.StatusErrorDownload)
		if errors.IsAuthError(err) {
			return n, err
		}
		return n, &errors.TransferError{Op: "download", Path: a.Path, Err: err}
	}

	return n, r.putRecord(ctx, a.Tracked, index.Record{
		RelativePath: a.Path,
		RemoteID:     a.Remote.ID,
		Size:         a.Remote.Size,
		LocalMTime:   a.Remote.ModifiedTime,
		RemoteMTime:  a.Remote.ModifiedTime,
		LocalHash:    localHash,
		RemoteHash:   a.Remote.ContentHash,
		Status:       index.StatusSynced,
		LastSyncTime: r.e.clock.Now().UTC(),
	})
}

// receiveFile streams the remote content into a partial file next to the
// target, verifies it and moves it into place. It returns the bytes
// received in this call and the local content hash.
func (r *run) receiveFile(ctx context.Context, a diff.Action, resume bool) (int64, string, error) {
	target := localfs.Abs(r.job.LocalRoot, a.Path)
	partial := target + utils.PartialDownloadSuffix
	entry := a.Remote

	var offset int64
	if resume && !entry.IsNative() {
		if info, err := r.e.fs.Stat(partial); err == nil && info.Size() > 0 && info.Size() < entry.Size {
			offset = info.Size()
		}
	}
	if offset == 0 {
		if _, err := r.e.fs.Delete(partial); err != nil {
			return 0, "", err
		}
	}

	var body io.ReadCloser
	if entry.IsNative() {
		rc, err := r.e.remote.Export(ctx, entry.ID, entry.NativeDocType)
		if err != nil {
			return 0, "", err
		}
		body = rc
	} else {
		dl, err := r.e.remote.OpenDownload(ctx, entry.ID, offset)
		if err != nil {
			return 0, "", err
		}
		if offset > 0 && dl.Offset != offset {
			r.logger.Debug("Server ignored range, restarting download", logging.F("path", a.Path))
			if _, err := r.e.fs.Delete(partial); err != nil {
				_ = dl.Body.Close()
				return 0, "", err
			}
			offset = 0
		} else if offset > 0 {
			r.logger.Info("Resuming download", logging.F("path", a.Path), logging.F("offset", offset))
		}
		body = dl.Body
	}
	defer func() { _ = body.Close() }()

	f, size, err := r.e.fs.OpenAppend(partial)
	if err != nil {
		return 0, "", err
	}
	if size != offset {
		_ = f.Close()
		return 0, "", &errors.TransferError{Op: "resume", Path: a.Path,
			Err: utils.NewAppError(utils.NewCLIError(utils.ErrCodeTransferFailed, "partial file changed during download").Build())}
	}
	n, copyErr := io.Copy(f, &contextReader{ctx: ctx, r: body})
	closeErr := f.Close()
	if copyErr != nil {
		return n, "", copyErr
	}
	if closeErr != nil {
		return n, "", closeErr
	}

	hash, err := checksum.File(r.e.fs.Fs(), partial)
	if err != nil {
		return n, "", err
	}
	if entry.ContentHash != "" && !checksum.Equal(hash, entry.ContentHash) {
		if _, delErr := r.e.fs.Delete(partial); delErr != nil {
			r.logger.Warn("Failed to remove corrupt partial download", logging.F("path", a.Path), logging.F("error", delErr.Error()))
		}
		return n, "", &errors.ChecksumMismatchError{Path: a.Path, Expected: entry.ContentHash, Actual: hash}
	}

	if err := r.e.fs.Rename(partial, target); err != nil {
		return n, "", err
	}
	if !entry.ModifiedTime.IsZero() {
		if err := r.e.fs.Chtimes(target, entry.ModifiedTime); err != nil {
			r.logger.Warn("Failed to set modification time", logging.F("path", a.Path), logging.F("error", err.Error()))
		}
	}
	return n, hash, nil
}

// contextReader stops a copy once ctx is done.
type contextReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *contextReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

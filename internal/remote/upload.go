package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dl-alexandre/drivesync/internal/api"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/types"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// UploadRequest describes one file upload. An empty FileID creates a new
// file under ParentID; otherwise the content of FileID is replaced.
type UploadRequest struct {
	ParentID     string
	Name         string
	FileID       string
	RelativePath string
	MimeType     string
	Size         int64
	Content      io.ReadSeeker
	ModifiedTime time.Time
}

// Upload sends a file to Drive. Files up to the multipart threshold go in a
// single request; larger files use a resumable session sent in chunks.
func (s *DriveStore) Upload(ctx context.Context, req UploadRequest) (*types.RemoteEntry, error) {
	if req.Content == nil {
		return nil, fmt.Errorf("upload %s: no content", req.RelativePath)
	}
	if req.MimeType == "" {
		req.MimeType = "application/octet-stream"
	}

	var (
		f   *drive.File
		err error
	)
	if req.Size <= s.multipartThreshold {
		f, err = s.uploadMultipart(ctx, req)
	} else {
		f, err = s.uploadResumable(ctx, req)
	}
	if err != nil {
		return nil, err
	}

	s.rememberResourceKey(f)
	entry := toEntry(f, req.ParentID, req.RelativePath)
	s.logger.Debug("Upload finished",
		logging.F("path", req.RelativePath),
		logging.F("id", entry.ID),
		logging.F("size", req.Size),
	)
	return entry, nil
}

func uploadMetadata(req UploadRequest) *drive.File {
	meta := &drive.File{
		ModifiedTime: types.FormatDriveTime(req.ModifiedTime),
	}
	if req.FileID == "" {
		meta.Name = req.Name
		meta.MimeType = req.MimeType
		if req.ParentID != "" {
			meta.Parents = []string{req.ParentID}
		}
	}
	return meta
}

func (s *DriveStore) uploadMultipart(ctx context.Context, req UploadRequest) (*drive.File, error) {
	reqCtx := api.NewRequestContext(types.RequestTypeUpload)
	return api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.File, error) {
		if _, err := req.Content.Seek(0, io.SeekStart); err != nil {
			return nil, err
		}
		meta := uploadMetadata(req)
		media := []googleapi.MediaOption{googleapi.ContentType(req.MimeType), googleapi.ChunkSize(0)}
		if req.FileID == "" {
			return s.client.Service().Files.Create(meta).
				Media(req.Content, media...).
				SupportsAllDrives(true).
				Fields(fileFields).
				Context(ctx).
				Do()
		}
		call := s.client.Service().Files.Update(req.FileID, meta).
			Media(req.Content, media...).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx)
		if header := s.resourceKeyHeader(req.FileID); header != "" {
			call.Header().Set(api.ResourceKeyHeader, header)
		}
		return call.Do()
	})
}

// chunkResult is the outcome of one resumable PUT: either the session
// advanced to next, or the upload completed with file.
type chunkResult struct {
	next int64
	file *drive.File
}

func (s *DriveStore) uploadResumable(ctx context.Context, req UploadRequest) (*drive.File, error) {
	sessionURL, err := s.startSession(ctx, req)
	if err != nil {
		return nil, err
	}

	reqCtx := api.NewRequestContext(types.RequestTypeUpload)
	buf := make([]byte, s.chunkSize)
	var offset int64
	for offset < req.Size {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := s.chunkSize
		if remaining := req.Size - offset; remaining < n {
			n = remaining
		}
		chunk := buf[:n]
		if _, err := req.Content.Seek(offset, io.SeekStart); err != nil {
			return nil, fmt.Errorf("upload %s: %w", req.RelativePath, err)
		}
		if _, err := io.ReadFull(req.Content, chunk); err != nil {
			return nil, fmt.Errorf("upload %s: %w", req.RelativePath, err)
		}

		start := offset
		res, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (chunkResult, error) {
			return s.putChunk(ctx, sessionURL, chunk, start, req.Size)
		})
		if err != nil {
			return nil, err
		}
		if res.file != nil {
			return res.file, nil
		}
		if res.next <= offset {
			return nil, fmt.Errorf("upload %s: session did not advance past byte %d", req.RelativePath, offset)
		}
		offset = res.next
		s.logger.Debug("Upload chunk accepted",
			logging.F("path", req.RelativePath),
			logging.F("offset", offset),
			logging.F("size", req.Size),
		)
	}
	return nil, fmt.Errorf("upload %s: session ended without a file", req.RelativePath)
}

func (s *DriveStore) startSession(ctx context.Context, req UploadRequest) (string, error) {
	body, err := json.Marshal(uploadMetadata(req))
	if err != nil {
		return "", err
	}

	method := http.MethodPost
	target := s.client.UploadBase() + "/files"
	if req.FileID != "" {
		method = http.MethodPatch
		target += "/" + url.PathEscape(req.FileID)
	}
	query := url.Values{}
	query.Set("uploadType", "resumable")
	query.Set("supportsAllDrives", "true")
	query.Set("fields", fileFields)
	target += "?" + query.Encode()

	reqCtx := api.NewRequestContext(types.RequestTypeUpload)
	return api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (string, error) {
		httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(body))
		if err != nil {
			return "", err
		}
		httpReq.Header.Set("Content-Type", "application/json; charset=UTF-8")
		httpReq.Header.Set("X-Upload-Content-Type", req.MimeType)
		httpReq.Header.Set("X-Upload-Content-Length", strconv.FormatInt(req.Size, 10))
		if header := s.resourceKeyHeader(req.FileID); req.FileID != "" && header != "" {
			httpReq.Header.Set(api.ResourceKeyHeader, header)
		}

		resp, err := s.client.HTTPClient().Do(httpReq)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		if err := googleapi.CheckResponse(resp); err != nil {
			return "", err
		}
		location := resp.Header.Get("Location")
		if location == "" {
			return "", fmt.Errorf("resumable session for %s returned no location", req.RelativePath)
		}
		return location, nil
	})
}

func (s *DriveStore) putChunk(ctx context.Context, sessionURL string, chunk []byte, offset, total int64) (chunkResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(chunk))
	if err != nil {
		return chunkResult{}, err
	}
	httpReq.ContentLength = int64(len(chunk))
	httpReq.Header.Set("Content-Range",
		fmt.Sprintf("bytes %d-%d/%d", offset, offset+int64(len(chunk))-1, total))

	resp, err := s.client.HTTPClient().Do(httpReq)
	if err != nil {
		return chunkResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusPermanentRedirect {
		_, _ = io.Copy(io.Discard, resp.Body)
		return chunkResult{next: committedOffset(resp.Header.Get("Range"))}, nil
	}
	if err := googleapi.CheckResponse(resp); err != nil {
		return chunkResult{}, err
	}
	var f drive.File
	if err := json.NewDecoder(resp.Body).Decode(&f); err != nil {
		return chunkResult{}, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return chunkResult{file: &f}, nil
}

// committedOffset turns a resumable "Range: bytes=0-N" header into the next
// byte to send. A missing header means nothing was stored yet.
func committedOffset(header string) int64 {
	header = strings.TrimPrefix(strings.TrimSpace(header), "bytes=")
	idx := strings.LastIndex(header, "-")
	if idx < 0 {
		return 0
	}
	last, err := strconv.ParseInt(header[idx+1:], 10, 64)
	if err != nil {
		return 0
	}
	return last + 1
}

// Package remote is the Drive side of a sync pair: listing a folder tree,
// transferring file content and managing folders, all through the retrying
// api.Client.
package remote

import (
	"github.com/dl-alexandre/drivesync/internal/api"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"google.golang.org/api/drive/v3"
)

const fileFields = "id,name,mimeType,size,modifiedTime,md5Checksum,parents,resourceKey,trashed"

// Options tunes transfer sizes. Zero values take the defaults.
type Options struct {
	MultipartThreshold int64
	ChunkSize          int64
}

// DriveStore implements the remote operations of the sync engine against
// the Drive v3 API.
type DriveStore struct {
	client             *api.Client
	multipartThreshold int64
	chunkSize          int64
	logger             logging.Logger
}

// NewDriveStore creates a store over client
func NewDriveStore(client *api.Client, opts Options) *DriveStore {
	if opts.MultipartThreshold <= 0 {
		opts.MultipartThreshold = utils.UploadMultipartMaxBytes
	}
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = utils.UploadChunkSize
	}
	return &DriveStore{
		client:             client,
		multipartThreshold: opts.MultipartThreshold,
		chunkSize:          opts.ChunkSize,
		logger:             client.Logger(),
	}
}

func (s *DriveStore) resourceKeyHeader(ids ...string) string {
	return s.client.ResourceKeys().BuildHeader(ids...)
}

func (s *DriveStore) rememberResourceKey(f *drive.File) {
	if f != nil && f.ResourceKey != "" {
		s.client.ResourceKeys().UpdateFromAPIResponse(f.Id, f.ResourceKey)
	}
}

func toEntry(f *drive.File, parentID, relPath string) *types.RemoteEntry {
	entry := &types.RemoteEntry{
		ID:           f.Id,
		ParentID:     parentID,
		RelativePath: relPath,
		Name:         f.Name,
		IsDir:        f.MimeType == utils.MimeTypeFolder,
		Size:         f.Size,
		ModifiedTime: types.ParseDriveTime(f.ModifiedTime),
		ContentHash:  f.Md5Checksum,
		MimeType:     f.MimeType,
	}
	if entry.ParentID == "" && len(f.Parents) > 0 {
		entry.ParentID = f.Parents[0]
	}
	return entry
}

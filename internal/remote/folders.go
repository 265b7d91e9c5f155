package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/dl-alexandre/drivesync/internal/api"
	"github.com/dl-alexandre/drivesync/internal/errors"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// CreateFolder creates a folder named name under parentID.
func (s *DriveStore) CreateFolder(ctx context.Context, parentID, name, relPath string) (*types.RemoteEntry, error) {
	meta := &drive.File{
		Name:     name,
		MimeType: utils.MimeTypeFolder,
		Parents:  []string{parentID},
	}

	reqCtx := api.NewRequestContext(types.RequestTypeMutation)
	f, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.File, error) {
		return s.client.Service().Files.Create(meta).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	s.rememberResourceKey(f)
	return toEntry(f, parentID, relPath), nil
}

// Delete moves a file or folder to the trash, or removes it for good when
// permanent is set. An item that is already gone is not an error.
func (s *DriveStore) Delete(ctx context.Context, fileID string, permanent bool) error {
	reqCtx := api.NewRequestContext(types.RequestTypeMutation)
	_, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (struct{}, error) {
		if permanent {
			return struct{}{}, s.client.Service().Files.Delete(fileID).
				SupportsAllDrives(true).
				Context(ctx).
				Do()
		}
		_, err := s.client.Service().Files.Update(fileID, &drive.File{Trashed: true}).
			SupportsAllDrives(true).
			Fields("id,trashed").
			Context(ctx).
			Do()
		return struct{}{}, err
	})
	if err != nil {
		if errors.HasCode(err, utils.ErrCodeFileNotFound) {
			s.logger.Debug("Remote item already gone", logging.F("id", fileID))
			s.client.ResourceKeys().Invalidate(fileID)
			return nil
		}
		return err
	}
	s.client.ResourceKeys().Invalidate(fileID)
	return nil
}

// HasChildren reports whether folderID still contains anything that is not
// trashed, including items a filtered listing would leave out.
func (s *DriveStore) HasChildren(ctx context.Context, folderID string) (bool, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryString(folderID))
	reqCtx := api.NewRequestContext(types.RequestTypeListOrSearch)
	list, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.FileList, error) {
		call := s.client.Service().Files.List().
			Q(query).
			PageSize(1).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields("files(id)").
			Context(ctx)
		if header := s.resourceKeyHeader(folderID); header != "" {
			call.Header().Set(api.ResourceKeyHeader, header)
		}
		return call.Do()
	})
	if err != nil {
		return false, err
	}
	return len(list.Files) > 0, nil
}

// Get fetches the metadata of one item.
func (s *DriveStore) Get(ctx context.Context, fileID string) (*types.RemoteEntry, error) {
	reqCtx := api.NewRequestContext(types.RequestTypeGetByID)
	f, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.File, error) {
		call := s.client.Service().Files.Get(fileID).
			SupportsAllDrives(true).
			Fields(fileFields).
			Context(ctx)
		if header := s.resourceKeyHeader(fileID); header != "" {
			call.Header().Set(api.ResourceKeyHeader, header)
		}
		return call.Do()
	})
	if err != nil {
		return nil, err
	}
	s.rememberResourceKey(f)
	if f.Trashed {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound,
			fmt.Sprintf("%s is in the trash", fileID)).Build())
	}
	return toEntry(f, "", f.Name), nil
}

// ResolveFolder turns a user supplied folder reference into a folder entry.
// The reference may be a Drive URL, a folder ID, "root", or a slash
// separated path from My Drive. With create set, missing path segments are
// created.
func (s *DriveStore) ResolveFolder(ctx context.Context, ref string, create bool) (*types.RemoteEntry, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" || ref == "/" {
		ref = "root"
	}

	if id, key, ok := api.ParseFromURL(ref); ok {
		if key != "" {
			s.client.ResourceKeys().AddKey(id, key, "url")
		}
		return s.requireFolder(ctx, id)
	}
	if ref == "root" {
		return s.requireFolder(ctx, ref)
	}
	if !strings.Contains(ref, "/") && looksLikeID(ref) {
		entry, err := s.requireFolder(ctx, ref)
		if err == nil {
			return entry, nil
		}
		if !errors.HasCode(err, utils.ErrCodeFileNotFound) {
			return nil, err
		}
	}
	return s.resolvePath(ctx, ref, create)
}

func (s *DriveStore) requireFolder(ctx context.Context, id string) (*types.RemoteEntry, error) {
	entry, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !entry.IsDir {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidPath,
			fmt.Sprintf("%s is not a folder", entry.Name)).Build())
	}
	entry.RelativePath = ""
	return entry, nil
}

func (s *DriveStore) resolvePath(ctx context.Context, path string, create bool) (*types.RemoteEntry, error) {
	current, err := s.requireFolder(ctx, "root")
	if err != nil {
		return nil, err
	}

	for _, segment := range strings.Split(strings.Trim(path, "/"), "/") {
		if segment == "" {
			continue
		}
		next, err := s.findFolder(ctx, current.ID, segment)
		if err != nil {
			return nil, err
		}
		if next == nil {
			if !create {
				return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeFileNotFound,
					fmt.Sprintf("folder not found: %s", path)).
					WithContext("segment", segment).
					Build())
			}
			next, err = s.CreateFolder(ctx, current.ID, segment, segment)
			if err != nil {
				return nil, err
			}
			s.logger.Info("Created remote folder", logging.F("name", segment), logging.F("id", next.ID))
		}
		current = next
	}
	current.RelativePath = ""
	return current, nil
}

func (s *DriveStore) findFolder(ctx context.Context, parentID, name string) (*types.RemoteEntry, error) {
	query := fmt.Sprintf("'%s' in parents and name = '%s' and mimeType = '%s' and trashed = false",
		escapeQueryString(parentID), escapeQueryString(name), utils.MimeTypeFolder)

	reqCtx := api.NewRequestContext(types.RequestTypeListOrSearch)
	list, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.FileList, error) {
		return s.client.Service().Files.List().
			Q(query).
			PageSize(10).
			OrderBy("createdTime").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields(googleapi.Field("files(" + fileFields + ")")).
			Context(ctx).
			Do()
	})
	if err != nil {
		return nil, err
	}
	switch len(list.Files) {
	case 0:
		return nil, nil
	case 1:
	default:
		s.logger.Warn("Several folders share a name, using the oldest",
			logging.F("name", name),
			logging.F("matches", len(list.Files)),
		)
	}
	f := list.Files[0]
	s.rememberResourceKey(f)
	return toEntry(f, parentID, name), nil
}

// looksLikeID reports whether ref could be a Drive file ID.
func looksLikeID(ref string) bool {
	if len(ref) < 10 {
		return false
	}
	for _, r := range ref {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
			return false
		}
	}
	return true
}

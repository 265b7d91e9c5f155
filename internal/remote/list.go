package remote

import (
	"context"
	"fmt"
	"strings"

	"github.com/dl-alexandre/drivesync/internal/api"
	"github.com/dl-alexandre/drivesync/internal/logging"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// SkipFunc reports whether a relative path should be left out of a listing.
// Skipped folders are not descended into.
type SkipFunc func(relPath string, isDir bool) bool

type remoteNode struct {
	ID   string
	Path string
}

// ListTree lists every file and folder below rootID breadth-first. Each
// folder listing is drained page by page before moving on. Native documents
// get the extension of their export format appended to their name and path;
// native types that cannot be exported are left out, as are names that
// repeat an earlier sibling's exactly or contain a slash.
func (s *DriveStore) ListTree(ctx context.Context, rootID string, skip SkipFunc) ([]types.RemoteEntry, error) {
	reqCtx := api.NewRequestContext(types.RequestTypeListOrSearch)
	var entries []types.RemoteEntry
	queue := []remoteNode{{ID: rootID, Path: ""}}

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		node := queue[0]
		queue = queue[1:]

		children, err := s.listChildren(ctx, reqCtx, node.ID)
		if err != nil {
			return nil, err
		}

		seen := make(map[string]bool, len(children))
		for _, child := range children {
			name := child.Name
			if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
				s.logger.Warn("Skipping remote item with unsupported name",
					logging.F("id", child.Id),
					logging.F("name", name),
					logging.F("parent", node.Path),
				)
				continue
			}

			nativeType := ""
			if child.MimeType != utils.MimeTypeFolder && utils.IsWorkspaceMimeType(child.MimeType) {
				format, ok := ExportFor(child.MimeType)
				if !ok {
					s.logger.Debug("Skipping native item without export format",
						logging.F("id", child.Id),
						logging.F("name", name),
						logging.F("mimeType", child.MimeType),
					)
					continue
				}
				nativeType = child.MimeType
				if !strings.HasSuffix(strings.ToLower(name), format.Extension) {
					name += format.Extension
				}
			}

			if seen[name] {
				s.logger.Warn("Skipping duplicate remote name",
					logging.F("id", child.Id),
					logging.F("name", name),
					logging.F("parent", node.Path),
				)
				continue
			}
			seen[name] = true

			rel := name
			if node.Path != "" {
				rel = node.Path + "/" + name
			}
			entry := toEntry(child, node.ID, rel)
			entry.Name = name
			entry.NativeDocType = nativeType

			if skip != nil && skip(rel, entry.IsDir) {
				continue
			}

			entries = append(entries, *entry)
			if entry.IsDir {
				queue = append(queue, remoteNode{ID: child.Id, Path: rel})
			}
		}
	}

	s.logger.Debug("Remote listing finished",
		logging.F("rootId", rootID),
		logging.F("entries", len(entries)),
	)
	return entries, nil
}

func (s *DriveStore) listChildren(ctx context.Context, reqCtx *types.RequestContext, parentID string) ([]*drive.File, error) {
	query := fmt.Sprintf("'%s' in parents and trashed = false", escapeQueryString(parentID))

	var results []*drive.File
	pageToken := ""
	for {
		call := s.client.Service().Files.List().
			Q(query).
			PageSize(1000).
			OrderBy("createdTime").
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields(googleapi.Field("nextPageToken,files(" + fileFields + ")")).
			Context(ctx)
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}
		if header := s.resourceKeyHeader(parentID); header != "" {
			call.Header().Set(api.ResourceKeyHeader, header)
		}

		list, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.FileList, error) {
			return call.Do()
		})
		if err != nil {
			return nil, err
		}
		for _, f := range list.Files {
			s.rememberResourceKey(f)
			results = append(results, f)
		}
		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}
	return results, nil
}

func escapeQueryString(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "'", "\\'")
	return s
}

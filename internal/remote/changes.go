package remote

import (
	"context"

	"github.com/dl-alexandre/drivesync/internal/api"
	"github.com/dl-alexandre/drivesync/internal/types"
	"github.com/dl-alexandre/drivesync/internal/utils"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
)

// Change is one entry of the Drive changes feed.
type Change struct {
	FileID    string
	ParentIDs []string
	Removed   bool
}

// ChangeSet is everything reported since a page token, plus the token to
// poll from next time.
type ChangeSet struct {
	Changes   []Change
	NextToken string
}

// StartPageToken returns the token marking "now" in the changes feed.
func (s *DriveStore) StartPageToken(ctx context.Context) (string, error) {
	reqCtx := api.NewRequestContext(types.RequestTypeGetByID)
	result, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.StartPageToken, error) {
		return s.client.Service().Changes.GetStartPageToken().
			SupportsAllDrives(true).
			Context(ctx).
			Do()
	})
	if err != nil {
		return "", err
	}
	return result.StartPageToken, nil
}

// Changes reads every page of the changes feed from pageToken onward.
func (s *DriveStore) Changes(ctx context.Context, pageToken string) (*ChangeSet, error) {
	if pageToken == "" {
		return nil, utils.NewAppError(utils.NewCLIError(utils.ErrCodeInvalidArgument,
			"page token is required for listing changes").Build())
	}
	reqCtx := api.NewRequestContext(types.RequestTypeListOrSearch)

	set := &ChangeSet{}
	for {
		call := s.client.Service().Changes.List(pageToken).
			PageSize(1000).
			IncludeRemoved(true).
			SupportsAllDrives(true).
			IncludeItemsFromAllDrives(true).
			Fields(googleapi.Field("nextPageToken,newStartPageToken,changes(fileId,removed,file(id,parents,trashed))")).
			Context(ctx)

		list, err := api.ExecuteWithRetry(ctx, s.client, reqCtx, func() (*drive.ChangeList, error) {
			return call.Do()
		})
		if err != nil {
			return nil, err
		}
		for _, c := range list.Changes {
			change := Change{FileID: c.FileId, Removed: c.Removed}
			if c.File != nil {
				change.ParentIDs = c.File.Parents
				change.Removed = change.Removed || c.File.Trashed
			}
			set.Changes = append(set.Changes, change)
		}
		if list.NewStartPageToken != "" {
			set.NextToken = list.NewStartPageToken
			return set, nil
		}
		if list.NextPageToken == "" {
			set.NextToken = pageToken
			return set, nil
		}
		pageToken = list.NextPageToken
	}
}

// Touches reports whether any change concerns one of the given file or
// folder IDs, either directly or through a parent.
func (cs *ChangeSet) Touches(ids map[string]bool) bool {
	for _, c := range cs.Changes {
		if ids[c.FileID] {
			return true
		}
		for _, p := range c.ParentIDs {
			if ids[p] {
				return true
			}
		}
	}
	return false
}

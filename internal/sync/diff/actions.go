package diff

import (
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
)

type ActionType string

const (
	ActionUpload       ActionType = "upload"
	ActionDownload     ActionType = "download"
	ActionDeleteLocal  ActionType = "delete_local"
	ActionDeleteRemote ActionType = "delete_remote"
	ActionMkdirLocal   ActionType = "mkdir_local"
	ActionMkdirRemote  ActionType = "mkdir_remote"
	ActionUnchanged    ActionType = "unchanged"
)

// Action is one planned step. Path is the local relative path the step
// reads or writes; for items that only exist remotely it is the remote path
// with parent folders re-cased to match existing local folders.
type Action struct {
	Type     ActionType
	Path     string
	RemoteID string
	Local    *types.LocalEntry
	Remote   *types.RemoteEntry
	Tracked  *index.Record
	Retry    bool
}

// IsUpdate reports an upload that overwrites an existing remote file in place.
func (a Action) IsUpdate() bool {
	return a.Type == ActionUpload && a.RemoteID != ""
}

type ConflictKind string

const (
	ConflictBothModified ConflictKind = "both_modified"
	ConflictTypeMismatch ConflictKind = "type_mismatch"
)

type Conflict struct {
	Path    string
	Kind    ConflictKind
	Local   *types.LocalEntry
	Remote  *types.RemoteEntry
	Tracked *index.Record
}

// Skip is an item the planner saw but will not act on.
type Skip struct {
	Path   string
	Reason string
}

type Mode string

const (
	ModePush          Mode = "push"
	ModePull          Mode = "pull"
	ModeBidirectional Mode = "bidirectional"
)

// Plan is the categorized output of Compute. Folder creates are ordered
// shallow-first and deletes deep-first.
type Plan struct {
	MkdirRemote  []Action
	MkdirLocal   []Action
	Uploads      []Action
	Downloads    []Action
	DeleteLocal  []Action
	DeleteRemote []Action
	Conflicts    []Conflict
	Unchanged    []Action
	Stale        []string
	Skipped      []Skip
}

// Total counts the items that move bytes, touch either tree or need a decision.
func (p *Plan) Total() int {
	return len(p.MkdirRemote) + len(p.MkdirLocal) + len(p.Uploads) + len(p.Downloads) +
		len(p.DeleteLocal) + len(p.DeleteRemote) + len(p.Conflicts)
}

// Empty reports a plan with nothing to execute. Unchanged refreshes and
// stale record cleanup do not count.
func (p *Plan) Empty() bool {
	return p.Total() == 0
}

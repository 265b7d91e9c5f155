package conflict

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/utils"
)

type Strategy string

const (
	KeepLocal  Strategy = "keep_local"
	KeepRemote Strategy = "keep_remote"
	KeepNewest Strategy = "keep_newest"
	KeepBoth   Strategy = "keep_both"
	AskUser    Strategy = "ask_user"
)

// Strategies lists every accepted strategy name.
var Strategies = []Strategy{KeepLocal, KeepRemote, KeepNewest, KeepBoth, AskUser}

func ParseStrategy(s string) (Strategy, error) {
	normalized := Strategy(strings.ReplaceAll(strings.ToLower(strings.TrimSpace(s)), "-", "_"))
	switch normalized {
	case "local":
		return KeepLocal, nil
	case "remote":
		return KeepRemote, nil
	case "newest":
		return KeepNewest, nil
	case "both":
		return KeepBoth, nil
	case "ask":
		return AskUser, nil
	}
	for _, known := range Strategies {
		if normalized == known {
			return known, nil
		}
	}
	return "", fmt.Errorf("unknown conflict strategy: %s", s)
}

// Resolution is the outcome for one conflict. A pending resolution carries
// no actions. When RenameLocalTo is set the local file must be moved there
// before the actions run.
type Resolution struct {
	Strategy      Strategy
	Pending       bool
	RenameLocalTo string
	Actions       []diff.Action
}

// Resolve maps a conflict and a strategy onto the actions that settle it.
// It is pure; now only feeds the conflict name generated by KeepBoth.
// Type mismatches always stay pending. A native document can never be
// overwritten by an upload, so a local win against one keeps both copies.
func Resolve(c diff.Conflict, strategy Strategy, now time.Time) Resolution {
	if strategy == AskUser || c.Kind == diff.ConflictTypeMismatch || c.Local == nil || c.Remote == nil {
		return Resolution{Strategy: strategy, Pending: true}
	}

	effective := strategy
	if effective == KeepNewest {
		if c.Remote.ModifiedTime.After(c.Local.ModifiedTime) {
			effective = KeepRemote
		} else {
			effective = KeepLocal
		}
	}
	if effective == KeepLocal && c.Remote.IsNative() {
		effective = KeepBoth
	}

	switch effective {
	case KeepLocal:
		return Resolution{Strategy: strategy, Actions: []diff.Action{{
			Type:     diff.ActionUpload,
			Path:     c.Path,
			RemoteID: c.Remote.ID,
			Local:    c.Local,
			Remote:   c.Remote,
			Tracked:  c.Tracked,
		}}}
	case KeepRemote:
		return Resolution{Strategy: strategy, Actions: []diff.Action{download(c)}}
	case KeepBoth:
		renamed := Name(c.Path, now)
		local := *c.Local
		local.RelativePath = renamed
		local.Name = path.Base(renamed)
		return Resolution{
			Strategy:      strategy,
			RenameLocalTo: renamed,
			Actions: []diff.Action{
				{Type: diff.ActionUpload, Path: renamed, Local: &local},
				download(c),
			},
		}
	}
	return Resolution{Strategy: strategy, Pending: true}
}

func download(c diff.Conflict) diff.Action {
	return diff.Action{
		Type:     diff.ActionDownload,
		Path:     c.Path,
		RemoteID: c.Remote.ID,
		Local:    c.Local,
		Remote:   c.Remote,
		Tracked:  c.Tracked,
	}
}

// Name returns the disambiguated path for a kept-both local copy:
// "dir/report (conflict 20240601-120000).docx". The suffix goes before the
// final extension; dotfiles without another dot have no extension.
func Name(relPath string, now time.Time) string {
	dir, file := path.Split(relPath)
	ext := path.Ext(file)
	base := strings.TrimSuffix(file, ext)
	if base == "" {
		base, ext = file, ""
	}
	return dir + base + " (conflict " + now.UTC().Format(utils.ConflictSuffixLayout) + ")" + ext
}

package diff

import (
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
)

const (
	reasonNativeReadOnly = "native document is download-only"
	reasonCaseCollision  = "another entry differs only by letter case"
)

type Snapshot struct {
	Local   []types.LocalEntry
	Remote  []types.RemoteEntry
	Tracked []index.Record
}

type Options struct {
	Tolerance time.Duration
	Mode      Mode
}

type planner struct {
	opts          Options
	localFiles    map[string]types.LocalEntry
	localFolders  map[string]types.LocalEntry
	remoteFiles   map[string]types.RemoteEntry
	remoteFolders map[string]types.RemoteEntry
	tracked       map[string]index.Record
	plan          *Plan
}

// Compute builds the plan for one run. It is pure: it reads the snapshot and
// never touches either tree or the tracking store. Paths are matched
// case-insensitively.
func Compute(snapshot Snapshot, opts Options) *Plan {
	if opts.Mode == "" {
		opts.Mode = ModeBidirectional
	}
	p := &planner{
		opts:          opts,
		localFiles:    make(map[string]types.LocalEntry),
		localFolders:  make(map[string]types.LocalEntry),
		remoteFiles:   make(map[string]types.RemoteEntry),
		remoteFolders: make(map[string]types.RemoteEntry),
		tracked:       make(map[string]index.Record),
		plan:          &Plan{},
	}
	p.index(snapshot)

	keys := make(map[string]struct{})
	for k := range p.localFiles {
		keys[k] = struct{}{}
	}
	for k := range p.localFolders {
		keys[k] = struct{}{}
	}
	for k := range p.remoteFiles {
		keys[k] = struct{}{}
	}
	for k := range p.remoteFolders {
		keys[k] = struct{}{}
	}

	sorted := make([]string, 0, len(keys))
	for k := range keys {
		sorted = append(sorted, k)
	}
	sort.Strings(sorted)

	for _, key := range sorted {
		p.plan1(key)
	}

	for key, record := range p.tracked {
		if _, ok := keys[key]; !ok {
			p.plan.Stale = append(p.plan.Stale, record.RelativePath)
		}
	}
	sort.Strings(p.plan.Stale)

	p.guardFolderDeletes()
	p.filterMode()
	p.order()
	return p.plan
}

func (p *planner) index(s Snapshot) {
	for _, e := range s.Local {
		key := strings.ToLower(e.RelativePath)
		_, dupFile := p.localFiles[key]
		_, dupFolder := p.localFolders[key]
		if dupFile || dupFolder {
			p.skip(e.RelativePath, reasonCaseCollision)
			continue
		}
		if e.IsDir {
			p.localFolders[key] = e
		} else {
			p.localFiles[key] = e
		}
	}
	for _, e := range s.Remote {
		key := strings.ToLower(e.RelativePath)
		_, dupFile := p.remoteFiles[key]
		_, dupFolder := p.remoteFolders[key]
		if dupFile || dupFolder {
			p.skip(e.RelativePath, reasonCaseCollision)
			continue
		}
		if e.IsDir {
			p.remoteFolders[key] = e
		} else {
			p.remoteFiles[key] = e
		}
	}
	for _, r := range s.Tracked {
		p.tracked[strings.ToLower(r.RelativePath)] = r
	}
}

func (p *planner) plan1(key string) {
	lf, hasLF := p.localFiles[key]
	ld, hasLD := p.localFolders[key]
	rf, hasRF := p.remoteFiles[key]
	rd, hasRD := p.remoteFolders[key]
	tracked := p.trackedPtr(key)

	switch {
	case hasLF && hasRD:
		p.conflict(ConflictTypeMismatch, lf.RelativePath, &lf, &rd, tracked)
	case hasLD && hasRF:
		p.conflict(ConflictTypeMismatch, ld.RelativePath, &ld, &rf, tracked)
	case hasLF || hasRF:
		p.planFile(localPtr(hasLF, lf), remotePtr(hasRF, rf), tracked)
	default:
		p.planFolder(localPtr(hasLD, ld), remotePtr(hasRD, rd), tracked)
	}
}

func (p *planner) planFile(local *types.LocalEntry, remote *types.RemoteEntry, tracked *index.Record) {
	if tracked != nil && tracked.IsDir {
		tracked = nil
	}

	switch {
	case local != nil && remote != nil:
		p.planBothFiles(local, remote, tracked)

	case local != nil:
		if tracked != nil {
			// An unfinished transfer in either direction is retried, never
			// read as a deletion.
			if tracked.Status.NeedsRetry() {
				p.add(&p.plan.Uploads, Action{Type: ActionUpload, Path: local.RelativePath, RemoteID: tracked.RemoteID, Local: local, Tracked: tracked, Retry: true})
				return
			}
			if tracked.Confirmed() && !p.localChanged(local, tracked) {
				p.add(&p.plan.DeleteLocal, Action{Type: ActionDeleteLocal, Path: local.RelativePath, RemoteID: tracked.RemoteID, Local: local, Tracked: tracked})
				return
			}
		}
		p.add(&p.plan.Uploads, Action{Type: ActionUpload, Path: local.RelativePath, Local: local, Tracked: tracked})

	case remote != nil:
		target := p.localPathFor(remote.RelativePath)
		if tracked != nil {
			if tracked.Status.NeedsRetry() {
				p.add(&p.plan.Downloads, Action{Type: ActionDownload, Path: target, RemoteID: remote.ID, Remote: remote, Tracked: tracked, Retry: true})
				return
			}
			if tracked.Confirmed() && !p.remoteChanged(remote, tracked) {
				p.add(&p.plan.DeleteRemote, Action{Type: ActionDeleteRemote, Path: remote.RelativePath, RemoteID: remote.ID, Remote: remote, Tracked: tracked})
				return
			}
		}
		p.add(&p.plan.Downloads, Action{Type: ActionDownload, Path: target, RemoteID: remote.ID, Remote: remote, Tracked: tracked})
	}
}

func (p *planner) planBothFiles(local *types.LocalEntry, remote *types.RemoteEntry, tracked *index.Record) {
	if hashesEqual(local.ContentHash, remote.ContentHash) {
		p.unchanged(local, remote, tracked)
		return
	}

	upload := Action{Type: ActionUpload, Path: local.RelativePath, RemoteID: remote.ID, Local: local, Remote: remote, Tracked: tracked}
	download := Action{Type: ActionDownload, Path: local.RelativePath, RemoteID: remote.ID, Local: local, Remote: remote, Tracked: tracked}

	if tracked != nil && !tracked.LastSyncTime.IsZero() {
		localChanged := p.localChanged(local, tracked)
		remoteChanged := p.remoteChanged(remote, tracked)
		switch {
		case localChanged && remoteChanged:
			p.conflict(ConflictBothModified, local.RelativePath, local, remote, tracked)
		case localChanged:
			p.uploadOver(upload)
		case remoteChanged:
			p.add(&p.plan.Downloads, download)
		default:
			p.unchanged(local, remote, tracked)
		}
		return
	}

	delta := local.ModifiedTime.Sub(remote.ModifiedTime)
	switch {
	case absDuration(delta) <= p.opts.Tolerance:
		if local.ContentHash != "" && remote.ContentHash != "" {
			p.conflict(ConflictBothModified, local.RelativePath, local, remote, tracked)
		} else if local.Size == remote.Size || remote.IsNative() {
			p.unchanged(local, remote, tracked)
		} else {
			p.conflict(ConflictBothModified, local.RelativePath, local, remote, tracked)
		}
	case delta > 0:
		p.uploadOver(upload)
	default:
		p.add(&p.plan.Downloads, download)
	}
}

// uploadOver schedules an in-place update unless the remote side is a native
// document, which cannot receive uploaded bytes.
func (p *planner) uploadOver(a Action) {
	if a.Remote != nil && a.Remote.IsNative() {
		p.skip(a.Path, reasonNativeReadOnly)
		return
	}
	p.add(&p.plan.Uploads, a)
}

func (p *planner) planFolder(local *types.LocalEntry, remote *types.RemoteEntry, tracked *index.Record) {
	if tracked != nil && !tracked.IsDir {
		tracked = nil
	}

	switch {
	case local != nil && remote != nil:
		p.unchanged(local, remote, tracked)
	case local != nil:
		if tracked != nil && tracked.Confirmed() {
			p.add(&p.plan.DeleteLocal, Action{Type: ActionDeleteLocal, Path: local.RelativePath, RemoteID: tracked.RemoteID, Local: local, Tracked: tracked})
			return
		}
		p.add(&p.plan.MkdirRemote, Action{Type: ActionMkdirRemote, Path: local.RelativePath, Local: local, Tracked: tracked})
	case remote != nil:
		if tracked != nil && tracked.Confirmed() {
			p.add(&p.plan.DeleteRemote, Action{Type: ActionDeleteRemote, Path: remote.RelativePath, RemoteID: remote.ID, Remote: remote, Tracked: tracked})
			return
		}
		p.add(&p.plan.MkdirLocal, Action{Type: ActionMkdirLocal, Path: p.localPathFor(remote.RelativePath), RemoteID: remote.ID, Remote: remote, Tracked: tracked})
	}
}

// guardFolderDeletes keeps a folder whose other side vanished when new
// content below it is about to be transferred into it; the folder is
// recreated on the side where it disappeared instead.
func (p *planner) guardFolderDeletes() {
	kept := p.plan.DeleteLocal[:0]
	for _, a := range p.plan.DeleteLocal {
		if a.Local != nil && a.Local.IsDir && hasDescendant(p.plan.Uploads, a.Path) {
			p.plan.MkdirRemote = append(p.plan.MkdirRemote, Action{Type: ActionMkdirRemote, Path: a.Path, Local: a.Local, Tracked: a.Tracked})
			continue
		}
		kept = append(kept, a)
	}
	p.plan.DeleteLocal = kept

	keptRemote := p.plan.DeleteRemote[:0]
	for _, a := range p.plan.DeleteRemote {
		if a.Remote != nil && a.Remote.IsDir && hasDescendant(p.plan.Downloads, a.Path) {
			p.plan.MkdirLocal = append(p.plan.MkdirLocal, Action{Type: ActionMkdirLocal, Path: p.localPathFor(a.Path), RemoteID: a.RemoteID, Remote: a.Remote, Tracked: a.Tracked})
			continue
		}
		keptRemote = append(keptRemote, a)
	}
	p.plan.DeleteRemote = keptRemote
}

func hasDescendant(actions []Action, folder string) bool {
	prefix := strings.ToLower(folder) + "/"
	for _, a := range actions {
		if strings.HasPrefix(strings.ToLower(a.Path), prefix) {
			return true
		}
	}
	return false
}

func (p *planner) filterMode() {
	switch p.opts.Mode {
	case ModePush:
		for _, list := range []*[]Action{&p.plan.Downloads, &p.plan.DeleteLocal, &p.plan.MkdirLocal} {
			p.skipAll(list, "pull action in push mode")
		}
	case ModePull:
		for _, list := range []*[]Action{&p.plan.Uploads, &p.plan.DeleteRemote, &p.plan.MkdirRemote} {
			p.skipAll(list, "push action in pull mode")
		}
	}
}

func (p *planner) skipAll(list *[]Action, reason string) {
	for _, a := range *list {
		p.skip(a.Path, reason)
	}
	*list = nil
}

func (p *planner) order() {
	sortByPath(p.plan.Uploads)
	sortByPath(p.plan.Downloads)
	sortByPath(p.plan.Unchanged)
	shallowFirst(p.plan.MkdirRemote)
	shallowFirst(p.plan.MkdirLocal)
	deepFirst(p.plan.DeleteLocal)
	deepFirst(p.plan.DeleteRemote)
	sort.Slice(p.plan.Conflicts, func(i, j int) bool {
		return p.plan.Conflicts[i].Path < p.plan.Conflicts[j].Path
	})
	sort.SliceStable(p.plan.Skipped, func(i, j int) bool {
		return p.plan.Skipped[i].Path < p.plan.Skipped[j].Path
	})
}

func depth(p string) int {
	return strings.Count(p, "/")
}

func sortByPath(actions []Action) {
	sort.Slice(actions, func(i, j int) bool { return actions[i].Path < actions[j].Path })
}

func shallowFirst(actions []Action) {
	sort.Slice(actions, func(i, j int) bool {
		di, dj := depth(actions[i].Path), depth(actions[j].Path)
		if di != dj {
			return di < dj
		}
		return actions[i].Path < actions[j].Path
	})
}

func deepFirst(actions []Action) {
	sort.Slice(actions, func(i, j int) bool {
		di, dj := depth(actions[i].Path), depth(actions[j].Path)
		if di != dj {
			return di > dj
		}
		return actions[i].Path < actions[j].Path
	})
}

// localChanged reports whether the local side moved on since the last
// confirmed sync. Hashes decide when both are known; otherwise the
// modification time is compared against the sync time plus the tolerance.
func (p *planner) localChanged(local *types.LocalEntry, tracked *index.Record) bool {
	if local.ContentHash != "" && tracked.LocalHash != "" {
		return !strings.EqualFold(local.ContentHash, tracked.LocalHash)
	}
	return local.ModifiedTime.After(tracked.LastSyncTime.Add(p.opts.Tolerance))
}

func (p *planner) remoteChanged(remote *types.RemoteEntry, tracked *index.Record) bool {
	if remote.ContentHash != "" && tracked.RemoteHash != "" {
		return !strings.EqualFold(remote.ContentHash, tracked.RemoteHash)
	}
	return remote.ModifiedTime.After(tracked.LastSyncTime.Add(p.opts.Tolerance))
}

// localPathFor maps a remote relative path onto the local tree, reusing the
// letter case of any local parent folder that already exists.
func (p *planner) localPathFor(remotePath string) string {
	dir, name := path.Split(remotePath)
	dir = strings.TrimSuffix(dir, "/")
	if dir == "" {
		return remotePath
	}
	if folder, ok := p.localFolders[strings.ToLower(dir)]; ok {
		return folder.RelativePath + "/" + name
	}
	return p.localPathFor(dir) + "/" + name
}

func (p *planner) add(list *[]Action, a Action) {
	*list = append(*list, a)
}

func (p *planner) unchanged(local *types.LocalEntry, remote *types.RemoteEntry, tracked *index.Record) {
	p.plan.Unchanged = append(p.plan.Unchanged, Action{
		Type:     ActionUnchanged,
		Path:     local.RelativePath,
		RemoteID: remote.ID,
		Local:    local,
		Remote:   remote,
		Tracked:  tracked,
	})
}

func (p *planner) conflict(kind ConflictKind, relPath string, local *types.LocalEntry, remote *types.RemoteEntry, tracked *index.Record) {
	p.plan.Conflicts = append(p.plan.Conflicts, Conflict{
		Path:    relPath,
		Kind:    kind,
		Local:   local,
		Remote:  remote,
		Tracked: tracked,
	})
}

func (p *planner) skip(relPath, reason string) {
	p.plan.Skipped = append(p.plan.Skipped, Skip{Path: relPath, Reason: reason})
}

func (p *planner) trackedPtr(key string) *index.Record {
	r, ok := p.tracked[key]
	if !ok {
		return nil
	}
	return &r
}

func localPtr(ok bool, e types.LocalEntry) *types.LocalEntry {
	if !ok {
		return nil
	}
	return &e
}

func remotePtr(ok bool, e types.RemoteEntry) *types.RemoteEntry {
	if !ok {
		return nil
	}
	return &e
}

func hashesEqual(a, b string) bool {
	return a != "" && b != "" && strings.EqualFold(a, b)
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

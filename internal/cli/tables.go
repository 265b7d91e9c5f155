package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	syncengine "github.com/dl-alexandre/drivesync/internal/sync"
	"github.com/dl-alexandre/drivesync/internal/sync/diff"
	"github.com/dl-alexandre/drivesync/internal/sync/index"
	"github.com/dl-alexandre/drivesync/internal/types"
)

const timeLayout = "2006-01-02 15:04:05"

// staticTable is a TableRenderer over precomputed rows.
type staticTable struct {
	headers []string
	rows    [][]string
	empty   string
}

func (t staticTable) Headers() []string    { return t.headers }
func (t staticTable) Rows() [][]string     { return t.rows }
func (t staticTable) EmptyMessage() string { return t.empty }

func keyValueTable(data map[string]interface{}) staticTable {
	keys := make([]string, 0, len(data))
	for k := range data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	t := staticTable{headers: []string{"Key", "Value"}, empty: "Nothing to show"}
	for _, k := range keys {
		t.rows = append(t.rows, []string{k, fmt.Sprintf("%v", data[k])})
	}
	return t
}

// syncResultOutput is the data of the sync and conflicts resolve commands.
type syncResultOutput struct {
	*types.SyncResult
}

func (o syncResultOutput) AsTableRenderer() types.TableRenderer {
	r := o.SyncResult
	t := staticTable{headers: []string{"Item", "Value"}}
	t.rows = [][]string{
		{"Pair", r.PairID},
		{"State", string(r.State)},
	}
	if r.AlreadyRunning {
		t.rows = append(t.rows, []string{"Already running", "yes"})
		return t
	}
	t.rows = append(t.rows,
		[]string{"Uploaded", strconv.Itoa(r.Uploaded)},
		[]string{"Downloaded", strconv.Itoa(r.Downloaded)},
		[]string{"Deleted locally", strconv.Itoa(r.DeletedLocal)},
		[]string{"Deleted remotely", strconv.Itoa(r.DeletedRemote)},
		[]string{"Folders created", strconv.Itoa(r.FoldersCreated)},
		[]string{"Unchanged", strconv.Itoa(r.Unchanged)},
		[]string{"Skipped", strconv.Itoa(r.Skipped)},
		[]string{"Transferred", formatSize(r.BytesTransferred)},
		[]string{"Duration", r.Duration.Round(time.Millisecond).String()},
	)
	for _, e := range r.Errors {
		t.rows = append(t.rows, []string{"Error", fmt.Sprintf("%s %s: %s", e.Action, e.RelativePath, e.Code)})
	}
	for _, c := range r.Conflicts {
		t.rows = append(t.rows, []string{"Conflict", fmt.Sprintf("%s (%s)", c.RelativePath, c.Kind)})
	}
	return t
}

type plannedAction struct {
	Action string `json:"action"`
	Path   string `json:"path"`
	Size   int64  `json:"size,omitempty"`
	Note   string `json:"note,omitempty"`
}

// previewOutput is the data of the status command.
type previewOutput struct {
	PairID    string               `json:"pairId"`
	Actions   []plannedAction      `json:"actions"`
	Conflicts []types.ConflictInfo `json:"conflicts"`
	Unchanged int                  `json:"unchanged"`
}

func newPreviewOutput(pairID string, preview *syncengine.Preview, now time.Time) previewOutput {
	out := previewOutput{
		PairID:    pairID,
		Actions:   []plannedAction{},
		Conflicts: []types.ConflictInfo{},
		Unchanged: len(preview.Plan.Unchanged),
	}
	add := func(actions []diff.Action) {
		for _, a := range actions {
			pa := plannedAction{Action: string(a.Type), Path: a.Path}
			switch {
			case a.Local != nil && a.Type == diff.ActionUpload:
				pa.Size = a.Local.Size
			case a.Remote != nil:
				pa.Size = a.Remote.Size
			}
			if a.Retry {
				pa.Note = "retry"
			}
			out.Actions = append(out.Actions, pa)
		}
	}
	p := preview.Plan
	add(p.MkdirRemote)
	add(p.MkdirLocal)
	add(p.Uploads)
	add(p.Downloads)
	add(p.DeleteLocal)
	add(p.DeleteRemote)
	for _, r := range preview.Resolved {
		for _, a := range r.Resolution.Actions {
			pa := plannedAction{Action: string(a.Type), Path: a.Path, Note: "resolve " + string(r.Resolution.Strategy)}
			if r.Resolution.RenameLocalTo != "" {
				pa.Note += " (local kept as " + r.Resolution.RenameLocalTo + ")"
			}
			out.Actions = append(out.Actions, pa)
		}
	}
	for _, s := range p.Skipped {
		out.Actions = append(out.Actions, plannedAction{Action: "skip", Path: s.Path, Note: s.Reason})
	}
	out.Conflicts = conflictInfos(preview.Pending, now)
	return out
}

func (o previewOutput) AsTableRenderer() types.TableRenderer {
	t := staticTable{
		headers: []string{"Action", "Path", "Size", "Note"},
		empty:   fmt.Sprintf("Pair %s is in sync (%d unchanged)", o.PairID, o.Unchanged),
	}
	for _, a := range o.Actions {
		size := "-"
		if a.Size > 0 {
			size = formatSize(a.Size)
		}
		t.rows = append(t.rows, []string{a.Action, truncate(a.Path, 60), size, a.Note})
	}
	for _, c := range o.Conflicts {
		t.rows = append(t.rows, []string{"conflict", truncate(c.RelativePath, 60), "-", c.Kind})
	}
	return t
}

func conflictInfos(pending []diff.Conflict, now time.Time) []types.ConflictInfo {
	infos := make([]types.ConflictInfo, 0, len(pending))
	for _, c := range pending {
		infos = append(infos, types.ConflictInfo{
			RelativePath: c.Path,
			Kind:         string(c.Kind),
			Local:        c.Local,
			Remote:       c.Remote,
			DetectedAt:   now,
		})
	}
	return infos
}

// conflictsOutput is the data of the conflicts list command.
type conflictsOutput struct {
	PairID    string               `json:"pairId"`
	Conflicts []types.ConflictInfo `json:"conflicts"`
}

func (o conflictsOutput) AsTableRenderer() types.TableRenderer {
	t := staticTable{
		headers: []string{"Path", "Kind", "Local Modified", "Remote Modified"},
		empty:   "No pending conflicts",
	}
	for _, c := range o.Conflicts {
		local, remote := "-", "-"
		if c.Local != nil {
			local = c.Local.ModifiedTime.Local().Format(timeLayout)
		}
		if c.Remote != nil {
			remote = c.Remote.ModifiedTime.Local().Format(timeLayout)
		}
		t.rows = append(t.rows, []string{truncate(c.RelativePath, 60), c.Kind, local, remote})
	}
	return t
}

// pairView is the JSON shape of a sync pair.
type pairView struct {
	ID             string    `json:"id"`
	LocalRoot      string    `json:"localRoot"`
	RemoteRootID   string    `json:"remoteRootId"`
	RemoteRootPath string    `json:"remoteRootPath,omitempty"`
	Strategy       string    `json:"strategy,omitempty"`
	Mode           string    `json:"mode,omitempty"`
	Exclude        []string  `json:"exclude,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
	LastRunAt      time.Time `json:"lastRunAt,omitempty"`
	LastState      string    `json:"lastState,omitempty"`
}

func newPairView(p index.Pair) pairView {
	return pairView{
		ID:             p.ID,
		LocalRoot:      p.LocalRoot,
		RemoteRootID:   p.RemoteRootID,
		RemoteRootPath: p.RemoteRootPath,
		Strategy:       p.Strategy,
		Mode:           p.Mode,
		Exclude:        p.Exclude,
		CreatedAt:      p.CreatedAt,
		LastRunAt:      p.LastRunAt,
		LastState:      p.LastState,
	}
}

type pairsOutput struct {
	Pairs []pairView `json:"pairs"`
}

func (o pairsOutput) AsTableRenderer() types.TableRenderer {
	t := staticTable{
		headers: []string{"ID", "Local", "Remote", "Mode", "Strategy", "Last Run"},
		empty:   "No sync pairs configured",
	}
	for _, p := range o.Pairs {
		remote := p.RemoteRootPath
		if remote == "" {
			remote = p.RemoteRootID
		}
		lastRun := "never"
		if !p.LastRunAt.IsZero() {
			lastRun = p.LastRunAt.Local().Format(timeLayout) + " " + p.LastState
		}
		t.rows = append(t.rows, []string{
			truncate(p.ID, 36),
			truncate(p.LocalRoot, 40),
			truncate(remote, 40),
			orDefault(p.Mode, "default"),
			orDefault(p.Strategy, "default"),
			lastRun,
		})
	}
	return t
}

func (p pairView) AsTableRenderer() types.TableRenderer {
	return pairsOutput{Pairs: []pairView{p}}.AsTableRenderer()
}

type logRow struct {
	Timestamp        time.Time `json:"timestamp"`
	Action           string    `json:"action"`
	Path             string    `json:"path"`
	Success          bool      `json:"success"`
	Error            string    `json:"error,omitempty"`
	BytesTransferred int64     `json:"bytesTransferred"`
	DurationMs       int64     `json:"durationMs"`
}

// logOutput is the data of the log command.
type logOutput struct {
	PairID  string   `json:"pairId"`
	Entries []logRow `json:"entries"`
}

func newLogOutput(pairID string, entries []index.LogEntry) logOutput {
	out := logOutput{PairID: pairID, Entries: make([]logRow, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, logRow{
			Timestamp:        e.Timestamp,
			Action:           e.Action,
			Path:             e.Path,
			Success:          e.Success,
			Error:            e.Error,
			BytesTransferred: e.BytesTransferred,
			DurationMs:       e.Duration.Milliseconds(),
		})
	}
	return out
}

func (o logOutput) AsTableRenderer() types.TableRenderer {
	t := staticTable{
		headers: []string{"Time", "Action", "Path", "Result", "Size"},
		empty:   "No log entries",
	}
	for _, e := range o.Entries {
		result := "ok"
		if !e.Success {
			result = "failed: " + truncate(e.Error, 40)
		}
		size := "-"
		if e.BytesTransferred > 0 {
			size = formatSize(e.BytesTransferred)
		}
		t.rows = append(t.rows, []string{
			e.Timestamp.Local().Format(timeLayout),
			e.Action,
			truncate(e.Path, 50),
			result,
			size,
		})
	}
	return t
}

func orDefault(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

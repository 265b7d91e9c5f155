package types

import "time"

// SyncState is the engine's live state
type SyncState string

const (
	SyncStateIdle      SyncState = "idle"
	SyncStateScanning  SyncState = "scanning"
	SyncStateComparing SyncState = "comparing"
	SyncStateSyncing   SyncState = "syncing"
	SyncStateCompleted SyncState = "completed"
	SyncStateError     SyncState = "error"
	SyncStateCancelled SyncState = "cancelled"
)

// Terminal reports whether the state ends a run
func (s SyncState) Terminal() bool {
	switch s {
	case SyncStateCompleted, SyncStateError, SyncStateCancelled:
		return true
	}
	return false
}

// SyncProgress is delivered to progress observers while a run executes
type SyncProgress struct {
	State            SyncState `json:"state"`
	Total            int       `json:"total"`
	Completed        int       `json:"completed"`
	CurrentPath      string    `json:"currentPath,omitempty"`
	BytesTransferred int64     `json:"bytesTransferred"`
}

// ConflictInfo snapshots both sides of a path that needs a decision
type ConflictInfo struct {
	RelativePath string       `json:"relativePath"`
	Kind         string       `json:"kind"`
	Local        *LocalEntry  `json:"local,omitempty"`
	Remote       *RemoteEntry `json:"remote,omitempty"`
	DetectedAt   time.Time    `json:"detectedAt"`
}

// ItemError records one failed plan item
type ItemError struct {
	Action       string `json:"action"`
	RelativePath string `json:"relativePath"`
	Code         string `json:"code"`
	Message      string `json:"message"`
}

// SyncResult summarizes one run
type SyncResult struct {
	PairID           string         `json:"pairId"`
	State            SyncState      `json:"state"`
	AlreadyRunning   bool           `json:"alreadyRunning,omitempty"`
	Uploaded         int            `json:"uploaded"`
	Downloaded       int            `json:"downloaded"`
	DeletedLocal     int            `json:"deletedLocal"`
	DeletedRemote    int            `json:"deletedRemote"`
	FoldersCreated   int            `json:"foldersCreated"`
	Unchanged        int            `json:"unchanged"`
	Skipped          int            `json:"skipped"`
	BytesTransferred int64          `json:"bytesTransferred"`
	Errors           []ItemError    `json:"errors"`
	Conflicts        []ConflictInfo `json:"conflicts"`
	StartedAt        time.Time      `json:"startedAt"`
	Duration         time.Duration  `json:"durationNs"`
}

// Success is true only when nothing failed and nothing awaits a decision
func (r *SyncResult) Success() bool {
	return r.State == SyncStateCompleted && len(r.Errors) == 0 && len(r.Conflicts) == 0
}

package index

import "time"

// RecordStatus is the lifecycle state of a tracked record.
type RecordStatus string

const (
	StatusSynced          RecordStatus = "synced"
	StatusPendingUpload   RecordStatus = "pending_upload"
	StatusPendingDownload RecordStatus = "pending_download"
	StatusErrorUpload     RecordStatus = "error_upload"
	StatusErrorDownload   RecordStatus = "error_download"
)

// NeedsRetry reports a transfer that started but never reached a confirmed state.
func (s RecordStatus) NeedsRetry() bool {
	return s != StatusSynced && s != ""
}

// Record is the last confirmed state of one path in a sync pair.
type Record struct {
	PairID       string
	RelativePath string
	RemoteID     string
	IsDir        bool
	Size         int64
	LocalMTime   time.Time
	RemoteMTime  time.Time
	LocalHash    string
	RemoteHash   string
	Status       RecordStatus
	LastSyncTime time.Time
}

// Confirmed reports whether the path was seen on both sides at LastSyncTime.
// Its absence from either tree is then evidence of a deletion.
func (r Record) Confirmed() bool {
	return r.RemoteID != "" && !r.LastSyncTime.IsZero()
}

// LogEntry is one row of the append-only audit log.
type LogEntry struct {
	ID               int64
	PairID           string
	Timestamp        time.Time
	Action           string
	Path             string
	Success          bool
	Error            string
	BytesTransferred int64
	Duration         time.Duration
}

// Pair binds one local root to one Drive folder.
type Pair struct {
	ID             string
	LocalRoot      string
	RemoteRootID   string
	RemoteRootPath string
	Strategy       string
	Mode           string
	Exclude        []string
	CreatedAt      time.Time
	LastRunAt      time.Time
	LastState      string
}

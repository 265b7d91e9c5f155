package types

import "time"

// LocalEntry is one file or folder found under a local sync root.
type LocalEntry struct {
	RelativePath string    `json:"relativePath"`
	Name         string    `json:"name"`
	IsDir        bool      `json:"isDir"`
	Size         int64     `json:"size,omitempty"`
	ModifiedTime time.Time `json:"modifiedTime"`
	ContentHash  string    `json:"contentHash,omitempty"`
}

// RemoteEntry is one Drive file or folder found under a remote sync root.
// For native documents RelativePath and Name already carry the export
// extension and NativeDocType holds the original Drive MIME type.
type RemoteEntry struct {
	ID            string    `json:"id"`
	ParentID      string    `json:"parentId,omitempty"`
	RelativePath  string    `json:"relativePath"`
	Name          string    `json:"name"`
	IsDir         bool      `json:"isDir"`
	Size          int64     `json:"size,omitempty"`
	ModifiedTime  time.Time `json:"modifiedTime"`
	ContentHash   string    `json:"contentHash,omitempty"`
	MimeType      string    `json:"mimeType,omitempty"`
	NativeDocType string    `json:"nativeDocType,omitempty"`
}

// IsNative reports whether the entry must be exported rather than downloaded.
func (e RemoteEntry) IsNative() bool {
	return e.NativeDocType != ""
}

// ParseDriveTime parses the RFC 3339 timestamps returned by the Drive API.
// An empty or malformed value yields the zero time.
func ParseDriveTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}
	}
	return t
}

// FormatDriveTime formats a timestamp the way the Drive API expects it.
func FormatDriveTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

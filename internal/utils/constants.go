package utils

// Transfer thresholds (binary units)
const (
	UploadMultipartMaxBytes = 5 * 1024 * 1024 // 5 MiB
	UploadChunkSize         = 2 * 1024 * 1024 // 2 MiB
	UploadChunkGranularity  = 256 * 1024      // resumable chunks must be multiples of this
)

// OAuth scopes
const (
	ScopeFull = "https://www.googleapis.com/auth/drive"
	ScopeFile = "https://www.googleapis.com/auth/drive.file"
)

// Drive API base URLs
const (
	DriveAPIBase    = "https://www.googleapis.com/drive/v3"
	DriveUploadBase = "https://www.googleapis.com/upload/drive/v3"
)

// Retry configuration
const (
	DefaultMaxAttempts  = 5
	DefaultRetryDelayMs = 1000
	MaxRetryDelayMs     = 32000
)

// Sync defaults
const (
	DefaultTimeToleranceMs = 2000
	DefaultConcurrency     = 1
	MaxConcurrency         = 16
	PartialDownloadSuffix  = ".drivesync-partial"
	IgnoreFileName         = ".drivesyncignore"
	ConflictSuffixLayout   = "20060102-150405"
)

// Schema version
const SchemaVersion = "1.0"

// Google Workspace MIME types
const (
	MimeTypeDocument     = "application/vnd.google-apps.document"
	MimeTypeSpreadsheet  = "application/vnd.google-apps.spreadsheet"
	MimeTypePresentation = "application/vnd.google-apps.presentation"
	MimeTypeDrawing      = "application/vnd.google-apps.drawing"
	MimeTypeForm         = "application/vnd.google-apps.form"
	MimeTypeScript       = "application/vnd.google-apps.script"
	MimeTypeSite         = "application/vnd.google-apps.site"
	MimeTypeFolder       = "application/vnd.google-apps.folder"
	MimeTypeShortcut     = "application/vnd.google-apps.shortcut"

	workspaceMimePrefix = "application/vnd.google-apps."
)

// FormatMappings maps convenience format names to MIME types
var FormatMappings = map[string]string{
	"pdf":  "application/pdf",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"txt":  "text/plain",
	"csv":  "text/csv",
	"png":  "image/png",
}

// IsWorkspaceMimeType checks if a MIME type is a Google Workspace type
func IsWorkspaceMimeType(mimeType string) bool {
	if mimeType == MimeTypeFolder {
		return false
	}
	return len(mimeType) > len(workspaceMimePrefix) && mimeType[:len(workspaceMimePrefix)] == workspaceMimePrefix
}

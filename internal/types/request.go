package types

// RequestType describes the kind of Drive call being made
type RequestType string

const (
	RequestTypeGetByID          RequestType = "GetByID"
	RequestTypeListOrSearch     RequestType = "ListOrSearch"
	RequestTypeMutation         RequestType = "Mutation"
	RequestTypeDownloadOrExport RequestType = "DownloadOrExport"
	RequestTypeUpload           RequestType = "Upload"
)

// RequestContext carries per-request tracing information
type RequestContext struct {
	TraceID     string
	RequestType RequestType
	FileID      string
	Path        string
}

package remote

import "github.com/dl-alexandre/drivesync/internal/utils"

// ExportFormat is how one kind of native Drive document is materialized locally.
type ExportFormat struct {
	MimeType  string
	Extension string
}

var exportFormats = map[string]ExportFormat{
	utils.MimeTypeDocument:     {MimeType: utils.FormatMappings["docx"], Extension: ".docx"},
	utils.MimeTypeSpreadsheet:  {MimeType: utils.FormatMappings["xlsx"], Extension: ".xlsx"},
	utils.MimeTypePresentation: {MimeType: utils.FormatMappings["pptx"], Extension: ".pptx"},
	utils.MimeTypeDrawing:      {MimeType: utils.FormatMappings["png"], Extension: ".png"},
}

// ExportFor returns the export rule for a native document type. Types
// without a rule (forms, sites, scripts, shortcuts) are not synced.
func ExportFor(nativeMimeType string) (ExportFormat, bool) {
	f, ok := exportFormats[nativeMimeType]
	return f, ok
}

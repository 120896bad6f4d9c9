// Package pdf validates source PDFs and writes one PDF per patient group
package pdf

// DefaultDirPerm is used when creating output directories
const DefaultDirPerm = 0o750

// ValidationResult represents the result of a PDF validation
type ValidationResult struct {
	Path    string `json:"path"`
	Valid   bool   `json:"valid"`
	Pages   int    `json:"pages,omitempty"`
	Message string `json:"message,omitempty"`
}

// SplitOutput describes one written group PDF
type SplitOutput struct {
	ReportIndex int    `json:"report_index"`
	Path        string `json:"path"`
	Pages       []int  `json:"pages"` // zero-based source page indexes
}

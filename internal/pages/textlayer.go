package pages

import (
	"fmt"
	"strings"

	"github.com/a3tai/mcp-patient-splitter/internal/segment"
	"github.com/ledongthuc/pdf"
)

// TextLayerConfidence is the confidence assigned to pages read from an
// embedded text layer rather than OCR
const TextLayerConfidence = 100.0

// TextLayerReader builds page records from the embedded text of a
// born-digital PDF, for documents that never went through OCR
type TextLayerReader struct{}

// NewTextLayerReader creates a text layer reader
func NewTextLayerReader() *TextLayerReader {
	return &TextLayerReader{}
}

// Read extracts one PageRecord per PDF page. Pages whose text cannot be
// extracted are reported in Skipped rather than failing the document.
func (t *TextLayerReader) Read(path string) (*LoadResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	total := reader.NumPage()
	result := &LoadResult{Pages: make([]segment.PageRecord, 0, total)}
	for pageNum := 1; pageNum <= total; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			result.Skipped = append(result.Skipped, SkippedPage{Position: pageNum - 1, Reason: "page object missing"})
			continue
		}

		text, err := page.GetPlainText(nil)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedPage{Position: pageNum - 1, Reason: err.Error()})
			continue
		}
		result.Pages = append(result.Pages, ParseText(pageNum-1, text))
	}
	return result, nil
}

// ParseText converts plain page text into a PageRecord. "Label: value"
// lines become fields keyed by the lowercased label; every non-empty line
// also becomes a single-cell row of one table so label lookups can still
// find values the field pass missed.
func ParseText(index int, text string) segment.PageRecord {
	page := segment.PageRecord{
		Index:      index,
		Confidence: TextLayerConfidence,
		Fields:     make(map[string]string),
	}

	var table segment.Table
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		table = append(table, []string{line})

		label, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(label))
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			continue
		}
		// first occurrence on the page wins
		if _, exists := page.Fields[key]; !exists {
			page.Fields[key] = value
		}
	}
	if len(table) > 0 {
		page.Tables = []segment.Table{table}
	}
	return page
}

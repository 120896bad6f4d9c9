// Package pages turns OCR collaborator output into segment.PageRecord values
package pages

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/a3tai/mcp-patient-splitter/internal/segment"
)

// pageSchema only constrains what makes a page unusable. Noisy fields and
// tables are tolerated by the decoder instead.
const pageSchema = `{
	"type": "object",
	"properties": {
		"index": {"type": "integer", "minimum": 0}
	}
}`

var compiledPageSchema = jsonschema.MustCompileString("page.json", pageSchema)

// SkippedPage records a page that could not be decoded and was dropped
type SkippedPage struct {
	Position int    `json:"position"` // position in the source document
	Reason   string `json:"reason"`
}

// LoadResult is the outcome of loading one document's pages
type LoadResult struct {
	Pages   []segment.PageRecord `json:"pages"`
	Skipped []SkippedPage        `json:"skipped,omitempty"`
}

type rawDocument struct {
	Pages []json.RawMessage `json:"pages"`
}

type rawPage struct {
	Index      json.Number `json:"index"`
	Confidence any         `json:"confidence"`
	Fields     any         `json:"fields"`
	Tables     any         `json:"tables"`
}

// LoadJSONFile reads an OCR result document from path
func LoadJSONFile(path string) (*LoadResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open pages file: %w", err)
	}
	defer f.Close()

	return LoadJSON(f)
}

// LoadJSON decodes an OCR result document. The document is either an
// object with a "pages" array or a bare array of page objects. A page
// entry that cannot be decoded is dropped and reported in Skipped; noisy
// fields and table cells inside a decodable page are tolerated.
func LoadJSON(r io.Reader) (*LoadResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pages document: %w", err)
	}

	var entries []json.RawMessage
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &entries)
	} else {
		var doc rawDocument
		err = json.Unmarshal(trimmed, &doc)
		entries = doc.Pages
	}
	if err != nil {
		return nil, fmt.Errorf("invalid pages document: %w", err)
	}

	result := &LoadResult{Pages: make([]segment.PageRecord, 0, len(entries))}
	for pos, entry := range entries {
		page, err := decodePage(entry, pos)
		if err != nil {
			result.Skipped = append(result.Skipped, SkippedPage{Position: pos, Reason: err.Error()})
			continue
		}
		result.Pages = append(result.Pages, page)
	}
	return result, nil
}

func decodePage(entry json.RawMessage, pos int) (segment.PageRecord, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(entry))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return segment.PageRecord{}, fmt.Errorf("undecodable page: %w", err)
	}
	if err := compiledPageSchema.Validate(doc); err != nil {
		return segment.PageRecord{}, fmt.Errorf("undecodable page: %w", err)
	}

	var raw rawPage
	dec = json.NewDecoder(bytes.NewReader(entry))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return segment.PageRecord{}, fmt.Errorf("undecodable page: %w", err)
	}

	page := segment.PageRecord{
		Index:  pos,
		Fields: decodeFields(raw.Fields),
		Tables: decodeTables(raw.Tables),
	}
	if raw.Index != "" {
		idx, err := raw.Index.Int64()
		if err != nil || idx < 0 {
			return segment.PageRecord{}, fmt.Errorf("invalid page index %q", raw.Index)
		}
		page.Index = int(idx)
	}
	page.Confidence = confidenceValue(raw.Confidence)
	return page, nil
}

// confidenceValue reads a numeric confidence clamped to [0, 100]. Any
// other value counts as 0.
func confidenceValue(v any) float64 {
	n, ok := v.(json.Number)
	if !ok {
		return 0
	}
	c, err := n.Float64()
	if err != nil {
		return 0
	}
	return clampConfidence(c)
}

// decodeFields keeps string values under lowercased keys. Anything that is
// not a string map is treated as no fields. When keys collide after
// lowercasing, a key already in lowercase wins, then the lexically smallest.
func decodeFields(v any) map[string]string {
	m, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make(map[string]string, len(m))
	exact := make(map[string]bool, len(m))
	for _, k := range keys {
		s, ok := m[k].(string)
		if !ok {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(k))
		if key == "" {
			continue
		}
		isExact := k == key
		if _, seen := fields[key]; seen && (exact[key] || !isExact) {
			continue
		}
		fields[key] = s
		exact[key] = isExact
	}
	return fields
}

func decodeTables(v any) []segment.Table {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	tables := make([]segment.Table, 0, len(list))
	for _, t := range list {
		rows, ok := t.([]any)
		if !ok {
			continue
		}
		table := make(segment.Table, 0, len(rows))
		for _, r := range rows {
			cells, ok := r.([]any)
			if !ok {
				continue
			}
			row := make([]string, len(cells))
			for i, c := range cells {
				row[i] = cellText(c)
			}
			table = append(table, row)
		}
		tables = append(tables, table)
	}
	return tables
}

// cellText keeps strings and numbers; every other cell type reads as empty
func cellText(c any) string {
	switch v := c.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

func clampConfidence(c float64) float64 {
	switch {
	case c < 0:
		return 0
	case c > 100:
		return 100
	default:
		return c
	}
}

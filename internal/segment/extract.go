package segment

import (
	"strings"
)

// Extractor pulls an identity candidate out of a single page
type Extractor struct {
	mapping FieldMapping
}

// NewExtractor creates an extractor bound to one mapping snapshot
func NewExtractor(mapping FieldMapping) *Extractor {
	return &Extractor{mapping: mapping}
}

// Extract returns the identity evidence found on page, or nil when neither
// a name nor a patient id could be resolved.
//
// Structured fields take precedence over tables. For each field the first
// alias with a non-empty value wins even when that value fails
// normalization. Tables are only scanned while name or patient id is still
// missing, and only fill fields that are still unset.
func (e *Extractor) Extract(page PageRecord) *IdentityCandidate {
	var c IdentityCandidate

	for _, field := range Fields {
		if raw, ok := e.lookupField(page.Fields, field); ok {
			c.set(field, Normalize(raw, field))
		}
	}

	if c.Name == nil || c.PatientID == nil {
		e.scanTables(page.Tables, &c)
	}

	if c.Name == nil && c.PatientID == nil {
		return nil
	}
	return &c
}

func (e *Extractor) lookupField(fields map[string]string, field Field) (string, bool) {
	if len(fields) == 0 {
		return "", false
	}
	for _, alias := range e.mapping.aliases[field] {
		if v, ok := fields[alias]; ok && v != "" {
			return v, true
		}
	}
	return "", false
}

func (e *Extractor) scanTables(tables []Table, c *IdentityCandidate) {
	for _, table := range tables {
		for _, row := range table {
			for i, cell := range row {
				if cell == "" {
					continue
				}
				label := strings.ToLower(cell)
				for _, field := range Fields {
					if c.Get(field) != nil {
						continue
					}
					if !e.labelMatches(label, field) {
						continue
					}
					value := cellValue(row, i)
					if strings.TrimSpace(value) == "" || strings.TrimSpace(value) == label {
						continue
					}
					if v := Normalize(value, field); v != nil {
						c.set(field, v)
					}
				}
			}
		}
	}
}

func (e *Extractor) labelMatches(label string, field Field) bool {
	for _, alias := range e.mapping.aliases[field] {
		if strings.Contains(label, alias) {
			return true
		}
	}
	return false
}

// cellValue takes the cell to the right of a label, falling back to the
// text after the first colon in the label cell itself
func cellValue(row []string, i int) string {
	if i+1 < len(row) && strings.TrimSpace(row[i+1]) != "" {
		return row[i+1]
	}
	if _, after, found := strings.Cut(row[i], ":"); found {
		return after
	}
	return ""
}

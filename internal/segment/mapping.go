package segment

import (
	"fmt"
	"strings"
)

// FieldMapping maps each identity field to the alias labels probed for it,
// in priority order. A FieldMapping is immutable: every modifier returns a
// new value with an incremented version.
type FieldMapping struct {
	version int
	aliases map[Field][]string
}

// DefaultFieldMapping returns the built-in alias lists
func DefaultFieldMapping() FieldMapping {
	return FieldMapping{
		version: 1,
		aliases: map[Field][]string{
			FieldName: {
				"patient name", "patient_name", "name", "full name",
			},
			FieldDOB: {
				"dob", "date of birth", "birth date", "birthdate", "d.o.b.",
			},
			FieldPatientID: {
				"patient id", "patient_id", "patientid", "mrn", "medical record number",
				"patient number", "record number", "chart number",
			},
		},
	}
}

// NewFieldMapping builds a mapping from explicit alias lists. Fields not
// present in m have no aliases.
func NewFieldMapping(m map[Field][]string) (FieldMapping, error) {
	fm := FieldMapping{version: 1, aliases: make(map[Field][]string, len(m))}
	for field, list := range m {
		if !field.Valid() {
			return FieldMapping{}, fmt.Errorf("unknown field %q", field)
		}
		fm.aliases[field] = cleanAliases(list)
	}
	return fm, nil
}

// Version increases by one with every derived mapping
func (m FieldMapping) Version() int {
	return m.version
}

// Aliases returns a copy of the alias list for field
func (m FieldMapping) Aliases(field Field) []string {
	return append([]string(nil), m.aliases[field]...)
}

// All returns a deep copy of every alias list
func (m FieldMapping) All() map[Field][]string {
	out := make(map[Field][]string, len(m.aliases))
	for f, list := range m.aliases {
		out[f] = append([]string(nil), list...)
	}
	return out
}

// WithAliases returns a mapping whose alias list for field is replaced
func (m FieldMapping) WithAliases(field Field, aliases ...string) (FieldMapping, error) {
	if !field.Valid() {
		return m, fmt.Errorf("unknown field %q", field)
	}
	next := m.clone()
	next.aliases[field] = cleanAliases(aliases)
	return next, nil
}

// Merge returns a mapping where the aliases in extra are appended to the
// existing lists. Aliases already present keep their original position.
func (m FieldMapping) Merge(extra map[Field][]string) (FieldMapping, error) {
	next := m.clone()
	for field, list := range extra {
		if !field.Valid() {
			return m, fmt.Errorf("unknown field %q", field)
		}
		next.aliases[field] = cleanAliases(append(next.aliases[field], list...))
	}
	return next, nil
}

// Replace returns a mapping with every alias list swapped for those in all
func (m FieldMapping) Replace(all map[Field][]string) (FieldMapping, error) {
	fresh, err := NewFieldMapping(all)
	if err != nil {
		return m, err
	}
	fresh.version = m.version + 1
	return fresh, nil
}

func (m FieldMapping) clone() FieldMapping {
	return FieldMapping{version: m.version + 1, aliases: m.All()}
}

// cleanAliases lowercases, trims and de-duplicates, keeping first occurrence
func cleanAliases(list []string) []string {
	seen := make(map[string]bool, len(list))
	out := make([]string, 0, len(list))
	for _, a := range list {
		a = strings.ToLower(strings.TrimSpace(a))
		if a == "" || seen[a] {
			continue
		}
		seen[a] = true
		out = append(out, a)
	}
	return out
}

// Package segment splits an OCR page stream into per-patient page groups
// using the identity evidence (name, date of birth, patient id) found on
// each page.
package segment

// Field identifies one of the three identity fields tracked per page
type Field string

const (
	FieldName      Field = "name"
	FieldDOB       Field = "dob"
	FieldPatientID Field = "patientId"
)

// Fields lists the identity fields in probing order
var Fields = []Field{FieldName, FieldDOB, FieldPatientID}

// Valid reports whether f is one of the known identity fields
func (f Field) Valid() bool {
	switch f {
	case FieldName, FieldDOB, FieldPatientID:
		return true
	}
	return false
}

// Table is a row-major grid of cell text. Cells that carried no usable
// text upstream are represented as empty strings.
type Table [][]string

// PageRecord is one OCR'd page of a scanned document
type PageRecord struct {
	Index      int               `json:"index"`
	Confidence float64           `json:"confidence"` // 0-100, average block confidence
	Fields     map[string]string `json:"fields,omitempty"`
	Tables     []Table           `json:"tables,omitempty"`
}

// IdentityCandidate is the identity evidence recovered from a single page.
// A nil field means the value was absent or failed normalization.
type IdentityCandidate struct {
	Name      *string `json:"name"`
	DOB       *string `json:"dob"`
	PatientID *string `json:"patientId"`
}

// Get returns the value stored for f
func (c *IdentityCandidate) Get(f Field) *string {
	if c == nil {
		return nil
	}
	switch f {
	case FieldName:
		return c.Name
	case FieldDOB:
		return c.DOB
	case FieldPatientID:
		return c.PatientID
	}
	return nil
}

func (c *IdentityCandidate) set(f Field, v *string) {
	switch f {
	case FieldName:
		c.Name = v
	case FieldDOB:
		c.DOB = v
	case FieldPatientID:
		c.PatientID = v
	}
}

// Populated returns how many of the three fields hold a value
func (c *IdentityCandidate) Populated() int {
	if c == nil {
		return 0
	}
	n := 0
	for _, f := range Fields {
		if c.Get(f) != nil {
			n++
		}
	}
	return n
}

// PatientGroup is a contiguous run of pages attributed to one patient
type PatientGroup struct {
	ReportIndex    int                 `json:"reportIndex"`
	Pages          []PageRecord        `json:"-"`
	FirstPageIndex int                 `json:"firstPageIndex"`
	LastPageIndex  int                 `json:"lastPageIndex"`
	PageCount      int                 `json:"pageCount"`
	HasPatientData bool                `json:"hasPatientData"`
	Identity       *IdentityCandidate  `json:"identity,omitempty"`
	Completeness   CompletenessSummary `json:"completeness"`
	ForcedSplit    bool                `json:"forcedSplit,omitempty"`
}

// PageIndexes returns the Index of every member page, in order
func (g PatientGroup) PageIndexes() []int {
	out := make([]int, len(g.Pages))
	for i, p := range g.Pages {
		out[i] = p.Index
	}
	return out
}

// AverageConfidence is the mean OCR confidence across member pages
func (g PatientGroup) AverageConfidence() float64 {
	if len(g.Pages) == 0 {
		return 0
	}
	var sum float64
	for _, p := range g.Pages {
		sum += p.Confidence
	}
	return sum / float64(len(g.Pages))
}

// CompletenessSummary describes how much identity evidence a group carries
type CompletenessSummary struct {
	Completeness     float64 `json:"completeness"` // 0.0 to 1.0
	OCRConfidence    float64 `json:"ocrConfidence"`
	IsHighConfidence bool    `json:"isHighConfidence"`
}

// Result is the output of one segmentation run
type Result struct {
	Groups    []PatientGroup `json:"groups"`
	Decisions []Decision     `json:"decisions"`
	// MappingVersion is the FieldMapping version the run was evaluated with
	MappingVersion int `json:"mappingVersion"`
}

// TotalPages returns the number of pages across all groups
func (r *Result) TotalPages() int {
	n := 0
	for _, g := range r.Groups {
		n += g.PageCount
	}
	return n
}

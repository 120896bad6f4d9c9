package segment

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name  string
		raw   string
		field Field
		want  string
		valid bool
	}{
		{name: "name trimmed", raw: "  Jane Doe  ", field: FieldName, want: "Jane Doe", valid: true},
		{name: "name punctuation stripped", raw: "O'Brien, Pat.", field: FieldName, want: "OBrien Pat", valid: true},
		{name: "name keeps hyphen", raw: "Mary-Kate Smith", field: FieldName, want: "Mary-Kate Smith", valid: true},
		{name: "name keeps accents", raw: "José Núñez", field: FieldName, want: "José Núñez", valid: true},
		{name: "name too short", raw: "J.", field: FieldName, valid: false},
		{name: "name all digits", raw: "123456", field: FieldName, valid: false},
		{name: "name only punctuation", raw: "***", field: FieldName, valid: false},
		{name: "name empty", raw: "   ", field: FieldName, valid: false},
		{name: "dob slashes", raw: " 01/02/1980 ", field: FieldDOB, want: "01/02/1980", valid: true},
		{name: "dob written month", raw: "Jan 2 1980", field: FieldDOB, want: "Jan 2 1980", valid: true},
		{name: "dob no digit", raw: "January", field: FieldDOB, valid: false},
		{name: "dob too short", raw: "1/2/8", field: FieldDOB, valid: false},
		{name: "id strips symbols", raw: " MRN-00123 ", field: FieldPatientID, want: "MRN00123", valid: true},
		{name: "id underscores kept", raw: "a_b", field: FieldPatientID, want: "a_b", valid: true},
		{name: "id too short", raw: "#12", field: FieldPatientID, valid: false},
		{name: "unknown field", raw: "anything", field: Field("ssn"), valid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Normalize(tt.raw, tt.field)
			if !tt.valid {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, *got)
		})
	}
}

func TestNormalize_NeverReturnsEmpty(t *testing.T) {
	inputs := []string{"", " ", "-", "__", "  -  ", "::::::", "\t\n"}
	for _, in := range inputs {
		for _, f := range Fields {
			if got := Normalize(in, f); got != nil {
				assert.NotEmpty(t, *got, "field %s input %q", f, in)
			}
		}
	}
}

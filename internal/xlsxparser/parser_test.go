package xlsxparser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/types"
)

var templateHeader = []interface{}{
	"ResourceType", "Select", "Source", "Value", "Target", "DataType", "MaxLength", "Required", "Default",
}

// writeTemplate saves rows (after the header) to a new XLSX file.
func writeTemplate(t *testing.T, rows [][]interface{}) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	sheet := f.GetSheetName(0)
	all := append([][]interface{}{templateHeader}, rows...)
	for i, row := range all {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}

	path := filepath.Join(t.TempDir(), "mapping.xlsx")
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestParse(t *testing.T) {
	path := writeTemplate(t, [][]interface{}{
		{"Patient", "Patient", "NomUsuel", "", "name[0].family", "text", "100", "oui", ""},
		{"Patient", "Patient", "", "true", "active", "bool", "", "", ""},
		{"", "", "", "", "", "", "", "", ""},
		{"Encounter", "Sejour", "Numero", "", "identifier[0].value", "", "", "no", "N/A"},
		{"Patient", "Patient", "Sexe", "", "gender", "code", "", "", "U"},
		{"Section notes", "", "", "", "", "", "", "", ""},
	})

	resources, err := Parse(path)
	require.NoError(t, err)
	require.Len(t, resources, 2)

	patient := resources[0]
	assert.Equal(t, "Patient", patient.ResourceType)
	assert.Equal(t, "Patient", patient.Select)
	require.Len(t, patient.Fields, 3)

	family := patient.Fields[0]
	assert.Equal(t, "NomUsuel", family.Source)
	assert.Equal(t, "name[0].family", family.Target)
	assert.Equal(t, types.DataTypeString, family.DataType)
	assert.Equal(t, 100, family.MaxLength)
	assert.True(t, family.Required)

	active := patient.Fields[1]
	assert.Equal(t, "true", active.Value)
	assert.Equal(t, types.DataTypeBoolean, active.DataType)
	assert.False(t, active.Required)

	assert.Equal(t, "gender", patient.Fields[2].Target)
	assert.Equal(t, "U", patient.Fields[2].Default)

	encounter := resources[1]
	assert.Equal(t, "Encounter", encounter.ResourceType)
	assert.Equal(t, "Sejour", encounter.Select)
	require.Len(t, encounter.Fields, 1)
	assert.Equal(t, "N/A", encounter.Fields[0].Default)
}

func TestParse_InvalidRows(t *testing.T) {
	tests := []struct {
		name    string
		row     []interface{}
		wantErr string
	}{
		{
			name:    "unknown data type",
			row:     []interface{}{"Patient", "Patient", "Nom", "", "name[0].family", "blob"},
			wantErr: "unknown data type",
		},
		{
			name:    "bad max length",
			row:     []interface{}{"Patient", "Patient", "Nom", "", "name[0].family", "", "long"},
			wantErr: "invalid max length",
		},
		{
			name:    "missing resource type",
			row:     []interface{}{"", "Patient", "Nom", "", "name[0].family"},
			wantErr: "resource type is required",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTemplate(t, [][]interface{}{tt.row})

			_, err := Parse(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "row 2")
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestParse_MissingFile(t *testing.T) {
	_, err := Parse(filepath.Join(t.TempDir(), "missing.xlsx"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open template file")
}

func TestNormalizeDataType(t *testing.T) {
	tests := map[string]string{
		"":          types.DataTypeString,
		"Varchar":   types.DataTypeString,
		"DateTime":  types.DataTypeDateTime,
		"int":       types.DataTypeInteger,
		"float":     types.DataTypeDecimal,
		"URL":       types.DataTypeURI,
		"ref":       types.DataTypeReference,
		" code ":    types.DataTypeCode,
		"timestamp": types.DataTypeDateTime,
	}

	for input, want := range tests {
		got, err := normalizeDataType(input)
		require.NoError(t, err, input)
		assert.Equal(t, want, got, input)
	}
}

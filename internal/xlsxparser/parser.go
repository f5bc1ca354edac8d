// =============================================================================
// PN13 to FHIR Converter - XLSX Mapping Template Parser
// =============================================================================
//
// This module reads field mappings from an XLSX mapping template. Mapping
// spreadsheets are how analysts usually hand over PN13 → FHIR correspondence
// tables; rows read here are merged into the YAML mapping rules.
//
// TEMPLATE LAYOUT (first sheet, row 1 is a header row):
//
//   | A            | B       | C        | D     | E              | F        | G         | H        | I       |
//   | ResourceType | Select  | Source   | Value | Target         | DataType | MaxLength | Required | Default |
//   |--------------|---------|----------|-------|----------------|----------|-----------|----------|---------|
//   | Patient      | Patient | NomUsuel |       | name[0].family | string   | 100       | yes      |         |
//   | Patient      | Patient |          | true  | active         | boolean  |           |          |         |
//
// Rows are grouped into resource mappings by (ResourceType, Select) in the
// order they first appear.
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/config"
	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/types"
)

// =============================================================================
// TEMPLATE COLUMN CONFIGURATION
// =============================================================================

// TemplateColumns defines which columns in the XLSX template contain which data.
// Column indices are 0-based (A=0, B=1, C=2, etc.)
type TemplateColumns struct {
	ResourceTypeColumn int
	SelectColumn       int
	SourceColumn       int
	ValueColumn        int
	TargetColumn       int
	DataTypeColumn     int
	MaxLengthColumn    int
	RequiredColumn     int
	DefaultColumn      int

	// DataStartRow is the row number where data begins (0-based).
	// Default: 1 (Row 2)
	DataStartRow int
}

// DefaultTemplateColumns returns the default column configuration.
func DefaultTemplateColumns() TemplateColumns {
	return TemplateColumns{
		ResourceTypeColumn: 0, // Column A
		SelectColumn:       1, // Column B
		SourceColumn:       2, // Column C
		ValueColumn:        3, // Column D
		TargetColumn:       4, // Column E
		DataTypeColumn:     5, // Column F
		MaxLengthColumn:    6, // Column G
		RequiredColumn:     7, // Column H
		DefaultColumn:      8, // Column I
		DataStartRow:       1, // Row 2
	}
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads an XLSX mapping template and returns its resource mappings.
func Parse(templatePath string) ([]config.ResourceMapping, error) {
	return ParseWithConfig(templatePath, DefaultTemplateColumns())
}

// ParseWithConfig reads an XLSX mapping template using a custom column
// configuration.
//
// RETURNS:
//   - The resource mappings in first-appearance order.
//   - An error if the file cannot be read or a row is invalid.
func ParseWithConfig(templatePath string, columns TemplateColumns) ([]config.ResourceMapping, error) {
	f, err := excelize.OpenFile(templatePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open template file: %w", err)
	}
	defer f.Close()

	sheetName := f.GetSheetName(0)
	if sheetName == "" {
		return nil, fmt.Errorf("template file has no sheets")
	}

	rows, err := f.GetRows(sheetName)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}

	var resources []config.ResourceMapping
	index := make(map[string]int)

	for i := columns.DataStartRow; i < len(rows); i++ {
		row := rows[i]
		if len(row) == 0 || isRowEmpty(row) {
			continue
		}

		resourceType, selectPath, field, err := parseRow(row, columns)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+1, err)
		}

		// Rows without a target carry no mapping (notes, section titles).
		if field.Target == "" {
			continue
		}
		if resourceType == "" {
			return nil, fmt.Errorf("error parsing row %d: resource type is required", i+1)
		}

		key := resourceType + "\x00" + selectPath
		pos, ok := index[key]
		if !ok {
			resources = append(resources, config.ResourceMapping{
				ResourceType: resourceType,
				Select:       selectPath,
			})
			pos = len(resources) - 1
			index[key] = pos
		}
		resources[pos].Fields = append(resources[pos].Fields, field)
	}

	return resources, nil
}

// parseRow extracts the resource key and the field mapping of a single row.
func parseRow(row []string, columns TemplateColumns) (string, string, config.FieldMapping, error) {
	getCell := func(index int) string {
		if index < len(row) {
			return strings.TrimSpace(row[index])
		}
		return ""
	}

	field := config.FieldMapping{
		Source:   getCell(columns.SourceColumn),
		Value:    getCell(columns.ValueColumn),
		Target:   getCell(columns.TargetColumn),
		Required: isRequired(getCell(columns.RequiredColumn)),
		Default:  getCell(columns.DefaultColumn),
	}

	dataType, err := normalizeDataType(getCell(columns.DataTypeColumn))
	if err != nil {
		return "", "", field, err
	}
	field.DataType = dataType

	if maxLength := getCell(columns.MaxLengthColumn); maxLength != "" {
		n, err := strconv.Atoi(maxLength)
		if err != nil {
			return "", "", field, fmt.Errorf("invalid max length %q", maxLength)
		}
		field.MaxLength = n
	}

	return getCell(columns.ResourceTypeColumn), getCell(columns.SelectColumn), field, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// isRowEmpty checks if a row contains only empty cells.
func isRowEmpty(row []string) bool {
	for _, cell := range row {
		if strings.TrimSpace(cell) != "" {
			return false
		}
	}
	return true
}

// isRequired interprets the Required column.
func isRequired(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "required", "req", "r", "yes", "y", "oui", "o", "true", "1", "mandatory":
		return true
	default:
		return false
	}
}

// normalizeDataType maps the spellings found in mapping spreadsheets to the
// FHIR primitive type names.
func normalizeDataType(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "string", "str", "text", "varchar":
		return types.DataTypeString, nil
	case "code":
		return types.DataTypeCode, nil
	case "id":
		return types.DataTypeID, nil
	case "uri", "url":
		return types.DataTypeURI, nil
	case "date":
		return types.DataTypeDate, nil
	case "datetime", "timestamp":
		return types.DataTypeDateTime, nil
	case "integer", "int", "numeric", "num":
		return types.DataTypeInteger, nil
	case "decimal", "dec", "float", "number":
		return types.DataTypeDecimal, nil
	case "boolean", "bool":
		return types.DataTypeBoolean, nil
	case "reference", "ref":
		return types.DataTypeReference, nil
	default:
		return "", fmt.Errorf("unknown data type %q", value)
	}
}

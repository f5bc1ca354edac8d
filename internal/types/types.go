// =============================================================================
// PN13 to FHIR Converter - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - converter
//   - validation
//   - fhirwriter
//
// =============================================================================

package types

// =============================================================================
// DATA TYPES
// =============================================================================

// Data types understood by the validator and the FHIR writer. The names follow
// the FHIR primitive type names.
const (
	DataTypeString    = "string"
	DataTypeCode      = "code"
	DataTypeID        = "id"
	DataTypeURI       = "uri"
	DataTypeDate      = "date"
	DataTypeDateTime  = "dateTime"
	DataTypeInteger   = "integer"
	DataTypeDecimal   = "decimal"
	DataTypeBoolean   = "boolean"
	DataTypeReference = "reference"
)

// KnownDataTypes lists every accepted data type.
var KnownDataTypes = []string{
	DataTypeString,
	DataTypeCode,
	DataTypeID,
	DataTypeURI,
	DataTypeDate,
	DataTypeDateTime,
	DataTypeInteger,
	DataTypeDecimal,
	DataTypeBoolean,
	DataTypeReference,
}

// IsKnownDataType reports whether dataType is one of KnownDataTypes.
func IsKnownDataType(dataType string) bool {
	for _, known := range KnownDataTypes {
		if known == dataType {
			return true
		}
	}
	return false
}

// =============================================================================
// RESOURCE TYPES
// =============================================================================

// Resource represents a single FHIR resource under construction.
// It is produced by the converter from one selected PN13 element.
type Resource struct {
	// Type is the FHIR resource type (e.g. "Patient").
	Type string

	// Index is the position of the resource among resources of the same type
	// (0-indexed). Useful for error reporting.
	Index int

	// SourceLine is the line of the PN13 element the resource was built from.
	SourceLine int

	// Fields contains the mapped values in mapping order.
	Fields []Field
}

// Field represents a single mapped value of a resource.
type Field struct {
	// Target is the FHIR path the value is written to, e.g. "name[0].family".
	Target string

	// Value is the (possibly transformed) value.
	// For reference fields this is the referenced resource type.
	Value string

	// DataType is one of the DataType constants.
	DataType string

	// Source is the PN13 path the value was read from.
	// Empty for constant values.
	Source string

	// Required marks fields that must carry a non-empty value.
	Required bool

	// MaxLength is the maximum allowed character length (0 = no limit).
	MaxLength int
}

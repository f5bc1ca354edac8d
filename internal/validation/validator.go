// =============================================================================
// PN13 to FHIR Converter - Validation Engine
// =============================================================================
//
// This module validates mapped values before the FHIR document is generated:
//   - Required field checks
//   - FHIR primitive type checks (code, id, uri, date, dateTime, integer,
//     decimal, boolean)
//   - Character length limits
//
// ERROR HANDLING:
//   - Findings are collected, not returned on the first failure
//   - Each finding includes the resource, target path, source path, value and
//     the PN13 line it came from
//   - Findings are errors (the conversion fails unless continue_on_error is
//     set) or warnings (logged only)
//
// =============================================================================

package validation

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/types"
)

// Severity levels.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
)

// FHIR R4 primitive type patterns.
var (
	codePattern     = regexp.MustCompile(`^[^\s]+( [^\s]+)*$`)
	idPattern       = regexp.MustCompile(`^[A-Za-z0-9\-\.]{1,64}$`)
	uriPattern      = regexp.MustCompile(`^\S*$`)
	datePattern     = regexp.MustCompile(`^([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)(-(0[1-9]|1[0-2])(-(0[1-9]|[1-2][0-9]|3[0-1]))?)?$`)
	dateTimePattern = regexp.MustCompile(`^([0-9]([0-9]([0-9][1-9]|[1-9]0)|[1-9]00)|[1-9]000)(-(0[1-9]|1[0-2])(-(0[1-9]|[1-2][0-9]|3[0-1])(T([01][0-9]|2[0-3]):[0-5][0-9]:([0-5][0-9]|60)(\.[0-9]+)?(Z|(\+|-)((0[0-9]|1[0-3]):[0-5][0-9]|14:00)))?)?)?$`)
	integerPattern  = regexp.MustCompile(`^-?(0|[1-9][0-9]*)$`)
	decimalPattern  = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)
)

// =============================================================================
// VALIDATION ERROR TYPES
// =============================================================================

// ValidationError represents a single validation finding.
type ValidationError struct {
	// Severity is SeverityError or SeverityWarning.
	Severity string

	// ResourceType and ResourceIndex identify the resource.
	ResourceType  string
	ResourceIndex int

	// Field is the FHIR target path.
	Field string

	// Source is the PN13 path the value came from.
	Source string

	// Value is the value that failed validation.
	Value string

	// Rule is the validation rule that was violated.
	Rule string

	// Message is a human-readable description.
	Message string

	// Line is the PN13 line of the element the resource was built from.
	Line int
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s[%d] (line %d), Field '%s': %s (value: '%s')",
		strings.ToUpper(e.Severity),
		e.ResourceType,
		e.ResourceIndex,
		e.Line,
		e.Field,
		e.Message,
		e.Value,
	)
}

// =============================================================================
// VALIDATION RESULT
// =============================================================================

// ValidationResult contains the results of validation.
type ValidationResult struct {
	// IsValid is true if there are no errors (warnings are allowed).
	IsValid bool

	// Errors contains all findings, including warnings.
	Errors []*ValidationError

	ErrorCount   int
	WarningCount int

	FieldsValidated    int
	ResourcesValidated int
}

// =============================================================================
// MAIN VALIDATION FUNCTIONS
// =============================================================================

// Validate validates all resources and returns a detailed result.
func Validate(resources []types.Resource) *ValidationResult {
	result := &ValidationResult{
		IsValid:            true,
		Errors:             make([]*ValidationError, 0),
		ResourcesValidated: len(resources),
	}

	for i := range resources {
		for _, err := range ValidateResource(&resources[i]) {
			result.Errors = append(result.Errors, err)
			if err.Severity == SeverityError {
				result.ErrorCount++
				result.IsValid = false
			} else {
				result.WarningCount++
			}
		}
		result.FieldsValidated += len(resources[i].Fields)
	}

	return result
}

// ValidateResource validates every field of a resource.
func ValidateResource(resource *types.Resource) []*ValidationError {
	var errors []*ValidationError

	for _, field := range resource.Fields {
		for _, err := range ValidateField(field) {
			err.ResourceType = resource.Type
			err.ResourceIndex = resource.Index
			err.Line = resource.SourceLine
			errors = append(errors, err)
		}
	}

	return errors
}

// ValidateField validates a single field value.
func ValidateField(field types.Field) []*ValidationError {
	var errors []*ValidationError

	newError := func(severity, rule, message string) *ValidationError {
		return &ValidationError{
			Severity: severity,
			Field:    field.Target,
			Source:   field.Source,
			Value:    field.Value,
			Rule:     rule,
			Message:  message,
		}
	}

	// =========================================================================
	// REQUIRED FIELD VALIDATION
	// =========================================================================

	if field.Value == "" {
		if field.Required {
			errors = append(errors, newError(SeverityError, "required",
				fmt.Sprintf("Required field '%s' is empty", field.Target)))
		}
		return errors
	}

	// =========================================================================
	// MAX LENGTH VALIDATION
	// =========================================================================

	if field.MaxLength > 0 {
		if n := utf8.RuneCountInString(field.Value); n > field.MaxLength {
			errors = append(errors, newError(SeverityWarning, "max_length",
				fmt.Sprintf("Value exceeds maximum length of %d characters (actual: %d)", field.MaxLength, n)))
		}
	}

	// =========================================================================
	// DATA TYPE VALIDATION
	// =========================================================================

	if msg := validateDataType(field.Value, field.DataType); msg != "" {
		errors = append(errors, newError(SeverityError, "data_type", msg))
	}

	return errors
}

// =============================================================================
// DATA TYPE VALIDATORS
// =============================================================================

// validateDataType returns an error message if value is not a valid
// instance of dataType, or an empty string.
func validateDataType(value, dataType string) string {
	switch dataType {
	case types.DataTypeString, types.DataTypeReference, "":
		return ""

	case types.DataTypeCode:
		if !codePattern.MatchString(value) {
			return fmt.Sprintf("Value '%s' is not a valid code", value)
		}

	case types.DataTypeID:
		if !idPattern.MatchString(value) {
			return fmt.Sprintf("Value '%s' is not a valid id", value)
		}

	case types.DataTypeURI:
		if !uriPattern.MatchString(value) {
			return fmt.Sprintf("Value '%s' is not a valid uri", value)
		}

	case types.DataTypeDate:
		if !datePattern.MatchString(value) || !isCalendarDate(value) {
			return fmt.Sprintf("Value '%s' is not a valid date (expected YYYY, YYYY-MM or YYYY-MM-DD)", value)
		}

	case types.DataTypeDateTime:
		if !dateTimePattern.MatchString(value) || !isCalendarDate(value) {
			return fmt.Sprintf("Value '%s' is not a valid dateTime", value)
		}

	case types.DataTypeInteger:
		return validateInteger(value)

	case types.DataTypeDecimal:
		if !decimalPattern.MatchString(value) {
			return fmt.Sprintf("Value '%s' is not a valid decimal", value)
		}

	case types.DataTypeBoolean:
		if value != "true" && value != "false" {
			return fmt.Sprintf("Value '%s' is not a valid boolean (expected true or false)", value)
		}

	default:
		return fmt.Sprintf("Unknown data type '%s'", dataType)
	}

	return ""
}

// validateInteger checks the pattern and the 32-bit range of FHIR integers.
func validateInteger(value string) string {
	if !integerPattern.MatchString(value) {
		return fmt.Sprintf("Value '%s' is not a valid integer", value)
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n > math.MaxInt32 || n < math.MinInt32 {
		return fmt.Sprintf("Value '%s' is out of range for integer", value)
	}
	return ""
}

// isCalendarDate rejects dates like 2023-02-30 that match the pattern.
// Partial dates (YYYY, YYYY-MM) are accepted.
func isCalendarDate(value string) bool {
	if len(value) < len("2006-01-02") {
		return true
	}
	_, err := time.Parse("2006-01-02", value[:10])
	return err == nil
}

// =============================================================================
// ERROR FORMATTING
// =============================================================================

// FormatErrors formats validation findings for display or logging.
func FormatErrors(errors []*ValidationError) string {
	if len(errors) == 0 {
		return "No validation errors."
	}

	var builder strings.Builder

	builder.WriteString(fmt.Sprintf("Validation completed with %d finding(s):\n\n", len(errors)))

	for i, err := range errors {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, err.Error()))
	}

	return builder.String()
}

// =============================================================================
// PN13 to FHIR Converter - Transformation Engine
// =============================================================================
//
// This module rewrites values extracted from PN13 into the shape FHIR
// expects before they are validated and written.
//
// TRANSFORMATION TYPES:
//   - String manipulations (prepend, append, trim, case conversion)
//   - Numeric formatting (padding, precision, leading zeros)
//   - Date conversions (French DD/MM/YYYY to FHIR YYYY-MM-DD)
//   - Lookup table replacements (PN13 codes to FHIR codes)
//   - Regular expression replacements
//
// Actions are listed per field in the mapping rules and applied in order.
//
// =============================================================================

package converter

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/config"
)

var (
	digitsPattern     = regexp.MustCompile(`\d+`)
	whitespacePattern = regexp.MustCompile(`\s+`)

	// Patient and practitioner names are French.
	titleCaser = cases.Title(language.French)
)

// =============================================================================
// TRANSFORMER
// =============================================================================

// Transformer applies the actions of a field mapping to extracted values.
// Compiled regular expressions are cached, so a Transformer is not safe for
// concurrent use.
type Transformer struct {
	regexCache map[string]*regexp.Regexp
}

// NewTransformer creates a new Transformer.
func NewTransformer() *Transformer {
	return &Transformer{
		regexCache: make(map[string]*regexp.Regexp),
	}
}

// Transform applies every action in sequence.
//
// RETURNS:
//   - The transformed value.
//   - An error naming the failing action.
func (t *Transformer) Transform(value string, actions []config.TransformationAction) (string, error) {
	result := value
	for _, action := range actions {
		var err error
		result, err = t.Apply(result, action)
		if err != nil {
			return "", fmt.Errorf("transformation '%s' failed: %w", action.Type, err)
		}
	}
	return result, nil
}

// Apply applies a single transformation action.
//
// Actions whose parameter does not apply to the value (a date that does not
// match the input layout, a number that does not parse) return the value
// unchanged; validation reports the result.
func (t *Transformer) Apply(value string, action config.TransformationAction) (string, error) {
	switch action.Type {

	// =========================================================================
	// STRING MANIPULATIONS
	// =========================================================================

	case "prepend_string":
		return action.Value + value, nil

	case "append_string":
		return value + action.Value, nil

	case "trim":
		return strings.TrimSpace(value), nil

	case "uppercase":
		return strings.ToUpper(value), nil

	case "lowercase":
		return strings.ToLower(value), nil

	case "title_case":
		// EXAMPLE:
		//   Input: "JEAN-PIERRE"
		//   Output: "Jean-Pierre"
		return titleCaser.String(value), nil

	case "replace":
		// EXAMPLE:
		//   Input: "1,5"
		//   Action: replace with find "," and value "."
		//   Output: "1.5"
		if action.Find == "" {
			return value, nil
		}
		return strings.ReplaceAll(value, action.Find, action.Value), nil

	case "regex_replace":
		if action.Find == "" {
			return value, nil
		}
		re, err := t.compile(action.Find)
		if err != nil {
			return "", err
		}
		return re.ReplaceAllString(value, action.Value), nil

	case "substring":
		// VALUE FORMAT: "start,end" (0-indexed runes, end is exclusive)
		return substring(value, action.Value)

	case "normalize_whitespace":
		return strings.TrimSpace(whitespacePattern.ReplaceAllString(value, " ")), nil

	case "extract_digits":
		// EXAMPLE:
		//   Input: "RPPS 10 003 456 789"
		//   Output: "10003456789"
		return strings.Join(digitsPattern.FindAllString(value, -1), ""), nil

	// =========================================================================
	// NUMERIC FORMATTING
	// =========================================================================

	case "pad_zeros_to_length":
		// EXAMPLE:
		//   Input: "94561"
		//   Action: pad_zeros_to_length with value "7"
		//   Output: "0094561"
		targetLength, err := strconv.Atoi(strings.TrimSpace(action.Value))
		if err != nil || targetLength < 0 {
			return "", fmt.Errorf("invalid length %q", action.Value)
		}
		if value == "" {
			return value, nil
		}
		return PadLeft(value, targetLength, '0'), nil

	case "remove_leading_zeros":
		if value == "" {
			return value, nil
		}
		result := strings.TrimLeft(value, "0")
		if result == "" {
			return "0", nil
		}
		return result, nil

	case "format_number":
		// VALUE FORMAT: Number of decimal places.
		decimalPlaces, err := strconv.Atoi(strings.TrimSpace(action.Value))
		if err != nil || decimalPlaces < 0 {
			return "", fmt.Errorf("invalid decimal places %q", action.Value)
		}
		num, err := strconv.ParseFloat(strings.ReplaceAll(value, ",", "."), 64)
		if err != nil {
			return value, nil
		}
		return strconv.FormatFloat(num, 'f', decimalPlaces, 64), nil

	// =========================================================================
	// DATE CONVERSIONS
	// =========================================================================

	case "format_date":
		// VALUE FORMAT: "input_layout|output_layout" (Go time layouts)
		//
		// EXAMPLE:
		//   Input: "15/03/1950"
		//   Action: format_date with value "02/01/2006|2006-01-02"
		//   Output: "1950-03-15"
		parts := strings.Split(action.Value, "|")
		if len(parts) != 2 {
			return "", fmt.Errorf("invalid date layouts %q, expected \"input|output\"", action.Value)
		}
		parsed, err := time.Parse(strings.TrimSpace(parts[0]), strings.TrimSpace(value))
		if err != nil {
			return value, nil
		}
		return parsed.Format(strings.TrimSpace(parts[1])), nil

	// =========================================================================
	// LOOKUP TABLE REPLACEMENTS
	// =========================================================================

	case "lookup":
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement, nil
		}
		return value, nil

	case "lookup_with_default":
		// Empty values are left alone so that a later required check still
		// sees them as missing.
		if value == "" {
			return value, nil
		}
		if replacement, exists := action.LookupTable[value]; exists {
			return replacement, nil
		}
		return action.Value, nil

	case "if_empty_use_default":
		if strings.TrimSpace(value) == "" {
			return action.Value, nil
		}
		return value, nil

	default:
		return "", fmt.Errorf("unknown transformation type: %s", action.Type)
	}
}

func (t *Transformer) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := t.regexCache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	t.regexCache[pattern] = re
	return re, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// PadLeft pads a string with a character on the left to reach the target
// length in runes.
func PadLeft(s string, length int, padChar rune) string {
	n := len([]rune(s))
	if n >= length {
		return s
	}
	return strings.Repeat(string(padChar), length-n) + s
}

func substring(value, bounds string) (string, error) {
	parts := strings.Split(bounds, ",")
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid bounds %q, expected \"start,end\"", bounds)
	}
	start, err1 := strconv.Atoi(strings.TrimSpace(parts[0]))
	end, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return "", fmt.Errorf("invalid bounds %q, expected \"start,end\"", bounds)
	}

	runes := []rune(value)
	if start < 0 {
		start = 0
	}
	if end > len(runes) {
		end = len(runes)
	}
	if start >= end {
		return "", nil
	}
	return string(runes[start:end]), nil
}

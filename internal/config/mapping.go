// =============================================================================
// PN13 to FHIR Converter - Mapping Rules
// =============================================================================
//
// Mapping rules describe which PN13 element feeds which FHIR resource field.
// They are loaded from a YAML file (or the embedded default) and may be
// extended with rows from an XLSX mapping template.
//
// EXAMPLE:
//
//   name: my-hospital
//   root_element: PN13
//   resources:
//     - resource_type: Patient
//       select: Patient              # one resource per matching element
//       required: true
//       fields:
//         - source: NomUsuel         # path relative to the selected element
//           target: name[0].family   # FHIR path inside the resource
//           required: true
//           actions:
//             - type: uppercase
//         - value: active            # constant value
//           target: status
//           data_type: code
//
// =============================================================================

package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/types"
)

//go:embed default_mapping.yaml
var defaultMappingYAML []byte

// KnownActionTypes lists the transformation action types the converter
// understands.
var KnownActionTypes = []string{
	"prepend_string",
	"append_string",
	"trim",
	"uppercase",
	"lowercase",
	"title_case",
	"replace",
	"regex_replace",
	"substring",
	"pad_zeros_to_length",
	"remove_leading_zeros",
	"format_number",
	"format_date",
	"lookup",
	"lookup_with_default",
	"if_empty_use_default",
	"extract_digits",
	"normalize_whitespace",
}

// =============================================================================
// MAPPING STRUCTURES
// =============================================================================

// MappingConfig holds a complete set of mapping rules.
type MappingConfig struct {
	// Name identifies the mapping in logs.
	Name string `yaml:"name"`

	// RootElement is the expected local name of the document root.
	// Empty disables the check.
	RootElement string `yaml:"root_element,omitempty"`

	// Resources lists the resource mappings in output order.
	Resources []ResourceMapping `yaml:"resources"`
}

// ResourceMapping produces one FHIR resource per selected PN13 element.
type ResourceMapping struct {
	// ResourceType is the FHIR resource type (e.g. "Patient").
	ResourceType string `yaml:"resource_type"`

	// Select is the element path, relative to the document root, of the
	// elements that each yield one resource. "" or "." selects the root.
	Select string `yaml:"select"`

	// Required fails the conversion when Select matches nothing.
	Required bool `yaml:"required,omitempty"`

	// Fields lists the field mappings in output order.
	Fields []FieldMapping `yaml:"fields"`
}

// FieldMapping maps one PN13 value (or a constant) to one FHIR path.
type FieldMapping struct {
	// Source is the element path relative to the selected element.
	// A final "@name" segment reads an attribute.
	Source string `yaml:"source,omitempty"`

	// Value is a constant value, used instead of Source.
	// For reference fields it names the referenced resource type.
	Value string `yaml:"value,omitempty"`

	// Target is the FHIR path the value is written to.
	Target string `yaml:"target"`

	// DataType is the FHIR primitive type of the value.
	// Default: "string"
	DataType string `yaml:"data_type,omitempty"`

	// Required marks the value as mandatory.
	Required bool `yaml:"required,omitempty"`

	// MaxLength is the maximum character length (0 = no limit).
	MaxLength int `yaml:"max_length,omitempty"`

	// Default is used when the source value is empty.
	Default string `yaml:"default,omitempty"`

	// Actions are applied in order to the extracted value.
	Actions []TransformationAction `yaml:"actions,omitempty"`
}

// TransformationAction defines a single transformation action.
type TransformationAction struct {
	// Type is one of KnownActionTypes.
	Type string `yaml:"type"`

	// Value is the parameter of the transformation.
	// The meaning depends on the transformation type:
	//   - "prepend_string"      : The string to prepend
	//   - "append_string"       : The string to append
	//   - "pad_zeros_to_length" : The target length (as a string, e.g. "7")
	//   - "replace"             : The replacement string
	//   - "substring"           : "start,end"
	//   - "format_date"         : "input_layout|output_layout"
	//   - "format_number"       : The number of decimal places
	//   - "lookup_with_default" : The default for unknown values
	//   - "if_empty_use_default": The default for empty values
	Value string `yaml:"value,omitempty"`

	// Find is used by "replace" and "regex_replace".
	Find string `yaml:"find,omitempty"`

	// LookupTable is used by "lookup" and "lookup_with_default".
	LookupTable map[string]string `yaml:"lookup_table,omitempty"`
}

// =============================================================================
// LOADING FUNCTIONS
// =============================================================================

// LoadMappingConfig loads mapping rules from a YAML file.
func LoadMappingConfig(path string) (*MappingConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping file: %w", err)
	}

	mapping, err := ParseMappingConfig(data)
	if err != nil {
		return nil, fmt.Errorf("mapping file %s: %w", path, err)
	}

	return mapping, nil
}

// DefaultMapping returns the embedded default mapping rules.
func DefaultMapping() (*MappingConfig, error) {
	mapping, err := ParseMappingConfig(defaultMappingYAML)
	if err != nil {
		return nil, fmt.Errorf("default mapping: %w", err)
	}
	return mapping, nil
}

// ParseMappingConfig parses, defaults and validates YAML mapping rules.
func ParseMappingConfig(data []byte) (*MappingConfig, error) {
	var mapping MappingConfig
	if err := yaml.Unmarshal(data, &mapping); err != nil {
		return nil, fmt.Errorf("failed to parse mapping: %w", err)
	}

	applyMappingDefaults(&mapping)

	if err := mapping.Validate(); err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	return &mapping, nil
}

// applyMappingDefaults sets default values for unset mapping options.
func applyMappingDefaults(mapping *MappingConfig) {
	for i := range mapping.Resources {
		for j := range mapping.Resources[i].Fields {
			field := &mapping.Resources[i].Fields[j]
			if field.DataType == "" {
				field.DataType = types.DataTypeString
			}
		}
	}
}

// Validate checks the mapping rules for structural errors.
func (m *MappingConfig) Validate() error {
	if len(m.Resources) == 0 {
		return fmt.Errorf("no resources defined")
	}

	for i, resource := range m.Resources {
		if resource.ResourceType == "" {
			return fmt.Errorf("resource %d: resource_type is required", i+1)
		}
		if len(resource.Fields) == 0 {
			return fmt.Errorf("resource %d (%s): no fields defined", i+1, resource.ResourceType)
		}

		for j, field := range resource.Fields {
			if err := field.validate(); err != nil {
				return fmt.Errorf("resource %d (%s), field %d: %w", i+1, resource.ResourceType, j+1, err)
			}
		}
	}

	return nil
}

func (f *FieldMapping) validate() error {
	if f.Target == "" {
		return fmt.Errorf("target is required")
	}
	if !types.IsKnownDataType(f.DataType) {
		return fmt.Errorf("unknown data_type %q", f.DataType)
	}
	if f.MaxLength < 0 {
		return fmt.Errorf("field %s: max_length must not be negative", f.Target)
	}
	for _, action := range f.Actions {
		if !contains(KnownActionTypes, action.Type) {
			return fmt.Errorf("field %s: unknown action type %q", f.Target, action.Type)
		}
	}
	if f.DataType == types.DataTypeReference {
		if f.Value == "" || f.Source != "" {
			return fmt.Errorf("reference field %s must name a resource type in value", f.Target)
		}
		return nil
	}
	if (f.Source == "") == (f.Value == "") {
		return fmt.Errorf("field %s needs exactly one of source or value", f.Target)
	}
	return nil
}

// Merge adds resource mappings (typically read from an XLSX template).
// Fields of a resource with the same type and select path are appended to
// the existing mapping; other resources are appended in order.
func (m *MappingConfig) Merge(resources []ResourceMapping) {
	for _, incoming := range resources {
		merged := false
		for i := range m.Resources {
			existing := &m.Resources[i]
			if existing.ResourceType == incoming.ResourceType && existing.Select == incoming.Select {
				existing.Fields = append(existing.Fields, incoming.Fields...)
				existing.Required = existing.Required || incoming.Required
				merged = true
				break
			}
		}
		if !merged {
			m.Resources = append(m.Resources, incoming)
		}
	}
	applyMappingDefaults(m)
}

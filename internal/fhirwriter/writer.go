// =============================================================================
// PN13 to FHIR Converter - FHIR Writer Module
// =============================================================================
//
// This module generates the FHIR JSON document from the mapped resources.
//
// JSON STRUCTURE:
//
//   {
//     "resourceType": "Bundle",
//     "id": "5d1c…",
//     "type": "collection",
//     "timestamp": "2026-10-16T09:00:00+02:00",
//     "entry": [
//       {
//         "fullUrl": "urn:uuid:9a4e…",
//         "resource": {
//           "resourceType": "Patient",
//           "id": "9a4e…",
//           "name": [{"family": "DUPONT", "given": ["Jean"]}]
//         }
//       },
//       {
//         "fullUrl": "urn:uuid:0b7f…",
//         "resource": {
//           "resourceType": "MedicationRequest",
//           "id": "0b7f…",
//           "subject": {"reference": "urn:uuid:9a4e…"}
//         }
//       }
//     ]
//   }
//
// TARGET PATHS:
//   Field targets are dot-separated element names with optional array
//   indexes: "name[0].given[1]". Arrays grow one index at a time; skipping an
//   index or writing the same leaf twice is an error.
//
// =============================================================================

package fhirwriter

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/types"
)

// =============================================================================
// GENERATION OPTIONS
// =============================================================================

// GenerateOptions contains options for FHIR generation.
type GenerateOptions struct {
	// BundleType is the Bundle.type value.
	// Default: "collection"
	BundleType string

	// Indent is the string used for indentation. Empty produces compact JSON.
	// Default: "  " (two spaces)
	Indent string

	// NewID returns a fresh logical id for the bundle and each resource.
	// Default: random UUIDs.
	NewID func() string

	// Now returns the bundle timestamp.
	// Default: time.Now
	Now func() time.Time
}

// DefaultGenerateOptions returns the default generation options.
func DefaultGenerateOptions() GenerateOptions {
	return GenerateOptions{
		BundleType: "collection",
		Indent:     "  ",
		NewID:      uuid.NewString,
		Now:        time.Now,
	}
}

// =============================================================================
// DOCUMENT STRUCTURES
// =============================================================================

// Bundle is a FHIR Bundle resource.
type Bundle struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id"`
	Type         string  `json:"type"`
	Timestamp    string  `json:"timestamp"`
	Entry        []Entry `json:"entry,omitempty"`
}

// Entry is a single Bundle.entry.
type Entry struct {
	FullURL  string        `json:"fullUrl"`
	Resource Resource      `json:"resource"`
	Request  *EntryRequest `json:"request,omitempty"`
}

// EntryRequest is Bundle.entry.request, required for batch and transaction
// bundles.
type EntryRequest struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// Resource is a FHIR resource as a JSON object. "resourceType" and "id" are
// always written first.
type Resource map[string]any

// MarshalJSON implements json.Marshaler.
func (r Resource) MarshalJSON() ([]byte, error) {
	keys := make([]string, 0, len(r))
	for k := range r {
		if k != "resourceType" && k != "id" {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range []string{"id", "resourceType"} {
		if _, ok := r[k]; ok {
			keys = append([]string{k}, keys...)
		}
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := marshal(r[k])
		if err != nil {
			return nil, fmt.Errorf("element %s: %w", k, err)
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// =============================================================================
// GENERATION FUNCTIONS
// =============================================================================

// Generate creates a FHIR Bundle from the resources with default options.
func Generate(resources []types.Resource) ([]byte, error) {
	return GenerateWithOptions(resources, DefaultGenerateOptions())
}

// GenerateWithOptions creates a FHIR Bundle from the resources.
//
// GENERATION PROCESS:
//   1. Assign an id and a urn:uuid full URL to every resource
//   2. Build each resource object from its fields, resolving references
//   3. Marshal the Bundle
func GenerateWithOptions(resources []types.Resource, options GenerateOptions) ([]byte, error) {
	defaults := DefaultGenerateOptions()
	if options.BundleType == "" {
		options.BundleType = defaults.BundleType
	}
	if options.NewID == nil {
		options.NewID = defaults.NewID
	}
	if options.Now == nil {
		options.Now = defaults.Now
	}

	bundle, err := BuildBundle(resources, options)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", options.Indent)
	if err := encoder.Encode(bundle); err != nil {
		return nil, fmt.Errorf("failed to marshal bundle: %w", err)
	}

	return buf.Bytes(), nil
}

// BuildBundle assembles the Bundle structure without marshalling it.
func BuildBundle(resources []types.Resource, options GenerateOptions) (*Bundle, error) {
	ids := make([]string, len(resources))
	fullURLs := make(map[string]string)
	for i, resource := range resources {
		ids[i] = options.NewID()
		if _, seen := fullURLs[resource.Type]; !seen {
			fullURLs[resource.Type] = "urn:uuid:" + ids[i]
		}
	}

	bundle := &Bundle{
		ResourceType: "Bundle",
		ID:           options.NewID(),
		Type:         options.BundleType,
		Timestamp:    options.Now().Format(time.RFC3339),
		Entry:        make([]Entry, 0, len(resources)),
	}

	for i, resource := range resources {
		obj, err := buildResource(resource, ids[i], fullURLs)
		if err != nil {
			return nil, fmt.Errorf("%s[%d]: %w", resource.Type, resource.Index, err)
		}

		entry := Entry{
			FullURL:  "urn:uuid:" + ids[i],
			Resource: obj,
		}
		if options.BundleType == "transaction" || options.BundleType == "batch" {
			entry.Request = &EntryRequest{Method: "POST", URL: resource.Type}
		}
		bundle.Entry = append(bundle.Entry, entry)
	}

	return bundle, nil
}

// buildResource converts one mapped resource into a JSON object.
func buildResource(resource types.Resource, id string, fullURLs map[string]string) (Resource, error) {
	obj := Resource{
		"resourceType": resource.Type,
		"id":           id,
	}

	for _, field := range resource.Fields {
		if field.DataType == types.DataTypeReference {
			url, ok := fullURLs[field.Value]
			if !ok {
				if field.Required {
					return nil, fmt.Errorf("unresolved reference %s: no %s resource in bundle", field.Target, field.Value)
				}
				continue
			}
			if err := SetPath(obj, field.Target, map[string]any{"reference": url}); err != nil {
				return nil, err
			}
			continue
		}

		if field.Value == "" {
			continue
		}

		if err := SetPath(obj, field.Target, typedValue(field)); err != nil {
			return nil, err
		}
	}

	return obj, nil
}

// typedValue converts a field value to its JSON representation.
// Values that do not parse stay strings; validation reports them.
func typedValue(field types.Field) any {
	switch field.DataType {
	case types.DataTypeInteger, types.DataTypeDecimal:
		if isJSONNumber(field.Value) {
			return json.Number(field.Value)
		}
	case types.DataTypeBoolean:
		switch field.Value {
		case "true":
			return true
		case "false":
			return false
		}
	}
	return field.Value
}

// isJSONNumber reports whether s is a JSON number literal. Forms accepted by
// strconv but not by JSON ("+1", ".5", "Inf") are rejected.
func isJSONNumber(s string) bool {
	return s != "" && json.Valid([]byte(s)) && strings.IndexFunc(s, func(r rune) bool {
		return !strings.ContainsRune("-+.0123456789eE", r)
	}) < 0
}

// =============================================================================
// PATH HANDLING
// =============================================================================

// pathSegment is one element of a target path.
type pathSegment struct {
	name  string
	index int // -1 when the segment is not indexed
}

// parsePath splits "name[0].given[1]" into segments.
func parsePath(path string) ([]pathSegment, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("empty target path")
	}

	parts := strings.Split(path, ".")
	segments := make([]pathSegment, 0, len(parts))
	for _, part := range parts {
		seg := pathSegment{name: part, index: -1}
		if open := strings.IndexByte(part, '['); open >= 0 {
			if !strings.HasSuffix(part, "]") || open == 0 {
				return nil, fmt.Errorf("invalid path segment %q in %s", part, path)
			}
			n, err := strconv.Atoi(part[open+1 : len(part)-1])
			if err != nil || n < 0 {
				return nil, fmt.Errorf("invalid index in %q of %s", part, path)
			}
			seg.name = part[:open]
			seg.index = n
		}
		if seg.name == "" {
			return nil, fmt.Errorf("empty path segment in %s", path)
		}
		segments = append(segments, seg)
	}

	return segments, nil
}

// SetPath writes value at path inside obj, creating intermediate objects and
// arrays.
func SetPath(obj map[string]any, path string, value any) error {
	segments, err := parsePath(path)
	if err != nil {
		return err
	}

	current := obj
	for i, seg := range segments {
		last := i == len(segments)-1

		if seg.index < 0 {
			if last {
				if _, exists := current[seg.name]; exists {
					return fmt.Errorf("path %s is already set", path)
				}
				current[seg.name] = value
				return nil
			}
			next, err := childObject(current, seg.name, path)
			if err != nil {
				return err
			}
			current = next
			continue
		}

		var arr []any
		if existing, ok := current[seg.name]; ok {
			arr, ok = existing.([]any)
			if !ok {
				return fmt.Errorf("path %s: %s is not an array", path, seg.name)
			}
		}
		if seg.index > len(arr) {
			return fmt.Errorf("path %s: index %d of %s skips element %d", path, seg.index, seg.name, len(arr))
		}

		if last {
			if seg.index < len(arr) {
				return fmt.Errorf("path %s is already set", path)
			}
			current[seg.name] = append(arr, value)
			return nil
		}

		if seg.index == len(arr) {
			arr = append(arr, map[string]any{})
			current[seg.name] = arr
		}
		next, ok := arr[seg.index].(map[string]any)
		if !ok {
			return fmt.Errorf("path %s: %s[%d] is not an object", path, seg.name, seg.index)
		}
		current = next
	}

	return nil
}

func childObject(current map[string]any, name, path string) (map[string]any, error) {
	existing, ok := current[name]
	if !ok {
		next := map[string]any{}
		current[name] = next
		return next, nil
	}
	next, ok := existing.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("path %s: %s is not an object", path, name)
	}
	return next, nil
}

// marshal encodes v without HTML escaping.
func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

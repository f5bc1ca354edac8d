// =============================================================================
// PN13 to FHIR Converter - PN13 Parser Module
// =============================================================================
//
// This module is responsible for reading PN13 XML files. It builds a small
// element tree that the converter queries with slash-separated paths.
//
// FEATURES:
//   - Namespace-agnostic: elements and attributes are addressed by local name
//   - Character encodings from the XML declaration (ISO-8859-1, Windows-1252,
//     ...) or forced through InputSettings.Encoding
//   - Line numbers on every element for error reporting
//
// PATH SYNTAX:
//   "Patient/NomUsuel"      : child elements by local name
//   "*/Libelle"             : "*" matches any element
//   "."                     : the element itself
//   "//LignePrescription"   : descendants at any depth
//   "Medicament/@code"      : an attribute (final segment only)
//
// =============================================================================

package pn13

import (
	"bufio"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/text/encoding/htmlindex"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/config"
)

// =============================================================================
// DOCUMENT STRUCTURE
// =============================================================================

// Document represents a parsed PN13 file.
type Document struct {
	// Root is the document element.
	Root *Element

	// SourceFile is the path to the source file.
	SourceFile string

	// ElementCount is the total number of elements in the document.
	ElementCount int
}

// Element is a single XML element.
type Element struct {
	// Name is the local name (namespace prefix removed).
	Name string

	// Attrs maps attribute local names to values.
	Attrs map[string]string

	// Text is the trimmed character data directly inside the element.
	Text string

	// Children are the child elements in document order.
	Children []*Element

	// Line is the line number of the start tag (1-indexed).
	Line int
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Parse reads a PN13 file and returns the element tree.
//
// PARAMETERS:
//   - filePath: The path to the PN13 XML file.
//   - settings: The input settings from the main configuration.
//
// RETURNS:
//   - A pointer to the Document.
//   - An error if the file cannot be opened, decoded or parsed.
func Parse(filePath string, settings config.InputSettings) (*Document, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	doc, err := ParseReader(bufio.NewReader(file), settings)
	if err != nil {
		return nil, err
	}
	doc.SourceFile = filePath

	return doc, nil
}

// ParseReader reads a PN13 document from r.
func ParseReader(r io.Reader, settings config.InputSettings) (*Document, error) {
	forced := strings.TrimSpace(settings.Encoding)
	if forced != "" {
		enc, err := htmlindex.Get(forced)
		if err != nil {
			return nil, fmt.Errorf("unsupported encoding %q: %w", forced, err)
		}
		r = enc.NewDecoder().Reader(r)
	}

	decoder := xml.NewDecoder(r)
	decoder.CharsetReader = charsetReader(forced != "")

	doc := &Document{}
	var stack []*Element

	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse XML: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			line, _ := decoder.InputPos()
			el := &Element{
				Name:  t.Name.Local,
				Attrs: make(map[string]string, len(t.Attr)),
				Line:  line,
			}
			for _, attr := range t.Attr {
				if attr.Name.Space == "xmlns" || attr.Name.Local == "xmlns" {
					continue
				}
				el.Attrs[attr.Name.Local] = attr.Value
			}
			doc.ElementCount++

			if len(stack) == 0 {
				if doc.Root != nil {
					return nil, fmt.Errorf("failed to parse XML: multiple root elements")
				}
				doc.Root = el
			} else {
				parent := stack[len(stack)-1]
				parent.Children = append(parent.Children, el)
			}
			stack = append(stack, el)

		case xml.CharData:
			if len(stack) > 0 {
				top := stack[len(stack)-1]
				top.Text += string(t)
			}

		case xml.EndElement:
			top := stack[len(stack)-1]
			top.Text = strings.TrimSpace(top.Text)
			stack = stack[:len(stack)-1]
		}
	}

	if doc.Root == nil {
		return nil, fmt.Errorf("document is empty")
	}

	return doc, nil
}

// charsetReader resolves the encoding named in the XML declaration.
// When the input was already decoded, the declaration is ignored.
func charsetReader(alreadyDecoded bool) func(string, io.Reader) (io.Reader, error) {
	return func(label string, input io.Reader) (io.Reader, error) {
		if alreadyDecoded {
			return input, nil
		}
		enc, err := htmlindex.Get(label)
		if err != nil {
			return nil, fmt.Errorf("unsupported encoding %q: %w", label, err)
		}
		return enc.NewDecoder().Reader(input), nil
	}
}

// =============================================================================
// PATH QUERIES
// =============================================================================

// Find returns the elements matching path, relative to e, in document order.
// An attribute segment is not allowed here; use Value for attributes.
func (e *Element) Find(path string) []*Element {
	path = strings.TrimSpace(path)
	if path == "" || path == "." {
		return []*Element{e}
	}

	current := []*Element{e}
	if strings.HasPrefix(path, "//") {
		segments := splitPath(strings.TrimPrefix(path, "//"))
		if len(segments) == 0 {
			return nil
		}
		current = e.descendants(segments[0])
		return walk(current, segments[1:])
	}

	return walk(current, splitPath(path))
}

// Value returns the value at path, relative to e. A final "@name" segment
// reads an attribute; otherwise the text of the first matching element is
// returned. The boolean reports whether anything matched.
func (e *Element) Value(path string) (string, bool) {
	path = strings.TrimSpace(path)

	attr := ""
	if i := strings.LastIndex(path, "@"); i >= 0 && !strings.Contains(path[i:], "/") {
		attr = path[i+1:]
		path = strings.TrimSuffix(path[:i], "/")
	}

	matches := e.Find(path)
	if len(matches) == 0 {
		return "", false
	}

	if attr != "" {
		for _, m := range matches {
			if v, ok := m.Attrs[attr]; ok {
				return v, true
			}
		}
		return "", false
	}

	return matches[0].Text, true
}

// descendants returns every element below e whose name matches.
func (e *Element) descendants(name string) []*Element {
	var out []*Element
	for _, child := range e.Children {
		if matchName(child.Name, name) {
			out = append(out, child)
		}
		out = append(out, child.descendants(name)...)
	}
	return out
}

func walk(current []*Element, segments []string) []*Element {
	for _, segment := range segments {
		if segment == "." {
			continue
		}
		var next []*Element
		for _, el := range current {
			for _, child := range el.Children {
				if matchName(child.Name, segment) {
					next = append(next, child)
				}
			}
		}
		if len(next) == 0 {
			return nil
		}
		current = next
	}
	return current
}

func splitPath(path string) []string {
	var segments []string
	for _, s := range strings.Split(path, "/") {
		if s = strings.TrimSpace(s); s != "" {
			segments = append(segments, s)
		}
	}
	return segments
}

// matchName compares local names, ignoring any prefix in the query.
func matchName(name, query string) bool {
	if query == "*" {
		return true
	}
	if i := strings.IndexByte(query, ':'); i >= 0 {
		query = query[i+1:]
	}
	return name == query
}

// =============================================================================
// PN13 to FHIR Converter - Main Entry Point
// =============================================================================
//
// This is the main entry point for the PN13 to FHIR converter CLI. It
// delegates to the cmd package.
//
// USAGE:
//   pn13-to-fhir [flags] <input.xml> <output.json>
//
// ARCHITECTURE:
//   - cmd/                 : CLI definition (Cobra)
//   - internal/config      : main configuration (Viper) and mapping rules (YAML)
//   - internal/pn13        : PN13 XML reader
//   - internal/xlsxparser  : XLSX mapping templates
//   - internal/converter   : conversion pipeline and value transformations
//   - internal/validation  : FHIR primitive and required-field checks
//   - internal/fhirwriter  : FHIR Bundle JSON generation
//   - pkg/utils            : file helpers (atomic writes, error logs)
//
// =============================================================================

package main

import (
	"github.com/ginjaninja78/convert-pn13-to-fhir/cmd"
)

func main() {
	cmd.Execute()
}

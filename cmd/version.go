// =============================================================================
// PN13 to FHIR Converter - Version Information
// =============================================================================
//
// The version is printed with the --version flag.
//
// OUTPUT:
//   pn13-to-fhir 1.0.0
//   Build Date: 2026-10-16
//   Go Version: go1.24.11
//
// =============================================================================

package cmd

import (
	"fmt"
	"runtime"
)

// These variables are set at build time using ldflags.
// Example build command:
//   go build -ldflags "-X 'github.com/ginjaninja78/convert-pn13-to-fhir/cmd.Version=1.0.0'"

// Version is the application version.
var Version = "1.0.0"

// BuildDate is the date the application was built.
var BuildDate = "unknown"

// versionTemplate is the cobra template for --version.
func versionTemplate() string {
	return fmt.Sprintf("pn13-to-fhir {{.Version}}\nBuild Date: %s\nGo Version: %s\n", BuildDate, runtime.Version())
}

// =============================================================================
// PN13 to FHIR Converter - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. The tool has a single
// command taking exactly two positional arguments:
//
//   pn13-to-fhir [flags] <input.xml> <output.json>
//
// ARGUMENT HANDLING:
//   - Exactly two arguments: the converter is built and called once with
//     (input, output); exit code 0 on success
//   - Any other count, an unknown flag, or -h/--help: the usage line is
//     printed to standard output and the exit code is 1; no converter is built
//   - "--" ends flag parsing, so paths starting with "-" are passed after it
//   - Conversion failure: "Error: <message>" on standard error, exit code 1
//
// CONFIGURATION:
//   Configuration is loaded only after the arguments are accepted, so a usage
//   error never reads a config file.
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/config"
	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/converter"
)

// UsageMessage is printed on standard output when the arguments are wrong.
// Existing scripts match on this exact line.
const UsageMessage = "Usage : python src/convert_pn13_to_fhir/main.py fichier_entree.xml fichier_sortie.json"

// errUsage marks argument and flag errors.
var errUsage = errors.New("usage error")

// ConverterFactory builds the converter once the configuration is known.
type ConverterFactory func(cfg *config.MainConfig, logger converter.Logger) (converter.Converter, error)

// newFileConverter is the production ConverterFactory.
func newFileConverter(cfg *config.MainConfig, logger converter.Logger) (converter.Converter, error) {
	c, err := converter.NewFileConverter(cfg, logger)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// =============================================================================
// COMMAND FLAGS
// =============================================================================

type rootOptions struct {
	// configFile is the path to the main configuration file.
	configFile string

	// verbose forces debug logging.
	verbose bool

	// mapping and template are bound to mapping_file and template_file.
	mapping  string
	template string
}

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

// newRootCmd builds the root command. Output streams and the converter
// factory are injected so tests can drive the command directly.
func newRootCmd(stdout, stderr io.Writer, factory ConverterFactory) *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "pn13-to-fhir <input.xml> <output.json>",
		Short: "Convert a PN13 XML message into a FHIR R4 JSON Bundle",
		Long: `pn13-to-fhir converts a PN13 prescription message (XML) into a FHIR R4
Bundle (JSON).

The mapping from PN13 elements to FHIR resources is rule driven. A default
mapping (Patient, Practitioner, MedicationRequest) is built in; use --mapping
to supply your own YAML rules and --template to add rows from an XLSX
mapping spreadsheet.

Example Usage:
  pn13-to-fhir prescription.xml bundle.json
  pn13-to-fhir --mapping site.yaml -v prescription.xml bundle.json`,

		Version: Version,

		Args: func(cmd *cobra.Command, args []string) error {
			if len(args) != 2 {
				return errUsage
			}
			return nil
		},

		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configFile, cmd.Flags())
			if err != nil {
				return err
			}

			logger := newLogger(cfg, opts.verbose, stderr)
			logger.Debug("configuration loaded",
				"mapping_file", cfg.MappingFile,
				"template_file", cfg.TemplateFile,
				"bundle_type", cfg.Output.BundleType)

			conv, err := factory(cfg, logger)
			if err != nil {
				return err
			}

			return conv.Convert(args[0], args[1])
		},

		SilenceErrors: true,
		SilenceUsage:  true,
	}

	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetFlagErrorFunc(func(*cobra.Command, error) error {
		return errUsage
	})
	cmd.SetVersionTemplate(versionTemplate())

	// -h and --help print the usage line like any other usage error; run
	// reports them once Execute returns.
	cmd.SetHelpFunc(func(*cobra.Command, []string) {})

	// ==========================================================================
	// FLAGS
	// ==========================================================================

	flags := cmd.Flags()
	flags.StringVar(&opts.configFile, "config", "", "Path to the main configuration file (default is ./pn13-to-fhir.yaml)")
	flags.StringVar(&opts.mapping, "mapping", "", "Path to a YAML mapping file (default is the built-in mapping)")
	flags.StringVar(&opts.template, "template", "", "Path to an XLSX mapping template merged into the mapping")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Enable verbose output for debugging")

	return cmd
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// run executes the command with args and returns the process exit code.
func run(args []string, stdout, stderr io.Writer, factory ConverterFactory) int {
	cmd := newRootCmd(stdout, stderr, factory)

	// cobra falls back to os.Args when given nil.
	if args == nil {
		args = []string{}
	}
	cmd.SetArgs(args)

	err := cmd.Execute()
	if err == nil {
		if help, _ := cmd.Flags().GetBool("help"); help {
			err = errUsage
		}
	}

	switch {
	case err == nil:
		return 0
	case errors.Is(err, errUsage):
		fmt.Fprintln(stdout, UsageMessage)
		return 1
	default:
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
}

// Execute runs the CLI with the process arguments and exits.
// This is called by main.main().
func Execute() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr, newFileConverter))
}

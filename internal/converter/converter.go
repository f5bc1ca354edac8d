// =============================================================================
// PN13 to FHIR Converter - Converter Module
// =============================================================================
//
// This module contains the core conversion logic. It orchestrates the entire
// conversion pipeline for a single file, from PN13 parsing to FHIR output.
//
// CONVERSION PIPELINE:
//   1. Parse the PN13 XML file
//   2. Check the document root element
//   3. Select the elements that produce resources
//   4. Extract values, apply defaults and transformation actions
//   5. Validate the mapped values
//   6. Generate the FHIR Bundle
//   7. Write the output file atomically
//
// Each failure is reported as a *ConversionError naming the stage that
// failed.
//
// =============================================================================

package converter

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/config"
	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/fhirwriter"
	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/pn13"
	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/types"
	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/validation"
	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/xlsxparser"
	"github.com/ginjaninja78/convert-pn13-to-fhir/pkg/utils"
)

// =============================================================================
// INTERFACES
// =============================================================================

// Converter converts one PN13 file into one FHIR JSON file.
type Converter interface {
	Convert(inputPath, outputPath string) error
}

// Logger is an interface for structured logging. *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// =============================================================================
// ERRORS
// =============================================================================

// Pipeline stages reported in ConversionError.
const (
	StageParse    = "parse"
	StageMap      = "map"
	StageValidate = "validate"
	StageGenerate = "generate"
	StageWrite    = "write"
)

// ErrValidationFailed is wrapped by validate-stage errors.
var ErrValidationFailed = errors.New("validation failed")

// ConversionError describes a failed pipeline stage.
type ConversionError struct {
	// Stage is one of the Stage constants.
	Stage string

	// Path is the file the stage was working on.
	Path string

	Err error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Stage, e.Path, e.Err)
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// =============================================================================
// RESULT STRUCTURE
// =============================================================================

// Result represents the outcome of converting a single file.
type Result struct {
	// InputFile is the path to the PN13 file that was processed.
	InputFile string

	// OutputFile is the path to the generated FHIR file.
	// This is empty if processing failed.
	OutputFile string

	// ErrorLogFile is the path to the error log, if one was written.
	ErrorLogFile string

	// Success indicates whether the processing was successful.
	Success bool

	// Error contains the error if processing failed.
	Error error

	// Stats contains processing statistics.
	Stats ProcessingStats
}

// ProcessingStats contains statistics about the processing.
type ProcessingStats struct {
	// ElementsParsed is the number of XML elements in the input.
	ElementsParsed int

	// ResourcesCreated is the number of FHIR resources in the bundle.
	ResourcesCreated int

	// FieldsMapped is the number of field values produced by the mapping.
	FieldsMapped int

	// ValidationErrors and ValidationWarnings count validation findings.
	// With ContinueOnError, processing continues despite errors.
	ValidationErrors   int
	ValidationWarnings int

	// ProcessingTime is the time taken to process the file.
	ProcessingTime time.Duration
}

// =============================================================================
// FILE CONVERTER
// =============================================================================

// FileConverter implements Converter with mapping rules.
type FileConverter struct {
	cfg         *config.MainConfig
	mapping     *config.MappingConfig
	transformer *Transformer
	logger      Logger

	// generateOptions is used by tests to get stable ids and timestamps.
	generateOptions fhirwriter.GenerateOptions
}

// NewFileConverter loads the mapping rules named in cfg and returns a
// converter for them.
//
// MAPPING RESOLUTION:
//   1. cfg.MappingFile, or the embedded default mapping when empty
//   2. Rows of cfg.TemplateFile (XLSX), if set, merged into the rules
func NewFileConverter(cfg *config.MainConfig, logger Logger) (*FileConverter, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if logger == nil {
		logger = nopLogger{}
	}

	var (
		mapping *config.MappingConfig
		err     error
	)
	if cfg.MappingFile != "" {
		mapping, err = config.LoadMappingConfig(cfg.MappingFile)
	} else {
		mapping, err = config.DefaultMapping()
	}
	if err != nil {
		return nil, err
	}

	if cfg.TemplateFile != "" {
		resources, err := xlsxparser.Parse(cfg.TemplateFile)
		if err != nil {
			return nil, fmt.Errorf("failed to parse template %s: %w", cfg.TemplateFile, err)
		}
		mapping.Merge(resources)
		if err := mapping.Validate(); err != nil {
			return nil, fmt.Errorf("invalid mapping after merging %s: %w", cfg.TemplateFile, err)
		}
		logger.Debug("merged mapping template", "template", cfg.TemplateFile, "resources", len(resources))
	}

	options := fhirwriter.DefaultGenerateOptions()
	options.BundleType = cfg.Output.BundleType
	options.Indent = cfg.Output.Indent

	logger.Debug("loaded mapping", "name", mapping.Name, "resources", len(mapping.Resources))

	return &FileConverter{
		cfg:             cfg,
		mapping:         mapping,
		transformer:     NewTransformer(),
		logger:          logger,
		generateOptions: options,
	}, nil
}

// Mapping returns the effective mapping rules.
func (c *FileConverter) Mapping() *config.MappingConfig {
	return c.mapping
}

// Convert implements Converter.
func (c *FileConverter) Convert(inputPath, outputPath string) error {
	result := c.Run(inputPath, outputPath)
	if !result.Success {
		return result.Error
	}
	c.logger.Info("conversion complete",
		"input", inputPath,
		"output", outputPath,
		"resources", result.Stats.ResourcesCreated,
		"duration", result.Stats.ProcessingTime)
	return nil
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run executes the conversion pipeline for one file.
func (c *FileConverter) Run(inputPath, outputPath string) Result {
	startTime := time.Now()
	result := Result{InputFile: inputPath}

	fail := func(stage, path string, err error) Result {
		result.Error = &ConversionError{Stage: stage, Path: path, Err: err}
		result.Stats.ProcessingTime = time.Since(startTime)
		return result
	}

	// =========================================================================
	// STEP 1: PARSE INPUT
	// =========================================================================

	c.logger.Debug("parsing input", "input", inputPath)

	doc, err := pn13.Parse(inputPath, c.cfg.Input)
	if err != nil {
		return fail(StageParse, inputPath, err)
	}
	result.Stats.ElementsParsed = doc.ElementCount

	// =========================================================================
	// STEP 2: CHECK ROOT ELEMENT
	// =========================================================================

	if root := c.mapping.RootElement; root != "" && doc.Root.Name != root {
		return fail(StageMap, inputPath,
			fmt.Errorf("unexpected root element <%s> at line %d, expected <%s>", doc.Root.Name, doc.Root.Line, root))
	}

	// =========================================================================
	// STEPS 3-4: SELECT, EXTRACT AND TRANSFORM
	// =========================================================================

	resources, err := c.mapResources(doc.Root)
	if err != nil {
		return fail(StageMap, inputPath, err)
	}
	result.Stats.ResourcesCreated = len(resources)
	for _, r := range resources {
		result.Stats.FieldsMapped += len(r.Fields)
	}
	c.logger.Debug("mapped resources", "resources", len(resources), "fields", result.Stats.FieldsMapped)

	// =========================================================================
	// STEP 5: VALIDATE
	// =========================================================================

	validationResult := validation.Validate(resources)
	result.Stats.ValidationErrors = validationResult.ErrorCount
	result.Stats.ValidationWarnings = validationResult.WarningCount

	for _, finding := range validationResult.Errors {
		c.logger.Warn("validation finding", "finding", finding.Error())
	}

	if c.cfg.WriteErrorLog {
		logPath, err := utils.WriteErrorLog(errorLogEntries(validationResult.Errors), inputPath, utils.ErrorLogPath(outputPath))
		if err != nil {
			c.logger.Warn("failed to write error log", "error", err)
		} else if logPath != "" {
			result.ErrorLogFile = logPath
			c.logger.Info("wrote error log", "path", logPath)
		}
	}

	if !validationResult.IsValid {
		if !c.cfg.ContinueOnError {
			return fail(StageValidate, inputPath,
				fmt.Errorf("%w with %d error(s)\n%s", ErrValidationFailed, validationResult.ErrorCount,
					strings.TrimRight(validation.FormatErrors(validationResult.Errors), "\n")))
		}
		c.logger.Warn("continuing despite validation errors", "errors", validationResult.ErrorCount)
	}

	// =========================================================================
	// STEP 6: GENERATE BUNDLE
	// =========================================================================

	data, err := fhirwriter.GenerateWithOptions(resources, c.generateOptions)
	if err != nil {
		return fail(StageGenerate, outputPath, err)
	}

	// =========================================================================
	// STEP 7: WRITE OUTPUT
	// =========================================================================

	if err := utils.WriteFileAtomic(outputPath, data); err != nil {
		return fail(StageWrite, outputPath, err)
	}

	result.OutputFile = outputPath
	result.Success = true
	result.Stats.ProcessingTime = time.Since(startTime)

	return result
}

// =============================================================================
// MAPPING
// =============================================================================

// mapResources builds one resource per element selected by each resource
// mapping, in mapping order.
func (c *FileConverter) mapResources(root *pn13.Element) ([]types.Resource, error) {
	var resources []types.Resource
	counts := make(map[string]int)

	for _, rm := range c.mapping.Resources {
		elements := root.Find(rm.Select)
		if len(elements) == 0 {
			if rm.Required {
				return nil, fmt.Errorf("required resource %s: no element matches %q", rm.ResourceType, rm.Select)
			}
			c.logger.Debug("no element selected", "resource", rm.ResourceType, "select", rm.Select)
			continue
		}

		for _, el := range elements {
			resource := types.Resource{
				Type:       rm.ResourceType,
				Index:      counts[rm.ResourceType],
				SourceLine: el.Line,
				Fields:     make([]types.Field, 0, len(rm.Fields)),
			}
			counts[rm.ResourceType]++

			for _, fm := range rm.Fields {
				field, err := c.mapField(el, fm)
				if err != nil {
					return nil, fmt.Errorf("%s[%d] (line %d), field %s: %w",
						resource.Type, resource.Index, el.Line, fm.Target, err)
				}
				resource.Fields = append(resource.Fields, field)
			}

			resources = append(resources, resource)
		}
	}

	return resources, nil
}

// mapField extracts and transforms the value of one field mapping.
func (c *FileConverter) mapField(el *pn13.Element, fm config.FieldMapping) (types.Field, error) {
	field := types.Field{
		Target:    fm.Target,
		DataType:  fm.DataType,
		Source:    fm.Source,
		Required:  fm.Required,
		MaxLength: fm.MaxLength,
	}

	if fm.DataType == types.DataTypeReference || fm.Source == "" {
		field.Value = fm.Value
	} else {
		field.Value, _ = el.Value(fm.Source)
	}

	if field.Value == "" {
		field.Value = fm.Default
	}

	value, err := c.transformer.Transform(field.Value, fm.Actions)
	if err != nil {
		return field, err
	}
	field.Value = value

	return field, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// errorLogEntries converts validation findings to error log entries.
func errorLogEntries(findings []*validation.ValidationError) []utils.ErrorLogEntry {
	entries := make([]utils.ErrorLogEntry, 0, len(findings))
	for _, f := range findings {
		entries = append(entries, utils.ErrorLogEntry{
			Severity:     f.Severity,
			ResourceType: f.ResourceType,
			ResourceID:   f.ResourceIndex,
			LineNumber:   f.Line,
			FieldName:    f.Field,
			SourcePath:   f.Source,
			FieldValue:   f.Value,
			ErrorMessage: f.Message,
		})
	}
	return entries
}

// nopLogger discards everything.
type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

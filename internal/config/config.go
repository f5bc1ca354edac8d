// =============================================================================
// PN13 to FHIR Converter - Configuration Module
// =============================================================================
//
// This module is responsible for loading and managing all configuration.
// It handles both the main application settings and the mapping rules.
//
// CONFIGURATION SOURCES (lowest to highest precedence):
//   1. Built-in defaults
//   2. Main config file (pn13-to-fhir.yaml, or the file given with --config)
//   3. Environment variables (PN13_FHIR_*, e.g. PN13_FHIR_LOG_LEVEL)
//   4. Command-line flags
//
// The mapping rules (which PN13 element feeds which FHIR field) live in a
// separate YAML file, see mapping.go.
//
// =============================================================================

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	// ConfigName is the base name of the main config file searched when no
	// --config flag is given.
	ConfigName = "pn13-to-fhir"

	// EnvPrefix is the prefix of the environment variables read by Load.
	EnvPrefix = "PN13_FHIR"
)

// Valid values for the enumerated settings.
var (
	validLogLevels   = []string{"debug", "info", "warn", "error"}
	validLogFormats  = []string{"text", "json"}
	validBundleTypes = []string{"collection", "batch", "transaction", "document", "message", "searchset"}
)

// flagKeys maps command-line flag names to configuration keys.
var flagKeys = map[string]string{
	"mapping":  "mapping_file",
	"template": "template_file",
}

// =============================================================================
// MAIN CONFIGURATION STRUCTURE
// =============================================================================

// MainConfig holds the global application configuration.
type MainConfig struct {
	// MappingFile is the path to the YAML mapping rules.
	// Empty means the embedded default mapping is used.
	MappingFile string `mapstructure:"mapping_file"`

	// TemplateFile is the path to an optional XLSX mapping template whose
	// rows are merged into the mapping rules.
	TemplateFile string `mapstructure:"template_file"`

	// LogLevel controls the verbosity of logging.
	// Valid values: "debug", "info", "warn", "error"
	// Default: "warn"
	LogLevel string `mapstructure:"log_level"`

	// LogFormat selects the log handler: "text" or "json".
	// Default: "text"
	LogFormat string `mapstructure:"log_format"`

	// Input contains settings for reading the PN13 file.
	Input InputSettings `mapstructure:"input"`

	// Output contains settings for writing the FHIR file.
	Output OutputSettings `mapstructure:"output"`

	// ContinueOnError writes the output even when validation reports errors.
	// Default: false
	ContinueOnError bool `mapstructure:"continue_on_error"`

	// WriteErrorLog writes validation findings to <output>.errors.log.
	// Default: false
	WriteErrorLog bool `mapstructure:"write_error_log"`
}

// InputSettings contains settings for parsing PN13 files.
type InputSettings struct {
	// Encoding forces the character encoding of the input file
	// (e.g. "ISO-8859-1", "windows-1252").
	// Empty means the encoding declared in the XML declaration is used.
	Encoding string `mapstructure:"encoding"`
}

// OutputSettings contains settings for the generated FHIR document.
type OutputSettings struct {
	// BundleType is the FHIR Bundle.type value.
	// Default: "collection"
	BundleType string `mapstructure:"bundle_type"`

	// Indent is the JSON indentation string. Empty produces compact JSON.
	// Default: "  " (two spaces)
	Indent string `mapstructure:"indent"`
}

// =============================================================================
// CONFIGURATION LOADING FUNCTIONS
// =============================================================================

// Default returns the configuration used when nothing else is specified.
func Default() *MainConfig {
	return &MainConfig{
		LogLevel:  "warn",
		LogFormat: "text",
		Output: OutputSettings{
			BundleType: "collection",
			Indent:     "  ",
		},
	}
}

// Load builds the main configuration from defaults, the config file, the
// environment and the given flags.
//
// PARAMETERS:
//   - configPath: An explicit config file. If empty, pn13-to-fhir.yaml is
//     searched in the working directory and in ~/.config/pn13-to-fhir.
//   - flags: Command-line flags to bind (may be nil).
//
// RETURNS:
//   - A pointer to the MainConfig struct.
//   - An error if an explicit file cannot be read, or a value is invalid.
func Load(configPath string, flags *pflag.FlagSet) (*MainConfig, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName(ConfigName)
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".config", ConfigName))
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// A missing default config file is fine; a broken one or a missing
		// explicit one is not.
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return nil, fmt.Errorf("failed to bind flag %s: %w", name, err)
			}
		}
	}

	var cfg MainConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers every key with its default value. Registering all
// keys also lets AutomaticEnv pick them up during Unmarshal.
func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("mapping_file", d.MappingFile)
	v.SetDefault("template_file", d.TemplateFile)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("log_format", d.LogFormat)
	v.SetDefault("input.encoding", d.Input.Encoding)
	v.SetDefault("output.bundle_type", d.Output.BundleType)
	v.SetDefault("output.indent", d.Output.Indent)
	v.SetDefault("continue_on_error", d.ContinueOnError)
	v.SetDefault("write_error_log", d.WriteErrorLog)
}

// Validate checks the enumerated settings.
func (c *MainConfig) Validate() error {
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if !contains(validLogLevels, c.LogLevel) {
		return fmt.Errorf("log_level must be one of %s, got %q", strings.Join(validLogLevels, ", "), c.LogLevel)
	}

	c.LogFormat = strings.ToLower(strings.TrimSpace(c.LogFormat))
	if !contains(validLogFormats, c.LogFormat) {
		return fmt.Errorf("log_format must be one of %s, got %q", strings.Join(validLogFormats, ", "), c.LogFormat)
	}

	if !contains(validBundleTypes, c.Output.BundleType) {
		return fmt.Errorf("output.bundle_type must be one of %s, got %q", strings.Join(validBundleTypes, ", "), c.Output.BundleType)
	}

	return nil
}

func contains(values []string, value string) bool {
	for _, v := range values {
		if v == value {
			return true
		}
	}
	return false
}

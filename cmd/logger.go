// =============================================================================
// PN13 to FHIR Converter - Logging
// =============================================================================
//
// The converter logs through log/slog on standard error, so standard output
// stays reserved for the usage line.
//
// LEVELS:
//   - log_level from the configuration (debug, info, warn, error); warn when
//     unset or unknown
//   - --verbose forces debug
//
// FORMAT:
//   log_format "json" selects the JSON handler, anything else the text handler.
//
// =============================================================================

package cmd

import (
	"io"
	"log/slog"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/config"
)

// newLogger builds the slog logger described by cfg. verbose forces debug.
func newLogger(cfg *config.MainConfig, verbose bool, w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.LogFormat == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

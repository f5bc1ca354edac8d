// =============================================================================
// PN13 to FHIR Converter - File Manager Utility
// =============================================================================
//
// This module provides file utilities for the converter:
//   - Directory management
//   - Atomic output writes
//   - Error log generation
//
// WRITE STRATEGY:
//   - Output is written to a temporary file next to the destination and
//     renamed into place, so a failed run never leaves a truncated document
//   - The error log is written next to the output file as
//     <output>.errors.log
//
// =============================================================================

package utils

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectory creates dir and its parents if they don't exist.
// An empty dir or "." is a no-op.
func EnsureDirectory(dir string) error {
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}

// FileExists checks if a regular file exists.
func FileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// =============================================================================
// ATOMIC WRITES
// =============================================================================

// WriteFileAtomic writes data to path through a temporary file in the same
// directory. The parent directory is created if needed.
//
// RETURNS:
//   - An error if the directory, the temporary file or the rename fails.
//     The temporary file is removed in every failure case.
func WriteFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDirectory(dir); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		tmp.Close()
		os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := tmp.Chmod(0644); err != nil {
		cleanup()
		return fmt.Errorf("failed to set permissions on %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move output into place: %w", err)
	}

	return nil
}

// =============================================================================
// ERROR LOG GENERATION
// =============================================================================

// ErrorLogEntry represents a single error log entry.
type ErrorLogEntry struct {
	Severity     string
	ResourceType string
	ResourceID   int
	LineNumber   int
	FieldName    string
	SourcePath   string
	FieldValue   string
	ErrorMessage string
}

// ErrorLogPath returns the error log path for an output file.
func ErrorLogPath(outputPath string) string {
	return outputPath + ".errors.log"
}

// WriteErrorLog writes error entries to logPath.
//
// PARAMETERS:
//   - entries: The error entries to write. When empty, no log is written and
//     a log left at logPath by an earlier run is removed.
//   - inputFile: The PN13 file the entries refer to.
//   - logPath: The log file to create or overwrite.
//
// RETURNS:
//   - The path to the error log file, or "" when nothing was written.
//   - An error if writing or removing fails.
func WriteErrorLog(entries []ErrorLogEntry, inputFile, logPath string) (string, error) {
	if len(entries) == 0 {
		if err := os.Remove(logPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("failed to remove stale error log: %w", err)
		}
		return "", nil
	}

	if err := EnsureDirectory(filepath.Dir(logPath)); err != nil {
		return "", err
	}

	file, err := os.Create(logPath)
	if err != nil {
		return "", fmt.Errorf("failed to create error log: %w", err)
	}

	writer := bufio.NewWriter(file)

	fmt.Fprintf(writer, "PN13 to FHIR Converter - Error Log\n"+
		"Generated: %s\n"+
		"Input:     %s\n"+
		"Findings:  %d\n"+
		"================================================================================\n\n",
		time.Now().Format("2006-01-02 15:04:05"),
		inputFile,
		len(entries))

	for i, entry := range entries {
		fmt.Fprintf(writer, "Finding #%d\n"+
			"  Severity:       %s\n"+
			"  Resource:       %s[%d]\n"+
			"  Message:        %s\n",
			i+1,
			entry.Severity,
			entry.ResourceType,
			entry.ResourceID,
			entry.ErrorMessage)

		if entry.LineNumber > 0 {
			fmt.Fprintf(writer, "  Line Number:    %d\n", entry.LineNumber)
		}
		if entry.FieldName != "" {
			fmt.Fprintf(writer, "  Field:          %s\n", entry.FieldName)
		}
		if entry.SourcePath != "" {
			fmt.Fprintf(writer, "  Source:         %s\n", entry.SourcePath)
		}
		if entry.FieldValue != "" {
			fmt.Fprintf(writer, "  Value:          %s\n", entry.FieldValue)
		}
		writer.WriteString("\n")
	}

	writer.WriteString("================================================================================\n" +
		"End of Error Log\n")

	if err := writer.Flush(); err != nil {
		file.Close()
		return "", fmt.Errorf("failed to flush error log: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("failed to close error log: %w", err)
	}

	return logPath, nil
}

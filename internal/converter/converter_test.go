package converter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/convert-pn13-to-fhir/internal/config"
	"github.com/ginjaninja78/convert-pn13-to-fhir/pkg/utils"
)

const samplePN13 = `<?xml version="1.0" encoding="UTF-8"?>
<PN13 xmlns="urn:pn13">
  <Patient>
    <IPP> 000123 </IPP>
    <NomUsuel>Dupont  de la Tour</NomUsuel>
    <Prenom>JEAN-PIERRE</Prenom>
    <DateNaissance>15/03/1950</DateNaissance>
    <Sexe>m</Sexe>
  </Patient>
  <Prescription>
    <Prescripteur>
      <RPPS>10 003 456 789</RPPS>
      <Nom>Martin</Nom>
      <Prenom>claire</Prenom>
    </Prescripteur>
    <LignePrescription numero="1">
      <Medicament>
        <CodeUCD>9456123</CodeUCD>
        <Libelle>DOLIPRANE 1000MG   CPR</Libelle>
      </Medicament>
      <Posologie>1 cp matin et soir</Posologie>
      <DateDebut>01/10/2026</DateDebut>
      <DateFin>15/10/2026</DateFin>
      <Dose>1,5</Dose>
      <Unite>comprimé</Unite>
    </LignePrescription>
    <LignePrescription numero="2">
      <Medicament>
        <CodeUCD>94561</CodeUCD>
        <Libelle>AMOXICILLINE 500MG</Libelle>
      </Medicament>
    </LignePrescription>
  </Prescription>
</PN13>
`

type recordingLogger struct {
	messages []string
}

func (l *recordingLogger) record(level, msg string, args ...any) {
	l.messages = append(l.messages, fmt.Sprint(level, " ", msg, " ", args))
}

func (l *recordingLogger) Debug(msg string, args ...any) { l.record("DEBUG", msg, args...) }
func (l *recordingLogger) Info(msg string, args ...any)  { l.record("INFO", msg, args...) }
func (l *recordingLogger) Warn(msg string, args ...any)  { l.record("WARN", msg, args...) }
func (l *recordingLogger) Error(msg string, args ...any) { l.record("ERROR", msg, args...) }

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// newTestConverter returns a converter with sequential ids and a fixed clock.
func newTestConverter(t *testing.T, cfg *config.MainConfig) *FileConverter {
	t.Helper()

	c, err := NewFileConverter(cfg, &recordingLogger{})
	require.NoError(t, err)

	n := 0
	c.generateOptions.NewID = func() string {
		n++
		return fmt.Sprintf("00000000-0000-0000-0000-%012d", n)
	}
	c.generateOptions.Now = func() time.Time {
		return time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	}
	return c
}

func readBundle(t *testing.T, path string) map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var bundle map[string]any
	require.NoError(t, json.Unmarshal(data, &bundle))
	return bundle
}

func resourcesByType(bundle map[string]any) map[string][]map[string]any {
	out := make(map[string][]map[string]any)
	for _, e := range bundle["entry"].([]any) {
		resource := e.(map[string]any)["resource"].(map[string]any)
		rt := resource["resourceType"].(string)
		out[rt] = append(out[rt], resource)
	}
	return out
}

func TestFileConverter_DefaultMapping(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "in.xml", samplePN13)
	output := filepath.Join(dir, "out", "bundle.json")

	c := newTestConverter(t, config.Default())
	result := c.Run(input, output)
	require.NoError(t, result.Error)
	assert.True(t, result.Success)
	assert.Equal(t, output, result.OutputFile)
	assert.Equal(t, 4, result.Stats.ResourcesCreated)
	assert.Equal(t, 0, result.Stats.ValidationErrors)
	assert.Greater(t, result.Stats.ElementsParsed, 20)

	bundle := readBundle(t, output)
	assert.Equal(t, "Bundle", bundle["resourceType"])
	assert.Equal(t, "collection", bundle["type"])
	assert.Equal(t, "2026-10-16T09:00:00Z", bundle["timestamp"])

	byType := resourcesByType(bundle)
	require.Len(t, byType["Patient"], 1)
	require.Len(t, byType["Practitioner"], 1)
	require.Len(t, byType["MedicationRequest"], 2)

	patient := byType["Patient"][0]
	assert.Equal(t, "1950-03-15", patient["birthDate"])
	assert.Equal(t, "male", patient["gender"])
	identifier := patient["identifier"].([]any)[0].(map[string]any)
	assert.Equal(t, "000123", identifier["value"])
	name := patient["name"].([]any)[0].(map[string]any)
	assert.Equal(t, "DUPONT DE LA TOUR", name["family"])
	assert.Equal(t, []any{"Jean-Pierre"}, name["given"])
	assert.Equal(t, "official", name["use"])

	practitioner := byType["Practitioner"][0]
	assert.Equal(t, "10003456789", practitioner["identifier"].([]any)[0].(map[string]any)["value"])

	patientURL := "urn:uuid:" + patient["id"].(string)
	practitionerURL := "urn:uuid:" + practitioner["id"].(string)

	first := byType["MedicationRequest"][0]
	assert.Equal(t, "active", first["status"])
	assert.Equal(t, "order", first["intent"])
	assert.Equal(t, map[string]any{"reference": patientURL}, first["subject"])
	assert.Equal(t, map[string]any{"reference": practitionerURL}, first["requester"])

	medication := first["medicationCodeableConcept"].(map[string]any)
	assert.Equal(t, "DOLIPRANE 1000MG CPR", medication["text"])
	assert.Equal(t, "9456123", medication["coding"].([]any)[0].(map[string]any)["code"])

	dosage := first["dosageInstruction"].([]any)[0].(map[string]any)
	assert.Equal(t, "1 cp matin et soir", dosage["text"])
	period := dosage["timing"].(map[string]any)["repeat"].(map[string]any)["boundsPeriod"].(map[string]any)
	assert.Equal(t, "2026-10-01", period["start"])
	assert.Equal(t, "2026-10-15", period["end"])
	dose := dosage["doseAndRate"].([]any)[0].(map[string]any)["doseQuantity"].(map[string]any)
	assert.Equal(t, 1.5, dose["value"])
	assert.Equal(t, "comprimé", dose["unit"])

	second := byType["MedicationRequest"][1]
	assert.Equal(t, "2", second["identifier"].([]any)[0].(map[string]any)["value"])
	assert.Equal(t, "0094561", second["medicationCodeableConcept"].(map[string]any)["coding"].([]any)[0].(map[string]any)["code"])
	assert.NotContains(t, second, "dosageInstruction")
}

func TestFileConverter_Latin1Input(t *testing.T) {
	dir := t.TempDir()
	doc := strings.Replace(samplePN13, `encoding="UTF-8"`, `encoding="ISO-8859-1"`, 1)
	doc = strings.Replace(doc, "Dupont  de la Tour", "H\xe9rault", 1)
	doc = strings.Replace(doc, "comprimé", "comprim\xe9", 1)
	input := writeFile(t, dir, "in.xml", doc)
	output := filepath.Join(dir, "out.json")

	require.NoError(t, newTestConverter(t, config.Default()).Convert(input, output))

	byType := resourcesByType(readBundle(t, output))
	name := byType["Patient"][0]["name"].([]any)[0].(map[string]any)
	assert.Equal(t, "HÉRAULT", name["family"])
}

func TestFileConverter_ValidationFailure(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "in.xml", strings.Replace(samplePN13, "<NomUsuel>Dupont  de la Tour</NomUsuel>", "<NomUsuel/>", 1))
	output := filepath.Join(dir, "out.json")

	t.Run("fails by default", func(t *testing.T) {
		err := newTestConverter(t, config.Default()).Convert(input, output)
		require.Error(t, err)

		var convErr *ConversionError
		require.True(t, errors.As(err, &convErr))
		assert.Equal(t, StageValidate, convErr.Stage)
		assert.Equal(t, input, convErr.Path)
		assert.True(t, errors.Is(err, ErrValidationFailed))
		assert.Contains(t, err.Error(), "name[0].family")
		assert.False(t, utils.FileExists(output))
	})

	t.Run("continue on error with error log", func(t *testing.T) {
		cfg := config.Default()
		cfg.ContinueOnError = true
		cfg.WriteErrorLog = true

		result := newTestConverter(t, cfg).Run(input, output)
		require.NoError(t, result.Error)
		assert.Equal(t, 1, result.Stats.ValidationErrors)
		assert.True(t, utils.FileExists(output))
		assert.Equal(t, utils.ErrorLogPath(output), result.ErrorLogFile)

		log, err := os.ReadFile(result.ErrorLogFile)
		require.NoError(t, err)
		assert.Contains(t, string(log), "Field:          name[0].family")
		assert.Contains(t, string(log), "Line Number:    3")
	})
}

func TestFileConverter_ValidationFailureListsEveryFinding(t *testing.T) {
	dir := t.TempDir()
	xml := strings.Replace(samplePN13, "<NomUsuel>Dupont  de la Tour</NomUsuel>", "<NomUsuel/>", 1)
	xml = strings.Replace(xml, "<IPP> 000123 </IPP>", "<IPP/>", 1)
	input := writeFile(t, dir, "in.xml", xml)

	err := newTestConverter(t, config.Default()).Convert(input, filepath.Join(dir, "out.json"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrValidationFailed))

	msg := err.Error()
	assert.Contains(t, msg, "with 2 error(s)")
	assert.Contains(t, msg, "Validation completed with 2 finding(s):")
	assert.Contains(t, msg, "Field 'identifier[0].value'")
	assert.Contains(t, msg, "Field 'name[0].family'")
}

func TestFileConverter_CleanRunRemovesStaleErrorLog(t *testing.T) {
	dir := t.TempDir()
	input := writeFile(t, dir, "in.xml", samplePN13)
	output := filepath.Join(dir, "out.json")
	stale := writeFile(t, dir, "out.json.errors.log", "findings from an earlier run")

	cfg := config.Default()
	cfg.WriteErrorLog = true

	result := newTestConverter(t, cfg).Run(input, output)
	require.NoError(t, result.Error)
	assert.Empty(t, result.ErrorLogFile)
	assert.False(t, utils.FileExists(stale))
	assert.True(t, utils.FileExists(output))
}

func TestFileConverter_Failures(t *testing.T) {
	dir := t.TempDir()
	blocker := writeFile(t, dir, "blocker", "")

	tests := []struct {
		name      string
		input     string
		output    string
		wantStage string
		wantErr   string
	}{
		{
			name:      "missing input",
			input:     filepath.Join(dir, "missing.xml"),
			wantStage: StageParse,
			wantErr:   "failed to open file",
		},
		{
			name:      "malformed XML",
			input:     writeFile(t, dir, "bad.xml", "<PN13><Patient></PN13>"),
			wantStage: StageParse,
			wantErr:   "failed to parse XML",
		},
		{
			name:      "wrong root",
			input:     writeFile(t, dir, "root.xml", "<Message><Patient/></Message>"),
			wantStage: StageMap,
			wantErr:   "unexpected root element <Message>",
		},
		{
			name:      "missing patient",
			input:     writeFile(t, dir, "nopatient.xml", "<PN13><Prescription/></PN13>"),
			wantStage: StageMap,
			wantErr:   "required resource Patient",
		},
		{
			name:      "unwritable output",
			input:     writeFile(t, dir, "ok.xml", samplePN13),
			output:    filepath.Join(blocker, "out.json"),
			wantStage: StageWrite,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			output := tt.output
			if output == "" {
				output = filepath.Join(dir, "out.json")
			}

			err := newTestConverter(t, config.Default()).Convert(tt.input, output)
			require.Error(t, err)

			var convErr *ConversionError
			require.True(t, errors.As(err, &convErr))
			assert.Equal(t, tt.wantStage, convErr.Stage)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestFileConverter_CustomMappingAndTemplate(t *testing.T) {
	dir := t.TempDir()

	mappingPath := writeFile(t, dir, "mapping.yaml", `
name: site-a
root_element: PN13
resources:
  - resource_type: Patient
    select: Patient
    required: true
    fields:
      - source: IPP
        target: identifier[0].value
        actions:
          - type: trim
          - type: prepend_string
            value: "SITE-A-"
`)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	rows := [][]interface{}{
		{"ResourceType", "Select", "Source", "Value", "Target", "DataType", "MaxLength", "Required", "Default"},
		{"Patient", "Patient", "Sexe", "", "gender", "code", "", "", ""},
		{"Patient", "Patient", "", "true", "active", "boolean", "", "", ""},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow(sheet, cell, &row))
	}
	templatePath := filepath.Join(dir, "mapping.xlsx")
	require.NoError(t, f.SaveAs(templatePath))
	require.NoError(t, f.Close())

	cfg := config.Default()
	cfg.MappingFile = mappingPath
	cfg.TemplateFile = templatePath
	cfg.Output.BundleType = "transaction"

	c := newTestConverter(t, cfg)
	require.Len(t, c.Mapping().Resources, 1)
	require.Len(t, c.Mapping().Resources[0].Fields, 3)

	input := writeFile(t, dir, "in.xml", samplePN13)
	output := filepath.Join(dir, "out.json")
	require.NoError(t, c.Convert(input, output))

	bundle := readBundle(t, output)
	assert.Equal(t, "transaction", bundle["type"])
	entries := bundle["entry"].([]any)
	require.Len(t, entries, 1)

	entry := entries[0].(map[string]any)
	assert.Equal(t, map[string]any{"method": "POST", "url": "Patient"}, entry["request"])

	patient := entry["resource"].(map[string]any)
	assert.Equal(t, "SITE-A-000123", patient["identifier"].([]any)[0].(map[string]any)["value"])
	assert.Equal(t, "m", patient["gender"])
	assert.Equal(t, true, patient["active"])
}

func TestNewFileConverter_Errors(t *testing.T) {
	dir := t.TempDir()

	t.Run("missing mapping file", func(t *testing.T) {
		cfg := config.Default()
		cfg.MappingFile = filepath.Join(dir, "missing.yaml")
		_, err := NewFileConverter(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to read mapping file")
	})

	t.Run("missing template file", func(t *testing.T) {
		cfg := config.Default()
		cfg.TemplateFile = filepath.Join(dir, "missing.xlsx")
		_, err := NewFileConverter(cfg, nil)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse template")
	})
}

func TestConversionError(t *testing.T) {
	inner := errors.New("boom")
	err := &ConversionError{Stage: StageWrite, Path: "out.json", Err: inner}

	assert.Equal(t, "write out.json: boom", err.Error())
	assert.True(t, errors.Is(err, inner))
}

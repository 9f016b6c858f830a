package main

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() NoteTypeConfig {
	return NoteTypeConfig{
		Name: "ForkLapisForEnglsih",
		Fields: map[string]FieldConfig{
			"Expression":     {Mode: FieldModeInput},
			"Sentence":       {Mode: FieldModeInput},
			"MainDefinition": {Mode: FieldModeGenerate, LLMKey: "definition"},
			"IPA":            {Mode: FieldModeGenerate, LLMKey: "ipa"},
			"Picture":        {Mode: FieldModeSkip},
		},
	}
}

func validTestNote(id int64) Note {
	return Note{
		ID:        id,
		ModelName: "ForkLapisForEnglsih",
		Fields: map[string]string{
			"Expression":     "resilient",
			"Sentence":       "She stayed resilient.",
			"MainDefinition": "",
			"IPA":            "",
			"Picture":        "<img src=\"x.png\">",
		},
	}
}

func TestValidateNotesAllValid(t *testing.T) {
	report := ValidateNotes([]Note{validTestNote(1), validTestNote(2)}, testConfig())
	assert.Equal(t, 2, report.TotalNotes)
	assert.Equal(t, 2, report.ValidNotes)
	assert.Equal(t, 0, report.InvalidNotes)
	assert.Empty(t, report.Issues)
}

func TestValidateNoteEmptyInputField(t *testing.T) {
	note := validTestNote(1)
	note.Fields["Expression"] = "   "

	issues := validateNote(note, testConfig())
	require.Len(t, issues, 1)
	assert.Equal(t, "Expression", issues[0].FieldName)
	assert.Equal(t, FieldModeInput, issues[0].Mode)
}

func TestValidateNoteFilledGenerateField(t *testing.T) {
	note := validTestNote(1)
	note.Fields["MainDefinition"] = "already has a definition"
	note.Fields["IPA"] = "rɪˈzɪliənt"

	issues := validateNote(note, testConfig())
	require.Len(t, issues, 2)
	// Issues come back sorted by field name.
	assert.Equal(t, "IPA", issues[0].FieldName)
	assert.Equal(t, "MainDefinition", issues[1].FieldName)
}

func TestValidateNoteSkipFieldsIgnored(t *testing.T) {
	note := validTestNote(1)
	note.Fields["Picture"] = "anything goes here"
	assert.Empty(t, validateNote(note, testConfig()))
}

func TestValidateNoteModelMismatch(t *testing.T) {
	note := validTestNote(1)
	note.ModelName = "Basic"
	// Field checks against the wrong model are pointless, so an empty
	// Expression must not add a second issue.
	note.Fields["Expression"] = ""

	issues := validateNote(note, testConfig())
	require.Len(t, issues, 1)
	assert.Equal(t, "model_name", issues[0].FieldName)
}

func TestFilterValidNotes(t *testing.T) {
	invalid := validTestNote(2)
	invalid.Fields["Sentence"] = ""

	valid := FilterValidNotes([]Note{validTestNote(1), invalid, validTestNote(3)}, testConfig())
	require.Len(t, valid, 2)
	assert.Equal(t, int64(1), valid[0].ID)
	assert.Equal(t, int64(3), valid[1].ID)
}

func TestCheckFieldCompatibility(t *testing.T) {
	missing := CheckFieldCompatibility(
		[]string{"Expression", "Sentence", "Picture"},
		testConfig(),
	)
	assert.Equal(t, []string{"IPA", "MainDefinition"}, missing)

	assert.Empty(t, CheckFieldCompatibility(
		[]string{"Expression", "Sentence", "MainDefinition", "IPA", "Picture"},
		testConfig(),
	))
}

func TestFormatValidationReport(t *testing.T) {
	note := validTestNote(7)
	note.Fields["Expression"] = ""
	report := ValidateNotes([]Note{note}, testConfig())

	rendered := FormatValidationReport(report)
	assert.Contains(t, rendered, "Total notes: 1")
	assert.Contains(t, rendered, "Invalid: 1")
	assert.Contains(t, rendered, "Note 7:")
	assert.Contains(t, rendered, `INPUT field "Expression" must be filled`)
}

func TestFormatValidationReportTruncatesLongValuesOnRuneBoundary(t *testing.T) {
	note := validTestNote(7)
	note.Fields["MainDefinition"] = strings.Repeat("ё", 150)
	report := ValidateNotes([]Note{note}, testConfig())

	rendered := FormatValidationReport(report)
	assert.True(t, utf8.ValidString(rendered))
	assert.Contains(t, rendered, strings.Repeat("ё", 100)+"...")
	assert.NotContains(t, rendered, strings.Repeat("ё", 101))
}

package main

import (
	"fmt"
	"sort"
	"strings"
)

// ValidateNotes checks a batch of notes against a note-type configuration.
func ValidateNotes(notes []Note, config NoteTypeConfig) ValidationReport {
	report := ValidationReport{TotalNotes: len(notes)}

	for _, note := range notes {
		issues := validateNote(note, config)
		if len(issues) == 0 {
			report.ValidNotes++
		} else {
			report.InvalidNotes++
			report.Issues = append(report.Issues, issues...)
		}
	}

	return report
}

// validateNote checks one note. Model mismatch short-circuits: field checks
// against the wrong model are meaningless.
func validateNote(note Note, config NoteTypeConfig) []ValidationIssue {
	if note.ModelName != config.Name {
		return []ValidationIssue{{
			NoteID:    note.ID,
			FieldName: "model_name",
			Mode:      FieldModeInput,
			Value:     note.ModelName,
			Message:   fmt.Sprintf("expected model %q, got %q", config.Name, note.ModelName),
		}}
	}

	var issues []ValidationIssue
	for fieldName, fieldConfig := range config.Fields {
		value := strings.TrimSpace(note.Fields[fieldName])

		switch fieldConfig.Mode {
		case FieldModeInput:
			if value == "" {
				issues = append(issues, ValidationIssue{
					NoteID:    note.ID,
					FieldName: fieldName,
					Mode:      fieldConfig.Mode,
					Value:     value,
					Message:   fmt.Sprintf("INPUT field %q must be filled", fieldName),
				})
			}
		case FieldModeGenerate:
			if value != "" {
				issues = append(issues, ValidationIssue{
					NoteID:    note.ID,
					FieldName: fieldName,
					Mode:      fieldConfig.Mode,
					Value:     value,
					Message:   fmt.Sprintf("GENERATE field %q must be empty before processing", fieldName),
				})
			}
		}
	}

	sort.Slice(issues, func(i, j int) bool {
		return issues[i].FieldName < issues[j].FieldName
	})
	return issues
}

// FilterValidNotes returns only the notes without validation issues.
func FilterValidNotes(notes []Note, config NoteTypeConfig) []Note {
	valid := make([]Note, 0, len(notes))
	for _, note := range notes {
		if issues := validateNote(note, config); len(issues) == 0 {
			valid = append(valid, note)
		} else {
			log.Debugf("Note %d failed validation with %d issues", note.ID, len(issues))
		}
	}
	return valid
}

// CheckFieldCompatibility verifies that every configured field exists in
// the Anki note type. Returns the missing field names.
func CheckFieldCompatibility(ankiFields []string, config NoteTypeConfig) []string {
	available := make(map[string]bool, len(ankiFields))
	for _, field := range ankiFields {
		available[field] = true
	}

	var missing []string
	for fieldName := range config.Fields {
		if !available[fieldName] {
			missing = append(missing, fieldName)
		}
	}
	sort.Strings(missing)
	return missing
}

// FormatValidationReport renders a report for terminal output.
func FormatValidationReport(report ValidationReport) string {
	lines := []string{
		"=== Validation report ===",
		fmt.Sprintf("Total notes: %d", report.TotalNotes),
		fmt.Sprintf("Valid: %d", report.ValidNotes),
		fmt.Sprintf("Invalid: %d", report.InvalidNotes),
	}

	if len(report.Issues) > 0 {
		lines = append(lines, fmt.Sprintf("\n=== Issues (%d) ===", len(report.Issues)))

		issuesByNote := make(map[int64][]ValidationIssue)
		noteOrder := []int64{}
		for _, issue := range report.Issues {
			if _, seen := issuesByNote[issue.NoteID]; !seen {
				noteOrder = append(noteOrder, issue.NoteID)
			}
			issuesByNote[issue.NoteID] = append(issuesByNote[issue.NoteID], issue)
		}

		for _, noteID := range noteOrder {
			lines = append(lines, fmt.Sprintf("\nNote %d:", noteID))
			for _, issue := range issuesByNote[noteID] {
				lines = append(lines, fmt.Sprintf("  - %s (%s): %s", issue.FieldName, issue.Mode, issue.Message))
				if issue.Value != "" {
					value := issue.Value
					if runes := []rune(value); len(runes) > 100 {
						value = string(runes[:100]) + "..."
					}
					lines = append(lines, fmt.Sprintf("    current value: %q", value))
				}
			}
		}
	}

	return strings.Join(lines, "\n")
}

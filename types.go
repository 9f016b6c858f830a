package main

import (
	"context"
	"time"
)

// FieldMode controls how a note-type field is treated during processing.
type FieldMode string

const (
	// FieldModeInput fields must be filled before processing; their values
	// feed the generation prompt.
	FieldModeInput FieldMode = "INPUT"
	// FieldModeGenerate fields are populated by the processor and must be
	// empty beforehand.
	FieldModeGenerate FieldMode = "GENERATE"
	// FieldModeSkip fields are left untouched.
	FieldModeSkip FieldMode = "SKIP"
)

// FieldConfig describes a single field of a configured note type.
type FieldConfig struct {
	Mode FieldMode
	// LLMKey is the key in the word-data response that fills this field.
	// Empty for fields with special handling (audio, frequency).
	LLMKey string
}

// NoteTypeConfig describes which fields of an Anki note type are read and
// which are generated.
type NoteTypeConfig struct {
	Name   string
	Fields map[string]FieldConfig
}

// InputFields returns the names of all INPUT fields.
func (c NoteTypeConfig) InputFields() []string {
	return c.fieldsByMode(FieldModeInput)
}

// GenerateFields returns the names of all GENERATE fields.
func (c NoteTypeConfig) GenerateFields() []string {
	return c.fieldsByMode(FieldModeGenerate)
}

func (c NoteTypeConfig) fieldsByMode(mode FieldMode) []string {
	names := make([]string, 0, len(c.Fields))
	for name, field := range c.Fields {
		if field.Mode == mode {
			names = append(names, name)
		}
	}
	return names
}

// Note is a stripped down view of an Anki note as returned by the
// AnkiConnect notesInfo action.
type Note struct {
	ID        int64             `json:"note_id"`
	ModelName string            `json:"model_name"`
	DeckName  string            `json:"deck_name"`
	Fields    map[string]string `json:"fields"`
	Tags      []string          `json:"tags"`
}

// WordData is the structured payload the LLM returns for a single expression.
// All keys are required in the response; the prompt allows empty strings
// where no sensible value exists (e.g. antonyms).
type WordData struct {
	Definition   string   `json:"definition"`
	DefinitionRU string   `json:"definition_ru"`
	IPA          string   `json:"ipa"`
	Lemma        string   `json:"lemma"`
	Collocations string   `json:"collocations"`
	Synonyms     string   `json:"synonyms"`
	Antonyms     string   `json:"antonyms"`
	RelatedForms string   `json:"related_forms"`
	Examples     string   `json:"examples"`
	Hint         string   `json:"hint"`
	Tags         []string `json:"tags"`
}

// ValueForKey maps a word-data key (as used in FieldConfig.LLMKey) to its
// value. The second return is false for unknown keys.
func (w WordData) ValueForKey(key string) (string, bool) {
	switch key {
	case "definition":
		return w.Definition, true
	case "definition_ru":
		return w.DefinitionRU, true
	case "ipa":
		return w.IPA, true
	case "lemma":
		return w.Lemma, true
	case "collocations":
		return w.Collocations, true
	case "synonyms":
		return w.Synonyms, true
	case "antonyms":
		return w.Antonyms, true
	case "related_forms":
		return w.RelatedForms, true
	case "examples":
		return w.Examples, true
	case "hint":
		return w.Hint, true
	default:
		return "", false
	}
}

// NoteResult is the outcome of processing a single note.
type NoteResult struct {
	NoteID        int64             `json:"note_id"`
	Success       bool              `json:"success"`
	Skipped       bool              `json:"skipped,omitempty"`
	Error         string            `json:"error,omitempty"`
	UpdatedFields map[string]string `json:"updated_fields,omitempty"`
	AudioFile     string            `json:"audio_file,omitempty"`
}

// RunSummary aggregates the outcome of a processing run.
type RunSummary struct {
	RunID          string        `json:"run_id"`
	Deck           string        `json:"deck"`
	NoteType       string        `json:"note_type"`
	TotalNotes     int           `json:"total_notes"`
	Processed      int           `json:"processed"`
	Succeeded      int           `json:"succeeded"`
	Failed         int           `json:"failed"`
	SkippedCached  int           `json:"skipped_cached"`
	SkippedInvalid int           `json:"skipped_invalid"`
	Duration       time.Duration `json:"duration"`
	Results        []NoteResult  `json:"results,omitempty"`
}

// ValidationIssue describes a single field-level validation failure.
type ValidationIssue struct {
	NoteID    int64
	FieldName string
	Mode      FieldMode
	Value     string
	Message   string
}

// ValidationReport summarizes validation of a batch of notes.
type ValidationReport struct {
	TotalNotes   int
	ValidNotes   int
	InvalidNotes int
	Issues       []ValidationIssue
}

// AnkiService defines the AnkiConnect operations the pipeline depends on.
// Satisfied by *AnkiClient; tests provide their own implementation.
type AnkiService interface {
	Version(ctx context.Context) (int, error)
	DeckNames(ctx context.Context) ([]string, error)
	ModelNames(ctx context.Context) ([]string, error)
	ModelFieldNames(ctx context.Context, modelName string) ([]string, error)
	FindNotes(ctx context.Context, query string) ([]int64, error)
	NotesInfo(ctx context.Context, noteIDs []int64) ([]Note, error)
	UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error
	UpdateNoteTags(ctx context.Context, noteID int64, tags []string) error
	StoreMediaFile(ctx context.Context, filename string, data []byte) error
}

// SpeechService synthesizes pronunciation audio. Satisfied by *SpeechClient.
type SpeechService interface {
	Synthesize(ctx context.Context, text string, noteID int64) (string, []byte, error)
	// Invalidate drops any cached audio for the text so the next Synthesize
	// call hits the API again.
	Invalidate(text string, noteID int64) error
	Check(ctx context.Context) error
}

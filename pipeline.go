package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Default per-resource concurrency limits.
const (
	llmConcurrency    = 10
	speechConcurrency = 5
	ankiConcurrency   = 50
)

// ProcessOptions controls a processing run.
type ProcessOptions struct {
	DryRun        bool
	SkipAudio     bool
	SkipFrequency bool
	SkipInvalid   bool
	// Force lists what to regenerate even when cached: all, llm, audio, freq.
	Force []string
}

func (o ProcessOptions) forces(what string) bool {
	for _, force := range o.Force {
		if force == "all" || force == what {
			return true
		}
	}
	return false
}

// resourceLimits bounds concurrent use of each external resource.
type resourceLimits struct {
	llm    *semaphore.Weighted
	speech *semaphore.Weighted
	anki   *semaphore.Weighted
}

func newResourceLimits() *resourceLimits {
	return &resourceLimits{
		llm:    semaphore.NewWeighted(llmConcurrency),
		speech: semaphore.NewWeighted(speechConcurrency),
		anki:   semaphore.NewWeighted(ankiConcurrency),
	}
}

// Initialize verifies all external collaborators before a run. A failing
// speech endpoint only disables audio; everything else is fatal.
func (app *App) Initialize(ctx context.Context) error {
	version, err := app.Anki.Version(ctx)
	if err != nil {
		return fmt.Errorf("cannot reach Anki, make sure Anki is running with the AnkiConnect add-on installed: %w", err)
	}
	log.Infof("Connected to AnkiConnect version %d", version)

	if err := app.checkLLMConnection(ctx); err != nil {
		return err
	}

	if !app.Options.SkipAudio {
		if err := app.Speech.Check(ctx); err != nil {
			log.Warnf("Speech endpoint unavailable, audio generation disabled: %v", err)
			app.Options.SkipAudio = true
		}
	}

	return nil
}

// fetchNotes loads all notes of the given type from a deck and returns
// them with the resolved note-type configuration.
func (app *App) fetchNotes(ctx context.Context, deckName, noteTypeName string) ([]Note, NoteTypeConfig, error) {
	config, ok := noteTypeConfigs[noteTypeName]
	if !ok {
		return nil, NoteTypeConfig{}, fmt.Errorf("unsupported note type %q", noteTypeName)
	}

	query := noteSearchQuery(deckName, noteTypeName)
	noteIDs, err := app.Anki.FindNotes(ctx, query)
	if err != nil {
		return nil, config, fmt.Errorf("searching notes: %w", err)
	}
	if len(noteIDs) == 0 {
		log.Warnf("No notes found in deck %q with type %q", deckName, noteTypeName)
		return nil, config, nil
	}

	log.Infof("Found %d notes", len(noteIDs))

	notes, err := app.Anki.NotesInfo(ctx, noteIDs)
	if err != nil {
		return nil, config, err
	}
	return notes, config, nil
}

// DeckPreview summarizes a deck without writing anything.
type DeckPreview struct {
	TotalNotes  int
	SampleNotes []Note
	Report      ValidationReport
}

// PreviewDeck fetches and validates the deck's notes for display.
func (app *App) PreviewDeck(ctx context.Context, deckName, noteTypeName string) (DeckPreview, error) {
	notes, config, err := app.fetchNotes(ctx, deckName, noteTypeName)
	if err != nil {
		return DeckPreview{}, err
	}

	preview := DeckPreview{TotalNotes: len(notes)}
	if len(notes) == 0 {
		return preview, nil
	}

	preview.Report = ValidateNotes(notes, config)
	sampleCount := len(notes)
	if sampleCount > 5 {
		sampleCount = 5
	}
	preview.SampleNotes = notes[:sampleCount]
	return preview, nil
}

// ProcessDeck enriches every valid note of the given type in a deck.
func (app *App) ProcessDeck(ctx context.Context, deckName, noteTypeName string) (summary RunSummary, err error) {
	summary = RunSummary{
		RunID:    uuid.New().String(),
		Deck:     deckName,
		NoteType: noteTypeName,
	}
	runStart := time.Now()
	defer func() { summary.Duration = time.Since(runStart) }()

	log.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"deck":      deckName,
		"note_type": noteTypeName,
	}).Info("Starting processing run")

	notes, config, err := app.fetchNotes(ctx, deckName, noteTypeName)
	if err != nil {
		return summary, err
	}
	summary.TotalNotes = len(notes)
	if len(notes) == 0 {
		return summary, nil
	}

	report := ValidateNotes(notes, config)
	validNotes := FilterValidNotes(notes, config)
	summary.SkippedInvalid = len(notes) - len(validNotes)

	if summary.SkippedInvalid > 0 {
		if app.Options.SkipInvalid {
			log.Warnf("Skipping %d invalid notes, processing %d", summary.SkippedInvalid, len(validNotes))
		} else if !app.Options.DryRun {
			return summary, fmt.Errorf("%d of %d notes failed validation:\n%s",
				report.InvalidNotes, report.TotalNotes, FormatValidationReport(report))
		}
	}

	if len(validNotes) == 0 {
		log.Warn("No valid notes to process")
		return summary, nil
	}

	log.Infof("%d of %d notes ready for processing", len(validNotes), len(notes))

	if app.Options.DryRun {
		log.Info("Dry run, no notes will be modified")
		return summary, nil
	}

	results := app.processNotes(ctx, validNotes, config, summary.RunID)

	for _, result := range results {
		switch {
		case result.Skipped:
			summary.SkippedCached++
		case result.Success:
			summary.Processed++
			summary.Succeeded++
		default:
			summary.Processed++
			summary.Failed++
		}
	}
	summary.Results = results

	log.WithFields(logrus.Fields{
		"run_id":    summary.RunID,
		"succeeded": summary.Succeeded,
		"failed":    summary.Failed,
		"cached":    summary.SkippedCached,
		"duration":  time.Since(runStart).Round(time.Millisecond),
	}).Info("Processing run finished")

	return summary, nil
}

// processNotes runs note processing concurrently, bounded per resource.
func (app *App) processNotes(ctx context.Context, notes []Note, config NoteTypeConfig, runID string) []NoteResult {
	limits := newResourceLimits()
	results := make([]NoteResult, len(notes))

	var progressMu sync.Mutex
	done := 0
	startedAt := time.Now()

	progress := func() {
		progressMu.Lock()
		defer progressMu.Unlock()
		done++
		if done%10 == 0 || done == len(notes) {
			elapsed := time.Since(startedAt).Seconds()
			rate := float64(done) / elapsed
			log.Infof("Processed %d/%d notes (%.1f%%), %.1f notes/sec",
				done, len(notes), float64(done)/float64(len(notes))*100, rate)
		}
	}

	group, groupCtx := errgroup.WithContext(ctx)
	for i := range notes {
		group.Go(func() error {
			results[i] = app.processNote(groupCtx, notes[i], config, limits, runID)
			progress()
			// Per-note failures are collected in results, never abort the batch.
			return nil
		})
	}
	_ = group.Wait()

	return results
}

// noteInputs holds the INPUT field values feeding generation.
type noteInputs struct {
	Word     string
	Sentence string
}

// extractInputs pulls the INPUT fields from a note. The sentence falls back
// to the word itself for isolated-word cards.
func extractInputs(note Note, config NoteTypeConfig) (noteInputs, error) {
	values := make(map[string]string)
	for fieldName, fieldConfig := range config.Fields {
		if fieldConfig.Mode != FieldModeInput {
			continue
		}
		value := strings.TrimSpace(note.Fields[fieldName])
		if value == "" && fieldName != "Sentence" {
			return noteInputs{}, fmt.Errorf("empty INPUT field %q", fieldName)
		}
		values[strings.ToLower(fieldName)] = value
	}

	inputs := noteInputs{
		Word:     values["expression"],
		Sentence: values["sentence"],
	}
	if inputs.Word == "" {
		return noteInputs{}, fmt.Errorf("note has no expression")
	}
	if inputs.Sentence == "" {
		inputs.Sentence = inputs.Word
	}
	return inputs, nil
}

// processNote enriches one note and writes the result to Anki.
func (app *App) processNote(ctx context.Context, note Note, config NoteTypeConfig, limits *resourceLimits, runID string) NoteResult {
	logger := noteLogger(note.ID)

	failure := func(err error) NoteResult {
		logger.WithError(err).Error("Failed to process note")
		return NoteResult{NoteID: note.ID, Error: err.Error()}
	}

	inputs, err := extractInputs(note, config)
	if err != nil {
		return failure(err)
	}

	// Failures past this point are recorded, so reruns retry them and the
	// history shows what went wrong.
	fail := func(err error) NoteResult {
		if recErr := RecordProcessing(app.Database, note.ID, inputs.Word, inputs.Sentence, runID, false, err.Error()); recErr != nil {
			logger.WithError(recErr).Warn("Could not record processing failure")
		}
		return failure(err)
	}

	// Any force selector reprocesses the note; the selectors then decide
	// which caches still apply.
	if len(app.Options.Force) == 0 && IsNoteProcessed(app.Database, note.ID, inputs.Word, inputs.Sentence) {
		logger.Debug("Note already processed, skipping")
		return NoteResult{NoteID: note.ID, Success: true, Skipped: true}
	}

	wordData, err := app.wordDataFor(ctx, inputs, limits, logger)
	if err != nil {
		return fail(err)
	}

	audioFile := ""
	if !app.Options.SkipAudio {
		if _, hasAudio := config.Fields[audioFieldName]; hasAudio {
			audioFile, err = app.audioFor(ctx, inputs.Word, note.ID, limits, logger)
			if err != nil {
				// Audio failure degrades the note, it does not fail it.
				logger.WithError(err).Warn("Audio generation failed, continuing without audio")
			}
		}
	}

	freqRank := ""
	if !app.Options.SkipFrequency {
		if _, hasFreq := config.Fields[freqFieldName]; hasFreq {
			freqRank = app.frequencyFor(inputs.Word, wordData.Lemma)
		}
	}

	updates := buildFieldUpdates(config, wordData, audioFile, freqRank)
	if len(updates) == 0 {
		return fail(fmt.Errorf("nothing to update"))
	}

	if err := limits.anki.Acquire(ctx, 1); err != nil {
		return fail(err)
	}
	err = app.Anki.UpdateNoteFields(ctx, note.ID, updates)
	if err == nil && len(wordData.Tags) > 0 {
		err = app.Anki.UpdateNoteTags(ctx, note.ID, wordData.Tags)
	}
	limits.anki.Release(1)
	if err != nil {
		return fail(fmt.Errorf("updating note: %w", err))
	}

	for field, newValue := range updates {
		modErr := InsertFieldModification(app.Database, &FieldModification{
			NoteID:        note.ID,
			Field:         field,
			PreviousValue: note.Fields[field],
			NewValue:      newValue,
		})
		if modErr != nil {
			logger.WithError(modErr).Warn("Could not record field modification")
		}
	}

	if err := RecordProcessing(app.Database, note.ID, inputs.Word, inputs.Sentence, runID, true, ""); err != nil {
		logger.WithError(err).Warn("Could not record processing result")
	}

	logger.Info("Note processed successfully")
	return NoteResult{
		NoteID:        note.ID,
		Success:       true,
		UpdatedFields: updates,
		AudioFile:     audioFile,
	}
}

// wordDataFor returns word data from cache or the LLM.
func (app *App) wordDataFor(ctx context.Context, inputs noteInputs, limits *resourceLimits, logger *logrus.Entry) (*WordData, error) {
	if !app.Options.forces("llm") {
		if cached := GetCachedWordData(app.Database, inputs.Word, inputs.Sentence); cached != nil {
			logger.Debug("Word data served from cache")
			return cached, nil
		}
	}

	if err := limits.llm.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	wordData, err := app.generateWordData(ctx, inputs.Word, inputs.Sentence, logger)
	limits.llm.Release(1)
	if err != nil {
		return nil, err
	}

	if err := PutCachedWordData(app.Database, inputs.Word, inputs.Sentence, wordData); err != nil {
		logger.WithError(err).Warn("Could not cache word data")
	}
	return wordData, nil
}

// audioFor synthesizes pronunciation audio and stores it in Anki's media
// collection.
func (app *App) audioFor(ctx context.Context, word string, noteID int64, limits *resourceLimits, logger *logrus.Entry) (string, error) {
	if app.Options.forces("audio") {
		if err := app.Speech.Invalidate(word, noteID); err != nil {
			logger.WithError(err).Warn("Could not drop cached audio")
		}
	}

	if err := limits.speech.Acquire(ctx, 1); err != nil {
		return "", err
	}
	filename, data, err := app.Speech.Synthesize(ctx, word, noteID)
	limits.speech.Release(1)
	if err != nil {
		return "", err
	}

	if err := limits.anki.Acquire(ctx, 1); err != nil {
		return "", err
	}
	err = app.Anki.StoreMediaFile(ctx, filename, data)
	limits.anki.Release(1)
	if err != nil {
		return "", fmt.Errorf("storing media file: %w", err)
	}

	logger.WithField("audio_file", filename).Debug("Audio stored in Anki")
	return filename, nil
}

// frequencyFor resolves a frequency rank, cache first.
func (app *App) frequencyFor(word, lemma string) string {
	key := lemma
	if key == "" {
		key = word
	}

	if !app.Options.forces("freq") {
		if rank, ok := GetCachedFrequency(app.Database, key); ok {
			return rank
		}
	}

	rank := app.Freq.Rank(word, lemma)
	if err := PutCachedFrequency(app.Database, key, rank); err != nil {
		log.WithError(err).Warn("Could not cache frequency rank")
	}
	return rank
}

// buildFieldUpdates maps generated data onto the note's GENERATE fields.
func buildFieldUpdates(config NoteTypeConfig, wordData *WordData, audioFile, freqRank string) map[string]string {
	updates := make(map[string]string)

	for fieldName, fieldConfig := range config.Fields {
		if fieldConfig.Mode != FieldModeGenerate {
			continue
		}

		switch {
		case fieldName == audioFieldName:
			if audioFile != "" {
				updates[fieldName] = audioFieldValue(audioFile)
			}
		case fieldName == freqFieldName:
			if freqRank != "" {
				updates[fieldName] = freqRank
			}
		case fieldConfig.LLMKey != "":
			if value, ok := wordData.ValueForKey(fieldConfig.LLMKey); ok && value != "" {
				updates[fieldName] = value
			}
		}
	}

	return updates
}

package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	flagDeck          string
	flagNoteType      string
	flagDryRun        bool
	flagSkipAudio     bool
	flagSkipFrequency bool
	flagNoSkipInvalid bool
	flagForce         []string
	flagYes           bool
	flagWatchInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "anki-processor",
	Short: "Enrich Anki vocabulary notes with LLM-generated content",
	Long: `anki-processor fills the empty fields of Anki vocabulary notes with
definitions, translations, example sentences, pronunciation audio and
frequency ranks. It talks to a running Anki instance through the
AnkiConnect add-on and to an OpenAI-compatible API for generation.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process all notes of a type in a deck",
	RunE:  runProcess,
}

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Show what a processing run would do, without modifying anything",
	RunE:  runPreview,
}

var decksCmd = &cobra.Command{
	Use:   "decks",
	Short: "List all decks in Anki",
	RunE:  runDecks,
}

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "List note types, marking the supported ones",
	RunE:  runModels,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Continuously process new notes as they appear",
	RunE:  runWatch,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or clear the local caches",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache statistics",
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:       "clear [llm|freq|processing|audio|all]",
	Short:     "Clear one or all caches",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"llm", "freq", "processing", "audio", "all"},
	RunE:      runCacheClear,
}

func init() {
	for _, cmd := range []*cobra.Command{processCmd, previewCmd, watchCmd} {
		cmd.Flags().StringVarP(&flagDeck, "deck", "d", "", "deck to process (prompts when omitted)")
		cmd.Flags().StringVarP(&flagNoteType, "note-type", "t", "", "note type to process (prompts when omitted)")
	}

	processCmd.Flags().BoolVar(&flagDryRun, "dry-run", false, "validate and report only, modify nothing")
	processCmd.Flags().BoolVar(&flagSkipAudio, "skip-audio", false, "skip pronunciation audio generation")
	processCmd.Flags().BoolVar(&flagSkipFrequency, "skip-frequency", false, "skip frequency rank lookup")
	processCmd.Flags().BoolVar(&flagNoSkipInvalid, "no-skip-invalid", false, "abort the run when any note fails validation")
	processCmd.Flags().StringSliceVar(&flagForce, "force", nil, "regenerate cached data: all, llm, audio, freq")
	processCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")

	watchCmd.Flags().BoolVar(&flagSkipAudio, "skip-audio", false, "skip pronunciation audio generation")
	watchCmd.Flags().BoolVar(&flagSkipFrequency, "skip-frequency", false, "skip frequency rank lookup")
	watchCmd.Flags().DurationVar(&flagWatchInterval, "interval", 30*time.Second, "base polling interval")

	cacheClearCmd.Flags().BoolVarP(&flagYes, "yes", "y", false, "do not ask for confirmation")

	cacheCmd.AddCommand(cacheStatsCmd, cacheClearCmd)
	rootCmd.AddCommand(processCmd, previewCmd, decksCmd, modelsCmd, watchCmd, cacheCmd)
}

// Execute runs the CLI. Errors are logged, not returned.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}

func processOptionsFromFlags() ProcessOptions {
	return ProcessOptions{
		DryRun:        flagDryRun,
		SkipAudio:     flagSkipAudio,
		SkipFrequency: flagSkipFrequency,
		SkipInvalid:   !flagNoSkipInvalid,
		Force:         flagForce,
	}
}

// resolveTarget fills deck and note type from flags or interactive prompts.
func resolveTarget(ctx context.Context, app *App) (string, string, error) {
	deck := flagDeck
	if deck == "" {
		decks, err := app.Anki.DeckNames(ctx)
		if err != nil {
			return "", "", err
		}
		deck, err = pickOne("Select a deck", decks)
		if err != nil {
			return "", "", err
		}
	}

	noteType := flagNoteType
	if noteType == "" {
		models, err := app.Anki.ModelNames(ctx)
		if err != nil {
			return "", "", err
		}
		supported := supportedNoteTypes(models)
		if len(supported) == 0 {
			return "", "", fmt.Errorf("no supported note types found in Anki")
		}
		if len(supported) == 1 {
			noteType = supported[0]
			color.Cyan("Using note type: %s", noteType)
		} else {
			noteType, err = pickOne("Select a note type", supported)
			if err != nil {
				return "", "", err
			}
		}
	}

	return deck, noteType, nil
}

// pickOne shows a numbered list on the terminal and reads a selection.
func pickOne(prompt string, choices []string) (string, error) {
	if len(choices) == 0 {
		return "", fmt.Errorf("nothing to choose from")
	}

	color.Cyan("%s:", prompt)
	for i, choice := range choices {
		fmt.Printf("  %2d. %s\n", i+1, choice)
	}
	fmt.Printf("Enter a number (1-%d): ", len(choices))

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return "", fmt.Errorf("reading selection: %w", err)
	}

	index, err := strconv.Atoi(strings.TrimSpace(line))
	if err != nil || index < 1 || index > len(choices) {
		return "", fmt.Errorf("invalid selection %q", strings.TrimSpace(line))
	}
	return choices[index-1], nil
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func runProcess(cmd *cobra.Command, args []string) error {
	app, err := newApp(processOptionsFromFlags())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := app.Initialize(ctx); err != nil {
		return err
	}

	deck, noteType, err := resolveTarget(ctx, app)
	if err != nil {
		return err
	}

	if !flagYes && !app.Options.DryRun {
		config := noteTypeConfigs[noteType]
		ankiFields, err := app.Anki.ModelFieldNames(ctx, noteType)
		if err != nil {
			return err
		}
		if missing := CheckFieldCompatibility(ankiFields, config); len(missing) > 0 {
			color.Yellow("Warning: note type %q is missing configured fields: %s",
				noteType, strings.Join(missing, ", "))
		}

		color.Cyan("About to process deck %q (note type %q)", deck, noteType)
		if !confirm("Continue") {
			color.Yellow("Aborted.")
			return nil
		}
	}

	summary, err := app.ProcessDeck(ctx, deck, noteType)
	if err != nil {
		return err
	}

	printSummary(summary)
	if summary.Failed > 0 {
		return fmt.Errorf("%d notes failed", summary.Failed)
	}
	return nil
}

func printSummary(summary RunSummary) {
	fmt.Println()
	color.Cyan("Run %s finished", summary.RunID)
	fmt.Printf("  Total notes:     %d\n", summary.TotalNotes)
	fmt.Printf("  Processed:       %d\n", summary.Processed)
	color.Green("  Succeeded:       %d", summary.Succeeded)
	if summary.Failed > 0 {
		color.Red("  Failed:          %d", summary.Failed)
	}
	if summary.SkippedCached > 0 {
		fmt.Printf("  Already done:    %d\n", summary.SkippedCached)
	}
	if summary.SkippedInvalid > 0 {
		color.Yellow("  Skipped invalid: %d", summary.SkippedInvalid)
	}
	fmt.Printf("  Duration:        %s\n", summary.Duration.Round(time.Millisecond))
}

func runPreview(cmd *cobra.Command, args []string) error {
	app, err := newApp(ProcessOptions{DryRun: true})
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if _, err := app.Anki.Version(ctx); err != nil {
		return fmt.Errorf("cannot reach Anki, make sure Anki is running with the AnkiConnect add-on installed: %w", err)
	}

	deck, noteType, err := resolveTarget(ctx, app)
	if err != nil {
		return err
	}

	preview, err := app.PreviewDeck(ctx, deck, noteType)
	if err != nil {
		return err
	}

	color.Cyan("Deck %q, note type %q", deck, noteType)
	fmt.Printf("  Notes found: %d\n", preview.TotalNotes)
	if preview.TotalNotes == 0 {
		return nil
	}

	fmt.Printf("  Valid:       %d\n", preview.Report.ValidNotes)
	if preview.Report.InvalidNotes > 0 {
		color.Yellow("  Invalid:     %d", preview.Report.InvalidNotes)
		fmt.Println()
		fmt.Println(FormatValidationReport(preview.Report))
	}

	config := noteTypeConfigs[noteType]
	fmt.Println("\nSample notes:")
	for _, note := range preview.SampleNotes {
		word := note.Fields["Expression"]
		sentence := note.Fields["Sentence"]
		if runes := []rune(sentence); len(runes) > 60 {
			sentence = string(runes[:60]) + "..."
		}
		fmt.Printf("  [%d] %s", note.ID, word)
		if sentence != "" {
			fmt.Printf(" — %s", sentence)
		}
		fmt.Println()
	}
	fmt.Printf("\nFields to generate: %s\n", strings.Join(config.GenerateFields(), ", "))
	return nil
}

func runDecks(cmd *cobra.Command, args []string) error {
	app, err := newApp(ProcessOptions{})
	if err != nil {
		return err
	}

	decks, err := app.Anki.DeckNames(cmd.Context())
	if err != nil {
		return fmt.Errorf("cannot reach Anki, make sure Anki is running with the AnkiConnect add-on installed: %w", err)
	}

	color.Cyan("Decks (%d):", len(decks))
	for _, deck := range decks {
		fmt.Printf("  %s\n", deck)
	}
	return nil
}

func runModels(cmd *cobra.Command, args []string) error {
	app, err := newApp(ProcessOptions{})
	if err != nil {
		return err
	}

	models, err := app.Anki.ModelNames(cmd.Context())
	if err != nil {
		return fmt.Errorf("cannot reach Anki, make sure Anki is running with the AnkiConnect add-on installed: %w", err)
	}

	color.Cyan("Note types (%d):", len(models))
	for _, model := range models {
		if _, ok := noteTypeConfigs[model]; ok {
			color.Green("  %s (supported)", model)
		} else {
			fmt.Printf("  %s\n", model)
		}
	}
	return nil
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	db, err := InitializeDB(cacheSettings.Dir)
	if err != nil {
		return err
	}

	stats, err := GetCacheStats(db, cacheSettings.AudioDir)
	if err != nil {
		return err
	}

	color.Cyan("Cache statistics:")
	fmt.Printf("  Word data entries:   %d\n", stats.WordDataCount)
	fmt.Printf("  Frequency entries:   %d\n", stats.FrequencyCount)
	fmt.Printf("  Processing records:  %d\n", stats.ProcessingCount)
	fmt.Printf("  Field modifications: %d\n", stats.ModificationCount)
	fmt.Printf("  Audio files:         %d (%.1f MB)\n",
		stats.AudioFileCount, float64(stats.AudioSizeBytes)/(1024*1024))
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cacheType := "all"
	if len(args) == 1 {
		cacheType = args[0]
	}

	if !flagYes && !confirm(fmt.Sprintf("Clear %q cache", cacheType)) {
		color.Yellow("Aborted.")
		return nil
	}

	db, err := InitializeDB(cacheSettings.Dir)
	if err != nil {
		return err
	}

	if err := ClearCache(db, cacheSettings.AudioDir, cacheType); err != nil {
		return err
	}
	color.Green("Cleared %q cache.", cacheType)
	return nil
}

package main

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"gorm.io/gorm"
)

var log = logrus.New()

// App wires the external services together. The pipeline only sees the
// interfaces, so tests can swap any collaborator out.
type App struct {
	Anki     AnkiService
	LLM      llms.Model
	Speech   SpeechService
	Freq     *FrequencyIndex
	Database *gorm.DB
	Options  ProcessOptions
}

// newApp builds a fully wired App from the loaded settings.
func newApp(options ProcessOptions) (*App, error) {
	loadTemplates()

	db, err := InitializeDB(cacheSettings.Dir)
	if err != nil {
		return nil, fmt.Errorf("initializing local database: %w", err)
	}
	if _, err := CleanupOldRecords(db, 30*24*time.Hour); err != nil {
		log.Warnf("Could not clean up old processing records: %v", err)
	}

	llmModel, err := createLLM()
	if err != nil {
		return nil, fmt.Errorf("creating LLM client: %w", err)
	}

	freq, err := NewFrequencyIndex(freqDictPath)
	if err != nil {
		return nil, fmt.Errorf("loading frequency dictionary: %w", err)
	}
	if freq.Size() > 0 {
		log.Infof("Loaded frequency dictionary with %d entries", freq.Size())
	}

	return &App{
		Anki: NewAnkiClient(ankiSettings.URL, ankiSettings.BatchSize),
		LLM:  llmModel,
		Speech: NewSpeechClient(
			speechEndpoint(),
			openaiSettings.APIKey,
			openaiSettings.TTSModel,
			openaiSettings.TTSVoice,
			cacheSettings.AudioDir,
		),
		Freq:     freq,
		Database: db,
		Options:  options,
	}, nil
}

func main() {
	loadSettings()
	initLogger()
	Execute()
}

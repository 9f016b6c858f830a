package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

const logFileName = "anki-processor.log"

// OpenAISettings holds everything needed to talk to the OpenAI-compatible API.
type OpenAISettings struct {
	APIKey       string
	BaseURL      string
	Model        string
	TTSModel     string
	TTSVoice     string
	RateLimitRPM float64
	TokenLimit   int
}

// AnkiSettings holds the AnkiConnect endpoint configuration.
type AnkiSettings struct {
	URL       string
	BatchSize int
}

// CacheSettings holds the on-disk cache locations.
type CacheSettings struct {
	Dir      string
	AudioDir string
}

var (
	openaiSettings OpenAISettings
	ankiSettings   AnkiSettings
	cacheSettings  CacheSettings

	freqDictPath string
	logLevel     string
)

// loadSettings reads the .env file (if present) and the environment, fills
// the settings globals and creates the cache directories. Missing required
// variables are fatal.
func loadSettings() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Warnf("Could not load .env file: %v", err)
	}

	openaiSettings = OpenAISettings{
		APIKey:       os.Getenv("OPENAI_API_KEY"),
		BaseURL:      envOrDefault("OPENAI_BASE_URL", "https://api.openai.com/v1"),
		Model:        envOrDefault("LLM_MODEL", "gpt-4-turbo-preview"),
		TTSModel:     envOrDefault("TTS_MODEL", "tts-1"),
		TTSVoice:     envOrDefault("TTS_VOICE", "alloy"),
		RateLimitRPM: envFloat("LLM_RATE_LIMIT", 0),
		TokenLimit:   envInt("TOKEN_LIMIT", 0),
	}

	ankiSettings = AnkiSettings{
		URL:       envOrDefault("ANKI_CONNECT_URL", "http://127.0.0.1:8765"),
		BatchSize: envInt("ANKI_BATCH_SIZE", 50),
	}

	cacheDir := envOrDefault("CACHE_DIR", "cache")
	cacheSettings = CacheSettings{
		Dir:      cacheDir,
		AudioDir: filepath.Join(cacheDir, "audio"),
	}

	freqDictPath = os.Getenv("FREQ_DICT_PATH")
	logLevel = strings.ToLower(os.Getenv("LOG_LEVEL"))

	validateSettings()

	for _, dir := range []string{cacheSettings.Dir, cacheSettings.AudioDir} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Fatalf("Failed to create cache directory %s: %v", dir, err)
		}
	}
}

// validateSettings ensures all necessary environment variables are set.
func validateSettings() {
	if openaiSettings.APIKey == "" {
		log.Fatal("Please set the OPENAI_API_KEY environment variable.")
	}

	if ankiSettings.BatchSize <= 0 {
		log.Fatalf("ANKI_BATCH_SIZE must be positive, got %d", ankiSettings.BatchSize)
	}
}

func initLogger() {
	switch logLevel {
	case "debug":
		log.SetLevel(logrus.DebugLevel)
	case "info":
		log.SetLevel(logrus.InfoLevel)
	case "warn":
		log.SetLevel(logrus.WarnLevel)
	case "error":
		log.SetLevel(logrus.ErrorLevel)
	default:
		log.SetLevel(logrus.InfoLevel)
		if logLevel != "" {
			log.Fatalf("Invalid log level: '%s'.", logLevel)
		}
	}

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	logFile, err := os.OpenFile(logFileName, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Warnf("Could not open %s, logging to stdout only: %v", logFileName, err)
		return
	}
	log.SetOutput(io.MultiWriter(os.Stdout, logFile))
}

// noteLogger returns a logger scoped to one note.
func noteLogger(noteID int64) *logrus.Entry {
	return log.WithField("note_id", noteID)
}

func envOrDefault(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		log.Fatalf("Invalid value for %s: %q", name, raw)
	}
	return value
}

func envFloat(name string, fallback float64) float64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Fatalf("Invalid value for %s: %q", name, raw)
	}
	return value
}

// speechEndpoint joins the configured base URL with the audio/speech path.
func speechEndpoint() string {
	return fmt.Sprintf("%s/audio/speech", strings.TrimRight(openaiSettings.BaseURL, "/"))
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/hashicorp/go-retryablehttp"
)

// ttsMaxInputLength is the input limit of the OpenAI speech endpoint.
const ttsMaxInputLength = 4096

// bearerTransport wraps the default RoundTripper to add the Authorization
// header on every request.
type bearerTransport struct {
	baseTransport http.RoundTripper
	token         string
}

// RoundTrip implements the RoundTripper interface to modify the request.
func (t *bearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Clone the request to avoid side effects
	reqClone := req.Clone(req.Context())
	reqClone.Header.Set("Authorization", fmt.Sprintf("Bearer %s", t.token))
	return t.baseTransport.RoundTrip(reqClone)
}

// SpeechClient synthesizes pronunciation audio through the OpenAI speech
// endpoint. Generated files are cached on disk so reruns never repeat a
// paid synthesis call.
type SpeechClient struct {
	Endpoint   string
	Model      string
	Voice      string
	AudioDir   string
	HTTPClient *retryablehttp.Client
}

// NewSpeechClient creates a SpeechClient with a retrying, bearer-authorized
// HTTP transport.
func NewSpeechClient(endpoint, apiKey, model, voice, audioDir string) *SpeechClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil
	client.HTTPClient = &http.Client{
		Transport: &bearerTransport{
			baseTransport: http.DefaultTransport,
			token:         apiKey,
		},
		Timeout: 60 * time.Second,
	}

	return &SpeechClient{
		Endpoint:   endpoint,
		Model:      model,
		Voice:      voice,
		AudioDir:   audioDir,
		HTTPClient: client,
	}
}

// Synthesize generates pronunciation audio for text and returns the cached
// filename together with the MP3 payload. An existing cache file is reused
// without an API call.
func (client *SpeechClient) Synthesize(ctx context.Context, text string, noteID int64) (string, []byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil, fmt.Errorf("empty text for speech synthesis")
	}

	filename := client.audioFilename(text, noteID)
	filePath := filepath.Join(client.AudioDir, filename)

	if data, err := os.ReadFile(filePath); err == nil {
		log.Debugf("Audio file already cached: %s", filename)
		return filename, data, nil
	}

	data, err := client.createSpeech(ctx, text)
	if err != nil {
		return "", nil, err
	}

	if err := os.WriteFile(filePath, data, 0644); err != nil {
		return "", nil, fmt.Errorf("writing audio file %s: %w", filePath, err)
	}

	log.Debugf("Audio saved: %s", filename)
	return filename, data, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Voice          string `json:"voice"`
	Input          string `json:"input"`
	ResponseFormat string `json:"response_format"`
}

// createSpeech performs the actual API call and verifies the payload really
// is audio before anyone stores it in Anki's media collection.
func (client *SpeechClient) createSpeech(ctx context.Context, text string) ([]byte, error) {
	if runes := []rune(text); len(runes) > ttsMaxInputLength {
		text = string(runes[:ttsMaxInputLength])
	}

	payload, err := json.Marshal(speechRequest{
		Model:          client.Model,
		Voice:          client.Voice,
		Input:          text,
		ResponseFormat: "mp3",
	})
	if err != nil {
		return nil, fmt.Errorf("marshalling speech request: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", client.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building speech request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("speech request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("speech API: %d, %s", resp.StatusCode, string(bodyBytes))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading speech response: %w", err)
	}

	mtype := mimetype.Detect(data)
	if !strings.HasPrefix(mtype.String(), "audio/") {
		return nil, fmt.Errorf("speech API returned %s instead of audio", mtype.String())
	}

	return data, nil
}

// Invalidate removes the cached audio file for text, if any.
func (client *SpeechClient) Invalidate(text string, noteID int64) error {
	filePath := filepath.Join(client.AudioDir, client.audioFilename(text, noteID))
	if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Check verifies the speech endpoint works with the configured model and
// voice by synthesizing a short sample.
func (client *SpeechClient) Check(ctx context.Context) error {
	data, err := client.createSpeech(ctx, "test")
	if err != nil {
		return err
	}
	if len(data) < 100 {
		return fmt.Errorf("speech check returned implausibly small payload (%d bytes)", len(data))
	}
	log.Infof("Connected to speech API, model %s, voice %s", client.Model, client.Voice)
	return nil
}

// audioFieldValue formats a filename for an Anki audio field.
func audioFieldValue(filename string) string {
	if filename == "" {
		return ""
	}
	return fmt.Sprintf("[sound:%s]", filename)
}

func (client *SpeechClient) audioFilename(text string, noteID int64) string {
	safe := safeFilename(text, 50)
	if noteID > 0 {
		return fmt.Sprintf("%s_%d.mp3", safe, noteID)
	}
	return safe + ".mp3"
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[<>:"/\\|?*]`)
	filenameWhitespace  = regexp.MustCompile(`\s+`)
)

// safeFilename derives a filesystem-safe, lowercase name from text.
func safeFilename(text string, maxLength int) string {
	safe := unsafeFilenameChars.ReplaceAllString(text, "_")
	safe = filenameWhitespace.ReplaceAllString(strings.TrimSpace(safe), "_")
	if runes := []rune(safe); len(runes) > maxLength {
		safe = string(runes[:maxLength])
	}
	return strings.ToLower(safe)
}

// audioCacheStats returns the number and total size in bytes of cached
// audio files.
func audioCacheStats(audioDir string) (int, int64) {
	var count int
	var totalSize int64

	entries, err := os.ReadDir(audioDir)
	if err != nil {
		return 0, 0
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp3") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		count++
		totalSize += info.Size()
	}
	return count, totalSize
}

// clearAudioCache removes all cached audio files and reports how many were
// deleted.
func clearAudioCache(audioDir string) (int, error) {
	entries, err := os.ReadDir(audioDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	deleted := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".mp3") {
			continue
		}
		if err := os.Remove(filepath.Join(audioDir, entry.Name())); err != nil {
			log.Warnf("Could not remove %s: %v", entry.Name(), err)
			continue
		}
		deleted++
	}
	return deleted, nil
}

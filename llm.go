package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
)

// wordDataKeys are the keys every word-data response must carry. The prompt
// allows empty values but never missing keys.
var wordDataKeys = []string{
	"definition", "definition_ru", "ipa", "lemma", "collocations",
	"synonyms", "antonyms", "related_forms", "examples", "hint", "tags",
}

// createLLM builds the chat model from the OpenAI settings and wraps it with
// throttling and retries.
func createLLM() (llms.Model, error) {
	model, err := openai.New(
		openai.WithModel(openaiSettings.Model),
		openai.WithToken(openaiSettings.APIKey),
		openai.WithBaseURL(openaiSettings.BaseURL),
	)
	if err != nil {
		return nil, fmt.Errorf("creating OpenAI client: %w", err)
	}

	return NewThrottledLLM(model, ThrottleConfig{
		RequestsPerMinute: openaiSettings.RateLimitRPM,
	}), nil
}

// buildSystemPrompt renders the word-data prompt template.
func buildSystemPrompt() (string, error) {
	templateMutex.RLock()
	defer templateMutex.RUnlock()

	if wordDataTemplate == nil {
		return "", fmt.Errorf("word-data template not loaded")
	}

	var promptBuffer bytes.Buffer
	err := wordDataTemplate.Execute(&promptBuffer, map[string]interface{}{
		"AllowedTags": allowedTags,
	})
	if err != nil {
		return "", fmt.Errorf("error executing word-data template: %w", err)
	}
	return promptBuffer.String(), nil
}

// buildUserMessage wraps the word and sentence in a compact JSON task
// envelope so the model never confuses instructions with input.
func buildUserMessage(word, sentence string) (string, error) {
	payload, err := json.Marshal(map[string]interface{}{
		"task":     "generateWordData",
		"word":     word,
		"sentence": sentence,
		"requirements": []string{
			"Respond with valid JSON only",
			"All fields are required",
			"Use the sense of the word as used in sentence",
			"Keep HTML markup only where specified",
			"Do not invent collocations, use attested ones",
		},
	})
	if err != nil {
		return "", fmt.Errorf("marshalling user message: %w", err)
	}
	return string(payload), nil
}

// generateWordData asks the LLM for structured word data for one expression.
func (app *App) generateWordData(ctx context.Context, word, sentence string, logger *logrus.Entry) (*WordData, error) {
	systemPrompt, err := buildSystemPrompt()
	if err != nil {
		return nil, err
	}

	sentence, err = truncateContentByTokens(sentence, openaiSettings.TokenLimit)
	if err != nil {
		return nil, fmt.Errorf("truncating sentence: %w", err)
	}

	userMessage, err := buildUserMessage(word, sentence)
	if err != nil {
		return nil, err
	}

	logger.Debug("Requesting word data from LLM")

	completion, err := app.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, systemPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, userMessage),
	}, llms.WithJSONMode())
	if err != nil {
		return nil, fmt.Errorf("error getting response from LLM: %w", err)
	}

	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("empty response from LLM for %q", word)
	}

	wordData, err := parseWordData(completion.Choices[0].Content)
	if err != nil {
		return nil, fmt.Errorf("invalid word data for %q: %w", word, err)
	}

	wordData.Tags = filterAllowedTags(wordData.Tags)
	logger.WithField("lemma", wordData.Lemma).Debug("Word data generated")
	return wordData, nil
}

// parseWordData decodes and validates the LLM response. Missing keys are
// rejected even when the JSON is otherwise well-formed.
func parseWordData(content string) (*WordData, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil, fmt.Errorf("empty content")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parsing JSON: %w", err)
	}

	var missing []string
	for _, key := range wordDataKeys {
		if _, ok := raw[key]; !ok {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("missing keys: %s", strings.Join(missing, ", "))
	}

	var wordData WordData
	if err := json.Unmarshal([]byte(content), &wordData); err != nil {
		return nil, fmt.Errorf("decoding word data: %w", err)
	}

	return &wordData, nil
}

// checkLLMConnection performs a minimal JSON-mode request to verify the
// model and credentials before a run starts.
func (app *App) checkLLMConnection(ctx context.Context) error {
	completion, err := app.LLM.GenerateContent(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, `Reply with the JSON object {"ok": true}.`),
	}, llms.WithJSONMode(), llms.WithMaxTokens(50))
	if err != nil {
		return fmt.Errorf("LLM connection check failed: %w", err)
	}
	if len(completion.Choices) == 0 {
		return fmt.Errorf("LLM connection check returned no choices")
	}
	log.Infof("Connected to LLM, model %s", openaiSettings.Model)
	return nil
}

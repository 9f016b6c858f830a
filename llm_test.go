package main

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"text/template"

	"github.com/Masterminds/sprig/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
)

// mockLLM returns a canned response and records the last messages.
type mockLLM struct {
	response     string
	err          error
	lastMessages []llms.MessageContent
	calls        int
}

func (m *mockLLM) Call(_ context.Context, prompt string, _ ...llms.CallOption) (string, error) {
	m.calls++
	return m.response, m.err
}

func (m *mockLLM) GenerateContent(_ context.Context, messages []llms.MessageContent, _ ...llms.CallOption) (*llms.ContentResponse, error) {
	m.calls++
	m.lastMessages = messages
	if m.err != nil {
		return nil, m.err
	}
	return &llms.ContentResponse{
		Choices: []*llms.ContentChoice{{Content: m.response}},
	}, nil
}

const validWordDataJSON = `{
	"definition": "able to recover quickly from difficulties",
	"definition_ru": "быстро восстанавливающийся",
	"ipa": "rɪˈzɪliənt",
	"lemma": "resilient",
	"collocations": "<i>resilient economy</i> — устойчивая экономика",
	"synonyms": "tough — hard to break (стойкий)",
	"antonyms": "fragile — easily broken (хрупкий)",
	"related_forms": "noun: resilience = устойчивость",
	"examples": "A: How is she coping? — Как она справляется?<br>B: She is resilient. — Она стойкая.",
	"hint": "Способный быстро восстанавливаться.",
	"tags": ["B2", "adj", "everyday"]
}`

func useDefaultTemplate(t *testing.T) {
	templateMutex.Lock()
	defer templateMutex.Unlock()
	parsed, err := template.New("word_data").Funcs(sprig.FuncMap()).Parse(defaultWordDataTemplate)
	require.NoError(t, err)
	wordDataTemplate = parsed
}

func TestParseWordData(t *testing.T) {
	wordData, err := parseWordData(validWordDataJSON)
	require.NoError(t, err)
	assert.Equal(t, "resilient", wordData.Lemma)
	assert.Equal(t, "rɪˈzɪliənt", wordData.IPA)
	assert.Equal(t, []string{"B2", "adj", "everyday"}, wordData.Tags)
}

func TestParseWordDataMissingKeys(t *testing.T) {
	_, err := parseWordData(`{"definition": "x", "lemma": "y"}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing keys")
	assert.Contains(t, err.Error(), "ipa")
}

func TestParseWordDataRejectsGarbage(t *testing.T) {
	_, err := parseWordData("")
	require.Error(t, err)

	_, err = parseWordData("not json at all")
	require.Error(t, err)

	_, err = parseWordData(`["array", "not", "object"]`)
	require.Error(t, err)
}

func TestFilterAllowedTags(t *testing.T) {
	tags := filterAllowedTags([]string{"B2", "made-up", "adj", "B2", "ADJ", "everyday"})
	assert.Equal(t, []string{"B2", "adj", "everyday"}, tags)

	assert.Empty(t, filterAllowedTags([]string{"nonsense"}))
	assert.Empty(t, filterAllowedTags(nil))
}

func TestBuildSystemPromptContainsAllowedTags(t *testing.T) {
	useDefaultTemplate(t)

	prompt, err := buildSystemPrompt()
	require.NoError(t, err)
	assert.Contains(t, prompt, "Return ONLY valid JSON")
	// The template joins the tag whitelist into the prompt.
	assert.Contains(t, prompt, "A2, B1, B2, C1, C2")
}

func TestBuildUserMessage(t *testing.T) {
	message, err := buildUserMessage("resilient", "She stayed resilient.")
	require.NoError(t, err)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(message), &payload))
	assert.Equal(t, "generateWordData", payload["task"])
	assert.Equal(t, "resilient", payload["word"])
	assert.Equal(t, "She stayed resilient.", payload["sentence"])
}

func TestGenerateWordData(t *testing.T) {
	useDefaultTemplate(t)
	openaiSettings.TokenLimit = 0

	mock := &mockLLM{response: validWordDataJSON}
	app := &App{LLM: mock}

	logger := log.WithField("test", "generate")
	wordData, err := app.generateWordData(context.Background(), "resilient", "She stayed resilient.", logger)
	require.NoError(t, err)
	assert.Equal(t, "resilient", wordData.Lemma)
	assert.Equal(t, 1, mock.calls)

	// System prompt first, then the user task envelope.
	require.Len(t, mock.lastMessages, 2)
	assert.Equal(t, llms.ChatMessageTypeSystem, mock.lastMessages[0].Role)
	assert.Equal(t, llms.ChatMessageTypeHuman, mock.lastMessages[1].Role)
}

func TestGenerateWordDataFiltersTags(t *testing.T) {
	useDefaultTemplate(t)
	openaiSettings.TokenLimit = 0

	var wordData WordData
	require.NoError(t, json.Unmarshal([]byte(validWordDataJSON), &wordData))
	wordData.Tags = []string{"B2", "invented-tag", "noun"}
	response, err := json.Marshal(wordData)
	require.NoError(t, err)

	app := &App{LLM: &mockLLM{response: string(response)}}
	result, err := app.generateWordData(context.Background(), "resilient", "sentence", log.WithField("test", "tags"))
	require.NoError(t, err)
	assert.Equal(t, []string{"B2", "noun"}, result.Tags)
}

func TestGenerateWordDataPropagatesLLMError(t *testing.T) {
	useDefaultTemplate(t)
	openaiSettings.TokenLimit = 0

	app := &App{LLM: &mockLLM{err: fmt.Errorf("rate limited")}}
	_, err := app.generateWordData(context.Background(), "resilient", "sentence", log.WithField("test", "error"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "rate limited")
}

func TestGenerateWordDataRejectsIncompleteResponse(t *testing.T) {
	useDefaultTemplate(t)
	openaiSettings.TokenLimit = 0

	app := &App{LLM: &mockLLM{response: `{"definition": "only one key"}`}}
	_, err := app.generateWordData(context.Background(), "resilient", "sentence", log.WithField("test", "incomplete"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid word data")
}

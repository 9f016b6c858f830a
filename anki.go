package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// ankiConnectVersion is the AnkiConnect protocol version this client speaks.
const ankiConnectVersion = 6

// AnkiClient talks to a running Anki instance through the AnkiConnect
// add-on. Every operation is a JSON POST of {action, version, params}; the
// add-on answers {result, error} where a non-null error is a failure even
// with HTTP 200.
type AnkiClient struct {
	URL        string
	BatchSize  int
	HTTPClient *retryablehttp.Client
}

// NewAnkiClient creates an AnkiClient with a retrying HTTP transport.
func NewAnkiClient(url string, batchSize int) *AnkiClient {
	client := retryablehttp.NewClient()
	client.RetryMax = 3
	client.RetryWaitMin = 1 * time.Second
	client.RetryWaitMax = 10 * time.Second
	client.Logger = nil

	return &AnkiClient{
		URL:        url,
		BatchSize:  batchSize,
		HTTPClient: client,
	}
}

type ankiRequest struct {
	Action  string      `json:"action"`
	Version int         `json:"version"`
	Params  interface{} `json:"params,omitempty"`
}

type ankiResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

// call performs a single AnkiConnect action and decodes the result into out.
// Pass a nil out to discard the result.
func (client *AnkiClient) call(ctx context.Context, action string, params interface{}, out interface{}) error {
	payload, err := json.Marshal(ankiRequest{
		Action:  action,
		Version: ankiConnectVersion,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshalling %s request: %w", action, err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, "POST", client.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to Anki for %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anki %s: %d, %s", action, resp.StatusCode, string(bodyBytes))
	}

	var response ankiResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("decoding %s response: %w", action, err)
	}

	if response.Error != nil && *response.Error != "" {
		return fmt.Errorf("anki %s: %s", action, *response.Error)
	}

	if out != nil && len(response.Result) > 0 {
		if err := json.Unmarshal(response.Result, out); err != nil {
			return fmt.Errorf("decoding %s result: %w", action, err)
		}
	}

	return nil
}

// Version returns the AnkiConnect protocol version of the running add-on.
// Used as a connectivity check at startup.
func (client *AnkiClient) Version(ctx context.Context) (int, error) {
	var version int
	if err := client.call(ctx, "version", nil, &version); err != nil {
		return 0, err
	}
	return version, nil
}

// DeckNames returns all deck names.
func (client *AnkiClient) DeckNames(ctx context.Context) ([]string, error) {
	var decks []string
	if err := client.call(ctx, "deckNames", nil, &decks); err != nil {
		return nil, err
	}
	return decks, nil
}

// ModelNames returns all note type names.
func (client *AnkiClient) ModelNames(ctx context.Context) ([]string, error) {
	var models []string
	if err := client.call(ctx, "modelNames", nil, &models); err != nil {
		return nil, err
	}
	return models, nil
}

// ModelFieldNames returns the field names of a note type.
func (client *AnkiClient) ModelFieldNames(ctx context.Context, modelName string) ([]string, error) {
	var fields []string
	params := map[string]string{"modelName": modelName}
	if err := client.call(ctx, "modelFieldNames", params, &fields); err != nil {
		return nil, err
	}
	return fields, nil
}

// FindNotes returns the IDs of notes matching an Anki search query.
func (client *AnkiClient) FindNotes(ctx context.Context, query string) ([]int64, error) {
	var noteIDs []int64
	params := map[string]string{"query": query}
	if err := client.call(ctx, "findNotes", params, &noteIDs); err != nil {
		return nil, err
	}
	return noteIDs, nil
}

// noteInfoResult mirrors the notesInfo response payload. Only the fields we
// use are declared.
type noteInfoResult struct {
	NoteID    int64  `json:"noteId"`
	ModelName string `json:"modelName"`
	DeckName  string `json:"deckName"`
	Fields    map[string]struct {
		Value string `json:"value"`
		Order int    `json:"order"`
	} `json:"fields"`
	Tags []string `json:"tags"`
}

// NotesInfo fetches full note data for the given IDs, batching requests by
// the configured batch size.
func (client *AnkiClient) NotesInfo(ctx context.Context, noteIDs []int64) ([]Note, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}

	notes := make([]Note, 0, len(noteIDs))
	for _, batch := range batchSlice(noteIDs, client.BatchSize) {
		var results []noteInfoResult
		params := map[string][]int64{"notes": batch}
		if err := client.call(ctx, "notesInfo", params, &results); err != nil {
			return nil, fmt.Errorf("fetching note info: %w", err)
		}

		for _, result := range results {
			fields := make(map[string]string, len(result.Fields))
			for name, field := range result.Fields {
				fields[name] = field.Value
			}
			notes = append(notes, Note{
				ID:        result.NoteID,
				ModelName: result.ModelName,
				DeckName:  result.DeckName,
				Fields:    fields,
				Tags:      result.Tags,
			})
		}
	}

	return notes, nil
}

// UpdateNoteFields writes the given field values to a note.
func (client *AnkiClient) UpdateNoteFields(ctx context.Context, noteID int64, fields map[string]string) error {
	params := map[string]interface{}{
		"note": map[string]interface{}{
			"id":     noteID,
			"fields": fields,
		},
	}
	return client.call(ctx, "updateNoteFields", params, nil)
}

// UpdateNoteTags replaces the tags of a note.
func (client *AnkiClient) UpdateNoteTags(ctx context.Context, noteID int64, tags []string) error {
	params := map[string]interface{}{
		"note": map[string]interface{}{
			"id":   noteID,
			"tags": tags,
		},
	}
	return client.call(ctx, "updateNote", params, nil)
}

// StoreMediaFile saves a file into Anki's media collection. AnkiConnect
// expects the payload base64-encoded.
func (client *AnkiClient) StoreMediaFile(ctx context.Context, filename string, data []byte) error {
	params := map[string]string{
		"filename": filename,
		"data":     base64.StdEncoding.EncodeToString(data),
	}
	return client.call(ctx, "storeMediaFile", params, nil)
}

// multiAction is one sub-action of an AnkiConnect "multi" request.
type multiAction struct {
	Action string      `json:"action"`
	Params interface{} `json:"params,omitempty"`
}

// multi executes a batch of sub-actions in a single round trip.
func (client *AnkiClient) multi(ctx context.Context, actions []multiAction) error {
	params := map[string]interface{}{"actions": actions}
	return client.call(ctx, "multi", params, nil)
}

// NoteFieldUpdate pairs a note ID with the field values to write.
type NoteFieldUpdate struct {
	NoteID int64
	Fields map[string]string
}

// BatchUpdateNoteFields updates many notes using "multi" requests, batching
// by the configured batch size.
func (client *AnkiClient) BatchUpdateNoteFields(ctx context.Context, updates []NoteFieldUpdate) error {
	for _, batch := range batchSlice(updates, client.BatchSize) {
		actions := make([]multiAction, 0, len(batch))
		for _, update := range batch {
			actions = append(actions, multiAction{
				Action: "updateNoteFields",
				Params: map[string]interface{}{
					"note": map[string]interface{}{
						"id":     update.NoteID,
						"fields": update.Fields,
					},
				},
			})
		}
		if err := client.multi(ctx, actions); err != nil {
			return fmt.Errorf("batch updating notes: %w", err)
		}
	}
	return nil
}

// noteSearchQuery builds the AnkiConnect search expression selecting all
// notes of one type inside one deck.
func noteSearchQuery(deckName, noteTypeName string) string {
	return fmt.Sprintf("deck:%q note:%q", deckName, noteTypeName)
}

// batchSlice splits items into consecutive chunks of at most size elements.
func batchSlice[T any](items []T, size int) [][]T {
	if size <= 0 || len(items) == 0 {
		return nil
	}
	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}

package main

import (
	"os"
	"path/filepath"
	"sync"
	"text/template"

	"github.com/Masterminds/sprig/v3"
)

var (
	wordDataTemplate *template.Template
	templateMutex    sync.RWMutex
)

// defaultWordDataTemplate is the system prompt for word-data generation. It
// pins the exact JSON schema the model must return; the response is parsed
// into WordData, so loosening the schema here requires a matching change
// there.
const defaultWordDataTemplate = `Return ONLY valid JSON, no text outside JSON. No markdown. No comments.
Schema:
{
  "definition": "string (5-10 words, short English definition)",
  "definition_ru": "string (5-10 words, natural Russian equivalent)",
  "ipa": "string (IPA transcription, no slashes/brackets)",
  "lemma": "string (dictionary base form, lowercase)",
  "collocations": "string (<=5 items, '<i>english</i> — русский', joined with <br>)",
  "synonyms": "string (<=3 items, 'eng — short explanation (русский)', joined with <br>)",
  "antonyms": "string (<=3 items, same format as synonyms)",
  "related_forms": "string (2-4 lines, 'pos: форма = перевод', joined with <br>. If irregular verb: 'verb: base — past — past participle = перевод'. If regular verb: include base + past + past participle with -ed. Nouns only singular. No duplicate POS.)",
  "examples": "string (2 short dialogs, each with two lines A:/B:, joined with <br>)",
  "hint": "string (short Russian explanation of the word's meaning in the given sentence/context)",
  "tags": ["string", "string", ...]
}

Rules:
- Keys exactly as in schema. All fields MUST be present.
- All strings UTF-8, no escaped unicode. No HTML except <i> in collocations and <br> where specified.
- definition: neutral register, no headword repetition, no examples/brackets.
- definition_ru: one concise natural equivalent, no slashes/alternatives.
- ipa: BrE by default; if context clearly American, use AmE. Primary stress required. No / / or [ ].
- lemma: lowercase base form (verbs: base; nouns: singular; adjectives/adverbs: base). Keep inherent hyphens.
- collocations: 3-5 attested patterns (adj+noun, noun+of, verb+object, fixed phrase). Format '<i>english</i> — русский', joined with <br>. Do NOT invent niche phrases.
- synonyms: up to 3, SAME POS and sense as headword. Format 'eng — short explanation (русский)', joined with <br>.
- antonyms: up to 3 true opposites for SAME POS and sense. Same format as synonyms. If no real antonym exists, return empty string.
- related_forms: 2-4 derivational/morphological relatives, no duplicates of headword. One verb line with principal parts when applicable. Join with <br>.
- examples: exactly 2 dialogs x 2 lines (A:/B:). Each EN line <=14 words and ends with ' — RU'. Join all lines with <br>. No names or profanity.
- hint: 1-2 Russian sentences, explain the exact sense used in the given sentence.
- tags: 3-4 items total. Exactly ONE CEFR level (A2/B1/B2/C1/C2). Other tags ONLY from: {{.AllowedTags | join ", "}}. Use 'everyday' ONLY for core daily vocabulary; use 'academic'/'technical' ONLY when clearly applicable. No duplicates.

Anti-hallucination:
If unsure about any field, return an empty string for that field.
Keep POS alignment across definition/synonyms/antonyms/collocations.
Prefer common, attested phrases; do not coin collocations.
For CEFR: if uncertain between two levels, choose the HIGHER level (avoid underestimation).
`

// loadTemplates loads the word-data prompt template from the prompts
// directory, writing the built-in default there on first run so users can
// edit it.
func loadTemplates() {
	templateMutex.Lock()
	defer templateMutex.Unlock()

	promptsDir := "prompts"
	if err := os.MkdirAll(promptsDir, os.ModePerm); err != nil {
		log.Fatalf("Failed to create prompts directory: %v", err)
	}

	templatePath := filepath.Join(promptsDir, "word_data_prompt.tmpl")
	templateContent, err := os.ReadFile(templatePath)
	if err != nil {
		log.Infof("Could not read %s, using default template: %v", templatePath, err)
		templateContent = []byte(defaultWordDataTemplate)
		if err := os.WriteFile(templatePath, templateContent, os.ModePerm); err != nil {
			log.Fatalf("Failed to write default word-data template to disk: %v", err)
		}
	}

	wordDataTemplate, err = template.New("word_data").Funcs(sprig.FuncMap()).Parse(string(templateContent))
	if err != nil {
		log.Fatalf("Failed to parse word-data template: %v", err)
	}
}

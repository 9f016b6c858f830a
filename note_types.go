package main

// Fields with dedicated generation logic instead of an LLM response key.
const (
	audioFieldName = "ExpressionAudio"
	freqFieldName  = "FreqSort"
)

// allowedTags is the whitelist of tags the processor may attach to notes.
// LLM-suggested tags outside this list are dropped.
var allowedTags = []string{
	"A2", "B1", "B2", "C1", "C2",
	"noun", "verb", "adj", "adv", "prep", "conj", "intj",
	"business", "everyday", "academic", "technical", "emotional",
	"phrasal", "idiom", "slang", "collocation",
	"formal", "informal", "neutral", "rude",
}

// noteTypeConfigs holds the supported note types. Only notes whose model
// matches one of these entries are processed.
var noteTypeConfigs = map[string]NoteTypeConfig{
	"ForkLapisForEnglsih": {
		Name: "ForkLapisForEnglsih",
		Fields: map[string]FieldConfig{
			"Expression":            {Mode: FieldModeInput},
			"Sentence":              {Mode: FieldModeInput},
			"MainDefinition":        {Mode: FieldModeGenerate, LLMKey: "definition"},
			"MainDefinitionRU":      {Mode: FieldModeGenerate, LLMKey: "definition_ru"},
			"ExpressionAudio":       {Mode: FieldModeGenerate},
			"SentenceAudio":         {Mode: FieldModeSkip},
			"Picture":               {Mode: FieldModeSkip},
			"IPA":                   {Mode: FieldModeGenerate, LLMKey: "ipa"},
			"FreqSort":              {Mode: FieldModeGenerate},
			"Collocations":          {Mode: FieldModeGenerate, LLMKey: "collocations"},
			"Synonyms":              {Mode: FieldModeGenerate, LLMKey: "synonyms"},
			"Antonyms":              {Mode: FieldModeGenerate, LLMKey: "antonyms"},
			"RelatedForms":          {Mode: FieldModeGenerate, LLMKey: "related_forms"},
			"E.g.":                  {Mode: FieldModeGenerate, LLMKey: "examples"},
			"MiscInfo":              {Mode: FieldModeSkip},
			"DefinitionPicture":     {Mode: FieldModeSkip},
			"SelectionText":         {Mode: FieldModeSkip},
			"Hint":                  {Mode: FieldModeGenerate, LLMKey: "hint"},
			"IsWordAndSentenceCard": {Mode: FieldModeSkip},
			"IsClickCard":           {Mode: FieldModeSkip},
			"IsSentenceCard":        {Mode: FieldModeSkip},
		},
	},
}

// supportedNoteTypes intersects Anki's note types with the configured ones.
func supportedNoteTypes(available []string) []string {
	supported := make([]string, 0, len(available))
	for _, name := range available {
		if _, ok := noteTypeConfigs[name]; ok {
			supported = append(supported, name)
		}
	}
	return supported
}

// filterAllowedTags keeps only whitelisted tags, preserving order and
// dropping duplicates.
func filterAllowedTags(tags []string) []string {
	allowed := make(map[string]bool, len(allowedTags))
	for _, tag := range allowedTags {
		allowed[tag] = true
	}

	filtered := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, tag := range tags {
		if allowed[tag] && !seen[tag] {
			filtered = append(filtered, tag)
			seen[tag] = true
		}
	}
	return filtered
}

package main

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
)

// unknownFrequencyRank sorts unknown words after everything ranked.
const unknownFrequencyRank = "999999"

// embeddedFrequencyList is a built-in English word list in frequency order.
// It backs rank lookups for words outside the local dictionary, so FreqSort
// keeps a useful ordering even when FREQ_DICT_PATH is unset.
//
//go:embed data/english_frequency.txt
var embeddedFrequencyList string

var (
	embeddedRanks     map[string]int
	embeddedRanksOnce sync.Once
)

func embeddedRank(word string) (int, bool) {
	embeddedRanksOnce.Do(func() {
		lines := strings.Split(embeddedFrequencyList, "\n")
		embeddedRanks = make(map[string]int, len(lines))
		rank := 0
		for _, line := range lines {
			word := strings.ToLower(strings.TrimSpace(line))
			if word == "" {
				continue
			}
			rank++
			if _, seen := embeddedRanks[word]; !seen {
				embeddedRanks[word] = rank
			}
		}
	})
	rank, ok := embeddedRanks[word]
	return rank, ok
}

// frequencyEntry holds what the index knows about one word.
type frequencyEntry struct {
	Word      string  `json:"word"`
	Frequency float64 `json:"frequency"`
	Rank      int     `json:"rank"`
}

// FrequencyIndex answers frequency-rank lookups from a local dictionary
// file. The index is optional; without a dictionary every word gets the
// unknown rank and the FreqSort field still sorts processed notes last.
type FrequencyIndex struct {
	entries map[string]frequencyEntry
}

// NewFrequencyIndex loads the dictionary at path. An empty path yields an
// empty index.
func NewFrequencyIndex(path string) (*FrequencyIndex, error) {
	index := &FrequencyIndex{entries: make(map[string]frequencyEntry)}

	if path == "" {
		log.Info("No frequency dictionary configured, using default ranks")
		return index, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading frequency dictionary %s: %w", path, err)
	}

	if err := index.load(data); err != nil {
		return nil, fmt.Errorf("parsing frequency dictionary %s: %w", path, err)
	}

	log.Infof("Loaded frequency dictionary with %d words", len(index.entries))
	return index, nil
}

// load accepts the three dictionary shapes in the wild:
//
//	[{"id": 1, "word": "THE"}, ...]
//	[{"word": "...", "frequency": ..., "rank": ...}, ...]
//	{"word": {"frequency": ..., "rank": ...}, ...}
func (index *FrequencyIndex) load(data []byte) error {
	var listFormat []struct {
		ID        int     `json:"id"`
		Word      string  `json:"word"`
		Frequency float64 `json:"frequency"`
		Rank      int     `json:"rank"`
	}
	if err := json.Unmarshal(data, &listFormat); err == nil {
		for _, item := range listFormat {
			if item.Word == "" {
				continue
			}
			rank := item.Rank
			if rank == 0 {
				rank = item.ID
			}
			index.entries[strings.ToLower(item.Word)] = frequencyEntry{
				Word:      item.Word,
				Frequency: item.Frequency,
				Rank:      rank,
			}
		}
		return nil
	}

	var mapFormat map[string]frequencyEntry
	if err := json.Unmarshal(data, &mapFormat); err != nil {
		return err
	}
	for word, entry := range mapFormat {
		index.entries[strings.ToLower(word)] = entry
	}
	return nil
}

// Size returns the number of indexed words.
func (index *FrequencyIndex) Size() int {
	return len(index.entries)
}

// Rank returns the frequency rank of a word as a string for the FreqSort
// field. The lemma is preferred as lookup key. Words outside the local
// dictionary fall back to the embedded frequency list; only words absent
// from both get the unknown rank.
func (index *FrequencyIndex) Rank(word, lemma string) string {
	key := strings.ToLower(strings.TrimSpace(lemma))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(word))
	}
	if key == "" {
		return unknownFrequencyRank
	}

	entry, ok := index.entries[key]
	if !ok {
		if rank, found := embeddedRank(key); found {
			return fmt.Sprintf("%d", rank)
		}
		return unknownFrequencyRank
	}

	if entry.Rank > 0 {
		return fmt.Sprintf("%d", entry.Rank)
	}

	// Only a raw frequency available, estimate a rank from it.
	if entry.Frequency > 0 {
		estimated := int(1 / entry.Frequency)
		if estimated < 1 {
			estimated = 1
		}
		if estimated > 999999 {
			estimated = 999999
		}
		return fmt.Sprintf("%d", estimated)
	}

	return unknownFrequencyRank
}

// IsCommon reports whether a word ranks within the given threshold.
func (index *FrequencyIndex) IsCommon(word, lemma string, threshold int) bool {
	key := strings.ToLower(strings.TrimSpace(lemma))
	if key == "" {
		key = strings.ToLower(strings.TrimSpace(word))
	}
	entry, ok := index.entries[key]
	return ok && entry.Rank > 0 && entry.Rank <= threshold
}

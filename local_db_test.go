package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&WordDataRecord{},
		&FrequencyRecord{},
		&ProcessingRecord{},
		&FieldModification{},
	))
	t.Cleanup(func() {
		db.Where("1 = 1").Delete(&WordDataRecord{})
		db.Where("1 = 1").Delete(&FrequencyRecord{})
		db.Where("1 = 1").Delete(&ProcessingRecord{})
		db.Where("1 = 1").Delete(&FieldModification{})
	})
	return db
}

func TestWordDataCacheRoundTrip(t *testing.T) {
	db := newTestDB(t)

	wordData := &WordData{
		Definition: "able to recover quickly",
		Lemma:      "resilient",
		Tags:       []string{"B2", "adj"},
	}

	assert.Nil(t, GetCachedWordData(db, "resilient", "She stayed resilient."))

	require.NoError(t, PutCachedWordData(db, "resilient", "She stayed resilient.", wordData))

	cached := GetCachedWordData(db, "resilient", "She stayed resilient.")
	require.NotNil(t, cached)
	assert.Equal(t, "resilient", cached.Lemma)
	assert.Equal(t, []string{"B2", "adj"}, cached.Tags)

	// A different sentence is a different cache entry.
	assert.Nil(t, GetCachedWordData(db, "resilient", "another sentence"))
}

func TestWordDataCacheKeyIsCaseInsensitive(t *testing.T) {
	db := newTestDB(t)

	wordData := &WordData{Lemma: "resilient"}
	require.NoError(t, PutCachedWordData(db, "Resilient", "A sentence.", wordData))

	cached := GetCachedWordData(db, "resilient", "a sentence.")
	require.NotNil(t, cached)
	assert.Equal(t, "resilient", cached.Lemma)
}

func TestWordDataCacheOverwrite(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, PutCachedWordData(db, "run", "s", &WordData{Lemma: "first"}))
	require.NoError(t, PutCachedWordData(db, "run", "s", &WordData{Lemma: "second"}))

	cached := GetCachedWordData(db, "run", "s")
	require.NotNil(t, cached)
	assert.Equal(t, "second", cached.Lemma)

	// The overwrite upserts in place rather than stacking rows.
	var count int64
	require.NoError(t, db.Model(&WordDataRecord{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestRepeatedPutsKeepSingleRow(t *testing.T) {
	db := newTestDB(t)

	for i := 0; i < 3; i++ {
		require.NoError(t, PutCachedFrequency(db, "house", fmt.Sprintf("%d", 100+i)))
		require.NoError(t, RecordProcessing(db, 1, "house", "A house.", "run-1", i == 2, ""))
	}

	rank, ok := GetCachedFrequency(db, "house")
	require.True(t, ok)
	assert.Equal(t, "102", rank)
	assert.True(t, IsNoteProcessed(db, 1, "house", "A house."))

	var freqCount, procCount int64
	require.NoError(t, db.Model(&FrequencyRecord{}).Count(&freqCount).Error)
	require.NoError(t, db.Model(&ProcessingRecord{}).Count(&procCount).Error)
	assert.Equal(t, int64(1), freqCount)
	assert.Equal(t, int64(1), procCount)
}

func TestFrequencyCache(t *testing.T) {
	db := newTestDB(t)

	_, ok := GetCachedFrequency(db, "resilient")
	assert.False(t, ok)

	require.NoError(t, PutCachedFrequency(db, "Resilient", "4321"))

	rank, ok := GetCachedFrequency(db, "resilient")
	require.True(t, ok)
	assert.Equal(t, "4321", rank)
}

func TestProcessingRecords(t *testing.T) {
	db := newTestDB(t)

	assert.False(t, IsNoteProcessed(db, 42, "resilient", "sentence"))

	require.NoError(t, RecordProcessing(db, 42, "resilient", "sentence", "run-1", true, ""))
	assert.True(t, IsNoteProcessed(db, 42, "resilient", "sentence"))

	// Changed inputs mean the note needs reprocessing.
	assert.False(t, IsNoteProcessed(db, 42, "resilient", "a new sentence"))
	assert.False(t, IsNoteProcessed(db, 43, "resilient", "sentence"))
}

func TestFailedProcessingDoesNotMarkDone(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, RecordProcessing(db, 42, "resilient", "sentence", "run-1", false, "LLM timeout"))
	assert.False(t, IsNoteProcessed(db, 42, "resilient", "sentence"))

	// A later success replaces the failure.
	require.NoError(t, RecordProcessing(db, 42, "resilient", "sentence", "run-2", true, ""))
	assert.True(t, IsNoteProcessed(db, 42, "resilient", "sentence"))
}

func TestFieldModificationHistory(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, InsertFieldModification(db, &FieldModification{
		NoteID: 42, Field: "IPA", PreviousValue: "", NewValue: "rɪˈzɪliənt",
	}))
	require.NoError(t, InsertFieldModification(db, &FieldModification{
		NoteID: 42, Field: "MainDefinition", PreviousValue: "", NewValue: "able to recover",
	}))
	require.NoError(t, InsertFieldModification(db, &FieldModification{
		NoteID: 99, Field: "IPA", PreviousValue: "", NewValue: "x",
	}))

	records, err := GetFieldModifications(db, 42)
	require.NoError(t, err)
	assert.Len(t, records, 2)
	for _, record := range records {
		assert.Equal(t, int64(42), record.NoteID)
	}
}

func TestCleanupOldRecords(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, RecordProcessing(db, 1, "old", "s", "run-1", true, ""))
	require.NoError(t, db.Model(&ProcessingRecord{}).
		Where("note_id = ?", 1).
		Update("created_at", time.Now().Add(-48*time.Hour)).Error)
	require.NoError(t, RecordProcessing(db, 2, "new", "s", "run-1", true, ""))

	removed, err := CleanupOldRecords(db, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	assert.False(t, IsNoteProcessed(db, 1, "old", "s"))
	assert.True(t, IsNoteProcessed(db, 2, "new", "s"))
}

func TestGetCacheStatsAndClear(t *testing.T) {
	db := newTestDB(t)
	audioDir := t.TempDir()

	require.NoError(t, PutCachedWordData(db, "a", "s", &WordData{Lemma: "a"}))
	require.NoError(t, PutCachedFrequency(db, "a", "1"))
	require.NoError(t, RecordProcessing(db, 1, "a", "s", "run-1", true, ""))

	stats, err := GetCacheStats(db, audioDir)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.WordDataCount)
	assert.Equal(t, int64(1), stats.FrequencyCount)
	assert.Equal(t, int64(1), stats.ProcessingCount)

	require.NoError(t, ClearCache(db, audioDir, "llm"))
	stats, err = GetCacheStats(db, audioDir)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.WordDataCount)
	assert.Equal(t, int64(1), stats.FrequencyCount)

	require.NoError(t, ClearCache(db, audioDir, "all"))
	stats, err = GetCacheStats(db, audioDir)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.FrequencyCount)
	assert.Equal(t, int64(0), stats.ProcessingCount)

	assert.Error(t, ClearCache(db, audioDir, "bogus"))
}

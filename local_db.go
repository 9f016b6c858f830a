package main

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// WordDataRecord caches one LLM word-data response, keyed by the expression
// and sentence it was generated for.
type WordDataRecord struct {
	ID        uint   `gorm:"primaryKey"`
	CacheKey  string `gorm:"size:64;uniqueIndex;not null"`
	Word      string `gorm:"size:255;not null"`
	Payload   string `gorm:"size:1048576;not null"` // WordData as JSON
	CreatedAt time.Time
}

// FrequencyRecord caches a resolved frequency rank per lookup key.
type FrequencyRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Key       string `gorm:"size:255;uniqueIndex;not null"`
	Rank      string `gorm:"size:16;not null"`
	CreatedAt time.Time
}

// ProcessingRecord marks a note as processed for a given input hash. Its
// presence with Success=true makes reruns skip the note.
type ProcessingRecord struct {
	ID        uint   `gorm:"primaryKey"`
	NoteID    int64  `gorm:"index;not null"`
	CacheKey  string `gorm:"size:64;uniqueIndex;not null"`
	RunID     string `gorm:"size:36;not null"`
	Success   bool   `gorm:"not null"`
	Error     string `gorm:"size:4096"`
	CreatedAt time.Time
}

// FieldModification records every field value written to Anki together with
// what it replaced.
type FieldModification struct {
	ID            uint   `gorm:"primaryKey"`
	NoteID        int64  `gorm:"index;not null"`
	Field         string `gorm:"size:255;not null"`
	PreviousValue string `gorm:"size:1048576"`
	NewValue      string `gorm:"size:1048576"`
	CreatedAt     time.Time
}

// InitializeDB opens the SQLite cache database and migrates the schema.
func InitializeDB(cacheDir string) (*gorm.DB, error) {
	dbPath := filepath.Join(cacheDir, "anki-processor.db")

	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("connecting to cache database: %w", err)
	}

	err = db.AutoMigrate(
		&WordDataRecord{},
		&FrequencyRecord{},
		&ProcessingRecord{},
		&FieldModification{},
	)
	if err != nil {
		return nil, fmt.Errorf("migrating cache schema: %w", err)
	}

	return db, nil
}

// cacheKey derives a stable key from its parts. Hashed so arbitrarily long
// sentences still fit a unique index.
func cacheKey(parts ...string) string {
	joined := strings.ToLower(strings.Join(parts, "|"))
	sum := sha256.Sum256([]byte(joined))
	return hex.EncodeToString(sum[:])
}

// GetCachedWordData returns the cached word data for a word/sentence pair,
// or nil when absent or unreadable.
func GetCachedWordData(db *gorm.DB, word, sentence string) *WordData {
	var record WordDataRecord
	result := db.Where("cache_key = ?", cacheKey(word, sentence)).First(&record)
	if result.Error != nil {
		return nil
	}

	var wordData WordData
	if err := json.Unmarshal([]byte(record.Payload), &wordData); err != nil {
		log.Warnf("Corrupt cached word data for %q, ignoring: %v", word, err)
		return nil
	}
	return &wordData
}

// PutCachedWordData stores word data for a word/sentence pair, replacing any
// previous entry.
func PutCachedWordData(db *gorm.DB, word, sentence string, wordData *WordData) error {
	payload, err := json.Marshal(wordData)
	if err != nil {
		return fmt.Errorf("marshalling word data: %w", err)
	}

	record := WordDataRecord{
		CacheKey: cacheKey(word, sentence),
		Word:     word,
		Payload:  string(payload),
	}

	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"word", "payload", "created_at"}),
	}).Create(&record).Error
}

// GetCachedFrequency returns a cached rank and whether one exists.
func GetCachedFrequency(db *gorm.DB, key string) (string, bool) {
	var record FrequencyRecord
	result := db.Where("key = ?", strings.ToLower(key)).First(&record)
	if result.Error != nil {
		return "", false
	}
	return record.Rank, true
}

// PutCachedFrequency stores a resolved rank.
func PutCachedFrequency(db *gorm.DB, key, rank string) error {
	record := FrequencyRecord{Key: strings.ToLower(key), Rank: rank}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"rank", "created_at"}),
	}).Create(&record).Error
}

// IsNoteProcessed reports whether the note with these inputs already has a
// successful processing record.
func IsNoteProcessed(db *gorm.DB, noteID int64, word, sentence string) bool {
	var record ProcessingRecord
	key := cacheKey(fmt.Sprintf("%d", noteID), word, sentence)
	result := db.Where("cache_key = ? AND success = ?", key, true).First(&record)
	return result.Error == nil
}

// RecordProcessing stores the outcome of processing one note.
func RecordProcessing(db *gorm.DB, noteID int64, word, sentence, runID string, success bool, processErr string) error {
	record := ProcessingRecord{
		NoteID:   noteID,
		CacheKey: cacheKey(fmt.Sprintf("%d", noteID), word, sentence),
		RunID:    runID,
		Success:  success,
		Error:    processErr,
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cache_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"run_id", "success", "error", "created_at"}),
	}).Create(&record).Error
}

// InsertFieldModification records one field write.
func InsertFieldModification(db *gorm.DB, record *FieldModification) error {
	return db.Create(record).Error
}

// GetFieldModifications returns the modification history of one note,
// newest first.
func GetFieldModifications(db *gorm.DB, noteID int64) ([]FieldModification, error) {
	var records []FieldModification
	result := db.Where("note_id = ?", noteID).Order("created_at DESC").Find(&records)
	return records, result.Error
}

// CleanupOldRecords drops processing records older than maxAge and returns
// how many were removed.
func CleanupOldRecords(db *gorm.DB, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge)
	result := db.Where("created_at < ?", cutoff).Delete(&ProcessingRecord{})
	if result.Error != nil {
		return 0, result.Error
	}
	if result.RowsAffected > 0 {
		log.Infof("Removed %d old processing records", result.RowsAffected)
	}
	return result.RowsAffected, nil
}

// CacheStats summarizes the cache database contents.
type CacheStats struct {
	WordDataCount     int64
	FrequencyCount    int64
	ProcessingCount   int64
	ModificationCount int64
	AudioFileCount    int
	AudioSizeBytes    int64
}

// GetCacheStats counts rows in every cache table and sizes the audio cache.
func GetCacheStats(db *gorm.DB, audioDir string) (CacheStats, error) {
	var stats CacheStats

	counts := []struct {
		model interface{}
		dest  *int64
	}{
		{&WordDataRecord{}, &stats.WordDataCount},
		{&FrequencyRecord{}, &stats.FrequencyCount},
		{&ProcessingRecord{}, &stats.ProcessingCount},
		{&FieldModification{}, &stats.ModificationCount},
	}
	for _, count := range counts {
		if result := db.Model(count.model).Count(count.dest); result.Error != nil {
			return stats, result.Error
		}
	}

	stats.AudioFileCount, stats.AudioSizeBytes = audioCacheStats(audioDir)
	return stats, nil
}

// ClearCache deletes cached data of the given type: llm, freq, processing,
// audio or all.
func ClearCache(db *gorm.DB, audioDir, cacheType string) error {
	clearLLM := cacheType == "all" || cacheType == "llm"
	clearFreq := cacheType == "all" || cacheType == "freq"
	clearProcessing := cacheType == "all" || cacheType == "processing"
	clearAudio := cacheType == "all" || cacheType == "audio"

	if !clearLLM && !clearFreq && !clearProcessing && !clearAudio {
		return fmt.Errorf("unknown cache type %q (want llm, freq, processing, audio or all)", cacheType)
	}

	if clearLLM {
		if result := db.Where("1 = 1").Delete(&WordDataRecord{}); result.Error != nil {
			return result.Error
		}
	}
	if clearFreq {
		if result := db.Where("1 = 1").Delete(&FrequencyRecord{}); result.Error != nil {
			return result.Error
		}
	}
	if clearProcessing {
		if result := db.Where("1 = 1").Delete(&ProcessingRecord{}); result.Error != nil {
			return result.Error
		}
	}
	if clearAudio {
		deleted, err := clearAudioCache(audioDir)
		if err != nil {
			return err
		}
		log.Infof("Removed %d cached audio files", deleted)
	}

	log.Infof("Cache %q cleared", cacheType)
	return nil
}

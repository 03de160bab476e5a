package diarize

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// CorrectionStore persists recognized-name corrections in SQLite and keeps
// them cached in memory for lookup on the hot path. Use ":memory:" as the
// path for an ephemeral store.
type CorrectionStore struct {
	db *sql.DB

	mu          sync.RWMutex
	corrections map[string]string // normalized recognized name -> speaker ID
}

// OpenStore opens or creates the correction database at path.
func OpenStore(path string) (*CorrectionStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open correction store: %w", err)
	}
	// The sqlite driver serializes access per connection; a single
	// connection avoids table-lock errors under concurrent writes.
	db.SetMaxOpenConns(1)

	store := &CorrectionStore{
		db:          db,
		corrections: make(map[string]string),
	}
	if err := store.init(); err != nil {
		db.Close()
		return nil, err
	}
	if err := store.load(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *CorrectionStore) init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS speaker_corrections (
			recognized_name TEXT PRIMARY KEY,
			speaker_id      TEXT NOT NULL,
			created_at      TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("failed to create corrections table: %w", err)
	}
	return nil
}

func (s *CorrectionStore) load() error {
	rows, err := s.db.Query(`SELECT recognized_name, speaker_id FROM speaker_corrections`)
	if err != nil {
		return fmt.Errorf("failed to load corrections: %w", err)
	}
	defer rows.Close()

	s.mu.Lock()
	defer s.mu.Unlock()
	for rows.Next() {
		var name, speakerID string
		if err := rows.Scan(&name, &speakerID); err != nil {
			return fmt.Errorf("failed to scan correction row: %w", err)
		}
		s.corrections[name] = speakerID
	}
	return rows.Err()
}

// Save records a correction. Saving the same recognized name again updates
// the mapping.
func (s *CorrectionStore) Save(recognizedName, speakerID string) error {
	if recognizedName == "" || speakerID == "" {
		return fmt.Errorf("recognized name and speaker ID cannot be empty")
	}

	_, err := s.db.Exec(`
		INSERT INTO speaker_corrections (recognized_name, speaker_id, created_at)
		VALUES (?, ?, ?)
		ON CONFLICT(recognized_name) DO UPDATE SET speaker_id = excluded.speaker_id`,
		recognizedName, speakerID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save correction: %w", err)
	}

	s.mu.Lock()
	s.corrections[recognizedName] = speakerID
	s.mu.Unlock()
	return nil
}

// Lookup finds the speaker whose stored correction is most similar to the
// normalized recognized name, requiring at least threshold similarity.
func (s *CorrectionStore) Lookup(normalizedName string, threshold float64) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if speakerID, ok := s.corrections[normalizedName]; ok {
		return speakerID, true
	}

	var bestID string
	var bestScore float64
	for stored, speakerID := range s.corrections {
		if score := Similarity(normalizedName, stored); score > bestScore {
			bestScore = score
			bestID = speakerID
		}
	}
	if bestScore > threshold {
		return bestID, true
	}
	return "", false
}

// Count returns the number of stored corrections.
func (s *CorrectionStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.corrections)
}

// Close releases the database handle.
func (s *CorrectionStore) Close() error {
	return s.db.Close()
}

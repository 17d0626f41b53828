package journal

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// fileSnapshot is the on-disk shape of a saved journal
type fileSnapshot struct {
	SavedAt time.Time `json:"saved_at"`
	Entries []Entry   `json:"entries"`
}

// SaveToFile writes the journal to path as JSON, using a temp file and
// rename so a crash mid-write never leaves a truncated journal
func SaveToFile(j *MemoryJournal, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
	}

	snapshot := fileSnapshot{
		SavedAt: time.Now(),
		Entries: j.Snapshot(),
	}

	data, err := json.MarshalIndent(&snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}

	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write journal file: %w", err)
	}

	if err := os.Rename(tempFile, path); err != nil {
		return fmt.Errorf("failed to finalize journal file: %w", err)
	}

	return nil
}

// LoadFromFile restores a journal saved by SaveToFile. A missing file
// is not an error; the journal starts empty.
func LoadFromFile(j *MemoryJournal, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read journal file: %w", err)
	}

	var snapshot fileSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("failed to parse journal file: %w", err)
	}

	j.Restore(snapshot.Entries)
	return nil
}

package journal

import (
	"sync"
	"time"
)

// MemoryJournal is the in-process journal implementation. It keeps
// entries in append order and serves filtered queries newest-first.
type MemoryJournal struct {
	mu      sync.RWMutex
	entries []Entry
}

// NewMemoryJournal creates an empty in-memory journal
func NewMemoryJournal() *MemoryJournal {
	return &MemoryJournal{}
}

// Append records one entry, stamping it if the caller didn't
func (j *MemoryJournal) Append(entry Entry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries = append(j.entries, entry)
}

// Query returns matching entries newest-first
func (j *MemoryJournal) Query(filter Filter) []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	var result []Entry
	for i := len(j.entries) - 1; i >= 0; i-- {
		entry := j.entries[i]
		if filter.OrderID != "" && entry.OrderID != filter.OrderID {
			continue
		}
		if filter.Type != "" && entry.Type != filter.Type {
			continue
		}
		if !filter.Since.IsZero() && entry.Timestamp.Before(filter.Since) {
			continue
		}
		if !filter.Until.IsZero() && entry.Timestamp.After(filter.Until) {
			continue
		}
		if entry.Details != nil {
			details := make(map[string]string, len(entry.Details))
			for k, v := range entry.Details {
				details[k] = v
			}
			entry.Details = details
		}
		result = append(result, entry)
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}
	return result
}

// Len returns the number of recorded entries
func (j *MemoryJournal) Len() int {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return len(j.entries)
}

// Snapshot returns a copy of all entries in append order, used by
// persistence and reporting
func (j *MemoryJournal) Snapshot() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	snapshot := make([]Entry, len(j.entries))
	copy(snapshot, j.entries)
	return snapshot
}

// Restore replaces the journal content, used when loading a saved file
func (j *MemoryJournal) Restore(entries []Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.entries = make([]Entry, len(entries))
	copy(j.entries, entries)
}

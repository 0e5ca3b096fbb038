// Package store holds the entry and settings data model and the persistence
// collaborators the sync core reads from.
package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrDuplicateEntry is returned when adding a path that is already tracked
	ErrDuplicateEntry = errors.New("duplicate entry")
	// ErrEntryNotFound is returned when removing an unknown entry
	ErrEntryNotFound = errors.New("entry not found")
)

// Store provides read access to settings and entries
type Store interface {
	// LoadSettings returns the current settings
	LoadSettings() (Settings, error)
	// LoadItems returns all tracked entries in insertion order
	LoadItems() ([]Entry, error)
}

// SyncRecorder is implemented by stores that track when entries were last mirrored
type SyncRecorder interface {
	MarkSynced(ids []uuid.UUID, at time.Time) error
}

// IDs returns the IDs of the given entries
func IDs(entries []Entry) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		ids = append(ids, e.ID)
	}
	return ids
}

func markSynced(items []Entry, ids []uuid.UUID, at time.Time) {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	for i := range items {
		if want[items[i].ID] {
			t := at
			items[i].LastSynced = &t
		}
	}
}

package store

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore is an in-process Store, used by tests and embedding callers.
// SettingsErr and ItemsErr, when set, are returned by the matching loader.
type MemoryStore struct {
	mu          sync.Mutex
	settings    Settings
	items       []Entry
	SettingsErr error
	ItemsErr    error

	settingsLoads int
	itemsLoads    int
}

// NewMemoryStore creates a store holding the given settings and entries
func NewMemoryStore(settings Settings, items ...Entry) *MemoryStore {
	return &MemoryStore{
		settings: settings,
		items:    append([]Entry(nil), items...),
	}
}

// LoadSettings implements Store
func (m *MemoryStore) LoadSettings() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settingsLoads++
	if m.SettingsErr != nil {
		return Settings{}, m.SettingsErr
	}
	return m.settings, nil
}

// LoadItems implements Store
func (m *MemoryStore) LoadItems() ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.itemsLoads++
	if m.ItemsErr != nil {
		return nil, m.ItemsErr
	}
	return append([]Entry{}, m.items...), nil
}

// MarkSynced implements SyncRecorder
func (m *MemoryStore) MarkSynced(ids []uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	markSynced(m.items, ids, at)
	return nil
}

// Loads reports how many times settings and items were loaded
func (m *MemoryStore) Loads() (settings, items int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settingsLoads, m.itemsLoads
}

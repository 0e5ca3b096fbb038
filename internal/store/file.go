package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
)

// FileStore persists entries and settings in a single JSON document.
// Every access holds a lock on a sibling ".lock" file so that the CLI and a
// running webhook server can share the same store. The flock is per process,
// so mu serializes goroutines before it is taken.
type FileStore struct {
	path string
	mu   sync.RWMutex
	lock *flock.Flock
}

// NewFileStore creates a store backed by the JSON file at path.
// The file is created lazily on first write.
func NewFileStore(path string) *FileStore {
	return &FileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

// Path returns the location of the backing file
func (s *FileStore) Path() string {
	return s.path
}

// LoadSettings returns the stored settings, persisting defaults on first use
func (s *FileStore) LoadSettings() (Settings, error) {
	data, err := s.read()
	if err != nil {
		return Settings{}, err
	}
	if data.Settings != nil {
		return *data.Settings, nil
	}

	var settings Settings
	err = s.update(func(d *Data) error {
		// Another process may have written defaults since our read.
		if d.Settings == nil {
			defaults := DefaultSettings()
			d.Settings = &defaults
		}
		settings = *d.Settings
		return nil
	})
	return settings, err
}

// LoadItems returns all entries in insertion order
func (s *FileStore) LoadItems() ([]Entry, error) {
	data, err := s.read()
	if err != nil {
		return nil, err
	}
	if data.Items == nil {
		return []Entry{}, nil
	}
	return data.Items, nil
}

// UpdateSettings replaces the stored settings
func (s *FileStore) UpdateSettings(settings Settings) error {
	return s.update(func(d *Data) error {
		d.Settings = &settings
		return nil
	})
}

// AddEntry canonicalizes path, detects its kind and appends it to the store
func (s *FileStore) AddEntry(path string) (Entry, error) {
	canonical, itemType, err := inspectPath(path)
	if err != nil {
		return Entry{}, err
	}

	var entry Entry
	err = s.update(func(d *Data) error {
		for _, existing := range d.Items {
			if existing.Path == canonical {
				return fmt.Errorf("%w: %s", ErrDuplicateEntry, canonical)
			}
		}
		entry = NewEntry(canonical, itemType)
		d.Items = append(d.Items, entry)
		return nil
	})
	if err != nil {
		return Entry{}, err
	}
	return entry, nil
}

// RemoveEntry deletes the entry with the given ID
func (s *FileStore) RemoveEntry(id string) error {
	parsed, err := uuid.Parse(id)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
	}

	return s.update(func(d *Data) error {
		kept := d.Items[:0]
		for _, e := range d.Items {
			if e.ID != parsed {
				kept = append(kept, e)
			}
		}
		if len(kept) == len(d.Items) {
			return fmt.Errorf("%w: %s", ErrEntryNotFound, id)
		}
		d.Items = kept
		return nil
	})
}

// MarkSynced records at as the last sync time of the given entries
func (s *FileStore) MarkSynced(ids []uuid.UUID, at time.Time) error {
	return s.update(func(d *Data) error {
		markSynced(d.Items, ids, at)
		return nil
	})
}

// inspectPath resolves path to an absolute, symlink-free form and reports its kind
func inspectPath(path string) (string, ItemType, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", "", fmt.Errorf("failed to resolve path %s: %w", path, err)
	}

	canonical, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", "", fmt.Errorf("path does not exist: %s", path)
		}
		return "", "", fmt.Errorf("path is not readable: %s: %w", path, err)
	}

	info, err := os.Stat(canonical)
	if err != nil {
		return "", "", fmt.Errorf("path is not readable: %s: %w", path, err)
	}

	if info.IsDir() {
		return canonical, ItemDirectory, nil
	}
	return canonical, ItemFile, nil
}

// read loads the document under a shared lock
func (s *FileStore) read() (*Data, error) {
	if err := s.ensureDir(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := s.lock.RLock(); err != nil {
		return nil, fmt.Errorf("failed to lock store: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	return s.load()
}

// update applies fn to the document under an exclusive lock and writes it back
func (s *FileStore) update(fn func(*Data) error) error {
	if err := s.ensureDir(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock store: %w", err)
	}
	defer func() {
		_ = s.lock.Unlock()
	}()

	data, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(data); err != nil {
		return err
	}
	return s.save(data)
}

func (s *FileStore) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create store directory: %w", err)
	}
	return nil
}

func (s *FileStore) load() (*Data, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Data{}, nil
		}
		return nil, fmt.Errorf("failed to read store: %w", err)
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("failed to parse store %s: %w", s.path, err)
	}
	return &data, nil
}

// save writes the document via a temp file and rename
func (s *FileStore) save(data *Data) error {
	if data.Items == nil {
		data.Items = []Entry{}
	}
	raw, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode store: %w", err)
	}

	tmpFile, err := os.CreateTemp(filepath.Dir(s.path), ".shrike-store-*")
	if err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmpFile.Write(raw); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	// The store holds the shared secret.
	if err := tmpFile.Chmod(0600); err != nil {
		_ = tmpFile.Close()
		return fmt.Errorf("failed to write store: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}

	if err := os.Rename(tmpPath, s.path); err != nil {
		return fmt.Errorf("failed to write store: %w", err)
	}
	return nil
}

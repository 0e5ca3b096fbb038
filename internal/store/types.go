package store

import (
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ItemType is the kind of filesystem object an entry tracks
type ItemType string

const (
	ItemFile      ItemType = "file"
	ItemDirectory ItemType = "directory"
)

// Entry is a single file or directory tracked for mirroring
type Entry struct {
	ID         uuid.UUID  `json:"id"`
	Path       string     `json:"path"`
	ItemType   ItemType   `json:"item_type"`
	AddedAt    time.Time  `json:"added_at"`
	LastSynced *time.Time `json:"last_synced"`
}

// NewEntry creates an entry with a fresh random ID
func NewEntry(path string, itemType ItemType) Entry {
	return Entry{
		ID:       uuid.New(),
		Path:     path,
		ItemType: itemType,
		AddedAt:  time.Now().UTC(),
	}
}

// Paths returns the entry paths in order
func Paths(entries []Entry) []string {
	paths := make([]string, 0, len(entries))
	for _, e := range entries {
		paths = append(paths, e.Path)
	}
	return paths
}

// Settings holds the user-editable application settings
type Settings struct {
	DestinationRoot string `json:"destination_root"`
	BackupDirName   string `json:"backup_dir_name"`
	MachineName     string `json:"machine_name"`
	WebhookPort     int    `json:"webhook_port"`
	WebhookToken    string `json:"webhook_token"`
}

const (
	DefaultBackupDirName = "ShrikeBackup"
	DefaultWebhookPort   = 7022
)

// DefaultSettings returns the settings a fresh store starts with.
// The destination root is left empty until the user configures it.
func DefaultSettings() Settings {
	return Settings{
		BackupDirName: DefaultBackupDirName,
		MachineName:   defaultMachineName(),
		WebhookPort:   DefaultWebhookPort,
		WebhookToken:  uuid.New().String(),
	}
}

// defaultMachineName derives a single path component from the hostname
func defaultMachineName() string {
	host, err := os.Hostname()
	if err != nil {
		return "default"
	}
	// Short hostname only; FQDN suffixes vary with the network.
	if i := strings.IndexByte(host, '.'); i > 0 {
		host = host[:i]
	}
	host = strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' {
			return '-'
		}
		return r
	}, host)
	if host == "" || host == "." || host == ".." {
		return "default"
	}
	return host
}

// Data is the on-disk document of the file store
type Data struct {
	Items    []Entry   `json:"items"`
	Settings *Settings `json:"settings,omitempty"`
}

package sync

import (
	"path/filepath"
	"strings"

	"github.com/shrike-backup/shrike/internal/store"
)

// DestinationPath computes root/backup-dir/machine from settings. It is
// recomputed on every call so settings changes apply to the next sync.
func DestinationPath(s store.Settings) (string, error) {
	if s.DestinationRoot == "" {
		return "", configError("destination root is not configured")
	}
	if err := CheckComponents(s); err != nil {
		return "", err
	}

	sep := string(filepath.Separator)
	root := strings.TrimRight(s.DestinationRoot, sep)
	return root + sep + s.BackupDirName + sep + s.MachineName, nil
}

// CheckComponents validates the backup and machine folder names on their own,
// so they can be checked before a destination root is configured
func CheckComponents(s store.Settings) error {
	if err := checkComponent("backup_dir_name", s.BackupDirName); err != nil {
		return err
	}
	return checkComponent("machine_name", s.MachineName)
}

// checkComponent requires value to be exactly one normal path component
func checkComponent(name, value string) error {
	if value == "" {
		return configError("%s is not configured", name)
	}
	if strings.ContainsAny(value, `/\`) {
		return configError("%s contains path separators: %q", name, value)
	}
	if value == "." || value == ".." {
		return configError("%s is an invalid path component: %q", name, value)
	}
	return nil
}

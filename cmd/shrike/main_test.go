package main

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrike-backup/shrike/internal/store"
	"github.com/shrike-backup/shrike/internal/sync"
	"github.com/shrike-backup/shrike/internal/testutil"
)

// setupTestEnv points the global --config at a fresh config whose store
// lives in a temp dir, and returns the store path.
func setupTestEnv(t *testing.T) (string, string) {
	t.Helper()

	origCfgFile, origLevel := cfgFile, logLevel
	t.Cleanup(func() {
		cfgFile = origCfgFile
		logLevel = origLevel
	})

	dir := testutil.CanonicalTempDir(t)
	storePath := filepath.Join(dir, "data", "shrike_data.json")
	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("store:\n  path: \""+storePath+"\"\n"), 0o600))

	cfgFile = cfgPath
	logLevel = "error"
	return dir, storePath
}

func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	var buf bytes.Buffer
	cmd.SetOut(&buf)
	cmd.SetErr(&buf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestSetupLogger(t *testing.T) {
	// Save original globals.
	origLevel := logLevel
	origFormat := logFormat
	t.Cleanup(func() {
		logLevel = origLevel
		logFormat = origFormat
	})

	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
		enabled   slog.Level
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text", enabled: slog.LevelDebug},
		{name: "info/json", logLevel: "info", logFormat: "json", enabled: slog.LevelInfo},
		{name: "warn/text", logLevel: "warn", logFormat: "text", enabled: slog.LevelWarn},
		{name: "error/text", logLevel: "error", logFormat: "text", enabled: slog.LevelError},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text", enabled: slog.LevelInfo},
	} {
		t.Run(tc.name, func(t *testing.T) {
			logLevel = tc.logLevel
			logFormat = tc.logFormat

			logger := setupLogger()
			require.NotNil(t, logger)
			assert.True(t, logger.Enabled(context.Background(), tc.enabled))
			assert.False(t, logger.Enabled(context.Background(), tc.enabled-1))
		})
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	_, storePath := setupTestEnv(t)

	cfg, err := loadConfig(testutil.Logger())
	require.NoError(t, err)
	assert.Equal(t, storePath, cfg.Store.Path)
	assert.Equal(t, filepath.Join(filepath.Dir(storePath), "sync.lock"), cfg.Rsync.LockFile)
}

func TestLoadConfig_MissingFile(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })

	cfgFile = filepath.Join(t.TempDir(), "nonexistent.yaml")

	_, err := loadConfig(testutil.Logger())
	assert.Error(t, err)
}

func TestLoadConfig_DefaultPath(t *testing.T) {
	origCfgFile := cfgFile
	t.Cleanup(func() { cfgFile = origCfgFile })
	cfgFile = ""
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	// A missing default config file falls back to defaults.
	cfg, err := loadConfig(testutil.Logger())
	require.NoError(t, err)
	assert.Equal(t, "rsync", cfg.Rsync.Binary)
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	require.NotNil(t, ctx)

	cancel()

	<-ctx.Done()
	assert.Error(t, ctx.Err())
}

func TestVersionCmd(t *testing.T) {
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, []string{})
	assert.Contains(t, buf.String(), "shrike dev")
	assert.Contains(t, buf.String(), "commit: none")
}

func TestEntriesCommands(t *testing.T) {
	dir, storePath := setupTestEnv(t)
	file := testutil.WriteFile(t, dir, "src/notes.txt", "notes")
	folder := filepath.Dir(file)

	out, err := execute(t, newEntriesCmd(), "ls")
	require.NoError(t, err)
	assert.Equal(t, "no entries\n", out)

	out, err = execute(t, newEntriesCmd(), "add", file, folder)
	require.NoError(t, err)
	assert.Contains(t, out, "added file "+file)
	assert.Contains(t, out, "added directory "+folder)

	_, err = execute(t, newEntriesCmd(), "add", file)
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrDuplicateEntry)

	out, err = execute(t, newEntriesCmd(), "ls", "--json")
	require.NoError(t, err)
	var entries []store.Entry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, file, entries[0].Path)
	assert.Equal(t, store.ItemDirectory, entries[1].ItemType)

	out, err = execute(t, newEntriesCmd(), "ls")
	require.NoError(t, err)
	assert.Contains(t, out, "LAST SYNCED")
	assert.Contains(t, out, "never")

	_, err = execute(t, newEntriesCmd(), "rm", "not-a-uuid")
	assert.ErrorIs(t, err, store.ErrEntryNotFound)

	out, err = execute(t, newEntriesCmd(), "rm", entries[0].ID.String())
	require.NoError(t, err)
	assert.Contains(t, out, "removed "+entries[0].ID.String())

	remaining, err := store.NewFileStore(storePath).LoadItems()
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, folder, remaining[0].Path)
}

func TestLastSynced(t *testing.T) {
	assert.Equal(t, "never", lastSynced(store.Entry{}))

	at := time.Now().Add(-2 * time.Hour)
	assert.Equal(t, "2 hours ago", lastSynced(store.Entry{LastSynced: &at}))
}

func TestEntriesAdd_MissingPath(t *testing.T) {
	dir, _ := setupTestEnv(t)

	_, err := execute(t, newEntriesCmd(), "add", filepath.Join(dir, "missing"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestSettingsCommands(t *testing.T) {
	dir, storePath := setupTestEnv(t)

	out, err := execute(t, newSettingsCmd(), "show")
	require.NoError(t, err)
	assert.Contains(t, out, "backup_dir_name")
	assert.Contains(t, out, store.DefaultBackupDirName)

	original, err := store.NewFileStore(storePath).LoadSettings()
	require.NoError(t, err)
	assert.NotContains(t, out, original.WebhookToken, "token is masked by default")

	out, err = execute(t, newSettingsCmd(), "show", "--json", "--show-token")
	require.NoError(t, err)
	var shown store.Settings
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	assert.Equal(t, original, shown)

	root := filepath.Join(dir, "backups")
	_, err = execute(t, newSettingsCmd(), "set",
		"--destination-root", root,
		"--machine-name", "laptop",
		"--webhook-port", "9123")
	require.NoError(t, err)

	updated, err := store.NewFileStore(storePath).LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, root, updated.DestinationRoot)
	assert.Equal(t, "laptop", updated.MachineName)
	assert.Equal(t, 9123, updated.WebhookPort)
	assert.Equal(t, store.DefaultBackupDirName, updated.BackupDirName, "unset flags keep their value")
	assert.Equal(t, original.WebhookToken, updated.WebhookToken)

	out, err = execute(t, newSettingsCmd(), "set", "--rotate-token")
	require.NoError(t, err)
	rotated, err := store.NewFileStore(storePath).LoadSettings()
	require.NoError(t, err)
	assert.NotEqual(t, original.WebhookToken, rotated.WebhookToken)
	assert.Contains(t, out, rotated.WebhookToken)
}

func TestSettingsSet_Rejected(t *testing.T) {
	_, storePath := setupTestEnv(t)

	for _, tc := range []struct {
		name    string
		args    []string
		wantMsg string
	}{
		{name: "relative root", args: []string{"--destination-root", "backups"}, wantMsg: "must be an absolute path"},
		{name: "port zero", args: []string{"--webhook-port", "0"}, wantMsg: "webhook port"},
		{name: "port too large", args: []string{"--webhook-port", "70000"}, wantMsg: "webhook port"},
		{name: "machine with separator", args: []string{"--destination-root", "/mnt/x", "--machine-name", "a/b"}, wantMsg: "path separators"},
		{name: "parent backup dir without root", args: []string{"--backup-dir-name", ".."}, wantMsg: "invalid path component"},
		{name: "nested backup dir without root", args: []string{"--backup-dir-name", "../x"}, wantMsg: "path separators"},
		{name: "machine with separator without root", args: []string{"--machine-name", "a/b"}, wantMsg: "path separators"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, newSettingsCmd(), append([]string{"set"}, tc.args...)...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantMsg)

			settings, err := store.NewFileStore(storePath).LoadSettings()
			require.NoError(t, err)
			assert.Empty(t, settings.DestinationRoot, "rejected settings are not persisted")
			assert.Equal(t, store.DefaultBackupDirName, settings.BackupDirName)
		})
	}
}

func TestMaskToken(t *testing.T) {
	assert.Equal(t, "", maskToken(""))
	assert.Equal(t, "***", maskToken("abc"))
	assert.Equal(t, "****5678", maskToken("12345678"))
}

func TestRunStatus(t *testing.T) {
	setupTestEnv(t)

	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	require.NoError(t, runStatus(cmd, nil))
	assert.Contains(t, buf.String(), "status:      idle")
	assert.Contains(t, buf.String(), "entries:     0")
	assert.Contains(t, buf.String(), "destination root is not configured")
}

func TestRunSync_NoEntries(t *testing.T) {
	setupTestEnv(t)

	err := runSync(&cobra.Command{}, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, sync.ErrConfiguration, "destination is checked before entries")
}

func TestRunSync_EndToEnd(t *testing.T) {
	testutil.RequireRsync(t)
	dir, storePath := setupTestEnv(t)

	file := testutil.WriteFile(t, dir, "src/doc.md", "# Hello")
	fileStore := store.NewFileStore(storePath)
	_, err := fileStore.AddEntry(file)
	require.NoError(t, err)

	settings, err := fileStore.LoadSettings()
	require.NoError(t, err)
	settings.DestinationRoot = filepath.Join(dir, "dest")
	settings.MachineName = "laptop"
	require.NoError(t, fileStore.UpdateSettings(settings))

	cmd := &cobra.Command{}
	var buf bytes.Buffer
	cmd.SetOut(&buf)

	require.NoError(t, runSync(cmd, nil))
	assert.Contains(t, buf.String(), "exit code 0")

	data, err := os.ReadFile(filepath.Join(dir, "dest", store.DefaultBackupDirName, "laptop") + file)
	require.NoError(t, err)
	assert.Equal(t, "# Hello", string(data))

	entries, err := fileStore.LoadItems()
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.NotNil(t, entries[0].LastSynced)
}

package sync

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shrike-backup/shrike/internal/testutil"
)

func TestBuildArgs(t *testing.T) {
	args := BuildArgs("/tmp/filelist.txt", "/mnt/backup")
	assert.Equal(t, []string{"-avrR", "--files-from=/tmp/filelist.txt", "/", "/mnt/backup/"}, args)
}

func TestBuildArgs_Paths(t *testing.T) {
	for _, tc := range []struct {
		name     string
		list     string
		dest     string
		wantList string
		wantDest string
	}{
		{name: "spaces", list: "/tmp/my list.txt", dest: "/mnt/My Backup", wantList: "--files-from=/tmp/my list.txt", wantDest: "/mnt/My Backup/"},
		{name: "unicode", list: "/tmp/l.txt", dest: "/mnt/我的云端硬盘/ShrikeBackup", wantList: "--files-from=/tmp/l.txt", wantDest: "/mnt/我的云端硬盘/ShrikeBackup/"},
		{name: "already trailing", list: "/tmp/l.txt", dest: "/dest/", wantList: "--files-from=/tmp/l.txt", wantDest: "/dest/"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			args := BuildArgs(tc.list, tc.dest)
			require.Len(t, args, 4)
			assert.Contains(t, args[0], "r", "recursion must be explicit with --files-from")
			assert.Equal(t, tc.wantList, args[1])
			assert.Equal(t, "/", args[2], "source root must be /")
			assert.Equal(t, tc.wantDest, args[3])
		})
	}
}

func TestCountTransferredItems(t *testing.T) {
	for _, tc := range []struct {
		name      string
		stdout    string
		wantFiles uint64
		wantDirs  uint64
	}{
		{
			name:   "empty",
			stdout: "",
		},
		{
			name: "typical",
			stdout: `sending incremental file list
Users/me/.zshrc
Users/me/.gitconfig
Users/me/Documents/notes.txt

sent 1234 bytes  received 56 bytes  2580.00 bytes/sec
total size is 1000  speedup is 0.78
`,
			wantFiles: 3,
		},
		{
			name: "files and dirs",
			stdout: `sending incremental file list
dir1/
dir1/file1.txt
dir2/
dir2/file2.txt
dir2/file3.txt

sent 2000 bytes  received 100 bytes  4200.00 bytes/sec
total size is 1500  speedup is 0.71
`,
			wantFiles: 3,
			wantDirs:  2,
		},
		{
			name: "no transfers",
			stdout: `sending incremental file list

sent 100 bytes  received 20 bytes  240.00 bytes/sec
total size is 0  speedup is 0.00
`,
		},
		{
			name: "root markers skipped",
			stdout: `sending incremental file list
./
.
Users/me/file.txt
`,
			wantFiles: 1,
		},
		{
			name: "building line skipped",
			stdout: `building file list ... done
sending incremental file list
file.txt
`,
			wantFiles: 1,
		},
		{
			name:      "whitespace only lines",
			stdout:    "sending incremental file list\n  \n\t\nfile.txt\n\nsent 100 bytes\n",
			wantFiles: 1,
		},
		{
			name:      "repeated lines counted each time",
			stdout:    "a.txt\na.txt\nd/\nd/\n",
			wantFiles: 2,
			wantDirs:  2,
		},
		{
			name:      "unicode",
			stdout:    "Users/me/日本語/ファイル.txt\nUsers/me/中文/\n",
			wantFiles: 1,
			wantDirs:  1,
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			files, dirs := CountTransferredItems(tc.stdout)
			assert.Equal(t, tc.wantFiles, files)
			assert.Equal(t, tc.wantDirs, dirs)
		})
	}
}

func TestParseOutput(t *testing.T) {
	result, err := parseOutput("a.txt\nd/\n", "warning: something", 0)
	require.NoError(t, err)
	assert.True(t, result.Success())
	assert.Equal(t, uint64(1), result.FilesTransferred)
	assert.Equal(t, uint64(1), result.DirsTransferred)
	assert.Equal(t, uint64(0), result.BytesTransferred)
	assert.Equal(t, "warning: something", result.Stderr)
	assert.False(t, result.SyncedAt.IsZero())

	result, err = parseOutput("", "partial transfer", 23)
	require.Error(t, err)
	require.NotNil(t, result)
	assert.False(t, result.Success())

	var pe *ProcessError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 23, pe.ExitCode)
	assert.Equal(t, "partial transfer", pe.Stderr)
	assert.EqualError(t, err, "rsync error (exit code 23): partial transfer")
	assert.ErrorIs(t, err, ErrProcess)
	assert.Equal(t, KindProcess, KindOf(err))
}

func TestRsyncExecutor_MissingBinary(t *testing.T) {
	e := NewRsyncExecutor("/nonexistent/bin/rsync")

	_, err := e.Run([]string{"--version"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrIO)
	assert.Contains(t, err.Error(), "failed to start")
}

func TestRsyncExecutor_DefaultBinary(t *testing.T) {
	assert.Equal(t, "rsync", NewRsyncExecutor("").Binary())
}

func TestRsyncExecutor_NonexistentFilelistFails(t *testing.T) {
	testutil.RequireRsync(t)

	e := NewRsyncExecutor("rsync")
	_, err := e.Run(BuildArgs("/nonexistent/filelist.txt", t.TempDir()))
	require.Error(t, err)

	var pe *ProcessError
	require.ErrorAs(t, err, &pe)
	assert.NotZero(t, pe.ExitCode)
}

func TestRsyncExecutor_EmptyFilelistSucceeds(t *testing.T) {
	testutil.RequireRsync(t)

	list := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(list, nil, 0644))

	result, err := NewRsyncExecutor("rsync").Run(BuildArgs(list, t.TempDir()))
	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
}

func TestRsyncExecutor_RealTransfer(t *testing.T) {
	testutil.RequireRsync(t)

	src := testutil.CanonicalTempDir(t)
	file := testutil.WriteFile(t, src, "test.txt", "rsync test content")
	dest := testutil.CanonicalTempDir(t)

	list := filepath.Join(t.TempDir(), "list.txt")
	require.NoError(t, os.WriteFile(list, []byte(file+"\n"), 0644))

	result, err := NewRsyncExecutor("rsync").Run(BuildArgs(list, dest))
	require.NoError(t, err)
	assert.GreaterOrEqual(t, result.FilesTransferred, uint64(1))
	assert.True(t, strings.Contains(result.Stdout, "test.txt"))

	data, err := os.ReadFile(dest + file)
	require.NoError(t, err)
	assert.Equal(t, "rsync test content", string(data))
}

package sync

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// Executor runs the mirroring process
type Executor interface {
	// Run executes the process with args to completion and parses its output.
	// A non-zero exit is returned as *ProcessError.
	Run(args []string) (*Result, error)
}

// BuildArgs returns the rsync argument vector for mirroring the listing at
// filelistPath into destination.
//
// The explicit -r is required: --files-from turns off the recursion implied
// by -a, and listed directories would otherwise be created empty.
func BuildArgs(filelistPath, destination string) []string {
	return []string{
		"-avrR",
		"--files-from=" + filelistPath,
		"/",
		strings.TrimRight(destination, string(filepath.Separator)) + string(filepath.Separator),
	}
}

// statusPrefixes mark rsync -v lines that are not transferred items
var statusPrefixes = []string{"sending", "sent ", "total ", "building "}

// CountTransferredItems counts the items listed in rsync -v output.
// Lines ending in a separator are directories, everything else is a file.
// Repeated lines are counted each time.
func CountTransferredItems(stdout string) (files, dirs uint64) {
	for _, line := range strings.Split(stdout, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || line == "." || line == "./" || hasStatusPrefix(line) {
			continue
		}
		if strings.HasSuffix(line, "/") {
			dirs++
		} else {
			files++
		}
	}
	return files, dirs
}

func hasStatusPrefix(line string) bool {
	for _, p := range statusPrefixes {
		if strings.HasPrefix(line, p) {
			return true
		}
	}
	return false
}

// RsyncExecutor implements Executor by shelling out to rsync
type RsyncExecutor struct {
	binary string
}

// NewRsyncExecutor creates an executor for the given rsync binary
func NewRsyncExecutor(binary string) *RsyncExecutor {
	if binary == "" {
		binary = "rsync"
	}
	return &RsyncExecutor{binary: binary}
}

// Binary returns the program the executor runs
func (e *RsyncExecutor) Binary() string {
	return e.binary
}

// Run executes rsync synchronously. It has no timeout: once started the
// process runs to completion.
func (e *RsyncExecutor) Run(args []string) (*Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.Command(e.binary, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	exitCode := 0
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, ioError(err, "failed to start %s", e.binary)
		}
		// -1 when the process was killed by a signal
		exitCode = exitErr.ExitCode()
	}

	return parseOutput(stdout.String(), stderr.String(), exitCode)
}

// parseOutput turns captured process output into a Result, failing on a non-zero exit
func parseOutput(stdout, stderr string, exitCode int) (*Result, error) {
	files, dirs := CountTransferredItems(stdout)
	result := &Result{
		FilesTransferred: files,
		DirsTransferred:  dirs,
		Stdout:           stdout,
		Stderr:           stderr,
		ExitCode:         exitCode,
		SyncedAt:         time.Now().UTC(),
	}

	if !result.Success() {
		return result, &ProcessError{ExitCode: exitCode, Stderr: stderr}
	}
	return result, nil
}

// Summary renders a one-line description of a result
func (r *Result) Summary() string {
	return fmt.Sprintf("files=%d dirs=%d exit_code=%d", r.FilesTransferred, r.DirsTransferred, r.ExitCode)
}

package sync

import "time"

// Result summarizes one completed mirroring run
type Result struct {
	FilesTransferred uint64    `json:"files_transferred"`
	DirsTransferred  uint64    `json:"dirs_transferred"`
	BytesTransferred uint64    `json:"bytes_transferred"` // best-effort, currently always 0
	Stdout           string    `json:"stdout"`
	Stderr           string    `json:"stderr"`
	ExitCode         int       `json:"exit_code"`
	SyncedAt         time.Time `json:"synced_at"`
}

// Success reports whether the process exited cleanly. Stderr may still hold warnings.
func (r *Result) Success() bool {
	return r.ExitCode == 0
}

// Status is the advisory state reported to status callers
type Status string

const (
	StatusIdle    Status = "idle"
	StatusRunning Status = "running"
)

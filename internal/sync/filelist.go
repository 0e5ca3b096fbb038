package sync

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/shrike-backup/shrike/internal/store"
)

// Filelist is a temporary listing of entry paths, one per line, consumed by
// rsync's --files-from. It must stay on disk until the process has exited;
// Remove deletes it.
type Filelist struct {
	path string
}

// GenerateFilelist writes each entry's path on its own line, in input order.
// An empty entry list produces an empty file.
func GenerateFilelist(entries []store.Entry) (*Filelist, error) {
	f, err := os.CreateTemp("", "shrike-filelist-*.txt")
	if err != nil {
		return nil, ioError(err, "failed to create filelist")
	}
	list := &Filelist{path: f.Name()}

	w := bufio.NewWriter(f)
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e.Path); err != nil {
			_ = f.Close()
			list.Remove()
			return nil, ioError(err, "failed to write filelist")
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		list.Remove()
		return nil, ioError(err, "failed to write filelist")
	}
	if err := f.Close(); err != nil {
		list.Remove()
		return nil, ioError(err, "failed to write filelist")
	}

	return list, nil
}

// Path returns the location of the listing
func (l *Filelist) Path() string {
	return l.path
}

// Remove deletes the listing; safe to call more than once
func (l *Filelist) Remove() {
	if l == nil || l.path == "" {
		return
	}
	_ = os.Remove(l.path)
}

// ReadFilelist reads a listing back into its ordered non-empty lines
func ReadFilelist(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, ioError(err, "failed to read filelist")
	}

	lines := make([]string, 0)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	return lines, nil
}

package sync

import (
	"fmt"
	"os"
	"strings"
)

// PathStatus is the outcome of validating a single path
type PathStatus string

const (
	PathValid       PathStatus = "valid"
	PathNotAbsolute PathStatus = "not absolute"
	PathNotFound    PathStatus = "not found"
	PathNotReadable PathStatus = "not readable"
)

// PathIssue records a path that failed validation
type PathIssue struct {
	Path   string
	Status PathStatus
}

// ValidationReport summarizes a filelist check. It is advisory: invalid paths
// are still handed to rsync, which skips them individually.
type ValidationReport struct {
	Total      int
	ValidCount int
	Errors     []PathIssue
	Duplicates []string
}

// OK reports whether every path is valid and unique
func (r *ValidationReport) OK() bool {
	return len(r.Errors) == 0 && len(r.Duplicates) == 0
}

// HasIssues is the negation of OK
func (r *ValidationReport) HasIssues() bool {
	return !r.OK()
}

// Summary renders a human-readable description of the report
func (r *ValidationReport) Summary() string {
	if r.OK() {
		return fmt.Sprintf("all %d paths validated successfully", r.Total)
	}

	counts := make(map[PathStatus]int)
	for _, issue := range r.Errors {
		counts[issue.Status]++
	}

	var parts []string
	for _, status := range []PathStatus{PathNotFound, PathNotReadable, PathNotAbsolute} {
		if n := counts[status]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, status))
		}
	}
	if len(r.Duplicates) > 0 {
		parts = append(parts, fmt.Sprintf("%d duplicates", len(r.Duplicates)))
	}

	return fmt.Sprintf("%d/%d paths valid; issues: %s", r.ValidCount, r.Total, strings.Join(parts, ", "))
}

// ValidatePath checks, in order, that path is absolute, exists and has readable metadata
func ValidatePath(path string) PathStatus {
	if !strings.HasPrefix(path, "/") {
		return PathNotAbsolute
	}

	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			return PathNotFound
		}
		return PathNotReadable
	}

	// Follow symlinks the way rsync will when reading the source.
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return PathNotFound
		}
		return PathNotReadable
	}

	return PathValid
}

// ValidateFilelist classifies every path. Exact repeats of an earlier path are
// recorded as duplicates and not classified again.
func ValidateFilelist(paths []string) *ValidationReport {
	report := &ValidationReport{
		Total:      len(paths),
		Errors:     make([]PathIssue, 0),
		Duplicates: make([]string, 0),
	}

	seen := make(map[string]bool, len(paths))
	for _, path := range paths {
		if seen[path] {
			report.Duplicates = append(report.Duplicates, path)
			continue
		}
		seen[path] = true

		status := ValidatePath(path)
		if status == PathValid {
			report.ValidCount++
			continue
		}
		report.Errors = append(report.Errors, PathIssue{Path: path, Status: status})
	}

	return report
}

// ValidateDestination ensures destination is an existing directory, creating
// the full chain when it is missing
func ValidateDestination(destination string) error {
	info, err := os.Stat(destination)
	if err == nil {
		if !info.IsDir() {
			return ioError(nil, "destination is not a directory: %s", destination)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return ioError(err, "failed to inspect destination %s", destination)
	}

	if err := os.MkdirAll(destination, 0755); err != nil {
		return ioError(err, "failed to create destination %s", destination)
	}
	return nil
}

// PreSyncCheck rejects an empty list, rejects lists without a single valid
// path, and prepares the destination. The returned report is advisory.
func PreSyncCheck(paths []string, destination string) (*ValidationReport, error) {
	if len(paths) == 0 {
		return nil, validationError("no entries to sync")
	}

	report := ValidateFilelist(paths)
	if report.ValidCount == 0 {
		return report, validationError("no valid paths to sync: %s", report.Summary())
	}

	if err := ValidateDestination(destination); err != nil {
		return report, err
	}

	return report, nil
}

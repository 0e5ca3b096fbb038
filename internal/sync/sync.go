// Package sync implements the mirroring pipeline: listing generation,
// validation and rsync execution, serialized by a single-flight guard.
package sync

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"

	"github.com/gofrs/flock"
	"github.com/jonboulle/clockwork"

	"github.com/shrike-backup/shrike/internal/store"
)

// Guard is the single-flight flag shared by every caller that can start a
// sync in this process. At most one TryAcquire succeeds until Release.
type Guard struct {
	running atomic.Bool
}

// TryAcquire flips the flag from idle to running, reporting whether it won
func (g *Guard) TryAcquire() bool {
	return g.running.CompareAndSwap(false, true)
}

// Release returns the flag to idle
func (g *Guard) Release() {
	g.running.Store(false)
}

// IsRunning is a momentary snapshot, only suitable for status reporting
func (g *Guard) IsRunning() bool {
	return g.running.Load()
}

// Coordinator runs the sync pipeline under the guard
type Coordinator struct {
	guard    *Guard
	executor Executor
	lock     *flock.Flock
	lockMu   gosync.Mutex // orders IsRunning lock checks against acquireLock
	clock    clockwork.Clock
	logger   *slog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithLockFile additionally serializes syncs across processes through an
// advisory lock on path
func WithLockFile(path string) Option {
	return func(c *Coordinator) {
		if path != "" {
			c.lock = flock.New(path)
		}
	}
}

// WithClock sets the clock used to stamp results
func WithClock(clock clockwork.Clock) Option {
	return func(c *Coordinator) {
		c.clock = clock
	}
}

// NewCoordinator creates a coordinator. Callers that may race (the local
// trigger and the webhook) must share the same guard.
func NewCoordinator(guard *Guard, executor Executor, logger *slog.Logger, opts ...Option) *Coordinator {
	c := &Coordinator{
		guard:    guard,
		executor: executor,
		clock:    clockwork.NewRealClock(),
		logger:   logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IsRunning reports whether a sync is in flight in this process or, when a
// lock file is configured, in another process holding it
func (c *Coordinator) IsRunning() bool {
	if c.guard.IsRunning() {
		return true
	}
	if c.lock == nil {
		return false
	}

	c.lockMu.Lock()
	defer c.lockMu.Unlock()
	held, err := LockHeld(c.lock.Path())
	if err != nil {
		c.logger.Debug("failed to check sync lock", "lock_file", c.lock.Path(), "error", err)
		return false
	}
	return held
}

// Execute mirrors entries to the destination described by settings. It
// blocks until rsync exits and must not be called from a goroutine that
// serves other work. A concurrent call fails fast with ErrAlreadyRunning.
func (c *Coordinator) Execute(entries []store.Entry, settings store.Settings) (*Result, error) {
	if !c.guard.TryAcquire() {
		c.logger.Warn("sync already in progress, rejecting request")
		return nil, ErrAlreadyRunning
	}
	defer c.guard.Release()

	if c.lock != nil {
		unlock, err := c.acquireLock()
		if err != nil {
			return nil, err
		}
		defer unlock()
	}

	return c.run(entries, settings)
}

func (c *Coordinator) acquireLock() (func(), error) {
	if err := os.MkdirAll(filepath.Dir(c.lock.Path()), 0755); err != nil {
		return nil, ioError(err, "failed to create lock directory")
	}
	c.lockMu.Lock()
	locked, err := c.lock.TryLock()
	c.lockMu.Unlock()
	if err != nil {
		return nil, ioError(err, "failed to acquire sync lock")
	}
	if !locked {
		c.logger.Warn("sync lock held by another process", "lock_file", c.lock.Path())
		return nil, ErrAlreadyRunning
	}
	return func() {
		_ = c.lock.Unlock()
	}, nil
}

// run executes destination -> filelist -> validation -> rsync
func (c *Coordinator) run(entries []store.Entry, settings store.Settings) (*Result, error) {
	destination, err := DestinationPath(settings)
	if err != nil {
		return nil, err
	}

	c.logger.Info("starting sync", "entries", len(entries), "destination", destination)

	list, err := GenerateFilelist(entries)
	if err != nil {
		return nil, err
	}
	defer list.Remove()

	paths, err := ReadFilelist(list.Path())
	if err != nil {
		return nil, err
	}

	report, err := PreSyncCheck(paths, destination)
	if err != nil {
		return nil, err
	}
	if report.HasIssues() {
		c.logger.Warn("validation found issues, continuing with full filelist", "summary", report.Summary())
	} else {
		c.logger.Debug("validation passed", "summary", report.Summary())
	}

	args := BuildArgs(list.Path(), destination)
	c.logger.Debug("running mirror process", "args", args)

	result, err := c.executor.Run(args)
	if result != nil {
		result.SyncedAt = c.clock.Now().UTC()
	}
	if err != nil {
		c.logger.Error("sync failed", "error", err)
		return result, err
	}

	c.logger.Info("sync completed successfully",
		"files", result.FilesTransferred,
		"dirs", result.DirsTransferred,
		"exit_code", result.ExitCode)
	return result, nil
}

// LockHeld reports whether another process currently holds the sync lock at path
func LockHeld(path string) (bool, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return false, nil
	}
	other := flock.New(path)
	locked, err := other.TryLock()
	if err != nil {
		return false, fmt.Errorf("failed to check sync lock: %w", err)
	}
	if locked {
		_ = other.Unlock()
		return false, nil
	}
	return true, nil
}

package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// RepoLock is a repository-wide advisory lock, distinct from the
// per-staging-directory locks: it guards operations that must not overlap
// with any other writer at all (e.g. summary regeneration racing a prune).
// Held via flock on <dir>/.lock, never removed once created.
type RepoLock struct {
	file *os.File
}

// Lock acquires the repository-wide advisory lock, blocking until
// available.
func (r *Repo) Lock() (*RepoLock, error) {
	path := filepath.Join(r.Dir, ".lock")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("repo: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, fmt.Errorf("repo: flock %s: %w", path, err)
	}
	return &RepoLock{file: f}, nil
}

// TryLock attempts to acquire the lock without blocking, returning
// (nil, false, nil) if another process holds it.
func (r *Repo) TryLock() (*RepoLock, bool, error) {
	path := filepath.Join(r.Dir, ".lock")
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("repo: open lock file %s: %w", path, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repo: flock %s: %w", path, err)
	}
	return &RepoLock{file: f}, true, nil
}

// Unlock releases the lock and closes the underlying file descriptor.
func (l *RepoLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	f := l.file
	l.file = nil
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}

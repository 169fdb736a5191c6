package repo

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// bootID returns the value used to tag staging directories for the current
// boot: $OSTREE_BOOTID if set, else the kernel's random boot id.
func bootID() (string, error) {
	if v := os.Getenv("OSTREE_BOOTID"); v != "" {
		return v, nil
	}
	data, err := os.ReadFile("/proc/sys/kernel/random/boot_id")
	if err != nil {
		return "", fmt.Errorf("repo: read boot id: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}

const (
	stagingPrefixBase = "staging-"
	fetcherPrefixBase = "fetcher-"
)

func stagingPrefix(boot string) string {
	return stagingPrefixBase + boot + "-"
}

func fetcherPrefix(boot string) string {
	return fetcherPrefixBase + boot + "-"
}

// tmpDir returns <dir>/tmp.
func tmpDir(dir string) string {
	return filepath.Join(dir, "tmp")
}

// stagingDir is an allocated, lock-owned scratch directory under tmp/.
// The lock file lives alongside (not inside) the directory so the directory
// can be unlinked while the lock file, and the fd holding it, still exist.
type stagingDir struct {
	Name     string // basename under tmp/
	Path     string
	lockFile *os.File
}

// Close releases the flock and closes the lock file descriptor. It does not
// remove the staging directory; callers that finished a transaction clean
// up their own contents, and a future allocator pass reclaims abandoned
// ones.
func (s *stagingDir) Close() error {
	if s.lockFile == nil {
		return nil
	}
	f := s.lockFile
	s.lockFile = nil
	_ = unix.Flock(int(f.Fd()), unix.LOCK_UN)
	return f.Close()
}

// AllocateStaging implements the Staging Directory Manager's allocator
// algorithm (spec.md §4.5): scan tmp/ for a reusable directory with a
// matching prefix whose lock can be acquired without blocking; if none,
// mkdtemp a fresh one.
func (r *Repo) AllocateStaging() (*stagingDir, bool, error) {
	boot, err := bootID()
	if err != nil {
		return nil, false, err
	}
	prefix := stagingPrefix(boot)
	base := tmpDir(r.Dir)

	entries, err := os.ReadDir(base)
	if err != nil && !os.IsNotExist(err) {
		return nil, false, fmt.Errorf("repo: read tmp dir: %w", err)
	}
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), prefix) {
			continue
		}
		candidate := filepath.Join(base, e.Name())
		lock, ok, err := tryLockSibling(candidate)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		now := time.Now()
		_ = os.Chtimes(candidate, now, now)
		r.Logger.Debug("reused staging directory", "path", candidate)
		return &stagingDir{Name: e.Name(), Path: candidate, lockFile: lock}, true, nil
	}

	for {
		name := prefix + randomSuffix()
		candidate := filepath.Join(base, name)
		if err := os.Mkdir(candidate, 0o755); err != nil {
			if os.IsExist(err) {
				continue
			}
			return nil, false, fmt.Errorf("repo: mkdir staging dir: %w", err)
		}
		lock, ok, err := tryLockSibling(candidate)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			// Lost a race with a concurrent allocator; try a new name.
			continue
		}
		r.Logger.Debug("allocated staging directory", "path", candidate)
		return &stagingDir{Name: name, Path: candidate, lockFile: lock}, false, nil
	}
}

func tryLockSibling(dirPath string) (*os.File, bool, error) {
	lockPath := dirPath + "-lock"
	f, err := os.OpenFile(lockPath, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, false, fmt.Errorf("repo: open staging lock %s: %w", lockPath, err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		if err == unix.EWOULDBLOCK {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("repo: flock %s: %w", lockPath, err)
	}
	return f, true, nil
}

func randomSuffix() string {
	var b [6]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// ensureTmpLayout creates tmp/ and tmp/cache/ if missing. Only called when
// the repository has been probed writable.
func ensureTmpLayout(dir string) error {
	if err := os.MkdirAll(filepath.Join(dir, "tmp", "cache"), 0o755); err != nil {
		return fmt.Errorf("repo: create tmp layout: %w", err)
	}
	return nil
}

// sweepStaleStaging removes every staging-* and fetcher-* directory under
// tmp/ whose boot-id prefix does not match the current boot, plus its
// sibling lock file. Leftovers from the current boot are left alone: a live
// process may still hold their lock.
func sweepStaleStaging(r *Repo) error {
	boot, err := bootID()
	if err != nil {
		return err
	}
	currentPrefixes := []string{stagingPrefix(boot), fetcherPrefix(boot)}

	base := tmpDir(r.Dir)
	entries, err := os.ReadDir(base)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("repo: read tmp dir: %w", err)
	}

	swept := 0
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() {
			continue
		}
		if !strings.HasPrefix(name, stagingPrefixBase) && !strings.HasPrefix(name, fetcherPrefixBase) {
			continue
		}
		if matchesAny(name, currentPrefixes) {
			continue
		}
		lockPath := filepath.Join(base, name) + "-lock"
		lock, ok, err := tryLockSibling(filepath.Join(base, name))
		if err != nil {
			return err
		}
		if !ok {
			// Another process is actively using this (surprising for a
			// stale boot id, but err on the side of not deleting live data).
			continue
		}
		_ = os.RemoveAll(filepath.Join(base, name))
		_ = lock.Close()
		_ = os.Remove(lockPath)
		swept++
	}
	if swept > 0 {
		r.Logger.Info("swept stale staging directories", "count", swept, "dir", base)
	} else {
		r.Logger.Debug("no stale staging directories found", "dir", base)
	}
	return nil
}

func matchesAny(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// testErrorPreCommit reports whether OSTREE_REPO_TEST_ERROR=pre-commit fault
// injection is active, letting tests exercise the "crash between staging
// write and rename" scenario deterministically instead of relying on timing.
func testErrorPreCommit() bool {
	return os.Getenv("OSTREE_REPO_TEST_ERROR") == "pre-commit"
}

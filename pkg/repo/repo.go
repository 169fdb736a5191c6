// Package repo implements the object store's repository handle: path
// layout, config loading, the dirmeta cache, the staging directory
// manager, cross-repo import, the remote registry, the summary builder,
// and the signature engine. See SPEC_FULL.md for the component breakdown.
package repo

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/repoerr"
	"golang.org/x/sys/unix"
)

// Repo is an opened repository handle. It owns its root/objects/tmp
// descriptors conceptually (paths, since Go's os package does not expose a
// directory fd the way the teacher's syscalls do, but access is mediated
// exclusively through Repo's methods, matching the handle's exclusive
// file-descriptor-ownership design note), and may share a Parent with
// other handles.
type Repo struct {
	Dir      string
	Mode     mode.Mode
	Settings Settings
	config   *Config

	// Logger receives structured events for operational activity that has
	// no other return value to report through: staging directory sweeps
	// and summary rebuilds. Defaults to slog.Default(); set r.Logger
	// directly after Open/Create to redirect it.
	Logger *slog.Logger

	// Parent is the fallback repository consulted on a read miss. Shared;
	// multiple handles may point at the same parent. The open-time parent
	// chain is walked and checked for cycles once, in Open/Create.
	Parent *Repo

	writableMu  sync.Mutex
	writable    bool
	writableErr error

	dirmetaMu sync.Mutex
	dirmeta   *dirmetaCache

	remoteMu sync.Mutex
	remotes  map[string]*Remote

	signOnce sync.Once
	keyring  *signatureEngine
}

// Create initializes a new repository at dir with the given storage mode.
// Idempotent: calling Create twice on the same path with the same mode
// succeeds without altering config; calling with a different mode silently
// keeps the first mode (spec.md §8, "Idempotent create").
func Create(dir string, m mode.Mode) (*Repo, error) {
	if existing, err := tryOpenExisting(dir); err == nil {
		return existing, nil
	}

	layout := []string{
		filepath.Join(dir, "objects"),
		filepath.Join(dir, "refs", "heads"),
		filepath.Join(dir, "refs", "mirrors"),
		filepath.Join(dir, "refs", "remotes"),
		filepath.Join(dir, "state"),
		filepath.Join(dir, "extensions"),
	}
	for _, d := range layout {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("repo: create %s: %w", d, err)
		}
	}
	if m == mode.Archive {
		if err := os.MkdirAll(filepath.Join(dir, "uncompressed-objects-cache"), 0o755); err != nil {
			return nil, fmt.Errorf("repo: create uncompressed-objects-cache: %w", err)
		}
	}

	cfg := newConfig()
	cfg.SetString("core", "repo_version", "1")
	cfg.SetString("core", "mode", m.String())
	if err := writeConfigFile(dir, cfg); err != nil {
		return nil, err
	}

	return Open(dir)
}

func tryOpenExisting(dir string) (*Repo, error) {
	if _, err := os.Stat(configPath(dir)); err != nil {
		return nil, err
	}
	return Open(dir)
}

// Open opens an existing repository at dir: parses config, derives
// settings, probes writability, cleans stale staging directories, and
// chains to a parent repository if core.parent is set.
func Open(dir string) (*Repo, error) {
	return openWithVisited(dir, nil)
}

func openWithVisited(dir string, visited []string) (*Repo, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("repo: abs path %s: %w", dir, err)
	}
	for _, v := range visited {
		if v == abs {
			return nil, fmt.Errorf("repo: cyclic parent chain detected at %s", abs)
		}
	}
	visited = append(visited, abs)

	cfg, err := loadConfigFile(abs)
	if err != nil {
		return nil, err
	}
	settings, err := deriveSettings(cfg)
	if err != nil {
		return nil, err
	}

	r := &Repo{
		Dir:      abs,
		Mode:     settings.Mode,
		Settings: settings,
		config:   cfg,
		remotes:  make(map[string]*Remote),
		Logger:   slog.Default(),
	}

	r.probeWritable()
	if r.writable {
		if err := ensureTmpLayout(abs); err != nil {
			return nil, err
		}
		if err := sweepStaleStaging(r); err != nil {
			return nil, err
		}
	}

	if settings.Parent != "" {
		parent, err := openWithVisited(settings.Parent, visited)
		if err != nil {
			return nil, fmt.Errorf("repo: open parent %s: %w", settings.Parent, err)
		}
		r.Parent = parent
	}

	if err := r.loadRemotesLocked(); err != nil {
		return nil, err
	}

	return r, nil
}

// probeWritable latches whether objects/ is writable, and the corresponding
// error, for later reporting (spec.md §4.3's "On writability" note).
func (r *Repo) probeWritable() {
	r.writableMu.Lock()
	defer r.writableMu.Unlock()
	err := unixAccessWritable(r.objectsDir())
	r.writable = err == nil
	r.writableErr = err
}

// Writable reports whether the repository's objects/ directory was
// writable at open time, and the latched error if not.
func (r *Repo) Writable() (bool, error) {
	r.writableMu.Lock()
	defer r.writableMu.Unlock()
	return r.writable, r.writableErr
}

func (r *Repo) requireWritable() error {
	ok, err := r.Writable()
	if !ok {
		if err == nil {
			err = repoerr.ErrNotWritable
		}
		return repoerr.New(repoerr.KindWritable, r.objectsDir(), err)
	}
	return nil
}

// unixAccessWritable reports whether path is writable by the current
// process, via unix.Access rather than attempting and discarding a real
// write (the teacher's lockfile helpers use open(2) directly for the same
// reason: surface the permission error without side effects).
func unixAccessWritable(path string) error {
	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("repo: access %s: %w", path, err)
	}
	return nil
}

// Close releases any resources the handle holds. Go's GC reclaims file
// descriptors opened per-call, so Close only gives callers a deterministic
// finalize point mirroring the handle lifecycle in spec.md §3; it releases
// nothing and always returns nil.
func (r *Repo) Close() error {
	return nil
}

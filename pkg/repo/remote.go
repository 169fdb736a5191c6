package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/opentree-fs/ostree-core/pkg/repoerr"
)

// Remote is a named pointer to an external repository: its name, a bag of
// string options (the URL among them), and — for remotes sourced from a
// drop-in file rather than the main config — the backing file path. Its
// keyring filename is derived from the name by KeyringFile.
type Remote struct {
	Name         string
	Options      map[string]string
	BackingFile  string // non-empty for a drop-in-sourced remote
	pseudoRemote bool   // file:// URL: getters short-circuit to default
}

// KeyringFile returns the conventional per-remote keyring filename.
func (rm *Remote) KeyringFile() string {
	return rm.Name + ".trustedkeys.gpg"
}

// URL returns the remote's url option ("" if unset).
func (rm *Remote) URL() string {
	return rm.Options["url"]
}

func newRemoteFromOptions(name string, opts map[string]string, backingFile string) *Remote {
	rm := &Remote{Name: name, Options: opts, BackingFile: backingFile}
	rm.pseudoRemote = strings.HasPrefix(rm.URL(), "file://")
	return rm
}

// loadRemotesLocked populates r.remotes from the main config file's
// `remote "<name>"` sections and from per-remote drop-in files. Called once
// at Open time; later Add/Delete keep the in-memory map in sync directly.
func (r *Repo) loadRemotesLocked() error {
	r.remoteMu.Lock()
	defer r.remoteMu.Unlock()

	for _, name := range r.config.remoteNames() {
		section := r.config.section(remoteSectionName(name))
		opts := sectionOptions(section)
		r.remotes[name] = newRemoteFromOptions(name, opts, "")
	}

	dropins, err := readRemoteDropins(r.dropinDir())
	if err != nil {
		return err
	}
	for name, entry := range dropins {
		if _, exists := r.remotes[name]; exists {
			return repoerr.New(repoerr.KindAlreadyExists, name,
				fmt.Errorf("remote %q defined both in config and in %s", name, entry.path))
		}
		r.remotes[name] = newRemoteFromOptions(name, entry.options, entry.path)
	}
	return nil
}

func sectionOptions(s *configSection) map[string]string {
	opts := make(map[string]string)
	if s == nil {
		return opts
	}
	for _, e := range s.entries {
		opts[e.key] = e.value
	}
	return opts
}

// dropinDir returns the sysroot-aware per-remote config directory. A
// repository with no configured sysroot defaults to a dir rooted at its
// own directory, which keeps the algorithm identical for a repo opened
// standalone (no surrounding deployment) versus one under a sysroot.
func (r *Repo) dropinDir() string {
	if v := os.Getenv("OSTREE_SYSROOT"); v != "" {
		return filepath.Join(v, "etc", "ostree", "remotes.d")
	}
	return filepath.Join(r.Dir, "etc", "ostree", "remotes.d")
}

type dropinEntry struct {
	options map[string]string
	path    string
}

// readRemoteDropins parses every "<name>.conf" file in dir, each expected
// to contain exactly one `[remote "<name>"]` section.
func readRemoteDropins(dir string) (map[string]*dropinEntry, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: read remotes.d %s: %w", dir, err)
	}

	out := make(map[string]*dropinEntry)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
			continue
		}
		path := filepath.Join(dir, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("repo: read %s: %w", path, err)
		}
		cfg, err := parseConfig(data)
		if err != nil {
			return nil, fmt.Errorf("repo: parse %s: %w", path, err)
		}
		names := cfg.remoteNames()
		if len(names) != 1 {
			return nil, fmt.Errorf("repo: %s must contain exactly one remote section, found %d", path, len(names))
		}
		name := names[0]
		section := cfg.section(remoteSectionName(name))
		out[name] = &dropinEntry{options: sectionOptions(section), path: path}
	}
	return out, nil
}

// ListRemotes returns every configured remote name, the union of this
// repository's remotes and its parent chain's, sorted lexicographically.
func (r *Repo) ListRemotes() []string {
	r.remoteMu.Lock()
	names := make(map[string]struct{}, len(r.remotes))
	for name := range r.remotes {
		names[name] = struct{}{}
	}
	r.remoteMu.Unlock()

	if r.Parent != nil {
		for _, name := range r.Parent.ListRemotes() {
			names[name] = struct{}{}
		}
	}

	out := make([]string, 0, len(names))
	for name := range names {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// AddRemoteOptions configures AddRemote.
type AddRemoteOptions struct {
	IfNotExists bool
	Options     map[string]string // extra options beyond url, e.g. "gpg-verify"
}

// AddRemote registers a new remote named name pointing at rawURL. A
// "metalink=" prefix on rawURL is stored under the "metalink" option
// instead of "url" (spec.md §4.7). Writes to the drop-in file when a
// sysroot is configured, else into the repo's own config.
func (r *Repo) AddRemote(name, rawURL string, opts AddRemoteOptions) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("repo: remote name is required")
	}

	r.remoteMu.Lock()
	_, exists := r.remotes[name]
	r.remoteMu.Unlock()
	if exists {
		if opts.IfNotExists {
			return nil
		}
		return repoerr.New(repoerr.KindAlreadyExists, name, repoerr.ErrAlreadyExists)
	}

	options := make(map[string]string, len(opts.Options)+1)
	for k, v := range opts.Options {
		options[k] = v
	}
	if strings.HasPrefix(rawURL, "metalink=") {
		options["metalink"] = strings.TrimPrefix(rawURL, "metalink=")
	} else {
		options["url"] = rawURL
	}

	backingFile, err := r.writeRemoteConfig(name, options)
	if err != nil {
		return err
	}

	r.remoteMu.Lock()
	r.remotes[name] = newRemoteFromOptions(name, options, backingFile)
	r.remoteMu.Unlock()
	return nil
}

// DeleteRemoteOptions configures DeleteRemote.
type DeleteRemoteOptions struct {
	IfExists bool
}

// DeleteRemote unregisters name: unlinks its drop-in file or removes its
// config section, unlinks its keyring, and deregisters it in memory.
func (r *Repo) DeleteRemote(name string, opts DeleteRemoteOptions) error {
	r.remoteMu.Lock()
	rm, exists := r.remotes[name]
	if exists {
		delete(r.remotes, name)
	}
	r.remoteMu.Unlock()

	if !exists {
		if opts.IfExists {
			return nil
		}
		return repoerr.NotFound(name, nil)
	}

	if rm.BackingFile != "" {
		if err := os.Remove(rm.BackingFile); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("repo: remove drop-in %s: %w", rm.BackingFile, err)
		}
	} else {
		r.config.removeSection(remoteSectionName(name))
		if err := writeConfigFile(r.Dir, r.config); err != nil {
			return err
		}
	}

	keyringPath := filepath.Join(r.Dir, rm.KeyringFile())
	if err := os.Remove(keyringPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repo: remove keyring %s: %w", keyringPath, err)
	}
	return nil
}

// writeRemoteConfig persists a new remote's options either to the drop-in
// dir (when a sysroot is configured) or into the repo's own config,
// returning the drop-in file path if that branch was taken.
func (r *Repo) writeRemoteConfig(name string, options map[string]string) (string, error) {
	if os.Getenv("OSTREE_SYSROOT") == "" {
		section := r.config.ensureSection(remoteSectionName(name))
		for k, v := range options {
			section.set(k, v)
		}
		if err := writeConfigFile(r.Dir, r.config); err != nil {
			return "", err
		}
		return "", nil
	}

	dir := r.dropinDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("repo: create remotes.d %s: %w", dir, err)
	}
	cfg := newConfig()
	section := cfg.ensureSection(remoteSectionName(name))
	for k, v := range options {
		section.set(k, v)
	}
	path := filepath.Join(dir, name+".conf")
	if err := writeConfigFile(dir, cfg); err != nil {
		return "", err
	}
	// writeConfigFile always targets "<dir>/config"; drop-ins use
	// "<name>.conf", so rename into place instead of reusing it directly.
	if err := os.Rename(configPath(dir), path); err != nil {
		return "", fmt.Errorf("repo: rename drop-in into place: %w", err)
	}
	return path, nil
}

// remoteOption looks up key on remote name in r, then, on miss, in r.Parent —
// inheriting from the parent when the child has no entry of its own
// (spec.md §4.7, "each accepting a default and inheriting from the parent
// repository on miss").
func (r *Repo) remoteOption(name, key string) (string, bool) {
	r.remoteMu.Lock()
	rm, exists := r.remotes[name]
	r.remoteMu.Unlock()
	if exists {
		if rm.pseudoRemote {
			return "", false
		}
		if v, ok := rm.Options[key]; ok {
			return v, true
		}
		if r.Parent != nil {
			return r.Parent.remoteOption(name, key)
		}
		return "", false
	}
	if r.Parent != nil {
		return r.Parent.remoteOption(name, key)
	}
	return "", false
}

// RemoteGetString returns remote name's string option key, or def.
func (r *Repo) RemoteGetString(name, key, def string) string {
	if v, ok := r.remoteOption(name, key); ok {
		return v
	}
	return def
}

// RemoteGetBool returns remote name's boolean option key, or def.
func (r *Repo) RemoteGetBool(name, key string, def bool) bool {
	v, ok := r.remoteOption(name, key)
	if !ok {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// RemoteGetStringList returns remote name's comma-separated list option
// key, or def.
func (r *Repo) RemoteGetStringList(name, key string, def []string) []string {
	v, ok := r.remoteOption(name, key)
	if !ok {
		return def
	}
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

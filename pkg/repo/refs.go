package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
)

// refsRoot returns <dir>/refs.
func refsRoot(dir string) string {
	return filepath.Join(dir, "refs")
}

// ListRefs lists references under refs/<category> (e.g. "heads",
// "mirrors", "remotes"), or every category when prefix is empty. Names are
// returned relative to refs/, e.g. "heads/main", "remotes/origin/main".
func (r *Repo) ListRefs(prefix string) (map[string]checksum.Checksum, error) {
	root := refsRoot(r.Dir)
	dir := root
	if strings.TrimSpace(prefix) != "" {
		dir = filepath.Join(root, filepath.FromSlash(prefix))
	}

	refs := make(map[string]checksum.Checksum)
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		name := filepath.ToSlash(rel)
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		sum, err := checksum.Parse(strings.TrimSpace(string(data)))
		if err != nil {
			return fmt.Errorf("repo: ref %s holds invalid checksum: %w", name, err)
		}
		refs[name] = sum
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("repo: list refs: %w", err)
	}
	return refs, nil
}

// ResolveRef resolves a ref name (relative to refs/, e.g. "heads/main") to
// a commit checksum.
func (r *Repo) ResolveRef(name string) (checksum.Checksum, error) {
	path := filepath.Join(refsRoot(r.Dir), filepath.FromSlash(name))
	data, err := os.ReadFile(path)
	if err != nil {
		return checksum.Zero(), fmt.Errorf("repo: resolve ref %q: %w", name, err)
	}
	return checksum.Parse(strings.TrimSpace(string(data)))
}

// UpdateRef atomically writes sum to refs/<name>, via temp-file + rename.
func (r *Repo) UpdateRef(name string, sum checksum.Checksum) error {
	path := filepath.Join(refsRoot(r.Dir), filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("repo: mkdir for ref %q: %w", name, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".ref-tmp-*")
	if err != nil {
		return fmt.Errorf("repo: ref tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(sum.String() + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("repo: write ref %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("repo: close ref tmpfile: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("repo: rename ref %q: %w", name, err)
	}
	return nil
}

// DeleteRef removes refs/<name>.
func (r *Repo) DeleteRef(name string) error {
	path := filepath.Join(refsRoot(r.Dir), filepath.FromSlash(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repo: delete ref %q: %w", name, err)
	}
	return nil
}

package repo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
	"github.com/opentree-fs/ostree-core/pkg/repoerr"
)

func nowUnix() int64 { return time.Now().Unix() }

// HasObject reports whether (objType, sum) exists locally, then, on miss,
// in the parent chain.
func (r *Repo) HasObject(objType object.Type, sum checksum.Checksum) bool {
	path, err := r.loosePath(sum, objType)
	if err != nil {
		return false
	}
	if _, err := os.Lstat(path); err == nil {
		return true
	}
	if r.Parent != nil {
		return r.Parent.HasObject(objType, sum)
	}
	return false
}

func (r *Repo) readLoose(objType object.Type, sum checksum.Checksum) ([]byte, error) {
	path, err := r.loosePath(sum, objType)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if r.Parent != nil {
				return r.Parent.readLoose(objType, sum)
			}
			return nil, repoerr.NotFound(path, err)
		}
		return nil, fmt.Errorf("repo: read %s: %w", path, err)
	}
	return data, nil
}

// LoadCommit loads and decodes a COMMIT object.
func (r *Repo) LoadCommit(sum checksum.Checksum) (*object.Commit, error) {
	data, err := r.readLoose(object.TypeCommit, sum)
	if err != nil {
		return nil, err
	}
	return object.UnmarshalCommit(data)
}

// LoadCommitMeta loads and decodes a COMMIT_META object. Returns an empty,
// non-nil CommitMeta (not NotFound) when the commit carries no detached
// metadata yet, matching the "optional sibling file" pattern.
func (r *Repo) LoadCommitMeta(sum checksum.Checksum) (*object.CommitMeta, error) {
	data, err := r.readLoose(object.TypeCommitMeta, sum)
	if err != nil {
		if errors.Is(err, repoerr.ErrNotFound) {
			return &object.CommitMeta{Extra: map[string]string{}}, nil
		}
		return nil, err
	}
	return object.UnmarshalCommitMeta(data)
}

// LoadDirTree loads and decodes a DIR_TREE object.
func (r *Repo) LoadDirTree(sum checksum.Checksum) (*object.DirTree, error) {
	data, err := r.readLoose(object.TypeDirTree, sum)
	if err != nil {
		return nil, err
	}
	return object.UnmarshalDirTree(data)
}

// LoadDirMeta loads and decodes a DIR_META object, consulting and
// populating the dirmeta cache when one is currently reserved.
func (r *Repo) LoadDirMeta(sum checksum.Checksum) (*object.DirMeta, error) {
	if v, ok := r.lookupDirmeta(sum); ok {
		return v, nil
	}
	data, err := r.readLoose(object.TypeDirMeta, sum)
	if err != nil {
		return nil, err
	}
	dm, err := object.UnmarshalDirMeta(data)
	if err != nil {
		return nil, err
	}
	r.insertDirmeta(sum, dm)
	return dm, nil
}

// LoadMetadataStream returns the raw bytes of a metadata object (COMMIT,
// COMMIT_META, DIR_TREE, DIR_META) without decoding, for transfer.
func (r *Repo) LoadMetadataStream(objType object.Type, sum checksum.Checksum) (io.ReadCloser, int64, error) {
	data, err := r.readLoose(objType, sum)
	if err != nil {
		return nil, 0, err
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

// LoadFile returns a FILE object's content reader (empty for a symlink,
// whose target is in the returned meta), synthesized file-info, and
// xattrs, reading the real
// on-disk representation that WriteFile materialized for r.Mode (spec.md
// §4.3).
func (r *Repo) LoadFile(sum checksum.Checksum) (io.ReadCloser, object.FileMeta, error) {
	path, err := r.loosePath(sum, object.TypeFile)
	if err != nil {
		return nil, object.FileMeta{}, err
	}
	if _, err := os.Lstat(path); err != nil {
		if os.IsNotExist(err) {
			if r.Parent != nil {
				return r.Parent.LoadFile(sum)
			}
			return nil, object.FileMeta{}, repoerr.NotFound(path, err)
		}
		return nil, object.FileMeta{}, fmt.Errorf("repo: lstat %s: %w", path, err)
	}

	var meta object.FileMeta
	var content []byte
	switch r.Mode {
	case mode.Archive:
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, object.FileMeta{}, fmt.Errorf("repo: read %s: %w", path, err)
		}
		decodedMeta, stream, err := mode.DecodeArchive(raw)
		return stream, decodedMeta, err
	case mode.Bare:
		meta, content, err = mode.ReadBare(path)
	case mode.BareUser:
		meta, content, err = mode.ReadBareUser(path, r.Settings.DisableXattrs)
	case mode.BareUserOnly:
		meta, content, err = mode.ReadBareUserOnly(path)
	default:
		return nil, object.FileMeta{}, fmt.Errorf("repo: unknown storage mode %v", r.Mode)
	}
	if err != nil {
		return nil, object.FileMeta{}, err
	}
	return io.NopCloser(bytes.NewReader(content)), meta, nil
}

// LoadObjectStream returns the canonical content-stream encoding for any
// object type: raw bytes for metadata, or the mode-independent
// header+body FILE encoding (re-synthesized from the on-disk form, via
// LoadFile, in every storage mode).
func (r *Repo) LoadObjectStream(objType object.Type, sum checksum.Checksum) (io.ReadCloser, int64, error) {
	if objType != object.TypeFile {
		return r.LoadMetadataStream(objType, sum)
	}
	content, meta, err := r.LoadFile(sum)
	if err != nil {
		return nil, 0, err
	}
	defer content.Close()
	body, err := io.ReadAll(content)
	if err != nil {
		return nil, 0, fmt.Errorf("repo: read file content %s: %w", sum, err)
	}
	encoded := object.EncodeFileStream(meta, body)
	return io.NopCloser(bytes.NewReader(encoded)), int64(len(encoded)), nil
}

// QueryObjectSize returns the on-disk size of the loose object's file.
func (r *Repo) QueryObjectSize(objType object.Type, sum checksum.Checksum) (int64, error) {
	path, err := r.loosePath(sum, objType)
	if err != nil {
		return 0, err
	}
	info, err := os.Lstat(path)
	if err != nil {
		if os.IsNotExist(err) && r.Parent != nil {
			return r.Parent.QueryObjectSize(objType, sum)
		}
		return 0, fmt.Errorf("repo: stat %s: %w", path, err)
	}
	return info.Size(), nil
}

// DeleteObject unlinks (objType, sum) from objects/. Deleting a COMMIT also
// silently unlinks its COMMIT_META sibling if present, and, when
// core.tombstone-commits is set, writes a TOMBSTONE_COMMIT recording the
// deletion before removing the commit itself.
func (r *Repo) DeleteObject(objType object.Type, sum checksum.Checksum) error {
	if objType == object.TypeCommit && r.Settings.TombstoneCommits {
		if err := r.WriteTombstone(&object.TombstoneCommit{DeletedCommit: sum, DeletedAt: nowUnix()}); err != nil {
			return fmt.Errorf("repo: write tombstone for %s: %w", sum, err)
		}
	}

	path, err := r.loosePath(sum, objType)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repo: delete %s: %w", path, err)
	}

	if objType == object.TypeCommit {
		metaPath, err := r.loosePath(sum, object.TypeCommitMeta)
		if err == nil {
			_ = os.Remove(metaPath) // silently ignore if absent
		}
	}
	return nil
}

// ObjectKey identifies an object to external APIs: a (checksum, type) pair.
type ObjectKey struct {
	Sum  checksum.Checksum
	Type object.Type
}

// ObjectListEntry reports whether an object is loose, and its (currently
// always empty) pack references, reserved by the Path Layout for a future
// pack-aware store.
type ObjectListEntry struct {
	IsLoose  bool
	PackRefs []string
}

// ListObjectsOptions configures ListObjects.
type ListObjectsOptions struct {
	NoParent bool // suppress recursion into the parent chain
}

// ListObjects enumerates every loose object under objects/, keyed by
// (checksum, type), optionally unioned with the parent chain's listing.
func (r *Repo) ListObjects(opts ListObjectsOptions) (map[ObjectKey]ObjectListEntry, error) {
	out := make(map[ObjectKey]ObjectListEntry)
	for _, prefix := range EnumeratePrefixes() {
		dir := r.objectsDir() + "/" + prefix
		entries, err := os.ReadDir(dir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("repo: read %s: %w", dir, err)
		}
		for _, e := range entries {
			key, ok := parseLooseName(prefix, e.Name())
			if !ok {
				continue
			}
			out[key] = ObjectListEntry{IsLoose: true}
		}
	}

	if !opts.NoParent && r.Parent != nil {
		parentObjs, err := r.Parent.ListObjects(opts)
		if err != nil {
			return nil, err
		}
		for k, v := range parentObjs {
			if _, exists := out[k]; !exists {
				out[k] = v
			}
		}
	}
	return out, nil
}

// parseLooseName parses a fan-out shard filename ("<62-hex>.<ext>") back
// into an ObjectKey.
func parseLooseName(prefix, name string) (ObjectKey, bool) {
	dot := strings.LastIndex(name, ".")
	if dot < 0 {
		return ObjectKey{}, false
	}
	rest, ext := name[:dot], name[dot+1:]
	sum, err := checksum.Parse(prefix + rest)
	if err != nil {
		return ObjectKey{}, false
	}
	objType, ok := extToType(ext)
	if !ok {
		return ObjectKey{}, false
	}
	return ObjectKey{Sum: sum, Type: objType}, true
}

func extToType(ext string) (object.Type, bool) {
	switch ext {
	case "file", "filez":
		return object.TypeFile, true
	case "dirtree":
		return object.TypeDirTree, true
	case "dirmeta":
		return object.TypeDirMeta, true
	case "commit":
		return object.TypeCommit, true
	case "commitmeta":
		return object.TypeCommitMeta, true
	case "tombstone-commit":
		return object.TypeTombstoneCommit, true
	default:
		return "", false
	}
}

// ListCommitsWithPrefix filters ListObjects to COMMIT objects whose
// checksum begins with prefix, for short-hash resolution.
func (r *Repo) ListCommitsWithPrefix(prefix string) ([]checksum.Checksum, error) {
	objs, err := r.ListObjects(ListObjectsOptions{})
	if err != nil {
		return nil, err
	}
	var out []checksum.Checksum
	for key := range objs {
		if key.Type == object.TypeCommit && key.Sum.Prefix(prefix) {
			out = append(out, key.Sum)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out, nil
}

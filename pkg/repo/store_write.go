package repo

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
	"github.com/opentree-fs/ostree-core/pkg/repoerr"
	"golang.org/x/sys/unix"
)

// checkMinFreeSpace rejects writes once the filesystem backing objects/
// falls below core.min-free-space-percent free (spec.md §4.8), using
// unix.Statfs directly since the standard library exposes no statfs.
func (r *Repo) checkMinFreeSpace() error {
	var st unix.Statfs_t
	if err := unix.Statfs(r.objectsDir(), &st); err != nil {
		return fmt.Errorf("repo: statfs %s: %w", r.objectsDir(), err)
	}
	if st.Blocks == 0 {
		return nil
	}
	freePercent := float64(st.Bavail) * 100 / float64(st.Blocks)
	if freePercent < float64(r.Settings.MinFreeSpacePercent) {
		return repoerr.New(repoerr.KindWritable, r.objectsDir(),
			fmt.Errorf("only %.1f%% free, below core.min-free-space-percent=%d", freePercent, r.Settings.MinFreeSpacePercent))
	}
	return nil
}

// WriteDirMeta hashes and stores a DIR_META object, returning its checksum.
func (r *Repo) WriteDirMeta(dm *object.DirMeta) (checksum.Checksum, error) {
	data := object.MarshalDirMeta(dm)
	sum := object.HashMetadata(data)
	if err := r.writeLooseTrusted(object.TypeDirMeta, sum, data); err != nil {
		return checksum.Zero(), err
	}
	return sum, nil
}

// WriteDirTree hashes and stores a DIR_TREE object, returning its checksum.
func (r *Repo) WriteDirTree(dt *object.DirTree) (checksum.Checksum, error) {
	data := object.MarshalDirTree(dt)
	sum := object.HashMetadata(data)
	if err := r.writeLooseTrusted(object.TypeDirTree, sum, data); err != nil {
		return checksum.Zero(), err
	}
	return sum, nil
}

// WriteCommit hashes and stores a COMMIT object, returning its checksum.
func (r *Repo) WriteCommit(c *object.Commit) (checksum.Checksum, error) {
	data := object.MarshalCommit(c)
	sum := object.HashMetadata(data)
	if err := r.writeLooseTrusted(object.TypeCommit, sum, data); err != nil {
		return checksum.Zero(), err
	}
	return sum, nil
}

// WriteCommitMeta stores the detached COMMIT_META sibling of the commit
// named commitSum (same checksum, different extension).
func (r *Repo) WriteCommitMeta(commitSum checksum.Checksum, cm *object.CommitMeta) error {
	data := object.MarshalCommitMeta(cm)
	return r.writeLooseTrusted(object.TypeCommitMeta, commitSum, data)
}

// WriteFile materializes meta+content on disk per the repository's storage
// mode (spec.md §3/§4.3: BARE as a real file with real uid/gid/mode/xattrs,
// BARE_USER as a regular file with that tuple folded into the
// user.ostreemeta xattr, BARE_USER_ONLY as a real file/symlink preserving
// only the mode bits, ARCHIVE as a compressed framed blob) and returns its
// checksum. The checksum is always computed over the mode-independent
// canonical stream (object.HashFileStream), so the same logical file hashes
// identically across storage modes (spec.md §3's content-addressing
// invariant) even though its on-disk representation differs by mode.
func (r *Repo) WriteFile(meta object.FileMeta, content []byte) (checksum.Checksum, error) {
	sum := object.HashFileStream(meta, content)
	if err := r.writeLooseFile(sum, meta, content); err != nil {
		return checksum.Zero(), err
	}
	return sum, nil
}

// WriteTombstone stores a TOMBSTONE_COMMIT object named by the deleted
// commit's checksum.
func (r *Repo) WriteTombstone(t *object.TombstoneCommit) error {
	data := object.MarshalTombstoneCommit(t)
	return r.writeLooseTrusted(object.TypeTombstoneCommit, t.DeletedCommit, data)
}

// writeLooseFile stages and commits a FILE object's real on-disk form,
// mirroring writeLooseTrusted's atomicity discipline (min-free-space check,
// writability check, already-present short circuit, staging dir, pre-commit
// fault injection, rename) but materializing via materializeFile instead of
// a single flat write, since BARE and BARE_USER_ONLY need os.Symlink rather
// than file content for a symlink entry.
func (r *Repo) writeLooseFile(sum checksum.Checksum, meta object.FileMeta, content []byte) error {
	if err := r.checkMinFreeSpace(); err != nil {
		return err
	}
	if err := r.requireWritable(); err != nil {
		return err
	}

	finalPath, err := r.loosePath(sum, object.TypeFile)
	if err != nil {
		return err
	}
	if _, err := os.Lstat(finalPath); err == nil {
		return nil // already present; writing the same content twice is a no-op
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("repo: mkdir %s: %w", filepath.Dir(finalPath), err)
	}

	staging, _, err := r.AllocateStaging()
	if err != nil {
		return err
	}
	defer staging.Close()

	tmpPath := filepath.Join(staging.Path, sum.String()+".tmp")
	if err := r.materializeFile(tmpPath, meta, content); err != nil {
		return err
	}

	if testErrorPreCommit() {
		return fmt.Errorf("repo: OSTREE_REPO_TEST_ERROR=pre-commit fault injection")
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("repo: rename %s -> %s: %w", tmpPath, finalPath, err)
	}
	return nil
}

// materializeFile writes a FILE object's real on-disk representation at
// path per r.Mode.
func (r *Repo) materializeFile(path string, meta object.FileMeta, content []byte) error {
	switch r.Mode {
	case mode.Bare:
		if err := mode.WriteBare(path, meta, content); err != nil {
			return err
		}
	case mode.BareUser:
		if err := mode.WriteBareUser(path, meta, content); err != nil {
			return err
		}
	case mode.BareUserOnly:
		if err := mode.WriteBareUserOnly(path, meta, content); err != nil {
			return err
		}
	case mode.Archive:
		data, err := mode.EncodeArchive(meta, content, r.Settings.ZlibLevel)
		if err != nil {
			return err
		}
		return writeFileAtomicStaged(path, data, r.Settings.Fsync)
	default:
		return fmt.Errorf("repo: unknown storage mode %v", r.Mode)
	}
	if r.Settings.Fsync {
		return fsyncFileObject(path)
	}
	return nil
}

// fsyncFileObject fsyncs path (skipped for a symlink, which has no
// fsyncable data of its own) and its parent directory, so the new dirent
// survives a crash once writeLooseFile's rename commits it.
func fsyncFileObject(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return fmt.Errorf("repo: lstat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		f, err := os.OpenFile(path, os.O_RDONLY, 0)
		if err != nil {
			return fmt.Errorf("repo: open %s for fsync: %w", path, err)
		}
		syncErr := f.Sync()
		closeErr := f.Close()
		if syncErr != nil {
			return fmt.Errorf("repo: fsync %s: %w", path, syncErr)
		}
		if closeErr != nil {
			return fmt.Errorf("repo: close %s: %w", path, closeErr)
		}
	}
	dir, err := os.Open(filepath.Dir(path))
	if err != nil {
		return fmt.Errorf("repo: open %s for fsync: %w", filepath.Dir(path), err)
	}
	syncErr := dir.Sync()
	closeErr := dir.Close()
	if syncErr != nil {
		return fmt.Errorf("repo: fsync %s: %w", filepath.Dir(path), syncErr)
	}
	return closeErr
}

// writeLooseTrusted writes data to the loose path for (objType, sum),
// trusting the caller's sum (no recomputation), via staging-write + rename
// for whole-file atomicity. Used by every local metadata write (FILE
// objects go through writeLooseFile); cross-repo import's non-trusted
// metadata path goes through writeLooseValidating first. An existing
// object is left in place, except COMMIT_META, which is named by its
// commit's checksum rather than its own bytes and so is replaced.
func (r *Repo) writeLooseTrusted(objType object.Type, sum checksum.Checksum, data []byte) error {
	if err := r.checkMinFreeSpace(); err != nil {
		return err
	}
	if err := r.requireWritable(); err != nil {
		return err
	}

	finalPath, err := r.loosePath(sum, objType)
	if err != nil {
		return err
	}
	if objType != object.TypeCommitMeta {
		if _, err := os.Stat(finalPath); err == nil {
			return nil // already present; writing the same content twice is a no-op
		}
	}

	if err := os.MkdirAll(filepath.Dir(finalPath), 0o755); err != nil {
		return fmt.Errorf("repo: mkdir %s: %w", filepath.Dir(finalPath), err)
	}

	staging, _, err := r.AllocateStaging()
	if err != nil {
		return err
	}
	defer staging.Close()

	tmpPath := filepath.Join(staging.Path, sum.String()+".tmp")
	if err := writeFileAtomicStaged(tmpPath, data, r.Settings.Fsync); err != nil {
		return err
	}

	if testErrorPreCommit() {
		return fmt.Errorf("repo: OSTREE_REPO_TEST_ERROR=pre-commit fault injection")
	}

	if err := os.Rename(tmpPath, finalPath); err != nil {
		return fmt.Errorf("repo: rename %s -> %s: %w", tmpPath, finalPath, err)
	}
	return nil
}

// writeLooseValidating is the non-trusted write path used by cross-repo
// import when the source is not fully trusted: it recomputes the checksum
// of metadata objects over the raw bytes and rejects on mismatch. FILE
// objects never come here (copyObject checks their stream hash itself), and
// COMMIT_META is written unchecked, since it is named by its commit's
// checksum rather than a hash of its own bytes.
func (r *Repo) writeLooseValidating(objType object.Type, wantSum checksum.Checksum, data []byte) error {
	if objType != object.TypeCommitMeta {
		gotSum := object.HashMetadata(data)
		if gotSum != wantSum {
			path, _ := r.loosePath(wantSum, objType)
			return repoerr.ChecksumMismatch(path, wantSum.String(), gotSum.String())
		}
	}
	return r.writeLooseTrusted(objType, wantSum, data)
}

// writeFileAtomicStaged writes data to path (inside a staging dir, so the
// final rename is same-filesystem) and fsyncs before returning unless fsync
// is false, matching the fsync discipline in spec.md §5.
func writeFileAtomicStaged(path string, data []byte, fsync bool) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("repo: create %s: %w", path, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return fmt.Errorf("repo: write %s: %w", path, err)
	}
	if fsync {
		if err := f.Sync(); err != nil {
			f.Close()
			os.Remove(path)
			return fmt.Errorf("repo: fsync %s: %w", path, err)
		}
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return fmt.Errorf("repo: close %s: %w", path, err)
	}
	return nil
}

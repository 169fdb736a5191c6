package repo

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

// ImportObject implements the Cross-Repo Import algorithm (spec.md §4.6):
// attempt a hardlink when trusted and preconditions hold, else fall back to
// a streaming copy that validates the checksum when untrusted.
func (dest *Repo) ImportObject(source *Repo, objType object.Type, sum checksum.Checksum, trusted bool) error {
	if trusted && hardlinkPreconditions(dest, source, objType, sum) {
		err := dest.hardlinkFrom(source, objType, sum)
		if err == nil {
			if objType == object.TypeCommit {
				return dest.importCommitMeta(source, sum, trusted)
			}
			return nil
		}
		if !isFallbackToCopyError(err) {
			return err
		}
		// EEXIST, EMLINK, EXDEV, EPERM: fall through to the copy path.
	}

	if dest.HasObject(objType, sum) {
		return nil
	}

	if err := dest.copyObject(source, objType, sum, trusted); err != nil {
		return err
	}
	if objType == object.TypeCommit {
		return dest.importCommitMeta(source, sum, trusted)
	}
	return nil
}

func (dest *Repo) importCommitMeta(source *Repo, commitSum checksum.Checksum, trusted bool) error {
	if !source.HasObject(object.TypeCommitMeta, commitSum) {
		return nil
	}
	return dest.ImportObject(source, object.TypeCommitMeta, commitSum, trusted)
}

// hardlinkPreconditions implements spec.md §4.6's precondition list:
// matching owner uid, and either matching storage modes, a metadata object
// (identical encoding across modes), or a BARE_USER -> BARE_USER_ONLY
// conversion of a FILE object that is not a symlink.
func hardlinkPreconditions(dest, source *Repo, objType object.Type, sum checksum.Checksum) bool {
	if !sameOwner(dest.Dir, source.Dir) {
		return false
	}
	if objType != object.TypeFile {
		return true // metadata objects are byte-identical across modes
	}
	if dest.Mode == source.Mode {
		return true
	}
	if source.Mode == mode.BareUser && dest.Mode == mode.BareUserOnly {
		isLink, err := fileObjectIsSymlink(source, sum)
		return err == nil && !isLink
	}
	return false
}

func fileObjectIsSymlink(r *Repo, sum checksum.Checksum) (bool, error) {
	_, meta, err := r.LoadFile(sum)
	if err != nil {
		return false, err
	}
	return meta.IsLink, nil
}

func sameOwner(a, b string) bool {
	infoA, errA := os.Stat(a)
	infoB, errB := os.Stat(b)
	if errA != nil || errB != nil {
		return false
	}
	stA, okA := infoA.Sys().(*syscall.Stat_t)
	stB, okB := infoB.Sys().(*syscall.Stat_t)
	if !okA || !okB {
		return false
	}
	return stA.Uid == stB.Uid
}

// hardlinkFrom links source's loose object for (objType, sum) directly into
// dest's objects/ tree at the same relative path.
func (dest *Repo) hardlinkFrom(source *Repo, objType object.Type, sum checksum.Checksum) error {
	srcPath, err := source.loosePath(sum, objType)
	if err != nil {
		return err
	}
	dstPath, err := dest.loosePath(sum, objType)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return fmt.Errorf("repo: mkdir %s: %w", filepath.Dir(dstPath), err)
	}
	return os.Link(srcPath, dstPath)
}

// isFallbackToCopyError reports whether err from a hardlink attempt should
// fall back to streaming copy (EEXIST/EMLINK/EXDEV/EPERM) rather than fail
// the whole import.
func isFallbackToCopyError(err error) bool {
	return errors.Is(err, os.ErrExist) ||
		errors.Is(err, syscall.EEXIST) ||
		errors.Is(err, syscall.EMLINK) ||
		errors.Is(err, syscall.EXDEV) ||
		errors.Is(err, syscall.EPERM)
}

// copyObject streams (objType, sum) from source into dest: metadata is
// loaded as a structured value and re-written; FILE objects are loaded with
// LoadFile and, when untrusted, their FILE stream hash is recomputed with
// object.HashFileStream and compared to sum before WriteFile.
func (dest *Repo) copyObject(source *Repo, objType object.Type, sum checksum.Checksum, trusted bool) error {
	if objType == object.TypeFile {
		stream, meta, err := source.LoadFile(sum)
		if err != nil {
			return err
		}
		defer stream.Close()
		content, err := io.ReadAll(stream)
		if err != nil {
			return fmt.Errorf("repo: read source file content %s: %w", sum, err)
		}
		if trusted {
			got, err := dest.WriteFile(meta, content)
			if err != nil {
				return err
			}
			_ = got // WriteFile always computes its own checksum; nothing to compare
			return nil
		}
		gotSum := object.HashFileStream(meta, content)
		if gotSum != sum {
			return fmt.Errorf("repo: import %s: recomputed checksum %s does not match", sum, gotSum)
		}
		_, err = dest.WriteFile(meta, content)
		return err
	}

	data, _, err := source.LoadMetadataStream(objType, sum)
	if err != nil {
		return err
	}
	defer data.Close()
	raw, err := io.ReadAll(data)
	if err != nil {
		return fmt.Errorf("repo: read source metadata %s: %w", sum, err)
	}
	if trusted {
		return dest.writeLooseTrusted(objType, sum, raw)
	}
	return dest.writeLooseValidating(objType, sum, raw)
}

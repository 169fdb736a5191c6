package mode

import (
	"fmt"
	"os"
	"syscall"

	"github.com/opentree-fs/ostree-core/pkg/object"
	"golang.org/x/sys/unix"
)

// WriteBare materializes a FILE object as a real file on disk: a real
// symlink for a symlink entry, otherwise the raw content chmod'd and
// chowned to the original owner, with the original xattr set replayed.
// Requires CAP_CHOWN (or matching euid) to preserve a foreign uid/gid;
// callers running unprivileged should expect Lchown to fail for anything
// they don't already own.
func WriteBare(path string, meta object.FileMeta, content []byte) error {
	if meta.IsLink {
		if err := os.Symlink(meta.LinkTo, path); err != nil {
			return fmt.Errorf("mode: symlink %s -> %s: %w", path, meta.LinkTo, err)
		}
	} else {
		if err := os.WriteFile(path, content, 0o644); err != nil {
			return fmt.Errorf("mode: write %s: %w", path, err)
		}
		if err := os.Chmod(path, os.FileMode(meta.Mode&0o7777)); err != nil {
			return fmt.Errorf("mode: chmod %s: %w", path, err)
		}
	}
	if err := unix.Lchown(path, int(meta.UID), int(meta.GID)); err != nil {
		return fmt.Errorf("mode: chown %s to %d:%d: %w", path, meta.UID, meta.GID, err)
	}
	if err := WriteXattrs(path, meta.Xattrs); err != nil {
		return err
	}
	return nil
}

// ReadBare reads a BARE-mode loose file back from its real on-disk form:
// a real symlink (nil content, target in LinkTo) or a real regular file
// with its actual xattrs, uid, and gid.
func ReadBare(path string) (object.FileMeta, []byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return object.FileMeta{}, nil, fmt.Errorf("mode: lstat %s: %w", path, err)
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return object.FileMeta{}, nil, fmt.Errorf("mode: %s: no syscall.Stat_t available", path)
	}
	meta := object.FileMeta{UID: st.Uid, GID: st.Gid, Mode: uint32(info.Mode().Perm())}

	xattrs, err := ReadXattrs(path)
	if err != nil {
		return object.FileMeta{}, nil, err
	}
	meta.Xattrs = xattrs

	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return object.FileMeta{}, nil, fmt.Errorf("mode: readlink %s: %w", path, err)
		}
		meta.IsLink = true
		meta.LinkTo = target
		return meta, nil, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return object.FileMeta{}, nil, fmt.Errorf("mode: read %s: %w", path, err)
	}
	return meta, content, nil
}

// WriteBareUser materializes a FILE object as a regular file owned by the
// current user: the original uid/gid/mode/xattrs (and, for a symlink, the
// IsLink/LinkTo fact itself, folded into the stored mode's S_IFMT bits) are
// preserved in the user.ostreemeta xattr rather than as real filesystem
// attributes.
func WriteBareUser(path string, meta object.FileMeta, content []byte) error {
	body := content
	if meta.IsLink {
		body = []byte(meta.LinkTo)
	}
	if err := os.WriteFile(path, body, 0o644); err != nil {
		return fmt.Errorf("mode: write %s: %w", path, err)
	}

	stored := meta
	stored.Mode = meta.Mode & 0o7777
	if meta.IsLink {
		stored.Mode |= unix.S_IFLNK
	} else {
		stored.Mode |= unix.S_IFREG
		if err := os.Chmod(path, os.FileMode(meta.Mode&0o777)); err != nil {
			return fmt.Errorf("mode: chmod %s: %w", path, err)
		}
	}
	if err := unix.Lsetxattr(path, OstreeMetaXattr, EncodeOstreeMeta(stored), 0); err != nil {
		return fmt.Errorf("mode: setxattr %s on %s: %w", OstreeMetaXattr, path, err)
	}
	return nil
}

// ReadBareUser reads a BARE_USER loose file back, reconstructing the
// original uid/gid/mode/xattrs and the IsLink/LinkTo fact from the
// user.ostreemeta xattr. When disableXattrs is set (core.disable-xattrs),
// the xattr list is dropped from the result but uid/gid/mode/IsLink are
// still reconstructed, since those ride inside the same xattr's fixed
// header rather than its variable xattr-list tail.
func ReadBareUser(path string, disableXattrs bool) (object.FileMeta, []byte, error) {
	raw, err := getXattr(path, OstreeMetaXattr)
	if err != nil {
		return object.FileMeta{}, nil, err
	}
	uid, gid, storedMode, xattrs, err := DecodeOstreeMeta(raw)
	if err != nil {
		return object.FileMeta{}, nil, err
	}

	meta := object.FileMeta{UID: uid, GID: gid, Mode: storedMode & 0o7777}
	if !disableXattrs {
		meta.Xattrs = xattrs
	}

	body, err := os.ReadFile(path)
	if err != nil {
		return object.FileMeta{}, nil, fmt.Errorf("mode: read %s: %w", path, err)
	}
	if storedMode&unix.S_IFMT == unix.S_IFLNK {
		meta.IsLink = true
		meta.LinkTo = string(body)
		return meta, nil, nil
	}
	return meta, body, nil
}

// WriteBareUserOnly materializes a FILE object structurally like WriteBare
// (real symlinks, chmod'd regular files) but never chowns and never writes
// an xattr: BARE_USER_ONLY preserves no ownership or xattr information at
// all, so there is nothing to record beyond the symlink-vs-regular-file
// fact the filesystem already carries for free.
func WriteBareUserOnly(path string, meta object.FileMeta, content []byte) error {
	if meta.IsLink {
		if err := os.Symlink(meta.LinkTo, path); err != nil {
			return fmt.Errorf("mode: symlink %s -> %s: %w", path, meta.LinkTo, err)
		}
		return nil
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return fmt.Errorf("mode: write %s: %w", path, err)
	}
	if err := os.Chmod(path, os.FileMode(meta.Mode&0o777)); err != nil {
		return fmt.Errorf("mode: chmod %s: %w", path, err)
	}
	return nil
}

// ReadBareUserOnly reads a BARE_USER_ONLY loose file back. uid/gid are
// always reported as 0 and Xattrs is always empty, matching the mode's
// documented "preserves nothing but mode" contract.
func ReadBareUserOnly(path string) (object.FileMeta, []byte, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return object.FileMeta{}, nil, fmt.Errorf("mode: lstat %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		target, err := os.Readlink(path)
		if err != nil {
			return object.FileMeta{}, nil, fmt.Errorf("mode: readlink %s: %w", path, err)
		}
		return object.FileMeta{Mode: uint32(info.Mode().Perm()), IsLink: true, LinkTo: target}, nil, nil
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return object.FileMeta{}, nil, fmt.Errorf("mode: read %s: %w", path, err)
	}
	return object.FileMeta{Mode: uint32(info.Mode().Perm())}, content, nil
}

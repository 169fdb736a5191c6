// Package mode implements the per-storage-mode encoding of FILE object
// content and metadata: the tagged-variant dispatch described by the
// "Polymorphic storage modes" design note — a small set of functions keyed
// on the mode tag, never a dynamic interface lookup.
package mode

import "fmt"

// Mode is the storage mode a repository is created with. It is chosen once
// at repo-create time, recorded in config, and immutable thereafter.
type Mode int

const (
	// Bare stores files as real files with original uid/gid/mode/xattrs.
	Bare Mode = iota
	// BareUser stores files as regular files owned by the current user;
	// original uid/gid/mode/xattrs are preserved in the user.ostreemeta
	// xattr. Symlinks are represented as regular files with the link
	// target as content, using the same xattr encoding.
	BareUser
	// BareUserOnly is like Bare (real files, real symlinks on disk) but does
	// not preserve uid/gid/xattrs at all: loaded file-info is always
	// uid=0/gid=0 with an empty xattr set, and the stored file is never
	// chowned.
	BareUserOnly
	// Archive stores FILE objects as zlib-compressed framed blobs carrying
	// a header with metadata inline, suitable for serving over plain HTTP.
	Archive
)

// String returns the config-file spelling of m.
func (m Mode) String() string {
	switch m {
	case Bare:
		return "bare"
	case BareUser:
		return "bare-user"
	case BareUserOnly:
		return "bare-user-only"
	case Archive:
		return "archive-z2"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Parse maps a config-file mode string to a Mode. The obsolete spelling
// "archive" is rejected with a dedicated error so callers can surface the
// "migrate to archive-z2" guidance required by the config loader.
func Parse(s string) (Mode, error) {
	switch s {
	case "bare":
		return Bare, nil
	case "bare-user":
		return BareUser, nil
	case "bare-user-only":
		return BareUserOnly, nil
	case "archive-z2", "archive":
		if s == "archive" {
			return 0, ErrObsoleteArchiveMode
		}
		return Archive, nil
	default:
		return 0, fmt.Errorf("mode: unknown storage mode %q", s)
	}
}

// ErrObsoleteArchiveMode is returned by Parse for the obsolete spelling
// "archive" (pre-z2), which the config loader must treat as a hard error
// instructing migration to "archive-z2".
var ErrObsoleteArchiveMode = fmt.Errorf("mode: %q is obsolete, migrate to %q", "archive", "archive-z2")

// FileExt returns the loose-object file extension for a FILE object stored
// under m: "filez" for Archive, "file" for every BARE variant.
func (m Mode) FileExt() string {
	if m == Archive {
		return "filez"
	}
	return "file"
}

// PreservesOwnership reports whether m preserves the original uid/gid/mode
// on FILE objects as directly readable filesystem attributes (Bare), via
// the dedicated xattr (BareUser), or in the .filez header (Archive).
// BareUserOnly does not.
func (m Mode) PreservesOwnership() bool {
	return m == Bare || m == BareUser || m == Archive
}

// SymlinksAsRegularFiles reports whether m stores a symlink's target as the
// content of a regular file rather than as a real symlink on disk. Only
// BareUser does this: it has nowhere else to keep the "this was a symlink"
// fact except inside the xattr it already writes. Bare and BareUserOnly both
// write real symlinks.
func (m Mode) SymlinksAsRegularFiles() bool {
	return m == BareUser
}

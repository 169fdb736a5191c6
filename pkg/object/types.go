package object

import "github.com/opentree-fs/ostree-core/pkg/checksum"

// Type identifies the kind of object stored under objects/.
type Type string

const (
	TypeFile            Type = "file"
	TypeDirTree         Type = "dirtree"
	TypeDirMeta         Type = "dirmeta"
	TypeCommit          Type = "commit"
	TypeCommitMeta      Type = "commitmeta"
	TypeTombstoneCommit Type = "tombstone-commit"
)

// MetaExt returns the loose-object file extension for metadata types. FILE
// objects have a mode-dependent extension handled by pkg/mode, not here.
func (t Type) MetaExt() string {
	switch t {
	case TypeDirTree:
		return "dirtree"
	case TypeDirMeta:
		return "dirmeta"
	case TypeCommit:
		return "commit"
	case TypeCommitMeta:
		return "commitmeta"
	case TypeTombstoneCommit:
		return "tombstone-commit"
	default:
		return string(t)
	}
}

// Xattr is a single extended attribute name/value pair.
type Xattr struct {
	Name  string
	Value []byte
}

// FileMeta carries the filesystem metadata that travels alongside FILE
// object content: ownership, mode, and extended attributes. For a symlink,
// IsLink is true, LinkTo holds the target, and the "content" in the loose
// file is the target string rather than file data.
type FileMeta struct {
	UID    uint32
	GID    uint32
	Mode   uint32
	Xattrs []Xattr
	IsLink bool
	LinkTo string
}

// DirTreeEntry is one child of a directory listing: either a file leaf
// (named by its content checksum) or a subdirectory (named by the pair of
// checksums for its own DIR_TREE listing and DIR_META).
type DirTreeEntry struct {
	Name       string
	IsDir      bool
	FileSum    checksum.Checksum // valid when !IsDir
	TreeSum    checksum.Checksum // valid when IsDir: child DIR_TREE
	DirMetaSum checksum.Checksum // valid when IsDir: child DIR_META
}

// DirTree is a directory listing: name -> child object mapping. Entries are
// always stored and emitted sorted by Name.
type DirTree struct {
	Entries []DirTreeEntry
}

// DirMeta is a directory's ownership, mode, and extended attributes.
type DirMeta struct {
	UID    uint32
	GID    uint32
	Mode   uint32
	Xattrs []Xattr
}

// Commit is the root pointer, parent link, human-readable fields, and
// metadata dictionary for one snapshot.
type Commit struct {
	RootTree  checksum.Checksum // DIR_TREE of the snapshot root
	RootMeta  checksum.Checksum // DIR_META of the snapshot root
	Parent    checksum.Checksum // zero value if no parent
	Subject   string
	Body      string
	Timestamp int64 // unix seconds, UTC
	Metadata  map[string]string
}

// HasParent reports whether c has a non-zero parent commit.
func (c *Commit) HasParent() bool {
	return !c.Parent.Zero()
}

// CommitMeta is detached metadata/signatures for a commit, stored as a
// sibling object under the same checksum but with the commitmeta extension.
type CommitMeta struct {
	// GpgSigs holds opaque OpenPGP signature packets, one per signer, under
	// the conventional key "ostree.gpgsigs".
	GpgSigs [][]byte
	// Extra holds any other detached metadata key/value pairs.
	Extra map[string]string
}

// TombstoneCommit records the prior existence of a deleted commit.
type TombstoneCommit struct {
	DeletedCommit checksum.Checksum
	DeletedAt     int64 // unix seconds, UTC
}

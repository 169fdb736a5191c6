package repo

import (
	"fmt"
	"path/filepath"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

// objectExt returns the loose-object file extension for (objType, m).
func objectExt(objType object.Type, m mode.Mode) (string, error) {
	switch objType {
	case object.TypeFile:
		return m.FileExt(), nil
	case object.TypeDirTree:
		return "dirtree", nil
	case object.TypeDirMeta:
		return "dirmeta", nil
	case object.TypeCommit:
		return "commit", nil
	case object.TypeCommitMeta:
		return "commitmeta", nil
	case object.TypeTombstoneCommit:
		return "tombstone-commit", nil
	default:
		return "", fmt.Errorf("repo: unknown object type %q", objType)
	}
}

// LoosePath returns the on-disk path for an object relative to objectsDir:
// objects/<first 2 hex chars>/<remaining 62 hex chars>.<ext>.
func LoosePath(objectsDir string, sum checksum.Checksum, objType object.Type, m mode.Mode) (string, error) {
	ext, err := objectExt(objType, m)
	if err != nil {
		return "", err
	}
	return filepath.Join(objectsDir, sum.FanoutDir(), sum.FanoutRest()+"."+ext), nil
}

// objectsDir returns r's objects/ directory.
func (r *Repo) objectsDir() string {
	return filepath.Join(r.Dir, "objects")
}

func (r *Repo) loosePath(sum checksum.Checksum, objType object.Type) (string, error) {
	return LoosePath(r.objectsDir(), sum, objType, r.Mode)
}

// EnumeratePrefixes returns the 256 two-hex-digit fan-out directory names,
// in ascending order, for callers that need to walk objects/ a shard at a
// time.
func EnumeratePrefixes() []string {
	return checksum.AllPrefixes()
}

package object

import "github.com/opentree-fs/ostree-core/pkg/checksum"

// HashMetadata computes the checksum of a metadata object (DIR_TREE,
// DIR_META, COMMIT, COMMIT_META) from its canonical marshaled bytes. Two
// logically equal values always marshal to the same bytes, so this always
// yields the same checksum for the same logical input.
func HashMetadata(data []byte) checksum.Checksum {
	return checksum.Sum(data)
}

// HashFileStream computes the checksum of a FILE object from its canonical
// content-stream encoding: the fixed-format metadata header written by
// EncodeFileStream, followed by the raw content (or, for a symlink, the
// link target in place of content). Because the header is included, the
// content-addressing invariant holds regardless of storage mode: loading a
// file back in any mode and re-synthesizing this stream reproduces the
// original checksum.
func HashFileStream(meta FileMeta, content []byte) checksum.Checksum {
	return checksum.Sum(EncodeFileStream(meta, content))
}

package mode

import (
	"encoding/binary"
	"fmt"

	"github.com/opentree-fs/ostree-core/pkg/object"
	"golang.org/x/sys/unix"
)

// OstreeMetaXattr is the name of the dedicated extended attribute BARE_USER
// uses to preserve uid/gid/mode/xattrs for a FILE object that is itself
// owned by the current user on disk.
const OstreeMetaXattr = "user.ostreemeta"

// EncodeOstreeMeta serializes (uid, gid, mode, xattr-list) into the
// big-endian tuple stored under OstreeMetaXattr:
//
//	u32 uid | u32 gid | u32 mode | u32 xattr-count
//	repeated: u32 name-len | name bytes | u32 value-len | value bytes
func EncodeOstreeMeta(meta object.FileMeta) []byte {
	buf := make([]byte, 16)
	binary.BigEndian.PutUint32(buf[0:4], meta.UID)
	binary.BigEndian.PutUint32(buf[4:8], meta.GID)
	binary.BigEndian.PutUint32(buf[8:12], meta.Mode)
	binary.BigEndian.PutUint32(buf[12:16], uint32(len(meta.Xattrs)))
	for _, x := range meta.Xattrs {
		var entry [4]byte
		binary.BigEndian.PutUint32(entry[:], uint32(len(x.Name)))
		buf = append(buf, entry[:]...)
		buf = append(buf, x.Name...)
		binary.BigEndian.PutUint32(entry[:], uint32(len(x.Value)))
		buf = append(buf, entry[:]...)
		buf = append(buf, x.Value...)
	}
	return buf
}

// DecodeOstreeMeta parses the encoding produced by EncodeOstreeMeta.
func DecodeOstreeMeta(data []byte) (uid, gid, modeBits uint32, xattrs []object.Xattr, err error) {
	if len(data) < 16 {
		return 0, 0, 0, nil, fmt.Errorf("mode: %s too short (%d bytes)", OstreeMetaXattr, len(data))
	}
	uid = binary.BigEndian.Uint32(data[0:4])
	gid = binary.BigEndian.Uint32(data[4:8])
	modeBits = binary.BigEndian.Uint32(data[8:12])
	count := binary.BigEndian.Uint32(data[12:16])

	rest := data[16:]
	for i := uint32(0); i < count; i++ {
		if len(rest) < 4 {
			return 0, 0, 0, nil, fmt.Errorf("mode: truncated %s at xattr %d", OstreeMetaXattr, i)
		}
		nameLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < nameLen {
			return 0, 0, 0, nil, fmt.Errorf("mode: truncated %s name at xattr %d", OstreeMetaXattr, i)
		}
		name := string(rest[:nameLen])
		rest = rest[nameLen:]

		if len(rest) < 4 {
			return 0, 0, 0, nil, fmt.Errorf("mode: truncated %s value length at xattr %d", OstreeMetaXattr, i)
		}
		valueLen := binary.BigEndian.Uint32(rest[:4])
		rest = rest[4:]
		if uint32(len(rest)) < valueLen {
			return 0, 0, 0, nil, fmt.Errorf("mode: truncated %s value at xattr %d", OstreeMetaXattr, i)
		}
		value := make([]byte, valueLen)
		copy(value, rest[:valueLen])
		rest = rest[valueLen:]

		xattrs = append(xattrs, object.Xattr{Name: name, Value: value})
	}
	return uid, gid, modeBits, xattrs, nil
}

// ReadXattrs returns every extended attribute on path, using
// golang.org/x/sys/unix directly since the standard library has no xattr
// support. Returns an empty (not nil) slice when path carries none.
func ReadXattrs(path string) ([]object.Xattr, error) {
	names, err := listXattrNames(path)
	if err != nil {
		return nil, err
	}
	out := make([]object.Xattr, 0, len(names))
	for _, name := range names {
		value, err := getXattr(path, name)
		if err != nil {
			return nil, err
		}
		out = append(out, object.Xattr{Name: name, Value: value})
	}
	return out, nil
}

// WriteXattrs sets every attribute in xattrs on path, skipping none and
// failing on the first error.
func WriteXattrs(path string, xattrs []object.Xattr) error {
	for _, x := range xattrs {
		if err := unix.Lsetxattr(path, x.Name, x.Value, 0); err != nil {
			return fmt.Errorf("mode: setxattr %s on %s: %w", x.Name, path, err)
		}
	}
	return nil
}

func listXattrNames(path string) ([]string, error) {
	size, err := unix.Llistxattr(path, nil)
	if err != nil {
		return nil, fmt.Errorf("mode: listxattr %s: %w", path, err)
	}
	if size == 0 {
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := unix.Llistxattr(path, buf)
	if err != nil {
		return nil, fmt.Errorf("mode: listxattr %s: %w", path, err)
	}
	var names []string
	for _, raw := range splitNulTerminated(buf[:n]) {
		names = append(names, raw)
	}
	return names, nil
}

func getXattr(path, name string) ([]byte, error) {
	size, err := unix.Lgetxattr(path, name, nil)
	if err != nil {
		return nil, fmt.Errorf("mode: getxattr %s on %s: %w", name, path, err)
	}
	if size == 0 {
		return []byte{}, nil
	}
	buf := make([]byte, size)
	n, err := unix.Lgetxattr(path, name, buf)
	if err != nil {
		return nil, fmt.Errorf("mode: getxattr %s on %s: %w", name, path, err)
	}
	return buf[:n], nil
}

func splitNulTerminated(buf []byte) []string {
	var out []string
	start := 0
	for i, b := range buf {
		if b == 0 {
			if i > start {
				out = append(out, string(buf[start:i]))
			}
			start = i + 1
		}
	}
	return out
}

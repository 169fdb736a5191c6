package mode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/adler32"
	"io"

	"github.com/klauspost/compress/flate"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

// archiveMagic identifies a .filez loose object.
var archiveMagic = [4]byte{'O', 'Z', 'F', '1'}

// zlib RFC1950 header bytes for the default compression hint. The FLEVEL
// bits are informational only; decoders only validate the 5-bit FCHECK, so
// a single fixed header works for every compression level we actually emit.
var zlibHeader = [2]byte{0x78, 0x9c}

// EncodeArchiveHeader serializes the uncompressed header that precedes the
// zlib stream in a .filez object: a fixed magic, then the same metadata
// tuple as the plain FILE stream (uid/gid/mode/xattrs/islink/linkto),
// length-prefixed so the payload boundary is unambiguous without scanning.
func EncodeArchiveHeader(meta object.FileMeta) []byte {
	inner := encodeArchiveMetaTuple(meta)
	out := make([]byte, 0, 4+4+len(inner))
	out = append(out, archiveMagic[:]...)
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(inner)))
	out = append(out, lenBuf[:]...)
	out = append(out, inner...)
	return out
}

func encodeArchiveMetaTuple(meta object.FileMeta) []byte {
	var buf bytes.Buffer
	var u32 [4]byte
	putU32 := func(v uint32) {
		binary.BigEndian.PutUint32(u32[:], v)
		buf.Write(u32[:])
	}
	putU32(meta.UID)
	putU32(meta.GID)
	putU32(meta.Mode)
	if meta.IsLink {
		putU32(1)
	} else {
		putU32(0)
	}
	putU32(uint32(len(meta.LinkTo)))
	buf.WriteString(meta.LinkTo)
	putU32(uint32(len(meta.Xattrs)))
	for _, x := range meta.Xattrs {
		putU32(uint32(len(x.Name)))
		buf.WriteString(x.Name)
		putU32(uint32(len(x.Value)))
		buf.Write(x.Value)
	}
	return buf.Bytes()
}

// decodeArchiveHeader is the inverse of EncodeArchiveHeader, returning the
// parsed metadata and the number of header bytes consumed.
func decodeArchiveHeader(data []byte) (object.FileMeta, int, error) {
	if len(data) < 8 || !bytes.Equal(data[:4], archiveMagic[:]) {
		return object.FileMeta{}, 0, fmt.Errorf("mode: archive object missing magic")
	}
	innerLen := int(binary.BigEndian.Uint32(data[4:8]))
	if len(data) < 8+innerLen {
		return object.FileMeta{}, 0, fmt.Errorf("mode: archive header truncated")
	}
	inner := data[8 : 8+innerLen]

	readU32 := func() (uint32, error) {
		if len(inner) < 4 {
			return 0, fmt.Errorf("mode: archive header truncated field")
		}
		v := binary.BigEndian.Uint32(inner[:4])
		inner = inner[4:]
		return v, nil
	}

	var meta object.FileMeta
	var err error
	if meta.UID, err = readU32(); err != nil {
		return object.FileMeta{}, 0, err
	}
	if meta.GID, err = readU32(); err != nil {
		return object.FileMeta{}, 0, err
	}
	if meta.Mode, err = readU32(); err != nil {
		return object.FileMeta{}, 0, err
	}
	isLink, err := readU32()
	if err != nil {
		return object.FileMeta{}, 0, err
	}
	meta.IsLink = isLink != 0
	linkLen, err := readU32()
	if err != nil {
		return object.FileMeta{}, 0, err
	}
	if uint32(len(inner)) < linkLen {
		return object.FileMeta{}, 0, fmt.Errorf("mode: archive header truncated link target")
	}
	meta.LinkTo = string(inner[:linkLen])
	inner = inner[linkLen:]

	xattrCount, err := readU32()
	if err != nil {
		return object.FileMeta{}, 0, err
	}
	for i := uint32(0); i < xattrCount; i++ {
		nameLen, err := readU32()
		if err != nil {
			return object.FileMeta{}, 0, err
		}
		if uint32(len(inner)) < nameLen {
			return object.FileMeta{}, 0, fmt.Errorf("mode: archive header truncated xattr name")
		}
		name := string(inner[:nameLen])
		inner = inner[nameLen:]

		valLen, err := readU32()
		if err != nil {
			return object.FileMeta{}, 0, err
		}
		if uint32(len(inner)) < valLen {
			return object.FileMeta{}, 0, fmt.Errorf("mode: archive header truncated xattr value")
		}
		value := make([]byte, valLen)
		copy(value, inner[:valLen])
		inner = inner[valLen:]

		meta.Xattrs = append(meta.Xattrs, object.Xattr{Name: name, Value: value})
	}
	return meta, 8 + innerLen, nil
}

// EncodeArchive produces a complete .filez object: header, then a
// zlib-compatible compressed stream of content (empty for a symlink, whose
// target already lives in the header). level is clamped to [1,9] by the
// caller (config.go enforces archive.zlib-level's range).
func EncodeArchive(meta object.FileMeta, content []byte, level int) ([]byte, error) {
	header := EncodeArchiveHeader(meta)

	var compressed bytes.Buffer
	fw, err := flate.NewWriter(&compressed, level)
	if err != nil {
		return nil, fmt.Errorf("mode: new flate writer: %w", err)
	}
	payload := content
	if meta.IsLink {
		payload = nil
	}
	if _, err := fw.Write(payload); err != nil {
		return nil, fmt.Errorf("mode: compress archive content: %w", err)
	}
	if err := fw.Close(); err != nil {
		return nil, fmt.Errorf("mode: close flate writer: %w", err)
	}

	out := make([]byte, 0, len(header)+2+compressed.Len()+4)
	out = append(out, header...)
	out = append(out, zlibHeader[:]...)
	out = append(out, compressed.Bytes()...)
	var trailer [4]byte
	binary.BigEndian.PutUint32(trailer[:], adler32.Checksum(payload))
	out = append(out, trailer[:]...)
	return out, nil
}

// DecodeArchive parses a complete .filez object, returning the metadata and
// an inflating reader over the payload. Callers must Close the returned
// reader.
func DecodeArchive(data []byte) (object.FileMeta, io.ReadCloser, error) {
	meta, consumed, err := decodeArchiveHeader(data)
	if err != nil {
		return object.FileMeta{}, nil, err
	}
	rest := data[consumed:]
	if len(rest) < 2+4 {
		return object.FileMeta{}, nil, fmt.Errorf("mode: archive object truncated zlib stream")
	}
	if rest[0] != zlibHeader[0] {
		return object.FileMeta{}, nil, fmt.Errorf("mode: archive object has invalid zlib header")
	}
	deflateStream := rest[2 : len(rest)-4]
	return meta, flate.NewReader(bytes.NewReader(deflateStream)), nil
}

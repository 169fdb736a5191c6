package object

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
)

// ---------------------------------------------------------------------------
// Shared helpers
// ---------------------------------------------------------------------------

func hashOrDash(c checksum.Checksum) string {
	if c.Zero() {
		return "-"
	}
	return c.String()
}

func dashOrHash(s string) (checksum.Checksum, error) {
	if s == "-" {
		return checksum.Checksum{}, nil
	}
	return checksum.Parse(s)
}

// encodeXattrs serializes an xattr list as a count header followed by one
// line per attribute: "<name-len> <value-len> <name> <hex-value>". Both
// lengths are recorded because names and values are arbitrary bytes.
func encodeXattrs(buf *bytes.Buffer, xattrs []Xattr) {
	fmt.Fprintf(buf, "xattrs %d\n", len(xattrs))
	for _, x := range xattrs {
		fmt.Fprintf(buf, "%d %d %s %s\n", len(x.Name), len(x.Value), x.Name, hex.EncodeToString(x.Value))
	}
}

func decodeXattrs(lines []string) ([]Xattr, []string, error) {
	if len(lines) == 0 {
		return nil, lines, fmt.Errorf("decode xattrs: missing xattrs header")
	}
	key, val, ok := strings.Cut(lines[0], " ")
	if !ok || key != "xattrs" {
		return nil, lines, fmt.Errorf("decode xattrs: expected xattrs header, got %q", lines[0])
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return nil, lines, fmt.Errorf("decode xattrs: bad count %q: %w", val, err)
	}
	rest := lines[1:]
	out := make([]Xattr, 0, count)
	for i := 0; i < count; i++ {
		if len(rest) == 0 {
			return nil, rest, fmt.Errorf("decode xattrs: expected %d entries, ran out at %d", count, i)
		}
		fields := strings.SplitN(rest[0], " ", 4)
		if len(fields) != 4 {
			return nil, rest, fmt.Errorf("decode xattrs: malformed entry %q", rest[0])
		}
		nameLen, err := strconv.Atoi(fields[0])
		if err != nil {
			return nil, rest, fmt.Errorf("decode xattrs: bad name length %q: %w", fields[0], err)
		}
		if len(fields[2]) != nameLen {
			return nil, rest, fmt.Errorf("decode xattrs: name length mismatch for %q", fields[2])
		}
		value, err := hex.DecodeString(fields[3])
		if err != nil {
			return nil, rest, fmt.Errorf("decode xattrs: bad value encoding: %w", err)
		}
		out = append(out, Xattr{Name: fields[2], Value: value})
		rest = rest[1:]
	}
	return out, rest, nil
}

// ---------------------------------------------------------------------------
// FILE content stream. Not itself a loose-object extension; these are the
// canonical bytes that get hashed for content addressing and the bytes
// load_object_stream returns for FILE objects.
// ---------------------------------------------------------------------------

// EncodeFileStream produces the canonical header+body encoding of a FILE
// object: a fixed-format metadata header, a blank line, then the raw
// content (or symlink target).
func EncodeFileStream(meta FileMeta, content []byte) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "uid %d\n", meta.UID)
	fmt.Fprintf(&buf, "gid %d\n", meta.GID)
	fmt.Fprintf(&buf, "mode %o\n", meta.Mode)
	fmt.Fprintf(&buf, "islink %d\n", boolToInt(meta.IsLink))
	encodeXattrs(&buf, meta.Xattrs)
	buf.WriteByte('\n')
	if meta.IsLink {
		buf.WriteString(meta.LinkTo)
	} else {
		buf.Write(content)
	}
	return buf.Bytes()
}

// DecodeFileStream parses the encoding produced by EncodeFileStream.
func DecodeFileStream(data []byte) (FileMeta, []byte, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return FileMeta{}, nil, fmt.Errorf("decode file stream: missing header/body separator")
	}
	header := string(data[:idx])
	body := data[idx+2:]

	lines := strings.Split(header, "\n")
	if len(lines) < 4 {
		return FileMeta{}, nil, fmt.Errorf("decode file stream: header too short")
	}
	var meta FileMeta
	for i, want := range []string{"uid", "gid", "mode", "islink"} {
		key, val, ok := strings.Cut(lines[i], " ")
		if !ok || key != want {
			return FileMeta{}, nil, fmt.Errorf("decode file stream: expected %q header, got %q", want, lines[i])
		}
		switch want {
		case "uid":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return FileMeta{}, nil, fmt.Errorf("decode file stream: bad uid: %w", err)
			}
			meta.UID = uint32(v)
		case "gid":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return FileMeta{}, nil, fmt.Errorf("decode file stream: bad gid: %w", err)
			}
			meta.GID = uint32(v)
		case "mode":
			v, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return FileMeta{}, nil, fmt.Errorf("decode file stream: bad mode: %w", err)
			}
			meta.Mode = uint32(v)
		case "islink":
			meta.IsLink = val == "1"
		}
	}
	xattrs, _, err := decodeXattrs(lines[4:])
	if err != nil {
		return FileMeta{}, nil, err
	}
	meta.Xattrs = xattrs

	if meta.IsLink {
		meta.LinkTo = string(body)
		return meta, nil, nil
	}
	out := make([]byte, len(body))
	copy(out, body)
	return meta, out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// ---------------------------------------------------------------------------
// DIR_TREE
// ---------------------------------------------------------------------------

// MarshalDirTree serializes a DirTree. Entries are sorted by Name for
// determinism. Each line is either:
//
//	<name> file <filesum>
//	<name> dir <treesum> <dirmetasum>
func MarshalDirTree(tr *DirTree) []byte {
	sorted := make([]DirTreeEntry, len(tr.Entries))
	copy(sorted, tr.Entries)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Name < sorted[j].Name })

	var buf bytes.Buffer
	for _, e := range sorted {
		if e.IsDir {
			fmt.Fprintf(&buf, "%s dir %s %s\n", e.Name, hashOrDash(e.TreeSum), hashOrDash(e.DirMetaSum))
		} else {
			fmt.Fprintf(&buf, "%s file %s\n", e.Name, hashOrDash(e.FileSum))
		}
	}
	return buf.Bytes()
}

// UnmarshalDirTree parses the encoding produced by MarshalDirTree.
func UnmarshalDirTree(data []byte) (*DirTree, error) {
	tr := &DirTree{}
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return tr, nil
	}
	for _, line := range strings.Split(text, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 3 {
			return nil, fmt.Errorf("unmarshal dirtree: malformed entry %q", line)
		}
		entry := DirTreeEntry{Name: fields[0]}
		switch fields[1] {
		case "file":
			if len(fields) != 3 {
				return nil, fmt.Errorf("unmarshal dirtree: malformed file entry %q", line)
			}
			sum, err := dashOrHash(fields[2])
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirtree: %w", err)
			}
			entry.FileSum = sum
		case "dir":
			if len(fields) != 4 {
				return nil, fmt.Errorf("unmarshal dirtree: malformed dir entry %q", line)
			}
			entry.IsDir = true
			treeSum, err := dashOrHash(fields[2])
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirtree: %w", err)
			}
			metaSum, err := dashOrHash(fields[3])
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirtree: %w", err)
			}
			entry.TreeSum, entry.DirMetaSum = treeSum, metaSum
		default:
			return nil, fmt.Errorf("unmarshal dirtree: unknown entry kind %q", fields[1])
		}
		tr.Entries = append(tr.Entries, entry)
	}
	return tr, nil
}

// ---------------------------------------------------------------------------
// DIR_META
// ---------------------------------------------------------------------------

// MarshalDirMeta serializes a DirMeta.
func MarshalDirMeta(m *DirMeta) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "uid %d\n", m.UID)
	fmt.Fprintf(&buf, "gid %d\n", m.GID)
	fmt.Fprintf(&buf, "mode %o\n", m.Mode)
	encodeXattrs(&buf, m.Xattrs)
	return buf.Bytes()
}

// UnmarshalDirMeta parses the encoding produced by MarshalDirMeta.
func UnmarshalDirMeta(data []byte) (*DirMeta, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) < 3 {
		return nil, fmt.Errorf("unmarshal dirmeta: too few header lines")
	}
	m := &DirMeta{}
	for i, want := range []string{"uid", "gid", "mode"} {
		key, val, ok := strings.Cut(lines[i], " ")
		if !ok || key != want {
			return nil, fmt.Errorf("unmarshal dirmeta: expected %q header, got %q", want, lines[i])
		}
		switch want {
		case "uid":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: bad uid: %w", err)
			}
			m.UID = uint32(v)
		case "gid":
			v, err := strconv.ParseUint(val, 10, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: bad gid: %w", err)
			}
			m.GID = uint32(v)
		case "mode":
			v, err := strconv.ParseUint(val, 8, 32)
			if err != nil {
				return nil, fmt.Errorf("unmarshal dirmeta: bad mode: %w", err)
			}
			m.Mode = uint32(v)
		}
	}
	xattrs, _, err := decodeXattrs(lines[3:])
	if err != nil {
		return nil, err
	}
	m.Xattrs = xattrs
	return m, nil
}

// ---------------------------------------------------------------------------
// COMMIT
// ---------------------------------------------------------------------------

// MarshalCommit serializes a Commit:
//
//	tree T
//	dirmeta D
//	parent P          (omitted when absent)
//	timestamp N
//	metadata K V      (zero or more, sorted by key)
//
//	subject
//
//	body
func MarshalCommit(c *Commit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "tree %s\n", c.RootTree.String())
	fmt.Fprintf(&buf, "dirmeta %s\n", c.RootMeta.String())
	if c.HasParent() {
		fmt.Fprintf(&buf, "parent %s\n", c.Parent.String())
	}
	fmt.Fprintf(&buf, "timestamp %d\n", c.Timestamp)

	keys := make([]string, 0, len(c.Metadata))
	for k := range c.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "metadata %s %s\n", k, c.Metadata[k])
	}

	buf.WriteByte('\n')
	buf.WriteString(c.Subject)
	buf.WriteByte('\n')
	buf.WriteByte('\n')
	buf.WriteString(c.Body)
	return buf.Bytes()
}

// UnmarshalCommit parses the encoding produced by MarshalCommit.
func UnmarshalCommit(data []byte) (*Commit, error) {
	idx := bytes.Index(data, []byte("\n\n"))
	if idx < 0 {
		return nil, fmt.Errorf("unmarshal commit: missing header/message separator")
	}
	header := string(data[:idx])
	rest := string(data[idx+2:])

	subject := rest
	body := ""
	if bodyIdx := strings.Index(rest, "\n\n"); bodyIdx >= 0 {
		subject = rest[:bodyIdx]
		body = rest[bodyIdx+2:]
	} else {
		subject = strings.TrimSuffix(rest, "\n")
	}

	c := &Commit{Subject: subject, Body: body, Metadata: map[string]string{}}
	for _, line := range strings.Split(header, "\n") {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commit: malformed header line %q", line)
		}
		switch key {
		case "tree":
			sum, err := checksum.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: tree: %w", err)
			}
			c.RootTree = sum
		case "dirmeta":
			sum, err := checksum.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: dirmeta: %w", err)
			}
			c.RootMeta = sum
		case "parent":
			sum, err := checksum.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: parent: %w", err)
			}
			c.Parent = sum
		case "timestamp":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal commit: bad timestamp %q: %w", val, err)
			}
			c.Timestamp = ts
		case "metadata":
			mk, mv, ok := strings.Cut(val, " ")
			if !ok {
				return nil, fmt.Errorf("unmarshal commit: malformed metadata entry %q", val)
			}
			c.Metadata[mk] = mv
		default:
			return nil, fmt.Errorf("unmarshal commit: unknown header key %q", key)
		}
	}
	return c, nil
}

// CommitMetadataTimestampBE returns the big-endian u64 encoding of a unix
// timestamp, the encoding used for ostree.commit.timestamp in the summary.
func CommitMetadataTimestampBE(ts int64) []byte {
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, uint64(ts))
	return out
}

// ---------------------------------------------------------------------------
// COMMIT_META
// ---------------------------------------------------------------------------

// GpgSigsKey is the conventional detached-metadata key under which
// signature packets are stored.
const GpgSigsKey = "ostree.gpgsigs"

// MarshalCommitMeta serializes a CommitMeta:
//
//	gpgsigs N
//	<len> <hex-bytes>    (N lines)
//	extra M
//	K V                  (M lines, sorted by key)
func MarshalCommitMeta(m *CommitMeta) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "gpgsigs %d\n", len(m.GpgSigs))
	for _, sig := range m.GpgSigs {
		fmt.Fprintf(&buf, "%d %s\n", len(sig), hex.EncodeToString(sig))
	}
	keys := make([]string, 0, len(m.Extra))
	for k := range m.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	fmt.Fprintf(&buf, "extra %d\n", len(keys))
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s %s\n", k, m.Extra[k])
	}
	return buf.Bytes()
}

// UnmarshalCommitMeta parses the encoding produced by MarshalCommitMeta.
func UnmarshalCommitMeta(data []byte) (*CommitMeta, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	m := &CommitMeta{Extra: map[string]string{}}
	if len(lines) == 0 || lines[0] == "" {
		return m, nil
	}
	key, val, ok := strings.Cut(lines[0], " ")
	if !ok || key != "gpgsigs" {
		return nil, fmt.Errorf("unmarshal commitmeta: expected gpgsigs header, got %q", lines[0])
	}
	count, err := strconv.Atoi(val)
	if err != nil {
		return nil, fmt.Errorf("unmarshal commitmeta: bad gpgsigs count: %w", err)
	}
	rest := lines[1:]
	for i := 0; i < count; i++ {
		if len(rest) == 0 {
			return nil, fmt.Errorf("unmarshal commitmeta: ran out of gpgsig lines")
		}
		fields := strings.SplitN(rest[0], " ", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("unmarshal commitmeta: malformed gpgsig line %q", rest[0])
		}
		sig, err := hex.DecodeString(fields[1])
		if err != nil {
			return nil, fmt.Errorf("unmarshal commitmeta: bad gpgsig encoding: %w", err)
		}
		m.GpgSigs = append(m.GpgSigs, sig)
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return m, nil
	}
	key, val, ok = strings.Cut(rest[0], " ")
	if !ok || key != "extra" {
		return nil, fmt.Errorf("unmarshal commitmeta: expected extra header, got %q", rest[0])
	}
	extraCount, err := strconv.Atoi(val)
	if err != nil {
		return nil, fmt.Errorf("unmarshal commitmeta: bad extra count: %w", err)
	}
	rest = rest[1:]
	for i := 0; i < extraCount; i++ {
		if len(rest) == 0 {
			return nil, fmt.Errorf("unmarshal commitmeta: ran out of extra lines")
		}
		ek, ev, ok := strings.Cut(rest[0], " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal commitmeta: malformed extra line %q", rest[0])
		}
		m.Extra[ek] = ev
		rest = rest[1:]
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// TOMBSTONE_COMMIT
// ---------------------------------------------------------------------------

// MarshalTombstoneCommit serializes a TombstoneCommit.
func MarshalTombstoneCommit(t *TombstoneCommit) []byte {
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "deleted-commit %s\n", t.DeletedCommit.String())
	fmt.Fprintf(&buf, "deleted-at %d\n", t.DeletedAt)
	return buf.Bytes()
}

// UnmarshalTombstoneCommit parses the encoding produced by
// MarshalTombstoneCommit.
func UnmarshalTombstoneCommit(data []byte) (*TombstoneCommit, error) {
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) != 2 {
		return nil, fmt.Errorf("unmarshal tombstone-commit: expected 2 lines, got %d", len(lines))
	}
	t := &TombstoneCommit{}
	for _, line := range lines {
		key, val, ok := strings.Cut(line, " ")
		if !ok {
			return nil, fmt.Errorf("unmarshal tombstone-commit: malformed line %q", line)
		}
		switch key {
		case "deleted-commit":
			sum, err := checksum.Parse(val)
			if err != nil {
				return nil, fmt.Errorf("unmarshal tombstone-commit: %w", err)
			}
			t.DeletedCommit = sum
		case "deleted-at":
			ts, err := strconv.ParseInt(val, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("unmarshal tombstone-commit: bad timestamp: %w", err)
			}
			t.DeletedAt = ts
		default:
			return nil, fmt.Errorf("unmarshal tombstone-commit: unknown key %q", key)
		}
	}
	return t, nil
}

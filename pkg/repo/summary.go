package repo

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/opentree-fs/ostree-core/pkg/checksum"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

// SummaryRef is one entry in the summary's ref list: a ref name paired with
// its commit's size and checksum, plus per-ref metadata (currently just
// ostree.commit.timestamp).
type SummaryRef struct {
	Name       string
	CommitSize int64
	CommitSum  checksum.Checksum
	CommitTime uint64 // ostree.commit.timestamp, in Unix seconds
}

// Summary is the in-memory form of the regenerated summary file.
type Summary struct {
	Refs          []SummaryRef
	StaticDeltas  map[string]checksum.Checksum // name -> sha256 of superblock
	LastModified  uint64
	CollectionID  string
	CollectionMap map[string][]SummaryRef // collection id -> refs, sorted
}

// BuildSummary implements the six-step Summary Builder algorithm
// (spec.md §4.9).
func (r *Repo) BuildSummary() (*Summary, error) {
	refs, err := r.ListRefs("")
	if err != nil {
		return nil, err
	}

	s := &Summary{StaticDeltas: make(map[string]checksum.Checksum)}
	for name, sum := range refs {
		if isRemoteTrackingRef(name) {
			continue
		}
		commit, err := r.LoadCommit(sum)
		if err != nil {
			return nil, fmt.Errorf("repo: summary: load commit for ref %s: %w", name, err)
		}
		size, err := r.QueryObjectSize(object.TypeCommit, sum)
		if err != nil {
			return nil, fmt.Errorf("repo: summary: size for ref %s: %w", name, err)
		}
		s.Refs = append(s.Refs, SummaryRef{
			Name:       name,
			CommitSize: size,
			CommitSum:  sum,
			CommitTime: uint64(commit.Timestamp),
		})
	}
	sort.Slice(s.Refs, func(i, j int) bool { return s.Refs[i].Name < s.Refs[j].Name })

	deltas, err := r.enumerateStaticDeltas()
	if err != nil {
		return nil, err
	}
	s.StaticDeltas = deltas

	s.LastModified = uint64(time.Now().Unix())

	collectionID := r.Settings.CollectionID
	if collectionID != "" {
		s.CollectionID = collectionID
		s.CollectionMap = r.buildCollectionMap(refs, collectionID)
	}

	r.Logger.Debug("built summary", "refs", len(s.Refs), "static_deltas", len(s.StaticDeltas))
	return s, nil
}

// isRemoteTrackingRef reports whether a ref name carries a remote
// component (e.g. "origin:main" or "remotes/origin/main"), which the
// summary skips per spec.md §4.9 step 1.
func isRemoteTrackingRef(name string) bool {
	return strings.HasPrefix(name, "remotes/") || strings.Contains(name, ":")
}

// enumerateStaticDeltas lists the names under state/deltas/ (external
// collaborator's output format) and hashes each superblock file.
func (r *Repo) enumerateStaticDeltas() (map[string]checksum.Checksum, error) {
	dir := filepath.Join(r.Dir, "state", "deltas")
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("repo: read deltas dir: %w", err)
	}
	out := make(map[string]checksum.Checksum)
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("repo: read delta %s: %w", e.Name(), err)
		}
		out[e.Name()] = checksum.Sum(data)
	}
	return out, nil
}

// buildCollectionMap groups refs by collection id, skipping the configured
// main collection id (which stays in the main ref list for backward
// compatibility), sorted lexicographically by collection id and, within
// each, by ref name.
func (r *Repo) buildCollectionMap(refs map[string]checksum.Checksum, mainCollectionID string) map[string][]SummaryRef {
	byCollection := make(map[string][]SummaryRef)
	for name, sum := range refs {
		collectionID, refName, ok := splitCollectionRef(name)
		if !ok || collectionID == mainCollectionID {
			continue
		}
		commit, err := r.LoadCommit(sum)
		if err != nil {
			continue
		}
		size, err := r.QueryObjectSize(object.TypeCommit, sum)
		if err != nil {
			continue
		}
		byCollection[collectionID] = append(byCollection[collectionID], SummaryRef{
			Name:       refName,
			CommitSize: size,
			CommitSum:  sum,
			CommitTime: uint64(commit.Timestamp),
		})
	}
	for id := range byCollection {
		sort.Slice(byCollection[id], func(i, j int) bool {
			return byCollection[id][i].Name < byCollection[id][j].Name
		})
	}
	return byCollection
}

// splitCollectionRef splits a "collection-id:refname" collection-ref.
func splitCollectionRef(name string) (collectionID, refName string, ok bool) {
	i := strings.Index(name, ":")
	if i < 0 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// Serialize renders s into its canonical byte order: refs first in sorted
// order, then top-level metadata (ostree.summary.last-modified and,
// optionally, ostree.static-deltas / ostree.summary.collection-id /
// ostree.summary.collection-map), one line per field. This is a
// deterministic text framing, not the GVariant tuple the original
// describes; summary.sig is signed over exactly these bytes (see
// SummarySigningPayload).
func (s *Summary) Serialize() []byte {
	var b strings.Builder
	for _, ref := range s.Refs {
		fmt.Fprintf(&b, "ref %s %d %s %d\n", ref.Name, ref.CommitSize, ref.CommitSum, ref.CommitTime)
	}
	b.WriteString("\n")

	fmt.Fprintf(&b, "ostree.summary.last-modified %d\n", s.LastModified)

	if len(s.StaticDeltas) > 0 {
		names := make([]string, 0, len(s.StaticDeltas))
		for name := range s.StaticDeltas {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(&b, "ostree.static-deltas %s %s\n", name, s.StaticDeltas[name])
		}
	}

	if s.CollectionID != "" {
		fmt.Fprintf(&b, "ostree.summary.collection-id %s\n", s.CollectionID)
		ids := make([]string, 0, len(s.CollectionMap))
		for id := range s.CollectionMap {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			for _, ref := range s.CollectionMap[id] {
				fmt.Fprintf(&b, "ostree.summary.collection-map %s %s %d %s %d\n",
					id, ref.Name, ref.CommitSize, ref.CommitSum, ref.CommitTime)
			}
		}
	}

	return []byte(b.String())
}

// summaryPath and summarySigPath return the well-known file paths under the
// repository root.
func summaryPath(dir string) string    { return filepath.Join(dir, "summary") }
func summarySigPath(dir string) string { return filepath.Join(dir, "summary.sig") }

// WriteSummary serializes and atomically writes s to <dir>/summary, then
// unlinks any existing summary.sig (spec.md §4.9 step 6).
func (r *Repo) WriteSummary(s *Summary) error {
	data := s.Serialize()
	if err := writeFileAtomicStaged(summaryPath(r.Dir)+".tmp", data, r.Settings.Fsync); err != nil {
		return err
	}
	if err := os.Rename(summaryPath(r.Dir)+".tmp", summaryPath(r.Dir)); err != nil {
		return fmt.Errorf("repo: rename summary into place: %w", err)
	}
	if err := os.Remove(summarySigPath(r.Dir)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("repo: unlink stale summary.sig: %w", err)
	}
	r.Logger.Info("wrote summary", "refs", len(s.Refs), "static_deltas", len(s.StaticDeltas))
	return nil
}

// RegenerateSummary runs BuildSummary then WriteSummary in one call, the
// entry point CLI/admin code uses.
func (r *Repo) RegenerateSummary() (*Summary, error) {
	s, err := r.BuildSummary()
	if err != nil {
		return nil, err
	}
	if err := r.WriteSummary(s); err != nil {
		return nil, err
	}
	return s, nil
}

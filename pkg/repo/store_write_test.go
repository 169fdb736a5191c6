package repo

import (
	"os"
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
	"golang.org/x/sys/unix"
)

func TestWriteFileContentAddressedAcrossModes(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	uid, gid := currentOwner()
	meta := object.FileMeta{UID: uid, GID: gid, Mode: 0o644}
	content := []byte("hello world\n")

	var sums []string
	for _, m := range []mode.Mode{mode.Bare, mode.BareUser, mode.BareUserOnly, mode.Archive} {
		dir := t.TempDir()
		r, err := Create(dir, m)
		if err != nil {
			t.Fatalf("Create(%v): %v", m, err)
		}
		sum, err := r.WriteFile(meta, content)
		if err != nil {
			t.Fatalf("WriteFile(%v): %v", m, err)
		}
		sums = append(sums, sum.String())
	}
	for i := 1; i < len(sums); i++ {
		if sums[i] != sums[0] {
			t.Fatalf("checksum differs across modes: %v", sums)
		}
	}
}

func TestWriteFileBareIsARealFileWithRealAttributes(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	uid, gid := currentOwner()
	meta := object.FileMeta{UID: uid, GID: gid, Mode: 0o600}
	sum, err := r.WriteFile(meta, []byte("real bytes"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	path, err := r.loosePath(sum, object.TypeFile)
	if err != nil {
		t.Fatalf("loosePath: %v", err)
	}
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("lstat loose file: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Fatal("BARE regular file materialized as a symlink")
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("loose file mode = %o, want 0600", info.Mode().Perm())
	}
	body, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read loose file directly: %v", err)
	}
	if string(body) != "real bytes" {
		t.Fatalf("loose file body = %q, want %q", body, "real bytes")
	}
}

func TestWriteFileBareSymlinkIsARealSymlink(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	meta := object.FileMeta{Mode: 0o777, IsLink: true, LinkTo: "/usr/bin/target"}
	sum, err := r.WriteFile(meta, nil)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	path, err := r.loosePath(sum, object.TypeFile)
	if err != nil {
		t.Fatalf("loosePath: %v", err)
	}
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("BARE symlink was not materialized as a real on-disk symlink")
	}
	target, err := os.Readlink(path)
	if err != nil {
		t.Fatalf("readlink: %v", err)
	}
	if target != "/usr/bin/target" {
		t.Fatalf("readlink = %q, want /usr/bin/target", target)
	}
}

func TestWriteFileBareUserOnlySymlinkIsARealSymlink(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.BareUserOnly)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	meta := object.FileMeta{Mode: 0o777, IsLink: true, LinkTo: "../other"}
	sum, err := r.WriteFile(meta, nil)
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	path, err := r.loosePath(sum, object.TypeFile)
	if err != nil {
		t.Fatalf("loosePath: %v", err)
	}
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink == 0 {
		t.Fatal("BARE_USER_ONLY symlink was not materialized as a real symlink")
	}
}

func TestWriteFileBareUserStoresOstreeMetaXattr(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.BareUser)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	meta := object.FileMeta{UID: 1000, GID: 1000, Mode: 0o644}
	sum, err := r.WriteFile(meta, []byte("owned by someone else on disk"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	path, err := r.loosePath(sum, object.TypeFile)
	if err != nil {
		t.Fatalf("loosePath: %v", err)
	}
	size, err := unix.Lgetxattr(path, mode.OstreeMetaXattr, nil)
	if err != nil {
		t.Fatalf("BARE_USER loose file missing %s xattr: %v", mode.OstreeMetaXattr, err)
	}
	if size == 0 {
		t.Fatal("BARE_USER ostreemeta xattr is empty")
	}
	// The on-disk file itself is owned by whoever is running the test, not
	// by the UID recorded in the xattr.
	info, err := os.Lstat(path)
	if err != nil {
		t.Fatalf("lstat: %v", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		t.Fatal("BARE_USER regular file materialized as a symlink")
	}
}

func TestWriteFileIsIdempotent(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	uid, gid := currentOwner()
	meta := object.FileMeta{UID: uid, GID: gid, Mode: 0o600}
	sum1, err := r.WriteFile(meta, []byte("data"))
	if err != nil {
		t.Fatalf("first WriteFile: %v", err)
	}
	sum2, err := r.WriteFile(meta, []byte("data"))
	if err != nil {
		t.Fatalf("second WriteFile: %v", err)
	}
	if sum1 != sum2 {
		t.Fatalf("checksums differ across repeated writes: %s vs %s", sum1, sum2)
	}
}

func TestWriteCommitAndDirObjects(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dm := &object.DirMeta{UID: 0, GID: 0, Mode: 0o755}
	dmSum, err := r.WriteDirMeta(dm)
	if err != nil {
		t.Fatalf("WriteDirMeta: %v", err)
	}

	uid, gid := currentOwner()
	fileSum, err := r.WriteFile(object.FileMeta{UID: uid, GID: gid, Mode: 0o644}, []byte("x"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	dt := &object.DirTree{Entries: []object.DirTreeEntry{{Name: "x.txt", FileSum: fileSum}}}
	dtSum, err := r.WriteDirTree(dt)
	if err != nil {
		t.Fatalf("WriteDirTree: %v", err)
	}

	c := &object.Commit{RootTree: dtSum, RootMeta: dmSum, Subject: "first commit", Timestamp: 1700000000}
	commitSum, err := r.WriteCommit(c)
	if err != nil {
		t.Fatalf("WriteCommit: %v", err)
	}

	if !r.HasObject(object.TypeCommit, commitSum) {
		t.Fatal("HasObject(commit) = false after WriteCommit")
	}
}

func TestMinFreeSpaceRejectsWriteBelowThreshold(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	r.Settings.MinFreeSpacePercent = 101 // unreachable, forces the rejection path

	_, err = r.WriteFile(object.FileMeta{Mode: 0o644}, []byte("x"))
	if err == nil {
		t.Fatal("WriteFile with impossible min-free-space-percent = nil error, want error")
	}
}

func TestWriteLooseFileFaultInjection(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	t.Setenv("OSTREE_REPO_TEST_ERROR", "pre-commit")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	uid, gid := currentOwner()
	_, err = r.WriteFile(object.FileMeta{UID: uid, GID: gid, Mode: 0o644}, []byte("x"))
	if err == nil {
		t.Fatal("WriteFile with pre-commit fault injection = nil error, want error")
	}
}

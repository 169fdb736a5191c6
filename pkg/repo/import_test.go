package repo

import (
	"io"
	"os"
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

// currentOwner returns the process's own uid/gid, so BARE-mode Lchown calls
// in tests succeed without CAP_CHOWN.
func currentOwner() (uint32, uint32) {
	return uint32(os.Getuid()), uint32(os.Getgid())
}

func TestImportObjectHardlinkFastPath(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	sourceDir := t.TempDir()
	source, err := Create(sourceDir, mode.Bare)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	uid, gid := currentOwner()
	sum, err := source.WriteFile(object.FileMeta{UID: uid, GID: gid, Mode: 0o644}, []byte("imported content"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	destDir := t.TempDir()
	dest, err := Create(destDir, mode.Bare)
	if err != nil {
		t.Fatalf("create dest: %v", err)
	}

	if err := dest.ImportObject(source, object.TypeFile, sum, true); err != nil {
		t.Fatalf("ImportObject: %v", err)
	}
	if !dest.HasObject(object.TypeFile, sum) {
		t.Fatal("dest missing imported object")
	}

	srcPath, err := source.loosePath(sum, object.TypeFile)
	if err != nil {
		t.Fatalf("loosePath: %v", err)
	}
	dstPath, err := dest.loosePath(sum, object.TypeFile)
	if err != nil {
		t.Fatalf("loosePath: %v", err)
	}
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		t.Fatalf("stat source: %v", err)
	}
	dstInfo, err := os.Stat(dstPath)
	if err != nil {
		t.Fatalf("stat dest: %v", err)
	}
	if !os.SameFile(srcInfo, dstInfo) {
		t.Fatal("expected dest object to be hardlinked to source object")
	}
}

func TestImportObjectCopyFallbackAcrossModes(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	sourceDir := t.TempDir()
	source, err := Create(sourceDir, mode.Archive)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	uid, gid := currentOwner()
	meta := object.FileMeta{UID: uid, GID: gid, Mode: 0o644}
	sum, err := source.WriteFile(meta, []byte("compressed content"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	destDir := t.TempDir()
	dest, err := Create(destDir, mode.Bare)
	if err != nil {
		t.Fatalf("create dest: %v", err)
	}

	if err := dest.ImportObject(source, object.TypeFile, sum, true); err != nil {
		t.Fatalf("ImportObject: %v", err)
	}

	stream, _, err := dest.LoadFile(sum)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	defer stream.Close()
	body, err := io.ReadAll(stream)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "compressed content" {
		t.Fatalf("body = %q, want %q", body, "compressed content")
	}
}

func TestImportObjectValidatesUntrustedChecksum(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	sourceDir := t.TempDir()
	source, err := Create(sourceDir, mode.Bare)
	if err != nil {
		t.Fatalf("create source: %v", err)
	}
	uid, gid := currentOwner()
	sum, err := source.WriteFile(object.FileMeta{UID: uid, GID: gid, Mode: 0o644}, []byte("trusted copy test"))
	if err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	destDir := t.TempDir()
	dest, err := Create(destDir, mode.BareUserOnly)
	if err != nil {
		t.Fatalf("create dest: %v", err)
	}

	if err := dest.ImportObject(source, object.TypeFile, sum, false); err != nil {
		t.Fatalf("untrusted ImportObject: %v", err)
	}
	if !dest.HasObject(object.TypeFile, sum) {
		t.Fatal("dest missing imported object after untrusted import")
	}
}

package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
)

func TestCreateAndOpen(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if r.Mode != mode.Bare {
		t.Fatalf("Mode = %v, want Bare", r.Mode)
	}

	r2, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if r2.Mode != mode.Bare {
		t.Fatalf("reopened Mode = %v, want Bare", r2.Mode)
	}
}

func TestCreateIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, mode.Bare); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	r, err := Create(dir, mode.Archive)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if r.Mode != mode.Bare {
		t.Fatalf("idempotent Create changed mode to %v, want Bare retained", r.Mode)
	}
}

func TestCreateArchiveLayout(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, mode.Archive); err != nil {
		t.Fatalf("Create: %v", err)
	}
	cacheDir := filepath.Join(dir, "uncompressed-objects-cache")
	if info, err := os.Stat(cacheDir); err != nil || !info.IsDir() {
		t.Fatalf("expected uncompressed-objects-cache directory to exist: %v", err)
	}
}

func TestOpenParentChain(t *testing.T) {
	parentDir := t.TempDir()
	if _, err := Create(parentDir, mode.Bare); err != nil {
		t.Fatalf("create parent: %v", err)
	}

	childDir := t.TempDir()
	if _, err := Create(childDir, mode.Bare); err != nil {
		t.Fatalf("create child: %v", err)
	}
	child, err := Open(childDir)
	if err != nil {
		t.Fatalf("open child: %v", err)
	}
	child.config.SetString("core", "parent", parentDir)
	if err := writeConfigFile(childDir, child.config); err != nil {
		t.Fatalf("write child config: %v", err)
	}

	reopened, err := Open(childDir)
	if err != nil {
		t.Fatalf("reopen child with parent: %v", err)
	}
	if reopened.Parent == nil {
		t.Fatal("expected Parent to be set")
	}
	wantAbs, err := filepath.Abs(parentDir)
	if err != nil {
		t.Fatalf("abs: %v", err)
	}
	if reopened.Parent.Dir != wantAbs {
		t.Fatalf("Parent.Dir = %s, want %s", reopened.Parent.Dir, wantAbs)
	}
}

func TestOpenDetectsParentCycle(t *testing.T) {
	dir := t.TempDir()
	if _, err := Create(dir, mode.Bare); err != nil {
		t.Fatalf("create: %v", err)
	}
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	r.config.SetString("core", "parent", dir)
	if err := writeConfigFile(dir, r.config); err != nil {
		t.Fatalf("write config: %v", err)
	}

	if _, err := Open(dir); err == nil {
		t.Fatal("Open with self-referential parent = nil error, want cycle error")
	}
}

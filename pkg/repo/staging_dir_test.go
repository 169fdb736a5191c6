package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
)

func TestAllocateStagingCreatesAndLocksDir(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	staging, reused, err := r.AllocateStaging()
	if err != nil {
		t.Fatalf("AllocateStaging: %v", err)
	}
	defer staging.Close()
	if reused {
		t.Fatal("first allocation reported reused = true, want false")
	}
	if info, err := os.Stat(staging.Path); err != nil || !info.IsDir() {
		t.Fatalf("staging.Path does not exist as a directory: %v", err)
	}
}

func TestAllocateStagingReusesUnlockedDir(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	first, _, err := r.AllocateStaging()
	if err != nil {
		t.Fatalf("first AllocateStaging: %v", err)
	}
	firstPath := first.Path
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, reused, err := r.AllocateStaging()
	if err != nil {
		t.Fatalf("second AllocateStaging: %v", err)
	}
	defer second.Close()
	if !reused {
		t.Fatal("expected the released directory to be reused")
	}
	if second.Path != firstPath {
		t.Fatalf("reused path = %s, want %s", second.Path, firstPath)
	}
}

func TestAllocateStagingSkipsHeldLock(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "test-boot")
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	held, _, err := r.AllocateStaging()
	if err != nil {
		t.Fatalf("first AllocateStaging: %v", err)
	}
	defer held.Close()

	second, reused, err := r.AllocateStaging()
	if err != nil {
		t.Fatalf("second AllocateStaging: %v", err)
	}
	defer second.Close()
	if reused {
		t.Fatal("expected a fresh directory since the first is still locked")
	}
	if second.Path == held.Path {
		t.Fatal("second allocation returned the still-locked directory")
	}
}

func TestSweepStaleStagingRemovesOtherBootDirs(t *testing.T) {
	t.Setenv("OSTREE_BOOTID", "old-boot")
	dir := t.TempDir()
	if _, err := Create(dir, mode.Bare); err != nil {
		t.Fatalf("Create: %v", err)
	}
	r, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	staging, _, err := r.AllocateStaging()
	if err != nil {
		t.Fatalf("AllocateStaging: %v", err)
	}
	stalePath := staging.Path
	if err := staging.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	t.Setenv("OSTREE_BOOTID", "new-boot")
	if err := sweepStaleStaging(r); err != nil {
		t.Fatalf("sweepStaleStaging: %v", err)
	}
	if _, err := os.Stat(stalePath); !os.IsNotExist(err) {
		t.Fatalf("expected stale staging dir to be removed, stat err = %v", err)
	}
}

func TestEnsureTmpLayout(t *testing.T) {
	dir := t.TempDir()
	if err := ensureTmpLayout(dir); err != nil {
		t.Fatalf("ensureTmpLayout: %v", err)
	}
	if info, err := os.Stat(filepath.Join(dir, "tmp", "cache")); err != nil || !info.IsDir() {
		t.Fatalf("expected tmp/cache to exist: %v", err)
	}
}

func TestTestErrorPreCommit(t *testing.T) {
	t.Setenv("OSTREE_REPO_TEST_ERROR", "")
	if testErrorPreCommit() {
		t.Fatal("testErrorPreCommit() = true with no env set, want false")
	}
	t.Setenv("OSTREE_REPO_TEST_ERROR", "pre-commit")
	if !testErrorPreCommit() {
		t.Fatal("testErrorPreCommit() = false with OSTREE_REPO_TEST_ERROR=pre-commit, want true")
	}
}

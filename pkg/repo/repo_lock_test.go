package repo

import (
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
)

func TestTryLockReportsHeldLock(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	l1, err := r.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	defer l1.Unlock()

	l2, ok, err := r.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if ok {
		l2.Unlock()
		t.Fatal("TryLock succeeded while the lock was already held")
	}
	if l2 != nil {
		t.Fatal("TryLock returned a non-nil lock alongside ok=false")
	}
}

func TestTryLockSucceedsWhenFree(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	l, ok, err := r.TryLock()
	if err != nil {
		t.Fatalf("TryLock: %v", err)
	}
	if !ok || l == nil {
		t.Fatal("TryLock on a free repo should succeed")
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
}

func TestUnlockReleasesLockForNextAcquirer(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	l1, err := r.Lock()
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	if err := l1.Unlock(); err != nil {
		t.Fatalf("Unlock: %v", err)
	}

	l2, ok, err := r.TryLock()
	if err != nil {
		t.Fatalf("TryLock after unlock: %v", err)
	}
	if !ok {
		t.Fatal("TryLock failed after the prior holder unlocked")
	}
	if err := l2.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}

func TestUnlockIsSafeOnNilLock(t *testing.T) {
	var l *RepoLock
	if err := l.Unlock(); err != nil {
		t.Fatalf("Unlock on nil *RepoLock = %v, want nil", err)
	}
}

func TestUnlockIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	l, err := r.Lock()
	if err != nil {
		t.Fatalf("Lock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("first Unlock: %v", err)
	}
	if err := l.Unlock(); err != nil {
		t.Fatalf("second Unlock: %v", err)
	}
}

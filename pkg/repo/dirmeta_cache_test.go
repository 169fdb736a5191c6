package repo

import (
	"testing"

	"github.com/opentree-fs/ostree-core/pkg/mode"
	"github.com/opentree-fs/ostree-core/pkg/object"
)

func TestDirmetaCacheReservationLifecycle(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	dm := &object.DirMeta{UID: 1000, GID: 1000, Mode: 0o755}
	sum, err := r.WriteDirMeta(dm)
	if err != nil {
		t.Fatalf("WriteDirMeta: %v", err)
	}

	res := r.ReserveDirmetaCache()
	if r.dirmeta == nil {
		t.Fatal("expected dirmeta cache to be allocated after reservation")
	}

	if _, ok := r.lookupDirmeta(sum); ok {
		t.Fatal("lookupDirmeta on an empty cache returned a hit")
	}

	loaded, err := r.LoadDirMeta(sum)
	if err != nil {
		t.Fatalf("LoadDirMeta: %v", err)
	}
	if loaded.UID != dm.UID {
		t.Fatalf("loaded.UID = %d, want %d", loaded.UID, dm.UID)
	}

	if cached, ok := r.lookupDirmeta(sum); !ok || cached.UID != dm.UID {
		t.Fatal("expected LoadDirMeta to populate the cache")
	}

	res.Release()
	if r.dirmeta != nil {
		t.Fatal("expected dirmeta cache to be freed once refcount drops to 0")
	}
}

func TestDirmetaCacheNestedReservations(t *testing.T) {
	dir := t.TempDir()
	r, err := Create(dir, mode.Bare)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	res1 := r.ReserveDirmetaCache()
	res2 := r.ReserveDirmetaCache()
	if r.dirmeta == nil {
		t.Fatal("expected cache allocated")
	}

	res1.Release()
	if r.dirmeta == nil {
		t.Fatal("cache freed too early: one reservation still held")
	}

	res2.Release()
	if r.dirmeta != nil {
		t.Fatal("expected cache freed once both reservations released")
	}
}
